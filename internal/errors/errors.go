// Package errors provides the labeler's structured error type.
//
// Import it as perr to avoid shadowing the standard library package.
package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures for callers and the HTTP surface.
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeRecognitionFailure is a failed recognition call; never fatal
	ErrorCodeRecognitionFailure

	// ErrorCodeNoBufferContent means the live buffer had nothing to commit
	ErrorCodeNoBufferContent

	// ErrorCodeNoAttempts means finalize found no attempts even after flushing
	ErrorCodeNoAttempts

	// ErrorCodeMissingMetadata means a required item field was blank
	ErrorCodeMissingMetadata

	// ErrorCodeCorruptStore means the dataset could not be parsed; nothing was written
	ErrorCodeCorruptStore

	// ErrorCodeIOFailure is a filesystem or driver error; nothing was written
	ErrorCodeIOFailure

	// ErrorCodeInvalid is for malformed requests and configuration
	ErrorCodeInvalid
)

var codeNames = map[ErrorCode]string{
	ErrorCodeUnknown:            "unknown",
	ErrorCodeRecognitionFailure: "recognition_failure",
	ErrorCodeNoBufferContent:    "no_buffer_content",
	ErrorCodeNoAttempts:         "no_attempts",
	ErrorCodeMissingMetadata:    "missing_metadata",
	ErrorCodeCorruptStore:       "corrupt_store",
	ErrorCodeIOFailure:          "io_failure",
	ErrorCodeInvalid:            "invalid",
}

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return codeNames[ErrorCodeUnknown]
}

// MarshalText lets codes render by name in JSON and logs.
func (c ErrorCode) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses a code name; unknown names decode as ErrorCodeUnknown.
func (c *ErrorCode) UnmarshalText(b []byte) error {
	*c = ErrorCodeUnknown
	for code, name := range codeNames {
		if name == string(b) {
			*c = code
			break
		}
	}
	return nil
}

// HTTPStatusCode maps an ErrorCode to an HTTP status.
func HTTPStatusCode(c ErrorCode) int {
	switch c {
	case ErrorCodeNoBufferContent, ErrorCodeNoAttempts:
		return http.StatusConflict
	case ErrorCodeMissingMetadata:
		return http.StatusUnprocessableEntity
	case ErrorCodeInvalid:
		return http.StatusBadRequest
	case ErrorCodeRecognitionFailure:
		return http.StatusBadGateway
	case ErrorCodeCorruptStore, ErrorCodeIOFailure, ErrorCodeUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a code, a human message, an optional field and op, and the cause.
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
}

// Wire is the JSON form returned by the API.
type Wire struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.msg
	if e.op != "" {
		msg = e.op + ": " + msg
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", msg, e.orig)
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Field returns the offending field, if any.
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set.
func (e *Error) Op() string { return e.op }

// ToWire converts e to its JSON payload.
func (e *Error) ToWire() Wire { return Wire{Code: e.code, Message: e.msg, Field: e.field} }

// WireFrom converts any error into a Wire payload.
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: ErrorCodeUnknown, Message: err.Error()}
}

// As unwraps and returns (*Error, true) if err is one of ours.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf extracts the ErrorCode from any error, defaulting to Unknown.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool { return err != nil && CodeOf(err) == code }

// HTTP returns the status and payload for err.
func HTTP(err error) (int, Wire) {
	if err == nil {
		return http.StatusOK, Wire{}
	}
	return HTTPStatusCode(CodeOf(err)), WireFrom(err)
}

// New returns an *Error with code and message.
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns an *Error with code and formatted message.
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns an *Error wrapping orig.
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns an *Error wrapping orig with a formatted message.
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WithField attaches a field (copy-on-write). Foreign errors pass through.
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label (copy-on-write). Foreign errors pass through.
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// Sentinels for errors.Is comparisons on code.
var (
	ErrNoBufferContent = New(ErrorCodeNoBufferContent, "no OCR text in the live buffer")
	ErrNoAttempts      = New(ErrorCodeNoAttempts, "no OCR data collected for this item")
)

// Is matches any *Error with the same code, so errors.Is(err, ErrNoAttempts) works
// on wrapped and field-annotated copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// MissingMetadataf returns a MissingMetadata error for field.
func MissingMetadataf(field, format string, a ...any) error {
	return &Error{code: ErrorCodeMissingMetadata, msg: fmt.Sprintf(format, a...), field: field}
}

// CorruptStoref wraps a parse failure of the dataset store.
func CorruptStoref(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeCorruptStore, format, a...)
}

// IOFailuref wraps a filesystem or driver failure.
func IOFailuref(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeIOFailure, format, a...)
}

// Recognitionf wraps a recognition failure.
func Recognitionf(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeRecognitionFailure, format, a...)
}

// Invalidf returns an Invalid error.
func Invalidf(format string, a ...any) error { return Newf(ErrorCodeInvalid, format, a...) }
