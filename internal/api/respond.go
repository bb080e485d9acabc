package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	perr "ocr-labeler/internal/errors"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies; metadata is a handful of short strings.
const maxBodyBytes = 64 << 10

// Envelope is the response body of every /v1 endpoint.
type Envelope struct {
	StatusCode int        `json:"status_code"`
	Status     string     `json:"status"`
	Error      *perr.Wire `json:"error,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
	Data       any        `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, Envelope{
		StatusCode: status,
		Status:     http.StatusText(status),
		RequestID:  chimw.GetReqID(r.Context()),
		Data:       data,
	})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, wire := perr.HTTP(err)
	if wire.Message == "" {
		wire.Message = http.StatusText(status)
	}
	writeJSON(w, status, Envelope{
		StatusCode: status,
		Status:     http.StatusText(status),
		Error:      &wire,
		RequestID:  chimw.GetReqID(r.Context()),
	})
}

// decode reads a single JSON object from the body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return perr.Invalidf("request body is empty")
		}
		return perr.Wrapf(err, perr.ErrorCodeInvalid, "invalid JSON body: %v", err)
	}
	if dec.More() {
		return perr.Invalidf("request body must contain a single JSON object")
	}
	return nil
}
