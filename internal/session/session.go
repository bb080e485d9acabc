// Package session holds the attempts committed for the item currently being
// described and drives the buffer → attempt → finalize lifecycle.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"ocr-labeler/internal/buffer"
	"ocr-labeler/internal/dataset"
	perr "ocr-labeler/internal/errors"
	"ocr-labeler/internal/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the session state.
type State int

const (
	// Empty means no attempts are committed.
	Empty State = iota
	// HasAttempts means at least one attempt is committed.
	HasAttempts
)

func (s State) String() string {
	if s == HasAttempts {
		return "has_attempts"
	}
	return "empty"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// WithClock overrides the timestamp source for records.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithIDs overrides the record ID generator.
func WithIDs(newID func() string) Option { return func(s *Session) { s.newID = newID } }

// Session is the item session. It is driven from the controller; the mutex
// only keeps concurrent operator requests from interleaving.
type Session struct {
	buf   *buffer.Aggregator
	store dataset.Store
	log   zerolog.Logger
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	attempts []string
}

// New returns an empty session over buf persisting to store.
func New(buf *buffer.Aggregator, store dataset.Store, opts ...Option) *Session {
	s := &Session{
		buf:   buf,
		store: store,
		log:   logger.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State reports Empty or HasAttempts.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attempts) == 0 {
		return Empty
	}
	return HasAttempts
}

// Attempts returns a copy of the committed attempts in order.
func (s *Session) Attempts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attempts...)
}

// Combined returns the attempts joined by spaces, the classifier input.
func (s *Session) Combined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.attempts, " ")
}

// AddAttempt commits the current buffer consensus as a new attempt and clears
// the buffer. It fails with NoBufferContent when the buffer is empty.
func (s *Session) AddAttempt() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := s.buf.Take()
	if text == "" {
		return "", perr.WithOp(perr.ErrNoBufferContent, "add attempt")
	}
	s.attempts = append(s.attempts, text)
	s.log.Info().Int("attempt", len(s.attempts)).Str("text", text).Msg("attempt added")
	return text, nil
}

// DiscardBuffer clears the live buffer without touching the attempts and
// reports whether there was anything to clear.
func (s *Session) DiscardBuffer() bool {
	if s.buf.Empty() {
		return false
	}
	s.buf.Reset()
	s.log.Info().Msg("live buffer cleared")
	return true
}

// Finalize packages the attempts and meta into a record and appends it to the
// store. A non-empty buffer is included as a last attempt first so collected
// text is never lost.
//
// On success the attempts and the flushed detections are cleared; text
// ingested while the record was being written stays in the buffer for the
// next item. On any failure nothing changes, so a retry includes it again.
func (s *Session) Finalize(ctx context.Context, meta dataset.Metadata) (dataset.ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := append([]string(nil), s.attempts...)
	pending, mark := s.buf.Snapshot()
	if pending != "" {
		attempts = append(attempts, pending)
	}
	if len(attempts) == 0 {
		return dataset.ItemRecord{}, perr.WithOp(perr.ErrNoAttempts, "finalize")
	}

	meta, err := dataset.ValidateMetadata(meta)
	if err != nil {
		return dataset.ItemRecord{}, perr.WithOp(err, "finalize")
	}

	rec := dataset.ItemRecord{
		ID:                    s.newID(),
		CompanyName:           meta.CompanyName,
		ItemName:              meta.ItemName,
		Category:              meta.Category,
		StorageRecommendation: meta.StorageRecommendation,
		OCRTextList:           attempts,
		Timestamp:             s.now(),
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("item", rec.ItemName).Msg("item not saved, session kept for retry")
		return dataset.ItemRecord{}, perr.WithOp(err, "finalize")
	}

	s.attempts = nil
	s.buf.Release(mark)
	s.log.Info().Str("id", rec.ID).Str("item", rec.ItemName).Int("attempts", len(attempts)).Msg("item finalized")
	return rec, nil
}

// Discard drops the attempts and the buffer without saving.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = nil
	s.buf.Reset()
}

// Flush commits a non-empty buffer as an attempt and reports whether it did.
func (s *Session) Flush() bool {
	_, err := s.AddAttempt()
	return err == nil
}
