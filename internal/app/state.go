// Package app wires the buffer, scheduler, session and classifier into the
// labeling engine and exposes the operator actions.
package app

import (
	"context"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"ocr-labeler/internal/buffer"
	"ocr-labeler/internal/classify"
	"ocr-labeler/internal/dataset"
	perr "ocr-labeler/internal/errors"
	"ocr-labeler/internal/scheduler"
	"ocr-labeler/internal/session"

	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is how often the advisory label is recomputed.
const DefaultRefreshInterval = 200 * time.Millisecond

// DefaultBufferTextFile is where SaveBufferText writes when no path is set.
const DefaultBufferTextFile = "output_ocr_text.txt"

// displayLimit is the longest attempts string shown before truncation.
const displayLimit = 100

// Deps are the collaborators a State is built from.
type Deps struct {
	Recognizer scheduler.Recognizer
	Store      dataset.Store
	Classifier classify.Classifier
	Log        zerolog.Logger

	// RecognizeTimeout bounds each recognition call; zero means none.
	RecognizeTimeout time.Duration
	BufferTextPath   string

	// SessionOptions are passed to the session, mainly for tests.
	SessionOptions []session.Option
}

// Snapshot is a consistent-enough view of the engine for display.
type Snapshot struct {
	Buffer          string          `json:"buffer"`
	BufferEntries   []buffer.Entry  `json:"buffer_entries"`
	Attempts        []string        `json:"attempts"`
	AttemptsDisplay string          `json:"attempts_display"`
	Label           string          `json:"label"`
	State           session.State   `json:"state"`
	Scheduler       scheduler.Stats `json:"scheduler"`
}

// State is the labeling engine. Frames enter through OnFrame from the capture
// goroutine; everything else is driven by the operator.
type State struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	label     string

	buf        *buffer.Aggregator
	sched      *scheduler.Scheduler
	sess       *session.Session
	classifier *classify.Cached
	store      dataset.Store
	log        zerolog.Logger

	bufferTextPath string

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewState builds an engine from d. Recognizer and Store are required.
func NewState(d Deps) (*State, error) {
	if d.Recognizer == nil {
		return nil, perr.Invalidf("app: recognizer is required")
	}
	if d.Store == nil {
		return nil, perr.Invalidf("app: store is required")
	}
	if d.Classifier == nil {
		d.Classifier = classify.NewKeyword(nil)
	}
	if d.BufferTextPath == "" {
		d.BufferTextPath = DefaultBufferTextFile
	}

	buf := buffer.New()
	ctx, cancel := context.WithCancel(context.Background())
	schedOpts := []scheduler.Option{scheduler.WithLogger(d.Log.With().Str("component", "scheduler").Logger())}
	if d.RecognizeTimeout > 0 {
		schedOpts = append(schedOpts, scheduler.WithTimeout(d.RecognizeTimeout))
	}
	sessOpts := append([]session.Option{session.WithLogger(d.Log.With().Str("component", "session").Logger())}, d.SessionOptions...)

	return &State{
		listeners:      make(map[EventType][]EventListener),
		label:          classify.NoDataLabel,
		buf:            buf,
		sched:          scheduler.New(d.Recognizer, buf, schedOpts...),
		sess:           session.New(buf, d.Store, sessOpts...),
		classifier:     classify.NewCached(d.Classifier, d.Log.With().Str("component", "classifier").Logger()),
		store:          d.Store,
		log:            d.Log,
		bufferTextPath: d.BufferTextPath,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// OnFrame offers a frame for recognition and reports whether it was taken.
// Frames arriving while a recognition is running, or after Close, are dropped.
func (s *State) OnFrame(img image.Image) bool {
	if s.closed.Load() {
		return false
	}
	return s.sched.Submit(s.ctx, img)
}

// Refresh recomputes the advisory label from the committed attempts and
// returns it. Classifier failures keep the previous label.
func (s *State) Refresh(ctx context.Context) string {
	label, _ := s.classifier.Classify(ctx, s.sess.Combined())

	s.mu.Lock()
	changed := label != s.label
	s.label = label
	s.mu.Unlock()

	if changed {
		s.Emit(EventLabelChanged, label)
	}
	return label
}

// RunRefresh calls Refresh every interval until ctx is done.
func (s *State) RunRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Label returns the last computed advisory label.
func (s *State) Label() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.label
}

// Snapshot returns the current buffer, attempts, label and scheduler stats.
func (s *State) Snapshot() Snapshot {
	attempts := s.sess.Attempts()
	entries := s.buf.Entries()
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	st := session.Empty
	if len(attempts) > 0 {
		st = session.HasAttempts
	}
	return Snapshot{
		Buffer:          strings.Join(texts, " "),
		BufferEntries:   entries,
		Attempts:        attempts,
		AttemptsDisplay: truncate(strings.Join(attempts, " "), displayLimit),
		Label:           s.Label(),
		State:           st,
		Scheduler:       s.sched.Stats(),
	}
}

// AddAttempt commits the buffer consensus as an attempt.
func (s *State) AddAttempt() (string, error) {
	text, err := s.sess.AddAttempt()
	if err != nil {
		return "", err
	}
	s.Emit(EventAttemptAdded, text)
	return text, nil
}

// DiscardBuffer clears the live buffer and reports whether it had content.
func (s *State) DiscardBuffer() bool {
	cleared := s.sess.DiscardBuffer()
	if cleared {
		s.Emit(EventBufferCleared, nil)
	}
	return cleared
}

// Finalize saves the current item with meta. On success the advisory label
// starts over for the next item.
func (s *State) Finalize(ctx context.Context, meta dataset.Metadata) (dataset.ItemRecord, error) {
	rec, err := s.sess.Finalize(ctx, meta)
	if err != nil {
		return rec, err
	}
	s.classifier.Reset()
	s.mu.Lock()
	s.label = classify.NoDataLabel
	s.mu.Unlock()
	s.Emit(EventItemFinalized, rec)
	return rec, nil
}

// SaveBufferText writes the live buffer consensus to the configured text file
// and returns its path.
func (s *State) SaveBufferText() (string, error) {
	if err := dataset.WriteBufferText(s.bufferTextPath, s.buf.Consensus()); err != nil {
		return "", err
	}
	s.log.Info().Str("path", s.bufferTextPath).Msg("live buffer saved")
	s.Emit(EventBufferSaved, s.bufferTextPath)
	return s.bufferTextPath, nil
}

// Records loads the saved dataset.
func (s *State) Records(ctx context.Context) ([]dataset.ItemRecord, error) {
	return s.store.Load(ctx)
}

// Close stops taking frames and waits for the in-flight recognition, bounded
// by ctx. With flush a non-empty buffer is committed as a final attempt,
// otherwise it is discarded. Attempts are kept in memory either way; nothing
// is written to the store. The frame source must be stopped first.
func (s *State) Close(ctx context.Context, flush bool) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.sched.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn().Msg("recognition still running at shutdown")
	}
	s.cancel()

	if flush {
		if s.sess.Flush() {
			s.log.Info().Strs("attempts", s.sess.Attempts()).Msg("buffer committed at shutdown")
		}
	} else if s.sess.DiscardBuffer() {
		s.log.Info().Msg("buffer discarded at shutdown")
	}
	if n := len(s.sess.Attempts()); n > 0 {
		s.log.Warn().Int("attempts", n).Msg("unsaved attempts at shutdown")
	}
	return err
}

// truncate shortens s to limit runes, ending in "..." when cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
