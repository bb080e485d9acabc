// Package scheduler runs text recognition on camera frames with at most one
// call in flight. Frames that arrive while a call is running are dropped, not
// queued: recognition can be slower than the frame interval and a queue would
// make the analysis lag further and further behind what is on screen.
package scheduler

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"ocr-labeler/internal/buffer"
	perr "ocr-labeler/internal/errors"
	"ocr-labeler/internal/logger"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Recognizer turns one image into text detections. Implementations need not
// be safe for concurrent use; the scheduler never overlaps calls.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]buffer.Detection, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, img image.Image) ([]buffer.Detection, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) ([]buffer.Detection, error) {
	return f(ctx, img)
}

// Sink receives the detections of each completed call.
type Sink interface {
	Ingest([]buffer.Detection)
}

// latencyWindow bounds how many recent call durations feed the latency stats.
const latencyWindow = 64

// Stats is a point-in-time snapshot of scheduler activity.
type Stats struct {
	Busy          bool      `json:"busy"`
	Submitted     uint64    `json:"submitted"`
	Dropped       uint64    `json:"dropped"`
	Recognized    uint64    `json:"recognized"`
	Failures      uint64    `json:"failures"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitzero"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
	StdLatencyMs  float64   `json:"std_latency_ms"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for recognition failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithTimeout bounds each recognition call through its context. A recognizer
// that ignores the deadline still only delays later frames.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// Scheduler is the single-flight gate between frames and the buffer.
type Scheduler struct {
	rec     Recognizer
	sink    Sink
	log     zerolog.Logger
	timeout time.Duration

	busy atomic.Bool
	wg   sync.WaitGroup

	submitted  atomic.Uint64
	dropped    atomic.Uint64
	recognized atomic.Uint64
	failures   atomic.Uint64

	mu        sync.Mutex // guards the fields below
	latencies []float64
	next      int
	lastErr   string
	lastErrAt time.Time
}

// New returns an idle scheduler feeding sink from rec.
func New(rec Recognizer, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		rec:       rec,
		sink:      sink,
		log:       logger.Nop(),
		latencies: make([]float64, 0, latencyWindow),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit starts recognition of img unless a call is already running.
// It never blocks and reports whether the frame was taken.
func (s *Scheduler) Submit(ctx context.Context, img image.Image) bool {
	s.submitted.Add(1)
	if !s.busy.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		return false
	}
	s.wg.Add(1)
	go s.run(ctx, img)
	return true
}

func (s *Scheduler) run(ctx context.Context, img image.Image) {
	defer s.wg.Done()
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.fail(perr.Recognitionf(fmt.Errorf("panic: %v", r), "recognizer panicked"))
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	dets, err := s.rec.Recognize(ctx, img)
	s.observe(time.Since(start))
	if err != nil {
		s.fail(perr.Recognitionf(err, "recognize frame"))
		return
	}

	s.sink.Ingest(dets)
	s.recognized.Add(1)
}

func (s *Scheduler) fail(err error) {
	s.failures.Add(1)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.lastErrAt = time.Now()
	s.mu.Unlock()
	s.log.Warn().Err(err).Str("code", perr.CodeOf(err).String()).Msg("recognition failed, frame skipped")
}

func (s *Scheduler) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, ms)
		return
	}
	s.latencies[s.next] = ms
	s.next = (s.next + 1) % latencyWindow
}

// Busy reports whether a recognition call is in flight.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Wait blocks until the in-flight call, if any, has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Stats returns a snapshot of counters and recent latency.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Busy:       s.busy.Load(),
		Submitted:  s.submitted.Load(),
		Dropped:    s.dropped.Load(),
		Recognized: s.recognized.Load(),
		Failures:   s.failures.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.LastError = s.lastErr
	st.LastErrorAt = s.lastErrAt
	switch n := len(s.latencies); {
	case n == 1:
		st.MeanLatencyMs = s.latencies[0]
	case n > 1:
		st.MeanLatencyMs, st.StdLatencyMs = stat.MeanStdDev(s.latencies, nil)
	}
	return st
}
