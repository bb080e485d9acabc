// Package buffer accumulates text detections across frames and ranks them
// into a consensus string.
//
// Text seen in more frames wins over text seen once at high confidence;
// confidence only breaks ties between equally frequent candidates, and
// first-seen order breaks the rest.
package buffer

import (
	"image"
	"sort"
	"strings"
	"sync"
)

// Detection is one recognized text fragment from one frame.
type Detection struct {
	Text       string
	Confidence float64 // 0..1
	Bounds     image.Rectangle
}

// Entry is the aggregate for one distinct text since the last reset.
type Entry struct {
	Text           string  `json:"text"`
	Frequency      int     `json:"frequency"`
	BestConfidence float64 `json:"best_confidence"`
}

// Aggregator is the live buffer. All methods are safe for concurrent use;
// the producer ingests while the controller reads and resets.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // first-seen order
	epoch   uint64   // bumped by every reset
}

// Mark records what a Snapshot saw so that exactly those detections can be
// released later.
type Mark struct {
	epoch uint64
	freq  map[string]int
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{entries: make(map[string]*Entry)}
}

// Ingest folds one frame's detections into the table. Blank texts are skipped.
func (a *Aggregator) Ingest(dets []Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range dets {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		e, ok := a.entries[text]
		if !ok {
			e = &Entry{Text: text, BestConfidence: d.Confidence}
			a.entries[text] = e
			a.order = append(a.order, text)
		}
		e.Frequency++
		if d.Confidence > e.BestConfidence {
			e.BestConfidence = d.Confidence
		}
	}
}

// Consensus returns the ranked distinct texts joined by spaces, or "" when empty.
func (a *Aggregator) Consensus() string {
	return join(a.Entries())
}

// Entries returns a ranked copy of the table.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rankedLocked()
}

// Take returns the consensus and clears the buffer under one lock hold, so a
// concurrent Ingest lands either in the returned text or in the buffer.
func (a *Aggregator) Take() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := join(a.rankedLocked())
	a.resetLocked()
	return text
}

// Snapshot returns the consensus without clearing it, plus a Mark that
// Release uses to drop exactly the detections the snapshot covered.
func (a *Aggregator) Snapshot() (string, Mark) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ranked := a.rankedLocked()
	m := Mark{epoch: a.epoch, freq: make(map[string]int, len(ranked))}
	for _, e := range ranked {
		m.freq[e.Text] = e.Frequency
	}
	return join(ranked), m
}

// Release subtracts the detections recorded in m. Text ingested after the
// snapshot stays. A Mark taken before the last Reset is ignored.
func (a *Aggregator) Release(m Mark) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.epoch != a.epoch || len(m.freq) == 0 {
		return
	}
	for text, n := range m.freq {
		e, ok := a.entries[text]
		if !ok {
			continue
		}
		e.Frequency -= n
		if e.Frequency <= 0 {
			delete(a.entries, text)
		}
	}
	kept := a.order[:0]
	for _, text := range a.order {
		if _, ok := a.entries[text]; ok {
			kept = append(kept, text)
		}
	}
	a.order = kept
}

func (a *Aggregator) rankedLocked() []Entry {
	out := make([]Entry, len(a.order))
	for i, text := range a.order {
		out[i] = *a.entries[text]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].BestConfidence > out[j].BestConfidence
	})
	return out
}

func join(ranked []Entry) string {
	if len(ranked) == 0 {
		return ""
	}
	texts := make([]string, len(ranked))
	for i, e := range ranked {
		texts[i] = e.Text
	}
	return strings.Join(texts, " ")
}

// Empty reports whether nothing has been detected since the last reset.
func (a *Aggregator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order) == 0
}

// Len returns the number of distinct texts in the buffer.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Reset clears the buffer. Already committed attempts are unaffected.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.entries = make(map[string]*Entry)
	a.order = nil
	a.epoch++
}
