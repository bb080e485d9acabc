package buffer

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsensusScenario(t *testing.T) {
	a := New()
	a.Ingest([]Detection{{Text: "APPLE", Confidence: 0.9}})
	a.Ingest([]Detection{{Text: "APPLE", Confidence: 0.95}, {Text: "aapl", Confidence: 0.4}})

	assert.Equal(t, "APPLE aapl", a.Consensus())

	entries := a.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Text: "APPLE", Frequency: 2, BestConfidence: 0.95}, entries[0])
	assert.Equal(t, Entry{Text: "aapl", Frequency: 1, BestConfidence: 0.4}, entries[1])
}

func TestConsensusOrdering(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]Detection
		want   string
	}{
		{
			name: "empty",
			want: "",
		},
		{
			name:   "frequency beats confidence",
			frames: [][]Detection{{{Text: "low", Confidence: 0.1}, {Text: "high", Confidence: 0.99}}, {{Text: "low", Confidence: 0.2}}},
			want:   "low high",
		},
		{
			name:   "confidence breaks frequency ties",
			frames: [][]Detection{{{Text: "a", Confidence: 0.5}, {Text: "b", Confidence: 0.7}}},
			want:   "b a",
		},
		{
			name:   "first seen breaks full ties",
			frames: [][]Detection{{{Text: "z", Confidence: 0.5}}, {{Text: "y", Confidence: 0.5}}, {{Text: "x", Confidence: 0.5}}},
			want:   "z y x",
		},
		{
			name:   "blank and padded text",
			frames: [][]Detection{{{Text: "  ", Confidence: 0.9}, {Text: " MILK ", Confidence: 0.6}, {Text: "MILK", Confidence: 0.3}}},
			want:   "MILK",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			for _, f := range tt.frames {
				a.Ingest(f)
			}
			assert.Equal(t, tt.want, a.Consensus())
			assert.Equal(t, tt.want == "", a.Empty())
		})
	}
}

// reference ranks detections the slow way for comparison.
func reference(frames [][]Detection) string {
	type agg struct {
		text  string
		freq  int
		best  float64
		first int
	}
	byText := map[string]*agg{}
	seen := 0
	for _, f := range frames {
		for _, d := range f {
			e, ok := byText[d.Text]
			if !ok {
				e = &agg{text: d.Text, best: d.Confidence, first: seen}
				byText[d.Text] = e
				seen++
			}
			e.freq++
			if d.Confidence > e.best {
				e.best = d.Confidence
			}
		}
	}
	list := make([]*agg, 0, len(byText))
	for _, e := range byText {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].freq != list[j].freq {
			return list[i].freq > list[j].freq
		}
		if list[i].best != list[j].best {
			return list[i].best > list[j].best
		}
		return list[i].first < list[j].first
	})
	texts := make([]string, len(list))
	for i, e := range list {
		texts[i] = e.text
	}
	return strings.Join(texts, " ")
}

func TestConsensusMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vocab := []string{"ACME", "BEANS", "400g", "B3ANS", "Acme", "net", "wt"}
	confs := []float64{0.2, 0.5, 0.5, 0.8, 0.95}

	for round := 0; round < 200; round++ {
		var frames [][]Detection
		for f := rng.Intn(8); f > 0; f-- {
			var frame []Detection
			for n := rng.Intn(5); n > 0; n-- {
				frame = append(frame, Detection{
					Text:       vocab[rng.Intn(len(vocab))],
					Confidence: confs[rng.Intn(len(confs))],
				})
			}
			frames = append(frames, frame)
		}

		a := New()
		for _, f := range frames {
			a.Ingest(f)
		}
		require.Equal(t, reference(frames), a.Consensus(), "round %d", round)
	}
}

func TestResetAlwaysEmpties(t *testing.T) {
	a := New()
	a.Reset()
	assert.Equal(t, "", a.Consensus())

	a.Ingest([]Detection{{Text: "ONE", Confidence: 1}})
	require.False(t, a.Empty())
	a.Reset()
	assert.Equal(t, "", a.Consensus())
	assert.True(t, a.Empty())
	assert.Zero(t, a.Len())

	a.Ingest([]Detection{{Text: "TWO", Confidence: 0.3}})
	assert.Equal(t, "TWO", a.Consensus())
	assert.Equal(t, 1, a.Entries()[0].Frequency)
}

func TestConcurrentIngestNoLostUpdates(t *testing.T) {
	a := New()
	const writers, perWriter = 8, 250

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				a.Ingest([]Detection{
					{Text: "SHARED", Confidence: 0.5},
					{Text: fmt.Sprintf("W%d", w), Confidence: 0.1},
				})
			}
		}(w)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
				_ = a.Consensus()
				_ = a.Entries()
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	entries := a.Entries()
	require.Len(t, entries, writers+1)
	assert.Equal(t, "SHARED", entries[0].Text)
	assert.Equal(t, writers*perWriter, entries[0].Frequency)
	for _, e := range entries[1:] {
		assert.Equal(t, perWriter, e.Frequency, e.Text)
	}
}

func TestTakeKeepsConcurrentIngest(t *testing.T) {
	a := New()
	const n = 5000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			a.Ingest([]Detection{{Text: fmt.Sprintf("T%d", i), Confidence: 0.5}})
		}
	}()

	seen := make(map[string]int)
	collect := func(text string) {
		for _, w := range strings.Fields(text) {
			seen[w]++
		}
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			collect(a.Take())
		}
	}
	collect(a.Take())

	assert.Len(t, seen, n)
	for w, c := range seen {
		assert.Equal(t, 1, c, w)
	}
	assert.True(t, a.Empty())
}

func TestSnapshotReleaseKeepsLaterText(t *testing.T) {
	a := New()
	a.Ingest([]Detection{{Text: "APPLE", Confidence: 0.9}, {Text: "FUJI", Confidence: 0.8}})

	text, mark := a.Snapshot()
	assert.Equal(t, "APPLE FUJI", text)
	assert.Equal(t, text, a.Consensus())

	a.Ingest([]Detection{{Text: "APPLE", Confidence: 0.7}, {Text: "LATE", Confidence: 0.6}})
	a.Release(mark)

	entries := a.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "APPLE", entries[0].Text)
	assert.Equal(t, 1, entries[0].Frequency)
	assert.Equal(t, "LATE", entries[1].Text)
}

func TestReleaseAfterResetIsIgnored(t *testing.T) {
	a := New()
	a.Ingest([]Detection{{Text: "APPLE", Confidence: 0.9}})
	_, mark := a.Snapshot()

	a.Reset()
	a.Ingest([]Detection{{Text: "APPLE", Confidence: 0.4}})
	a.Release(mark)
	assert.Equal(t, "APPLE", a.Consensus())

	_, mark = a.Snapshot()
	a.Release(mark)
	assert.True(t, a.Empty())
}
