// Package classify turns the combined OCR attempts of an item into a
// provisional display label. Labels are advisory only: nothing in the session
// lifecycle waits on them or depends on them.
package classify

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	perr "ocr-labeler/internal/errors"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// NoDataLabel is returned for empty input by every classifier.
const NoDataLabel = "No OCR collected for comparison yet"

// Classifier maps combined attempt text to a display label.
type Classifier interface {
	Classify(ctx context.Context, combined string) (string, error)
}

// Item is one catalog entry.
type Item struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Catalog is the list of known items plus the label used when none match.
type Catalog struct {
	Fallback string `yaml:"fallback"`
	// MinScore is the fuzzy match threshold in 0..1; 0 selects the default.
	MinScore float64 `yaml:"min_score"`
	Items    []Item  `yaml:"items"`
}

const defaultMinScore = 0.8

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Fallback: "Unidentified Item",
		Items: []Item{
			{ID: "ITEM001", Name: "Apple (Red)", Keywords: []string{"apple", "aapl"}},
			{ID: "ITEM002", Name: "Banana (Yellow)", Keywords: []string{"banana", "bana"}},
			{ID: "ITEM003", Name: "Orange (Citrus)", Keywords: []string{"orange", "orgn"}},
		},
	}
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.IOFailuref(err, "read catalog %s", path)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalid, "parse catalog %s", path)
	}
	if c.Fallback == "" {
		c.Fallback = "Unidentified Item"
	}
	for i, it := range c.Items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, perr.Invalidf("catalog %s: item %d has no name", path, i)
		}
	}
	return &c, nil
}

// KeywordClassifier matches catalog keywords in the text, falling back to a
// fuzzy per-word match for OCR-mangled keywords.
type KeywordClassifier struct {
	catalog atomic.Pointer[Catalog]
}

// NewKeyword returns a classifier over c (DefaultCatalog when nil).
func NewKeyword(c *Catalog) *KeywordClassifier {
	k := &KeywordClassifier{}
	k.SetCatalog(c)
	return k
}

// SetCatalog swaps the catalog; safe while Classify runs.
func (k *KeywordClassifier) SetCatalog(c *Catalog) {
	if c == nil {
		c = DefaultCatalog()
	}
	k.catalog.Store(c)
}

// Catalog returns the catalog in use.
func (k *KeywordClassifier) Catalog() *Catalog { return k.catalog.Load() }

// Classify implements Classifier. It never fails.
func (k *KeywordClassifier) Classify(_ context.Context, combined string) (string, error) {
	if strings.TrimSpace(combined) == "" {
		return NoDataLabel, nil
	}
	c := k.catalog.Load()
	lower := strings.ToLower(combined)

	for _, it := range c.Items {
		for _, kw := range it.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return it.Name, nil
			}
		}
	}

	minScore := c.MinScore
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	best, bestScore := "", 0.0
	for _, it := range c.Items {
		for _, kw := range it.Keywords {
			if s := BestWordSimilarity(combined, kw); s > bestScore {
				best, bestScore = it.Name, s
			}
		}
	}
	if bestScore >= minScore {
		return best, nil
	}
	return c.Fallback, nil
}

// Cached recomputes the label only when the input changes. When the inner
// classifier fails the previous label is kept and the failure logged.
type Cached struct {
	inner Classifier
	log   zerolog.Logger

	mu        sync.Mutex
	valid     bool
	lastInput string
	lastLabel string
}

// NewCached wraps inner.
func NewCached(inner Classifier, log zerolog.Logger) *Cached {
	return &Cached{inner: inner, log: log}
}

// Classify implements Classifier.
func (c *Cached) Classify(ctx context.Context, combined string) (string, error) {
	if strings.TrimSpace(combined) == "" {
		return NoDataLabel, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && combined == c.lastInput {
		return c.lastLabel, nil
	}

	label, err := c.inner.Classify(ctx, combined)
	if err != nil {
		c.log.Warn().Err(err).Msg("classifier failed, keeping previous label")
		if c.lastLabel == "" {
			return NoDataLabel, nil
		}
		return c.lastLabel, nil
	}
	c.valid, c.lastInput, c.lastLabel = true, combined, label
	return label, nil
}

// Reset forgets the cached label, e.g. after an item is finalized.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.valid, c.lastInput, c.lastLabel = false, "", ""
	c.mu.Unlock()
}
