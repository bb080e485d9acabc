package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ocr-labeler/internal/logger"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("apple", "APPLE"))
	assert.Equal(t, 0.0, Similarity("", "APPLE"))
	assert.Equal(t, 0.0, Similarity("APPLE", "!!"))
	assert.Greater(t, Similarity("APPIE", "APPLE"), 0.6)
	assert.Less(t, Similarity("ZZZZ", "APPLE"), 0.2)
	assert.Greater(t, Similarity("APPIE", "APPLE"), Similarity("APE", "APPLE"))

	assert.Equal(t, 1.0, BestWordSimilarity("fresh APPLE 1kg", "apple"))
}

func TestLongestCommonSubsequence(t *testing.T) {
	assert.Equal(t, 0, longestCommonSubsequence("", "ABC"))
	assert.Equal(t, 3, longestCommonSubsequence("AXBXC", "ABC"))
	assert.Equal(t, 4, longestCommonSubsequence("BANANA", "BNAA"))
}

func TestKeywordClassifier(t *testing.T) {
	k := NewKeyword(nil)
	ctx := context.Background()

	tests := []struct {
		in   string
		want string
	}{
		{"", NoDataLabel},
		{"   ", NoDataLabel},
		{"APPLE aapl", "Apple (Red)"},
		{"fresh Bananas 6ct", "Banana (Yellow)"},
		{"ORGN juice", "Orange (Citrus)"},
		{"0RANGE juice", "Orange (Citrus)"},
		{"WD-40 lubricant", "Unidentified Item"},
	}
	for _, tt := range tests {
		got, err := k.Classify(ctx, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
items:
  - id: SKU-1
    name: Baked Beans 400g
    keywords: [beans, heinz]
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "Unidentified Item", c.Fallback)
	require.Len(t, c.Items, 1)

	got, _ := NewKeyword(c).Classify(context.Background(), "HEINZ 400g")
	assert.Equal(t, "Baked Beans 400g", got)

	require.NoError(t, os.WriteFile(path, []byte("items:\n  - id: X\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

type countingClassifier struct {
	calls atomic.Int32
	err   error
}

func (c *countingClassifier) Classify(_ context.Context, in string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "label:" + in, nil
}

func TestCached(t *testing.T) {
	inner := &countingClassifier{}
	c := NewCached(inner, logger.Nop())
	ctx := context.Background()

	got, _ := c.Classify(ctx, "")
	assert.Equal(t, NoDataLabel, got)

	for i := 0; i < 3; i++ {
		got, _ = c.Classify(ctx, "A")
		assert.Equal(t, "label:A", got)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	inner.err = errors.New("rate limited")
	got, err := c.Classify(ctx, "A B")
	require.NoError(t, err)
	assert.Equal(t, "label:A", got, "previous label survives a failure")

	c.Reset()
	got, _ = c.Classify(ctx, "A B")
	assert.Equal(t, NoDataLabel, got)
}

func TestLLMClassifier(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": " \"Apple (Red)\" "}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`)
	}))
	defer srv.Close()

	l := NewLLM("test-key", "claude-test", DefaultCatalog(),
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	got, err := l.Classify(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, NoDataLabel, got)

	got, err = l.Classify(context.Background(), "APPLE aapl")
	require.NoError(t, err)
	assert.Equal(t, "Apple (Red)", got)
	assert.Equal(t, "claude-test", body["model"])
	assert.Contains(t, toJSON(t, body["messages"]), "APPLE aapl")
	assert.Contains(t, toJSON(t, body["messages"]), "Banana (Yellow)")
}

func TestLLMClassifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"api_error","message":"down"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLLM("k", "m", nil, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := l.Classify(context.Background(), "APPLE")
	assert.Error(t, err)
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestWatcherReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("items:\n  - {id: A, name: Alpha, keywords: [alpha]}\n"), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	k := NewKeyword(c)

	w := NewWatcher(path, k, logger.Nop())
	w.debounce = 10 * time.Millisecond
	reloaded := make(chan *Catalog, 4)
	w.OnReload(func(c *Catalog) { reloaded <- c })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("items:\n  - {id: B, name: Beta, keywords: [beta]}\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, "Beta", c.Items[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	got, _ := k.Classify(context.Background(), "BETA")
	assert.Equal(t, "Beta", got)
}
