package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"ocr-labeler/internal/app"
	"ocr-labeler/internal/buffer"
	"ocr-labeler/internal/dataset"
	perr "ocr-labeler/internal/errors"
	"ocr-labeler/internal/logger"
	"ocr-labeler/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	snap        app.Snapshot
	attemptErr  error
	cleared     bool
	savePath    string
	saveErr     error
	finalizeErr error
	gotMeta     dataset.Metadata
	records     []dataset.ItemRecord
	loadErr     error
}

func (f *fakeEngine) Snapshot() app.Snapshot { return f.snap }

func (f *fakeEngine) AddAttempt() (string, error) {
	if f.attemptErr != nil {
		return "", f.attemptErr
	}
	f.snap.Attempts = append(f.snap.Attempts, "APPLE")
	return "APPLE", nil
}

func (f *fakeEngine) DiscardBuffer() bool { return f.cleared }

func (f *fakeEngine) SaveBufferText() (string, error) { return f.savePath, f.saveErr }

func (f *fakeEngine) Finalize(_ context.Context, meta dataset.Metadata) (dataset.ItemRecord, error) {
	f.gotMeta = meta
	if f.finalizeErr != nil {
		return dataset.ItemRecord{}, f.finalizeErr
	}
	return dataset.ItemRecord{ID: "r1", ItemName: meta.ItemName, OCRTextList: []string{"APPLE"}}, nil
}

func (f *fakeEngine) Records(context.Context) ([]dataset.ItemRecord, error) {
	return f.records, f.loadErr
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Error      *perr.Wire      `json:"error"`
	Data       json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func newTestServer(e Engine) http.Handler {
	return NewServer(e, Options{Log: logger.Nop()}).Handler()
}

func TestHealth(t *testing.T) {
	rr, _ := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestStatus(t *testing.T) {
	e := &fakeEngine{snap: app.Snapshot{Buffer: "APPLE aapl", Label: "Apple (Red)"}}
	rr, env := do(t, newTestServer(e), http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "APPLE aapl", data["buffer"])
	assert.Equal(t, "Apple (Red)", data["label"])
	assert.Equal(t, "empty", data["state"])
	assert.Contains(t, data, "version")
	assert.Contains(t, data, "scheduler")
}

func TestAddAttempt(t *testing.T) {
	e := &fakeEngine{}
	h := newTestServer(e)

	rr, env := do(t, h, http.MethodPost, "/v1/attempts", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"attempt":"APPLE","attempts":["APPLE"]}`, string(env.Data))

	e.attemptErr = perr.WithOp(perr.ErrNoBufferContent, "add attempt")
	rr, env = do(t, h, http.MethodPost, "/v1/attempts", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, perr.ErrorCodeNoBufferContent, env.Error.Code)
}

func TestDiscardBuffer(t *testing.T) {
	rr, env := do(t, newTestServer(&fakeEngine{cleared: true}), http.MethodDelete, "/v1/buffer", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"cleared":true}`, string(env.Data))

	_, env = do(t, newTestServer(&fakeEngine{}), http.MethodDelete, "/v1/buffer", "")
	assert.JSONEq(t, `{"cleared":false}`, string(env.Data))
}

func TestSaveBuffer(t *testing.T) {
	rr, env := do(t, newTestServer(&fakeEngine{savePath: "out.txt"}), http.MethodPost, "/v1/buffer/save", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"path":"out.txt"}`, string(env.Data))

	rr, _ = do(t, newTestServer(&fakeEngine{saveErr: perr.ErrNoBufferContent}), http.MethodPost, "/v1/buffer/save", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestFinalize(t *testing.T) {
	body := `{"company_name":"Orchard","item_name":"Apple","category":"Fruit","storage_recommendation":"Cold Storage"}`

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  perr.ErrorCode
		field    string
	}{
		{name: "ok", body: body, wantCode: http.StatusCreated},
		{name: "empty body", body: "", wantCode: http.StatusBadRequest, wantErr: perr.ErrorCodeInvalid},
		{name: "bad json", body: `{"item_name":`, wantCode: http.StatusBadRequest, wantErr: perr.ErrorCodeInvalid},
		{name: "unknown field", body: `{"colour":"red"}`, wantCode: http.StatusBadRequest, wantErr: perr.ErrorCodeInvalid},
		{
			name: "missing metadata", body: body,
			err:      perr.MissingMetadataf("category", "category is required"),
			wantCode: http.StatusUnprocessableEntity, wantErr: perr.ErrorCodeMissingMetadata, field: "category",
		},
		{name: "no attempts", body: body, err: perr.ErrNoAttempts, wantCode: http.StatusConflict, wantErr: perr.ErrorCodeNoAttempts},
		{name: "corrupt", body: body, err: perr.CorruptStoref(nil, "bad file"), wantCode: http.StatusInternalServerError, wantErr: perr.ErrorCodeCorruptStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &fakeEngine{finalizeErr: tt.err}
			rr, env := do(t, newTestServer(e), http.MethodPost, "/v1/items", tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			if tt.wantErr == 0 {
				assert.Nil(t, env.Error)
				assert.Equal(t, "Apple", e.gotMeta.ItemName)
				return
			}
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantErr, env.Error.Code)
			assert.Equal(t, tt.field, env.Error.Field)
		})
	}
}

func TestListItems(t *testing.T) {
	rr, env := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/v1/items", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	rr, _ = do(t, newTestServer(&fakeEngine{loadErr: perr.IOFailuref(nil, "disk")}), http.MethodGet, "/v1/items", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestStorageRecommendations(t *testing.T) {
	_, env := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/v1/storage-recommendations", "")
	var got []string
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, dataset.StorageRecommendations, got)
}

func TestCORS(t *testing.T) {
	h := NewServer(&fakeEngine{}, Options{Log: logger.Nop(), CORSOrigins: []string{"http://panel.local"}}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/v1/status", nil)
	req.Header.Set("Origin", "http://panel.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "http://panel.local", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestEndToEndWithEngine(t *testing.T) {
	rec := scheduler.RecognizerFunc(func(context.Context, image.Image) ([]buffer.Detection, error) {
		return []buffer.Detection{{Text: "BANANA", Confidence: 0.9}}, nil
	})
	store := dataset.OpenJSON(filepath.Join(t.TempDir(), dataset.DefaultFile))
	state, err := app.NewState(app.Deps{Recognizer: rec, Store: store, Log: logger.Nop()})
	require.NoError(t, err)
	h := newTestServer(state)

	require.True(t, state.OnFrame(image.NewGray(image.Rect(0, 0, 2, 2))))
	require.Eventually(t, func() bool { return state.Snapshot().Buffer == "BANANA" }, 2*time.Second, 5*time.Millisecond)

	rr, _ := do(t, h, http.MethodPost, "/v1/attempts", "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, env := do(t, h, http.MethodPost, "/v1/items",
		`{"company_name":"Chiquita","item_name":"Banana","category":"Fruit","storage_recommendation":"Dry Storage"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var saved dataset.ItemRecord
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	assert.Equal(t, []string{"BANANA"}, saved.OCRTextList)

	_, env = do(t, h, http.MethodGet, "/v1/items", "")
	var list []dataset.ItemRecord
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, saved.ID, list[0].ID)

	require.NoError(t, state.Close(context.Background(), false))
}
