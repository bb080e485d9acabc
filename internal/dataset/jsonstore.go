package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	perr "ocr-labeler/internal/errors"
)

// JSONStore keeps the dataset as one indented JSON array in a UTF-8 file.
//
// Append is read-modify-write. The new content goes to a temp file in the
// same directory which is synced and renamed over the original, so a crash
// leaves either the old or the new array, never a truncated one.
type JSONStore struct {
	mu   sync.Mutex
	path string
}

// OpenJSON returns a store backed by path. The file need not exist yet.
func OpenJSON(path string) *JSONStore {
	if path == "" {
		path = DefaultFile
	}
	return &JSONStore{path: path}
}

// Path returns the backing file.
func (s *JSONStore) Path() string { return s.path }

// Load reads all records. A missing or blank file is an empty dataset.
func (s *JSONStore) Load(ctx context.Context) ([]ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *JSONStore) load() ([]ItemRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []ItemRecord{}, nil
	}
	if err != nil {
		return nil, perr.IOFailuref(err, "read %s", s.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []ItemRecord{}, nil
	}

	var records []ItemRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, perr.CorruptStoref(err, "could not read existing %s, file might be corrupted", s.path)
	}
	if records == nil {
		// literal "null"
		return nil, perr.CorruptStoref(nil, "%s does not hold a list of items", s.path)
	}
	return records, nil
}

// Append validates rec and writes the dataset with rec at the end.
func (s *JSONStore) Append(ctx context.Context, rec ItemRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return perr.IOFailuref(err, "append to %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records = append(records, rec)

	data, err := encodeJSON(records, "    ")
	if err != nil {
		return perr.IOFailuref(err, "encode dataset")
	}
	return writeAtomic(s.path, data)
}

// encodeJSON indents v and leaves <, > and & unescaped.
func encodeJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close is a no-op; the file is only open during Append.
func (s *JSONStore) Close() error { return nil }

// writeAtomic replaces path with data. A symlinked path is resolved so the
// link survives, and an existing file keeps its permission bits.
func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if target, err := filepath.EvalSymlinks(path); err == nil {
		path = target
		if fi, err := os.Stat(path); err == nil {
			mode = fi.Mode().Perm()
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return perr.IOFailuref(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return perr.IOFailuref(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return perr.IOFailuref(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return perr.IOFailuref(err, "sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return perr.IOFailuref(err, "close %s", tmpName)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return perr.IOFailuref(err, "chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return perr.IOFailuref(err, "replace %s", path)
	}
	committed = true
	return nil
}
