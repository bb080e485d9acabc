package classify

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a catalog file into a KeywordClassifier when it changes.
// The parent directory is watched rather than the file so that editors that
// save by rename are picked up too.
type Watcher struct {
	path     string
	target   *KeywordClassifier
	log      zerolog.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	done     sync.WaitGroup
	onReload func(*Catalog) // called from the watch goroutine
}

// NewWatcher prepares a watcher for path. Call Start to begin watching.
func NewWatcher(path string, target *KeywordClassifier, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		target:   target,
		log:      log,
		debounce: 100 * time.Millisecond,
	}
}

// OnReload sets a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Catalog)) { w.onReload = fn }

// Start begins watching in a background goroutine.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.done.Add(1)
	go w.watchLoop()
	return nil
}

// Stop stops watching and waits for the goroutine to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.done.Wait()
	w.watcher = nil
}

func (w *Watcher) watchLoop() {
	defer w.done.Done()

	var pending <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// coalesce the burst of events a single save produces
				pending = time.After(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("catalog watcher error")
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	c, err := LoadCatalog(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("catalog reload failed, keeping previous catalog")
		return
	}
	w.target.SetCatalog(c)
	w.log.Info().Str("path", w.path).Int("items", len(c.Items)).Msg("catalog reloaded")
	if w.onReload != nil {
		w.onReload(c)
	}
}
