package presets

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounce = 100 * time.Millisecond

// Watcher reloads a launch.json whenever it changes on disk. Editors tend
// to write a file several times in a row, so changes are debounced.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func([]Preset)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Watch starts watching path. onChange receives the reloaded presets, from
// the watcher goroutine; a file that fails to load is logged and skipped.
func Watch(path string, logger *zap.Logger, onChange func([]Preset)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// The directory is watched so that rename-over saves are seen
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
		watcher:  fw,
		stopCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

// Close stops watching and waits for the loop to exit
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	target := filepath.Base(w.path)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("launch.json watcher error", zap.Error(err))

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	presets, err := LoadPresets(w.path, w.logger)
	if err != nil {
		w.logger.Warn("failed to reload launch.json", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("reloaded launch.json", zap.String("path", w.path), zap.Int("presets", len(presets)))
	if w.onChange != nil {
		w.onChange(presets)
	}
}
