package telemetry

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce collects bursts of editor writes into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watcher is a ConfigSource that reloads the config file when it changes.
// A failed reload keeps the previous snapshot.
type Watcher struct {
	cfgFile string
	path    string
	current atomic.Pointer[Config]
	logger  zerolog.Logger

	mu       sync.Mutex
	onChange []func(Config)
}

// NewWatcher performs the initial load. cfgFile may be empty to use the
// default search path.
func NewWatcher(cfgFile string, logger zerolog.Logger) (*Watcher, error) {
	cfg, used, err := loadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		cfgFile: cfgFile,
		path:    used,
		logger:  logger.With().Str("component", "config-watcher").Logger(),
	}
	w.current.Store(&cfg)
	return w, nil
}

// Snapshot returns the latest loaded config.
func (w *Watcher) Snapshot() Config { return *w.current.Load() }

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload re-reads the config now.
func (w *Watcher) Reload() error {
	cfg, _, err := loadConfig(w.cfgFile)
	if err != nil {
		return err
	}
	w.current.Store(&cfg)

	w.mu.Lock()
	callbacks := make([]func(Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// Start watches the config file's directory (editors replace files rather
// than write them in place). Call stop to end watching.
func (w *Watcher) Start() (stop func(), err error) {
	if w.path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", w.path, err)
	}

	done := make(chan struct{})
	go w.watchLoop(fw, done)

	w.logger.Info().Str("file", w.path).Msg("watching config for changes")

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

func (w *Watcher) watchLoop(fw *fsnotify.Watcher, done chan struct{}) {
	defer fw.Close()

	target := filepath.Clean(w.path)
	var timer *time.Timer

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Error().Err(err).Msg("config reload failed, keeping previous config")
					return
				}
				w.logger.Info().Msg("config reloaded")
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")

		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
