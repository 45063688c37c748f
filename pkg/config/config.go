// Package config loads kiln's runtime configuration: the mnemonic→extra-flags
// multimap referenced by the classifier, pool sizing, and idle-worker
// timeouts, with optional hot reload when the backing file changes.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is kiln's runtime configuration.
type Config struct {
	// MnemonicExtras maps a mnemonic to extra startup flags appended after
	// --persistent_worker when launching that mnemonic's workers.
	MnemonicExtras map[string][]string `mapstructure:"mnemonic_extras"`

	// PoolIdleTimeout is the configured idle-worker timeout. It is loaded
	// only: no pool in kiln reads it, and ProcessPool keeps idle workers
	// until they are invalidated or the pool shuts down.
	PoolIdleTimeout time.Duration `mapstructure:"pool_idle_timeout"`

	// MaxWorkersPerKey is the configured per-WorkerKey worker limit. It is
	// loaded only: ProcessPool does not read it and starts a new worker
	// whenever no idle one matches.
	MaxWorkersPerKey int `mapstructure:"max_workers_per_key"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("pool_idle_timeout", 15*time.Minute)
	v.SetDefault("max_workers_per_key", 4)
}

// Load reads path (YAML) into a Config, falling back to defaults for any
// field left unset. Environment variables prefixed KILN_ override file
// values, e.g. KILN_MAX_WORKERS_PER_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("kiln")
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return &cfg, nil
}

// Watcher reloads the mnemonic-extras multimap from disk whenever the
// backing config file changes, without restarting the runner.
type Watcher struct {
	mu     sync.RWMutex
	cfg    *Config
	path   string
	fsw    *fsnotify.Watcher
	onErr  func(error)
	done   chan struct{}
	closed sync.Once
}

// NewWatcher loads path once and begins watching it for further writes.
// onErr, if non-nil, receives reload errors; a failed reload leaves the
// previously loaded Config in place.
func NewWatcher(path string, onErr func(error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config %s: %w", path, err)
	}

	w := &Watcher{
		cfg:   cfg,
		path:  path,
		fsw:   fsw,
		onErr: onErr,
		done:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onErr != nil {
				w.onErr(err)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.onErr != nil {
			w.onErr(fmt.Errorf("reload config %s: %w", w.path, err))
		}
		return
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
