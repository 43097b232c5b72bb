package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a client config file when it changes and turns the
// account-scoped differences into patches. Everything outside the account
// config only takes effect after a restart.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	current *Client
}

// NewWatcher creates a watcher for path, starting from the already loaded initial config
func NewWatcher(path string, initial *Client, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		logger:   logger.With().Str("com", "config-watcher").Str("path", path).Logger(),
		current:  initial,
	}
}

// Current returns the last successfully loaded config
func (w *Watcher) Current() *Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload reads the file again. On failure the previous config is kept.
// The returned map holds a patch per account whose config changed.
func (w *Watcher) Reload() (map[string]AccountPatch, error) {
	next, err := LoadClientConfig(w.path)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	patches := make(map[string]AccountPatch)
	for _, a := range next.Accounts {
		old, ok := prev.Account(a.Name)
		if !ok {
			w.logger.Warn().Str("account", a.Name).Msg("new account in config ignored until restart")
			continue
		}
		if p := old.Config.Diff(a.Config); !p.Empty() {
			patches[a.Name] = p
		}
	}
	return patches, nil
}

// Run watches the config directory until ctx is done. onPatch is called from
// the watcher goroutine once per changed account after each successful reload.
func (w *Watcher) Run(ctx context.Context, onPatch func(account string, patch AccountPatch)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.logger.Info().Msg("watching config file for changes")

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("config file changed")
				reload = time.After(w.debounce)
			}

		case <-reload:
			reload = nil
			patches, err := w.Reload()
			if err != nil {
				w.logger.Error().Err(err).Msg("config reload failed, keeping previous config")
				continue
			}
			w.logger.Info().Int("changed_accounts", len(patches)).Msg("config reloaded")
			for name, p := range patches {
				onPatch(name, p)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
