// Package assetwatch follows a release manifest on disk and reports when the
// application version it names changes.
package assetwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manifest is the release file written by the application build,
// e.g. {"version":"42"}.
type Manifest struct {
	Version string `json:"version"`
}

func ReadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Version = strings.TrimSpace(m.Version)
	return m, nil
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Path string
	// Current is the version already active. A manifest naming it is not a
	// change.
	Current string
	// OnChange is called with each new version. An error leaves the version
	// unapplied so the next manifest event retries it.
	OnChange func(ctx context.Context, version string) error
	Debounce time.Duration
	Logger   Logger
}

type Watcher struct {
	path     string
	onChange func(ctx context.Context, version string) error
	debounce time.Duration
	logger   Logger

	mu      sync.Mutex
	current string
}

func New(opts Options) (*Watcher, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("manifest path is required")
	}
	if opts.OnChange == nil {
		return nil, errors.New("change callback is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: opts.OnChange,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		current:  strings.TrimSpace(opts.Current),
	}, nil
}

func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Check reads the manifest once and applies a changed version. It reports
// whether a change was applied.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	m, err := ReadManifest(w.path)
	if err != nil {
		return false, err
	}
	if m.Version == "" {
		return false, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if m.Version == w.current {
		return false, nil
	}
	if err := w.onChange(ctx, m.Version); err != nil {
		return false, fmt.Errorf("apply release %s: %w", m.Version, err)
	}
	w.logf("release %s applied (was %s)", m.Version, w.current)
	w.current = m.Version
	return true, nil
}

// Run watches the manifest's directory until ctx is done. The directory is
// watched rather than the file so atomic replacements are seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	if _, err := w.Check(ctx); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logf("release check failed: %v", err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("manifest watch error: %v", err)
		case <-timer.C:
			if _, err := w.Check(ctx); err != nil {
				w.logf("release check failed: %v", err)
			}
		}
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
