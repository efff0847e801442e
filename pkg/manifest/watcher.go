package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/arch"
)

// DefaultDebounce is how long the watcher waits after a change before
// re-parsing, so editor write bursts trigger one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-parses manifest sources whenever they change on disk and
// hands the fresh manifest to a callback.
type Watcher struct {
	parser   *Parser
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher that re-parses through the given parser.
func NewWatcher(parser *Parser, logger zerolog.Logger) *Watcher {
	return &Watcher{
		parser:   parser,
		logger:   logger.With().Str("component", "manifest-watcher").Logger(),
		debounce: DefaultDebounce,
	}
}

// Watch starts watching the given manifest sources and invokes onChange
// with each freshly parsed manifest. It returns once watching is set up;
// watching stops when ctx is cancelled or Close is called.
func (w *Watcher) Watch(ctx context.Context, sources []string, onChange func(*Manifest)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return arch.NewRuntimeError("creating filesystem watcher", err)
	}

	w.watcher = watcher

	for _, path := range sources {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := w.watchDirectory(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	go w.processEvents(ctx, sources, onChange)

	w.logger.Info().
		Int("paths", len(sources)).
		Msg("Started watching manifest sources")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.watcher.Add(path)
		}

		return nil
	})
}

// processEvents processes file system events and triggers re-parses.
// Watching the parent directory rather than the file itself keeps
// atomic-save editors (write to temp, rename over) covered.
func (w *Watcher) processEvents(ctx context.Context, sources []string, onChange func(*Manifest)) {
	var reparseTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if w.watcher != nil {
				_ = w.watcher.Close()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if strings.HasSuffix(event.Name, ".cue") || strings.HasSuffix(event.Name, ".star") {
					w.logger.Debug().
						Str("file", event.Name).
						Str("op", event.Op.String()).
						Msg("Manifest source changed")

					if reparseTimer != nil {
						reparseTimer.Stop()
					}
					reparseTimer = time.AfterFunc(w.debounce, func() {
						w.reparse(ctx, sources, onChange)
					})
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// reparse reloads the manifest from the watched sources and hands it to
// the callback.
func (w *Watcher) reparse(ctx context.Context, sources []string, onChange func(*Manifest)) {
	if ctx.Err() != nil {
		return
	}

	m, err := w.parser.Parse(ctx, sources)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to re-parse manifest")
		return
	}

	w.logger.Info().
		Int("components", len(m.Components)).
		Int("errors", len(m.Errors)).
		Msg("Manifest reloaded")

	onChange(m)
}

// Close stops watching for file changes.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
