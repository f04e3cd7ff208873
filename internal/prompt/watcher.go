package prompt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize template watcher")

// Watcher reloads a Composer's template when its file changes. A template
// that fails to load or Check is logged and the previous one stays active.
type Watcher struct {
	path     string
	composer *Composer
	watcher  *fsnotify.Watcher
	logger   *logging.Logger

	// reloaded, when set, receives the result of each reload attempt.
	reloaded func(error)
}

// NewWatcher watches path for changes and applies them to c.
//
// The parent directory is watched rather than the file so that editors
// which save by rename are picked up.
func NewWatcher(path string, c *Composer, logger *logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{path: abs, composer: c, watcher: fw, logger: logger}, nil
}

// Run processes filesystem events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.reload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "template watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	tmpl, err := readTemplate(w.path)
	if err == nil {
		err = w.composer.SetTemplate(tmpl)
	}
	if err != nil {
		w.logger.Warn(ctx, "keeping previous prompt template", zap.String("path", w.path), zap.Error(err))
	} else {
		w.logger.Info(ctx, "prompt template reloaded", zap.String("path", w.path), zap.Int("bytes", len(tmpl)))
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
}
