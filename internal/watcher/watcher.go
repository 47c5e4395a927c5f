// Package watcher feeds newly written input files to the converter in
// debounced batches.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/logging"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
)

// DefaultDebounce is the quiet period before a batch is flushed.
const DefaultDebounce = 500 * time.Millisecond

// BatchFunc handles one batch of changed files. Batches never overlap.
type BatchFunc func(ctx context.Context, files []source.InputFile)

// Config configures a Watcher.
type Config struct {
	Dir       string
	Matcher   *source.Matcher
	Recursive bool
	Skip      string // directory name never watched, usually the output dir
	Debounce  time.Duration
}

// Watcher watches an input directory with fsnotify.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	pending map[string]struct{}
	log     *slog.Logger
}

// New starts watching cfg.Dir.
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		pending: make(map[string]struct{}),
		log:     logging.Component("watcher"),
	}
	if err := w.addTree(cfg.Dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if !w.cfg.Recursive {
		if err := w.fsw.Add(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && d.Name() == w.cfg.Skip {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers batches until ctx is done. A batch in progress is allowed
// to finish.
func (w *Watcher) Run(ctx context.Context, batch BatchFunc) error {
	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	w.log.Info("watching for input files", "dir", w.cfg.Dir, "patterns", w.cfg.Matcher.Patterns())

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)

		case <-timer.C:
			files := w.flush()
			if len(files) == 0 {
				continue
			}
			w.log.Info("converting changed files", "files", len(files))
			batch(ctx, files)
		}
	}
}

// handle records a relevant event and reports whether it was one.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if w.skipped(ev.Name) {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if w.cfg.Recursive && ev.Has(fsnotify.Create) {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("watch new directory failed", "dir", ev.Name, "error", err)
			}
		}
		return false
	}
	if !w.cfg.Matcher.Match(ev.Name) {
		return false
	}

	w.pending[ev.Name] = struct{}{}
	return true
}

func (w *Watcher) skipped(path string) bool {
	if w.cfg.Skip == "" {
		return false
	}
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == w.cfg.Skip {
			return true
		}
	}
	return false
}

// flush drains pending paths that still exist as regular files.
func (w *Watcher) flush() []source.InputFile {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	sort.Strings(paths)

	files := make([]source.InputFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, source.NewInputFile(w.cfg.Dir, p))
	}
	return files
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
