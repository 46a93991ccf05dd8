package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a file must stay quiet after its last write
// event before it is queued. Recordings in progress grow for their
// whole duration; scanning them mid-write wastes a drive slot.
const settleDelay = 30 * time.Second

var recordingExts = map[string]bool{
	".ts":   true,
	".m2t":  true,
	".m2ts": true,
	".mts":  true,
	".mp4":  true,
}

func isRecordingPath(path string) bool {
	return recordingExts[strings.ToLower(filepath.Ext(path))]
}

// watcher feeds filesystem events under the recording roots into the
// scan queue. New directories are watched as they appear.
type watcher struct {
	fs     *fsnotify.Watcher
	q      *queue
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func newWatcher(q *queue, logger *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &watcher{
		fs:      fsw,
		q:       q,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}, nil
}

// addRoot registers root and every directory below it.
func (w *watcher) addRoot(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("watch walk error",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				w.logger.Warn("watch add failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
}

func (w *watcher) run(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(ev.Name); err != nil {
				w.logger.Warn("watch add failed",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}

	if !isRecordingPath(ev.Name) {
		return
	}
	w.settle(ev.Name)
}

// settle (re)arms the per-file quiet timer; the file is queued once no
// further writes arrive within settleDelay.
func (w *watcher) settle(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		info, err := os.Stat(path)
		if err != nil {
			return
		}
		w.q.pushWatch(PrioritizedFile{Path: path, CreatedAt: info.ModTime()})
	})
}
