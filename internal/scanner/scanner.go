// Package scanner indexes recorded TS/MP4 files under the configured
// roots. A one-shot batch walk and a continuous filesystem watcher
// feed one priority queue; watcher events are served first, and within
// each source newer recordings are scanned before older ones.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"gorm.io/gorm"

	"github.com/hisui-tv/hisui/internal/driveio"
	"github.com/hisui-tv/hisui/internal/metadata"
)

// Scanner drives recorded-file indexing.
type Scanner struct {
	roots    []string
	watch    bool
	analyzer *metadata.Analyzer
	limiter  *driveio.Limiter
	store    *store
	logger   *slog.Logger

	q *queue

	mu        sync.Mutex
	processed map[string]struct{}
}

// New builds a scanner over the given recording roots. With watch
// disabled, Run returns after the batch walk instead of following
// filesystem events.
func New(db *gorm.DB, analyzer *metadata.Analyzer, limiter *driveio.Limiter, roots []string, watch bool, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		roots:     roots,
		watch:     watch,
		analyzer:  analyzer,
		limiter:   limiter,
		store:     &store{db: db},
		logger:    logger,
		q:         newQueue(),
		processed: make(map[string]struct{}),
	}
}

// Run performs the batch walk, then keeps consuming watcher events
// until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	if s.watch {
		w, err := newWatcher(s.q, s.logger)
		if err != nil {
			return err
		}
		for _, root := range s.roots {
			if err := w.addRoot(root); err != nil {
				s.logger.Warn("recording root not watchable",
					slog.String("root", root),
					slog.String("error", err.Error()),
				)
			}
		}
		go w.run(ctx)
	}

	batch := s.walk()
	s.logger.Info("recorded file scan starting", slog.Int("files", len(batch)))
	s.q.setBatch(batch)

	batchDone := false
	for {
		f, ok := s.q.pop()
		if !ok {
			if !batchDone {
				batchDone = true
				s.logger.Info("recorded file scan complete")
				if removed, err := s.store.prune(); err != nil {
					s.logger.Warn("prune failed", slog.String("error", err.Error()))
				} else if removed > 0 {
					s.logger.Info("removed recordings for deleted files", slog.Int("count", removed))
				}
			}
			if !s.watch {
				return nil
			}
			if err := s.q.wait(ctx); err != nil {
				return err
			}
			continue
		}
		if !s.markProcessed(f.Path) {
			continue
		}
		s.process(ctx, f)
	}
}

// walk enumerates recording files under every root.
func (s *Scanner) walk() []PrioritizedFile {
	var files []PrioritizedFile
	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn("scan walk error",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if d.IsDir() || !isRecordingPath(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			files = append(files, PrioritizedFile{Path: path, CreatedAt: info.ModTime()})
			return nil
		})
		if err != nil {
			s.logger.Warn("recording root not readable",
				slog.String("root", root),
				slog.String("error", err.Error()),
			)
		}
	}
	return files
}

// markProcessed records the path, returning false when it was already
// handled. Guards against watcher-then-batch duplicates.
func (s *Scanner) markProcessed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.processed[path]; done {
		return false
	}
	s.processed[path] = struct{}{}
	return true
}

func (s *Scanner) process(ctx context.Context, f PrioritizedFile) {
	release, err := s.limiter.Acquire(ctx, f.Path)
	if err != nil {
		return
	}
	defer release()

	res, err := s.analyzer.Analyze(ctx, f.Path)
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrFileTooSmall):
			s.logger.Debug("skipping small file", slog.String("file", f.Path))
		case errors.Is(err, metadata.ErrNotPlayable):
			s.logger.Info("skipping unplayable file",
				slog.String("file", f.Path),
				slog.String("error", err.Error()),
			)
		default:
			s.logger.Warn("recording analysis failed",
				slog.String("file", f.Path),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	res.Video.FileCreatedAt = f.CreatedAt

	action, err := s.store.upsert(res)
	if err != nil {
		s.logger.Error("recording save failed",
			slog.String("file", f.Path),
			slog.String("error", err.Error()),
		)
		return
	}
	if action != actionSkipped {
		s.logger.Info("recording indexed",
			slog.String("file", f.Path),
			slog.String("action", string(action)),
			slog.String("title", res.Program.Title),
		)
	}
}
