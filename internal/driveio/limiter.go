// Package driveio serializes heavy file system work per physical
// device. Metadata analysis reads recordings in large sweeps; running
// two of those against the same spinning disk at once is slower than
// running them back to back.
package driveio

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sync/semaphore"
)

// defaultPerDevice is how many concurrent jobs one device admits.
const defaultPerDevice = 1

// Limiter hands out one slot per backing device. Devices are resolved
// from mount points once at construction; paths under unknown mounts
// share a catch-all slot.
type Limiter struct {
	logger *slog.Logger

	// mounts is sorted by descending mountpoint length so the first
	// prefix match is the longest one.
	mounts []mount

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

type mount struct {
	point  string
	device string
}

// NewLimiter builds a limiter from the machine's current partition
// table.
func NewLimiter(logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	parts, err := disk.Partitions(false)
	if err != nil {
		logger.Warn("partition enumeration failed, all drive I/O shares one slot",
			slog.String("error", err.Error()),
		)
	}
	mounts := make([]mount, 0, len(parts))
	for _, p := range parts {
		mounts = append(mounts, mount{point: p.Mountpoint, device: p.Device})
	}
	return newLimiter(mounts, logger)
}

func newLimiter(mounts []mount, logger *slog.Logger) *Limiter {
	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].point) > len(mounts[j].point)
	})
	return &Limiter{
		logger: logger,
		mounts: mounts,
		sems:   make(map[string]*semaphore.Weighted),
	}
}

// Acquire takes the slot for the device backing path, blocking until
// it is free or ctx is done. The returned func releases the slot.
func (l *Limiter) Acquire(ctx context.Context, path string) (func(), error) {
	sem := l.semFor(l.deviceFor(path))
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (l *Limiter) semFor(device string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[device]
	if !ok {
		sem = semaphore.NewWeighted(defaultPerDevice)
		l.sems[device] = sem
	}
	return sem
}

// deviceFor maps a path to its backing device by longest mountpoint
// prefix.
func (l *Limiter) deviceFor(path string) string {
	path = filepath.Clean(path)
	for _, m := range l.mounts {
		if path == m.point || strings.HasPrefix(path, strings.TrimSuffix(m.point, "/")+"/") {
			return m.device
		}
	}
	return ""
}
