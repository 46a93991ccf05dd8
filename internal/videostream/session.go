package videostream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/models"
)

// ErrSegmentOutOfRange reports a request for a segment index outside
// the plan; HTTP maps it to 404.
var ErrSegmentOutOfRange = errors.New("videostream: segment out of range")

// ErrSessionClosed reports use of a closed session.
var ErrSessionClosed = errors.New("videostream: session closed")

// lookAhead is how far a seek may land ahead of the encoding cursor
// before the in-flight run is abandoned and restarted at the seek
// target. Within the window the run is allowed to catch up.
const lookAhead = 5

// RunStarter launches one encoding run beginning at startIndex. It
// must call deliver once per finished segment and returns a cancel
// function that stops the run.
type RunStarter func(ctx context.Context, startIndex int, deliver func(index int, data []byte)) (cancel func())

// future is a one-shot completion slot for a segment's bytes.
type future struct {
	done chan struct{}
	data []byte
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// Session is one playback session over a planned recording.
type Session struct {
	ID       string
	segments []encoder.RecordedSegment

	start  RunStarter
	logger *slog.Logger

	mu        sync.Mutex
	futures   []*future
	cursor    int // segment the active run encodes next
	running   bool
	cancelRun func()
	closed    bool
}

// NewSession plans the recording and returns an idle session; encoding
// starts on the first segment request.
func NewSession(video *models.RecordedVideo, start RunStarter, log *slog.Logger) (*Session, error) {
	return newSessionFromPlan(PlanSegments(video.KeyFrames, video.Duration), start, log)
}

func newSessionFromPlan(segs []encoder.RecordedSegment, start RunStarter, log *slog.Logger) (*Session, error) {
	if len(segs) == 0 {
		return nil, errors.New("videostream: recording has no keyframe index")
	}
	if log == nil {
		log = slog.Default()
	}
	futures := make([]*future, len(segs))
	for i := range futures {
		futures[i] = newFuture()
	}
	return &Session{
		ID:       models.NewULID().String(),
		segments: segs,
		start:    start,
		logger:   log,
		futures:  futures,
	}, nil
}

// Segments returns the session's segment plan.
func (s *Session) Segments() []encoder.RecordedSegment {
	return s.segments
}

// GetSegment blocks until segment n has been encoded and returns its
// bytes. Requests outside the plan fail with ErrSegmentOutOfRange.
// A seek far ahead of (or behind) the encoding cursor restarts the
// encoder at the requested segment.
func (s *Session) GetSegment(ctx context.Context, n int) ([]byte, error) {
	if n < 0 || n >= len(s.segments) {
		return nil, ErrSegmentOutOfRange
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	fut := s.futures[n]
	select {
	case <-fut.done:
		s.mu.Unlock()
		return fut.data, nil
	default:
	}

	// The requested segment is pending. Decide whether the active run
	// will reach it soon enough.
	switch {
	case !s.running:
		s.launchLocked(n)
	case s.cursor > n:
		// The run already passed n without resolving it (stale run
		// from an earlier seek); restart at n.
		s.restartLocked(n)
	case n-s.cursor > lookAhead:
		s.restartLocked(n)
	}
	s.mu.Unlock()

	select {
	case <-fut.done:
		if fut.data == nil {
			return nil, ErrSessionClosed
		}
		return fut.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels any active run. Pending waiters fail.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelRun
	s.cancelRun = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// launchLocked starts a run at startIndex. Caller holds s.mu.
func (s *Session) launchLocked(startIndex int) {
	s.running = true
	s.cursor = startIndex
	s.cancelRun = s.start(context.Background(), startIndex, s.deliver)
	s.logger.Debug("video stream run started",
		slog.String("session", s.ID),
		slog.Int("segment", startIndex),
	)
}

// restartLocked abandons the active run and starts over at startIndex.
// Caller holds s.mu.
func (s *Session) restartLocked(startIndex int) {
	if cancel := s.cancelRun; cancel != nil {
		cancel()
	}
	s.launchLocked(startIndex)
}

// deliver resolves the segment's future and advances the cursor.
func (s *Session) deliver(index int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.futures) || s.closed {
		return
	}
	fut := s.futures[index]
	select {
	case <-fut.done:
		return // already resolved by an earlier run
	default:
	}
	fut.data = data
	close(fut.done)
	s.cursor = index + 1
}
