package videostream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisui-tv/hisui/internal/encoder"
)

// fakeRuns records starter invocations and lets the test resolve
// segments by hand.
type fakeRuns struct {
	mu        sync.Mutex
	starts    []int
	cancelled []bool
	deliver   func(int, []byte)
}

func (f *fakeRuns) starter(_ context.Context, startIndex int, deliver func(int, []byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startIndex)
	f.cancelled = append(f.cancelled, false)
	f.deliver = deliver
	run := len(f.cancelled) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled[run] = true
	}
}

func (f *fakeRuns) complete(index int, data []byte) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	deliver(index, data)
}

func testPlan(n int) []encoder.RecordedSegment {
	segs := make([]encoder.RecordedSegment, n)
	for i := range segs {
		segs[i] = encoder.RecordedSegment{
			Index:           i,
			StartFilePos:    int64(i) * 1e6,
			StartDTS:        int64(i) * 10 * 90000,
			DurationSeconds: 10,
		}
	}
	return segs
}

func newTestSession(t *testing.T, runs *fakeRuns, n int) *Session {
	t.Helper()
	s, err := newSessionFromPlan(testPlan(n), runs.starter, nil)
	require.NoError(t, err)
	return s
}

func TestGetSegmentStartsEncodingLazily(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 10)

	done := make(chan []byte, 1)
	go func() {
		data, err := s.GetSegment(context.Background(), 0)
		require.NoError(t, err)
		done <- data
	}()

	require.Eventually(t, func() bool {
		runs.mu.Lock()
		defer runs.mu.Unlock()
		return len(runs.starts) == 1 && runs.starts[0] == 0
	}, time.Second, 5*time.Millisecond)

	runs.complete(0, []byte("seg0"))
	select {
	case data := <-done:
		assert.Equal(t, []byte("seg0"), data)
	case <-time.After(time.Second):
		t.Fatal("GetSegment did not resolve")
	}
}

func TestGetSegmentOutOfRange(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 3)

	_, err := s.GetSegment(context.Background(), 3)
	assert.ErrorIs(t, err, ErrSegmentOutOfRange)
	_, err = s.GetSegment(context.Background(), -1)
	assert.ErrorIs(t, err, ErrSegmentOutOfRange)
	assert.Empty(t, runs.starts, "out-of-range requests never start a run")
}

func TestSeekWithinLookAheadKeepsRun(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 20)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = s.GetSegment(ctx, 0)

	// A request 3 ahead of the cursor stays within the look-ahead
	// window: no restart.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, _ = s.GetSegment(ctx2, 3)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	assert.Equal(t, []int{0}, runs.starts)
	assert.False(t, runs.cancelled[0])
}

func TestSeekBeyondLookAheadRestartsRun(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 30)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = s.GetSegment(ctx, 0)

	done := make(chan []byte, 1)
	go func() {
		data, err := s.GetSegment(context.Background(), 20)
		require.NoError(t, err)
		done <- data
	}()

	require.Eventually(t, func() bool {
		runs.mu.Lock()
		defer runs.mu.Unlock()
		return len(runs.starts) == 2
	}, time.Second, 5*time.Millisecond)

	runs.mu.Lock()
	assert.Equal(t, []int{0, 20}, runs.starts)
	assert.True(t, runs.cancelled[0], "stale run is cancelled")
	assert.False(t, runs.cancelled[1])
	runs.mu.Unlock()

	runs.complete(20, []byte("seg20"))
	select {
	case data := <-done:
		assert.Equal(t, []byte("seg20"), data)
	case <-time.After(time.Second):
		t.Fatal("GetSegment did not resolve after restart")
	}
}

func TestSeekBackwardRestartsRun(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 30)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = s.GetSegment(ctx, 10)

	// The run at 10 advanced; a request for 2 lies behind the cursor
	// and needs a fresh run.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, _ = s.GetSegment(ctx2, 2)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	assert.Equal(t, []int{10, 2}, runs.starts)
	assert.True(t, runs.cancelled[0])
}

func TestResolvedSegmentServedWithoutRun(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = s.GetSegment(ctx, 0)
	runs.complete(0, []byte("seg0"))
	runs.complete(1, []byte("seg1"))

	// Already-encoded segments come straight from the future, no new
	// run and no restart even though the cursor moved past them.
	data, err := s.GetSegment(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("seg0"), data)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	assert.Equal(t, []int{0}, runs.starts)
}

func TestCloseCancelsRun(t *testing.T) {
	runs := &fakeRuns{}
	s := newTestSession(t, runs, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = s.GetSegment(ctx, 0)

	s.Close()
	runs.mu.Lock()
	assert.True(t, runs.cancelled[0])
	runs.mu.Unlock()

	_, err := s.GetSegment(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
