package llhls

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAfterClose(t *testing.T) {
	s := NewSegmenter(Config{GOPDuration: time.Second})
	s.Close()

	_, err := s.Write(make([]byte, 188))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewSegmenter(Config{})
	s.Close()
	s.Close()
}

func TestWaitReadyCancellable(t *testing.T) {
	s := NewSegmenter(Config{GOPDuration: time.Second})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitReadyReleasedByClose(t *testing.T) {
	s := NewSegmenter(Config{GOPDuration: time.Second})

	done := make(chan error, 1)
	go func() { done <- s.WaitReady(context.Background()) }()
	s.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitReady did not return after Close")
	}
}

func TestHandleOnClosedSegmenter(t *testing.T) {
	s := NewSegmenter(Config{GOPDuration: time.Second})
	s.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/playlist.m3u8", nil)
	s.Handle(false, rec, req)
	assert.Equal(t, 503, rec.Code)
}

func TestNtpAdvancesWithStreamClock(t *testing.T) {
	s := NewSegmenter(Config{GOPDuration: time.Second})
	defer s.Close()

	first := s.ntpFor(90000)
	later := s.ntpFor(90000 + 45000)
	require.False(t, first.IsZero())
	assert.Equal(t, 500*time.Millisecond, later.Sub(first))
}
