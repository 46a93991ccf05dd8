package driveio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter() *Limiter {
	return newLimiter([]mount{
		{point: "/", device: "/dev/sda1"},
		{point: "/mnt/rec", device: "/dev/sdb1"},
		{point: "/mnt/rec/archive", device: "/dev/sdc1"},
	}, nil)
}

func TestDeviceForLongestMatch(t *testing.T) {
	l := testLimiter()

	assert.Equal(t, "/dev/sdb1", l.deviceFor("/mnt/rec/2026/drama.ts"))
	assert.Equal(t, "/dev/sdc1", l.deviceFor("/mnt/rec/archive/old.ts"))
	assert.Equal(t, "/dev/sda1", l.deviceFor("/home/user/x.ts"))
	// "/mnt/recordings" is not under "/mnt/rec".
	assert.Equal(t, "/dev/sda1", l.deviceFor("/mnt/recordings/x.ts"))
}

func TestDeviceForUnknownMount(t *testing.T) {
	l := newLimiter(nil, nil)
	assert.Equal(t, "", l.deviceFor("/anywhere/x.ts"))
}

func TestAcquireSerializesPerDevice(t *testing.T) {
	l := testLimiter()

	release, err := l.Acquire(context.Background(), "/mnt/rec/a.ts")
	require.NoError(t, err)

	// Same device: blocked until released.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "/mnt/rec/b.ts")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Different device: free.
	release2, err := l.Acquire(context.Background(), "/mnt/rec/archive/c.ts")
	require.NoError(t, err)
	release2()

	release()
	release3, err := l.Acquire(context.Background(), "/mnt/rec/b.ts")
	require.NoError(t, err)
	release3()
}
