package livestream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySingleton(t *testing.T) {
	r := NewRegistry(nil, nil)
	a := r.GetOrCreate("gr011", "1080p")
	b := r.GetOrCreate("gr011", "1080p")
	c := r.GetOrCreate("gr011", "720p")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "gr011-1080p", a.ID)
}

func TestConnectFromOfflineSpawnsTask(t *testing.T) {
	spawned := 0
	r := NewRegistry(nil, func(ls *LiveStream) { spawned++ })
	ls := r.GetOrCreate("gr011", "1080p")

	id := ls.Connect(ClientMPEGTS)
	assert.Equal(t, 0, id)
	status, _ := ls.Status()
	assert.Equal(t, StatusStandby, status)
	assert.Equal(t, 1, spawned)
	assert.NotNil(t, ls.Archiver())

	// A second client while Standby does not respawn.
	ls.Connect(ClientLLHLS)
	assert.Equal(t, 1, spawned)
	assert.Equal(t, 2, ls.ClientCount())
}

func TestConnectFromIdlingGoesONAir(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	ls := r.GetOrCreate("gr011", "1080p")
	ls.Connect(ClientMPEGTS)
	ls.SetStatus(StatusONAir, "on air")
	ls.SetStatus(StatusIdling, "idling")

	ls.Connect(ClientMPEGTS)
	status, _ := ls.Status()
	assert.Equal(t, StatusONAir, status)
}

func TestConnectReclaimsIdlingStream(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	idle := r.GetOrCreate("gr011", "1080p")
	idle.Connect(ClientMPEGTS)
	idle.SetStatus(StatusONAir, "on air")
	idle.SetStatus(StatusIdling, "idling")

	fresh := r.GetOrCreate("bs101", "1080p")
	fresh.Connect(ClientMPEGTS)

	status, _ := idle.Status()
	assert.Equal(t, StatusOffline, status)
	status, _ = fresh.Status()
	assert.Equal(t, StatusStandby, status)
}

func TestSetStatusIdempotentAndStaleGuard(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	ls := r.GetOrCreate("gr011", "1080p")
	ls.Connect(ClientMPEGTS)

	require.True(t, ls.SetStatus(StatusONAir, "on air"))
	assert.False(t, ls.SetStatus(StatusONAir, "on air"))

	require.True(t, ls.SetStatus(StatusOffline, "done"))
	// A late task update must not resurrect an Offline stream.
	assert.False(t, ls.SetStatus(StatusIdling, "stale"))
	status, _ := ls.Status()
	assert.Equal(t, StatusOffline, status)
}

func TestDisconnectTombstonesSlot(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	ls := r.GetOrCreate("gr011", "1080p")

	a := ls.Connect(ClientMPEGTS)
	b := ls.Connect(ClientMPEGTS)
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)

	ls.Disconnect(a)
	assert.Equal(t, 1, ls.ClientCount())

	// Slot ids stay stable: the next client gets a fresh slot.
	c := ls.Connect(ClientMPEGTS)
	assert.Equal(t, 2, c)

	_, err := ls.ReadStreamData(context.Background(), a)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteStreamDataFanOut(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	ls := r.GetOrCreate("gr011", "1080p")

	ts := ls.Connect(ClientMPEGTS)
	hls := ls.Connect(ClientLLHLS)

	chunks := [][]byte{{1}, {2}, {3}}
	for _, c := range chunks {
		ls.WriteStreamData(c)
	}

	// mpegts clients receive chunks in FIFO order.
	for _, want := range chunks {
		got, err := ls.ReadStreamData(context.Background(), ts)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// ll-hls clients do not consume the mpegts queue path.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ls.ReadStreamData(ctx, hls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteStreamDataDropsOldestWhenFull(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	ls := r.GetOrCreate("gr011", "1080p")
	id := ls.Connect(ClientMPEGTS)

	for i := 0; i < clientQueueSize+10; i++ {
		ls.WriteStreamData([]byte{byte(i)})
	}

	got, err := ls.ReadStreamData(context.Background(), id)
	require.NoError(t, err)
	// The oldest chunks were dropped; delivery starts later in the
	// sequence but stays in order.
	first := got[0]
	next, err := ls.ReadStreamData(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first+1, next[0])
}

func TestOfflineDisconnectsClientsAndDropsArchiver(t *testing.T) {
	r := NewRegistry(nil, func(*LiveStream) {})
	ls := r.GetOrCreate("gr011", "1080p")
	id := ls.Connect(ClientMPEGTS)
	require.NotNil(t, ls.Archiver())

	ls.SetStatus(StatusOffline, "stopped")
	assert.Zero(t, ls.ClientCount())
	assert.Nil(t, ls.Archiver())

	_, err := ls.ReadStreamData(context.Background(), id)
	assert.ErrorIs(t, err, io.EOF)
}
