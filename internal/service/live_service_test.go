package service

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisui-tv/hisui/internal/config"
	"github.com/hisui-tv/hisui/internal/database"
	"github.com/hisui-tv/hisui/internal/edcb"
	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/models"
	"github.com/hisui-tv/hisui/internal/tuner"
)

func newTestLiveService(t *testing.T) (*LiveService, *database.DB) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewLiveService(db.DB, nil, LiveConfig{}, nil), db
}

func TestChannelLookup(t *testing.T) {
	svc, db := newTestLiveService(t)
	require.NoError(t, db.Create(&models.Channel{
		NetworkID: 32736, ServiceID: 1024,
		ChannelNumber: "011", DisplayChannelID: "gr011",
		Type: models.ChannelTypeGR, Name: "NHK総合・東京",
	}).Error)

	ch, err := svc.Channel("gr011")
	require.NoError(t, err)
	assert.Equal(t, uint16(1024), ch.ServiceID)

	_, err = svc.Channel("gr999")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestGOPDurationFor(t *testing.T) {
	h264, err := encoder.LookupProfile("1080p")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, GOPDurationFor(h264))

	hevc, err := encoder.LookupProfile("1080p-hevc")
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, GOPDurationFor(hevc))
}

// fakeTunerBackend records tuner opens and closes and hands out pipe
// connections as TS streams.
type fakeTunerBackend struct {
	mu     sync.Mutex
	peers  []net.Conn
	closed []uint32
}

func (f *fakeTunerBackend) SetNetworkTVCh(_ context.Context, ch edcb.SetChInfo) (uint32, error) {
	return 7000 + ch.SpaceOrID, nil
}

func (f *fakeTunerBackend) CloseNetworkTV(_ context.Context, nwtvID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, nwtvID)
	return nil
}

func (f *fakeTunerBackend) OpenViewStream(_ context.Context, _ uint32) (net.Conn, error) {
	client, server := net.Pipe()
	f.mu.Lock()
	f.peers = append(f.peers, server)
	f.mu.Unlock()
	return client, nil
}

func (f *fakeTunerBackend) closedIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.closed...)
}

func (f *fakeTunerBackend) cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.peers {
		_ = c.Close()
	}
}

func TestTunerStreamIdleUnlockAndLingeringTeardown(t *testing.T) {
	be := &fakeTunerBackend{}
	t.Cleanup(be.cleanup)
	src := &tunerSource{
		tuners:  tuner.NewManager(be, nil),
		channel: &models.Channel{NetworkID: 32736, ServiceID: 1024},
	}

	first, err := src.AcquireTS(context.Background())
	require.NoError(t, err)
	firstID := first.(*tunerStream).sess.NwtvID()

	// A locked session cannot be harvested: a concurrent open must mint
	// a fresh id.
	second, err := src.AcquireTS(context.Background())
	require.NoError(t, err)
	secondID := second.(*tunerStream).sess.NwtvID()
	assert.NotEqual(t, firstID, secondID)

	// Once the first stream idles its lock drops, and the next open
	// harvests its tuner id instead of minting another.
	first.(*tunerStream).MarkIdle(true)
	third, err := src.AcquireTS(context.Background())
	require.NoError(t, err)
	assert.Equal(t, firstID, third.(*tunerStream).sess.NwtvID())

	// Teardown disconnects with the linger; the tuner process is not
	// closed outright, so a stream starting right after reuses it.
	require.NoError(t, second.Close())
	assert.Empty(t, be.closedIDs())

	fourth, err := src.AcquireTS(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secondID, fourth.(*tunerStream).sess.NwtvID())
}

func TestStreamsRegistryIdentity(t *testing.T) {
	svc, _ := newTestLiveService(t)

	a := svc.Streams().GetOrCreate("gr011", "1080p")
	b := svc.Streams().GetOrCreate("gr011", "1080p")
	c := svc.Streams().GetOrCreate("gr011", "720p")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "gr011-1080p", a.ID)
}
