package tuner

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisui-tv/hisui/internal/edcb"
)

// fakeBackend counts calls and hands out pipe connections.
type fakeBackend struct {
	mu        sync.Mutex
	nextPID   uint32
	setChErrs int // SetNetworkTVCh fails this many times first
	setChCnt  int
	closed    []uint32
	lastCh    edcb.SetChInfo
}

func (f *fakeBackend) SetNetworkTVCh(ctx context.Context, ch edcb.SetChInfo) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setChCnt++
	f.lastCh = ch
	if f.setChErrs > 0 {
		f.setChErrs--
		return 0, edcb.ErrCommandFailed
	}
	f.nextPID++
	return f.nextPID, nil
}

func (f *fakeBackend) CloseNetworkTV(ctx context.Context, nwtvID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, nwtvID)
	return nil
}

func (f *fakeBackend) OpenViewStream(ctx context.Context, processID uint32) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		_, _ = server.Read(make([]byte, 1))
		_ = server.Close()
	}()
	return client, nil
}

func TestOpenAssignsFreshID(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	s, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.Equal(t, uint32(500), s.NwtvID())
	assert.Equal(t, uint32(2), backend.lastCh.ChOrMode)
	assert.True(t, backend.lastCh.UseSID)
	assert.NotNil(t, s.Conn())
	assert.Equal(t, 1, m.sessionCount())
}

func TestOpenHarvestsUnlockedSession(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	first, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	// Unlocked sessions are fair game for harvest.

	second, err := m.Open(context.Background(), 4, 16625, 101)
	require.NoError(t, err)
	defer second.Close(context.Background())

	assert.Equal(t, first.NwtvID(), second.NwtvID())

	// The delegated session lost its tuner and must not close it.
	assert.ErrorIs(t, first.Close(context.Background()), ErrDelegated)
	assert.Empty(t, backend.closed)
}

func TestLockedSessionIsNotHarvested(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	first, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	defer first.Close(context.Background())
	first.Lock()

	second, err := m.Open(context.Background(), 4, 16625, 101)
	require.NoError(t, err)
	defer second.Close(context.Background())

	assert.NotEqual(t, first.NwtvID(), second.NwtvID())
	assert.Equal(t, uint32(501), second.NwtvID())
}

func TestOpenRetriesSetCh(t *testing.T) {
	backend := &fakeBackend{setChErrs: 2}
	m := NewManager(backend, nil)

	s, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.Equal(t, 3, backend.setChCnt)
}

func TestCloseTombstonesSlot(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	first, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	second, err := m.Open(context.Background(), 4, 16625, 101)
	require.NoError(t, err)
	second.Lock()
	defer second.Close(context.Background())

	// first was harvested by second; open a third with its own slot.
	third, err := m.Open(context.Background(), 32736, 32736, 2056)
	require.NoError(t, err)

	require.NoError(t, third.Close(context.Background()))
	assert.Contains(t, backend.closed, third.NwtvID())
	assert.Equal(t, 1, m.sessionCount())

	// Closing again is a no-op.
	require.NoError(t, third.Close(context.Background()))
	_ = first
}

func TestDelegatedCannotRetune(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	first, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	second, err := m.Open(context.Background(), 4, 16625, 101)
	require.NoError(t, err)
	defer second.Close(context.Background())

	assert.ErrorIs(t, first.Retune(context.Background(), 4, 16625, 103), ErrDelegated)
}

func TestRetuneReplacesStream(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	s, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)
	defer s.Close(context.Background())
	s.Lock()

	old := s.Conn()
	require.NoError(t, s.Retune(context.Background(), 32736, 32736, 2056))
	assert.NotSame(t, old, s.Conn())
	assert.Equal(t, uint16(2056), backend.lastCh.SID)
	assert.Equal(t, s.NwtvID(), backend.lastCh.SpaceOrID)
}

func TestDisconnectClosesSocketOnly(t *testing.T) {
	backend := &fakeBackend{}
	m := NewManager(backend, nil)

	s, err := m.Open(context.Background(), 32736, 32736, 1024)
	require.NoError(t, err)

	s.Disconnect()
	assert.Nil(t, s.Conn())
	// The tuner process is still up; no CloseNetworkTV yet.
	backend.mu.Lock()
	closed := len(backend.closed)
	backend.mu.Unlock()
	assert.Zero(t, closed)

	require.NoError(t, s.Close(context.Background()))
}
