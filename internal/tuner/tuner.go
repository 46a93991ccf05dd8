// Package tuner manages NetworkTV tuner sessions on the recorder
// backend. A session is an opaque handle onto a live TS stream for one
// service; tuner processes are reused across channel changes instead of
// being torn down and respawned.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hisui-tv/hisui/internal/edcb"
)

// Backend is the subset of the RPC client a session needs.
type Backend interface {
	SetNetworkTVCh(ctx context.Context, ch edcb.SetChInfo) (processID uint32, err error)
	CloseNetworkTV(ctx context.Context, nwtvID uint32) error
	OpenViewStream(ctx context.Context, processID uint32) (net.Conn, error)
}

// networkModeTCP asks the daemon for a TCP relay of the tuner output.
const networkModeTCP = 2

const (
	openRetryWindow  = 5 * time.Second
	openRetryBackoff = 500 * time.Millisecond

	// disconnectLinger keeps the tuner process alive briefly after the
	// TS socket closes so a follow-up channel change can reuse it.
	disconnectLinger = 3 * time.Second
)

var (
	// ErrDelegated reports an operation on a session whose tuner was
	// harvested by a newer session.
	ErrDelegated = errors.New("tuner: session delegated its tuner")

	// ErrUnavailable reports that no tuner could be acquired within the
	// open retry window.
	ErrUnavailable = errors.New("tuner: no tuner available")
)

// Manager owns the process-wide session registry. Freed slots are set
// to nil rather than removed so surviving sessions keep their indices.
type Manager struct {
	mu       sync.Mutex
	sessions []*Session

	backend Backend
	logger  *slog.Logger
}

// NewManager returns a session manager bound to one backend.
func NewManager(backend Backend, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{backend: backend, logger: log}
}

// Session is one live tuner binding. All mutating methods serialize
// through the owning manager's mutex.
type Session struct {
	manager *Manager

	nwtvID    uint32
	processID uint32
	conn      net.Conn

	locked    bool
	delegated bool
	closed    bool

	onid uint16
	tsid uint16
	sid  uint16
}

// NwtvID returns the session's caller-chosen tuner id.
func (s *Session) NwtvID() uint32 { return s.nwtvID }

// Conn returns the raw TS socket. Nil after Disconnect.
func (s *Session) Conn() net.Conn {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	return s.conn
}

// allocateID picks a nwtv_id for a new session. It harvests the first
// unlocked live session's id when one exists, delegating that session
// and tombstoning its slot; otherwise it mints a fresh id above 500 so
// ids never collide with ones the daemon may already track.
func (m *Manager) allocateID() uint32 {
	for i, s := range m.sessions {
		if s == nil || s.locked || s.delegated || s.closed {
			continue
		}
		s.delegated = true
		m.sessions[i] = nil
		m.logger.Debug("harvested tuner id from idle session",
			slog.Uint64("nwtv_id", uint64(s.nwtvID)),
		)
		return s.nwtvID
	}
	return uint32(500 + len(m.sessions))
}

// Open acquires a tuner for the given service and connects its TS
// stream. The SetCh call is retried for up to 5 s because tuners held
// by just-closed sessions may still be releasing.
func (m *Manager) Open(ctx context.Context, onid, tsid, sid uint16) (*Session, error) {
	m.mu.Lock()
	nwtvID := m.allocateID()
	slot := len(m.sessions)
	m.sessions = append(m.sessions, nil) // reserve the slot
	m.mu.Unlock()

	ch := edcb.SetChInfo{
		UseSID:    true,
		ONID:      onid,
		TSID:      tsid,
		SID:       sid,
		SpaceOrID: nwtvID,
		ChOrMode:  networkModeTCP,
	}

	var processID uint32
	var err error
	deadline := time.Now().Add(openRetryWindow)
	for {
		processID, err = m.backend.SetNetworkTVCh(ctx, ch)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.logger.Debug("tuner open retry",
			slog.Uint64("nwtv_id", uint64(nwtvID)),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openRetryBackoff):
		}
	}

	conn, err := m.backend.OpenViewStream(ctx, processID)
	if err != nil {
		_ = m.backend.CloseNetworkTV(ctx, nwtvID)
		return nil, fmt.Errorf("connecting view stream: %w", err)
	}

	s := &Session{
		manager:   m,
		nwtvID:    nwtvID,
		processID: processID,
		conn:      conn,
		onid:      onid,
		tsid:      tsid,
		sid:       sid,
	}

	m.mu.Lock()
	m.sessions[slot] = s
	m.mu.Unlock()

	m.logger.Info("tuner session opened",
		slog.Uint64("nwtv_id", uint64(nwtvID)),
		slog.Uint64("process_id", uint64(processID)),
		slog.Int("onid", int(onid)),
		slog.Int("sid", int(sid)),
	)
	return s, nil
}

// Lock pins the session so it cannot be harvested while a stream is in
// Standby or ONAir.
func (s *Session) Lock() {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	s.locked = true
}

// Unlock releases the pin while the stream idles, letting another
// stream starting soon reuse this tuner.
func (s *Session) Unlock() {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	s.locked = false
}

// Disconnect closes the TS socket but leaves the tuner process running
// briefly so a follow-up channel change can reuse it. The session is
// closed for real after the linger unless it was delegated meanwhile.
func (s *Session) Disconnect() {
	s.manager.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.locked = false
	s.manager.mu.Unlock()

	time.AfterFunc(disconnectLinger, func() {
		s.manager.mu.Lock()
		abandon := !s.delegated && !s.closed
		s.manager.mu.Unlock()
		if abandon {
			_ = s.Close(context.Background())
		}
	})
}

// Close stops the tuner process and tombstones the registry slot. A
// delegated session no longer owns its tuner and must not close it.
func (s *Session) Close(ctx context.Context) error {
	s.manager.mu.Lock()
	if s.delegated {
		s.manager.mu.Unlock()
		return ErrDelegated
	}
	if s.closed {
		s.manager.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	for i, sess := range s.manager.sessions {
		if sess == s {
			s.manager.sessions[i] = nil
			break
		}
	}
	s.manager.mu.Unlock()

	if err := s.manager.backend.CloseNetworkTV(ctx, s.nwtvID); err != nil {
		return fmt.Errorf("closing tuner %d: %w", s.nwtvID, err)
	}
	s.manager.logger.Info("tuner session closed", slog.Uint64("nwtv_id", uint64(s.nwtvID)))
	return nil
}

// Retune changes the channel on the session's existing tuner process.
func (s *Session) Retune(ctx context.Context, onid, tsid, sid uint16) error {
	s.manager.mu.Lock()
	if s.delegated || s.closed {
		s.manager.mu.Unlock()
		return ErrDelegated
	}
	nwtvID := s.nwtvID
	s.manager.mu.Unlock()

	ch := edcb.SetChInfo{
		UseSID:    true,
		ONID:      onid,
		TSID:      tsid,
		SID:       sid,
		SpaceOrID: nwtvID,
		ChOrMode:  networkModeTCP,
	}
	processID, err := s.manager.backend.SetNetworkTVCh(ctx, ch)
	if err != nil {
		return fmt.Errorf("retuning: %w", err)
	}

	conn, err := s.manager.backend.OpenViewStream(ctx, processID)
	if err != nil {
		return fmt.Errorf("connecting view stream: %w", err)
	}

	s.manager.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.processID = processID
	s.onid, s.tsid, s.sid = onid, tsid, sid
	s.manager.mu.Unlock()
	return nil
}

// sessionCount reports non-tombstoned sessions, for tests and metrics.
func (m *Manager) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s != nil {
			n++
		}
	}
	return n
}
