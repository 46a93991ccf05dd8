// Package livestream holds the per-(channel, quality) live stream
// singletons: their status machine, connected clients, and the PSI/SI
// archiver that rides along with the raw TS flow.
package livestream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hisui-tv/hisui/internal/psiarchive"
)

// Status is the live stream lifecycle state.
type Status string

const (
	StatusOffline Status = "Offline"
	StatusStandby Status = "Standby"
	StatusONAir   Status = "ONAir"
	StatusIdling  Status = "Idling"
	StatusRestart Status = "Restart"
)

// ClientType selects the delivery path for a connected client.
type ClientType string

const (
	ClientMPEGTS ClientType = "mpegts"
	ClientLLHLS  ClientType = "ll-hls"
)

// clientQueueSize bounds each mpegts client's chunk queue. A stalled
// client loses its oldest chunks rather than stalling the writer.
const clientQueueSize = 256

// ErrNoSuchClient reports a client id this stream never issued.
var ErrNoSuchClient = errors.New("livestream: no such client")

// Client is one consumer slot. Slots are append-only so ids handed to
// callers stay stable; disconnect marks the slot gone instead of
// freeing it, which lets a reader drain what was already queued.
type Client struct {
	ID    int
	Type  ClientType
	queue chan []byte
	done  chan struct{}
	gone  bool // guarded by LiveStream.mu
}

// LiveStream is the singleton for one (channel, quality) pair.
type LiveStream struct {
	ID      string // display channel id + "-" + quality
	Channel string
	Quality string

	mu        sync.Mutex
	status    Status
	detail    string
	updatedAt time.Time
	clients   []*Client

	archiver   *psiarchive.Archiver
	archiveBuf *archiveBuffer
	registry   *Registry
	onStandby  func(*LiveStream)
	logger     *slog.Logger
}

// archiveBuffer keeps the archived PSI/SI bytes of the current run in
// memory for the LL-HLS caption bridge.
type archiveBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *archiveBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *archiveBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(b.buf))
	copy(cp, b.buf)
	return cp
}

// Status returns the current status and detail.
func (ls *LiveStream) Status() (Status, string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.status, ls.detail
}

// StatusUpdatedAt returns when the status last changed.
func (ls *LiveStream) StatusUpdatedAt() time.Time {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.updatedAt
}

// SetStatus applies a state transition. Equal (status, detail) pairs
// are idempotent no-ops. A stream that has gone Offline stays Offline
// until a fresh Connect flips it to Standby, so late task updates
// cannot resurrect a dead view.
func (ls *LiveStream) SetStatus(status Status, detail string) bool {
	ls.mu.Lock()
	if ls.status == status && ls.detail == detail {
		ls.mu.Unlock()
		return false
	}
	if ls.status == StatusOffline && status != StatusStandby {
		ls.mu.Unlock()
		return false
	}
	prev := ls.status
	ls.status = status
	ls.detail = detail
	ls.updatedAt = time.Now()

	var toClose []*Client
	if status == StatusOffline || status == StatusRestart {
		for _, c := range ls.clients {
			if c != nil && !c.gone {
				c.gone = true
				toClose = append(toClose, c)
			}
		}
		ls.archiver = nil
		ls.archiveBuf = nil
	}
	ls.mu.Unlock()

	for _, c := range toClose {
		close(c.done)
	}

	ls.logger.Info("live stream status changed",
		slog.String("stream", ls.ID),
		slog.String("from", string(prev)),
		slog.String("to", string(status)),
		slog.String("detail", detail),
	)
	return true
}

// Connect registers a new client and returns its id. Connecting to an
// Offline stream flips it to Standby and spawns the encoding task;
// connecting to an Idling stream flips it to ONAir.
func (ls *LiveStream) Connect(clientType ClientType) int {
	ls.mu.Lock()
	c := &Client{
		ID:    len(ls.clients),
		Type:  clientType,
		queue: make(chan []byte, clientQueueSize),
		done:  make(chan struct{}),
	}
	ls.clients = append(ls.clients, c)
	status := ls.status
	ls.mu.Unlock()

	switch status {
	case StatusOffline:
		// Reclaim tuner/encoder resources from streams nobody watches
		// before starting a new one.
		ls.reclaimIdling()
		ls.mu.Lock()
		ls.archiveBuf = &archiveBuffer{}
		ls.archiver = psiarchive.NewArchiver(ls.archiveBuf)
		onStandby := ls.onStandby
		ls.mu.Unlock()
		ls.SetStatus(StatusStandby, "エンコーダーを起動しています…")
		if onStandby != nil {
			onStandby(ls)
		}
	case StatusIdling:
		ls.SetStatus(StatusONAir, "ライブストリームは ONAir です。")
	}
	return c.ID
}

// Disconnect marks the client slot gone. The slot is never compacted
// or reused, and pending reads drain the queue before seeing EOF.
func (ls *LiveStream) Disconnect(clientID int) {
	ls.mu.Lock()
	var c *Client
	if clientID >= 0 && clientID < len(ls.clients) {
		if cand := ls.clients[clientID]; cand != nil && !cand.gone {
			cand.gone = true
			c = cand
		}
	}
	ls.mu.Unlock()
	if c != nil {
		close(c.done)
	}
}

// ClientCount returns the number of live clients.
func (ls *LiveStream) ClientCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	n := 0
	for _, c := range ls.clients {
		if c != nil && !c.gone {
			n++
		}
	}
	return n
}

// ReadStreamData pops the next chunk for a client, blocking until one
// arrives, the client is disconnected (io.EOF), or ctx is done.
func (ls *LiveStream) ReadStreamData(ctx context.Context, clientID int) ([]byte, error) {
	ls.mu.Lock()
	var c *Client
	if clientID >= 0 && clientID < len(ls.clients) {
		c = ls.clients[clientID]
	}
	ls.mu.Unlock()
	if c == nil {
		return nil, ErrNoSuchClient
	}

	select {
	case chunk := <-c.queue:
		return chunk, nil
	case <-c.done:
		// Drain anything already queued before signalling EOF.
		select {
		case chunk := <-c.queue:
			return chunk, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteStreamData fans a chunk out to every live mpegts client. The
// LL-HLS segmenter feeder registers an mpegts slot of its own, so it
// rides the same path. Each client's queue preserves FIFO order; a
// full queue drops the oldest chunk so a slow reader cannot stall the
// writer.
func (ls *LiveStream) WriteStreamData(chunk []byte) {
	ls.mu.Lock()
	targets := make([]*Client, 0, len(ls.clients))
	for _, c := range ls.clients {
		if c != nil && !c.gone && c.Type == ClientMPEGTS {
			targets = append(targets, c)
		}
	}
	ls.mu.Unlock()

	for _, c := range targets {
		select {
		case c.queue <- chunk:
		default:
			select {
			case <-c.queue:
			default:
			}
			select {
			case c.queue <- chunk:
			default:
			}
		}
	}
}

// ResetArchiver starts a fresh PSI/SI archive, used when the encoding
// task restarts the pipeline on the same stream.
func (ls *LiveStream) ResetArchiver() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.archiveBuf = &archiveBuffer{}
	ls.archiver = psiarchive.NewArchiver(ls.archiveBuf)
}

// Archiver returns the PSI/SI archiver of the current run, or nil
// when the stream is down.
func (ls *LiveStream) Archiver() *psiarchive.Archiver {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.archiver
}

// ArchivedPSI returns the PSI/SI bytes archived so far this run.
func (ls *LiveStream) ArchivedPSI() []byte {
	ls.mu.Lock()
	buf := ls.archiveBuf
	ls.mu.Unlock()
	if buf == nil {
		return nil
	}
	return buf.Bytes()
}
