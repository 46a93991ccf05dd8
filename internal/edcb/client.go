package edcb

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Client talks to an EDCB daemon over TCP or a UNIX domain socket. Every
// call opens its own connection, so a Client is safe for concurrent use.
type Client struct {
	network string
	address string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call connect-and-roundtrip timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// NewClient returns a client for a TCP endpoint ("host:port").
func NewClient(address string, opts ...Option) *Client {
	c := &Client{
		network: "tcp",
		address: address,
		timeout: 15 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewPipeClient returns a client for a local UNIX domain socket.
func NewPipeClient(path string, opts ...Option) *Client {
	c := NewClient(path, opts...)
	c.network = "unix"
	return c
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", c.network, c.address, err)
	}
	return conn, nil
}

// roundTrip opens a connection, sends one command, and reads the
// response. The whole exchange is bounded by the client timeout.
func (c *Client) roundTrip(ctx context.Context, cmd uint32, payload []byte) ([]byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := writeFrame(conn, cmd, payload); err != nil {
		return nil, err
	}
	status, resp, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if status != StatusSuccess {
		if status == StatusNonSupport {
			return nil, fmt.Errorf("%w: command %d not supported", ErrCommandFailed, cmd)
		}
		return nil, fmt.Errorf("%w: command %d, status %d", ErrCommandFailed, cmd, status)
	}
	return resp, nil
}

// roundTrip2 wraps roundTrip for v2 commands, which carry a u16
// protocol version at the head of both request and response payloads.
func (c *Client) roundTrip2(ctx context.Context, cmd uint32, payload []byte) (*reader, error) {
	w := newWriter()
	w.uint16(ProtocolVersion)
	w.buf = append(w.buf, payload...)

	resp, err := c.roundTrip(ctx, cmd, w.bytesOut())
	if err != nil {
		return nil, err
	}
	r := newReader(resp)
	ver, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if ver > ProtocolVersion {
		return nil, fmt.Errorf("%w: server speaks version %d", ErrVersionMismatch, ver)
	}
	return r, nil
}

// EnumService lists the services the daemon can tune.
func (c *Client) EnumService(ctx context.Context) ([]ServiceInfo, error) {
	resp, err := c.roundTrip(ctx, CmdEnumService, nil)
	if err != nil {
		return nil, err
	}
	r := newReader(resp)
	vec, count, err := r.vectorReader()
	if err != nil {
		return nil, err
	}
	services := make([]ServiceInfo, 0, count)
	for i := 0; i < count; i++ {
		s, err := readServiceInfo(vec)
		if err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, nil
}

// ServiceKey packs a service identity for EnumProgramInfo filters. The
// layout is ONID<<32 | TSID<<16 | SID.
func ServiceKey(onid, tsid, sid uint16) uint64 {
	return uint64(onid)<<32 | uint64(tsid)<<16 | uint64(sid)
}

// EnumProgramInfo fetches the EPG for the services identified by keys.
func (c *Client) EnumProgramInfo(ctx context.Context, keys []uint64) ([]ServiceEventInfo, error) {
	w := newWriter()
	vmark := w.vectorBegin(len(keys))
	for _, k := range keys {
		w.uint64(k)
	}
	w.vectorEnd(vmark)

	resp, err := c.roundTrip(ctx, CmdEnumPgInfoEx, w.bytesOut())
	if err != nil {
		return nil, err
	}
	r := newReader(resp)
	vec, count, err := r.vectorReader()
	if err != nil {
		return nil, err
	}
	infos := make([]ServiceEventInfo, 0, count)
	for i := 0; i < count; i++ {
		s, err := readServiceEventInfo(vec)
		if err != nil {
			return nil, err
		}
		infos = append(infos, s)
	}
	return infos, nil
}

// EnumReserve lists all recording reservations.
func (c *Client) EnumReserve(ctx context.Context) ([]ReserveData, error) {
	r, err := c.roundTrip2(ctx, CmdEnumReserve2, nil)
	if err != nil {
		return nil, err
	}
	vec, count, err := r.vectorReader()
	if err != nil {
		return nil, err
	}
	reserves := make([]ReserveData, 0, count)
	for i := 0; i < count; i++ {
		d, err := readReserveData(vec)
		if err != nil {
			return nil, err
		}
		reserves = append(reserves, d)
	}
	return reserves, nil
}

// AddReserve registers new recording reservations.
func (c *Client) AddReserve(ctx context.Context, reserves []ReserveData) error {
	w := newWriter()
	vmark := w.vectorBegin(len(reserves))
	for i := range reserves {
		reserves[i].write(w)
	}
	w.vectorEnd(vmark)
	_, err := c.roundTrip2(ctx, CmdAddReserve2, w.bytesOut())
	return err
}

// ChgReserve updates existing recording reservations in place.
func (c *Client) ChgReserve(ctx context.Context, reserves []ReserveData) error {
	w := newWriter()
	vmark := w.vectorBegin(len(reserves))
	for i := range reserves {
		reserves[i].write(w)
	}
	w.vectorEnd(vmark)
	_, err := c.roundTrip2(ctx, CmdChgReserve2, w.bytesOut())
	return err
}

// DelReserve deletes reservations by id.
func (c *Client) DelReserve(ctx context.Context, reserveIDs []uint32) error {
	w := newWriter()
	vmark := w.vectorBegin(len(reserveIDs))
	for _, id := range reserveIDs {
		w.uint32(id)
	}
	w.vectorEnd(vmark)
	_, err := c.roundTrip(ctx, CmdDelReserve, w.bytesOut())
	return err
}

// EnumAutoAdd lists all keyword reservation rules.
func (c *Client) EnumAutoAdd(ctx context.Context) ([]AutoAddData, error) {
	r, err := c.roundTrip2(ctx, CmdEnumAutoAdd2, nil)
	if err != nil {
		return nil, err
	}
	vec, count, err := r.vectorReader()
	if err != nil {
		return nil, err
	}
	rules := make([]AutoAddData, 0, count)
	for i := 0; i < count; i++ {
		d, err := readAutoAddData(vec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, d)
	}
	return rules, nil
}

// AddAutoAdd registers new keyword reservation rules.
func (c *Client) AddAutoAdd(ctx context.Context, rules []AutoAddData) error {
	w := newWriter()
	vmark := w.vectorBegin(len(rules))
	for i := range rules {
		rules[i].write(w)
	}
	w.vectorEnd(vmark)
	_, err := c.roundTrip2(ctx, CmdAddAutoAdd2, w.bytesOut())
	return err
}

// ChgAutoAdd updates existing keyword reservation rules.
func (c *Client) ChgAutoAdd(ctx context.Context, rules []AutoAddData) error {
	w := newWriter()
	vmark := w.vectorBegin(len(rules))
	for i := range rules {
		rules[i].write(w)
	}
	w.vectorEnd(vmark)
	_, err := c.roundTrip2(ctx, CmdChgAutoAdd2, w.bytesOut())
	return err
}

// DelAutoAdd deletes keyword reservation rules by id.
func (c *Client) DelAutoAdd(ctx context.Context, dataIDs []uint32) error {
	w := newWriter()
	vmark := w.vectorBegin(len(dataIDs))
	for _, id := range dataIDs {
		w.uint32(id)
	}
	w.vectorEnd(vmark)
	_, err := c.roundTrip(ctx, CmdDelAutoAdd, w.bytesOut())
	return err
}

// FileCopy fetches one file from the daemon's setting directory, such
// as "ChSet5.txt" or "Bitrate.ini".
func (c *Client) FileCopy(ctx context.Context, name string) ([]byte, error) {
	w := newWriter()
	w.string(name)
	return c.roundTrip(ctx, CmdFileCopy, w.bytesOut())
}

// FileCopy2 fetches several files in one exchange.
func (c *Client) FileCopy2(ctx context.Context, names []string) ([]FileData, error) {
	w := newWriter()
	vmark := w.vectorBegin(len(names))
	for _, n := range names {
		w.string(n)
	}
	w.vectorEnd(vmark)

	r, err := c.roundTrip2(ctx, CmdFileCopy2, w.bytesOut())
	if err != nil {
		return nil, err
	}
	vec, count, err := r.vectorReader()
	if err != nil {
		return nil, err
	}
	files := make([]FileData, 0, count)
	for i := 0; i < count; i++ {
		sub, err := vec.structReader()
		if err != nil {
			return nil, err
		}
		var f FileData
		if f.Name, err = sub.string(); err != nil {
			return nil, err
		}
		if f.Status, err = sub.uint32(); err != nil {
			return nil, err
		}
		size, err := sub.uint32()
		if err != nil {
			return nil, err
		}
		if f.Data, err = sub.bytes(int(size)); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// SetNetworkTVCh starts or retunes a NetworkTV tuner process. The
// returned value is the tuner's process id, which RelayViewStream
// needs to attach to its TS output.
func (c *Client) SetNetworkTVCh(ctx context.Context, ch SetChInfo) (processID uint32, err error) {
	w := newWriter()
	ch.write(w)
	resp, err := c.roundTrip(ctx, CmdNwTVIDSetCh, w.bytesOut())
	if err != nil {
		return 0, err
	}
	return newReader(resp).uint32()
}

// CloseNetworkTV stops the tuner process bound to nwtvID.
func (c *Client) CloseNetworkTV(ctx context.Context, nwtvID uint32) error {
	w := newWriter()
	w.uint32(nwtvID)
	_, err := c.roundTrip(ctx, CmdNwTVIDClose, w.bytesOut())
	return err
}

// OpenViewStream opens a second connection that, after the success
// reply, carries raw MPEG-TS from the tuner process. The caller owns
// the returned connection and reads TS from it until done.
func (c *Client) OpenViewStream(ctx context.Context, processID uint32) (net.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	w := newWriter()
	w.uint32(processID)
	if err := writeFrame(conn, CmdRelayViewStream, w.bytesOut()); err != nil {
		conn.Close()
		return nil, err
	}
	status, _, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if status != StatusSuccess {
		conn.Close()
		return nil, fmt.Errorf("%w: relay view stream, status %d", ErrCommandFailed, status)
	}

	// The stream phase has no protocol deadline; the tuner session
	// supervises liveness itself.
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// OpenTimeShift resolves the output file of a currently-recording
// reservation. The returned control id must be released with
// CloseTimeShift when the caller is done with the file.
func (c *Client) OpenTimeShift(ctx context.Context, reserveID uint32) (ctrlID uint32, filePath string, err error) {
	w := newWriter()
	w.uint32(reserveID)
	resp, err := c.roundTrip(ctx, CmdNwPlayTFOpen, w.bytesOut())
	if err != nil {
		return 0, "", err
	}
	r := newReader(resp)
	sub, err := r.structReader()
	if err != nil {
		return 0, "", err
	}
	if ctrlID, err = sub.uint32(); err != nil {
		return 0, "", err
	}
	if filePath, err = sub.string(); err != nil {
		return 0, "", err
	}
	return ctrlID, filePath, nil
}

// CloseTimeShift releases a time-shift control id.
func (c *Client) CloseTimeShift(ctx context.Context, ctrlID uint32) error {
	w := newWriter()
	w.uint32(ctrlID)
	_, err := c.roundTrip(ctx, CmdNwPlayTFClose, w.bytesOut())
	return err
}

// GetRecFilePath resolves the path of a currently-recording
// reservation's output file, releasing the time-shift handle before
// returning.
func (c *Client) GetRecFilePath(ctx context.Context, reserveID uint32) (string, error) {
	ctrlID, path, err := c.OpenTimeShift(ctx, reserveID)
	if err != nil {
		return "", err
	}
	if err := c.CloseTimeShift(ctx, ctrlID); err != nil {
		c.logger.Warn("closing time-shift handle",
			slog.Uint64("ctrl_id", uint64(ctrlID)),
			slog.String("error", err.Error()),
		)
	}
	return path, nil
}

// GetStatusNotify long-polls the daemon for the next notification
// whose counter exceeds targetCount. It blocks until the daemon
// responds or ctx is done; cancelling ctx closes the connection.
func (c *Client) GetStatusNotify(ctx context.Context, targetCount uint32) (NotifySrvInfo, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return NotifySrvInfo{}, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	w := newWriter()
	w.uint16(ProtocolVersion)
	w.uint32(targetCount)
	if err := writeFrame(conn, CmdGetStatusNotify2, w.bytesOut()); err != nil {
		return NotifySrvInfo{}, err
	}

	status, resp, err := readFrame(conn)
	if err != nil {
		if ctx.Err() != nil {
			return NotifySrvInfo{}, ctx.Err()
		}
		return NotifySrvInfo{}, err
	}
	if status != StatusSuccess {
		return NotifySrvInfo{}, fmt.Errorf("%w: status notify, status %d", ErrCommandFailed, status)
	}

	r := newReader(resp)
	ver, err := r.uint16()
	if err != nil {
		return NotifySrvInfo{}, err
	}
	if ver > ProtocolVersion {
		return NotifySrvInfo{}, fmt.Errorf("%w: server speaks version %d", ErrVersionMismatch, ver)
	}
	return readNotifySrvInfo(r)
}
