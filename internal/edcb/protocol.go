// Package edcb implements the CtrlCmd binary RPC protocol spoken by the
// EDCB recorder daemon, plus the datagram codecs for every payload the
// server consumes.
//
// Framing is little-endian: u32 command (or status on responses), u32
// payload length, then the payload. "v2" commands prefix the payload with
// a u16 protocol version. Composite payload types carry a u32 total-size
// prefix (including the prefix itself) so readers can skip unknown
// trailing fields added by newer daemons.
package edcb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// ProtocolVersion is the CtrlCmd protocol version sent with v2 commands.
const ProtocolVersion = 5

// Command codes.
const (
	CmdRelayViewStream uint32 = 301

	CmdEnumService  uint32 = 1021
	CmdEnumPgInfoEx uint32 = 1029
	CmdDelReserve   uint32 = 1014
	CmdDelAutoAdd   uint32 = 1033
	CmdFileCopy     uint32 = 1060
	CmdNwTVIDSetCh  uint32 = 1073
	CmdNwTVIDClose  uint32 = 1074
	CmdNwPlayTFOpen uint32 = 1088
	CmdNwPlayTFClose uint32 = 1089

	CmdEnumReserve2     uint32 = 2011
	CmdAddReserve2      uint32 = 2013
	CmdChgReserve2      uint32 = 2015
	CmdFileCopy2        uint32 = 2060
	CmdEnumAutoAdd2     uint32 = 2131
	CmdAddAutoAdd2      uint32 = 2132
	CmdChgAutoAdd2      uint32 = 2134
	CmdGetStatusNotify2 uint32 = 2200
)

// Response status codes.
const (
	StatusSuccess    uint32 = 1
	StatusErr        uint32 = 0
	StatusNext       uint32 = 2
	StatusNonSupport uint32 = 3
)

// maxPayloadSize guards against nonsense length prefixes from a broken
// or hostile peer.
const maxPayloadSize = 64 << 20

// Protocol errors.
var (
	// ErrShortBuffer reports a truncated or size-inconsistent datagram.
	// It is recoverable: the caller drops the datagram and moves on.
	ErrShortBuffer = errors.New("edcb: short buffer")

	// ErrCommandFailed reports a non-success status from the daemon.
	ErrCommandFailed = errors.New("edcb: command failed")

	// ErrVersionMismatch reports an unsupported protocol version.
	ErrVersionMismatch = errors.New("edcb: protocol version mismatch")
)

// JST is the fixed timezone all SYSTEMTIME values are expressed in,
// regardless of host timezone.
var JST = time.FixedZone("JST", 9*60*60)

var (
	utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
)

// writeFrame writes one framed command to w.
func writeFrame(w io.Writer, cmd uint32, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], cmd)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

// readFrame reads one framed response from r. The first word is the
// status code on responses.
func readFrame(r io.Reader) (status uint32, payload []byte, err error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}
	status = binary.LittleEndian.Uint32(hdr[0:4])
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size > maxPayloadSize {
		return 0, nil, fmt.Errorf("%w: declared payload size %d", ErrShortBuffer, size)
	}
	if size > 0 {
		payload = make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("reading frame payload: %w", err)
		}
	}
	return status, payload, nil
}

// reader is a bounds-checked little-endian datagram reader. All read
// helpers return ErrShortBuffer instead of panicking on truncated input.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// string reads a length-prefixed UTF-16LE string. The u32 prefix counts
// itself, the body, and the trailing u16 NUL.
func (r *reader) string() (string, error) {
	size, err := r.uint32()
	if err != nil {
		return "", err
	}
	if size < 6 {
		// Prefix plus NUL only: the empty string is encoded as size 6
		// in practice, but tolerate 4 (no body, no NUL).
		if size == 4 {
			return "", nil
		}
		if size != 6 {
			return "", ErrShortBuffer
		}
	}
	body, err := r.bytes(int(size) - 4)
	if err != nil {
		return "", err
	}
	if len(body) < 2 {
		return "", ErrShortBuffer
	}
	body = body[:len(body)-2] // strip NUL16
	decoded, err := utf16Decoder.Bytes(body)
	if err != nil {
		return "", fmt.Errorf("%w: invalid UTF-16", ErrShortBuffer)
	}
	return string(decoded), nil
}

// systemTime reads a Windows SYSTEMTIME, always interpreted as JST.
func (r *reader) systemTime() (time.Time, error) {
	b, err := r.bytes(16)
	if err != nil {
		return time.Time{}, err
	}
	year := binary.LittleEndian.Uint16(b[0:2])
	month := binary.LittleEndian.Uint16(b[2:4])
	// b[4:6] is DayOfWeek, ignored on read.
	day := binary.LittleEndian.Uint16(b[6:8])
	hour := binary.LittleEndian.Uint16(b[8:10])
	minute := binary.LittleEndian.Uint16(b[10:12])
	second := binary.LittleEndian.Uint16(b[12:14])
	milli := binary.LittleEndian.Uint16(b[14:16])
	if year == 0 {
		return time.Time{}, nil
	}
	return time.Date(int(year), time.Month(month), int(day),
		int(hour), int(minute), int(second), int(milli)*int(time.Millisecond), JST), nil
}

// structReader reads the u32 total-size prefix of a composite and
// returns a sub-reader bounded to the declared size. When the sub-reader
// is discarded, the parent has already advanced past the whole
// composite, so unknown trailing fields are skipped for free.
func (r *reader) structReader() (*reader, error) {
	size, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if size < 4 {
		return nil, ErrShortBuffer
	}
	body, err := r.bytes(int(size) - 4)
	if err != nil {
		return nil, err
	}
	return newReader(body), nil
}

// vectorHeader reads the u32 total-bytes and u32 element-count prefix of
// a vector and returns the element count bounded by a sub-reader.
func (r *reader) vectorReader() (*reader, int, error) {
	size, err := r.uint32()
	if err != nil {
		return nil, 0, err
	}
	if size < 8 {
		return nil, 0, ErrShortBuffer
	}
	body, err := r.bytes(int(size) - 4)
	if err != nil {
		return nil, 0, err
	}
	sub := newReader(body)
	count, err := sub.uint32()
	if err != nil {
		return nil, 0, err
	}
	return sub, int(count), nil
}

// writer builds little-endian datagrams.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{}
}

func (w *writer) bytesOut() []byte {
	return w.buf
}

func (w *writer) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) int32(v int32) {
	w.uint32(uint32(v))
}

func (w *writer) uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// string writes a length-prefixed UTF-16LE string with trailing NUL.
func (w *writer) string(s string) {
	encoded, err := utf16Encoder.Bytes([]byte(s))
	if err != nil {
		// Unencodable runes should not occur for valid UTF-8 input;
		// fall back to the empty string rather than corrupt the frame.
		encoded = nil
	}
	w.uint32(uint32(4 + len(encoded) + 2))
	w.buf = append(w.buf, encoded...)
	w.uint16(0) // NUL16
}

// systemTime writes a Windows SYSTEMTIME in JST.
func (w *writer) systemTime(t time.Time) {
	if t.IsZero() {
		w.buf = append(w.buf, make([]byte, 16)...)
		return
	}
	t = t.In(JST)
	w.uint16(uint16(t.Year()))
	w.uint16(uint16(t.Month()))
	w.uint16(uint16(t.Weekday()))
	w.uint16(uint16(t.Day()))
	w.uint16(uint16(t.Hour()))
	w.uint16(uint16(t.Minute()))
	w.uint16(uint16(t.Second()))
	w.uint16(uint16(t.Nanosecond() / int(time.Millisecond)))
}

// structEnd backpatches the u32 total-size prefix reserved at mark.
type structMark int

// structBegin reserves the composite size prefix and returns its mark.
func (w *writer) structBegin() structMark {
	mark := structMark(len(w.buf))
	w.uint32(0)
	return mark
}

// structEnd writes the total size (including the prefix) at mark.
func (w *writer) structEnd(mark structMark) {
	binary.LittleEndian.PutUint32(w.buf[mark:mark+4], uint32(len(w.buf)-int(mark)))
}

// vectorBegin reserves a vector header (total bytes + element count).
func (w *writer) vectorBegin(count int) structMark {
	mark := structMark(len(w.buf))
	w.uint32(0)
	w.uint32(uint32(count))
	return mark
}

// vectorEnd backpatches the vector total-byte prefix.
func (w *writer) vectorEnd(mark structMark) {
	binary.LittleEndian.PutUint32(w.buf[mark:mark+4], uint32(len(w.buf)-int(mark)))
}
