package mpegts

import "errors"

// ErrBadPES reports a PES header that cannot be valid.
var ErrBadPES = errors.New("mpegts: invalid PES header")

// maxPESSize bounds unbounded-length video PES assembly so a corrupt
// length field cannot grow a buffer forever.
const maxPESSize = 4 << 20

// PES is a parsed packetized elementary stream header plus payload.
type PES struct {
	StreamID uint8
	HasPTS   bool
	PTS      uint64
	HasDTS   bool
	DTS      uint64
	Payload  []byte
}

// ParsePES decodes a complete PES packet starting at its start code.
func ParsePES(b []byte) (PES, error) {
	if len(b) < 9 || b[0] != 0x00 || b[1] != 0x00 || b[2] != 0x01 {
		return PES{}, ErrBadPES
	}
	p := PES{StreamID: b[3]}

	headerLen := int(b[8])
	if 9+headerLen > len(b) {
		return PES{}, ErrBadPES
	}
	flags := b[7]
	if flags&0x80 != 0 { // PTS
		if headerLen < 5 {
			return PES{}, ErrBadPES
		}
		p.PTS = decodeTimestamp(b[9:14])
		p.HasPTS = true
	}
	if flags&0x40 != 0 { // DTS
		if headerLen < 10 {
			return PES{}, ErrBadPES
		}
		p.DTS = decodeTimestamp(b[14:19])
		p.HasDTS = true
	}
	p.Payload = b[9+headerLen:]
	return p, nil
}

// decodeTimestamp unpacks the 33-bit marker-interleaved PTS/DTS form.
func decodeTimestamp(b []byte) uint64 {
	return uint64(b[0]>>1&0x7)<<30 |
		uint64(b[1])<<22 |
		uint64(b[2]>>1)<<15 |
		uint64(b[3])<<7 |
		uint64(b[4]>>1)
}

// PESAssembler collects TS payloads on one PID into whole PES packets.
type PESAssembler struct {
	pid   uint16
	buf   []byte
	onPES func(PES)
}

// NewPESAssembler returns an assembler for pid delivering to onPES.
func NewPESAssembler(pid uint16, onPES func(PES)) *PESAssembler {
	return &PESAssembler{pid: pid, onPES: onPES}
}

// Feed consumes one parsed packet; packets on other PIDs are ignored.
func (a *PESAssembler) Feed(p Packet) {
	if p.PID != a.pid || !p.HasPayload() || len(p.Payload) == 0 {
		return
	}
	if p.PayloadUnitStart {
		a.flush()
		a.buf = append(a.buf[:0], p.Payload...)
		return
	}
	if a.buf == nil {
		return
	}
	if len(a.buf)+len(p.Payload) > maxPESSize {
		a.buf = nil
		return
	}
	a.buf = append(a.buf, p.Payload...)
}

// Flush completes the in-flight PES, for end of stream.
func (a *PESAssembler) Flush() {
	a.flush()
	a.buf = nil
}

func (a *PESAssembler) flush() {
	if len(a.buf) == 0 {
		return
	}
	if pes, err := ParsePES(a.buf); err == nil {
		a.onPES(pes)
	}
}
