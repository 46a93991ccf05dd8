// Package mpegts implements the low-level MPEG-TS plumbing shared by
// the live and recorded pipelines: packet parsing with resync, CRC32
// (MPEG-2), PCR arithmetic, PSI section assembly, and the ARIB SI
// parsers used for metadata extraction.
package mpegts

import (
	"errors"
	"io"
)

const (
	// PacketSize is the fixed MPEG-TS packet length.
	PacketSize = 188

	// SyncByte starts every valid TS packet.
	SyncByte = 0x47
)

// ErrShortPacket reports input shorter than one TS packet.
var ErrShortPacket = errors.New("mpegts: short packet")

// ErrSyncLost reports a packet that does not start with the sync byte.
var ErrSyncLost = errors.New("mpegts: sync byte mismatch")

// Packet is a parsed TS packet header plus its payload view. Payload
// aliases the input buffer; callers that retain it must copy.
type Packet struct {
	PID                    uint16
	TransportError         bool
	PayloadUnitStart       bool
	TransportPriority      bool
	ScramblingControl      uint8
	AdaptationFieldControl uint8
	ContinuityCounter      uint8

	HasPCR bool
	// PCR is the 33-bit base in 90 kHz units. The 27 MHz extension is
	// dropped; segment timing never needs sub-90kHz precision.
	PCR uint64

	Payload []byte
}

// HasPayload reports whether the adaptation field control admits a
// payload.
func (p *Packet) HasPayload() bool {
	return p.AdaptationFieldControl&0x1 != 0
}

// Parse decodes one 188-byte TS packet.
func Parse(b []byte) (Packet, error) {
	if len(b) < PacketSize {
		return Packet{}, ErrShortPacket
	}
	if b[0] != SyncByte {
		return Packet{}, ErrSyncLost
	}

	var p Packet
	p.TransportError = b[1]&0x80 != 0
	p.PayloadUnitStart = b[1]&0x40 != 0
	p.TransportPriority = b[1]&0x20 != 0
	p.PID = uint16(b[1]&0x1f)<<8 | uint16(b[2])
	p.ScramblingControl = b[3] >> 6
	p.AdaptationFieldControl = b[3] >> 4 & 0x3
	p.ContinuityCounter = b[3] & 0x0f

	offset := 4
	if p.AdaptationFieldControl&0x2 != 0 {
		afLen := int(b[4])
		offset = 5 + afLen
		if offset > PacketSize {
			return Packet{}, ErrShortPacket
		}
		if afLen >= 7 && b[5]&0x10 != 0 { // PCR flag
			p.HasPCR = true
			p.PCR = uint64(b[6])<<25 | uint64(b[7])<<17 |
				uint64(b[8])<<9 | uint64(b[9])<<1 | uint64(b[10])>>7
		}
	}
	if p.HasPayload() && offset < PacketSize {
		p.Payload = b[offset:PacketSize]
	}
	return p, nil
}

// Reader yields 188-byte aligned packets from a byte stream,
// re-synchronizing by scanning forward one byte at a time when the
// sync byte is lost.
type Reader struct {
	r   io.Reader
	buf [PacketSize]byte
}

// NewReader wraps r in a resynchronizing packet reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next aligned packet. The returned slice is reused
// across calls.
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		return nil, err
	}
	for r.buf[0] != SyncByte {
		// Shift left one byte and refill until aligned. Running out of
		// input here means a truncated packet, not a clean boundary.
		copy(r.buf[:], r.buf[1:])
		if _, err := io.ReadFull(r.r, r.buf[PacketSize-1:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return r.buf[:], nil
}

// PacketBuilder synthesizes TS packets that carry PSI sections. It
// keeps one continuity counter per PID so output streams look like a
// genuine broadcast multiplex.
type PacketBuilder struct {
	counters map[uint16]uint8
}

// NewPacketBuilder returns an empty builder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{counters: make(map[uint16]uint8)}
}

// WriteSection packetizes one complete section onto pid. The first
// packet carries payload_unit_start with a zero pointer field; the
// final packet is padded with 0xff.
func (b *PacketBuilder) WriteSection(pid uint16, section []byte) []byte {
	cc := b.counters[pid]
	var out []byte

	// pointer_field precedes the section in the first packet.
	payload := make([]byte, 0, len(section)+1)
	payload = append(payload, 0x00)
	payload = append(payload, section...)

	first := true
	for len(payload) > 0 {
		pkt := make([]byte, PacketSize)
		pkt[0] = SyncByte
		pkt[1] = byte(pid >> 8 & 0x1f)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | cc // payload only
		cc = (cc + 1) & 0x0f

		n := copy(pkt[4:], payload)
		payload = payload[n:]
		for i := 4 + n; i < PacketSize; i++ {
			pkt[i] = 0xff
		}
		out = append(out, pkt...)
	}

	b.counters[pid] = cc
	return out
}

// NextCounter returns the continuity counter that the next packet on
// pid would carry.
func (b *PacketBuilder) NextCounter(pid uint16) uint8 {
	return b.counters[pid]
}
