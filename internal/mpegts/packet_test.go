package mpegts

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32KnownValue(t *testing.T) {
	// CRC-32/MPEG-2 check value.
	assert.Equal(t, uint32(0x0376e6e7), CRC32([]byte("123456789")))
}

func TestAppendAndVerifySectionCRC(t *testing.T) {
	section := AppendSectionCRC([]byte{0x00, 0xb0, 0x0d, 0x12, 0x34, 0xc1, 0x00, 0x00, 0x00, 0x01, 0xe1, 0xf0})
	assert.True(t, VerifySectionCRC(section))

	section[4] ^= 0xff
	assert.False(t, VerifySectionCRC(section))
}

func TestParsePacket(t *testing.T) {
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = 0x41 // PUSI, PID high bits
	pkt[2] = 0x00 // PID 0x100
	pkt[3] = 0x1b // payload only, CC 11
	pkt[4] = 0xaa

	p, err := Parse(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x100), p.PID)
	assert.True(t, p.PayloadUnitStart)
	assert.Equal(t, uint8(11), p.ContinuityCounter)
	assert.True(t, p.HasPayload())
	assert.Equal(t, byte(0xaa), p.Payload[0])
	assert.False(t, p.HasPCR)
}

func TestParsePacketWithPCR(t *testing.T) {
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = 0x01
	pkt[2] = 0x00
	pkt[3] = 0x30 // adaptation + payload
	pkt[4] = 7    // adaptation field length
	pkt[5] = 0x10 // PCR flag
	// PCR base 90000 (one second) in the top 33 bits.
	base := uint64(90000)
	pkt[6] = byte(base >> 25)
	pkt[7] = byte(base >> 17)
	pkt[8] = byte(base >> 9)
	pkt[9] = byte(base >> 1)
	pkt[10] = byte(base&1) << 7

	p, err := Parse(pkt)
	require.NoError(t, err)
	require.True(t, p.HasPCR)
	assert.Equal(t, uint64(90000), p.PCR)
}

func TestParseRejectsBadSync(t *testing.T) {
	pkt := make([]byte, PacketSize)
	pkt[0] = 0x48
	_, err := Parse(pkt)
	assert.ErrorIs(t, err, ErrSyncLost)
}

func TestReaderResync(t *testing.T) {
	valid := make([]byte, PacketSize)
	valid[0] = SyncByte
	valid[1] = 0x00
	valid[2] = 0x42

	var stream bytes.Buffer
	stream.Write([]byte{0x12, 0x34, 0x56}) // garbage prefix
	stream.Write(valid)
	stream.Write(valid)

	r := NewReader(&stream)
	for i := 0; i < 2; i++ {
		pkt, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, byte(SyncByte), pkt[0])
		assert.Equal(t, byte(0x42), pkt[2])
	}
	// The stream ends on a packet boundary, so this is a clean EOF.
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderResyncTruncated(t *testing.T) {
	valid := make([]byte, PacketSize)
	valid[0] = SyncByte

	var stream bytes.Buffer
	stream.Write([]byte{0x12, 0x34, 0x56}) // garbage prefix
	stream.Write(valid[:PacketSize-2])     // never completes a packet

	r := NewReader(&stream)
	_, err := r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPacketBuilderSinglePacket(t *testing.T) {
	b := NewPacketBuilder()
	section := AppendSectionCRC([]byte{0x00, 0xb0, 0x09, 0x12, 0x34, 0xc1, 0x00, 0x00})
	out := b.WriteSection(0x0000, section)

	require.Len(t, out, PacketSize)
	p, err := Parse(out)
	require.NoError(t, err)
	assert.True(t, p.PayloadUnitStart)
	assert.Equal(t, uint16(0), p.PID)
	assert.Equal(t, byte(0x00), p.Payload[0]) // pointer field
	assert.Equal(t, section, p.Payload[1:1+len(section)])
	// Padding after the section is 0xff.
	assert.Equal(t, byte(0xff), p.Payload[1+len(section)])
}

func TestPacketBuilderMultiPacketAndCounters(t *testing.T) {
	b := NewPacketBuilder()
	body := make([]byte, 400)
	for i := range body {
		body[i] = byte(i)
	}
	section := AppendSectionCRC(append([]byte{0x42, 0xb1, 0x94}, body...))
	out := b.WriteSection(0x0011, section)

	require.Len(t, out, 3*PacketSize)
	var ccs []uint8
	for i := 0; i < 3; i++ {
		p, err := Parse(out[i*PacketSize:])
		require.NoError(t, err)
		assert.Equal(t, i == 0, p.PayloadUnitStart)
		ccs = append(ccs, p.ContinuityCounter)
	}
	assert.Equal(t, []uint8{0, 1, 2}, ccs)
	assert.Equal(t, uint8(3), b.NextCounter(0x0011))
	// Counters are per PID.
	assert.Equal(t, uint8(0), b.NextCounter(0x0000))
}

func TestPCRDiffAcrossWrap(t *testing.T) {
	a := PCRCycle - 100
	b := uint64(200)
	assert.Equal(t, uint64(300), PCRDiff(a, b))
	assert.Equal(t, uint64(100), PCRDiff(0, 100))
}

func TestPCRClockMonotonicAcrossWrap(t *testing.T) {
	var c PCRClock
	assert.Equal(t, uint64(0), c.Update(PCRCycle-90000))
	before := c.Update(PCRCycle - 45000)
	after := c.Update(45000) // wrapped
	assert.Equal(t, uint64(45000), before)
	assert.Equal(t, uint64(135000), after)
	assert.Greater(t, after, before)
}

func TestPCRToDuration(t *testing.T) {
	assert.Equal(t, time.Second, PCRToDuration(90000))
	assert.Equal(t, 500*time.Millisecond, PCRToDuration(45000))
}
