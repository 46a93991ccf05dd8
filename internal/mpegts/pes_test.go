package mpegts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeTimestamp packs a 33-bit PTS/DTS with the given 4-bit prefix.
func encodeTimestamp(prefix byte, v uint64) []byte {
	return []byte{
		prefix<<4 | byte(v>>30&0x7)<<1 | 1,
		byte(v >> 22),
		byte(v>>15&0x7f)<<1 | 1,
		byte(v >> 7),
		byte(v&0x7f)<<1 | 1,
	}
}

func makePES(streamID byte, pts, dts uint64, payload []byte) []byte {
	header := append(encodeTimestamp(0x3, pts), encodeTimestamp(0x1, dts)...)
	b := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x84, 0xc0, byte(len(header))}
	b = append(b, header...)
	return append(b, payload...)
}

func TestParsePES(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	pes, err := ParsePES(makePES(0xe0, 180000, 90000, payload))
	require.NoError(t, err)
	assert.Equal(t, uint8(0xe0), pes.StreamID)
	require.True(t, pes.HasPTS)
	assert.Equal(t, uint64(180000), pes.PTS)
	require.True(t, pes.HasDTS)
	assert.Equal(t, uint64(90000), pes.DTS)
	assert.Equal(t, payload, pes.Payload)
}

func TestParsePESLargeTimestamp(t *testing.T) {
	// Close to the 33-bit limit, exercising the high prefix bits.
	pts := PCRCycle - 1
	pes, err := ParsePES(makePES(0xe0, pts, pts-3003, nil))
	require.NoError(t, err)
	assert.Equal(t, pts, pes.PTS)
	assert.Equal(t, pts-3003, pes.DTS)
}

func TestParsePESRejectsBadStartCode(t *testing.T) {
	_, err := ParsePES([]byte{0x00, 0x00, 0x02, 0xe0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrBadPES)
}

func TestPESAssembler(t *testing.T) {
	var got []PES
	a := NewPESAssembler(0x100, func(p PES) { got = append(got, p) })

	full := makePES(0xe0, 90000, 90000, make([]byte, 300))

	// Split across two packets; a new unit start flushes the previous.
	feed := func(pusi bool, chunk []byte) {
		p := Packet{PID: 0x100, PayloadUnitStart: pusi, AdaptationFieldControl: 0x1, Payload: chunk}
		a.Feed(p)
	}
	feed(true, full[:184])
	feed(false, full[184:])
	require.Empty(t, got)

	feed(true, full[:184]) // next PES begins, previous completes
	require.Len(t, got, 1)
	assert.Equal(t, uint64(90000), got[0].PTS)
	assert.Len(t, got[0].Payload, 300)

	a.Flush()
	// The second PES was truncated at 184 bytes but still parses.
	require.Len(t, got, 2)
}

func TestPESAssemblerIgnoresOtherPIDs(t *testing.T) {
	calls := 0
	a := NewPESAssembler(0x100, func(PES) { calls++ })
	a.Feed(Packet{PID: 0x200, PayloadUnitStart: true, AdaptationFieldControl: 0x1, Payload: makePES(0xe0, 0, 0, nil)})
	a.Flush()
	assert.Zero(t, calls)
}
