package psiarchive

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisui-tv/hisui/internal/mpegts"
)

// makeSection builds a CRC-valid syntax section.
func makeSection(tableID byte, body []byte) []byte {
	s := append([]byte{tableID, 0, 0}, body...)
	total := len(body) + 4
	s[1] = 0xb0 | byte(total>>8)
	s[2] = byte(total)
	return mpegts.AppendSectionCRC(s)
}

func patSection(pmtPID uint16) []byte {
	return makeSection(0x00, []byte{
		0x7f, 0xe0, 0xc1, 0x00, 0x00,
		0x04, 0x00, 0xe0 | byte(pmtPID>>8), byte(pmtPID),
	})
}

func feedSection(a *Archiver, pid uint16, section []byte) {
	b := mpegts.NewPacketBuilder()
	raw := b.WriteSection(pid, section)
	for off := 0; off < len(raw); off += mpegts.PacketSize {
		a.FeedPacket(raw[off : off+mpegts.PacketSize])
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	var file bytes.Buffer
	a := NewArchiver(&file)

	pat := patSection(0x1f0)
	sdt := makeSection(0x42, append([]byte{0x7f, 0xe0, 0xc1, 0x00, 0x00, 0x7f, 0xe0, 0xff}, make([]byte, 20)...))

	a.SetTime(0)
	feedSection(a, mpegts.PIDPAT, pat)
	a.SetTime(1500 * time.Millisecond)
	feedSection(a, mpegts.PIDSDT, sdt)
	require.NoError(t, a.Flush())

	r := NewReader(bytes.NewReader(file.Bytes()), nil)
	sections, err := r.NextChunk()
	require.NoError(t, err)
	require.Len(t, sections, 2)

	assert.Equal(t, mpegts.PIDPAT, sections[0].PID)
	assert.Equal(t, pat, sections[0].Data)
	assert.True(t, sections[0].HasTime)
	assert.Equal(t, time.Duration(0), sections[0].Time)

	assert.Equal(t, mpegts.PIDSDT, sections[1].PID)
	assert.Equal(t, sdt, sections[1].Data)
	assert.Equal(t, 1500*time.Millisecond, sections[1].Time)

	_, err = r.NextChunk()
	assert.ErrorIs(t, err, io.EOF)
}

func TestArchiveDictionaryReuseAcrossChunks(t *testing.T) {
	var file bytes.Buffer
	a := NewArchiver(&file)

	pat := patSection(0x1f0)
	a.SetTime(0)
	feedSection(a, mpegts.PIDPAT, pat)
	require.NoError(t, a.Flush())

	// The identical section repeats in the next chunk; the dictionary
	// entry is reused, not re-sent.
	a.SetTime(2 * time.Second)
	feedSection(a, mpegts.PIDPAT, pat)
	require.NoError(t, a.Flush())

	r := NewReader(bytes.NewReader(file.Bytes()), nil)

	sections, err := r.NextChunk()
	require.NoError(t, err)
	require.Len(t, sections, 1)

	sections, err = r.NextChunk()
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, pat, sections[0].Data)
	assert.Equal(t, 2*time.Second, sections[0].Time)
}

func TestArchiveDiscoversPMT(t *testing.T) {
	var file bytes.Buffer
	a := NewArchiver(&file)

	pmt := makeSection(0x02, []byte{
		0x04, 0x00, 0xc1, 0x00, 0x00,
		0xe1, 0x00, 0xf0, 0x00,
		0x1b, 0xe1, 0x00, 0xf0, 0x00,
	})

	// PMT before PAT is ignored; its PID is unknown.
	a.SetTime(0)
	feedSection(a, 0x1f0, pmt)
	feedSection(a, mpegts.PIDPAT, patSection(0x1f0))
	feedSection(a, 0x1f0, pmt)
	require.NoError(t, a.Flush())

	r := NewReader(bytes.NewReader(file.Bytes()), nil)
	sections, err := r.NextChunk()
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, mpegts.PIDPAT, sections[0].PID)
	assert.Equal(t, uint16(0x1f0), sections[1].PID)
	assert.Equal(t, pmt, sections[1].Data)
}

func TestReaderFiltersTargetPIDs(t *testing.T) {
	var file bytes.Buffer
	a := NewArchiver(&file)

	a.SetTime(0)
	feedSection(a, mpegts.PIDPAT, patSection(0x1f0))
	feedSection(a, mpegts.PIDSDT, makeSection(0x42, append([]byte{0x7f, 0xe0, 0xc1, 0x00, 0x00, 0x7f, 0xe0, 0xff}, make([]byte, 8)...)))
	require.NoError(t, a.Flush())

	r := NewReader(bytes.NewReader(file.Bytes()), []uint16{mpegts.PIDSDT})
	sections, err := r.NextChunk()
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, mpegts.PIDSDT, sections[0].PID)
}

func TestSynthesizedTSParsesBack(t *testing.T) {
	var file bytes.Buffer
	a := NewArchiver(&file)

	pat := patSection(0x1f0)
	big := makeSection(0x42, append([]byte{0x7f, 0xe0, 0xc1, 0x00, 0x00, 0x7f, 0xe0, 0xff}, make([]byte, 400)...))

	a.SetTime(0)
	feedSection(a, mpegts.PIDPAT, pat)
	feedSection(a, mpegts.PIDSDT, big)
	require.NoError(t, a.Flush())

	r := NewReader(bytes.NewReader(file.Bytes()), nil)
	sections, err := r.NextChunk()
	require.NoError(t, err)

	ts := r.SynthesizeTS(sections)
	require.Zero(t, len(ts)%mpegts.PacketSize)

	// Reassembling the synthesized flow yields the original bytes.
	var got [][]byte
	asm := mpegts.NewSectionAssembler(func(pid uint16, section []byte) {
		cp := make([]byte, len(section))
		copy(cp, section)
		got = append(got, cp)
	})
	for off := 0; off < len(ts); off += mpegts.PacketSize {
		p, err := mpegts.Parse(ts[off:])
		require.NoError(t, err)
		asm.Feed(p)
	}
	require.Len(t, got, 2)
	assert.Equal(t, pat, got[0])
	assert.Equal(t, big, got[1])
}

func TestEvictOldestDropsOrphanedOccurrences(t *testing.T) {
	a := NewArchiver(io.Discard)
	first := makeSection(0x42, []byte{0x7f, 0xe0, 0xc1, 0x00, 0x00, 0x01})
	second := makeSection(0x42, []byte{0x7f, 0xe0, 0xc1, 0x00, 0x00, 0x02})

	a.SetTime(0)
	feedSection(a, mpegts.PIDSDT, first)
	feedSection(a, mpegts.PIDSDT, second)
	a.evictOldest()

	// The evicted entry's occurrence is gone, not re-pointed at the
	// entry that slid into index 0.
	require.Len(t, a.pending, 1)
	assert.Equal(t, 0, a.pending[0].index)
	assert.Equal(t, second, a.window[a.pending[0].index].data)
	assert.Equal(t, len(second), a.newData)
}

func TestReaderRejectsBadMagic(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("notpsscdata......")), nil)
	_, err := r.NextChunk()
	assert.ErrorIs(t, err, ErrBadMagic)
}
