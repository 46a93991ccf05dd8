package mpegts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeSection builds a syntax section with a valid length and CRC.
func makeSection(tableID byte, body []byte) []byte {
	s := append([]byte{tableID, 0, 0}, body...)
	total := len(body) + 4
	s[1] = 0xb0 | byte(total>>8)
	s[2] = byte(total)
	return AppendSectionCRC(s)
}

func feedSections(t *testing.T, a *SectionAssembler, pid uint16, section []byte) {
	t.Helper()
	b := NewPacketBuilder()
	raw := b.WriteSection(pid, section)
	for off := 0; off < len(raw); off += PacketSize {
		p, err := Parse(raw[off:])
		require.NoError(t, err)
		a.Feed(p)
	}
}

func TestSectionAssemblerSinglePacket(t *testing.T) {
	var got [][]byte
	a := NewSectionAssembler(func(pid uint16, section []byte) {
		cp := make([]byte, len(section))
		copy(cp, section)
		got = append(got, cp)
	})

	section := makeSection(0x00, []byte{0x12, 0x34, 0xc1, 0x00, 0x00})
	feedSections(t, a, PIDPAT, section)
	require.Len(t, got, 1)
	assert.Equal(t, section, got[0])
}

func TestSectionAssemblerMultiPacket(t *testing.T) {
	var got [][]byte
	a := NewSectionAssembler(func(pid uint16, section []byte) {
		cp := make([]byte, len(section))
		copy(cp, section)
		got = append(got, cp)
	})

	body := make([]byte, 600)
	for i := range body {
		body[i] = byte(i * 7)
	}
	section := makeSection(0x42, body)
	feedSections(t, a, PIDSDT, section)
	require.Len(t, got, 1)
	assert.Equal(t, section, got[0])
}

func TestSectionAssemblerDropsBadCRC(t *testing.T) {
	calls := 0
	a := NewSectionAssembler(func(pid uint16, section []byte) { calls++ })

	section := makeSection(0x00, []byte{0x12, 0x34, 0xc1, 0x00, 0x00})
	section[3] ^= 0xff // corrupt after CRC was computed
	feedSections(t, a, PIDPAT, section)
	assert.Zero(t, calls)
}

func TestSectionAssemblerDropsOnDiscontinuity(t *testing.T) {
	calls := 0
	a := NewSectionAssembler(func(pid uint16, section []byte) { calls++ })

	body := make([]byte, 600)
	section := makeSection(0x42, body)
	b := NewPacketBuilder()
	raw := b.WriteSection(PIDSDT, section)

	// Drop the middle packet to break continuity.
	for _, off := range []int{0, 2 * PacketSize} {
		p, err := Parse(raw[off:])
		require.NoError(t, err)
		a.Feed(p)
	}
	assert.Zero(t, calls)
}

func TestParsePAT(t *testing.T) {
	body := []byte{
		0x7f, 0xe0, // TSID
		0xc1, 0x00, 0x00,
		0x00, 0x00, 0xe0, 0x10, // program 0 -> NIT
		0x04, 0x00, 0xe1, 0xf0, // program 1024 -> PMT 0x1f0
	}
	pat, ok := ParsePAT(makeSection(TableIDPAT, body))
	require.True(t, ok)
	assert.Equal(t, uint16(0x7fe0), pat.TransportStreamID)
	require.Len(t, pat.Programs, 1)
	assert.Equal(t, uint16(0x1f0), pat.Programs[1024])
}

func TestParsePMT(t *testing.T) {
	body := []byte{
		0x04, 0x00, // program 1024
		0xc1, 0x00, 0x00,
		0xe1, 0x00, // PCR PID 0x100
		0xf0, 0x00, // no program info
		// H.264 video on 0x100 with component tag 0x00
		0x1b, 0xe1, 0x00, 0xf0, 0x03, 0x52, 0x01, 0x00,
		// ADTS audio on 0x110 with component tag 0x10
		0x0f, 0xe1, 0x10, 0xf0, 0x03, 0x52, 0x01, 0x10,
	}
	pmt, ok := ParsePMT(makeSection(TableIDPMT, body))
	require.True(t, ok)
	assert.Equal(t, uint16(1024), pmt.ProgramNumber)
	assert.Equal(t, uint16(0x100), pmt.PCRPID)
	require.Len(t, pmt.Streams, 2)
	assert.Equal(t, uint8(StreamTypeH264), pmt.Streams[0].StreamType)
	assert.Equal(t, uint16(0x100), pmt.Streams[0].PID)
	assert.True(t, pmt.Streams[1].HasComponent)
	assert.Equal(t, uint8(0x10), pmt.Streams[1].ComponentTag)
}

func TestParseSDT(t *testing.T) {
	// Service name "日" in ARIB kanji coding (JIS X 0208 0x467c).
	name := []byte{0x46, 0x7c}
	svcDesc := append([]byte{0x48, byte(3 + len(name)), 0x01, 0x00, byte(len(name))}, name...)
	loop := append([]byte{0x04, 0x00, 0xfc, 0xf0 | byte(len(svcDesc)>>8), byte(len(svcDesc))}, svcDesc...)
	body := append([]byte{
		0x7f, 0xe0, // TSID
		0xc1, 0x00, 0x00,
		0x7f, 0xe0, // network id
		0xff,
	}, loop...)

	sdt, ok := ParseSDT(makeSection(TableIDSDTActual, body))
	require.True(t, ok)
	assert.Equal(t, uint16(0x7fe0), sdt.NetworkID)
	require.Len(t, sdt.Services, 1)
	assert.Equal(t, uint16(1024), sdt.Services[0].ServiceID)
	assert.Equal(t, uint8(0x01), sdt.Services[0].ServiceType)
	assert.Equal(t, "日", sdt.Services[0].Name)
}

func TestParseNIT(t *testing.T) {
	// TS information descriptor: remocon id 1, ts name "日".
	tsName := []byte{0x46, 0x7c}
	tsInfo := append([]byte{0xcd, byte(2 + len(tsName)), 0x01, byte(len(tsName)) << 2}, tsName...)
	tsLoop := append([]byte{
		0x7f, 0xe0, // TSID
		0x7f, 0xe0, // ONID
		0xf0 | byte(len(tsInfo)>>8), byte(len(tsInfo)),
	}, tsInfo...)
	body := append([]byte{
		0x7f, 0xe0, // network id
		0xc1, 0x00, 0x00,
		0xf0, 0x00, // no network descriptors
		0xf0 | byte(len(tsLoop)>>8), byte(len(tsLoop)),
	}, tsLoop...)

	nit, ok := ParseNIT(makeSection(TableIDNITActual, body))
	require.True(t, ok)
	assert.Equal(t, uint16(0x7fe0), nit.NetworkID)
	assert.Equal(t, uint8(1), nit.RemoconID)
	assert.Equal(t, "日", nit.TSName)
}

func TestDecodeMJDTime(t *testing.T) {
	// The ETSI EN 300 468 worked example: 93/10/13 12:45:00.
	got, ok := decodeMJDTime([]byte{0xc0, 0x79, 0x12, 0x45, 0x00})
	require.True(t, ok)
	want := time.Date(1993, 10, 13, 12, 45, 0, 0, jst)
	assert.True(t, want.Equal(got), "got %v", got)

	_, ok = decodeMJDTime([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	assert.False(t, ok)
}

func TestParseTOT(t *testing.T) {
	body := []byte{0xc0, 0x79, 0x12, 0x45, 0x00, 0xf0, 0x00}
	section := append([]byte{TableIDTOT, 0, 0}, body...)
	total := len(body) + 4
	section[1] = 0xb0 | byte(total>>8)
	section[2] = byte(total)
	section = AppendSectionCRC(section)

	got, ok := ParseTOT(section)
	require.True(t, ok)
	assert.Equal(t, 1993, got.Year())
	assert.Equal(t, 12, got.Hour())
}

func TestParseEIT(t *testing.T) {
	// Title "日" plus a drama genre.
	title := []byte{0x46, 0x7c}
	shortEvent := append([]byte{0x4d, byte(5 + len(title)), 'j', 'p', 'n', byte(len(title))}, title...)
	shortEvent = append(shortEvent, 0x00) // empty text
	content := []byte{0x54, 0x02, 0x30, 0xff}
	descs := append(shortEvent, content...)

	event := []byte{
		0x75, 0x31, // event id 0x7531
		0xc0, 0x79, 0x12, 0x45, 0x00, // start 93/10/13 12:45
		0x00, 0x30, 0x00, // duration 00:30:00
		byte(len(descs) >> 8), byte(len(descs)),
	}
	event = append(event, descs...)

	body := append([]byte{
		0x04, 0x00, // service id 1024
		0xc1, 0x00, 0x01,
		0x7f, 0xe0, // TSID
		0x7f, 0xe0, // ONID
		0x00, 0x4e,
	}, event...)

	eit, ok := ParseEIT(makeSection(TableIDEITActualPF, body))
	require.True(t, ok)
	assert.Equal(t, uint16(1024), eit.ServiceID)
	assert.Equal(t, uint8(0), eit.SectionNumber)
	require.Len(t, eit.Events, 1)

	ev := eit.Events[0]
	assert.Equal(t, uint16(0x7531), ev.EventID)
	assert.Equal(t, "日", ev.Title)
	assert.True(t, ev.HasDuration)
	assert.Equal(t, 30*time.Minute, ev.Duration)
	assert.True(t, ev.HasGenre)
	assert.Equal(t, "ドラマ", ev.GenreMajor)
	assert.Equal(t, "国内ドラマ", ev.GenreMiddle)
}

func TestParseEITUndecidedDuration(t *testing.T) {
	event := []byte{
		0x00, 0x01,
		0xc0, 0x79, 0x12, 0x45, 0x00,
		0xff, 0xff, 0xff, // undecided
		0x00, 0x00,
	}
	body := append([]byte{
		0x04, 0x00,
		0xc1, 0x00, 0x01,
		0x7f, 0xe0,
		0x7f, 0xe0,
		0x00, 0x4e,
	}, event...)

	eit, ok := ParseEIT(makeSection(TableIDEITActualPF, body))
	require.True(t, ok)
	require.Len(t, eit.Events, 1)
	assert.False(t, eit.Events[0].HasDuration)
}
