package psiarchive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hisui-tv/hisui/internal/mpegts"
)

// ErrBadMagic reports a chunk that does not start with the magic.
var ErrBadMagic = errors.New("psiarchive: bad chunk magic")

// ErrCorruptChunk reports an internally inconsistent chunk.
var ErrCorruptChunk = errors.New("psiarchive: corrupt chunk")

// Section is one archived section occurrence.
type Section struct {
	PID  uint16
	Data []byte
	// Time is the stream-relative position; HasTime is false when the
	// archiver had no clock for this run.
	Time    time.Duration
	HasTime bool
}

// Reader decodes a .psc stream chunk by chunk, rebuilding the sliding
// dictionary exactly as the archiver maintained it.
type Reader struct {
	r      *bufio.Reader
	window []entry

	// TargetPIDs limits synthesized output; nil means every PID.
	targetPIDs map[uint16]bool
	builder    *mpegts.PacketBuilder
}

// NewReader wraps r. Only sections on targetPIDs are synthesized into
// TS packets; pass nil to take everything.
func NewReader(r io.Reader, targetPIDs []uint16) *Reader {
	reader := &Reader{
		r:       bufio.NewReaderSize(r, 64<<10),
		builder: mpegts.NewPacketBuilder(),
	}
	if targetPIDs != nil {
		reader.targetPIDs = make(map[uint16]bool, len(targetPIDs))
		for _, pid := range targetPIDs {
			reader.targetPIDs[pid] = true
		}
	}
	return reader
}

func (r *Reader) wants(pid uint16) bool {
	return r.targetPIDs == nil || r.targetPIDs[pid]
}

// NextChunk decodes the next chunk and returns its section
// occurrences in stream order, filtered to the target PIDs. io.EOF
// signals a clean end of archive.
func (r *Reader) NextChunk() ([]Section, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r.r, magic[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading chunk magic: %w", err)
	}
	for i, b := range Magic {
		if magic[i] != b {
			return nil, ErrBadMagic
		}
	}

	var hdr [22]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading chunk header: %w", err)
	}
	le := binary.LittleEndian
	timeListLen := int(le.Uint16(hdr[4:6]))
	dictLen := int(le.Uint16(hdr[6:8]))
	windowLen := int(le.Uint16(hdr[8:10]))
	dataSize := int(le.Uint32(hdr[10:14]))
	codeListLen := int(le.Uint32(hdr[18:22]))

	if windowLen > len(r.window) || windowLen+dictLen > WindowCap {
		return nil, ErrCorruptChunk
	}

	// The new window is the tail of the previous one plus new entries.
	tail := r.window[len(r.window)-windowLen:]
	window := make([]entry, 0, windowLen+dictLen)
	window = append(window, tail...)

	newSizes := make([]entry, dictLen)
	total := 0
	for i := 0; i < dictLen; i++ {
		var eh [4]byte
		if _, err := io.ReadFull(r.r, eh[:]); err != nil {
			return nil, fmt.Errorf("reading dictionary entry: %w", err)
		}
		newSizes[i].pid = le.Uint16(eh[0:2])
		size := int(le.Uint16(eh[2:4]))
		newSizes[i].data = make([]byte, size)
		total += size
	}
	if total != dataSize {
		return nil, ErrCorruptChunk
	}
	for i := range newSizes {
		if _, err := io.ReadFull(r.r, newSizes[i].data); err != nil {
			return nil, fmt.Errorf("reading dictionary data: %w", err)
		}
	}
	window = append(window, newSizes...)
	r.window = window

	timeList := make([]uint32, timeListLen)
	for i := range timeList {
		var tb [4]byte
		if _, err := io.ReadFull(r.r, tb[:]); err != nil {
			return nil, fmt.Errorf("reading time list: %w", err)
		}
		timeList[i] = le.Uint32(tb[:])
	}
	codeList := make([]uint16, codeListLen)
	for i := range codeList {
		var cb [2]byte
		if _, err := io.ReadFull(r.r, cb[:]); err != nil {
			return nil, fmt.Errorf("reading code list: %w", err)
		}
		codeList[i] = le.Uint16(cb[:])
	}

	return r.resolve(timeList, codeList)
}

func (r *Reader) resolve(timeList []uint32, codeList []uint16) ([]Section, error) {
	var out []Section
	codePos := 0
	var base uint32
	baseSet := false

	take := func(count int, t uint32, hasTime bool) error {
		for k := 0; k < count; k++ {
			if codePos >= len(codeList) {
				return ErrCorruptChunk
			}
			idx := int(codeList[codePos])
			codePos++
			if idx >= len(r.window) {
				return ErrCorruptChunk
			}
			e := r.window[idx]
			if !r.wants(e.pid) {
				continue
			}
			out = append(out, Section{
				PID:     e.pid,
				Data:    e.data,
				Time:    time.Duration(t) * timeUnit,
				HasTime: hasTime,
			})
		}
		return nil
	}

	i := 0
	for i < len(timeList) {
		rec := timeList[i]
		i++
		switch {
		case rec == timeInvalid:
			if i >= len(timeList) {
				return nil, ErrCorruptChunk
			}
			count := int(timeList[i])
			i++
			if err := take(count, 0, false); err != nil {
				return nil, err
			}
		case rec&timeAbsolute != 0:
			base = rec & timeMask
			baseSet = true
		default:
			if !baseSet {
				return nil, ErrCorruptChunk
			}
			delta := rec >> 16
			count := int(rec & 0xffff)
			base += delta
			if err := take(count, base, true); err != nil {
				return nil, err
			}
		}
	}
	if codePos != len(codeList) {
		return nil, ErrCorruptChunk
	}
	return out, nil
}

// SynthesizeTS converts archived sections back into TS packets with
// proper payload unit starts, continuity counters, and 0xff padding,
// so the downstream TS parsers can consume the flow unchanged.
func (r *Reader) SynthesizeTS(sections []Section) []byte {
	var out []byte
	for _, s := range sections {
		out = append(out, r.builder.WriteSection(s.PID, s.Data)...)
	}
	return out
}
