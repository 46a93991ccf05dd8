// Package psiarchive implements the ".psc" PSI/SI archive written
// alongside recordings, and the matching archiver used on live
// streams.
//
// A file is a sequence of chunks. Each chunk:
//
//	u8  magic[8]              "Pssc\x0d\x0a\x9a\x0a"
//	u32 reserved
//	u16 time_list_len         count of u32 time records
//	u16 dictionary_len        new dictionary entries in this chunk
//	u16 dictionary_window_len entries carried over from the previous chunk
//	u32 dictionary_data_size  bytes of new section data
//	u32 dictionary_buff_size  bytes held by the whole window
//	u32 code_list_len         count of u16 section references
//	new entry table           dictionary_len x (u16 pid, u16 section_len)
//	new entry data            dictionary_data_size bytes
//	time list                 time_list_len x u32
//	code list                 code_list_len x u16 window indices
//
// The dictionary is a sliding window: each chunk's window is the tail
// of the previous window (dictionary_window_len entries) plus the new
// entries, hard-capped at 65536-4096 entries. Time records either set
// an absolute 30-bit base (high bit set, 100 ms units), mark the
// following run as having no valid time (0xFFFFFFFF), or advance the
// base by a delta and attribute the next count codes to it
// (delta<<16 | count).
package psiarchive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hisui-tv/hisui/internal/mpegts"
)

// Magic starts every chunk.
var Magic = []byte{'P', 's', 's', 'c', 0x0d, 0x0a, 0x9a, 0x0a}

// WindowCap bounds the sliding dictionary.
const WindowCap = 65536 - 4096

// timeUnit is the resolution of archive timestamps.
const timeUnit = 100 * time.Millisecond

const (
	timeInvalid  = 0xffffffff
	timeAbsolute = 0x80000000
	timeMask     = 0x3fffffff
)

type entry struct {
	pid  uint16
	data []byte
}

type occurrence struct {
	index    int
	time     uint32
	hasTime  bool
}

// Archiver accumulates PSI/SI sections from a live TS flow and writes
// chunks to w. It is not safe for concurrent use; the live pipeline
// feeds it from a single reader goroutine.
type Archiver struct {
	w io.Writer

	window  []entry
	indexOf map[string]int
	carried int // entries in window that the peer already has

	pending []occurrence
	newData int

	assembler  *mpegts.SectionAssembler
	targetPIDs map[uint16]bool
	pmtPIDs    map[uint16]bool

	now     uint32
	hasTime bool
}

// NewArchiver returns an archiver writing chunks to w. The default
// targets are the PSI/SI PIDs the downstream parsers consume; PMT
// PIDs are added as PATs are seen.
func NewArchiver(w io.Writer) *Archiver {
	a := &Archiver{
		w:       w,
		indexOf: make(map[string]int),
		targetPIDs: map[uint16]bool{
			mpegts.PIDPAT: true,
			mpegts.PIDNIT: true,
			mpegts.PIDSDT: true,
			mpegts.PIDEIT: true,
			mpegts.PIDTOT: true,
		},
		pmtPIDs: make(map[uint16]bool),
	}
	a.assembler = mpegts.NewSectionAssembler(a.onSection)
	return a
}

// SetTime stamps subsequently archived sections. The pipeline calls
// this with the stream-relative position.
func (a *Archiver) SetTime(t time.Duration) {
	a.now = uint32(t/timeUnit) & timeMask
	a.hasTime = true
}

// FeedPacket consumes one aligned 188-byte TS packet.
func (a *Archiver) FeedPacket(raw []byte) {
	p, err := mpegts.Parse(raw)
	if err != nil {
		return
	}
	if !a.targetPIDs[p.PID] && !a.pmtPIDs[p.PID] {
		return
	}
	a.assembler.Feed(p)
}

func (a *Archiver) onSection(pid uint16, section []byte) {
	if pid == mpegts.PIDPAT {
		if pat, ok := mpegts.ParsePAT(section); ok {
			for _, pmtPID := range pat.Programs {
				a.pmtPIDs[pmtPID] = true
			}
		}
	}

	key := string([]byte{byte(pid >> 8), byte(pid)}) + string(section)
	idx, ok := a.indexOf[key]
	if !ok {
		if len(a.window) >= WindowCap {
			a.evictOldest()
		}
		idx = len(a.window)
		cp := make([]byte, len(section))
		copy(cp, section)
		a.window = append(a.window, entry{pid: pid, data: cp})
		a.indexOf[key] = idx
		a.newData += len(section)
	}
	a.pending = append(a.pending, occurrence{index: idx, time: a.now, hasTime: a.hasTime})
}

func (a *Archiver) evictOldest() {
	old := a.window[0]
	key := string([]byte{byte(old.pid >> 8), byte(old.pid)}) + string(old.data)
	delete(a.indexOf, key)
	a.window = a.window[1:]
	if a.carried > 0 {
		a.carried--
	} else {
		// The evicted entry was new this chunk; its bytes leave with it.
		a.newData -= len(old.data)
	}
	// Surviving entries shift down one index. Occurrences of the
	// evicted entry have no window slot to point at anymore and are
	// dropped rather than left aliasing the shifted entry.
	for k, v := range a.indexOf {
		a.indexOf[k] = v - 1
	}
	kept := a.pending[:0]
	for _, o := range a.pending {
		if o.index == 0 {
			continue
		}
		o.index--
		kept = append(kept, o)
	}
	a.pending = kept
}

// Flush writes one chunk containing everything archived since the
// previous flush. Flushing with nothing pending is a no-op.
func (a *Archiver) Flush() error {
	if len(a.pending) == 0 {
		return nil
	}

	newEntries := a.window[a.carried:]
	var buf bytes.Buffer
	buf.Write(Magic)
	le := binary.LittleEndian

	timeList, codeList := encodeOccurrences(a.pending)

	var u32 [4]byte
	var u16b [2]byte
	writeU16 := func(v uint16) { le.PutUint16(u16b[:], v); buf.Write(u16b[:]) }
	writeU32 := func(v uint32) { le.PutUint32(u32[:], v); buf.Write(u32[:]) }

	buffSize := 0
	for _, e := range a.window {
		buffSize += len(e.data)
	}

	writeU32(0) // reserved
	writeU16(uint16(len(timeList)))
	writeU16(uint16(len(newEntries)))
	writeU16(uint16(a.carried))
	writeU32(uint32(a.newData))
	writeU32(uint32(buffSize))
	writeU32(uint32(len(codeList)))

	for _, e := range newEntries {
		writeU16(e.pid)
		writeU16(uint16(len(e.data)))
	}
	for _, e := range newEntries {
		buf.Write(e.data)
	}
	for _, t := range timeList {
		writeU32(t)
	}
	for _, c := range codeList {
		writeU16(c)
	}

	if _, err := a.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing archive chunk: %w", err)
	}

	a.carried = len(a.window)
	a.pending = a.pending[:0]
	a.newData = 0
	return nil
}

// encodeOccurrences run-length encodes the time list against the code
// list order.
func encodeOccurrences(pending []occurrence) (timeList []uint32, codeList []uint16) {
	i := 0
	var base uint32
	baseSet := false
	for i < len(pending) {
		o := pending[i]
		run := 1
		for i+run < len(pending) &&
			pending[i+run].hasTime == o.hasTime &&
			pending[i+run].time == o.time {
			run++
		}
		if run > 0xffff {
			run = 0xffff
		}
		if !o.hasTime {
			timeList = append(timeList, timeInvalid)
			timeList = append(timeList, uint32(run)) // count record after marker
		} else {
			if !baseSet || o.time < base || o.time-base > 0xffff {
				timeList = append(timeList, timeAbsolute|o.time&timeMask)
				base = o.time
				baseSet = true
			}
			delta := o.time - base
			timeList = append(timeList, delta<<16|uint32(run)&0xffff)
			base = o.time
		}
		for k := 0; k < run; k++ {
			codeList = append(codeList, uint16(pending[i+k].index))
		}
		i += run
	}
	return timeList, codeList
}
