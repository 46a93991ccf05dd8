package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/hisui-tv/hisui/internal/mpegts"
)

// RecordedSegment is one planned slice of a recording, bounded by
// keyframes. DTS values are on the 90 kHz recording timeline.
type RecordedSegment struct {
	Index           int
	StartFilePos    int64
	StartDTS        int64
	DurationSeconds float64
}

// RecordedTaskConfig parameterizes one recorded encoding run.
type RecordedTaskConfig struct {
	Encoder      Type
	EncoderPath  string
	TsreadexPath string
	Profile      QualityProfile
	Interlaced   bool

	FilePath string
	Segments []RecordedSegment
}

// RecordedTask encodes a run of consecutive segments from a recording
// file, sealing each segment's bytes as its PTS boundary is crossed.
type RecordedTask struct {
	cfg     RecordedTaskConfig
	deliver func(index int, data []byte)
	logger  *slog.Logger

	cancelled atomic.Bool
}

// NewRecordedTask builds a task. deliver is called once per finished
// segment with the sealed TS bytes, in index order.
func NewRecordedTask(cfg RecordedTaskConfig, deliver func(index int, data []byte), log *slog.Logger) *RecordedTask {
	if log == nil {
		log = slog.Default()
	}
	return &RecordedTask{cfg: cfg, deliver: deliver, logger: log}
}

// Cancel asks the running task to stop. The loops observe the flag and
// exit; subprocesses are killed and awaited.
func (t *RecordedTask) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (t *RecordedTask) Cancelled() bool {
	return t.cancelled.Load()
}

// Run encodes segments[startIndex:] until the plan is exhausted or the
// task is cancelled. The final (possibly shorter) segment is sealed on
// encoder EOF.
func (t *RecordedTask) Run(ctx context.Context, startIndex int) error {
	segs := t.cfg.Segments
	if startIndex < 0 || startIndex >= len(segs) {
		return fmt.Errorf("encoder: segment index %d out of range", startIndex)
	}
	start := segs[startIndex]

	src, err := os.Open(t.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("encoder: open recording: %w", err)
	}
	defer src.Close()
	if _, err := src.Seek(start.StartFilePos, io.SeekStart); err != nil {
		return fmt.Errorf("encoder: seek recording: %w", err)
	}

	tsreadex := exec.Command(t.cfg.TsreadexPath, BuildTsreadexArgs(TsreadexOptions{
		ServiceID: 0,
		ForHWEncC: t.cfg.Encoder.IsHardware(),
		Recorded:  true,
	})...)
	tsreadex.Stdin = src
	tsout, err := tsreadex.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder: tsreadex pipe: %w", err)
	}

	enc := exec.Command(t.cfg.EncoderPath, BuildEncoderArgs(CommandOptions{
		Encoder:      t.cfg.Encoder,
		Profile:      t.cfg.Profile,
		Interlaced:   t.cfg.Interlaced,
		Recorded:     true,
		StartSeconds: float64(start.StartDTS) / mpegts.PCRClockRate,
	})...)
	enc.Stdin = tsout
	encOut, err := enc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder: encoder pipe: %w", err)
	}
	enc.Stderr = io.Discard

	if err := tsreadex.Start(); err != nil {
		return fmt.Errorf("encoder: start tsreadex: %w", err)
	}
	if err := enc.Start(); err != nil {
		killAndWait(tsreadex, nil)
		return fmt.Errorf("encoder: start encoder: %w", err)
	}
	_ = tsout.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		t.Cancel()
	}()

	remuxErr := t.remux(bufio.NewReaderSize(encOut, 1<<20), segs, startIndex)

	killAndWait(tsreadex, nil)
	killAndWait(enc, nil)

	if t.cancelled.Load() {
		return context.Canceled
	}
	return remuxErr
}

// remux re-parses the encoder's TS output, owns the continuity
// counters, and seals segment buffers as PES timestamps cross each
// segment's boundary. Every new segment starts with a fresh copy of
// the latest PAT and PMT so it plays standalone.
func (t *RecordedTask) remux(r io.Reader, segs []RecordedSegment, startIndex int) error {
	reader := mpegts.NewReader(r)

	var (
		patSection []byte
		pmtSection []byte
		pmtPID     uint16
	)
	sections := mpegts.NewSectionAssembler(func(pid uint16, section []byte) {
		switch {
		case pid == mpegts.PIDPAT:
			patSection = append(patSection[:0], section...)
			if pat, ok := mpegts.ParsePAT(section); ok {
				for _, pid := range pat.Programs {
					pmtPID = pid
				}
			}
		case pmtPID != 0 && pid == pmtPID:
			pmtSection = append(pmtSection[:0], section...)
		}
	})

	cur := startIndex
	buf := make([]byte, 0, 1<<20)
	counters := map[uint16]byte{}
	builder := mpegts.NewPacketBuilder()

	boundary := func(i int) uint64 {
		if i+1 < len(segs) {
			return uint64(segs[i+1].StartDTS)
		}
		return uint64(segs[i].StartDTS) + uint64(segs[i].DurationSeconds*mpegts.PCRClockRate)
	}

	seal := func() {
		data := make([]byte, len(buf))
		copy(data, buf)
		t.deliver(segs[cur].Index, data)
		buf = buf[:0]
	}

	prependTables := func() {
		if len(patSection) == 0 || len(pmtSection) == 0 {
			return
		}
		buf = append(buf, builder.WriteSection(mpegts.PIDPAT, patSection)...)
		buf = append(buf, builder.WriteSection(pmtPID, pmtSection)...)
	}

	for {
		if t.cancelled.Load() {
			return context.Canceled
		}
		raw, err := reader.Next()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		pkt, err := mpegts.Parse(raw)
		if err != nil {
			continue
		}

		// Keep the freshest PAT/PMT for segment-start prepending.
		if pkt.PID == mpegts.PIDPAT || (pmtPID != 0 && pkt.PID == pmtPID) {
			sections.Feed(pkt)
		}

		// Boundary check rides on PES timestamps at unit starts.
		if pkt.PayloadUnitStart && len(pkt.Payload) > 0 {
			if pes, err := mpegts.ParsePES(pkt.Payload); err == nil && pes.HasPTS {
				for cur < len(segs) &&
					crossed(uint64(segs[cur].StartDTS), pes.PTS, boundary(cur)) {
					seal()
					cur++
					if cur < len(segs) {
						prependTables()
					}
				}
				if cur >= len(segs) {
					return nil
				}
			}
		}

		out := make([]byte, mpegts.PacketSize)
		copy(out, raw)
		rewriteContinuity(out, counters)
		buf = append(buf, out...)
	}

	// EOF seals whatever the last segment accumulated.
	if cur < len(segs) && len(buf) > 0 {
		seal()
	}
	return nil
}

// crossed reports whether pts passed end, measured wrap-safely from
// the segment's own start.
func crossed(start, pts, end uint64) bool {
	span := mpegts.PCRDiff(start, end)
	return mpegts.PCRDiff(start, pts) >= span
}

// rewriteContinuity stamps our own per-PID continuity counter into a
// packet in place. Counters only advance when a payload is present.
func rewriteContinuity(pkt []byte, counters map[uint16]byte) {
	pid := uint16(pkt[1]&0x1f)<<8 | uint16(pkt[2])
	hasPayload := pkt[3]&0x10 != 0
	cc := counters[pid]
	pkt[3] = pkt[3]&0xf0 | cc
	if hasPayload {
		counters[pid] = (cc + 1) & 0x0f
	}
}
