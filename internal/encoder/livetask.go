package encoder

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hisui-tv/hisui/internal/livestream"
	"github.com/hisui-tv/hisui/internal/mpegts"
)

const (
	// MaxRetryCount bounds consecutive pipeline restarts.
	MaxRetryCount = 10

	// readerBatchSize is how much raw TS the reader forwards at once.
	readerBatchSize = mpegts.PacketSize * 256

	// writerFlushSize triggers a chunk flush to clients.
	writerFlushSize = 64 << 10

	// subWriterInterval flushes whatever accumulated so radio channels
	// with tiny bitrates still get timely chunks.
	subWriterInterval = 25 * time.Millisecond

	supervisorTick = 100 * time.Millisecond

	// tunerStallTimeout declares the tuner dead when no TS arrives.
	tunerStallTimeout = 15 * time.Second

	// Write stall thresholds before a restart is forced.
	standbyWriteTimeout = 20 * time.Second
	onAirWriteTimeout   = 5 * time.Second
	onAirWriteTimeoutVCE = 10 * time.Second

	// processKillTimeout caps waiting on a killed subprocess.
	processKillTimeout = 5 * time.Second

	// psiFlushInterval is how often archived PSI/SI sections are sealed
	// into a chunk readers can consume.
	psiFlushInterval = time.Second

	logRingSize = 30
)

// TunerSource hands the task a raw TS reader, fresh per attempt.
type TunerSource interface {
	AcquireTS(ctx context.Context) (io.ReadCloser, error)
}

// LiveTaskConfig parameterizes one live encoding task.
type LiveTaskConfig struct {
	Encoder      Type
	EncoderPath  string
	TsreadexPath string
	Profile      QualityProfile
	ServiceID    int64
	IsRadio      bool
	Interlaced   bool
	MaxAliveTime time.Duration

	// CurrentProgramTitle feeds off-air classification and program
	// change logging. May be nil.
	CurrentProgramTitle func() string
}

// LiveEncodingTask drives tuner -> tsreadex -> encoder -> LiveStream.
type LiveEncodingTask struct {
	ls     *livestream.LiveStream
	source TunerSource
	cfg    LiveTaskConfig
	logger *slog.Logger

	tunerReadAt atomic.Int64 // unix nano
	wroteAt     atomic.Int64
	tunerEOF    atomic.Bool
	encoderDone atomic.Bool
	onAirSeen   atomic.Bool

	verdictOnce sync.Once
	verdict     Action
	verdictMsg  string

	logMu   sync.Mutex
	logRing []string
}

// NewLiveEncodingTask builds a task for one stream.
func NewLiveEncodingTask(ls *livestream.LiveStream, source TunerSource, cfg LiveTaskConfig, log *slog.Logger) *LiveEncodingTask {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAliveTime <= 0 {
		cfg.MaxAliveTime = 20 * time.Second
	}
	return &LiveEncodingTask{ls: ls, source: source, cfg: cfg, logger: log}
}

// Run executes the pipeline until the stream goes Offline, restarting
// up to MaxRetryCount times on transient failures. A successful ONAir
// resets the budget.
func (t *LiveEncodingTask) Run(ctx context.Context) {
	retry := 0
	for {
		t.onAirSeen.Store(false)
		action := t.runOnce(ctx, retry)

		if ctx.Err() != nil {
			t.ls.SetStatus(livestream.StatusOffline, "ライブストリームは Offline です。")
			return
		}
		if action != ActionRestart {
			return
		}
		if t.onAirSeen.Load() {
			retry = 0
		}
		retry++
		if retry > MaxRetryCount {
			t.ls.SetStatus(livestream.StatusOffline,
				"エンコードの再起動に繰り返し失敗したため、ライブストリームを終了しました。")
			return
		}
		if !t.ls.SetStatus(livestream.StatusRestart, "エンコーダーを再起動しています…") {
			// The stream went Offline under us; stop retrying.
			return
		}
		t.ls.ResetArchiver()
		t.logger.Info("restarting encoder pipeline",
			slog.String("stream", t.ls.ID),
			slog.Int("retry", retry),
		)
	}
}

func (t *LiveEncodingTask) decide(action Action, msg string) {
	t.verdictOnce.Do(func() {
		t.verdict = action
		t.verdictMsg = msg
	})
}

func (t *LiveEncodingTask) appendLog(line string) {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	t.logRing = append(t.logRing, line)
	if len(t.logRing) > logRingSize {
		t.logRing = t.logRing[len(t.logRing)-logRingSize:]
	}
}

// classifyExit inspects the last stderr lines after an unexpected
// encoder exit.
func (t *LiveEncodingTask) classifyExit() (Action, string) {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	for i := len(t.logRing) - 1; i >= 0; i-- {
		if a, detail := ClassifyLogLine(t.logRing[i]); a == ActionOffline || a == ActionOfflineFatal {
			return a, detail
		}
	}
	return ActionRestart, "エンコーダーが予期せず終了しました。再起動します…"
}

// runOnce performs a single pipeline attempt and returns the verdict.
func (t *LiveEncodingTask) runOnce(ctx context.Context, retry int) Action {
	t.verdictOnce = sync.Once{}
	t.verdict = ActionNone
	t.tunerEOF.Store(false)
	t.encoderDone.Store(false)
	now := time.Now().UnixNano()
	t.tunerReadAt.Store(now)
	t.wroteAt.Store(now)

	t.ls.SetStatus(livestream.StatusStandby, "エンコーダーを起動しています…")

	tunerTS, err := t.source.AcquireTS(ctx)
	if err != nil {
		t.ls.SetStatus(livestream.StatusOffline,
			"現在チューナーが不足しているため、ライブストリームを開始できません。")
		return ActionOffline
	}
	defer tunerTS.Close()

	tsreadex := exec.Command(t.cfg.TsreadexPath, BuildTsreadexArgs(TsreadexOptions{
		ServiceID: t.cfg.ServiceID,
		ForHWEncC: t.cfg.Encoder.IsHardware(),
	})...)
	tsin, err := tsreadex.StdinPipe()
	if err != nil {
		t.ls.SetStatus(livestream.StatusOffline, "エンコードパイプラインの作成に失敗しました。")
		return ActionOffline
	}
	tsout, err := tsreadex.StdoutPipe()
	if err != nil {
		t.ls.SetStatus(livestream.StatusOffline, "エンコードパイプラインの作成に失敗しました。")
		return ActionOffline
	}

	enc := exec.Command(t.cfg.EncoderPath, BuildEncoderArgs(CommandOptions{
		Encoder:    t.cfg.Encoder,
		Profile:    t.cfg.Profile,
		IsRadio:    t.cfg.IsRadio,
		Interlaced: t.cfg.Interlaced,
		Retry:      retry,
	})...)
	enc.Stdin = tsout
	encOut, err := enc.StdoutPipe()
	if err != nil {
		t.ls.SetStatus(livestream.StatusOffline, "エンコードパイプラインの作成に失敗しました。")
		return ActionOffline
	}
	encErr, err := enc.StderrPipe()
	if err != nil {
		t.ls.SetStatus(livestream.StatusOffline, "エンコードパイプラインの作成に失敗しました。")
		return ActionOffline
	}

	if err := tsreadex.Start(); err != nil {
		t.ls.SetStatus(livestream.StatusOffline, "tsreadex の起動に失敗しました。")
		return ActionOffline
	}
	if err := enc.Start(); err != nil {
		_ = tsreadex.Process.Kill()
		_ = tsreadex.Wait()
		t.ls.SetStatus(livestream.StatusOffline, "エンコーダーの起動に失敗しました。")
		return ActionOffline
	}
	// Our copy of the pipe between tsreadex and the encoder must be
	// closed so EOF propagates after the tuner disconnects.
	_ = tsout.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	encWait := make(chan error, 1)
	go func() {
		encWait <- enc.Wait()
		t.encoderDone.Store(true)
	}()

	buffer := &streamBuffer{out: func(chunk []byte) {
		t.ls.WriteStreamData(chunk)
		t.wroteAt.Store(time.Now().UnixNano())
	}}

	g, gctx := errgroup.WithContext(runCtx)

	// The reader, writer, and log watcher sit in blocking reads on the
	// tuner socket and the encoder pipes, where a context cancel alone
	// cannot reach them. Tearing the pipeline down as soon as gctx is
	// cancelled, whether by a verdict or by a loop error, closes those
	// pipes and kills both processes, which is what actually unblocks
	// the loops so Wait can return.
	torndown := teardownOnCancel(gctx, tunerTS, tsin, tsreadex, enc, encWait)

	g.Go(func() error { return t.readerLoop(gctx, tunerTS, tsin) })
	g.Go(func() error { return t.writerLoop(gctx, encOut, buffer) })
	g.Go(func() error { return t.subWriterLoop(gctx, buffer) })
	g.Go(func() error { return t.logWatcherLoop(gctx, encErr, cancel) })
	g.Go(func() error { return t.supervisorLoop(gctx, cancel, tunerTS) })

	_ = g.Wait()
	cancel()
	<-torndown

	action := t.verdict
	msg := t.verdictMsg
	if action == ActionNone {
		action = ActionRestart
	}
	switch action {
	case ActionOffline, ActionOfflineFatal:
		t.ls.SetStatus(livestream.StatusOffline, msg)
		return ActionOffline
	default:
		return ActionRestart
	}
}

// readerLoop pumps the tuner TS into tsreadex and tees it to the PSI
// archiver.
func (t *LiveEncodingTask) readerLoop(ctx context.Context, tunerTS io.Reader, tsin io.WriteCloser) error {
	start := time.Now()
	lastFlush := start
	buf := make([]byte, readerBatchSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := tunerTS.Read(buf)
		if n > 0 {
			t.tunerReadAt.Store(time.Now().UnixNano())
			if _, werr := tsin.Write(buf[:n]); werr != nil {
				return werr
			}
			// Archiver calls stay on this goroutine; the archiver is
			// single-threaded by contract.
			if archiver := t.ls.Archiver(); archiver != nil {
				archiver.SetTime(time.Since(start))
				for off := 0; off+mpegts.PacketSize <= n; off += mpegts.PacketSize {
					archiver.FeedPacket(buf[off : off+mpegts.PacketSize])
				}
				if time.Since(lastFlush) >= psiFlushInterval {
					if ferr := archiver.Flush(); ferr != nil {
						t.logger.Warn("psi archive flush failed",
							slog.String("stream", t.ls.ID),
							slog.String("error", ferr.Error()),
						)
					}
					lastFlush = time.Now()
				}
			}
		}
		if err != nil {
			t.tunerEOF.Store(true)
			return err
		}
	}
}

// writerLoop reads encoder output 188 bytes at a time into the shared
// buffer. Exactly-188 reads keep every client chunk packet aligned.
func (t *LiveEncodingTask) writerLoop(ctx context.Context, encOut io.Reader, buffer *streamBuffer) error {
	br := bufio.NewReaderSize(encOut, writerFlushSize)
	pkt := make([]byte, mpegts.PacketSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := io.ReadFull(br, pkt); err != nil {
			return err
		}
		buffer.Append(pkt)
	}
}

func (t *LiveEncodingTask) subWriterLoop(ctx context.Context, buffer *streamBuffer) error {
	ticker := time.NewTicker(subWriterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			buffer.FlushIfStale(subWriterInterval)
		}
	}
}

func (t *LiveEncodingTask) logWatcherLoop(ctx context.Context, encErr io.Reader, cancel context.CancelFunc) error {
	scanner := bufio.NewScanner(encErr)
	scanner.Buffer(make([]byte, 0, 64<<10), 64<<10)
	for scanner.Scan() {
		line := scanner.Text()
		t.appendLog(line)

		action, detail := ClassifyLogLine(line)
		switch action {
		case ActionStandby:
			t.ls.SetStatus(livestream.StatusStandby, detail)
		case ActionONAir:
			if !t.onAirSeen.Swap(true) {
				t.ls.SetStatus(livestream.StatusONAir, "ライブストリームは ONAir です。")
			}
		case ActionRestart:
			t.decide(ActionRestart, detail)
			cancel()
		case ActionOffline, ActionOfflineFatal:
			t.decide(action, detail)
			cancel()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// idleMarker is implemented by tuner-backed sources that can drop
// their session lock while the stream has no viewers.
type idleMarker interface {
	MarkIdle(idle bool)
}

// supervisorLoop runs the 100 ms health checks.
func (t *LiveEncodingTask) supervisorLoop(ctx context.Context, cancel context.CancelFunc, tunerTS io.ReadCloser) error {
	ticker := time.NewTicker(supervisorTick)
	defer ticker.Stop()

	marker, _ := tunerTS.(idleMarker)
	wasIdle := false

	lastTitle := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		now := time.Now()

		if t.cfg.CurrentProgramTitle != nil {
			if title := t.cfg.CurrentProgramTitle(); title != "" && title != lastTitle {
				t.logger.Info("current program changed",
					slog.String("stream", t.ls.ID),
					slog.String("title", title),
				)
				lastTitle = title
			}
		}

		status, _ := t.ls.Status()

		if marker != nil {
			if idle := status == livestream.StatusIdling; idle != wasIdle {
				marker.MarkIdle(idle)
				wasIdle = idle
			}
		}

		if status == livestream.StatusONAir && t.ls.ClientCount() == 0 {
			t.ls.SetStatus(livestream.StatusIdling, "視聴者を待機しています…")
			continue
		}
		if status == livestream.StatusIdling &&
			now.Sub(t.ls.StatusUpdatedAt()) > t.cfg.MaxAliveTime {
			t.decide(ActionOffline, "ライブストリームは Offline です。")
			cancel()
			return nil
		}

		if now.Sub(time.Unix(0, t.tunerReadAt.Load())) > tunerStallTimeout {
			detail := "チャンネルの受信状態が悪いため、ライブストリームを開始できません。"
			if t.cfg.CurrentProgramTitle != nil && IsOffAirTitle(t.cfg.CurrentProgramTitle()) {
				detail = "このチャンネルは現在放送を休止しています。"
			}
			t.decide(ActionOffline, detail)
			cancel()
			return nil
		}

		writeTimeout := standbyWriteTimeout
		if status == livestream.StatusONAir || status == livestream.StatusIdling {
			writeTimeout = onAirWriteTimeout
			if t.cfg.Encoder == TypeVCEEncC {
				writeTimeout = onAirWriteTimeoutVCE
			}
		}
		if now.Sub(time.Unix(0, t.wroteAt.Load())) > writeTimeout {
			t.decide(ActionRestart, "エンコーダーの出力が停止しました。再起動します…")
			cancel()
			return nil
		}

		if t.tunerEOF.Load() {
			t.decide(ActionRestart, "チューナーとの接続が切断されました。再起動します…")
			cancel()
			return nil
		}

		if t.encoderDone.Load() {
			action, detail := t.classifyExit()
			t.decide(action, detail)
			cancel()
			return nil
		}
	}
}

// streamBuffer is the Writer/SubWriter shared accumulation buffer.
// One mutex guards both the bytes and the flush clock; two writers
// flushing with different chunk boundaries would corrupt the stream.
type streamBuffer struct {
	mu        sync.Mutex
	buf       []byte
	lastFlush time.Time
	out       func([]byte)
}

// Append adds one TS packet and flushes when the threshold is hit.
func (b *streamBuffer) Append(pkt []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, pkt...)
	if len(b.buf) >= writerFlushSize {
		b.flushLocked()
	}
}

// FlushIfStale flushes a non-empty buffer that has not flushed within
// maxAge.
func (b *streamBuffer) FlushIfStale(maxAge time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) > 0 && time.Since(b.lastFlush) >= maxAge {
		b.flushLocked()
	}
}

func (b *streamBuffer) flushLocked() {
	chunk := make([]byte, len(b.buf))
	copy(chunk, b.buf)
	b.buf = b.buf[:0]
	b.lastFlush = time.Now()
	b.out(chunk)
}

// teardownOnCancel breaks the subprocess chain once ctx is cancelled:
// closing the tuner-side pipes starves tsreadex, and killing both
// processes closes their stdout/stderr, so loops stuck in blocking
// reads return. The returned channel closes when teardown is done.
func teardownOnCancel(ctx context.Context, tunerTS, tsin io.Closer, tsreadex, enc *exec.Cmd, encWait chan error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		_ = tsin.Close()
		_ = tunerTS.Close()
		killAndWait(tsreadex, nil)
		killAndWaitCh(enc, encWait)
	}()
	return done
}

// killAndWait kills a started process and bounds the wait.
func killAndWait(cmd *exec.Cmd, waitCh chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	if waitCh == nil {
		waitCh = make(chan error, 1)
		go func() { waitCh <- cmd.Wait() }()
	}
	select {
	case <-waitCh:
	case <-time.After(processKillTimeout):
	}
}

func killAndWaitCh(cmd *exec.Cmd, waitCh chan error) {
	killAndWait(cmd, waitCh)
}
