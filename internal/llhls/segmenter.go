// Package llhls turns one encoded MPEG-TS stream into Low-Latency HLS:
// fMP4 segments with 0.5 s parts and blocking playlist delivery. Two
// playlists are maintained, one per broadcast audio track, sharing the
// video track.
package llhls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	mcmpegts "github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// ErrClosed reports use of a closed segmenter.
var ErrClosed = errors.New("llhls: segmenter closed")

const (
	segmentCount    = 10
	partMinDuration = 500 * time.Millisecond
)

// Config parameterizes one segmenter.
type Config struct {
	// GOPDuration is the encoder's forced GOP length; segments are cut
	// on keyframes so this is also the target segment duration.
	GOPDuration time.Duration

	Logger *slog.Logger
}

// Segmenter demuxes the encoder output and drives two LL-HLS muxers.
// Writes block the caller only for demuxing; playlist and segment
// delivery happens on the HTTP goroutines via Handle.
type Segmenter struct {
	cfg Config

	pw *io.PipeWriter
	pr *io.PipeReader

	mu             sync.Mutex
	primary        *gohlslib.Muxer
	secondary      *gohlslib.Muxer
	primaryVideo   *gohlslib.Track
	secondaryVideo *gohlslib.Track
	primaryAudio   *gohlslib.Track
	secondaryAudio *gohlslib.Track

	// Wall-clock anchor for EXT-X-PROGRAM-DATE-TIME: set at the first
	// video sample, advanced by PTS deltas afterwards.
	anchorSet bool
	anchor    time.Time
	firstPTS  int64

	ready  chan struct{}
	closed chan struct{}

	closeOnce sync.Once
}

// NewSegmenter starts the demux goroutine. Feed it with Write.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GOPDuration <= 0 {
		cfg.GOPDuration = time.Second
	}
	pr, pw := io.Pipe()
	s := &Segmenter{
		cfg:    cfg,
		pr:     pr,
		pw:     pw,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

// Write feeds raw encoder TS output into the segmenter.
func (s *Segmenter) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, ErrClosed
	default:
	}
	return s.pw.Write(p)
}

// Close tears down the demuxer and both muxers. Blocked playlist
// requests are released.
func (s *Segmenter) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.pw.Close()
		s.pr.Close()
		s.mu.Lock()
		primary, secondary := s.primary, s.secondary
		s.primary, s.secondary = nil, nil
		s.mu.Unlock()
		if primary != nil {
			primary.Close()
		}
		if secondary != nil {
			secondary.Close()
		}
	})
}

// WaitReady blocks until the init segment can be produced (codec
// parameters observed) or the segmenter dies.
func (s *Segmenter) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle serves one LL-HLS request. secondary selects the second-audio
// playlist; streams without a second audio track serve the primary mix
// on both. Blocking _HLS_msn/_HLS_part queries are honored by the
// underlying muxer.
func (s *Segmenter) Handle(secondary bool, w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ready:
	case <-s.closed:
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	s.mu.Lock()
	muxer := s.primary
	if secondary && s.secondary != nil {
		muxer = s.secondary
	}
	s.mu.Unlock()
	if muxer == nil {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	muxer.Handle(w, r)
}

// run demuxes the TS input and routes samples into the muxers.
func (s *Segmenter) run() {
	defer s.Close()

	reader := &mcmpegts.Reader{R: s.pr}
	if err := reader.Initialize(); err != nil {
		s.cfg.Logger.Warn("ll-hls demuxer failed to initialize",
			slog.String("error", err.Error()))
		return
	}
	reader.OnDecodeError(func(err error) {
		s.cfg.Logger.Debug("ll-hls decode error", slog.String("error", err.Error()))
	})

	if err := s.setupTracks(reader); err != nil {
		s.cfg.Logger.Warn("ll-hls track setup failed",
			slog.String("error", err.Error()))
		return
	}
	close(s.ready)

	for {
		select {
		case <-s.closed:
			return
		default:
		}
		if err := reader.Read(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.cfg.Logger.Debug("ll-hls read error",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// setupTracks builds both muxers from the discovered TS tracks. The
// encoder always emits video first, then primary audio, then the
// optional second audio stream.
func (s *Segmenter) setupTracks(reader *mcmpegts.Reader) error {
	var (
		videoCodec  codecs.Codec
		audioCodecs []codecs.Codec
		videoTrack  *mcmpegts.Track
		audioTracks []*mcmpegts.Track
		isH265      bool
	)

	for _, track := range reader.Tracks() {
		switch codec := track.Codec.(type) {
		case *mcmpegts.CodecH264:
			if videoCodec == nil {
				videoCodec = &codecs.H264{}
				videoTrack = track
			}
		case *mcmpegts.CodecH265:
			if videoCodec == nil {
				videoCodec = &codecs.H265{}
				videoTrack = track
				isH265 = true
			}
		case *mcmpegts.CodecMPEG4Audio:
			if len(audioTracks) < 2 {
				audioCodecs = append(audioCodecs, &codecs.MPEG4Audio{Config: codec.Config})
				audioTracks = append(audioTracks, track)
			}
		}
	}
	if len(audioTracks) == 0 {
		return errors.New("llhls: no AAC track in encoder output")
	}

	newMuxer := func(video codecs.Codec, audio codecs.Codec) (*gohlslib.Muxer, *gohlslib.Track, *gohlslib.Track) {
		var tracks []*gohlslib.Track
		var vt, at *gohlslib.Track
		if video != nil {
			vt = &gohlslib.Track{Codec: video}
			tracks = append(tracks, vt)
		}
		at = &gohlslib.Track{Codec: audio}
		tracks = append(tracks, at)
		return &gohlslib.Muxer{
			Variant:            gohlslib.MuxerVariantLowLatency,
			SegmentCount:       segmentCount,
			SegmentMinDuration: s.cfg.GOPDuration,
			PartMinDuration:    partMinDuration,
			Tracks:             tracks,
		}, vt, at
	}

	s.mu.Lock()
	s.primary, s.primaryVideo, s.primaryAudio = newMuxer(videoCodec, audioCodecs[0])
	secondaryAudio := audioCodecs[0]
	secondaryAudioTrack := audioTracks[0]
	if len(audioCodecs) > 1 {
		secondaryAudio = audioCodecs[1]
		secondaryAudioTrack = audioTracks[1]
	}
	var secondaryVideoCodec codecs.Codec
	if videoCodec != nil {
		if isH265 {
			secondaryVideoCodec = &codecs.H265{}
		} else {
			secondaryVideoCodec = &codecs.H264{}
		}
	}
	s.secondary, s.secondaryVideo, s.secondaryAudio = newMuxer(secondaryVideoCodec, secondaryAudio)
	primary, secondary := s.primary, s.secondary
	s.mu.Unlock()

	if err := primary.Start(); err != nil {
		return fmt.Errorf("llhls: start primary muxer: %w", err)
	}
	if err := secondary.Start(); err != nil {
		return fmt.Errorf("llhls: start secondary muxer: %w", err)
	}

	if videoTrack != nil {
		if isH265 {
			reader.OnDataH265(videoTrack, func(pts, dts int64, au [][]byte) error {
				ntp := s.ntpFor(pts)
				if err := primary.WriteH265(s.primaryVideo, ntp, pts, au); err != nil {
					return err
				}
				return secondary.WriteH265(s.secondaryVideo, ntp, pts, au)
			})
		} else {
			reader.OnDataH264(videoTrack, func(pts, dts int64, au [][]byte) error {
				ntp := s.ntpFor(pts)
				if err := primary.WriteH264(s.primaryVideo, ntp, pts, au); err != nil {
					return err
				}
				return secondary.WriteH264(s.secondaryVideo, ntp, pts, au)
			})
		}
	}

	reader.OnDataMPEG4Audio(audioTracks[0], func(pts int64, aus [][]byte) error {
		if err := primary.WriteMPEG4Audio(s.primaryAudio, s.ntpFor(pts), pts, aus); err != nil {
			return err
		}
		if len(audioTracks) == 1 {
			return secondary.WriteMPEG4Audio(s.secondaryAudio, s.ntpFor(pts), pts, aus)
		}
		return nil
	})
	if len(audioTracks) > 1 {
		reader.OnDataMPEG4Audio(secondaryAudioTrack, func(pts int64, aus [][]byte) error {
			return secondary.WriteMPEG4Audio(s.secondaryAudio, s.ntpFor(pts), pts, aus)
		})
	}
	return nil
}

// ntpFor maps a stream PTS to wall time for EXT-X-PROGRAM-DATE-TIME.
// The wall clock is sampled once at the first sample; afterwards the
// date-time advances strictly with the stream clock, so PCR jitter and
// scheduler delays do not wobble the playlist timeline.
func (s *Segmenter) ntpFor(pts int64) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.anchorSet {
		s.anchorSet = true
		s.anchor = time.Now()
		s.firstPTS = pts
	}
	return s.anchor.Add(time.Duration(pts-s.firstPTS) * time.Second / 90000)
}
