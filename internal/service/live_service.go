// Package service wires the stream registries to the tuner backend,
// the encoding tasks, and the database.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/livestream"
	"github.com/hisui-tv/hisui/internal/llhls"
	"github.com/hisui-tv/hisui/internal/models"
	"github.com/hisui-tv/hisui/internal/tuner"
)

// ErrChannelNotFound reports an unknown display channel id.
var ErrChannelNotFound = errors.New("channel not found")

// LiveConfig selects the encoder binary and stream lifetime policy.
type LiveConfig struct {
	Encoder      encoder.Type
	EncoderPath  string
	TsreadexPath string

	// MaxAliveTime is how long an Idling stream survives with no
	// viewers before its tuner is released.
	MaxAliveTime time.Duration
}

// LiveService owns the live stream registry and spawns an encoding
// task whenever a stream leaves Offline.
type LiveService struct {
	db      *gorm.DB
	tuners  *tuner.Manager
	cfg     LiveConfig
	logger  *slog.Logger
	streams *livestream.Registry

	mu         sync.Mutex
	segmenters map[string]*llhls.Segmenter
}

// NewLiveService builds the service and its registry.
func NewLiveService(db *gorm.DB, tuners *tuner.Manager, cfg LiveConfig, logger *slog.Logger) *LiveService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LiveService{
		db:         db,
		tuners:     tuners,
		cfg:        cfg,
		logger:     logger,
		segmenters: make(map[string]*llhls.Segmenter),
	}
	s.streams = livestream.NewRegistry(logger, s.startTask)
	return s
}

// Streams exposes the live stream registry.
func (s *LiveService) Streams() *livestream.Registry { return s.streams }

// Channel resolves a display channel id to its row.
func (s *LiveService) Channel(displayChannelID string) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.Where("display_channel_id = ?", displayChannelID).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// startTask runs when a Connect flips a stream Offline -> Standby.
func (s *LiveService) startTask(ls *livestream.LiveStream) {
	ch, err := s.Channel(ls.Channel)
	if err != nil {
		ls.SetStatus(livestream.StatusOffline, "指定されたチャンネルが存在しません。")
		return
	}
	profile, err := encoder.LookupProfile(ls.Quality)
	if err != nil {
		ls.SetStatus(livestream.StatusOffline, "指定された画質が存在しません。")
		return
	}
	profile = profile.AdjustForChannel(ch.NetworkID, ch.ServiceID)

	task := encoder.NewLiveEncodingTask(ls, &tunerSource{tuners: s.tuners, channel: ch}, encoder.LiveTaskConfig{
		Encoder:      s.cfg.Encoder,
		EncoderPath:  s.cfg.EncoderPath,
		TsreadexPath: s.cfg.TsreadexPath,
		Profile:      profile,
		ServiceID:    int64(ch.ServiceID),
		IsRadio:      ch.IsRadiochannel,
		// Broadcast sources are 1080i; the deinterlacer is always on.
		Interlaced:   true,
		MaxAliveTime: s.cfg.MaxAliveTime,
		CurrentProgramTitle: func() string {
			return s.currentProgramTitle(ch)
		},
	}, s.logger)

	go task.Run(context.Background())
}

// currentProgramTitle feeds the off-air classifier.
func (s *LiveService) currentProgramTitle(ch *models.Channel) string {
	now := time.Now()
	var p models.Program
	err := s.db.Where("channel_id = ? AND start_time <= ? AND end_time > ?", ch.ID, now, now).
		First(&p).Error
	if err != nil {
		return ""
	}
	return p.Title
}

// Segmenter returns the LL-HLS segmenter for a stream, creating it and
// its feeder client on first use. The feeder registers an mpegts slot
// because only mpegts clients consume the fan-out; it disconnects and
// drops the segmenter when the stream closes its clients.
func (s *LiveService) Segmenter(ls *livestream.LiveStream, gopDuration time.Duration) *llhls.Segmenter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg, ok := s.segmenters[ls.ID]; ok {
		return seg
	}

	seg := llhls.NewSegmenter(llhls.Config{GOPDuration: gopDuration, Logger: s.logger})
	s.segmenters[ls.ID] = seg

	clientID := ls.Connect(livestream.ClientMPEGTS)
	go func() {
		defer func() {
			ls.Disconnect(clientID)
			seg.Close()
			s.mu.Lock()
			if s.segmenters[ls.ID] == seg {
				delete(s.segmenters, ls.ID)
			}
			s.mu.Unlock()
		}()
		for {
			chunk, err := ls.ReadStreamData(context.Background(), clientID)
			if err != nil {
				return
			}
			if _, err := seg.Write(chunk); err != nil {
				return
			}
		}
	}()
	return seg
}

// GOPDurationFor is the encoder's forced GOP length, which the LL-HLS
// segmenter uses as its segment cut interval.
func GOPDurationFor(profile encoder.QualityProfile) time.Duration {
	if profile.IsHEVC {
		return 2500 * time.Millisecond
	}
	return 500 * time.Millisecond
}

// tunerSource adapts the tuner manager to the encoding task: each
// acquisition opens (or harvests) a session and locks it. The lock is
// dropped while the stream idles so the next channel open can harvest
// this tuner, and teardown disconnects with the linger instead of
// closing outright, so a restart or another stream can still reuse
// the tuner process.
type tunerSource struct {
	tuners  *tuner.Manager
	channel *models.Channel
}

func (t *tunerSource) AcquireTS(ctx context.Context) (io.ReadCloser, error) {
	var tsid uint16
	if t.channel.TransportStreamID != nil {
		tsid = *t.channel.TransportStreamID
	}
	sess, err := t.tuners.Open(ctx, t.channel.NetworkID, tsid, t.channel.ServiceID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	return &tunerStream{sess: sess}, nil
}

type tunerStream struct {
	sess      *tuner.Session
	closeOnce sync.Once
}

func (t *tunerStream) Read(p []byte) (int, error) {
	conn := t.sess.Conn()
	if conn == nil {
		return 0, io.EOF
	}
	return conn.Read(p)
}

// MarkIdle releases the session lock while nobody is watching, making
// the tuner harvestable, and retakes it when a viewer returns.
func (t *tunerStream) MarkIdle(idle bool) {
	if idle {
		t.sess.Unlock()
	} else {
		t.sess.Lock()
	}
}

func (t *tunerStream) Close() error {
	t.closeOnce.Do(func() {
		t.sess.Unlock()
		t.sess.Disconnect()
	})
	return nil
}
