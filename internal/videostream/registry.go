package videostream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/models"
)

// EncoderConfig is the per-server encoding configuration shared by all
// video stream sessions.
type EncoderConfig struct {
	Encoder      encoder.Type
	EncoderPath  string
	TsreadexPath string
}

// Registry tracks live playback sessions by id.
type Registry struct {
	cfg    EncoderConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg EncoderConfig, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{cfg: cfg, logger: log, sessions: make(map[string]*Session)}
}

// Open plans a new session for video at the given quality and
// registers it.
func (r *Registry) Open(video *models.RecordedVideo, quality string) (*Session, error) {
	profile, err := encoder.LookupProfile(quality)
	if err != nil {
		return nil, err
	}

	taskCfg := encoder.RecordedTaskConfig{
		Encoder:      r.cfg.Encoder,
		EncoderPath:  r.cfg.EncoderPath,
		TsreadexPath: r.cfg.TsreadexPath,
		Profile:      profile,
		Interlaced:   video.VideoScanType == "Interlaced",
		FilePath:     video.FilePath,
		Segments:     PlanSegments(video.KeyFrames, video.Duration),
	}

	starter := func(ctx context.Context, startIndex int, deliver func(int, []byte)) func() {
		task := encoder.NewRecordedTask(taskCfg, deliver, r.logger)
		go func() {
			if err := task.Run(ctx, startIndex); err != nil && !task.Cancelled() {
				r.logger.Warn("video stream encoding run failed",
					slog.String("file", video.FilePath),
					slog.Int("segment", startIndex),
					slog.String("error", err.Error()),
				)
			}
		}()
		return task.Cancel
	}

	session, err := newSessionFromPlan(taskCfg.Segments, starter, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.logger.Info("video stream session opened",
		slog.String("session", session.ID),
		slog.String("file", video.FilePath),
		slog.String("quality", quality),
		slog.Int("segments", len(session.Segments())),
	)
	return session, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Release closes and forgets a session.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
