package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/hisui-tv/hisui/internal/models"
	"github.com/hisui-tv/hisui/internal/videostream"
)

// ErrVideoNotFound reports an unknown recorded video id.
var ErrVideoNotFound = errors.New("recorded video not found")

// VideoService opens playback sessions over indexed recordings.
type VideoService struct {
	db       *gorm.DB
	sessions *videostream.Registry
}

// NewVideoService builds the service over the session registry.
func NewVideoService(db *gorm.DB, sessions *videostream.Registry) *VideoService {
	return &VideoService{db: db, sessions: sessions}
}

// OpenSession plans and registers a playback session for a recording.
func (s *VideoService) OpenSession(videoID, quality string) (*videostream.Session, error) {
	id, err := models.ParseULID(videoID)
	if err != nil {
		return nil, ErrVideoNotFound
	}

	var video models.RecordedVideo
	err = s.db.First(&video, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.sessions.Open(&video, quality)
}

// Session resolves an open session by id.
func (s *VideoService) Session(id string) (*videostream.Session, bool) {
	return s.sessions.Get(id)
}

// CloseSession cancels the session's encoder run and forgets it.
func (s *VideoService) CloseSession(id string) {
	s.sessions.Release(id)
}
