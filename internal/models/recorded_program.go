package models

import (
	"time"
)

// RecordedProgram carries the program metadata attached 1:1 to a
// RecordedVideo. It is produced by the scanner from embedded EIT, a PSI/SI
// archive sidecar, or as a last resort from the filename stem.
type RecordedProgram struct {
	BaseModel

	// RecordedVideoID is the owning recording.
	RecordedVideoID ULID           `gorm:"type:varchar(26);not null;uniqueIndex" json:"recorded_video_id"`
	RecordedVideo   *RecordedVideo `gorm:"foreignKey:RecordedVideoID" json:"recorded_video,omitempty"`

	// ChannelID links back to a known channel when the recording carried
	// usable PSI/SI. Nil for recordings identified only by filename.
	ChannelID *ULID `gorm:"type:varchar(26);index" json:"channel_id,omitempty"`

	NetworkID *uint16 `json:"network_id,omitempty"`
	ServiceID *uint16 `json:"service_id,omitempty"`
	EventID   *uint16 `json:"event_id,omitempty"`

	Title       string        `gorm:"not null;size:512" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Detail      ProgramDetail `gorm:"type:text" json:"detail"`
	Genres      GenreList     `gorm:"type:text" json:"genres"`

	// StartTime and EndTime are in JST.
	StartTime time.Time `gorm:"not null;index" json:"start_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
	Duration  float64   `gorm:"not null" json:"duration"`

	// RecordingStartMargin / RecordingEndMargin are the seconds recorded
	// before the scheduled start and after the scheduled end.
	RecordingStartMargin float64 `gorm:"default:0" json:"recording_start_margin"`
	RecordingEndMargin   float64 `gorm:"default:0" json:"recording_end_margin"`

	// IsPartiallyRecorded is set when the recording does not cover the
	// whole scheduled event.
	IsPartiallyRecorded bool `gorm:"default:false" json:"is_partially_recorded"`

	PrimaryAudio   AudioInfo  `gorm:"type:text" json:"primary_audio"`
	SecondaryAudio *AudioInfo `gorm:"type:text" json:"secondary_audio,omitempty"`
}

// TableName returns the table name for RecordedProgram.
func (RecordedProgram) TableName() string {
	return "recorded_programs"
}
