package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Container formats for recorded files.
const (
	ContainerMPEGTS = "MPEG-TS"
	ContainerMPEG4  = "MPEG-4"
)

// MinHashableFileSize is the smallest file the sampled hash is defined
// for: three 1 MiB chunks must not overlap the file bounds.
const MinHashableFileSize = 3 * 1024 * 1024

// KeyFrame is one entry of a recording's keyframe index.
// Both fields are strictly ascending across the index.
type KeyFrame struct {
	DTS    uint64 `json:"dts"`
	Offset uint64 `json:"offset"`
}

// KeyFrameList stores the keyframe index as a JSON column.
type KeyFrameList []KeyFrame

// Value implements driver.Valuer.
func (k KeyFrameList) Value() (driver.Value, error) { return jsonValue(k) }

// Scan implements sql.Scanner.
func (k *KeyFrameList) Scan(value any) error { return jsonScan(value, k) }

// Validate checks that the index is strictly ascending on both dts and offset.
func (k KeyFrameList) Validate() error {
	for i := 1; i < len(k); i++ {
		if k[i].DTS <= k[i-1].DTS {
			return fmt.Errorf("key frame %d: dts %d not ascending", i, k[i].DTS)
		}
		if k[i].Offset <= k[i-1].Offset {
			return fmt.Errorf("key frame %d: offset %d not ascending", i, k[i].Offset)
		}
	}
	return nil
}

// CMSection marks a commercial break in seconds from recording start.
type CMSection struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// CMSectionList stores CM sections as a JSON column.
type CMSectionList []CMSection

// Value implements driver.Valuer.
func (c CMSectionList) Value() (driver.Value, error) { return jsonValue(c) }

// Scan implements sql.Scanner.
func (c *CMSectionList) Scan(value any) error { return jsonScan(value, c) }

// RecordedVideo represents an indexed recording file.
type RecordedVideo struct {
	BaseModel

	// FilePath is the absolute path of the TS/MP4 file.
	FilePath string `gorm:"not null;size:4096;index" json:"file_path"`

	// FileHash is the SHA-256 of three 1 MiB chunks sampled at 1/4, 1/2
	// and 3/4 of the file length. Stable under partial rewrites that do
	// not touch the sampled regions.
	FileHash string `gorm:"not null;size:64;uniqueIndex" json:"file_hash"`

	FileSize       int64     `gorm:"not null" json:"file_size"`
	FileCreatedAt  time.Time `json:"file_created_at"`
	FileModifiedAt time.Time `json:"file_modified_at"`

	RecordingStartTime *time.Time `json:"recording_start_time,omitempty"`
	RecordingEndTime   *time.Time `json:"recording_end_time,omitempty"`

	// Duration is the playout length in seconds.
	Duration float64 `gorm:"not null" json:"duration"`

	// Container is MPEG-TS or MPEG-4.
	Container string `gorm:"not null;size:16" json:"container"`

	VideoCodec      string  `gorm:"size:32" json:"video_codec"`
	VideoProfile    string  `gorm:"size:32" json:"video_codec_profile"`
	VideoScanType   string  `gorm:"size:16" json:"video_scan_type"` // Interlaced, Progressive
	VideoFrameRate  float64 `json:"video_frame_rate"`
	VideoWidth      int     `json:"video_resolution_width"`
	VideoHeight     int     `json:"video_resolution_height"`

	PrimaryAudio   AudioInfo  `gorm:"type:text" json:"primary_audio"`
	SecondaryAudio *AudioInfo `gorm:"type:text" json:"secondary_audio,omitempty"`

	KeyFrames  KeyFrameList  `gorm:"type:text" json:"key_frames"`
	CMSections CMSectionList `gorm:"type:text" json:"cm_sections"`
}

// TableName returns the table name for RecordedVideo.
func (RecordedVideo) TableName() string {
	return "recorded_videos"
}

// Validate checks the recording's invariants.
func (v *RecordedVideo) Validate() error {
	if v.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if v.FileSize < MinHashableFileSize {
		return fmt.Errorf("file too small to hash: %d bytes", v.FileSize)
	}
	if err := v.KeyFrames.Validate(); err != nil {
		return err
	}
	if n := len(v.KeyFrames); n > 0 {
		if last := float64(v.KeyFrames[n-1].DTS) / 90000; v.Duration < last {
			return fmt.Errorf("duration %.3fs shorter than last key frame at %.3fs", v.Duration, last)
		}
	}
	return nil
}
