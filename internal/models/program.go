package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UndecidedDurationSentinel is stored when EIT reports the duration as
// undecided (未定). Later EIT updates may rewrite the scheduled end.
const UndecidedDurationSentinel = 5 * time.Minute

// Genre is an ARIB content-descriptor genre pair.
type Genre struct {
	Major  string `json:"major"`
	Middle string `json:"middle"`
}

// GenreList stores genres as a JSON column.
type GenreList []Genre

// Value implements driver.Valuer.
func (g GenreList) Value() (driver.Value, error) { return jsonValue(g) }

// Scan implements sql.Scanner.
func (g *GenreList) Scan(value any) error { return jsonScan(value, g) }

// DetailItem is one heading/body pair from an extended event descriptor.
// Order is significant, so the detail is a list rather than a map.
type DetailItem struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// ProgramDetail stores extended event text as a JSON column.
type ProgramDetail []DetailItem

// Value implements driver.Valuer.
func (d ProgramDetail) Value() (driver.Value, error) { return jsonValue(d) }

// Scan implements sql.Scanner.
func (d *ProgramDetail) Scan(value any) error { return jsonScan(value, d) }

// AudioInfo describes one audio stream of a program.
type AudioInfo struct {
	Codec        string `json:"codec"`
	ComponentType string `json:"component_type,omitempty"`
	Language     string `json:"language"`
	SamplingRate int    `json:"sampling_rate"`
	IsDualMono   bool   `json:"is_dual_mono,omitempty"`
}

// Value implements driver.Valuer.
func (a AudioInfo) Value() (driver.Value, error) { return jsonValue(a) }

// Scan implements sql.Scanner.
func (a *AudioInfo) Scan(value any) error { return jsonScan(value, a) }

// Program represents one EPG event.
//
// The primary key is the natural identifier "NID{nid}-SID{sid:03}-EID{eid}".
// Programs are inserted and updated by the periodic EPG refresh; programs
// whose end is more than one hour in the past are deleted.
type Program struct {
	// ProgramID is "NID{nid}-SID{sid:03}-EID{eid}".
	ProgramID string `gorm:"primarykey;size:32" json:"id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ChannelID references the owning channel row.
	ChannelID ULID `gorm:"type:varchar(26);not null;index:idx_program_channel_time" json:"channel_id"`

	NetworkID uint16 `gorm:"not null" json:"network_id"`
	ServiceID uint16 `gorm:"not null" json:"service_id"`
	EventID   uint16 `gorm:"not null" json:"event_id"`

	// StartTime and EndTime are in JST.
	StartTime time.Time `gorm:"not null;index:idx_program_channel_time" json:"start_time"`
	EndTime   time.Time `gorm:"not null;index" json:"end_time"`

	// Duration is the event length in seconds.
	Duration float64 `gorm:"not null" json:"duration"`

	Title       string        `gorm:"not null;size:512" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Detail      ProgramDetail `gorm:"type:text" json:"detail"`
	Genres      GenreList     `gorm:"type:text" json:"genres"`

	VideoCodec      string `gorm:"size:32" json:"video_codec,omitempty"`
	VideoResolution string `gorm:"size:16" json:"video_resolution,omitempty"`
	VideoType       string `gorm:"size:64" json:"video_type,omitempty"`

	PrimaryAudio   AudioInfo  `gorm:"type:text" json:"primary_audio"`
	SecondaryAudio *AudioInfo `gorm:"type:text" json:"secondary_audio,omitempty"`

	IsFree bool `gorm:"default:true" json:"is_free"`
}

// TableName returns the table name for Program.
func (Program) TableName() string {
	return "programs"
}

// BuildProgramID derives the natural key for an EPG event.
func BuildProgramID(networkID, serviceID, eventID uint16) string {
	return fmt.Sprintf("NID%d-SID%03d-EID%d", networkID, serviceID, eventID)
}

// IsOnAirAt returns true if the program covers the given instant.
func (p *Program) IsOnAirAt(t time.Time) bool {
	return !t.Before(p.StartTime) && t.Before(p.EndTime)
}
