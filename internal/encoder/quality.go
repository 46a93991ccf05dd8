// Package encoder runs the external transcode pipeline: the tsreadex
// preprocessor feeding FFmpeg or one of the HWEncC family, with the
// supervision, log classification, and restart budgeting the live and
// recorded tasks need.
package encoder

import (
	"errors"
	"fmt"
)

// ErrUnknownQuality reports a quality name with no profile.
var ErrUnknownQuality = errors.New("unknown quality")

// Type identifies the encoder binary in use.
type Type string

const (
	TypeFFmpeg   Type = "FFmpeg"
	TypeQSVEncC  Type = "QSVEncC"
	TypeNVEncC   Type = "NVEncC"
	TypeVCEEncC  Type = "VCEEncC"
	TypeRkmppenc Type = "rkmppenc"
)

// IsHardware reports whether the encoder is one of the HWEncC family.
func (t Type) IsHardware() bool {
	return t != TypeFFmpeg
}

// QualityProfile is one selectable output quality.
type QualityProfile struct {
	Name            string
	Width           int
	Height          int
	VideoBitrate    int // kbps
	VideoBitrateMax int // kbps
	AudioBitrate    int // kbps
	Is60FPS         bool
	IsHEVC          bool
}

// Profiles lists the selectable qualities. Broadcast sources are
// 1440x1080 except the full-HD stations, which widen to 1920.
var Profiles = map[string]QualityProfile{
	"1080p-60fps": {Name: "1080p-60fps", Width: 1440, Height: 1080, VideoBitrate: 6500, VideoBitrateMax: 9000, AudioBitrate: 192, Is60FPS: true},
	"1080p":       {Name: "1080p", Width: 1440, Height: 1080, VideoBitrate: 6500, VideoBitrateMax: 9000, AudioBitrate: 192},
	"810p":        {Name: "810p", Width: 1440, Height: 810, VideoBitrate: 5500, VideoBitrateMax: 7600, AudioBitrate: 192},
	"720p":        {Name: "720p", Width: 1280, Height: 720, VideoBitrate: 4500, VideoBitrateMax: 6200, AudioBitrate: 192},
	"540p":        {Name: "540p", Width: 960, Height: 540, VideoBitrate: 3000, VideoBitrateMax: 4100, AudioBitrate: 192},
	"480p":        {Name: "480p", Width: 854, Height: 480, VideoBitrate: 2000, VideoBitrateMax: 2800, AudioBitrate: 192},
	"360p":        {Name: "360p", Width: 640, Height: 360, VideoBitrate: 1100, VideoBitrateMax: 1800, AudioBitrate: 128},
	"240p":        {Name: "240p", Width: 426, Height: 240, VideoBitrate: 550, VideoBitrateMax: 650, AudioBitrate: 128},
}

// LookupProfile resolves a quality name, optionally as HEVC when the
// name carries the "-hevc" suffix.
func LookupProfile(name string) (QualityProfile, error) {
	base := name
	hevc := false
	if n := len(name); n > 5 && name[n-5:] == "-hevc" {
		base = name[:n-5]
		hevc = true
	}
	p, ok := Profiles[base]
	if !ok {
		return QualityProfile{}, fmt.Errorf("%w %q", ErrUnknownQuality, name)
	}
	p.Name = name
	p.IsHEVC = hevc
	return p, nil
}

// fullHDServices lists stations broadcasting genuine 1920x1080.
// The upstream list is maintained by hand; services not listed here
// stay at the broadcast 1440 width.
var fullHDServices = map[uint32]bool{
	serviceKey(4, 211):  true, // BS11
	serviceKey(4, 222):  true, // BS12 トゥエルビ
	serviceKey(4, 103):  true, // NHK BSプレミアム
}

func serviceKey(networkID, serviceID uint16) uint32 {
	return uint32(networkID)<<16 | uint32(serviceID)
}

// AdjustForChannel widens a 1440x1080 request to 1920x1080 on full-HD
// stations so the encoder does not squeeze a real full-HD picture.
func (p QualityProfile) AdjustForChannel(networkID, serviceID uint16) QualityProfile {
	if p.Width == 1440 && p.Height == 1080 && fullHDServices[serviceKey(networkID, serviceID)] {
		p.Width = 1920
	}
	return p
}
