package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hisui-tv/hisui/internal/models"
)

// ErrNotPlayable reports a file whose streams cannot be served:
// missing or unsupported video/audio, or a scrambled recording.
var ErrNotPlayable = errors.New("metadata: file is not playable")

// ProbeResult is the distilled ffprobe output.
type ProbeResult struct {
	Container string // MPEG-TS or MPEG-4
	Duration  float64

	VideoCodec   string // MPEG-2, H.264, H.265
	VideoProfile string
	ScanType     string // Interlaced, Progressive
	FrameRate    float64
	Width        int
	Height       int

	PrimaryAudio   models.AudioInfo
	SecondaryAudio *models.AudioInfo
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Profile      string `json:"profile"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FieldOrder   string `json:"field_order"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Channels     int    `json:"channels"`
	SampleRate   string `json:"sample_rate"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

var videoCodecNames = map[string]string{
	"mpeg2video": "MPEG-2",
	"h264":       "H.264",
	"hevc":       "H.265",
}

var audioCodecNames = map[string]string{
	"aac":      "AAC",
	"aac_latm": "AAC",
	"mp2":      "MP2",
}

// Prober runs ffprobe against recording files.
type Prober struct {
	FFprobePath string
}

// Probe inspects the file and validates it can be served. Files with
// no decodable video or audio stream, or with unexpected codecs or
// channel layouts, fail with ErrNotPlayable.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("metadata: ffprobe: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("metadata: parse ffprobe output: %w", err)
	}
	return distill(&probed)
}

func distill(probed *ffprobeOutput) (*ProbeResult, error) {
	res := &ProbeResult{}

	switch {
	case strings.Contains(probed.Format.FormatName, "mpegts"):
		res.Container = models.ContainerMPEGTS
	case strings.Contains(probed.Format.FormatName, "mp4"):
		res.Container = models.ContainerMPEG4
	default:
		return nil, fmt.Errorf("%w: container %q", ErrNotPlayable, probed.Format.FormatName)
	}
	res.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)

	var audio []models.AudioInfo
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			if res.VideoCodec != "" {
				continue
			}
			name, ok := videoCodecNames[s.CodecName]
			if !ok {
				continue
			}
			res.VideoCodec = name
			res.VideoProfile = s.Profile
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseFrameRate(s.AvgFrameRate)
			res.ScanType = "Progressive"
			if s.FieldOrder == "tt" || s.FieldOrder == "bb" || s.FieldOrder == "tb" || s.FieldOrder == "bt" {
				res.ScanType = "Interlaced"
			}
		case "audio":
			name, ok := audioCodecNames[s.CodecName]
			if !ok {
				continue
			}
			if s.Channels != 1 && s.Channels != 2 && s.Channels != 6 {
				return nil, fmt.Errorf("%w: %d audio channels", ErrNotPlayable, s.Channels)
			}
			rate, _ := strconv.Atoi(s.SampleRate)
			audio = append(audio, models.AudioInfo{
				Codec:        name,
				SamplingRate: rate,
			})
		}
	}

	if res.VideoCodec == "" {
		return nil, fmt.Errorf("%w: no supported video stream", ErrNotPlayable)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: no supported audio stream", ErrNotPlayable)
	}
	res.PrimaryAudio = audio[0]
	if len(audio) > 1 {
		res.SecondaryAudio = &audio[1]
	}
	return res, nil
}

func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}

// KeyFrameIndex extracts the keyframe index by scanning video packets
// with ffprobe. Entries that would break the strict ascending order
// (broadcast glitches, wrapped timestamps at the tail) are dropped.
func (p *Prober) KeyFrameIndex(ctx context.Context, path string) (models.KeyFrameList, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=dts,pos,flags",
		"-of", "csv=print_section=0",
		path,
	)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("metadata: ffprobe pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("metadata: ffprobe: %w", err)
	}

	var kfs models.KeyFrameList
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		kf, ok := parseKeyFrameLine(scanner.Text())
		if !ok {
			continue
		}
		if n := len(kfs); n > 0 && (kf.DTS <= kfs[n-1].DTS || kf.Offset <= kfs[n-1].Offset) {
			continue
		}
		kfs = append(kfs, kf)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("metadata: ffprobe: %w", err)
	}
	return kfs, nil
}

// parseKeyFrameLine reads one "dts,pos,flags" csv row, keeping only
// keyframe packets with both fields present.
func parseKeyFrameLine(line string) (models.KeyFrame, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 3 || !strings.Contains(fields[2], "K") {
		return models.KeyFrame{}, false
	}
	dts, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return models.KeyFrame{}, false
	}
	pos, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return models.KeyFrame{}, false
	}
	return models.KeyFrame{DTS: dts, Offset: pos}, true
}
