package encoder

import (
	"fmt"
	"strconv"
)

// TsreadexOptions selects the preprocessor behavior.
type TsreadexOptions struct {
	// ServiceID narrows the TS to one service; -1 keeps the first.
	ServiceID int64
	// ForHWEncC switches the data PID handling required by the
	// FFmpeg 4.4 based HWEncC readers on Linux.
	ForHWEncC bool
	// Recorded enables the dual-mono handling replay needs.
	Recorded bool
}

// BuildTsreadexArgs returns the fixed preprocessor invocation: drop
// unrelated PIDs, normalize audio and caption streams, read stdin.
func BuildTsreadexArgs(opts TsreadexOptions) []string {
	sid := "-1"
	if opts.ServiceID > 0 {
		sid = strconv.FormatInt(opts.ServiceID, 10)
	}
	args := []string{
		"-x", "18/38/39",
		"-n", sid,
		"-a", "13",
	}
	if opts.Recorded {
		args = append(args, "-b", "7")
	} else {
		args = append(args, "-b", "5")
	}
	args = append(args, "-c", "5", "-u", "1")
	if opts.ForHWEncC {
		args = append(args, "-d", "13")
	} else {
		args = append(args, "-d", "9")
	}
	return append(args, "-")
}

// CommandOptions carries everything the builders need for one run.
type CommandOptions struct {
	Encoder Type
	Profile QualityProfile

	// IsRadio drops the video mappings entirely.
	IsRadio bool
	// Interlaced selects the deinterlace path.
	Interlaced bool

	// Retry widens probe windows on each restart to ride over
	// transient parse failures at stream start.
	Retry int

	// Recorded mode: keep input timestamps and offset the output so
	// every segment lands on the recording's global timeline.
	Recorded      bool
	StartSeconds  float64
}

// gopFrames returns the forced GOP length: 0.5 s for H.264 and 2.5 s
// for HEVC at the profile frame rate.
func gopFrames(p QualityProfile) int {
	fps := 30
	if p.Is60FPS {
		fps = 60
	}
	if p.IsHEVC {
		return fps * 5 / 2
	}
	return fps / 2
}

// BuildFFmpegArgs produces the software encode invocation reading TS
// on stdin and writing TS to stdout.
func BuildFFmpegArgs(o CommandOptions) []string {
	p := o.Profile
	analyze := 500000 * (1 + o.Retry)
	probe := 1000000 * (1 + o.Retry)

	args := []string{
		"-f", "mpegts",
		"-analyzeduration", strconv.Itoa(analyze),
		"-probesize", strconv.Itoa(probe),
	}
	if o.Recorded {
		args = append(args, "-copyts")
	}
	args = append(args, "-i", "pipe:0")

	if o.IsRadio {
		args = append(args, "-map", "0:a", "-vn")
	} else {
		args = append(args, "-map", "0:v:0", "-map", "0:a", "-map", "0:d?", "-ignore_unknown")

		codec := "libx264"
		extra := []string{"-flags", "+cgop", "-preset", "veryfast"}
		if p.IsHEVC {
			codec = "libx265"
			extra = []string{"-preset", "fast"}
		}
		args = append(args, "-vcodec", codec)
		args = append(args, extra...)
		args = append(args,
			"-vb", fmt.Sprintf("%dK", p.VideoBitrate),
			"-maxrate", fmt.Sprintf("%dK", p.VideoBitrateMax),
			"-bufsize", fmt.Sprintf("%dK", p.VideoBitrateMax*2),
			"-g", strconv.Itoa(gopFrames(p)),
			"-aspect", "16:9",
		)
		filter := fmt.Sprintf("yadif=0:-1:1,scale=%d:%d", p.Width, p.Height)
		rate := "30000/1001"
		if p.Is60FPS {
			filter = fmt.Sprintf("yadif=1:-1:0,scale=%d:%d", p.Width, p.Height)
			rate = "60000/1001"
		}
		if !o.Interlaced {
			filter = fmt.Sprintf("scale=%d:%d", p.Width, p.Height)
		}
		args = append(args, "-r", rate, "-vf", filter)
	}

	args = append(args,
		"-acodec", "aac",
		"-ab", fmt.Sprintf("%dK", p.AudioBitrate),
		"-ar", "48000",
		"-ac", "2",
	)

	if o.Recorded {
		args = append(args, "-output_ts_offset", strconv.FormatFloat(o.StartSeconds, 'f', 6, 64))
	} else {
		args = append(args, "-max_interleave_delta", strconv.Itoa(500000*(1+o.Retry)))
	}
	return append(args, "-f", "mpegts", "pipe:1")
}

// BuildHWEncCArgs produces the invocation for the QSVEncC/NVEncC/
// VCEEncC/rkmppenc family, which share one option dialect.
func BuildHWEncCArgs(o CommandOptions) []string {
	p := o.Profile
	analyze := 5 * (1 + o.Retry) // seconds

	args := []string{
		"--input-format", "mpegts",
		"--input-analyze", strconv.Itoa(analyze),
		"--input", "-",
		"--output", "-",
		"--output-format", "mpegts",
	}
	if o.Recorded {
		// HWEncC keeps input timestamps with vfr copy and applies the
		// timeline offset itself.
		args = append(args,
			"--avsync", "vfr",
			"--timestamp-passthrough",
			"--output-ts-offset", strconv.FormatFloat(o.StartSeconds, 'f', 6, 64),
		)
	} else {
		args = append(args, "--avsync", "forcecfr")
	}

	codec := "h264"
	profile := "main"
	if p.IsHEVC {
		codec = "hevc"
	}
	args = append(args,
		"--codec", codec,
		"--profile", profile,
		"--vbr", strconv.Itoa(p.VideoBitrate),
		"--max-bitrate", strconv.Itoa(p.VideoBitrateMax),
		"--gop-len", strconv.Itoa(gopFrames(p)),
	)
	if o.Recorded {
		switch o.Encoder {
		case TypeQSVEncC:
			args = append(args, "--strict-gop")
		case TypeNVEncC:
			args = append(args, "--no-i-adapt")
		}
	}

	rate := "30000/1001"
	if p.Is60FPS {
		rate = "60000/1001"
	}
	args = append(args, "--fps", rate)
	if o.Interlaced {
		args = append(args, "--interlace", "tff", "--vpp-deinterlace", "normal")
	}
	args = append(args,
		"--output-res", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"--audio-codec", "aac",
		"--audio-bitrate", strconv.Itoa(p.AudioBitrate),
		"--audio-samplerate", "48000",
		"--audio-stream", "2ch",
	)
	return args
}

// BuildEncoderArgs dispatches on the encoder type.
func BuildEncoderArgs(o CommandOptions) []string {
	if o.Encoder == TypeFFmpeg {
		return BuildFFmpegArgs(o)
	}
	return BuildHWEncCArgs(o)
}
