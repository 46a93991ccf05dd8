package encoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTsreadexArgs(t *testing.T) {
	args := BuildTsreadexArgs(TsreadexOptions{ServiceID: 1024})
	assert.Equal(t, []string{
		"-x", "18/38/39",
		"-n", "1024",
		"-a", "13",
		"-b", "5",
		"-c", "5",
		"-u", "1",
		"-d", "9",
		"-",
	}, args)
}

func TestBuildTsreadexArgsHWEncCRecorded(t *testing.T) {
	args := BuildTsreadexArgs(TsreadexOptions{ServiceID: 0, ForHWEncC: true, Recorded: true})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-n -1")
	assert.Contains(t, joined, "-b 7")
	assert.Contains(t, joined, "-d 13")
}

func TestGopFrames(t *testing.T) {
	assert.Equal(t, 15, gopFrames(QualityProfile{}))
	assert.Equal(t, 30, gopFrames(QualityProfile{Is60FPS: true}))
	assert.Equal(t, 75, gopFrames(QualityProfile{IsHEVC: true}))
	assert.Equal(t, 150, gopFrames(QualityProfile{Is60FPS: true, IsHEVC: true}))
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag {
			require.Less(t, i+1, len(args))
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestBuildFFmpegArgsLive(t *testing.T) {
	p, err := LookupProfile("1080p")
	require.NoError(t, err)

	args := BuildFFmpegArgs(CommandOptions{
		Encoder:    TypeFFmpeg,
		Profile:    p,
		Interlaced: true,
	})

	assert.Equal(t, "500000", argValue(t, args, "-analyzeduration"))
	assert.Equal(t, "1000000", argValue(t, args, "-probesize"))
	assert.Equal(t, "libx264", argValue(t, args, "-vcodec"))
	assert.Equal(t, "6500K", argValue(t, args, "-vb"))
	assert.Equal(t, "9000K", argValue(t, args, "-maxrate"))
	assert.Equal(t, "15", argValue(t, args, "-g"))
	assert.Equal(t, "30000/1001", argValue(t, args, "-r"))
	assert.Equal(t, "yadif=0:-1:1,scale=1440:1080", argValue(t, args, "-vf"))
	assert.NotContains(t, args, "-copyts")
	assert.Contains(t, args, "-max_interleave_delta")
}

func TestBuildFFmpegArgsRetryScalesProbes(t *testing.T) {
	p, err := LookupProfile("720p")
	require.NoError(t, err)

	args := BuildFFmpegArgs(CommandOptions{Profile: p, Retry: 2})
	assert.Equal(t, "1500000", argValue(t, args, "-analyzeduration"))
	assert.Equal(t, "3000000", argValue(t, args, "-probesize"))
}

func TestBuildFFmpegArgsRecorded(t *testing.T) {
	p, err := LookupProfile("1080p")
	require.NoError(t, err)

	args := BuildFFmpegArgs(CommandOptions{
		Profile:      p,
		Recorded:     true,
		StartSeconds: 123.5,
	})
	assert.Contains(t, args, "-copyts")
	assert.Equal(t, "123.500000", argValue(t, args, "-output_ts_offset"))
	assert.NotContains(t, args, "-max_interleave_delta")
}

func TestBuildFFmpegArgsRadio(t *testing.T) {
	p, err := LookupProfile("480p")
	require.NoError(t, err)

	args := BuildFFmpegArgs(CommandOptions{Profile: p, IsRadio: true})
	assert.Contains(t, args, "-vn")
	assert.NotContains(t, args, "-vcodec")
	assert.Equal(t, "aac", argValue(t, args, "-acodec"))
}

func TestBuildFFmpegArgsHEVC60FPS(t *testing.T) {
	p, err := LookupProfile("1080p-60fps-hevc")
	require.NoError(t, err)
	require.True(t, p.IsHEVC)
	require.True(t, p.Is60FPS)

	args := BuildFFmpegArgs(CommandOptions{Profile: p, Interlaced: true})
	assert.Equal(t, "libx265", argValue(t, args, "-vcodec"))
	assert.Equal(t, "150", argValue(t, args, "-g"))
	assert.Equal(t, "60000/1001", argValue(t, args, "-r"))
	assert.Equal(t, "yadif=1:-1:0,scale=1440:1080", argValue(t, args, "-vf"))
}

func TestBuildHWEncCArgsLive(t *testing.T) {
	p, err := LookupProfile("1080p")
	require.NoError(t, err)

	args := BuildHWEncCArgs(CommandOptions{
		Encoder:    TypeQSVEncC,
		Profile:    p,
		Interlaced: true,
	})
	assert.Equal(t, "forcecfr", argValue(t, args, "--avsync"))
	assert.Equal(t, "h264", argValue(t, args, "--codec"))
	assert.Equal(t, "6500", argValue(t, args, "--vbr"))
	assert.Equal(t, "1440x1080", argValue(t, args, "--output-res"))
	assert.Contains(t, args, "--vpp-deinterlace")
	assert.NotContains(t, args, "--strict-gop")
}

func TestBuildHWEncCArgsRecordedDialects(t *testing.T) {
	p, err := LookupProfile("720p")
	require.NoError(t, err)

	qsv := BuildHWEncCArgs(CommandOptions{Encoder: TypeQSVEncC, Profile: p, Recorded: true})
	assert.Contains(t, qsv, "--strict-gop")
	assert.Contains(t, qsv, "--timestamp-passthrough")
	assert.Equal(t, "vfr", argValue(t, qsv, "--avsync"))

	nv := BuildHWEncCArgs(CommandOptions{Encoder: TypeNVEncC, Profile: p, Recorded: true})
	assert.Contains(t, nv, "--no-i-adapt")
	assert.NotContains(t, nv, "--strict-gop")
}

func TestBuildEncoderArgsDispatch(t *testing.T) {
	p, err := LookupProfile("540p")
	require.NoError(t, err)

	ff := BuildEncoderArgs(CommandOptions{Encoder: TypeFFmpeg, Profile: p})
	assert.Contains(t, ff, "-vcodec")

	hw := BuildEncoderArgs(CommandOptions{Encoder: TypeNVEncC, Profile: p})
	assert.Contains(t, hw, "--codec")
}
