package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tsProbe(streams ...ffprobeStream) *ffprobeOutput {
	return &ffprobeOutput{
		Format:  ffprobeFormat{FormatName: "mpegts", Duration: "1800.500000"},
		Streams: streams,
	}
}

func TestDistillTypicalBroadcast(t *testing.T) {
	res, err := distill(tsProbe(
		ffprobeStream{CodecType: "video", CodecName: "mpeg2video", Profile: "Main", Width: 1440, Height: 1080, FieldOrder: "tt", AvgFrameRate: "30000/1001"},
		ffprobeStream{CodecType: "audio", CodecName: "aac", Channels: 2, SampleRate: "48000"},
	))
	require.NoError(t, err)

	assert.Equal(t, "MPEG-TS", res.Container)
	assert.Equal(t, 1800.5, res.Duration)
	assert.Equal(t, "MPEG-2", res.VideoCodec)
	assert.Equal(t, "Interlaced", res.ScanType)
	assert.InDelta(t, 29.97, res.FrameRate, 0.01)
	assert.Equal(t, "AAC", res.PrimaryAudio.Codec)
	assert.Equal(t, 48000, res.PrimaryAudio.SamplingRate)
	assert.Nil(t, res.SecondaryAudio)
}

func TestDistillDualAudio(t *testing.T) {
	res, err := distill(tsProbe(
		ffprobeStream{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, FieldOrder: "progressive", AvgFrameRate: "60000/1001"},
		ffprobeStream{CodecType: "audio", CodecName: "aac", Channels: 2, SampleRate: "48000"},
		ffprobeStream{CodecType: "audio", CodecName: "aac", Channels: 2, SampleRate: "48000"},
	))
	require.NoError(t, err)
	assert.Equal(t, "H.264", res.VideoCodec)
	assert.Equal(t, "Progressive", res.ScanType)
	require.NotNil(t, res.SecondaryAudio)
}

func TestDistillRejectsMissingStreams(t *testing.T) {
	_, err := distill(tsProbe(
		ffprobeStream{CodecType: "audio", CodecName: "aac", Channels: 2},
	))
	assert.ErrorIs(t, err, ErrNotPlayable)

	_, err = distill(tsProbe(
		ffprobeStream{CodecType: "video", CodecName: "h264"},
	))
	assert.ErrorIs(t, err, ErrNotPlayable)
}

func TestDistillRejectsOddChannelCount(t *testing.T) {
	_, err := distill(tsProbe(
		ffprobeStream{CodecType: "video", CodecName: "h264"},
		ffprobeStream{CodecType: "audio", CodecName: "aac", Channels: 4},
	))
	assert.ErrorIs(t, err, ErrNotPlayable)
}

func TestDistillRejectsUnknownContainer(t *testing.T) {
	probed := tsProbe(ffprobeStream{CodecType: "video", CodecName: "h264"})
	probed.Format.FormatName = "matroska,webm"
	_, err := distill(probed)
	assert.ErrorIs(t, err, ErrNotPlayable)
}

func TestParseKeyFrameLine(t *testing.T) {
	kf, ok := parseKeyFrameLine("450000,1253644,K__")
	require.True(t, ok)
	assert.EqualValues(t, 450000, kf.DTS)
	assert.EqualValues(t, 1253644, kf.Offset)

	_, ok = parseKeyFrameLine("450000,1253644,___")
	assert.False(t, ok)
	_, ok = parseKeyFrameLine("N/A,1253644,K__")
	assert.False(t, ok)
	_, ok = parseKeyFrameLine("")
	assert.False(t, ok)
}
