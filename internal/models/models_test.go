package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelTypeFromNetworkID(t *testing.T) {
	tests := []struct {
		networkID uint16
		want      ChannelType
	}{
		{4, ChannelTypeBS},
		{3, ChannelTypeCS},
		{6, ChannelTypeCS},
		{7, ChannelTypeCS},
		{10, ChannelTypeCS},
		{0x7880, ChannelTypeGR},
		{0x7FE0, ChannelTypeGR},
		{1, ChannelTypeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChannelTypeFromNetworkID(tt.networkID), "network id %d", tt.networkID)
	}
}

func TestBuildDisplayChannelID(t *testing.T) {
	assert.Equal(t, "gr011", BuildDisplayChannelID(ChannelTypeGR, "011"))
	assert.Equal(t, "bs101", BuildDisplayChannelID(ChannelTypeBS, "101"))
	assert.Equal(t, "gr021-1", BuildDisplayChannelID(ChannelTypeGR, "021-1"))
}

func TestBuildProgramID(t *testing.T) {
	assert.Equal(t, "NID32736-SID001-EID100", BuildProgramID(32736, 1, 100))
	assert.Equal(t, "NID4-SID101-EID65535", BuildProgramID(4, 101, 65535))
}

func TestKeyFrameListValidate(t *testing.T) {
	valid := KeyFrameList{
		{DTS: 0, Offset: 0},
		{DTS: 90000, Offset: 188 * 100},
		{DTS: 180000, Offset: 188 * 250},
	}
	require.NoError(t, valid.Validate())

	dupDTS := KeyFrameList{{DTS: 100, Offset: 0}, {DTS: 100, Offset: 188}}
	require.Error(t, dupDTS.Validate())

	backwardsOffset := KeyFrameList{{DTS: 100, Offset: 376}, {DTS: 200, Offset: 188}}
	require.Error(t, backwardsOffset.Validate())
}

func TestRecordedVideoValidate(t *testing.T) {
	v := &RecordedVideo{
		FilePath:  "/mnt/rec/test.ts",
		FileSize:  100 * 1024 * 1024,
		Duration:  30,
		Container: ContainerMPEGTS,
		KeyFrames: KeyFrameList{{DTS: 0, Offset: 0}, {DTS: 90000 * 20, Offset: 1 << 20}},
	}
	require.NoError(t, v.Validate())

	v.Duration = 10 // shorter than last key frame at 20s
	require.Error(t, v.Validate())

	v.Duration = 30
	v.FileSize = 1024
	require.Error(t, v.Validate())
}

func TestProgramIsOnAirAt(t *testing.T) {
	start := time.Date(2026, 1, 10, 21, 0, 0, 0, time.FixedZone("JST", 9*3600))
	p := &Program{StartTime: start, EndTime: start.Add(30 * time.Minute)}

	assert.True(t, p.IsOnAirAt(start))
	assert.True(t, p.IsOnAirAt(start.Add(29*time.Minute)))
	assert.False(t, p.IsOnAirAt(start.Add(30*time.Minute)))
	assert.False(t, p.IsOnAirAt(start.Add(-time.Second)))
}
