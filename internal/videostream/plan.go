// Package videostream serves recorded videos as on-demand encoded
// segments. A session plans the recording into keyframe-aligned
// segments of roughly ten seconds, encodes them lazily from wherever
// the player seeks, and hands finished segments to waiting requests.
package videostream

import (
	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/models"
	"github.com/hisui-tv/hisui/internal/mpegts"
)

// targetSegmentSeconds is the minimum planned segment duration. The
// last segment absorbs the remainder and may be shorter.
const targetSegmentSeconds = 10.0

// PlanSegments greedily groups consecutive keyframes into segments of
// at least targetSegmentSeconds. Durations are measured between group
// start DTS values; the final segment runs to the recording's end.
func PlanSegments(keyFrames models.KeyFrameList, totalDuration float64) []encoder.RecordedSegment {
	if len(keyFrames) == 0 {
		return nil
	}

	var segs []encoder.RecordedSegment
	groupStart := 0
	for i := 1; i < len(keyFrames); i++ {
		span := float64(keyFrames[i].DTS-keyFrames[groupStart].DTS) / mpegts.PCRClockRate
		if span < targetSegmentSeconds {
			continue
		}
		segs = append(segs, encoder.RecordedSegment{
			Index:           len(segs),
			StartFilePos:    int64(keyFrames[groupStart].Offset),
			StartDTS:        int64(keyFrames[groupStart].DTS),
			DurationSeconds: span,
		})
		groupStart = i
	}

	// Whatever remains becomes the final segment.
	last := encoder.RecordedSegment{
		Index:        len(segs),
		StartFilePos: int64(keyFrames[groupStart].Offset),
		StartDTS:     int64(keyFrames[groupStart].DTS),
	}
	startSeconds := float64(keyFrames[groupStart].DTS-keyFrames[0].DTS) / mpegts.PCRClockRate
	if totalDuration > startSeconds {
		last.DurationSeconds = totalDuration - startSeconds
	}
	return append(segs, last)
}
