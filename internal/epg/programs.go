package epg

import (
	"strings"
	"time"

	"github.com/hisui-tv/hisui/internal/edcb"
	"github.com/hisui-tv/hisui/internal/models"
	"github.com/hisui-tv/hisui/internal/mpegts"
)

// buildProgram maps one backend EPG event onto a program row. Events
// without a start time cannot be placed on the timetable and yield
// nil. An undecided duration is stored as the 5 minute sentinel so the
// event still renders; a later refresh rewrites the real end.
func buildProgram(ch *models.Channel, e edcb.EventInfo) *models.Program {
	if !e.StartTimeFlag {
		return nil
	}

	duration := models.UndecidedDurationSentinel
	if e.DurationFlag {
		duration = time.Duration(e.DurationSecond) * time.Second
	}

	p := &models.Program{
		ProgramID: models.BuildProgramID(e.ONID, e.SID, e.EID),
		ChannelID: ch.ID,
		NetworkID: e.ONID,
		ServiceID: e.SID,
		EventID:   e.EID,
		StartTime: e.StartTime,
		EndTime:   e.StartTime.Add(duration),
		Duration:  duration.Seconds(),
		IsFree:    !e.FreeCAFlag,
	}

	if e.ShortInfo != nil {
		p.Title = e.ShortInfo.EventName
		p.Description = e.ShortInfo.TextChar
	}
	if e.ExtInfo != nil {
		p.Detail = parseExtendedText(e.ExtInfo.TextChar)
	}
	if e.ContentInfo != nil {
		for _, c := range e.ContentInfo.NibbleList {
			major, middle := mpegts.GenreNames(
				uint8(c.ContentNibble>>8),
				uint8(c.ContentNibble),
				uint8(c.UserNibble>>8),
			)
			if major == "" {
				continue
			}
			p.Genres = append(p.Genres, models.Genre{Major: major, Middle: middle})
		}
	}
	if e.AudioInfo != nil {
		primary, secondary := mapAudioComponents(e.AudioInfo.ComponentList)
		p.PrimaryAudio = primary
		p.SecondaryAudio = secondary
	}
	return p
}

// parseExtendedText splits the backend's extended event blob into
// heading/body items. EDCB joins the broadcast items with "◆" heading
// markers; text before the first marker is the program body.
func parseExtendedText(text string) models.ProgramDetail {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}

	var detail models.ProgramDetail
	flush := func(heading string, body []string) {
		joined := strings.TrimSpace(strings.Join(body, "\n"))
		if joined == "" {
			return
		}
		detail = append(detail, models.DetailItem{Heading: heading, Body: joined})
	}

	heading := "番組内容"
	var body []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "◆") {
			flush(heading, body)
			heading = strings.TrimSpace(strings.TrimPrefix(line, "◆"))
			body = nil
			continue
		}
		body = append(body, line)
	}
	flush(heading, body)
	return detail
}

// audioSamplingRates indexes the descriptor's sampling rate code.
var audioSamplingRates = [8]int{0, 16000, 22050, 24000, 0, 32000, 44100, 48000}

var audioComponentNames = map[uint8]string{
	0x01: "モノラル",
	0x02: "デュアルモノ",
	0x03: "ステレオ",
	0x07: "3/1サラウンド",
	0x08: "3/2サラウンド",
	0x09: "5.1chサラウンド",
}

func mapAudioComponents(components []edcb.AudioComponentInfoData) (models.AudioInfo, *models.AudioInfo) {
	var infos []models.AudioInfo
	for _, c := range components {
		infos = append(infos, models.AudioInfo{
			Codec:         "AAC",
			ComponentType: audioComponentNames[c.ComponentType],
			Language:      strings.TrimSpace(c.TextChar),
			SamplingRate:  audioSamplingRates[c.SamplingRate&0x7],
			IsDualMono:    c.ComponentType == 0x02,
		})
	}
	switch len(infos) {
	case 0:
		return models.AudioInfo{}, nil
	case 1:
		return infos[0], nil
	default:
		return infos[0], &infos[1]
	}
}
