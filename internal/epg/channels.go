// Package epg keeps the channel and program tables in sync with the
// EDCB backend. A cron-scheduled refresh rebuilds channels from
// EnumService, upserts programs from EnumPgInfoEx, and drops programs
// that ended more than an hour ago.
package epg

import (
	"fmt"
	"sort"

	"github.com/hisui-tv/hisui/internal/edcb"
	"github.com/hisui-tv/hisui/internal/models"
)

// ARIB service types. Data broadcast services are not listed and are
// dropped at channel build.
const (
	serviceTypeTV        = 0x01
	serviceTypeAudio     = 0x02
	serviceTypeTempVideo = 0xa1
	serviceTypeTempAudio = 0xa2
	serviceTypePromo     = 0xa5
)

var knownServiceTypes = map[uint16]bool{
	serviceTypeTV:        true,
	serviceTypeAudio:     true,
	serviceTypeTempVideo: true,
	serviceTypeTempAudio: true,
	serviceTypePromo:     true,
}

// BuildChannels maps the backend's service table onto channel rows.
// Terrestrial numbers come from the remocon digit with a per-remocon
// service index (remocon 1 -> 011, 012, ...); satellite numbers are
// the service id. Colliding display ids get a "-N" suffix.
func BuildChannels(services []edcb.ServiceInfo) []models.Channel {
	ordered := make([]edcb.ServiceInfo, 0, len(services))
	for _, s := range services {
		if knownServiceTypes[s.ServiceType] {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ONID != ordered[j].ONID {
			return ordered[i].ONID < ordered[j].ONID
		}
		return ordered[i].SID < ordered[j].SID
	})

	// Index of each terrestrial service within its remocon group.
	remoconSeen := map[string]int{}
	displaySeen := map[string]int{}

	channels := make([]models.Channel, 0, len(ordered))
	for _, s := range ordered {
		typ := models.ChannelTypeFromNetworkID(s.ONID)

		var number string
		subchannel := false
		if typ == models.ChannelTypeGR {
			key := fmt.Sprintf("%d:%d", s.ONID, s.RemoconID)
			idx := remoconSeen[key]
			remoconSeen[key]++
			number = fmt.Sprintf("%03d", int(s.RemoconID)*10+idx+1)
			subchannel = idx > 0
		} else {
			number = fmt.Sprintf("%03d", s.SID)
		}

		display := models.BuildDisplayChannelID(typ, number)
		if n := displaySeen[display]; n > 0 {
			displaySeen[display]++
			number = fmt.Sprintf("%s-%d", number, n+1)
			display = models.BuildDisplayChannelID(typ, number)
		} else {
			displaySeen[display] = 1
		}

		tsid := s.TSID
		channels = append(channels, models.Channel{
			NetworkID:         s.ONID,
			ServiceID:         s.SID,
			TransportStreamID: &tsid,
			RemoconID:         s.RemoconID,
			ChannelNumber:     number,
			DisplayChannelID:  display,
			Type:              typ,
			Name:              s.ServiceName,
			IsSubchannel:      subchannel,
			IsRadiochannel:    s.ServiceType == serviceTypeAudio || s.ServiceType == serviceTypeTempAudio,
			IsWatchable:       s.ServiceType == serviceTypeTV || s.ServiceType == serviceTypeAudio,
		})
	}
	return channels
}
