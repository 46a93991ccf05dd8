package mpegts

import (
	"time"
)

// Well-known PIDs.
const (
	PIDPAT uint16 = 0x0000
	PIDNIT uint16 = 0x0010
	PIDSDT uint16 = 0x0011
	PIDEIT uint16 = 0x0012
	PIDTOT uint16 = 0x0014
)

// Table ids.
const (
	TableIDPAT       = 0x00
	TableIDPMT       = 0x02
	TableIDNITActual = 0x40
	TableIDSDTActual = 0x42
	TableIDTOT       = 0x73
	// EIT present/following, actual stream.
	TableIDEITActualPF = 0x4e
)

// jst is the broadcast timezone; all SI times are JST.
var jst = time.FixedZone("JST", 9*60*60)

// PAT maps program numbers to PMT PIDs.
type PAT struct {
	TransportStreamID uint16
	Programs          map[uint16]uint16 // program number -> PMT PID
}

// ParsePAT decodes a complete, CRC-valid PAT section.
func ParsePAT(section []byte) (*PAT, bool) {
	if len(section) < 12 || section[0] != TableIDPAT {
		return nil, false
	}
	pat := &PAT{
		TransportStreamID: uint16(section[3])<<8 | uint16(section[4]),
		Programs:          make(map[uint16]uint16),
	}
	for pos := 8; pos+4 <= len(section)-4; pos += 4 {
		program := uint16(section[pos])<<8 | uint16(section[pos+1])
		pid := uint16(section[pos+2]&0x1f)<<8 | uint16(section[pos+3])
		if program != 0 { // 0 is the NIT pointer
			pat.Programs[program] = pid
		}
	}
	return pat, true
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	StreamType    uint8
	PID           uint16
	ComponentTag  uint8
	HasComponent  bool
	RawDescriptors []byte
}

// Common stream types.
const (
	StreamTypeMPEG2Video = 0x02
	StreamTypeADTSAudio  = 0x0f
	StreamTypeH264       = 0x1b
	StreamTypeH265       = 0x24
	StreamTypeARIBCaption = 0x06 // private PES, distinguished by component tag
)

// PMT describes one program's elementary streams.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ParsePMT decodes a complete, CRC-valid PMT section.
func ParsePMT(section []byte) (*PMT, bool) {
	if len(section) < 16 || section[0] != TableIDPMT {
		return nil, false
	}
	pmt := &PMT{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1f)<<8 | uint16(section[9]),
	}
	programInfoLen := int(section[10]&0x0f)<<8 | int(section[11])
	pos := 12 + programInfoLen
	end := len(section) - 4
	for pos+5 <= end {
		es := ElementaryStream{
			StreamType: section[pos],
			PID:        uint16(section[pos+1]&0x1f)<<8 | uint16(section[pos+2]),
		}
		esInfoLen := int(section[pos+3]&0x0f)<<8 | int(section[pos+4])
		pos += 5
		if pos+esInfoLen > end {
			break
		}
		es.RawDescriptors = section[pos : pos+esInfoLen]
		for _, d := range parseDescriptors(es.RawDescriptors) {
			if d.Tag == 0x52 && len(d.Data) >= 1 { // stream identifier
				es.ComponentTag = d.Data[0]
				es.HasComponent = true
			}
		}
		pos += esInfoLen
		pmt.Streams = append(pmt.Streams, es)
	}
	return pmt, true
}

// SDTService is one service row of the SDT.
type SDTService struct {
	ServiceID   uint16
	ServiceType uint8
	Name        string
	Provider    string
}

// SDT lists the services of the actual transport stream.
type SDT struct {
	TransportStreamID uint16
	NetworkID         uint16
	Services          []SDTService
}

// ParseSDT decodes a complete, CRC-valid SDT (actual) section. Service
// names are ARIB-encoded and decoded here.
func ParseSDT(section []byte) (*SDT, bool) {
	if len(section) < 15 || section[0] != TableIDSDTActual {
		return nil, false
	}
	sdt := &SDT{
		TransportStreamID: uint16(section[3])<<8 | uint16(section[4]),
		NetworkID:         uint16(section[8])<<8 | uint16(section[9]),
	}
	pos := 11
	end := len(section) - 4
	for pos+5 <= end {
		svc := SDTService{
			ServiceID: uint16(section[pos])<<8 | uint16(section[pos+1]),
		}
		loopLen := int(section[pos+3]&0x0f)<<8 | int(section[pos+4])
		pos += 5
		if pos+loopLen > end {
			break
		}
		for _, d := range parseDescriptors(section[pos : pos+loopLen]) {
			if d.Tag == 0x48 && len(d.Data) >= 2 { // service descriptor
				svc.ServiceType = d.Data[0]
				providerLen := int(d.Data[1])
				if 2+providerLen <= len(d.Data) {
					svc.Provider = DecodeARIBString(d.Data[2 : 2+providerLen])
					rest := d.Data[2+providerLen:]
					if len(rest) >= 1 {
						nameLen := int(rest[0])
						if 1+nameLen <= len(rest) {
							svc.Name = DecodeARIBString(rest[1 : 1+nameLen])
						}
					}
				}
			}
		}
		pos += loopLen
		sdt.Services = append(sdt.Services, svc)
	}
	return sdt, true
}

// NITService carries the remocon key id from the ARIB TS information
// descriptor.
type NIT struct {
	NetworkID uint16
	RemoconID uint8
	TSName    string
}

// ParseNIT decodes a complete, CRC-valid NIT (actual) section and
// extracts the TS information descriptor if present.
func ParseNIT(section []byte) (*NIT, bool) {
	if len(section) < 12 || section[0] != TableIDNITActual {
		return nil, false
	}
	nit := &NIT{
		NetworkID: uint16(section[3])<<8 | uint16(section[4]),
	}
	netDescLen := int(section[8]&0x0f)<<8 | int(section[9])
	pos := 10 + netDescLen
	if pos+2 > len(section)-4 {
		return nit, true
	}
	loopLen := int(section[pos]&0x0f)<<8 | int(section[pos+1])
	pos += 2
	end := pos + loopLen
	if end > len(section)-4 {
		end = len(section) - 4
	}
	for pos+6 <= end {
		descLen := int(section[pos+4]&0x0f)<<8 | int(section[pos+5])
		pos += 6
		if pos+descLen > end {
			break
		}
		for _, d := range parseDescriptors(section[pos : pos+descLen]) {
			if d.Tag == 0xcd && len(d.Data) >= 2 { // TS information
				nit.RemoconID = d.Data[0]
				nameLen := int(d.Data[1] >> 2)
				if 2+nameLen <= len(d.Data) {
					nit.TSName = DecodeARIBString(d.Data[2 : 2+nameLen])
				}
			}
		}
		pos += descLen
	}
	return nit, true
}

// ParseTOT decodes a time offset table section and returns the current
// JST time. TOT carries no CRC-protected version loop; the section is
// still CRC-checked by the assembler.
func ParseTOT(section []byte) (time.Time, bool) {
	if len(section) < 10 || (section[0] != TableIDTOT && section[0] != 0x70) {
		return time.Time{}, false
	}
	return decodeMJDTime(section[3:8])
}

// EITEvent is one event of an EIT section, with ARIB descriptors
// already decoded.
type EITEvent struct {
	EventID   uint16
	StartTime time.Time
	// Duration is zero when the broadcast marks it undecided.
	Duration       time.Duration
	HasDuration    bool
	Title          string
	Description    string
	Detail         []EITDetailItem
	GenreMajor     string
	GenreMiddle    string
	HasGenre       bool
	FreeCA         bool
	AudioComponents []EITAudioComponent
}

// EITDetailItem is one heading/body pair from extended event
// descriptors, in broadcast order.
type EITDetailItem struct {
	Heading string
	Body    string
}

// EITAudioComponent describes one audio stream advertised by the
// audio component descriptor.
type EITAudioComponent struct {
	ComponentType uint8
	IsMain        bool
	SamplingRate  int
	Language      string
	IsDualMono    bool
	Text          string
}

// EIT is one present/following EIT section for a service.
type EIT struct {
	ServiceID         uint16
	TransportStreamID uint16
	NetworkID         uint16
	SectionNumber     uint8 // 0 = present, 1 = following
	Events            []EITEvent
}

// samplingRates indexes the audio component descriptor's sampling
// rate field.
var samplingRates = [8]int{0, 16000, 22050, 24000, 0, 32000, 44100, 48000}

// ParseEIT decodes a complete, CRC-valid EIT present/following section
// for the actual stream.
func ParseEIT(section []byte) (*EIT, bool) {
	if len(section) < 18 || section[0] != TableIDEITActualPF {
		return nil, false
	}
	eit := &EIT{
		ServiceID:         uint16(section[3])<<8 | uint16(section[4]),
		SectionNumber:     section[6],
		TransportStreamID: uint16(section[8])<<8 | uint16(section[9]),
		NetworkID:         uint16(section[10])<<8 | uint16(section[11]),
	}
	pos := 14
	end := len(section) - 4
	for pos+12 <= end {
		ev := EITEvent{
			EventID: uint16(section[pos])<<8 | uint16(section[pos+1]),
			FreeCA:  section[pos+10]&0x10 != 0,
		}
		if t, ok := decodeMJDTime(section[pos+2 : pos+7]); ok {
			ev.StartTime = t
		}
		if d, ok := decodeBCDDuration(section[pos+7 : pos+10]); ok {
			ev.Duration = d
			ev.HasDuration = true
		}
		loopLen := int(section[pos+10]&0x0f)<<8 | int(section[pos+11])
		pos += 12
		if pos+loopLen > end {
			break
		}
		decodeEventDescriptors(&ev, section[pos:pos+loopLen])
		pos += loopLen
		eit.Events = append(eit.Events, ev)
	}
	return eit, true
}

func decodeEventDescriptors(ev *EITEvent, raw []byte) {
	var extendedItems []EITDetailItem
	var pendingHeading string
	var pendingBody []byte

	flush := func() {
		if pendingHeading != "" || len(pendingBody) > 0 {
			extendedItems = append(extendedItems, EITDetailItem{
				Heading: cleanDetailHeading(pendingHeading),
				Body:    DecodeARIBString(pendingBody),
			})
			pendingHeading = ""
			pendingBody = nil
		}
	}

	for _, d := range parseDescriptors(raw) {
		switch d.Tag {
		case 0x4d: // short event
			if len(d.Data) < 5 {
				continue
			}
			nameLen := int(d.Data[3])
			if 4+nameLen > len(d.Data) {
				continue
			}
			ev.Title = DecodeARIBString(d.Data[4 : 4+nameLen])
			rest := d.Data[4+nameLen:]
			if len(rest) >= 1 {
				textLen := int(rest[0])
				if 1+textLen <= len(rest) {
					ev.Description = DecodeARIBString(rest[1 : 1+textLen])
				}
			}
		case 0x4e: // extended event
			if len(d.Data) < 5 {
				continue
			}
			itemsLen := int(d.Data[4])
			items := d.Data[5:]
			if itemsLen < len(items) {
				items = items[:itemsLen]
			}
			pos := 0
			for pos+2 <= len(items) {
				headLen := int(items[pos])
				if pos+1+headLen+1 > len(items) {
					break
				}
				heading := items[pos+1 : pos+1+headLen]
				pos += 1 + headLen
				bodyLen := int(items[pos])
				if pos+1+bodyLen > len(items) {
					break
				}
				body := items[pos+1 : pos+1+bodyLen]
				pos += 1 + bodyLen

				if headLen > 0 {
					// New heading starts a new item; an empty heading
					// continues the previous one across descriptors.
					flush()
					pendingHeading = DecodeARIBString(heading)
				}
				pendingBody = append(pendingBody, body...)
			}
		case 0x54: // content (genre)
			if len(d.Data) < 2 || ev.HasGenre {
				continue
			}
			major := d.Data[0] >> 4
			middle := d.Data[0] & 0x0f
			user := d.Data[1] >> 4
			ev.GenreMajor, ev.GenreMiddle = genreNames(major, middle, user)
			ev.HasGenre = true
		case 0xc4: // audio component
			if len(d.Data) < 9 {
				continue
			}
			ac := EITAudioComponent{
				ComponentType: d.Data[1] & 0x1f,
				IsMain:        d.Data[5]&0x20 != 0,
				SamplingRate:  samplingRates[d.Data[5]>>1&0x7],
				IsDualMono:    d.Data[1]&0x1f == 0x02,
			}
			esMultiLingual := d.Data[5]&0x40 != 0
			if len(d.Data) >= 9 {
				ac.Language = string(d.Data[6:9])
			}
			textStart := 9
			if esMultiLingual {
				textStart = 12 // second ISO-639 code
			}
			if textStart < len(d.Data) {
				ac.Text = DecodeARIBString(d.Data[textStart:])
			}
			ev.AudioComponents = append(ev.AudioComponents, ac)
		}
	}
	flush()
	ev.Detail = extendedItems
}

// descriptor is one raw tag/data pair.
type descriptor struct {
	Tag  uint8
	Data []byte
}

func parseDescriptors(raw []byte) []descriptor {
	var out []descriptor
	pos := 0
	for pos+2 <= len(raw) {
		tag := raw[pos]
		length := int(raw[pos+1])
		pos += 2
		if pos+length > len(raw) {
			break
		}
		out = append(out, descriptor{Tag: tag, Data: raw[pos : pos+length]})
		pos += length
	}
	return out
}

// decodeMJDTime converts the 5-byte MJD + BCD time used across SI
// tables to a JST wall time. All-ones means undefined.
func decodeMJDTime(b []byte) (time.Time, bool) {
	if len(b) < 5 {
		return time.Time{}, false
	}
	if b[0] == 0xff && b[1] == 0xff {
		return time.Time{}, false
	}
	mjd := int(b[0])<<8 | int(b[1])

	yy := int((float64(mjd) - 15078.2) / 365.25)
	mm := int((float64(mjd) - 14956.1 - float64(int(float64(yy)*365.25))) / 30.6001)
	day := mjd - 14956 - int(float64(yy)*365.25) - int(float64(mm)*30.6001)
	k := 0
	if mm == 14 || mm == 15 {
		k = 1
	}
	year := yy + k + 1900
	month := mm - 1 - k*12

	hour, ok1 := fromBCD(b[2])
	minute, ok2 := fromBCD(b[3])
	second, ok3 := fromBCD(b[4])
	if !ok1 || !ok2 || !ok3 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, jst), true
}

// decodeBCDDuration converts a 3-byte BCD hh:mm:ss duration. All-ones
// means the broadcaster has not decided the end time yet.
func decodeBCDDuration(b []byte) (time.Duration, bool) {
	if len(b) < 3 || (b[0] == 0xff && b[1] == 0xff && b[2] == 0xff) {
		return 0, false
	}
	h, ok1 := fromBCD(b[0])
	m, ok2 := fromBCD(b[1])
	s, ok3 := fromBCD(b[2])
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, true
}

func fromBCD(b byte) (int, bool) {
	hi, lo := int(b>>4), int(b&0x0f)
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}
