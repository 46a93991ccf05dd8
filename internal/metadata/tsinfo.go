package metadata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/asticode/go-astits"

	"github.com/hisui-tv/hisui/internal/models"
	"github.com/hisui-tv/hisui/internal/mpegts"
	"github.com/hisui-tv/hisui/internal/psiarchive"
)

// ErrNoProgramInfo reports a TS recording with no usable EIT, neither
// embedded nor in the PSI/SI archive sidecar.
var ErrNoProgramInfo = errors.New("metadata: no program information found")

// tsScanBudget bounds how many tables the embedded scan consumes
// before giving up on the EIT.
const tsScanBudget = 50000

var jst = time.FixedZone("JST", 9*60*60)

// TSProgramInfo is the program and channel identity recovered from a
// TS recording's PSI/SI.
type TSProgramInfo struct {
	NetworkID uint16
	ServiceID uint16
	EventID   uint16

	ServiceName string

	Title       string
	Description string
	Detail      []models.DetailItem
	Genres      models.GenreList

	StartTime   time.Time
	Duration    time.Duration
	HasDuration bool
}

// TSInfoAnalyzer recovers program information from a TS recording:
// first from EIT near 20 % of the file (old enough to be settled,
// early enough to describe the main program), then from the `.psc`
// PSI/SI archive sidecar.
type TSInfoAnalyzer struct {
	Path   string
	Logger *slog.Logger
}

// Analyze returns the recording's program info, or ErrNoProgramInfo
// when neither source yields one.
func (a *TSInfoAnalyzer) Analyze(ctx context.Context) (*TSProgramInfo, error) {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	info, err := a.analyzeEmbedded(ctx)
	if err == nil {
		return info, nil
	}
	log.Debug("embedded EIT scan failed, trying PSI/SI archive",
		slog.String("file", a.Path),
		slog.String("error", err.Error()),
	)

	info, archiveErr := a.analyzeArchive()
	if archiveErr == nil {
		return info, nil
	}
	log.Debug("PSI/SI archive fallback failed",
		slog.String("file", a.Path),
		slog.String("error", archiveErr.Error()),
	)
	return nil, ErrNoProgramInfo
}

// analyzeEmbedded demuxes the file from the 20 % mark looking for a
// present/following EIT of the recorded service.
func (a *TSInfoAnalyzer) analyzeEmbedded(ctx context.Context) (*TSProgramInfo, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	offset := size / 5
	offset -= offset % mpegts.PacketSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	dmx := astits.NewDemuxer(ctx, f)

	info := &TSProgramInfo{}
	var haveService, haveEIT, haveSDT bool

	for i := 0; i < tsScanBudget && !(haveEIT && haveSDT); i++ {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			// Mid-stream junk is expected when joining at an arbitrary
			// offset; keep scanning.
			continue
		}

		switch {
		case data.PAT != nil && !haveService:
			for _, prog := range data.PAT.Programs {
				if prog.ProgramNumber != 0 {
					info.ServiceID = prog.ProgramNumber
					haveService = true
					break
				}
			}

		case data.SDT != nil && !haveSDT:
			info.NetworkID = data.SDT.OriginalNetworkID
			for _, svc := range data.SDT.Services {
				if haveService && svc.ServiceID != info.ServiceID {
					continue
				}
				for _, d := range svc.Descriptors {
					if d.Service != nil {
						info.ServiceName = mpegts.DecodeARIBString(d.Service.Name)
						haveSDT = true
					}
				}
				if haveSDT {
					break
				}
			}

		case data.EIT != nil && !haveEIT:
			if haveService && data.EIT.ServiceID != info.ServiceID {
				continue
			}
			if len(data.EIT.Events) == 0 {
				continue
			}
			ev := data.EIT.Events[0]
			info.EventID = ev.EventID
			info.StartTime = rebaseJST(ev.StartTime)
			fillFromDescriptors(info, ev.Descriptors)
			haveEIT = true
		}
	}

	if !haveEIT {
		return nil, errors.New("metadata: no EIT found in scan window")
	}
	return info, nil
}

// rebaseJST reinterprets a DVB-decoded wall-clock reading as JST;
// domestic broadcasts transmit JST in the nominally-UTC fields.
func rebaseJST(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, jst)
}

// fillFromDescriptors decodes the ARIB event descriptors into info.
func fillFromDescriptors(info *TSProgramInfo, descriptors []*astits.Descriptor) {
	for _, d := range descriptors {
		switch {
		case d.ShortEvent != nil:
			info.Title = mpegts.DecodeARIBString(d.ShortEvent.EventName)
			info.Description = mpegts.DecodeARIBString(d.ShortEvent.Text)

		case d.ExtendedEvent != nil:
			for _, item := range d.ExtendedEvent.Items {
				info.Detail = append(info.Detail, models.DetailItem{
					Heading: mpegts.DecodeARIBString(item.Description),
					Body:    mpegts.DecodeARIBString(item.Content),
				})
			}

		case d.Content != nil:
			for _, item := range d.Content.Items {
				major, middle := mpegts.GenreNames(
					item.ContentNibbleLevel1,
					item.ContentNibbleLevel2,
					item.UserByte>>4,
				)
				info.Genres = append(info.Genres, models.Genre{Major: major, Middle: middle})
			}
		}
	}
}

// analyzeArchive reads the `.psc` sidecar and parses its archived EIT
// and SDT sections with the native parsers.
func (a *TSInfoAnalyzer) analyzeArchive() (*TSProgramInfo, error) {
	f, err := os.Open(sidecarPath(a.Path, ".psc"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := psiarchive.NewReader(f, nil)
	info := &TSProgramInfo{}
	var haveEIT, haveSDT bool

	for {
		sections, err := reader.NextChunk()
		if err != nil {
			break
		}
		for _, sec := range sections {
			switch sec.PID {
			case mpegts.PIDEIT:
				eit, ok := mpegts.ParseEIT(sec.Data)
				if !ok || eit.SectionNumber != 0 || len(eit.Events) == 0 {
					continue
				}
				// Later chunks overwrite earlier ones: the program that
				// ran longest is archived most often, and the final
				// present event is the recorded one.
				ev := eit.Events[0]
				info.NetworkID = eit.NetworkID
				info.ServiceID = eit.ServiceID
				info.EventID = ev.EventID
				info.Title = ev.Title
				info.Description = ev.Description
				info.StartTime = ev.StartTime
				info.Duration = ev.Duration
				info.HasDuration = ev.HasDuration
				info.Detail = info.Detail[:0]
				for _, item := range ev.Detail {
					info.Detail = append(info.Detail, models.DetailItem{
						Heading: item.Heading,
						Body:    item.Body,
					})
				}
				if ev.HasGenre {
					info.Genres = models.GenreList{{Major: ev.GenreMajor, Middle: ev.GenreMiddle}}
				}
				haveEIT = true

			case mpegts.PIDSDT:
				sdt, ok := mpegts.ParseSDT(sec.Data)
				if !ok {
					continue
				}
				for _, svc := range sdt.Services {
					if info.ServiceID == 0 || svc.ServiceID == info.ServiceID {
						info.ServiceName = svc.Name
						haveSDT = true
					}
				}
			}
		}
	}

	if !haveEIT && !haveSDT {
		return nil, errors.New("metadata: archive holds no EIT or SDT")
	}
	return info, nil
}
