package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hisui-tv/hisui/internal/models"
)

// Analyzer produces RecordedVideo and RecordedProgram rows from a
// recording file.
type Analyzer struct {
	Prober *Prober
	Logger *slog.Logger
}

// Result is the analyzed recording, ready for persistence. Channel
// identity is carried as raw ids; the scanner resolves them to a
// channel row.
type Result struct {
	Video   *models.RecordedVideo
	Program *models.RecordedProgram

	// ServiceName from SDT, for channel resolution when the ids are
	// not yet known to the EPG.
	ServiceName string
}

// Analyze inspects one recording file end to end: sampled hash,
// ffprobe stream facts, keyframe index, recording start time, embedded
// program info with sidecar fallbacks.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*Result, error) {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: stat: %w", err)
	}
	if info.Size() < models.MinHashableFileSize {
		return nil, ErrFileTooSmall
	}

	hash, err := ComputeFileHash(path)
	if err != nil {
		return nil, err
	}

	probed, err := a.Prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	video := &models.RecordedVideo{
		FilePath:       path,
		FileHash:       hash,
		FileSize:       info.Size(),
		FileModifiedAt: info.ModTime(),
		Duration:       probed.Duration,
		Container:      probed.Container,
		VideoCodec:     probed.VideoCodec,
		VideoProfile:   probed.VideoProfile,
		VideoScanType:  probed.ScanType,
		VideoFrameRate: probed.FrameRate,
		VideoWidth:     probed.Width,
		VideoHeight:    probed.Height,
		PrimaryAudio:   probed.PrimaryAudio,
		SecondaryAudio: probed.SecondaryAudio,
	}

	if kfs, err := a.Prober.KeyFrameIndex(ctx, path); err == nil {
		video.KeyFrames = kfs
	} else {
		log.Warn("keyframe index extraction failed",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
	}

	start := BiasRecordingStart(info.ModTime().Add(-time.Duration(probed.Duration*float64(time.Second))), probed.Duration)
	end := start.Add(time.Duration(probed.Duration * float64(time.Second)))
	video.RecordingStartTime = &start
	video.RecordingEndTime = &end

	if cms, err := ParseCMSections(path, probed.Duration); err == nil {
		video.CMSections = cms
	}

	result := &Result{Video: video}
	result.Program, result.ServiceName = a.buildProgram(ctx, path, video)
	return result, nil
}

// buildProgram recovers program metadata for the recording, falling
// back from embedded PSI/SI to the program.txt sidecar to the
// filename stem. The second return is the service name, when a source
// provided one.
func (a *Analyzer) buildProgram(ctx context.Context, path string, video *models.RecordedVideo) (*models.RecordedProgram, string) {
	prog := &models.RecordedProgram{
		Title:    filenameStem(path),
		Duration: video.Duration,
	}
	if video.RecordingStartTime != nil {
		prog.StartTime = *video.RecordingStartTime
	}
	if video.RecordingEndTime != nil {
		prog.EndTime = *video.RecordingEndTime
	}
	prog.PrimaryAudio = video.PrimaryAudio
	prog.SecondaryAudio = video.SecondaryAudio

	if video.Container == models.ContainerMPEGTS {
		tsinfo := &TSInfoAnalyzer{Path: path, Logger: a.Logger}
		if info, err := tsinfo.Analyze(ctx); err == nil {
			applyTSInfo(prog, info)
			return prog, info.ServiceName
		}
	}

	if pt, err := ParseProgramText(path); err == nil && pt.Title != "" {
		prog.Title = pt.Title
		prog.Description = pt.Description
		return prog, pt.ServiceName
	}
	return prog, ""
}

func applyTSInfo(prog *models.RecordedProgram, info *TSProgramInfo) {
	if info.Title != "" {
		prog.Title = info.Title
	}
	prog.Description = info.Description
	prog.Detail = models.ProgramDetail(info.Detail)
	prog.Genres = info.Genres

	nid, sid, eid := info.NetworkID, info.ServiceID, info.EventID
	if nid != 0 {
		prog.NetworkID = &nid
	}
	if sid != 0 {
		prog.ServiceID = &sid
	}
	if eid != 0 {
		prog.EventID = &eid
	}

	if !info.StartTime.IsZero() {
		prog.StartTime = info.StartTime
		if info.HasDuration {
			prog.EndTime = info.StartTime.Add(info.Duration)
			prog.Duration = info.Duration.Seconds()
		}
	}
}

// BiasRecordingStart nudges a second-granular recording start time
// backwards by half the sub-second remainder of the duration,
// approximating the true start the recorder truncated away.
func BiasRecordingStart(start time.Time, durationSeconds float64) time.Time {
	ms := int64(durationSeconds*1000) % 1000
	return start.Add(-time.Duration(ms/2) * time.Millisecond)
}

// filenameStem is the last-resort program title.
func filenameStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
