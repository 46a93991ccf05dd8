package scanner

import (
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/hisui-tv/hisui/internal/metadata"
	"github.com/hisui-tv/hisui/internal/models"
)

// upsertAction describes what upsert did with an analyzed recording.
type upsertAction string

const (
	actionSkipped  upsertAction = "skipped"
	actionMoved    upsertAction = "moved"
	actionInserted upsertAction = "inserted"
)

// store persists analyzed recordings. Deduplication is keyed on the
// sampled file hash: a known hash at the same path is a no-op, a known
// hash at a new path is a move, an unknown hash is a fresh recording.
type store struct {
	db *gorm.DB
}

func (st *store) upsert(res *metadata.Result) (upsertAction, error) {
	var existing models.RecordedVideo
	err := st.db.Where("file_hash = ?", res.Video.FileHash).First(&existing).Error
	switch {
	case err == nil:
		if existing.FilePath == res.Video.FilePath {
			return actionSkipped, nil
		}
		updates := map[string]any{
			"file_path":        res.Video.FilePath,
			"file_modified_at": res.Video.FileModifiedAt,
		}
		if err := st.db.Model(&existing).Updates(updates).Error; err != nil {
			return "", fmt.Errorf("scanner: update moved recording: %w", err)
		}
		return actionMoved, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return actionInserted, st.insert(res)
	default:
		return "", fmt.Errorf("scanner: lookup by hash: %w", err)
	}
}

func (st *store) insert(res *metadata.Result) error {
	st.resolveChannel(res)
	return st.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(res.Video).Error; err != nil {
			return fmt.Errorf("scanner: insert recorded video: %w", err)
		}
		res.Program.RecordedVideoID = res.Video.ID
		if err := tx.Create(res.Program).Error; err != nil {
			return fmt.Errorf("scanner: insert recorded program: %w", err)
		}
		return nil
	})
}

// resolveChannel links the program to a known channel row, first by
// (network_id, service_id), then by the SDT service name for
// recordings whose ids never made it into the EPG.
func (st *store) resolveChannel(res *metadata.Result) {
	prog := res.Program
	var ch models.Channel

	if prog.NetworkID != nil && prog.ServiceID != nil {
		err := st.db.Where("network_id = ? AND service_id = ?", *prog.NetworkID, *prog.ServiceID).
			First(&ch).Error
		if err == nil {
			prog.ChannelID = &ch.ID
			return
		}
	}
	if res.ServiceName != "" {
		err := st.db.Where("name = ?", res.ServiceName).First(&ch).Error
		if err == nil {
			prog.ChannelID = &ch.ID
		}
	}
}

// prune removes rows whose file is gone from disk.
func (st *store) prune() (int, error) {
	var videos []models.RecordedVideo
	if err := st.db.Select("id", "file_path").Find(&videos).Error; err != nil {
		return 0, fmt.Errorf("scanner: list recordings: %w", err)
	}

	removed := 0
	for _, v := range videos {
		if _, err := os.Stat(v.FilePath); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		err := st.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("recorded_video_id = ?", v.ID).Delete(&models.RecordedProgram{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.RecordedVideo{}, "id = ?", v.ID).Error
		})
		if err != nil {
			return removed, fmt.Errorf("scanner: prune %s: %w", v.FilePath, err)
		}
		removed++
	}
	return removed, nil
}
