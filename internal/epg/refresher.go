package epg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hisui-tv/hisui/internal/edcb"
	"github.com/hisui-tv/hisui/internal/models"
)

// expiredProgramAge is how long after its end a program survives.
const expiredProgramAge = time.Hour

// backend is the slice of the EDCB client the refresher needs.
type backend interface {
	EnumService(ctx context.Context) ([]edcb.ServiceInfo, error)
	EnumProgramInfo(ctx context.Context, keys []uint64) ([]edcb.ServiceEventInfo, error)
	FileCopy(ctx context.Context, name string) ([]byte, error)
}

// Refresher maintains the channel and program tables.
type Refresher struct {
	db      *gorm.DB
	backend backend
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewRefresher builds a refresher over the given backend client.
func NewRefresher(db *gorm.DB, client backend, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{db: db, backend: client, logger: logger}
}

// Start runs one refresh immediately, then on the cron schedule, until
// ctx is cancelled.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Error("epg refresh failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("epg: bad refresh schedule %q: %w", schedule, err)
	}
	r.cron = c

	go func() {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Error("initial epg refresh failed", slog.String("error", err.Error()))
		}
	}()
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	r.logger.Info("epg refresh scheduled", slog.String("schedule", schedule))
	return nil
}

// Refresh rebuilds channels, upserts programs, and prunes expired ones.
func (r *Refresher) Refresh(ctx context.Context) error {
	if err := r.RefreshChannels(ctx); err != nil {
		return err
	}
	if err := r.RefreshPrograms(ctx); err != nil {
		return err
	}
	removed, err := r.pruneExpired()
	if err != nil {
		return err
	}
	if removed > 0 {
		r.logger.Info("expired programs removed", slog.Int64("count", removed))
	}
	return nil
}

// RefreshChannels rebuilds the channel table from EnumService.
// ChSet5.txt supplies the EPG capture flag; services excluded from EPG
// capture are skipped during program refresh but still listed.
func (r *Refresher) RefreshChannels(ctx context.Context) error {
	services, err := r.backend.EnumService(ctx)
	if err != nil {
		return fmt.Errorf("epg: enum services: %w", err)
	}

	built := BuildChannels(services)
	seen := make(map[uint32]bool, len(built))
	for i := range built {
		ch := &built[i]
		seen[chsetKey(ch.NetworkID, ch.ServiceID)] = true

		var existing models.Channel
		err := r.db.Where("network_id = ? AND service_id = ?", ch.NetworkID, ch.ServiceID).
			First(&existing).Error
		switch {
		case err == nil:
			ch.ID = existing.ID
			ch.CreatedAt = existing.CreatedAt
			if err := r.db.Save(ch).Error; err != nil {
				return fmt.Errorf("epg: update channel %s: %w", ch.DisplayChannelID, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := r.db.Create(ch).Error; err != nil {
				return fmt.Errorf("epg: insert channel %s: %w", ch.DisplayChannelID, err)
			}
		default:
			return fmt.Errorf("epg: lookup channel: %w", err)
		}
	}

	// Services that vanished from the backend take their channels with
	// them.
	var all []models.Channel
	if err := r.db.Find(&all).Error; err != nil {
		return fmt.Errorf("epg: list channels: %w", err)
	}
	for _, ch := range all {
		if seen[chsetKey(ch.NetworkID, ch.ServiceID)] {
			continue
		}
		if err := r.db.Delete(&ch).Error; err != nil {
			return fmt.Errorf("epg: delete channel %s: %w", ch.DisplayChannelID, err)
		}
	}

	r.logger.Info("channels refreshed", slog.Int("count", len(built)))
	return nil
}

// RefreshPrograms fetches the EPG for every watchable channel and
// upserts it by natural program id.
func (r *Refresher) RefreshPrograms(ctx context.Context) error {
	epgCap := r.epgCapFilter(ctx)

	var channels []models.Channel
	if err := r.db.Where("is_watchable = ?", true).Find(&channels).Error; err != nil {
		return fmt.Errorf("epg: list channels: %w", err)
	}

	byIdentity := make(map[uint32]*models.Channel, len(channels))
	keys := make([]uint64, 0, len(channels))
	for i := range channels {
		ch := &channels[i]
		if excluded, known := epgCap[chsetKey(ch.NetworkID, ch.ServiceID)]; known && excluded {
			continue
		}
		byIdentity[chsetKey(ch.NetworkID, ch.ServiceID)] = ch
		var tsid uint16
		if ch.TransportStreamID != nil {
			tsid = *ch.TransportStreamID
		}
		keys = append(keys, edcb.ServiceKey(ch.NetworkID, tsid, ch.ServiceID))
	}
	if len(keys) == 0 {
		return nil
	}

	infos, err := r.backend.EnumProgramInfo(ctx, keys)
	if err != nil {
		return fmt.Errorf("epg: enum programs: %w", err)
	}

	total := 0
	for _, info := range infos {
		ch, ok := byIdentity[chsetKey(info.Service.ONID, info.Service.SID)]
		if !ok {
			continue
		}
		for _, ev := range info.EventList {
			p := buildProgram(ch, ev)
			if p == nil {
				continue
			}
			err := r.db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "program_id"}},
				UpdateAll: true,
			}).Create(p).Error
			if err != nil {
				return fmt.Errorf("epg: upsert program %s: %w", p.ProgramID, err)
			}
			total++
		}
	}
	r.logger.Info("programs refreshed", slog.Int("count", total))
	return nil
}

// epgCapFilter maps service identity to "excluded from EPG capture".
// A missing or unreadable ChSet5.txt disables the filter.
func (r *Refresher) epgCapFilter(ctx context.Context) map[uint32]bool {
	data, err := r.backend.FileCopy(ctx, "ChSet5.txt")
	if err != nil {
		r.logger.Debug("ChSet5.txt not available", slog.String("error", err.Error()))
		return nil
	}
	excluded := make(map[uint32]bool)
	for key, e := range parseChSet5(data) {
		excluded[key] = !e.EPGCap
	}
	return excluded
}

func (r *Refresher) pruneExpired() (int64, error) {
	cutoff := time.Now().Add(-expiredProgramAge)
	res := r.db.Where("end_time < ?", cutoff).Delete(&models.Program{})
	if res.Error != nil {
		return 0, fmt.Errorf("epg: prune programs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
