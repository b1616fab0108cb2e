package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"vidbranch/internal/logging"
)

// runRetentionOnce purges sessions, events and slot views older than each
// project's RetentionDays. Projects with RetentionDays <= 0 are skipped.
func runRetentionOnce(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var projects []Project
	if err := db.WithContext(ctx).Where("retention_days > 0").Find(&projects).Error; err != nil {
		return 0, err
	}

	var purged int64
	for _, p := range projects {
		cutoff := now.AddDate(0, 0, -p.RetentionDays)
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("project_id = ? AND started_at < ?", p.ID, cutoff).Delete(&SlotView{}).Error; err != nil {
				return err
			}
			res := tx.Where("project_id = ? AND created_at < ?", p.ID, cutoff).Delete(&Event{})
			if res.Error != nil {
				return res.Error
			}
			purged += res.RowsAffected
			return tx.Where("project_id = ? AND started_at < ?", p.ID, cutoff).Delete(&WidgetSession{}).Error
		})
		if err != nil {
			return purged, err
		}
	}
	return purged, nil
}

// StartRetentionWorker launches a background goroutine that runs the
// retention cleanup once at startup and then once per day. Expired admin
// sessions are dropped on the same schedule.
func StartRetentionWorker(ctx context.Context, db *gorm.DB) {
	log := logging.With().Str("worker", "retention").Logger()
	run := func() {
		now := time.Now()
		if n, err := purgeExpiredSessions(ctx, db, now); err != nil {
			log.Error().Err(err).Msg("admin session cleanup failed")
		} else if n > 0 {
			log.Info().Int64("sessions", n).Msg("admin session cleanup")
		}
		n, err := runRetentionOnce(ctx, db, now)
		if err != nil {
			log.Error().Err(err).Msg("retention cleanup failed")
			return
		}
		if n > 0 {
			log.Info().Int64("events", n).Msg("retention cleanup")
		}
	}
	go func() {
		run()

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
