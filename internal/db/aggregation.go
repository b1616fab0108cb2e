package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vidbranch/internal/logging"
)

// runAggregationOnce rolls widget sessions and events for the hour starting at
// bucketStart into ProjectStat rows. Call with bucketStart = time in UTC
// truncated to hour. Re-running a bucket overwrites it.
func runAggregationOnce(ctx context.Context, db *gorm.DB, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(time.Hour)
	db = db.WithContext(ctx)

	var events []Event
	if err := db.Where("created_at >= ? AND created_at < ?", bucketStart, bucketEnd).
		Select("project_id", "session_id", "event_type").
		Find(&events).Error; err != nil {
		return err
	}
	var sessions []WidgetSession
	if err := db.Where("started_at >= ? AND started_at < ?", bucketStart, bucketEnd).
		Select("id", "project_id", "converted").
		Find(&sessions).Error; err != nil {
		return err
	}

	rows := make(map[string]*ProjectStat)
	row := func(projectID string) *ProjectStat {
		r, ok := rows[projectID]
		if !ok {
			r = &ProjectStat{ProjectID: projectID, BucketStart: bucketStart}
			rows[projectID] = r
		}
		return r
	}

	for _, s := range sessions {
		r := row(s.ProjectID)
		r.Sessions++
		if s.Converted {
			r.ConvertedSessions++
		}
	}
	for _, e := range events {
		r := row(e.ProjectID)
		switch e.EventType {
		case "widget_open":
			r.WidgetOpens++
		case "video_start":
			r.VideoViews++
		case "click":
			r.Clicks++
		case "slot_reached":
			r.SlotsReached++
		case "conversion":
			r.Conversions++
		}
	}

	for _, r := range rows {
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}, {Name: "bucket_start"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"sessions", "widget_opens", "video_views", "clicks",
				"slots_reached", "conversions", "converted_sessions",
			}),
		}).Create(r).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// rerollHours is how many completed buckets every pass recomputes. A session
// counts toward ConvertedSessions of the hour it started in, so a bucket
// keeps changing while its sessions may still convert.
const rerollHours = 24

// rollupRecent recomputes the rerollHours completed buckets before now.
func rollupRecent(ctx context.Context, db *gorm.DB, now time.Time) error {
	current := now.UTC().Truncate(time.Hour)
	for i := rerollHours; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucketStart := current.Add(-time.Duration(i) * time.Hour)
		if err := runAggregationOnce(ctx, db, bucketStart); err != nil {
			return err
		}
	}
	return nil
}

// StartAggregationWorker rolls up the last 24 completed hours at startup and
// again every hour, until ctx is done. Buckets are in UTC.
func StartAggregationWorker(ctx context.Context, db *gorm.DB) {
	log := logging.With().Str("worker", "aggregation").Logger()
	run := func(now time.Time) {
		if err := rollupRecent(ctx, db, now); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Time("now", now).Msg("aggregation failed")
		}
	}
	go func() {
		run(time.Now())

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				run(t)
			}
		}
	}()
}
