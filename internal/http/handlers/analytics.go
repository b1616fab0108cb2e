package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	defaultAnalyticsDays = 7
	maxAnalyticsDays     = 90
)

type statBucket struct {
	BucketStart       time.Time `json:"bucket_start"`
	Sessions          int64     `json:"sessions"`
	WidgetOpens       int64     `json:"widget_opens"`
	VideoViews        int64     `json:"video_views"`
	Clicks            int64     `json:"clicks"`
	SlotsReached      int64     `json:"slots_reached"`
	Conversions       int64     `json:"conversions"`
	ConvertedSessions int64     `json:"converted_sessions"`
}

type analyticsResponse struct {
	ProjectID string     `json:"project_id"`
	Days      int        `json:"days"`
	Totals    statBucket `json:"totals"`

	// ConversionRate is converted sessions over sessions, 0 without sessions.
	ConversionRate float64      `json:"conversion_rate"`
	Buckets        []statBucket `json:"buckets"`
}

// parseDays reads ?days=N, clamped to [1, maxAnalyticsDays].
func parseDays(ctx *fasthttp.RequestCtx) int {
	days := defaultAnalyticsDays
	if raw := string(ctx.QueryArgs().Peek("days")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	if days > maxAnalyticsDays {
		days = maxAnalyticsDays
	}
	return days
}

// ProjectAnalytics serves the hourly rollups written by the aggregation worker.
func ProjectAnalytics(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}
		days := parseDays(ctx)
		since := time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(days) * 24 * time.Hour)

		stats, err := a.Store.ProjectStats(ctx, p.ID, since)
		if err != nil {
			writeError(ctx, err)
			return
		}

		resp := analyticsResponse{ProjectID: p.ID, Days: days, Buckets: make([]statBucket, 0, len(stats))}
		for _, s := range stats {
			b := statBucket{
				BucketStart:       s.BucketStart.UTC(),
				Sessions:          s.Sessions,
				WidgetOpens:       s.WidgetOpens,
				VideoViews:        s.VideoViews,
				Clicks:            s.Clicks,
				SlotsReached:      s.SlotsReached,
				Conversions:       s.Conversions,
				ConvertedSessions: s.ConvertedSessions,
			}
			resp.Buckets = append(resp.Buckets, b)
			resp.Totals.Sessions += b.Sessions
			resp.Totals.WidgetOpens += b.WidgetOpens
			resp.Totals.VideoViews += b.VideoViews
			resp.Totals.Clicks += b.Clicks
			resp.Totals.SlotsReached += b.SlotsReached
			resp.Totals.Conversions += b.Conversions
			resp.Totals.ConvertedSessions += b.ConvertedSessions
		}
		resp.Totals.BucketStart = since
		if resp.Totals.Sessions > 0 {
			resp.ConversionRate = float64(resp.Totals.ConvertedSessions) / float64(resp.Totals.Sessions)
		}
		writeData(ctx, fasthttp.StatusOK, resp)
	}
}
