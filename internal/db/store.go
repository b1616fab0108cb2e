package db

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vidbranch/internal/apperr"
	"vidbranch/internal/graph"
)

// Store is the trusted data-access handle. It bypasses any per-row tenant
// filtering, so widget-facing components only receive it together with an
// access.Grant proving the widget key/origin check ran first.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for background workers.
func (s *Store) DB() *gorm.DB { return s.db }

func lookupErr(err error, what, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what)
	}
	return apperr.Store(op, err)
}

// --- organizations ---

func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	return apperr.Store("create organization", s.db.WithContext(ctx).Create(org).Error)
}

func (s *Store) Organization(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, lookupErr(err, "organization", "load organization")
	}
	return &org, nil
}

func (s *Store) OrganizationByWidgetKey(ctx context.Context, key string) (*Organization, error) {
	var org Organization
	if err := s.db.WithContext(ctx).Where("widget_key = ?", key).First(&org).Error; err != nil {
		return nil, lookupErr(err, "organization", "load organization")
	}
	return &org, nil
}

func (s *Store) RotateWidgetKey(ctx context.Context, id, key string) error {
	res := s.db.WithContext(ctx).Model(&Organization{}).Where("id = ?", id).Update("widget_key", key)
	if res.Error != nil {
		return apperr.Store("rotate widget key", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("organization")
	}
	return nil
}

// --- projects ---

func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	return apperr.Store("create project", s.db.WithContext(ctx).Create(p).Error)
}

// Project loads a project with its organization.
func (s *Store) Project(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).Preload("Organization").Where("id = ?", id).First(&p).Error; err != nil {
		return nil, lookupErr(err, "project", "load project")
	}
	return &p, nil
}

func (s *Store) ProjectIDsForOrganization(ctx context.Context, orgID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Project{}).Where("organization_id = ?", orgID).Order("id").Pluck("id", &ids).Error
	return ids, apperr.Store("list projects", err)
}

// ProjectsWithRetention returns projects that opted into purging.
func (s *Store) ProjectsWithRetention(ctx context.Context) ([]Project, error) {
	var ps []Project
	err := s.db.WithContext(ctx).Where("retention_days > 0").Find(&ps).Error
	return ps, apperr.Store("list projects", err)
}

// DeleteProject removes the project and every dependent row. Callers remove
// video blobs first.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&SlotView{}, &Event{}, &WidgetSession{}, &ConversionRule{}, &Transition{}, &Slot{}, &Video{}, &ProjectStat{}} {
			if err := tx.Where("project_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return lookupErr(err, "project", "delete project")
	}
	return nil
}

// --- videos ---

func (s *Store) CreateVideo(ctx context.Context, v *Video) error {
	return apperr.Store("create video", s.db.WithContext(ctx).Create(v).Error)
}

func (s *Store) Video(ctx context.Context, id string) (*Video, error) {
	var v Video
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, lookupErr(err, "video", "load video")
	}
	return &v, nil
}

func (s *Store) VideosForProject(ctx context.Context, projectID string) ([]Video, error) {
	var vs []Video
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at, id").Find(&vs).Error
	return vs, apperr.Store("list videos", err)
}

func (s *Store) SetVideoStatus(ctx context.Context, id, status string) error {
	err := s.db.WithContext(ctx).Model(&Video{}).Where("id = ?", id).Update("status", status).Error
	return apperr.Store("update video", err)
}

// DeleteVideo detaches the video from its slots and removes the row. The
// blob must already be gone.
func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Slot{}).Where("video_id = ?", id).Update("video_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Video{}).Error
	})
	return apperr.Store("delete video", err)
}

// --- slots ---

// CreateSlot inserts sl; when it is flagged as entry point every other slot
// of the project is unflagged in the same transaction.
func (s *Store) CreateSlot(ctx context.Context, sl *Slot) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sl).Error; err != nil {
			return err
		}
		if sl.IsEntryPoint {
			return setEntryPoint(tx, sl.ProjectID, sl.ID)
		}
		return nil
	})
	return apperr.Store("create slot", err)
}

func (s *Store) Slot(ctx context.Context, id string) (*Slot, error) {
	var sl Slot
	if err := s.db.WithContext(ctx).Preload("Video").Where("id = ?", id).First(&sl).Error; err != nil {
		return nil, lookupErr(err, "slot", "load slot")
	}
	return &sl, nil
}

// SlotsForProject returns slots with their videos in (created_at, id) order.
func (s *Store) SlotsForProject(ctx context.Context, projectID string) ([]Slot, error) {
	var sls []Slot
	err := s.db.WithContext(ctx).Preload("Video").Where("project_id = ?", projectID).Order("created_at, id").Find(&sls).Error
	return sls, apperr.Store("list slots", err)
}

// SetEntryPoint flags slotID as the project's only entry point with a single
// UPDATE, so concurrent callers resolve last-write-wins with exactly one
// flagged slot.
func (s *Store) SetEntryPoint(ctx context.Context, projectID, slotID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Slot{}).Where("id = ? AND project_id = ?", slotID, projectID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return gorm.ErrRecordNotFound
		}
		return setEntryPoint(tx, projectID, slotID)
	})
	if err != nil {
		return lookupErr(err, "slot", "set entry point")
	}
	return nil
}

func setEntryPoint(tx *gorm.DB, projectID, slotID string) error {
	return tx.Model(&Slot{}).Where("project_id = ?", projectID).
		Update("is_entry_point", gorm.Expr("(id = ?)", slotID)).Error
}

// DeleteSlot removes transitions touching the slot before the slot itself.
func (s *Store) DeleteSlot(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("from_slot_id = ? OR to_slot_id = ?", id, id).Delete(&Transition{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Slot{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return lookupErr(err, "slot", "delete slot")
	}
	return nil
}

// --- transitions ---

// CreateTransition rejects edges whose endpoints are not both slots of
// t.ProjectID.
func (s *Store) CreateTransition(ctx context.Context, t *Transition) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&Slot{}).
		Where("project_id = ? AND id IN ?", t.ProjectID, []string{t.FromSlotID, t.ToSlotID}).
		Count(&n).Error
	if err != nil {
		return apperr.Store("check transition slots", err)
	}
	want := int64(2)
	if t.FromSlotID == t.ToSlotID {
		want = 1
	}
	if n != want {
		return apperr.Validation("from_slot_id and to_slot_id must be slots of project %s", t.ProjectID)
	}
	return apperr.Store("create transition", s.db.WithContext(ctx).Create(t).Error)
}

func (s *Store) Transition(ctx context.Context, id string) (*Transition, error) {
	var t Transition
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, lookupErr(err, "transition", "load transition")
	}
	return &t, nil
}

func (s *Store) TransitionsForProject(ctx context.Context, projectID string) ([]Transition, error) {
	var ts []Transition
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("priority, created_at, id").Find(&ts).Error
	return ts, apperr.Store("list transitions", err)
}

// TransitionsFrom returns the outgoing edges of slotID, lowest priority first.
func (s *Store) TransitionsFrom(ctx context.Context, slotID string) ([]Transition, error) {
	var ts []Transition
	err := s.db.WithContext(ctx).Where("from_slot_id = ?", slotID).Order("priority, created_at, id").Find(&ts).Error
	return ts, apperr.Store("list transitions", err)
}

func (s *Store) DeleteTransition(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Transition{})
	if res.Error != nil {
		return apperr.Store("delete transition", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("transition")
	}
	return nil
}

// --- graph ---

func (sl *Slot) GraphSlot() graph.Slot {
	g := graph.Slot{
		ID:           sl.ID,
		ProjectID:    sl.ProjectID,
		Name:         sl.Name,
		IsEntryPoint: sl.IsEntryPoint,
		CreatedAt:    sl.CreatedAt,
	}
	if sl.VideoID != nil {
		g.VideoID = *sl.VideoID
	}
	return g
}

// GraphTransition converts t. A time trigger with an unreadable config gets
// an unreachable threshold so it never fires.
func (t *Transition) GraphTransition() graph.Transition {
	g := graph.Transition{
		ID:         t.ID,
		FromSlotID: t.FromSlotID,
		ToSlotID:   t.ToSlotID,
		Trigger:    graph.TriggerType(t.TriggerType),
		Priority:   t.Priority,
		CreatedAt:  t.CreatedAt,
	}
	if g.Trigger == graph.TriggerTime {
		ms, err := graph.TimeConfig(t.TriggerConfig)
		if err != nil {
			ms = math.MaxInt64
		}
		g.AfterMs = ms
	}
	return g
}

// LoadGraph reads the project's slots and transitions into a graph.
func (s *Store) LoadGraph(ctx context.Context, projectID string) (*graph.Graph, error) {
	slots, err := s.SlotsForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ts, err := s.TransitionsForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	gs := make([]graph.Slot, 0, len(slots))
	for i := range slots {
		gs = append(gs, slots[i].GraphSlot())
	}
	gt := make([]graph.Transition, 0, len(ts))
	for i := range ts {
		gt = append(gt, ts[i].GraphTransition())
	}
	return graph.New(gs, gt), nil
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, ws *WidgetSession) error {
	return apperr.Store("create session", s.db.WithContext(ctx).Create(ws).Error)
}

func (s *Store) Session(ctx context.Context, id string) (*WidgetSession, error) {
	var ws WidgetSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ws).Error; err != nil {
		return nil, lookupErr(err, "session", "load session")
	}
	return &ws, nil
}

// CloseSession sets ended_at if the session is still open. It reports
// whether this call closed it; closing twice is not an error.
func (s *Store) CloseSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&WidgetSession{}).
		Where("id = ? AND ended_at IS NULL", id).
		Update("ended_at", at)
	if res.Error != nil {
		return false, apperr.Store("close session", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkConverted sets the converted flag. It never clears it.
func (s *Store) MarkConverted(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&WidgetSession{}).Where("id = ?", id).Update("converted", true).Error
	return apperr.Store("mark converted", err)
}

// --- events ---

// InsertEvent appends e. When e carries a client event id already stored
// for the session the insert is skipped and inserted is false.
func (s *Store) InsertEvent(ctx context.Context, e *Event) (inserted bool, err error) {
	q := s.db.WithContext(ctx)
	if e.ClientEventID != nil {
		q = q.Clauses(clause.OnConflict{DoNothing: true})
	}
	res := q.Create(e)
	if res.Error != nil {
		return false, apperr.Store("insert event", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) EventsForSession(ctx context.Context, sessionID string) ([]Event, error) {
	var es []Event
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at, id").Find(&es).Error
	return es, apperr.Store("list events", err)
}

// --- slot views ---

func (s *Store) OpenSlotView(ctx context.Context, v *SlotView) error {
	return apperr.Store("open slot view", s.db.WithContext(ctx).Create(v).Error)
}

// CloseSlotView closes the most recent open view of slotID in the session.
// The close is a compare-and-set on ended_at IS NULL; with no open row, or
// when a concurrent close won, it is a silent no-op. A nil watchedMs is
// derived from the row's start time.
func (s *Store) CloseSlotView(ctx context.Context, sessionID, slotID string, watchedMs *int64, at time.Time) (bool, error) {
	var v SlotView
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND slot_id = ? AND ended_at IS NULL", sessionID, slotID).
		Order("started_at DESC, id DESC").Limit(1).Find(&v).Error
	if err != nil {
		return false, apperr.Store("find slot view", err)
	}
	if v.ID == "" {
		return false, nil
	}

	watched := at.Sub(v.StartedAt).Milliseconds()
	if watchedMs != nil {
		watched = *watchedMs
	}
	if watched < 0 {
		watched = 0
	}
	res := s.db.WithContext(ctx).Model(&SlotView{}).
		Where("id = ? AND ended_at IS NULL", v.ID).
		Updates(map[string]any{"ended_at": at, "watched_ms": watched})
	if res.Error != nil {
		return false, apperr.Store("close slot view", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// --- conversion rules ---

func (s *Store) CreateRule(ctx context.Context, r *ConversionRule) error {
	return apperr.Store("create rule", s.db.WithContext(ctx).Create(r).Error)
}

func (s *Store) Rule(ctx context.Context, id string) (*ConversionRule, error) {
	var r ConversionRule
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, lookupErr(err, "conversion rule", "load rule")
	}
	return &r, nil
}

// ActiveRules returns the project's active rules for eventType.
func (s *Store) ActiveRules(ctx context.Context, projectID, eventType string) ([]ConversionRule, error) {
	var rs []ConversionRule
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND is_active = ? AND event_type = ?", projectID, true, eventType).
		Order("created_at, id").Find(&rs).Error
	return rs, apperr.Store("list rules", err)
}

func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&ConversionRule{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return apperr.Store("update rule", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("conversion rule")
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&ConversionRule{})
	if res.Error != nil {
		return apperr.Store("delete rule", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("conversion rule")
	}
	return nil
}

func (s *Store) RulesForProject(ctx context.Context, projectID string) ([]ConversionRule, error) {
	var rs []ConversionRule
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at, id").Find(&rs).Error
	return rs, apperr.Store("list rules", err)
}

// --- analytics ---

// ProjectStats returns hourly buckets starting at or after since, oldest first.
func (s *Store) ProjectStats(ctx context.Context, projectID string, since time.Time) ([]ProjectStat, error) {
	var stats []ProjectStat
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND bucket_start >= ?", projectID, since.UTC()).
		Order("bucket_start").Find(&stats).Error
	return stats, apperr.Store("list project stats", err)
}
