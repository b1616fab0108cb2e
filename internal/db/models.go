package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Video status values.
const (
	VideoProcessing = "processing"
	VideoReady      = "ready"
	VideoError      = "error"
)

func newID() string { return uuid.NewString() }

// Project is the tenant-scoped container for a widget experience.
type Project struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time

	OrganizationID string `gorm:"size:36;index;not null"`
	Name           string `gorm:"size:128;not null"`

	// AllowedOrigins lists the site origins allowed to embed the widget.
	AllowedOrigins datatypes.JSONSlice[string] `gorm:"type:json"`

	// RetentionDays bounds how long sessions and events are kept. Zero
	// keeps them forever.
	RetentionDays int `gorm:"not null;default:0"`

	Organization Organization `gorm:"foreignKey:OrganizationID"`
}

func (p *Project) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = newID()
	}
	return nil
}

// Video is a playable asset stored in the blob store.
type Video struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time

	ProjectID   string `gorm:"size:36;index;not null"`
	Title       string `gorm:"size:255;not null"`
	StoragePath string `gorm:"size:1024;not null"`
	DurationMs  int64  `gorm:"not null;default:0"`
	Status      string `gorm:"size:16;not null"`
}

func (v *Video) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = newID()
	}
	return nil
}

// Slot is a graph node: one point in the experience where a video plays.
type Slot struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time

	ProjectID string  `gorm:"size:36;index;not null"`
	VideoID   *string `gorm:"size:36;index"`
	Name      string  `gorm:"size:128;not null"`

	// At most one slot per project should be flagged; see Store.SetEntryPoint.
	IsEntryPoint bool `gorm:"not null"`

	// Buttons holds optional cta/detail button text and URL, e.g.
	// {"cta": {"text": "Buy", "url": "https://..."}}.
	Buttons datatypes.JSONMap `gorm:"type:json"`

	PositionX float64
	PositionY float64

	Video *Video `gorm:"foreignKey:VideoID"`
}

func (s *Slot) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

// Transition is a directed edge between two slots of the same project.
type Transition struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time

	ProjectID  string `gorm:"size:36;index;not null"`
	FromSlotID string `gorm:"size:36;index;not null"`
	ToSlotID   string `gorm:"size:36;index;not null"`

	TriggerType   string            `gorm:"size:16;not null"`
	TriggerConfig datatypes.JSONMap `gorm:"type:json"`

	// Priority is evaluated ascending; lower fires first.
	Priority int `gorm:"not null;default:0"`
}

func (t *Transition) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// WidgetSession is one visitor's run through a project's graph. EndedAt is
// nil while the session is open; Converted only ever moves false to true.
type WidgetSession struct {
	ID string `gorm:"primaryKey;size:36"`

	ProjectID      string `gorm:"size:36;index;not null"`
	OrganizationID string `gorm:"size:36;index;not null"`
	VisitorID      string `gorm:"size:128;index"`

	StartedAt time.Time  `gorm:"index;not null"`
	EndedAt   *time.Time `gorm:"index"`
	Converted bool       `gorm:"not null"`

	DeviceType string `gorm:"size:32"`
	Browser    string `gorm:"size:64"`
	Referrer   string `gorm:"size:1024"`
}

func (s *WidgetSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = newID()
	}
	return nil
}

// Event is an immutable viewer fact tied to a session. Which of the optional
// columns are set depends on EventType.
type Event struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time `gorm:"index"`

	ProjectID string `gorm:"size:36;index;not null"`
	SessionID string `gorm:"size:36;not null;index;uniqueIndex:idx_events_session_client,priority:1"`
	EventType string `gorm:"size:32;index;not null"`

	// ClientEventID is the widget-generated idempotency key. Retried posts
	// carrying the same key do not insert a second row.
	ClientEventID *string `gorm:"size:64;uniqueIndex:idx_events_session_client,priority:2"`

	SlotID  *string `gorm:"size:36;index"`
	VideoID *string `gorm:"size:36"`
	RuleID  *string `gorm:"size:36;index"`

	PlayedMs  *int64
	Target    string `gorm:"size:32"`
	TargetURL string `gorm:"size:2048"`

	// Attributes holds free-form widget context (page URL, locale, ...).
	Attributes datatypes.JSONMap `gorm:"type:json"`
}

func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = newID()
	}
	return nil
}

// SlotView is the legacy start/end pair for watch time on one slot visit.
// It is the only event-like row patched after insert.
type SlotView struct {
	ID string `gorm:"primaryKey;size:36"`

	ProjectID string  `gorm:"size:36;index;not null"`
	SessionID string  `gorm:"size:36;index:idx_slot_views_open,priority:1;not null"`
	SlotID    string  `gorm:"size:36;index:idx_slot_views_open,priority:2;not null"`
	VideoID   *string `gorm:"size:36"`

	StartedAt time.Time  `gorm:"not null"`
	EndedAt   *time.Time `gorm:"index"`
	WatchedMs *int64
}

func (v *SlotView) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = newID()
	}
	return nil
}

// Conversion rule event types.
const (
	RuleSlotReached    = "slot_reached"
	RuleVideoCompleted = "video_completed"
	RuleCTAClicked     = "cta_clicked"
)

// ConversionRule is a tenant-defined goal. Nil/empty constraints are
// wildcards; every non-empty one must match.
type ConversionRule struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time

	ProjectID string `gorm:"size:36;index;not null"`
	Name      string `gorm:"size:128;not null"`
	IsActive  bool   `gorm:"index;not null"`
	EventType string `gorm:"size:32;index;not null"`

	SlotID     *string `gorm:"size:36"`
	VideoID    *string `gorm:"size:36"`
	URLPattern string  `gorm:"size:1024"`
}

func (r *ConversionRule) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = newID()
	}
	return nil
}

// ProjectStat stores pre-aggregated hourly widget metrics per project for
// the analytics dashboard. Filled by the aggregation worker.
type ProjectStat struct {
	ID uint `gorm:"primaryKey"`

	ProjectID   string    `gorm:"size:36;uniqueIndex:idx_project_stat_unique,priority:1;not null"`
	BucketStart time.Time `gorm:"uniqueIndex:idx_project_stat_unique,priority:2;not null"` // start of the hour (UTC)

	Sessions          int64 `gorm:"not null"`
	WidgetOpens       int64 `gorm:"not null"`
	VideoViews        int64 `gorm:"not null"`
	Clicks            int64 `gorm:"not null"`
	SlotsReached      int64 `gorm:"not null"`
	Conversions       int64 `gorm:"not null"`
	ConvertedSessions int64 `gorm:"not null"`
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Organization{}, &User{}, &Project{}, &Video{}, &Slot{}, &Transition{},
		&WidgetSession{}, &Event{}, &SlotView{}, &ConversionRule{}, &ProjectStat{},
		&AdminSession{},
	}
}
