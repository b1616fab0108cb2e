package events

import (
	"context"
	"time"

	"vidbranch/internal/access"
	"vidbranch/internal/apperr"
	"vidbranch/internal/conversion"
	"vidbranch/internal/db"
	"vidbranch/internal/metrics"
	"vidbranch/internal/session"
)

// Event is one widget event ready to record.
type Event struct {
	// ClientID is the widget-generated idempotency key, optional.
	ClientID string
	// SessionID is the session the widget believes it is in, optional.
	SessionID  string
	Payload    Payload
	Attributes map[string]any
	// Meta is used when a new session has to be created.
	Meta session.Meta
}

// Result reports the session the event landed in.
type Result struct {
	SessionID string
	// SessionCreated is true when SessionID differs from the one sent.
	SessionCreated bool
	// Duplicate is true when the client id was already recorded.
	Duplicate   bool
	Conversions int
}

// Recorder appends events to validated sessions and runs their side effects.
type Recorder struct {
	store     *db.Store
	sessions  *session.Manager
	evaluator *conversion.Evaluator
	now       func() time.Time
}

func NewRecorder(store *db.Store, sessions *session.Manager, evaluator *conversion.Evaluator) *Recorder {
	return &Recorder{
		store:     store,
		sessions:  sessions,
		evaluator: evaluator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record validates ev, resolves its session and writes one event row.
//
// Depending on the kind it then opens or closes a slot view, closes the
// session, marks a client conversion, or runs the conversion evaluator
// before returning. A retried event whose client id is already stored
// returns success without repeating side effects.
func (r *Recorder) Record(ctx context.Context, grant access.Grant, ev Event) (Result, error) {
	if !grant.Valid() {
		return Result{}, apperr.Authorization("widget access not granted")
	}
	if err := Validate(ev.Payload); err != nil {
		return Result{}, err
	}
	if len(ev.ClientID) > 64 {
		return Result{}, apperr.Validation("event_id must be at most 64 characters")
	}
	if c, ok := ev.Payload.(Conversion); ok {
		rule, err := r.store.Rule(ctx, c.RuleID)
		if err != nil {
			return Result{}, err
		}
		if rule.ProjectID != grant.ProjectID() {
			return Result{}, apperr.NotFound("conversion rule")
		}
		if !rule.IsActive {
			return Result{}, apperr.Validation("conversion rule is inactive")
		}
	}

	sessionID, created, err := r.sessions.OpenOrValidate(ctx, grant, ev.SessionID, ev.Meta)
	if err != nil {
		return Result{}, err
	}
	res := Result{SessionID: sessionID, SessionCreated: created}

	row := r.row(grant, sessionID, ev)
	inserted, err := r.store.InsertEvent(ctx, row)
	if err != nil {
		return res, err
	}
	if !inserted {
		res.Duplicate = true
		return res, nil
	}
	metrics.WidgetEvents.WithLabelValues(grant.ProjectID(), string(ev.Payload.Kind())).Inc()

	switch p := ev.Payload.(type) {
	case SlotViewStart:
		err = r.store.OpenSlotView(ctx, &db.SlotView{
			ProjectID: grant.ProjectID(),
			SessionID: sessionID,
			SlotID:    p.SlotID,
			VideoID:   optional(p.VideoID),
			StartedAt: row.CreatedAt,
		})
	case SlotViewEnd:
		_, err = r.store.CloseSlotView(ctx, sessionID, p.SlotID, p.WatchedMs, row.CreatedAt)
	case SessionEnd:
		err = r.sessions.Close(ctx, grant, sessionID)
	case Conversion:
		if err = r.store.MarkConverted(ctx, sessionID); err == nil {
			metrics.Conversions.WithLabelValues(grant.ProjectID()).Inc()
			res.Conversions = 1
		}
	case SlotReached:
		res.Conversions = r.evaluate(ctx, grant, sessionID, p.Kind(), p.SlotID, p.VideoID, "")
	case VideoCompleted:
		res.Conversions = r.evaluate(ctx, grant, sessionID, p.Kind(), p.SlotID, p.VideoID, "")
	case Click:
		if p.Target != ClickTargetTransition {
			res.Conversions = r.evaluate(ctx, grant, sessionID, p.Kind(), p.SlotID, p.VideoID, p.URL)
		}
	}
	return res, err
}

func (r *Recorder) evaluate(ctx context.Context, grant access.Grant, sessionID string, kind Kind, slotID, videoID, url string) int {
	if r.evaluator == nil {
		return 0
	}
	return r.evaluator.Evaluate(ctx, grant, conversion.Input{
		SessionID: sessionID,
		Kind:      string(kind),
		SlotID:    slotID,
		VideoID:   videoID,
		URL:       url,
	})
}

func (r *Recorder) row(grant access.Grant, sessionID string, ev Event) *db.Event {
	row := &db.Event{
		CreatedAt:     r.now(),
		ProjectID:     grant.ProjectID(),
		SessionID:     sessionID,
		EventType:     string(ev.Payload.Kind()),
		ClientEventID: optional(ev.ClientID),
		Attributes:    ev.Attributes,
	}
	switch p := ev.Payload.(type) {
	case VideoStart:
		row.SlotID, row.VideoID = optional(p.SlotID), optional(p.VideoID)
	case VideoView:
		row.SlotID, row.VideoID = optional(p.SlotID), optional(p.VideoID)
		row.PlayedMs = p.PlayedMs
	case VideoCompleted:
		row.SlotID, row.VideoID = optional(p.SlotID), optional(p.VideoID)
	case Click:
		row.SlotID, row.VideoID = optional(p.SlotID), optional(p.VideoID)
		row.Target, row.TargetURL = p.Target, p.URL
	case SlotReached:
		row.SlotID, row.VideoID = optional(p.SlotID), optional(p.VideoID)
	case SlotViewStart:
		row.SlotID, row.VideoID = optional(p.SlotID), optional(p.VideoID)
	case SlotViewEnd:
		row.SlotID = optional(p.SlotID)
		row.PlayedMs = p.WatchedMs
	case Conversion:
		row.RuleID = optional(p.RuleID)
	}
	return row
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
