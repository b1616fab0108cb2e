package handlers

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"vidbranch/internal/access"
	"vidbranch/internal/apperr"
	"vidbranch/internal/blob"
	"vidbranch/internal/config"
	dbpkg "vidbranch/internal/db"
	"vidbranch/internal/events"
	"vidbranch/internal/graph"
	httpctx "vidbranch/internal/http/ctx"
	"vidbranch/internal/logging"
	"vidbranch/internal/session"
)

// Widget bundles what the widget-facing handlers need.
type Widget struct {
	Store    *dbpkg.Store
	Guard    *access.Guard
	Sessions *session.Manager
	Recorder *events.Recorder
	Blobs    blob.Store
	Cfg      *config.Config
}

type videoPayload struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Duration int64  `json:"duration"`
}

type slotPayload struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	IsEntryPoint bool           `json:"isEntryPoint"`
	Buttons      map[string]any `json:"buttons,omitempty"`
	Video        *videoPayload  `json:"video"`
}

type slotRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type transitionPayload struct {
	ID            string         `json:"id"`
	TriggerType   string         `json:"triggerType"`
	TriggerConfig map[string]any `json:"triggerConfig"`
	Priority      int            `json:"priority"`
	ToSlot        slotRef        `json:"toSlot"`
}

type slotResponse struct {
	SessionID   string              `json:"sessionId,omitempty"`
	Slot        slotPayload         `json:"slot"`
	Transitions []transitionPayload `json:"transitions"`
}

func origin(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Request.Header.Peek("Origin"))
}

// video returns the playable form of v, or nil when it has no ready asset.
func (w *Widget) video(ctx context.Context, v *dbpkg.Video) *videoPayload {
	if v == nil || v.StoragePath == "" || v.Status == dbpkg.VideoError {
		return nil
	}
	p := &videoPayload{ID: v.ID, Title: v.Title, Duration: v.DurationMs}
	if w.Blobs != nil {
		u, err := w.Blobs.SignedURL(ctx, v.StoragePath, w.Cfg.SignedURLTTL)
		if err != nil {
			logging.Error().Err(err).Str("video_id", v.ID).Msg("failed to sign video url")
		} else {
			p.URL = u
		}
	}
	return p
}

func (w *Widget) slot(ctx context.Context, sl *dbpkg.Slot) slotPayload {
	return slotPayload{
		ID:           sl.ID,
		Name:         sl.Name,
		IsEntryPoint: sl.IsEntryPoint,
		Buttons:      sl.Buttons,
		Video:        w.video(ctx, sl.Video),
	}
}

func transition(t graph.Transition, stored *dbpkg.Transition, g *graph.Graph) transitionPayload {
	cfg := map[string]any{}
	if t.Trigger == graph.TriggerTime {
		cfg["after_ms"] = t.AfterMs
	} else if stored != nil {
		for k, v := range stored.TriggerConfig {
			cfg[k] = v
		}
	}
	to, _ := g.Slot(t.ToSlotID)
	return transitionPayload{
		ID:            t.ID,
		TriggerType:   string(t.Trigger),
		TriggerConfig: cfg,
		Priority:      t.Priority,
		ToSlot:        slotRef{ID: to.ID, Name: to.Name},
	}
}

// slotWithTransitions loads slotID and its outgoing edges for projectID.
func (w *Widget) slotWithTransitions(ctx context.Context, projectID, slotID string, g *graph.Graph) (slotPayload, []transitionPayload, error) {
	sl, err := w.Store.Slot(ctx, slotID)
	if err != nil {
		return slotPayload{}, nil, err
	}
	if sl.ProjectID != projectID {
		return slotPayload{}, nil, apperr.NotFound("slot")
	}
	stored, err := w.Store.TransitionsFrom(ctx, slotID)
	if err != nil {
		return slotPayload{}, nil, err
	}
	byID := make(map[string]*dbpkg.Transition, len(stored))
	for i := range stored {
		byID[stored[i].ID] = &stored[i]
	}

	out := g.Outgoing(slotID)
	ts := make([]transitionPayload, 0, len(out))
	for _, t := range out {
		ts = append(ts, transition(t, byID[t.ID], g))
	}
	return w.slot(ctx, sl), ts, nil
}

type initRequest struct {
	ProjectID  string `json:"projectId" validate:"required"`
	WidgetKey  string `json:"widgetKey" validate:"required"`
	SessionID  string `json:"sessionId"`
	VisitorID  string `json:"visitorId" validate:"max=128"`
	DeviceType string `json:"deviceType" validate:"max=32"`
	Browser    string `json:"browser" validate:"max=64"`
	Referrer   string `json:"referrer" validate:"max=1024"`
}

// WidgetInit authorizes the widget, opens its session and returns the entry
// slot with its outgoing transitions.
func WidgetInit(w *Widget) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req initRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		grant, err := w.Guard.Authorize(ctx, req.ProjectID, req.WidgetKey, origin(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}

		g, err := w.Store.LoadGraph(ctx, grant.ProjectID())
		if err != nil {
			writeError(ctx, err)
			return
		}
		entry, fallback, ok := g.EntrySlot()
		if !ok {
			writeError(ctx, apperr.NotFound("entry slot"))
			return
		}
		if fallback {
			logging.Warn().Str("project_id", grant.ProjectID()).Str("slot_id", entry.ID).
				Msg("no entry slot flagged, falling back to first slot")
		}
		slot, ts, err := w.slotWithTransitions(ctx, grant.ProjectID(), entry.ID, g)
		if err != nil {
			writeError(ctx, err)
			return
		}

		sessionID, _, err := w.Sessions.OpenOrValidate(ctx, grant, req.SessionID, session.Meta{
			VisitorID:  req.VisitorID,
			DeviceType: req.DeviceType,
			Browser:    req.Browser,
			Referrer:   req.Referrer,
		})
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, slotResponse{SessionID: sessionID, Slot: slot, Transitions: ts})
	}
}

type navigateRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	SlotID    string `json:"slotId" validate:"required"`
	WidgetKey string `json:"widgetKey" validate:"required"`
}

// WidgetNavigate returns the requested slot of the session's project.
func WidgetNavigate(w *Widget) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req navigateRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		grant, _, err := w.Guard.AuthorizeSession(ctx, req.SessionID, req.WidgetKey, origin(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}
		g, err := w.Store.LoadGraph(ctx, grant.ProjectID())
		if err != nil {
			writeError(ctx, err)
			return
		}
		slot, ts, err := w.slotWithTransitions(ctx, grant.ProjectID(), req.SlotID, g)
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, slotResponse{Slot: slot, Transitions: ts})
	}
}

type eventRequest struct {
	events.Raw
	ProjectID  string         `json:"project_id"`
	SessionID  string         `json:"session_id"`
	EventID    string         `json:"event_id"`
	WidgetKey  string         `json:"widget_key"`
	VisitorID  string         `json:"visitor_id"`
	DeviceType string         `json:"device_type"`
	Browser    string         `json:"browser"`
	Referrer   string         `json:"referrer"`
	Attributes map[string]any `json:"attributes"`
}

type eventResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
}

// WidgetEvents validates and records one widget event. session_id is only
// returned when a new session had to be created.
func WidgetEvents(w *Widget) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req eventRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			writeError(ctx, apperr.Validation("invalid JSON body"))
			return
		}
		if req.ProjectID == "" {
			writeError(ctx, apperr.Validation("project_id is required"))
			return
		}
		payload, err := events.Decode(req.Raw)
		if err != nil {
			writeError(ctx, err)
			return
		}
		grant, err := w.Guard.Authorize(ctx, req.ProjectID, req.WidgetKey, origin(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}

		res, err := w.Recorder.Record(ctx, grant, events.Event{
			ClientID:   req.EventID,
			SessionID:  req.SessionID,
			Payload:    payload,
			Attributes: req.Attributes,
			Meta: session.Meta{
				VisitorID:  req.VisitorID,
				DeviceType: req.DeviceType,
				Browser:    req.Browser,
				Referrer:   req.Referrer,
			},
		})
		if err != nil {
			writeError(ctx, err)
			return
		}
		resp := eventResponse{Success: true}
		if res.SessionCreated {
			resp.SessionID = res.SessionID
		}
		writeJSON(ctx, fasthttp.StatusOK, resp)
	}
}

type configResponse struct {
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	EntrySlotID string             `json:"entrySlotId"`
	Slots       []slotPayload      `json:"slots"`
	Transitions []configTransition `json:"transitions"`
	ExpiresAt   time.Time          `json:"urlsExpireAt"`
}

type configTransition struct {
	transitionPayload
	FromSlotID string `json:"fromSlotId"`
}

// WidgetConfig returns the whole graph with signed video URLs for embeds
// that preload everything.
func WidgetConfig(w *Widget) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID := httpctx.Param(ctx, "projectId")
		key := string(ctx.QueryArgs().Peek("widgetKey"))
		grant, err := w.Guard.Authorize(ctx, projectID, key, origin(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}

		var (
			slots       []dbpkg.Slot
			transitions []dbpkg.Transition
		)
		eg, egctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			var err error
			slots, err = w.Store.SlotsForProject(egctx, grant.ProjectID())
			return err
		})
		eg.Go(func() error {
			var err error
			transitions, err = w.Store.TransitionsForProject(egctx, grant.ProjectID())
			return err
		})
		if err := eg.Wait(); err != nil {
			writeError(ctx, err)
			return
		}

		gs := make([]graph.Slot, 0, len(slots))
		for i := range slots {
			gs = append(gs, slots[i].GraphSlot())
		}
		gt := make([]graph.Transition, 0, len(transitions))
		byID := make(map[string]*dbpkg.Transition, len(transitions))
		for i := range transitions {
			gt = append(gt, transitions[i].GraphTransition())
			byID[transitions[i].ID] = &transitions[i]
		}
		g := graph.New(gs, gt)

		var resp configResponse
		resp.Project.ID = grant.ProjectID()
		resp.Project.Name = grant.Project().Name
		resp.ExpiresAt = time.Now().UTC().Add(w.Cfg.SignedURLTTL)
		if entry, _, ok := g.EntrySlot(); ok {
			resp.EntrySlotID = entry.ID
		}
		resp.Slots = make([]slotPayload, 0, len(slots))
		for i := range slots {
			resp.Slots = append(resp.Slots, w.slot(ctx, &slots[i]))
		}
		resp.Transitions = make([]configTransition, 0, len(gt))
		for _, s := range g.Slots() {
			for _, t := range g.Outgoing(s.ID) {
				resp.Transitions = append(resp.Transitions, configTransition{
					transitionPayload: transition(t, byID[t.ID], g),
					FromSlotID:        t.FromSlotID,
				})
			}
		}
		writeJSON(ctx, fasthttp.StatusOK, resp)
	}
}
