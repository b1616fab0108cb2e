package handlers

import (
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "vidbranch/internal/db"
	httpctx "vidbranch/internal/http/ctx"
)

type eventPayload struct {
	ID         string         `json:"id"`
	CreatedAt  string         `json:"created_at"`
	EventType  string         `json:"event_type"`
	SlotID     *string        `json:"slot_id,omitempty"`
	VideoID    *string        `json:"video_id,omitempty"`
	RuleID     *string        `json:"rule_id,omitempty"`
	PlayedMs   *int64         `json:"played_ms,omitempty"`
	Target     string         `json:"target,omitempty"`
	TargetURL  string         `json:"url,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type sessionDetail struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	VisitorID  string         `json:"visitor_id"`
	StartedAt  string         `json:"started_at"`
	EndedAt    *string        `json:"ended_at"`
	Converted  bool           `json:"converted"`
	DeviceType string         `json:"device_type"`
	Browser    string         `json:"browser"`
	Referrer   string         `json:"referrer"`
	Events     []eventPayload `json:"events"`
}

// SessionDetail returns one widget session with its events in order.
func SessionDetail(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		ws, err := a.Store.Session(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = canManage(user, ws.OrganizationID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		evs, err := a.Store.EventsForSession(ctx, ws.ID)
		if err != nil {
			writeError(ctx, err)
			return
		}

		resp := sessionDetail{
			ID:         ws.ID,
			ProjectID:  ws.ProjectID,
			VisitorID:  ws.VisitorID,
			StartedAt:  ws.StartedAt.Format(time.RFC3339Nano),
			Converted:  ws.Converted,
			DeviceType: ws.DeviceType,
			Browser:    ws.Browser,
			Referrer:   ws.Referrer,
			Events:     make([]eventPayload, 0, len(evs)),
		}
		if ws.EndedAt != nil {
			ended := ws.EndedAt.Format(time.RFC3339Nano)
			resp.EndedAt = &ended
		}
		for _, e := range evs {
			resp.Events = append(resp.Events, toEventPayload(&e))
		}
		writeData(ctx, fasthttp.StatusOK, resp)
	}
}

func toEventPayload(e *dbpkg.Event) eventPayload {
	return eventPayload{
		ID:         e.ID,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
		EventType:  e.EventType,
		SlotID:     e.SlotID,
		VideoID:    e.VideoID,
		RuleID:     e.RuleID,
		PlayedMs:   e.PlayedMs,
		Target:     e.Target,
		TargetURL:  e.TargetURL,
		Attributes: e.Attributes,
	}
}
