// Package events validates and records widget events.
//
// Each event kind has its own payload type. Raw wire events are decoded into
// one of them and validated before anything touches the store.
package events

import (
	"strings"

	"vidbranch/internal/apperr"
	"vidbranch/internal/validation"
)

// Kind is a widget event type.
type Kind string

const (
	KindWidgetOpen     Kind = "widget_open"
	KindVideoStart     Kind = "video_start"
	KindVideoView      Kind = "video_view"
	KindVideoCompleted Kind = "video_completed"
	KindClick          Kind = "click"
	KindSlotReached    Kind = "slot_reached"
	KindSlotViewStart  Kind = "slot_view_start"
	KindSlotViewEnd    Kind = "slot_view_end"
	KindConversion     Kind = "conversion"
	KindSessionEnd     Kind = "session_end"
)

// Payload is the kind-specific body of an event.
type Payload interface {
	Kind() Kind
}

type WidgetOpen struct{}

type SessionEnd struct{}

type VideoStart struct {
	SlotID  string `json:"slot_id" validate:"required"`
	VideoID string `json:"video_id" validate:"required"`
}

// VideoView is a periodic progress ping; PlayedMs is the position at the
// time of the ping, not a total.
type VideoView struct {
	SlotID   string `json:"slot_id" validate:"required"`
	VideoID  string `json:"video_id" validate:"required"`
	PlayedMs *int64 `json:"played_ms" validate:"omitempty,gte=0"`
}

type VideoCompleted struct {
	SlotID  string `json:"slot_id" validate:"required"`
	VideoID string `json:"video_id" validate:"required"`
}

// ClickTargetTransition marks a click on the player that only navigates the
// graph. Such clicks are recorded but never evaluated as cta_clicked.
const ClickTargetTransition = "transition"

// Click is a viewer click on a slot button. Target names the button
// (cta, detail) and URL its destination, which may be relative.
type Click struct {
	SlotID  string `json:"slot_id" validate:"required"`
	VideoID string `json:"video_id" validate:"required"`
	Target  string `json:"target" validate:"omitempty,max=32"`
	URL     string `json:"url" validate:"omitempty,max=2048"`
}

type SlotReached struct {
	SlotID  string `json:"slot_id" validate:"required"`
	VideoID string `json:"video_id" validate:"required"`
}

type SlotViewStart struct {
	SlotID  string `json:"slot_id" validate:"required"`
	VideoID string `json:"video_id"`
}

// SlotViewEnd closes the latest open view of the slot. WatchedMs is derived
// from the view's start time when absent.
type SlotViewEnd struct {
	SlotID    string `json:"slot_id" validate:"required"`
	WatchedMs *int64 `json:"watched_ms" validate:"omitempty,gte=0"`
}

// Conversion is a client-reported conversion against a known rule.
type Conversion struct {
	RuleID string `json:"rule_id" validate:"required"`
}

func (WidgetOpen) Kind() Kind     { return KindWidgetOpen }
func (SessionEnd) Kind() Kind     { return KindSessionEnd }
func (VideoStart) Kind() Kind     { return KindVideoStart }
func (VideoView) Kind() Kind      { return KindVideoView }
func (VideoCompleted) Kind() Kind { return KindVideoCompleted }
func (Click) Kind() Kind          { return KindClick }
func (SlotReached) Kind() Kind    { return KindSlotReached }
func (SlotViewStart) Kind() Kind  { return KindSlotViewStart }
func (SlotViewEnd) Kind() Kind    { return KindSlotViewEnd }
func (Conversion) Kind() Kind     { return KindConversion }

// Raw is the flat wire shape posted by widgets.
type Raw struct {
	EventType string `json:"event_type"`
	SlotID    string `json:"slot_id"`
	VideoID   string `json:"video_id"`
	RuleID    string `json:"rule_id"`
	PlayedMs  *int64 `json:"played_ms"`
	WatchedMs *int64 `json:"watched_ms"`
	Target    string `json:"target"`
	URL       string `json:"url"`
}

// Decode turns r into its typed payload and validates it.
func Decode(r Raw) (Payload, error) {
	var p Payload
	switch Kind(strings.TrimSpace(r.EventType)) {
	case "":
		return nil, apperr.Validation("event_type is required")
	case KindWidgetOpen:
		p = WidgetOpen{}
	case KindSessionEnd:
		p = SessionEnd{}
	case KindVideoStart:
		p = VideoStart{SlotID: r.SlotID, VideoID: r.VideoID}
	case KindVideoView:
		p = VideoView{SlotID: r.SlotID, VideoID: r.VideoID, PlayedMs: r.PlayedMs}
	case KindVideoCompleted:
		p = VideoCompleted{SlotID: r.SlotID, VideoID: r.VideoID}
	case KindClick:
		p = Click{SlotID: r.SlotID, VideoID: r.VideoID, Target: r.Target, URL: r.URL}
	case KindSlotReached:
		p = SlotReached{SlotID: r.SlotID, VideoID: r.VideoID}
	case KindSlotViewStart:
		p = SlotViewStart{SlotID: r.SlotID, VideoID: r.VideoID}
	case KindSlotViewEnd:
		p = SlotViewEnd{SlotID: r.SlotID, WatchedMs: r.WatchedMs}
	case KindConversion:
		p = Conversion{RuleID: r.RuleID}
	default:
		return nil, apperr.Validation("unknown event_type %q", r.EventType)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the required fields of p.
func Validate(p Payload) error {
	if p == nil {
		return apperr.Validation("event payload is required")
	}
	switch p.(type) {
	case WidgetOpen, SessionEnd:
		return nil
	}
	return validation.Struct(p)
}
