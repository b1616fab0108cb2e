// Package widgetclient talks to the widget HTTP surface. A Client loads slots
// for a navigator.Navigator and delivers its events in the background.
package widgetclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"vidbranch/internal/graph"
	"vidbranch/internal/logging"
	"vidbranch/internal/navigator"
)

type Options struct {
	// BaseURL is the server root, e.g. https://video.example.com.
	BaseURL   string
	ProjectID string
	WidgetKey string
	// Origin is sent as the Origin header; production servers check it
	// against the project's allowed origins.
	Origin string

	VisitorID  string
	DeviceType string
	Browser    string
	Referrer   string

	Attempts  int
	Backoff   time.Duration
	Timeout   time.Duration
	QueueSize int
}

func (o *Options) defaults() {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("widget api: status %d", e.Code)
	}
	return fmt.Sprintf("widget api: status %d: %s", e.Code, e.Message)
}

// retryable reports whether a failed call may be repeated: transport errors
// and 5xx replies are, rejections are not.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= fasthttp.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

type Client struct {
	opts Options
	http *fasthttp.Client

	mu        sync.Mutex
	sessionID string
	closed    bool

	queue   chan outgoing
	stop    context.CancelFunc
	stopped chan struct{}
	dropped atomic.Int64
}

type outgoing struct {
	id string
	ev navigator.Event
}

// New starts the event delivery worker. Close must be called to stop it.
func New(opts Options) *Client {
	opts.defaults()
	return newClient(opts, &fasthttp.Client{
		Name:                     "vidbranch-widget",
		MaxIdleConnDuration:      time.Minute,
		NoDefaultUserAgentHeader: true,
	})
}

func newClient(opts Options, hc *fasthttp.Client) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		http:    hc,
		queue:   make(chan outgoing, opts.QueueSize),
		stop:    cancel,
		stopped: make(chan struct{}),
	}
	go c.deliver(ctx)
	return c
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Dropped is the number of events given up on.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

type wireVideo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Duration int64  `json:"duration"`
}

type wireTransition struct {
	ID            string         `json:"id"`
	TriggerType   string         `json:"triggerType"`
	TriggerConfig map[string]any `json:"triggerConfig"`
	Priority      int            `json:"priority"`
	ToSlot        struct {
		ID string `json:"id"`
	} `json:"toSlot"`
}

type wireSlotResponse struct {
	SessionID string `json:"sessionId"`
	Slot      struct {
		ID    string     `json:"id"`
		Name  string     `json:"name"`
		Video *wireVideo `json:"video"`
	} `json:"slot"`
	Transitions []wireTransition `json:"transitions"`
}

// Init opens (or resumes) the session and returns the entry slot.
func (c *Client) Init(ctx context.Context) (navigator.View, error) {
	body := map[string]string{
		"projectId":  c.opts.ProjectID,
		"widgetKey":  c.opts.WidgetKey,
		"sessionId":  c.SessionID(),
		"visitorId":  c.opts.VisitorID,
		"deviceType": c.opts.DeviceType,
		"browser":    c.opts.Browser,
		"referrer":   c.opts.Referrer,
	}
	var resp wireSlotResponse
	if err := c.fetch(ctx, "/widget/init", body, &resp); err != nil {
		return navigator.View{}, err
	}
	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.mu.Unlock()
	return toView(resp), nil
}

func (c *Client) Navigate(ctx context.Context, sessionID, slotID string) (navigator.View, error) {
	body := map[string]string{
		"sessionId": sessionID,
		"slotId":    slotID,
		"widgetKey": c.opts.WidgetKey,
	}
	var resp wireSlotResponse
	if err := c.fetch(ctx, "/widget/navigate", body, &resp); err != nil {
		return navigator.View{}, err
	}
	v := toView(resp)
	v.SessionID = sessionID
	return v, nil
}

// fetch posts a slot lookup, retrying transient failures with linear backoff.
// Both lookups are reads on the server, so repeating them is safe.
func (c *Client) fetch(ctx context.Context, path string, body, out any) error {
	var err error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		if err = c.post(ctx, path, body, out); err == nil || !retryable(err) {
			return err
		}
		if attempt == c.opts.Attempts {
			break
		}
		if werr := wait(ctx, c.opts.Backoff*time.Duration(attempt)); werr != nil {
			return werr
		}
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.opts.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.opts.Origin != "" {
		req.Header.Set("Origin", c.opts.Origin)
	}
	req.SetBody(payload)

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return err
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &e)
		return &StatusError{Code: code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toView(resp wireSlotResponse) navigator.View {
	v := navigator.View{
		SessionID: resp.SessionID,
		Slot:      navigator.Slot{ID: resp.Slot.ID, Name: resp.Slot.Name},
	}
	if w := resp.Slot.Video; w != nil {
		v.Slot.Video = &navigator.Video{ID: w.ID, Title: w.Title, URL: w.URL, DurationMs: w.Duration}
	}

	// The server sends transitions in priority order; CreatedAt keeps that
	// order for equal priorities once the navigator sorts them.
	base := time.Unix(0, 0)
	for i, wt := range resp.Transitions {
		t := graph.Transition{
			ID:         wt.ID,
			FromSlotID: resp.Slot.ID,
			ToSlotID:   wt.ToSlot.ID,
			Trigger:    graph.TriggerType(wt.TriggerType),
			Priority:   wt.Priority,
			CreatedAt:  base.Add(time.Duration(i)),
		}
		if t.Trigger == graph.TriggerTime {
			ms, err := graph.TimeConfig(wt.TriggerConfig)
			if err != nil {
				logging.Warn().Err(err).Str("transition_id", wt.ID).Msg("time transition without usable threshold")
				ms = math.MaxInt64
			}
			t.AfterMs = ms
		}
		v.Transitions = append(v.Transitions, t)
	}
	return v
}

// Send queues ev for delivery. It never blocks: when the queue is full or
// the client is closed the event is dropped.
func (c *Client) Send(ev navigator.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.queue <- outgoing{id: uuid.NewString(), ev: ev}:
	default:
		c.dropped.Add(1)
		logging.Warn().Str("event_type", ev.Type).Msg("widget event queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first, pending deliveries are abandoned.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	select {
	case <-c.stopped:
		c.stop()
		return nil
	case <-ctx.Done():
		c.stop()
		<-c.stopped
		return ctx.Err()
	}
}

func (c *Client) deliver(ctx context.Context) {
	defer close(c.stopped)
	for out := range c.queue {
		if ctx.Err() != nil {
			c.dropped.Add(1)
			continue
		}
		c.deliverOne(ctx, out)
	}
}

type wireEventResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// deliverOne posts one event. The event id is reused across attempts so the
// server stores it once however many tries reach it.
func (c *Client) deliverOne(ctx context.Context, out outgoing) {
	ev := out.ev
	body := map[string]any{
		"event_type":  ev.Type,
		"event_id":    out.id,
		"project_id":  c.opts.ProjectID,
		"widget_key":  c.opts.WidgetKey,
		"visitor_id":  c.opts.VisitorID,
		"device_type": c.opts.DeviceType,
		"browser":     c.opts.Browser,
		"referrer":    c.opts.Referrer,
	}
	if sid := c.SessionID(); sid != "" {
		body["session_id"] = sid
	}
	if ev.SlotID != "" {
		body["slot_id"] = ev.SlotID
	}
	if ev.VideoID != "" {
		body["video_id"] = ev.VideoID
	}
	if ev.PlayedMs != nil {
		body["played_ms"] = *ev.PlayedMs
	}
	if ev.Target != "" {
		body["target"] = ev.Target
	}
	if ev.URL != "" {
		body["url"] = ev.URL
	}

	var resp wireEventResponse
	var err error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		err = c.post(ctx, "/widget/events", body, &resp)
		if err == nil {
			if resp.SessionID != "" {
				c.mu.Lock()
				c.sessionID = resp.SessionID
				c.mu.Unlock()
			}
			return
		}
		if !retryable(err) || attempt == c.opts.Attempts {
			break
		}
		if wait(ctx, c.opts.Backoff*time.Duration(attempt)) != nil {
			break
		}
	}
	c.dropped.Add(1)
	logging.Warn().Err(err).Str("event_type", ev.Type).Str("event_id", out.id).Msg("dropping widget event")
}
