// Package navigator drives an embedded widget through a project's slot graph:
// it plays a slot, listens for triggers and moves to the next slot.
//
// A Navigator is safe for concurrent use. Player callbacks (video ended,
// clicks) and its own timers may arrive from any goroutine.
package navigator

import (
	"context"
	"sync"
	"time"

	"vidbranch/internal/graph"
	"vidbranch/internal/logging"
)

type State int

const (
	Idle State = iota
	Loading
	Playing
	Transitioning
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Transitioning:
		return "transitioning"
	case Ended:
		return "ended"
	}
	return "unknown"
}

type Video struct {
	ID         string
	Title      string
	URL        string
	DurationMs int64
}

type Slot struct {
	ID    string
	Name  string
	Video *Video
}

// View is one slot with its outgoing transitions in priority order.
type View struct {
	SessionID   string
	Slot        Slot
	Transitions []graph.Transition
}

// Backend loads slots from the server.
type Backend interface {
	Init(ctx context.Context) (View, error)
	Navigate(ctx context.Context, sessionID, slotID string) (View, error)
}

// Event types sent to the Sink. They match the server's event_type values.
const (
	EventSlotReached    = "slot_reached"
	EventVideoStart     = "video_start"
	EventVideoView      = "video_view"
	EventVideoCompleted = "video_completed"
	EventClick          = "click"
	EventSessionEnd     = "session_end"
)

// ClickTargetTransition is the Target of clicks that navigate the graph
// rather than press a slot button.
const ClickTargetTransition = "transition"

type Event struct {
	Type     string
	SlotID   string
	VideoID  string
	PlayedMs *int64
	Target   string
	URL      string
}

// Sink receives viewer events. Send must not block playback.
type Sink interface {
	Send(ev Event)
}

// Clock abstracts timers so tests can drive time by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

type Option func(*Navigator)

func WithClock(c Clock) Option {
	return func(n *Navigator) { n.clock = c }
}

// WithObserver registers fn to be called, without the navigator lock held,
// after every state change.
func WithObserver(fn func(State, View)) Option {
	return func(n *Navigator) { n.observe = fn }
}

type Navigator struct {
	backend Backend
	sink    Sink
	clock   Clock
	observe func(State, View)

	mu        sync.Mutex
	ctx       context.Context
	state     State
	sessionID string
	current   View
	startedAt time.Time
	// gen changes on every slot change or shutdown. Timers and in-flight
	// navigations carry the generation they were created under and do
	// nothing once it moved on.
	gen    uint64
	timer  Timer
	closed bool
}

func New(backend Backend, sink Sink, opts ...Option) *Navigator {
	n := &Navigator{backend: backend, sink: sink, clock: SystemClock(), ctx: context.Background()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Current returns the slot being played.
func (n *Navigator) Current() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *Navigator) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Start loads the entry slot and begins playing it. ctx bounds every later
// backend call as well. On failure the navigator goes inert (Ended).
func (n *Navigator) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.state != Idle {
		n.mu.Unlock()
		return nil
	}
	n.ctx = ctx
	n.state = Loading
	gen := n.gen
	n.mu.Unlock()
	n.notify()

	view, err := n.backend.Init(ctx)

	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return nil
	}
	if err != nil {
		n.state = Ended
		n.mu.Unlock()
		logging.Warn().Err(err).Msg("widget init failed")
		n.notify()
		return err
	}
	n.sessionID = view.SessionID
	n.enter(view)
	n.mu.Unlock()
	n.notify()
	return nil
}

// VideoEnded reports that the video of slotID finished. Reports for a slot
// that is no longer playing are ignored.
func (n *Navigator) VideoEnded(slotID string) {
	n.mu.Lock()
	if n.state != Playing || n.current.Slot.ID != slotID {
		n.mu.Unlock()
		return
	}
	n.emit(EventVideoCompleted, Event{})
	t, ok := graph.Resolve(n.current.Transitions, graph.Trigger{Type: graph.TriggerAuto})
	if !ok {
		n.stopLocked(Ended)
		n.mu.Unlock()
		n.notify()
		return
	}
	n.transition(t)
}

// Click is a viewer click on the player itself. It fires the first click
// transition; without one the slot keeps playing.
func (n *Navigator) Click() {
	n.mu.Lock()
	if n.state != Playing {
		n.mu.Unlock()
		return
	}
	t, ok := graph.Resolve(n.current.Transitions, graph.Trigger{Type: graph.TriggerClick})
	if !ok {
		n.mu.Unlock()
		return
	}
	n.emit(EventClick, Event{Target: ClickTargetTransition})
	n.transition(t)
}

// ClickButton records a click on a slot button (cta, detail). It never
// navigates and is accepted in any state once a slot was shown.
func (n *Navigator) ClickButton(target, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current.Slot.ID == "" {
		return
	}
	n.emit(EventClick, Event{Target: target, URL: url})
}

// Progress reports a watch-progress sample for the playing slot.
func (n *Navigator) Progress(playedMs int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Playing {
		return
	}
	n.emit(EventVideoView, Event{PlayedMs: &playedMs})
}

// Close ends the session and cancels every pending timer.
func (n *Navigator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.stopLocked(Ended)
	if n.sessionID != "" && n.sink != nil {
		n.sink.Send(Event{Type: EventSessionEnd})
	}
	n.mu.Unlock()
	n.notify()
}

// enter switches to view and arms its first time trigger. Caller holds mu.
func (n *Navigator) enter(view View) {
	n.cancelTimer()
	n.gen++
	if view.SessionID == "" {
		view.SessionID = n.sessionID
	}
	graph.SortTransitions(view.Transitions)
	n.current = view
	n.state = Playing
	n.startedAt = n.clock.Now()

	n.emit(EventSlotReached, Event{})
	n.emit(EventVideoStart, Event{})
	n.armTimer(-1)
}

// transition leaves the current slot for t.ToSlotID. Caller holds mu; it is
// released before the backend call.
func (n *Navigator) transition(t graph.Transition) {
	n.cancelTimer()
	n.gen++
	gen := n.gen
	n.state = Transitioning
	ctx, sessionID := n.ctx, n.sessionID
	n.mu.Unlock()
	n.notify()

	view, err := n.backend.Navigate(ctx, sessionID, t.ToSlotID)

	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return
	}
	if err != nil {
		n.state = Ended
		n.mu.Unlock()
		logging.Warn().Err(err).Str("slot_id", t.ToSlotID).Msg("widget navigate failed")
		n.notify()
		return
	}
	n.enter(view)
	n.mu.Unlock()
	n.notify()
}

// armTimer schedules the smallest time threshold above afterMs. Caller
// holds mu.
func (n *Navigator) armTimer(afterMs int64) {
	threshold, ok := graph.NextTimeThreshold(n.current.Transitions, afterMs)
	if !ok {
		return
	}
	elapsed := n.clock.Now().Sub(n.startedAt)
	wait := time.Duration(threshold)*time.Millisecond - elapsed
	if wait < 0 {
		wait = 0
	}
	gen := n.gen
	n.timer = n.clock.AfterFunc(wait, func() { n.fireTime(gen, threshold) })
}

func (n *Navigator) fireTime(gen uint64, threshold int64) {
	n.mu.Lock()
	if gen != n.gen || n.state != Playing {
		n.mu.Unlock()
		return
	}
	n.timer = nil
	t, ok := graph.Resolve(n.current.Transitions, graph.Trigger{Type: graph.TriggerTime, ElapsedMs: threshold})
	if !ok {
		n.armTimer(threshold)
		n.mu.Unlock()
		return
	}
	n.transition(t)
}

func (n *Navigator) cancelTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// stopLocked cancels timers, invalidates in-flight work and moves to s.
func (n *Navigator) stopLocked(s State) {
	n.cancelTimer()
	n.gen++
	n.state = s
}

// emit sends an event about the current slot. Slots without a video are
// skipped since every slot event names one. Caller holds mu.
func (n *Navigator) emit(typ string, ev Event) {
	v := n.current.Slot.Video
	if n.sink == nil || v == nil {
		return
	}
	ev.Type = typ
	ev.SlotID = n.current.Slot.ID
	ev.VideoID = v.ID
	n.sink.Send(ev)
}

func (n *Navigator) notify() {
	if n.observe == nil {
		return
	}
	n.mu.Lock()
	s, v := n.state, n.current
	n.mu.Unlock()
	n.observe(s, v)
}
