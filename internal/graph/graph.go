// Package graph models a project's slot graph: slots are nodes that play one
// video, transitions are prioritized, trigger-typed edges between them.
//
// Everything here is pure data. The server loads a Graph from the store per
// request and the widget client resolves transitions from the outgoing list
// it was handed, so both sides share Resolve.
package graph

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TriggerType is the event class that can fire a transition.
type TriggerType string

const (
	// TriggerAuto fires when the slot's video ends.
	TriggerAuto TriggerType = "auto"
	// TriggerTime fires once elapsed playback reaches the configured threshold.
	TriggerTime TriggerType = "time"
	// TriggerClick fires on an explicit viewer click.
	TriggerClick TriggerType = "click"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerAuto, TriggerTime, TriggerClick:
		return true
	}
	return false
}

type Slot struct {
	ID           string
	ProjectID    string
	Name         string
	VideoID      string
	IsEntryPoint bool
	CreatedAt    time.Time
}

type Transition struct {
	ID         string
	FromSlotID string
	ToSlotID   string
	Trigger    TriggerType
	// AfterMs is the elapsed-playback threshold for time triggers.
	AfterMs   int64
	Priority  int
	CreatedAt time.Time
}

// Trigger is a firing observed by the player.
type Trigger struct {
	Type      TriggerType
	ElapsedMs int64
}

// Graph indexes slots and their outgoing transitions.
type Graph struct {
	slots    map[string]Slot
	order    []string
	outgoing map[string][]Transition
}

// New builds a graph. Transitions whose source slot is unknown are kept so
// Outgoing still reports them; callers validate project membership on write.
func New(slots []Slot, transitions []Transition) *Graph {
	g := &Graph{
		slots:    make(map[string]Slot, len(slots)),
		outgoing: make(map[string][]Transition),
	}
	sorted := append([]Slot(nil), slots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, s := range sorted {
		g.slots[s.ID] = s
		g.order = append(g.order, s.ID)
	}
	for _, t := range transitions {
		g.outgoing[t.FromSlotID] = append(g.outgoing[t.FromSlotID], t)
	}
	for id := range g.outgoing {
		SortTransitions(g.outgoing[id])
	}
	return g
}

func (g *Graph) Slot(id string) (Slot, bool) {
	s, ok := g.slots[id]
	return s, ok
}

// Slots returns every slot in (created_at, id) order.
func (g *Graph) Slots() []Slot {
	out := make([]Slot, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.slots[id])
	}
	return out
}

// EntrySlot returns the flagged entry slot. When none is flagged it falls back
// to the first slot by (created_at, id) and reports fallback=true. When
// several are flagged (a transient race) the earliest flagged one wins.
func (g *Graph) EntrySlot() (slot Slot, fallback bool, ok bool) {
	for _, id := range g.order {
		if s := g.slots[id]; s.IsEntryPoint {
			return s, false, true
		}
	}
	if len(g.order) == 0 {
		return Slot{}, false, false
	}
	return g.slots[g.order[0]], true, true
}

// Outgoing returns the transitions leaving slotID, lowest priority first.
// A slot with none is a terminal node, not an error.
func (g *Graph) Outgoing(slotID string) []Transition {
	return append([]Transition(nil), g.outgoing[slotID]...)
}

// ResolveNext picks the transition that fires from slotID for trig.
func (g *Graph) ResolveNext(slotID string, trig Trigger) (Transition, bool) {
	return Resolve(g.outgoing[slotID], trig)
}

// SortTransitions orders by ascending priority, then creation time, then id.
func SortTransitions(ts []Transition) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Resolve selects among outgoing (already in priority order) the transition
// whose trigger type matches trig. For time triggers only thresholds at or
// below the elapsed time qualify and the largest such threshold wins, with
// priority order breaking ties.
func Resolve(outgoing []Transition, trig Trigger) (Transition, bool) {
	if trig.Type != TriggerTime {
		for _, t := range outgoing {
			if t.Trigger == trig.Type {
				return t, true
			}
		}
		return Transition{}, false
	}

	var (
		best  Transition
		found bool
	)
	for _, t := range outgoing {
		if t.Trigger != TriggerTime || t.AfterMs > trig.ElapsedMs {
			continue
		}
		if !found || t.AfterMs > best.AfterMs {
			best, found = t, true
		}
	}
	return best, found
}

// NextTimeThreshold returns the smallest time threshold strictly greater than
// elapsedMs among outgoing, so a player knows when to arm its next timer.
func NextTimeThreshold(outgoing []Transition, elapsedMs int64) (int64, bool) {
	next := int64(math.MaxInt64)
	for _, t := range outgoing {
		if t.Trigger == TriggerTime && t.AfterMs > elapsedMs && t.AfterMs < next {
			next = t.AfterMs
		}
	}
	return next, next != math.MaxInt64
}

// TimeConfig converts a stored trigger config into a millisecond threshold.
// "after_ms" is canonical; "seconds" is accepted from older clients.
func TimeConfig(cfg map[string]any) (int64, error) {
	if v, ok := cfg["after_ms"]; ok {
		ms, err := toInt64(v)
		if err != nil || ms < 0 {
			return 0, fmt.Errorf("after_ms must be a non-negative integer")
		}
		return ms, nil
	}
	if v, ok := cfg["seconds"]; ok {
		secs, err := toFloat(v)
		if err != nil || secs < 0 {
			return 0, fmt.Errorf("seconds must be a non-negative number")
		}
		return int64(math.Round(secs * 1000)), nil
	}
	return 0, fmt.Errorf("time trigger requires after_ms")
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer")
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
