// Package conversion matches widget events against a project's active
// conversion rules and records the resulting conversions.
package conversion

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"vidbranch/internal/access"
	"vidbranch/internal/db"
	"vidbranch/internal/logging"
	"vidbranch/internal/metrics"
)

// Input is the part of a recorded event that rules are matched against.
type Input struct {
	SessionID string
	// Kind is the widget event kind, e.g. "slot_reached" or "click".
	Kind    string
	SlotID  string
	VideoID string
	// URL is the click destination for cta rules.
	URL string
}

// RuleType maps an event kind to the rule event type it can satisfy.
func RuleType(kind string) (string, bool) {
	switch kind {
	case "slot_reached":
		return db.RuleSlotReached, true
	case "video_completed":
		return db.RuleVideoCompleted, true
	case "click":
		return db.RuleCTAClicked, true
	}
	return "", false
}

// Matches reports whether every non-empty constraint of r holds for in.
func Matches(r *db.ConversionRule, in Input) bool {
	ruleType, ok := RuleType(in.Kind)
	if !ok || r.EventType != ruleType {
		return false
	}
	if r.SlotID != nil && *r.SlotID != "" && *r.SlotID != in.SlotID {
		return false
	}
	if r.VideoID != nil && *r.VideoID != "" && *r.VideoID != in.VideoID {
		return false
	}
	return URLMatches(r.URLPattern, in.URL)
}

// URLMatches checks target against pattern. An absolute-URL pattern is
// compared by normalized origin and, when it has one, path. Any other
// pattern is a substring test. An empty pattern matches everything.
func URLMatches(pattern, target string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return true
	}
	if target == "" {
		return false
	}

	pu, err := url.Parse(pattern)
	if err != nil || pu.Scheme == "" || pu.Host == "" {
		return strings.Contains(target, pattern)
	}
	tu, err := url.Parse(target)
	if err != nil || tu.Host == "" {
		return false
	}
	if access.NormalizeOrigin(pattern) != access.NormalizeOrigin(target) {
		return false
	}
	want := strings.TrimSuffix(pu.Path, "/")
	if want == "" {
		return true
	}
	return strings.TrimSuffix(tu.Path, "/") == want
}

// BreakerSettings configures the store circuit breaker.
type BreakerSettings struct {
	Failures uint32
	Timeout  time.Duration
}

// Evaluator records conversions for matching rules.
type Evaluator struct {
	store *db.Store
	cb    *gobreaker.CircuitBreaker[int]
}

func NewEvaluator(store *db.Store, bs BreakerSettings) *Evaluator {
	if bs.Failures == 0 {
		bs.Failures = 5
	}
	log := logging.With().Str("component", "conversion").Logger()
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "conversion-store",
		Timeout: bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
	return &Evaluator{store: store, cb: cb}
}

// Evaluate inserts one conversion row per matching active rule and marks the
// session converted. It never fails: store errors and an open breaker are
// logged and counted, and the number of conversions written so far is
// returned.
func (e *Evaluator) Evaluate(ctx context.Context, grant access.Grant, in Input) int {
	if !grant.Valid() {
		return 0
	}
	if _, ok := RuleType(in.Kind); !ok {
		return 0
	}
	n, err := e.cb.Execute(func() (int, error) {
		return e.evaluate(ctx, grant, in)
	})
	if err != nil {
		metrics.ConversionFailures.WithLabelValues(grant.ProjectID()).Inc()
		logging.Error().Err(err).
			Str("project_id", grant.ProjectID()).
			Str("session_id", in.SessionID).
			Str("event_type", in.Kind).
			Int("recorded", n).
			Msg("conversion evaluation failed")
	}
	return n
}

func (e *Evaluator) evaluate(ctx context.Context, grant access.Grant, in Input) (int, error) {
	ruleType, _ := RuleType(in.Kind)
	rules, err := e.store.ActiveRules(ctx, grant.ProjectID(), ruleType)
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range rules {
		r := &rules[i]
		if !Matches(r, in) {
			continue
		}
		ev := &db.Event{
			ProjectID: grant.ProjectID(),
			SessionID: in.SessionID,
			EventType: "conversion",
			RuleID:    &r.ID,
			SlotID:    optional(in.SlotID),
			VideoID:   optional(in.VideoID),
			TargetURL: in.URL,
			Attributes: map[string]any{
				"trigger": in.Kind,
			},
		}
		if _, err := e.store.InsertEvent(ctx, ev); err != nil {
			return n, err
		}
		if err := e.store.MarkConverted(ctx, in.SessionID); err != nil {
			return n, err
		}
		metrics.Conversions.WithLabelValues(grant.ProjectID()).Inc()
		n++
	}
	return n, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
