package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"vidbranch/internal/apperr"
	"vidbranch/internal/db"
	"vidbranch/internal/db/dbtest"
	"vidbranch/internal/graph"
)

func strp(s string) *string { return &s }
func i64p(n int64) *int64   { return &n }

func TestSetEntryPointKeepsSingleFlag(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	a := dbtest.Slot(t, gdb, fx.Project.ID, "A", true)
	b := dbtest.Slot(t, gdb, fx.Project.ID, "B", true)
	c := dbtest.Slot(t, gdb, fx.Project.ID, "C", false)

	require.NoError(t, st.SetEntryPoint(ctx, fx.Project.ID, a.ID))
	require.NoError(t, st.SetEntryPoint(ctx, fx.Project.ID, b.ID))

	var flagged []db.Slot
	require.NoError(t, gdb.Where("project_id = ? AND is_entry_point = ?", fx.Project.ID, true).Find(&flagged).Error)
	require.Len(t, flagged, 1)
	assert.Equal(t, b.ID, flagged[0].ID)

	var g errgroup.Group
	for _, id := range []string{a.ID, b.ID, c.ID} {
		g.Go(func() error { return st.SetEntryPoint(ctx, fx.Project.ID, id) })
	}
	require.NoError(t, g.Wait())

	var n int64
	require.NoError(t, gdb.Model(&db.Slot{}).Where("project_id = ? AND is_entry_point = ?", fx.Project.ID, true).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestSetEntryPointRejectsForeignSlot(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)

	other := &db.Project{OrganizationID: fx.Org.ID, Name: "Other"}
	require.NoError(t, gdb.Create(other).Error)
	foreign := dbtest.Slot(t, gdb, other.ID, "X", false)

	err := st.SetEntryPoint(context.Background(), fx.Project.ID, foreign.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateSlotAsEntryUnflagsOthers(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	first := &db.Slot{ProjectID: fx.Project.ID, Name: "first", IsEntryPoint: true}
	require.NoError(t, st.CreateSlot(ctx, first))
	second := &db.Slot{ProjectID: fx.Project.ID, Name: "second", IsEntryPoint: true}
	require.NoError(t, st.CreateSlot(ctx, second))

	got, err := st.Slot(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsEntryPoint)
	got, err = st.Slot(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEntryPoint)
}

func TestCloseSlotView(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	ws := &db.WidgetSession{ProjectID: fx.Project.ID, OrganizationID: fx.Org.ID, StartedAt: time.Now().UTC()}
	require.NoError(t, st.CreateSession(ctx, ws))

	start := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	require.NoError(t, st.OpenSlotView(ctx, &db.SlotView{ProjectID: fx.Project.ID, SessionID: ws.ID, SlotID: "s1", StartedAt: start}))

	closed, err := st.CloseSlotView(ctx, ws.ID, "s1", nil, start.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, closed)

	var v db.SlotView
	require.NoError(t, gdb.Where("session_id = ?", ws.ID).First(&v).Error)
	require.NotNil(t, v.EndedAt)
	require.NotNil(t, v.WatchedMs)
	assert.EqualValues(t, 1500, *v.WatchedMs)

	t.Run("second close is a no-op", func(t *testing.T) {
		closed, err := st.CloseSlotView(ctx, ws.ID, "s1", i64p(99), time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, closed)

		var again db.SlotView
		require.NoError(t, gdb.Where("id = ?", v.ID).First(&again).Error)
		assert.EqualValues(t, 1500, *again.WatchedMs)
	})

	t.Run("no open row", func(t *testing.T) {
		closed, err := st.CloseSlotView(ctx, ws.ID, "never-opened", nil, time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, closed)
	})

	t.Run("client watched time wins", func(t *testing.T) {
		require.NoError(t, st.OpenSlotView(ctx, &db.SlotView{ProjectID: fx.Project.ID, SessionID: ws.ID, SlotID: "s2", StartedAt: start}))
		closed, err := st.CloseSlotView(ctx, ws.ID, "s2", i64p(4200), time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, closed)

		var v2 db.SlotView
		require.NoError(t, gdb.Where("session_id = ? AND slot_id = ?", ws.ID, "s2").First(&v2).Error)
		assert.EqualValues(t, 4200, *v2.WatchedMs)
	})
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	ws := &db.WidgetSession{ProjectID: fx.Project.ID, OrganizationID: fx.Org.ID, StartedAt: time.Now().UTC()}
	require.NoError(t, st.CreateSession(ctx, ws))

	first := time.Now().UTC().Truncate(time.Second)
	closed, err := st.CloseSession(ctx, ws.ID, first)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = st.CloseSession(ctx, ws.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, closed)

	got, err := st.Session(ctx, ws.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(first))
}

func TestMarkConvertedNeverClears(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	ws := &db.WidgetSession{ProjectID: fx.Project.ID, OrganizationID: fx.Org.ID, StartedAt: time.Now().UTC()}
	require.NoError(t, st.CreateSession(ctx, ws))
	require.NoError(t, st.MarkConverted(ctx, ws.ID))
	require.NoError(t, st.MarkConverted(ctx, ws.ID))

	got, err := st.Session(ctx, ws.ID)
	require.NoError(t, err)
	assert.True(t, got.Converted)
}

func TestInsertEventDedupesClientID(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	ws := &db.WidgetSession{ProjectID: fx.Project.ID, OrganizationID: fx.Org.ID, StartedAt: time.Now().UTC()}
	require.NoError(t, st.CreateSession(ctx, ws))

	ins, err := st.InsertEvent(ctx, &db.Event{ProjectID: fx.Project.ID, SessionID: ws.ID, EventType: "click", ClientEventID: strp("evt-1")})
	require.NoError(t, err)
	assert.True(t, ins)
	ins, err = st.InsertEvent(ctx, &db.Event{ProjectID: fx.Project.ID, SessionID: ws.ID, EventType: "click", ClientEventID: strp("evt-1")})
	require.NoError(t, err)
	assert.False(t, ins)

	for range 2 {
		ins, err = st.InsertEvent(ctx, &db.Event{ProjectID: fx.Project.ID, SessionID: ws.ID, EventType: "widget_open"})
		require.NoError(t, err)
		assert.True(t, ins)
	}

	events, err := st.EventsForSession(ctx, ws.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCreateTransitionRequiresProjectSlots(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	a := dbtest.Slot(t, gdb, fx.Project.ID, "A", false)
	other := &db.Project{OrganizationID: fx.Org.ID, Name: "Other"}
	require.NoError(t, gdb.Create(other).Error)
	x := dbtest.Slot(t, gdb, other.ID, "X", false)

	err := st.CreateTransition(ctx, &db.Transition{ProjectID: fx.Project.ID, FromSlotID: a.ID, ToSlotID: x.ID, TriggerType: "auto"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	loop := &db.Transition{ProjectID: fx.Project.ID, FromSlotID: a.ID, ToSlotID: a.ID, TriggerType: "click"}
	assert.NoError(t, st.CreateTransition(ctx, loop))
}

func TestDeleteSlotRemovesTransitions(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	a := dbtest.Slot(t, gdb, fx.Project.ID, "A", false)
	b := dbtest.Slot(t, gdb, fx.Project.ID, "B", false)
	c := dbtest.Slot(t, gdb, fx.Project.ID, "C", false)
	dbtest.Transition(t, gdb, fx.Project.ID, a.ID, b.ID, "auto", 0, 0)
	dbtest.Transition(t, gdb, fx.Project.ID, b.ID, c.ID, "auto", 0, 0)
	keep := dbtest.Transition(t, gdb, fx.Project.ID, a.ID, c.ID, "click", 0, 1)

	require.NoError(t, st.DeleteSlot(ctx, b.ID))

	ts, err := st.TransitionsForProject(ctx, fx.Project.ID)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, keep.ID, ts[0].ID)

	assert.True(t, apperr.Is(st.DeleteSlot(ctx, b.ID), apperr.KindNotFound))
}

func TestDeleteVideoDetachesSlots(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	sl := dbtest.Slot(t, gdb, fx.Project.ID, "A", true)
	require.NoError(t, st.DeleteVideo(ctx, *sl.VideoID))

	got, err := st.Slot(ctx, sl.ID)
	require.NoError(t, err)
	assert.Nil(t, got.VideoID)
	assert.Nil(t, got.Video)
}

func TestDeleteProjectCascades(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	a := dbtest.Slot(t, gdb, fx.Project.ID, "A", true)
	b := dbtest.Slot(t, gdb, fx.Project.ID, "B", true)
	dbtest.Transition(t, gdb, fx.Project.ID, a.ID, b.ID, "auto", 0, 0)
	require.NoError(t, st.CreateRule(ctx, &db.ConversionRule{ProjectID: fx.Project.ID, Name: "r", IsActive: true, EventType: db.RuleSlotReached}))

	require.NoError(t, st.DeleteProject(ctx, fx.Project.ID))

	for _, m := range []any{&db.Slot{}, &db.Transition{}, &db.Video{}, &db.ConversionRule{}} {
		var n int64
		require.NoError(t, gdb.Model(m).Where("project_id = ?", fx.Project.ID).Count(&n).Error)
		assert.Zero(t, n, "%T", m)
	}
	_, err := st.Project(ctx, fx.Project.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLoadGraphResolvesTriggers(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	a := dbtest.Slot(t, gdb, fx.Project.ID, "A", true)
	b := dbtest.Slot(t, gdb, fx.Project.ID, "B", true)
	c := dbtest.Slot(t, gdb, fx.Project.ID, "C", true)
	dbtest.Transition(t, gdb, fx.Project.ID, a.ID, b.ID, "time", 5000, 0)
	dbtest.Transition(t, gdb, fx.Project.ID, a.ID, c.ID, "click", 0, 1)
	require.NoError(t, st.SetEntryPoint(ctx, fx.Project.ID, a.ID))

	g, err := st.LoadGraph(ctx, fx.Project.ID)
	require.NoError(t, err)

	entry, fallback, ok := g.EntrySlot()
	require.True(t, ok)
	assert.False(t, fallback)
	assert.Equal(t, a.ID, entry.ID)

	next, ok := g.ResolveNext(a.ID, graph.Trigger{Type: graph.TriggerTime, ElapsedMs: 5000})
	require.True(t, ok)
	assert.Equal(t, b.ID, next.ToSlotID)

	next, ok = g.ResolveNext(a.ID, graph.Trigger{Type: graph.TriggerClick})
	require.True(t, ok)
	assert.Equal(t, c.ID, next.ToSlotID)

	assert.Empty(t, g.Outgoing(c.ID))
}

func TestActiveRulesFiltersInactive(t *testing.T) {
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb)
	st := db.NewStore(gdb)
	ctx := context.Background()

	on := &db.ConversionRule{ProjectID: fx.Project.ID, Name: "on", IsActive: true, EventType: db.RuleCTAClicked}
	off := &db.ConversionRule{ProjectID: fx.Project.ID, Name: "off", IsActive: false, EventType: db.RuleCTAClicked}
	require.NoError(t, st.CreateRule(ctx, on))
	require.NoError(t, st.CreateRule(ctx, off))

	rules, err := st.ActiveRules(ctx, fx.Project.ID, db.RuleCTAClicked)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, on.ID, rules[0].ID)

	require.NoError(t, st.SetRuleActive(ctx, on.ID, false))
	rules, err = st.ActiveRules(ctx, fx.Project.ID, db.RuleCTAClicked)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
