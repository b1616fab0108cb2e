package handlers_test

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"vidbranch/internal/access"
	"vidbranch/internal/blob"
	"vidbranch/internal/config"
	"vidbranch/internal/conversion"
	"vidbranch/internal/db"
	"vidbranch/internal/db/dbtest"
	"vidbranch/internal/events"
	"vidbranch/internal/http/handlers"
	httpctx "vidbranch/internal/http/ctx"
	"vidbranch/internal/session"
)

type env struct {
	gdb    *gorm.DB
	store  *db.Store
	fx     dbtest.Fixture
	widget *handlers.Widget
	admin  *handlers.Admin
}

func newEnv(t *testing.T, production bool, origins ...string) env {
	t.Helper()
	gdb := dbtest.Open(t)
	fx := dbtest.Seed(t, gdb, origins...)
	store := db.NewStore(gdb)

	cfg := &config.Config{
		Env:             "development",
		SignedURLTTL:    time.Hour,
		MaxUploadBytes:  1 << 20,
		BreakerFailures: 5,
		BreakerTimeout:  time.Second,
	}
	if production {
		cfg.Env = "production"
	}
	blobs := &blob.Local{Dir: t.TempDir(), BaseURL: "http://media.test"}
	sessions := session.NewManager(store)
	evaluator := conversion.NewEvaluator(store, conversion.BreakerSettings{Failures: cfg.BreakerFailures, Timeout: cfg.BreakerTimeout})

	return env{
		gdb:   gdb,
		store: store,
		fx:    fx,
		widget: &handlers.Widget{
			Store:    store,
			Guard:    access.NewGuard(store, cfg.Production()),
			Sessions: sessions,
			Recorder: events.NewRecorder(store, sessions, evaluator),
			Blobs:    blobs,
			Cfg:      cfg,
		},
		admin: &handlers.Admin{Store: store, Blobs: blobs, Cfg: cfg},
	}
}

func (e env) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.gdb.Model(model).Count(&n).Error)
	return n
}

type reqOpt func(*fasthttp.RequestCtx)

func withParam(name, value string) reqOpt {
	return func(ctx *fasthttp.RequestCtx) { ctx.SetUserValue(name, value) }
}

func withHeader(name, value string) reqOpt {
	return func(ctx *fasthttp.RequestCtx) { ctx.Request.Header.Set(name, value) }
}

func withUser(u *db.User) reqOpt {
	return func(ctx *fasthttp.RequestCtx) { httpctx.SetUser(ctx, u) }
}

func call(t *testing.T, h fasthttp.RequestHandler, method, uri string, body any, opts ...reqOpt) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req.SetBody(b)
		req.Header.SetContentType("application/json")
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	for _, opt := range opts {
		opt(ctx)
	}
	h(ctx)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), v), string(ctx.Response.Body()))
}

type slotResp struct {
	SessionID string `json:"sessionId"`
	Slot      struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Video *struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"video"`
	} `json:"slot"`
	Transitions []struct {
		ID            string         `json:"id"`
		TriggerType   string         `json:"triggerType"`
		TriggerConfig map[string]any `json:"triggerConfig"`
		ToSlot        struct {
			ID string `json:"id"`
		} `json:"toSlot"`
	} `json:"transitions"`
}

func TestWidgetInitWrongKeyCreatesNoSession(t *testing.T) {
	e := newEnv(t, false)
	dbtest.Slot(t, e.gdb, e.fx.Project.ID, "intro", true)

	ctx := call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", map[string]string{
		"projectId": e.fx.Project.ID,
		"widgetKey": "wk_wrong",
		"visitorId": "v1",
	})

	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
	assert.Zero(t, e.count(t, &db.WidgetSession{}))
}

func TestWidgetInitReturnsEntrySlot(t *testing.T) {
	e := newEnv(t, false)
	first := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "first", false)
	entry := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "entry", true)
	require.NoError(t, e.store.SetEntryPoint(t.Context(), e.fx.Project.ID, entry.ID))
	dbtest.Transition(t, e.gdb, e.fx.Project.ID, entry.ID, first.ID, "time", 3000, 0)

	ctx := call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", map[string]string{
		"projectId": e.fx.Project.ID,
		"widgetKey": dbtest.WidgetKey,
		"visitorId": "v1",
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var resp slotResp
	decode(t, ctx, &resp)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, entry.ID, resp.Slot.ID)
	require.NotNil(t, resp.Slot.Video)
	assert.True(t, strings.HasPrefix(resp.Slot.Video.URL, "http://media.test/videos/"))
	require.Len(t, resp.Transitions, 1)
	assert.Equal(t, "time", resp.Transitions[0].TriggerType)
	assert.EqualValues(t, 3000, resp.Transitions[0].TriggerConfig["after_ms"])
	assert.Equal(t, first.ID, resp.Transitions[0].ToSlot.ID)
	assert.EqualValues(t, 1, e.count(t, &db.WidgetSession{}))
}

func TestWidgetInitNotFound(t *testing.T) {
	e := newEnv(t, false)

	ctx := call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", map[string]string{
		"projectId": e.fx.Project.ID,
		"widgetKey": dbtest.WidgetKey,
	})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode(), "project without slots")

	ctx = call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", map[string]string{
		"projectId": "missing",
		"widgetKey": dbtest.WidgetKey,
	})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Zero(t, e.count(t, &db.WidgetSession{}))
}

func TestWidgetInitRequiresProjectID(t *testing.T) {
	e := newEnv(t, false)
	ctx := call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", map[string]string{"widgetKey": dbtest.WidgetKey})
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestWidgetInitProductionOrigin(t *testing.T) {
	e := newEnv(t, true, "https://shop.example.com")
	dbtest.Slot(t, e.gdb, e.fx.Project.ID, "intro", true)
	body := map[string]string{"projectId": e.fx.Project.ID}

	ctx := call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", body, withHeader("Origin", "https://evil.example.com"))
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", body, withHeader("Origin", "https://shop.example.com"))
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
}

func TestWidgetNavigate(t *testing.T) {
	e := newEnv(t, false)
	a := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", true)
	b := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "b", true)
	dbtest.Transition(t, e.gdb, e.fx.Project.ID, a.ID, b.ID, "click", 0, 0)

	ctx := call(t, handlers.WidgetInit(e.widget), "POST", "/widget/init", map[string]string{
		"projectId": e.fx.Project.ID,
		"widgetKey": dbtest.WidgetKey,
	})
	var init slotResp
	decode(t, ctx, &init)
	require.Equal(t, a.ID, init.Slot.ID)

	ctx = call(t, handlers.WidgetNavigate(e.widget), "POST", "/widget/navigate", map[string]string{
		"sessionId": init.SessionID,
		"slotId":    b.ID,
		"widgetKey": dbtest.WidgetKey,
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var nav slotResp
	decode(t, ctx, &nav)
	assert.Equal(t, b.ID, nav.Slot.ID)
	assert.Empty(t, nav.SessionID)
	assert.Empty(t, nav.Transitions, "terminal slot")

	ctx = call(t, handlers.WidgetNavigate(e.widget), "POST", "/widget/navigate", map[string]string{
		"sessionId": init.SessionID,
		"slotId":    b.ID,
		"widgetKey": "wk_wrong",
	})
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = call(t, handlers.WidgetNavigate(e.widget), "POST", "/widget/navigate", map[string]string{
		"sessionId": init.SessionID,
		"slotId":    "missing",
		"widgetKey": dbtest.WidgetKey,
	})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestWidgetEventsValidation(t *testing.T) {
	e := newEnv(t, false)
	sl := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", true)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"click without slot", map[string]any{"project_id": e.fx.Project.ID, "event_type": "click", "video_id": *sl.VideoID}, fasthttp.StatusBadRequest},
		{"unknown type", map[string]any{"project_id": e.fx.Project.ID, "event_type": "teleport"}, fasthttp.StatusBadRequest},
		{"missing type", map[string]any{"project_id": e.fx.Project.ID}, fasthttp.StatusBadRequest},
		{"missing project", map[string]any{"event_type": "widget_open"}, fasthttp.StatusBadRequest},
		{"unknown project", map[string]any{"project_id": "missing", "event_type": "widget_open"}, fasthttp.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := call(t, handlers.WidgetEvents(e.widget), "POST", "/widget/events", tt.body)
			assert.Equal(t, tt.want, ctx.Response.StatusCode(), string(ctx.Response.Body()))
		})
	}
	assert.Zero(t, e.count(t, &db.Event{}))
	assert.Zero(t, e.count(t, &db.WidgetSession{}))
}

func TestWidgetEventsCreatesSession(t *testing.T) {
	e := newEnv(t, false)
	sl := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", true)

	ctx := call(t, handlers.WidgetEvents(e.widget), "POST", "/widget/events", map[string]any{
		"project_id": e.fx.Project.ID,
		"event_type": "video_start",
		"slot_id":    sl.ID,
		"video_id":   *sl.VideoID,
		"event_id":   "evt-1",
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var resp struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
	}
	decode(t, ctx, &resp)
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.SessionID)

	// Known session: no session_id echoed back.
	ctx = call(t, handlers.WidgetEvents(e.widget), "POST", "/widget/events", map[string]any{
		"project_id": e.fx.Project.ID,
		"session_id": resp.SessionID,
		"event_type": "click",
		"slot_id":    sl.ID,
		"video_id":   *sl.VideoID,
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var second map[string]any
	decode(t, ctx, &second)
	assert.NotContains(t, second, "session_id")
	assert.EqualValues(t, 2, e.count(t, &db.Event{}))
	assert.EqualValues(t, 1, e.count(t, &db.WidgetSession{}))
}

func TestWidgetConfig(t *testing.T) {
	e := newEnv(t, false)
	a := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", true)
	b := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "b", false)
	dbtest.Transition(t, e.gdb, e.fx.Project.ID, a.ID, b.ID, "auto", 0, 1)
	dbtest.Transition(t, e.gdb, e.fx.Project.ID, a.ID, b.ID, "time", 1500, 0)

	ctx := call(t, handlers.WidgetConfig(e.widget), "GET", "/widget/config/"+e.fx.Project.ID+"?widgetKey="+dbtest.WidgetKey, nil,
		withParam("projectId", e.fx.Project.ID))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var resp struct {
		EntrySlotID string `json:"entrySlotId"`
		Slots       []struct {
			ID    string `json:"id"`
			Video *struct {
				URL string `json:"url"`
			} `json:"video"`
		} `json:"slots"`
		Transitions []struct {
			TriggerType string `json:"triggerType"`
			FromSlotID  string `json:"fromSlotId"`
		} `json:"transitions"`
	}
	decode(t, ctx, &resp)
	assert.Equal(t, a.ID, resp.EntrySlotID, "falls back to the first slot")
	require.Len(t, resp.Slots, 2)
	assert.NotNil(t, resp.Slots[0].Video)
	assert.Nil(t, resp.Slots[1].Video)
	require.Len(t, resp.Transitions, 2)
	assert.Equal(t, "time", resp.Transitions[0].TriggerType, "priority order")
	assert.Equal(t, a.ID, resp.Transitions[0].FromSlotID)

	ctx = call(t, handlers.WidgetConfig(e.widget), "GET", "/widget/config/"+e.fx.Project.ID+"?widgetKey=nope", nil,
		withParam("projectId", e.fx.Project.ID))
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestAdminCreateTransition(t *testing.T) {
	e := newEnv(t, false)
	admin := &db.User{Username: "root", IsAdmin: true}
	a := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", false)
	b := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "b", false)

	other := &db.Project{OrganizationID: e.fx.Org.ID, Name: "Other"}
	require.NoError(t, e.gdb.Create(other).Error)
	foreign := dbtest.Slot(t, e.gdb, other.ID, "x", false)

	h := handlers.CreateTransition(e.admin)
	path := "/admin/projects/" + e.fx.Project.ID + "/transitions"

	ctx := call(t, h, "POST", path, map[string]any{
		"from_slot_id":   a.ID,
		"to_slot_id":     b.ID,
		"trigger_type":   "time",
		"trigger_config": map[string]any{"seconds": 2.5},
	}, withParam("id", e.fx.Project.ID), withUser(admin))
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var created struct {
		Data struct {
			TriggerConfig map[string]any `json:"trigger_config"`
		} `json:"data"`
	}
	decode(t, ctx, &created)
	assert.EqualValues(t, 2500, created.Data.TriggerConfig["after_ms"])

	ctx = call(t, h, "POST", path, map[string]any{
		"from_slot_id": a.ID,
		"to_slot_id":   foreign.ID,
		"trigger_type": "click",
	}, withParam("id", e.fx.Project.ID), withUser(admin))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), "cross-project edge")

	ctx = call(t, h, "POST", path, map[string]any{
		"from_slot_id": a.ID,
		"to_slot_id":   b.ID,
		"trigger_type": "time",
	}, withParam("id", e.fx.Project.ID), withUser(admin))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), "time trigger without threshold")

	ctx = call(t, h, "POST", path, map[string]any{
		"from_slot_id": a.ID,
		"to_slot_id":   b.ID,
		"trigger_type": "hover",
	}, withParam("id", e.fx.Project.ID), withUser(admin))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	assert.EqualValues(t, 1, e.count(t, &db.Transition{}))
}

func TestAdminScopesUsersToOrganization(t *testing.T) {
	e := newEnv(t, false)
	otherOrg := "some-other-org"
	outsider := &db.User{Username: "outsider", OrganizationID: &otherOrg}
	member := &db.User{Username: "member", OrganizationID: &e.fx.Org.ID}

	ctx := call(t, handlers.GetProject(e.admin), "GET", "/admin/projects/"+e.fx.Project.ID, nil,
		withParam("id", e.fx.Project.ID), withUser(outsider))
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = call(t, handlers.GetProject(e.admin), "GET", "/admin/projects/"+e.fx.Project.ID, nil,
		withParam("id", e.fx.Project.ID), withUser(member))
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	ctx = call(t, handlers.CreateOrganization(e.admin), "POST", "/admin/organizations", map[string]string{"name": "New"},
		withUser(member))
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode(), "admin only")

	ctx = call(t, handlers.GetProject(e.admin), "GET", "/admin/projects/"+e.fx.Project.ID, nil,
		withParam("id", e.fx.Project.ID))
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestAdminRotateWidgetKey(t *testing.T) {
	e := newEnv(t, false)
	admin := &db.User{Username: "root", IsAdmin: true}

	ctx := call(t, handlers.RotateWidgetKey(e.admin), "POST", "/admin/organizations/"+e.fx.Org.ID+"/rotate-key", nil,
		withParam("id", e.fx.Org.ID), withUser(admin))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	org, err := e.store.Organization(t.Context(), e.fx.Org.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(org.WidgetKey, "wk_"))
	assert.NotEqual(t, dbtest.WidgetKey, org.WidgetKey)
}

func TestAdminRules(t *testing.T) {
	e := newEnv(t, false)
	admin := &db.User{Username: "root", IsAdmin: true}

	ctx := call(t, handlers.CreateRule(e.admin), "POST", "/admin/projects/"+e.fx.Project.ID+"/rules", map[string]any{
		"name":       "reached checkout",
		"event_type": "slot_reached",
	}, withParam("id", e.fx.Project.ID), withUser(admin))
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var created struct {
		Data struct {
			ID       string `json:"id"`
			IsActive bool   `json:"is_active"`
		} `json:"data"`
	}
	decode(t, ctx, &created)
	assert.True(t, created.Data.IsActive, "active by default")

	ctx = call(t, handlers.SetRuleActive(e.admin), "POST", "/admin/rules/"+created.Data.ID+"/active", map[string]any{"active": false},
		withParam("id", created.Data.ID), withUser(admin))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	rules, err := e.store.ActiveRules(t.Context(), e.fx.Project.ID, db.RuleSlotReached)
	require.NoError(t, err)
	assert.Empty(t, rules)

	ctx = call(t, handlers.CreateRule(e.admin), "POST", "/admin/projects/"+e.fx.Project.ID+"/rules", map[string]any{
		"name":       "bad",
		"event_type": "hover",
	}, withParam("id", e.fx.Project.ID), withUser(admin))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCreateRuleRejectsForeignTargets(t *testing.T) {
	e := newEnv(t, false)
	admin := &db.User{Username: "root", IsAdmin: true}
	other := &db.Project{OrganizationID: e.fx.Org.ID, Name: "Other"}
	require.NoError(t, e.gdb.Create(other).Error)
	foreign := dbtest.Slot(t, e.gdb, other.ID, "x", true)
	own := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", true)
	uri := "/admin/projects/" + e.fx.Project.ID + "/rules"

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"foreign slot", map[string]any{"name": "r", "event_type": "slot_reached", "slot_id": foreign.ID}, fasthttp.StatusBadRequest},
		{"foreign video", map[string]any{"name": "r", "event_type": "video_completed", "video_id": *foreign.VideoID}, fasthttp.StatusBadRequest},
		{"unknown slot", map[string]any{"name": "r", "event_type": "slot_reached", "slot_id": "missing"}, fasthttp.StatusNotFound},
		{"own slot and video", map[string]any{"name": "r", "event_type": "slot_reached", "slot_id": own.ID, "video_id": *own.VideoID}, fasthttp.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := call(t, handlers.CreateRule(e.admin), "POST", uri, tt.body, withParam("id", e.fx.Project.ID), withUser(admin))
			assert.Equal(t, tt.status, ctx.Response.StatusCode(), string(ctx.Response.Body()))
		})
	}

	var n int64
	require.NoError(t, e.gdb.Model(&db.ConversionRule{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestSessionDetail(t *testing.T) {
	e := newEnv(t, false)
	sl := dbtest.Slot(t, e.gdb, e.fx.Project.ID, "a", true)
	ctx := call(t, handlers.WidgetEvents(e.widget), "POST", "/widget/events", map[string]any{
		"project_id": e.fx.Project.ID,
		"event_type": "slot_reached",
		"slot_id":    sl.ID,
		"video_id":   *sl.VideoID,
		"attributes": map[string]any{"page_url": "https://shop.example.com/"},
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var ev struct {
		SessionID string `json:"session_id"`
	}
	decode(t, ctx, &ev)

	ctx = call(t, handlers.SessionDetail(e.admin), "GET", "/admin/sessions/"+ev.SessionID, nil,
		withParam("id", ev.SessionID), withUser(&db.User{IsAdmin: true}))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var detail struct {
		Data struct {
			ID     string `json:"id"`
			Events []struct {
				EventType  string         `json:"event_type"`
				Attributes map[string]any `json:"attributes"`
			} `json:"events"`
		} `json:"data"`
	}
	decode(t, ctx, &detail)
	assert.Equal(t, ev.SessionID, detail.Data.ID)
	require.Len(t, detail.Data.Events, 1)
	assert.Equal(t, "slot_reached", detail.Data.Events[0].EventType)
	assert.Equal(t, "https://shop.example.com/", detail.Data.Events[0].Attributes["page_url"])
}

func TestProjectAnalytics(t *testing.T) {
	e := newEnv(t, false)
	hour := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	require.NoError(t, e.gdb.Create(&db.ProjectStat{
		ProjectID: e.fx.Project.ID, BucketStart: hour, Sessions: 4, ConvertedSessions: 1, Clicks: 3,
	}).Error)
	require.NoError(t, e.gdb.Create(&db.ProjectStat{
		ProjectID: e.fx.Project.ID, BucketStart: hour.Add(-30 * 24 * time.Hour), Sessions: 100,
	}).Error)

	ctx := call(t, handlers.ProjectAnalytics(e.admin), "GET", "/admin/projects/"+e.fx.Project.ID+"/analytics?days=1", nil,
		withParam("id", e.fx.Project.ID), withUser(&db.User{IsAdmin: true}))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	var resp struct {
		Data struct {
			Days   int `json:"days"`
			Totals struct {
				Sessions int64 `json:"sessions"`
				Clicks   int64 `json:"clicks"`
			} `json:"totals"`
			ConversionRate float64 `json:"conversion_rate"`
			Buckets        []any   `json:"buckets"`
		} `json:"data"`
	}
	decode(t, ctx, &resp)
	assert.Equal(t, 1, resp.Data.Days)
	assert.Len(t, resp.Data.Buckets, 1)
	assert.EqualValues(t, 4, resp.Data.Totals.Sessions)
	assert.EqualValues(t, 3, resp.Data.Totals.Clicks)
	assert.InDelta(t, 0.25, resp.Data.ConversionRate, 1e-9)
}

func TestProjectMetricsHandler(t *testing.T) {
	e := newEnv(t, false)
	reg := prometheus.NewRegistry()
	views := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_views_total", Help: "views"}, []string{"project"})
	reg.MustRegister(views)
	views.WithLabelValues(e.fx.Project.ID).Add(3)
	views.WithLabelValues("foreign-project").Inc()

	h := handlers.ProjectMetricsHandler(e.store, reg)

	ctx := call(t, h, "GET", "/v1/metrics", nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = call(t, h, "GET", "/v1/metrics?widget-key=wk_wrong", nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = call(t, h, "GET", "/v1/metrics?widget-key="+dbtest.WidgetKey, nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, `test_views_total{project="`+e.fx.Project.ID+`"} 3`)
	assert.NotContains(t, body, "foreign-project")
}
