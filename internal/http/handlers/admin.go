package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"vidbranch/internal/apperr"
	"vidbranch/internal/blob"
	"vidbranch/internal/config"
	dbpkg "vidbranch/internal/db"
	"vidbranch/internal/graph"
	httpctx "vidbranch/internal/http/ctx"
	"vidbranch/internal/logging"
)

// Admin serves the dashboard JSON API. Every handler expects AdminAuth to
// have placed the user in the request context.
type Admin struct {
	Store *dbpkg.Store
	Blobs blob.Store
	Cfg   *config.Config
}

func generateWidgetKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "wk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// project loads the project named by the {id} route param and checks the
// user may manage it.
func (a *Admin) project(ctx *fasthttp.RequestCtx, user *dbpkg.User) (*dbpkg.Project, error) {
	p, err := a.Store.Project(ctx, httpctx.Param(ctx, "id"))
	if err != nil {
		return nil, err
	}
	if err := canManage(user, p.OrganizationID); err != nil {
		return nil, err
	}
	return p, nil
}

// owned checks that user may manage projectID.
func (a *Admin) owned(ctx context.Context, user *dbpkg.User, projectID string) error {
	p, err := a.Store.Project(ctx, projectID)
	if err != nil {
		return err
	}
	return canManage(user, p.OrganizationID)
}

// --- organizations ---

type organizationRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type organizationPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	WidgetKey string `json:"widget_key"`
}

func CreateOrganization(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		var req organizationRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		key, err := generateWidgetKey()
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to generate widget key"})
			return
		}
		org := &dbpkg.Organization{Name: req.Name, WidgetKey: key}
		if err := a.Store.CreateOrganization(ctx, org); err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusCreated, organizationPayload{ID: org.ID, Name: org.Name, WidgetKey: org.WidgetKey})
	}
}

func RotateWidgetKey(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		org, err := a.Store.Organization(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = canManage(user, org.ID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		key, err := generateWidgetKey()
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to generate widget key"})
			return
		}
		if err := a.Store.RotateWidgetKey(ctx, org.ID, key); err != nil {
			writeError(ctx, err)
			return
		}
		logging.Info().Str("organization_id", org.ID).Str("user", user.Username).Msg("widget key rotated")
		writeData(ctx, fasthttp.StatusOK, organizationPayload{ID: org.ID, Name: org.Name, WidgetKey: key})
	}
}

// --- projects ---

type projectRequest struct {
	OrganizationID string   `json:"organization_id" validate:"required"`
	Name           string   `json:"name" validate:"required,max=128"`
	AllowedOrigins []string `json:"allowed_origins" validate:"omitempty,dive,url"`
	RetentionDays  int      `json:"retention_days" validate:"gte=0,lte=3650"`
}

type projectPayload struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowed_origins"`
	RetentionDays  int      `json:"retention_days"`
	CreatedAt      string   `json:"created_at"`
}

func toProjectPayload(p *dbpkg.Project) projectPayload {
	origins := []string(p.AllowedOrigins)
	if origins == nil {
		origins = []string{}
	}
	return projectPayload{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		AllowedOrigins: origins,
		RetentionDays:  p.RetentionDays,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

func CreateProject(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		var req projectRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		if err := canManage(user, req.OrganizationID); err != nil {
			writeError(ctx, err)
			return
		}
		if _, err := a.Store.Organization(ctx, req.OrganizationID); err != nil {
			writeError(ctx, err)
			return
		}
		p := &dbpkg.Project{
			OrganizationID: req.OrganizationID,
			Name:           req.Name,
			AllowedOrigins: datatypes.JSONSlice[string](req.AllowedOrigins),
			RetentionDays:  req.RetentionDays,
		}
		if err := a.Store.CreateProject(ctx, p); err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusCreated, toProjectPayload(p))
	}
}

type videoAdminPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	StoragePath string `json:"storage_path"`
	DurationMs  int64  `json:"duration_ms"`
	Status      string `json:"status"`
}

type slotAdminPayload struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	VideoID      *string        `json:"video_id"`
	IsEntryPoint bool           `json:"is_entry_point"`
	Buttons      map[string]any `json:"buttons,omitempty"`
	PositionX    float64        `json:"position_x"`
	PositionY    float64        `json:"position_y"`
}

type transitionAdminPayload struct {
	ID            string         `json:"id"`
	FromSlotID    string         `json:"from_slot_id"`
	ToSlotID      string         `json:"to_slot_id"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Priority      int            `json:"priority"`
}

type rulePayload struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	IsActive   bool    `json:"is_active"`
	EventType  string  `json:"event_type"`
	SlotID     *string `json:"slot_id"`
	VideoID    *string `json:"video_id"`
	URLPattern string  `json:"url_pattern"`
}

func toRulePayload(r *dbpkg.ConversionRule) rulePayload {
	return rulePayload{
		ID:         r.ID,
		Name:       r.Name,
		IsActive:   r.IsActive,
		EventType:  r.EventType,
		SlotID:     r.SlotID,
		VideoID:    r.VideoID,
		URLPattern: r.URLPattern,
	}
}

type projectDetail struct {
	Project     projectPayload           `json:"project"`
	Videos      []videoAdminPayload      `json:"videos"`
	Slots       []slotAdminPayload       `json:"slots"`
	Transitions []transitionAdminPayload `json:"transitions"`
	Rules       []rulePayload            `json:"rules"`
}

func GetProject(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}

		var (
			videos      []dbpkg.Video
			slots       []dbpkg.Slot
			transitions []dbpkg.Transition
			rules       []dbpkg.ConversionRule
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { videos, err = a.Store.VideosForProject(gctx, p.ID); return })
		g.Go(func() (err error) { slots, err = a.Store.SlotsForProject(gctx, p.ID); return })
		g.Go(func() (err error) { transitions, err = a.Store.TransitionsForProject(gctx, p.ID); return })
		g.Go(func() (err error) { rules, err = a.Store.RulesForProject(gctx, p.ID); return })
		if err := g.Wait(); err != nil {
			writeError(ctx, err)
			return
		}

		out := projectDetail{
			Project:     toProjectPayload(p),
			Videos:      make([]videoAdminPayload, 0, len(videos)),
			Slots:       make([]slotAdminPayload, 0, len(slots)),
			Transitions: make([]transitionAdminPayload, 0, len(transitions)),
			Rules:       make([]rulePayload, 0, len(rules)),
		}
		for _, v := range videos {
			out.Videos = append(out.Videos, videoAdminPayload{
				ID: v.ID, Title: v.Title, StoragePath: v.StoragePath, DurationMs: v.DurationMs, Status: v.Status,
			})
		}
		for _, s := range slots {
			out.Slots = append(out.Slots, slotAdminPayload{
				ID: s.ID, Name: s.Name, VideoID: s.VideoID, IsEntryPoint: s.IsEntryPoint,
				Buttons: s.Buttons, PositionX: s.PositionX, PositionY: s.PositionY,
			})
		}
		for _, t := range transitions {
			out.Transitions = append(out.Transitions, transitionAdminPayload{
				ID: t.ID, FromSlotID: t.FromSlotID, ToSlotID: t.ToSlotID,
				TriggerType: t.TriggerType, TriggerConfig: t.TriggerConfig, Priority: t.Priority,
			})
		}
		for i := range rules {
			out.Rules = append(out.Rules, toRulePayload(&rules[i]))
		}
		writeData(ctx, fasthttp.StatusOK, out)
	}
}

// DeleteProject removes the project's video blobs, then its rows. A failed
// blob delete leaves the project untouched.
func DeleteProject(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}
		videos, err := a.Store.VideosForProject(ctx, p.ID)
		if err != nil {
			writeError(ctx, err)
			return
		}
		keys := make([]string, 0, len(videos))
		for _, v := range videos {
			if v.StoragePath != "" {
				keys = append(keys, v.StoragePath)
			}
		}
		if err := a.removeBlobs(ctx, keys); err != nil {
			writeError(ctx, err)
			return
		}
		if err := a.Store.DeleteProject(ctx, p.ID); err != nil {
			writeError(ctx, err)
			return
		}
		logging.Info().Str("project_id", p.ID).Int("videos", len(keys)).Msg("project deleted")
		writeData(ctx, fasthttp.StatusOK, map[string]string{"deleted": p.ID})
	}
}

func (a *Admin) removeBlobs(ctx context.Context, keys []string) error {
	if len(keys) == 0 || a.Blobs == nil {
		return nil
	}
	if err := a.Blobs.Remove(ctx, keys); err != nil {
		return apperr.Store("remove video blobs", err)
	}
	return nil
}

// --- videos ---

func UploadVideo(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}
		if a.Blobs == nil {
			writeError(ctx, apperr.Store("upload video", blob.ErrNotConfigured))
			return
		}

		fh, err := ctx.FormFile("file")
		if err != nil {
			writeError(ctx, apperr.Validation("file is required"))
			return
		}
		if a.Cfg.MaxUploadBytes > 0 && fh.Size > int64(a.Cfg.MaxUploadBytes) {
			writeError(ctx, apperr.Validation("file exceeds %d bytes", a.Cfg.MaxUploadBytes))
			return
		}
		title := string(ctx.FormValue("title"))
		if title == "" {
			title = fh.Filename
		}
		var durationMs int64
		if raw := string(ctx.FormValue("duration_ms")); raw != "" {
			durationMs, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || durationMs < 0 {
				writeError(ctx, apperr.Validation("duration_ms must be a non-negative integer"))
				return
			}
		}

		f, err := fh.Open()
		if err != nil {
			writeError(ctx, apperr.Validation("unreadable upload"))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(ctx, apperr.Validation("unreadable upload"))
			return
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		key := blob.VideoKey(p.ID, fh.Filename)
		if err := a.Blobs.Put(ctx, key, data, contentType); err != nil {
			writeError(ctx, apperr.Store("store video", err))
			return
		}

		v := &dbpkg.Video{
			ProjectID:   p.ID,
			Title:       title,
			StoragePath: key,
			DurationMs:  durationMs,
			Status:      dbpkg.VideoReady,
		}
		if err := a.Store.CreateVideo(ctx, v); err != nil {
			if rmErr := a.Blobs.Remove(ctx, []string{key}); rmErr != nil {
				logging.Warn().Err(rmErr).Str("key", key).Msg("orphaned video blob")
			}
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusCreated, videoAdminPayload{
			ID: v.ID, Title: v.Title, StoragePath: v.StoragePath, DurationMs: v.DurationMs, Status: v.Status,
		})
	}
}

func DeleteVideo(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		v, err := a.Store.Video(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = a.owned(ctx, user, v.ProjectID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		var keys []string
		if v.StoragePath != "" {
			keys = []string{v.StoragePath}
		}
		if err := a.removeBlobs(ctx, keys); err != nil {
			writeError(ctx, err)
			return
		}
		if err := a.Store.DeleteVideo(ctx, v.ID); err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusOK, map[string]string{"deleted": v.ID})
	}
}

// --- slots ---

type slotRequest struct {
	Name         string         `json:"name" validate:"required,max=128"`
	VideoID      *string        `json:"video_id"`
	IsEntryPoint bool           `json:"is_entry_point"`
	Buttons      map[string]any `json:"buttons"`
	PositionX    float64        `json:"position_x"`
	PositionY    float64        `json:"position_y"`
}

func CreateSlot(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}
		var req slotRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		if req.VideoID != nil && *req.VideoID == "" {
			req.VideoID = nil
		}
		if req.VideoID != nil {
			v, err := a.Store.Video(ctx, *req.VideoID)
			if err != nil {
				writeError(ctx, err)
				return
			}
			if v.ProjectID != p.ID {
				writeError(ctx, apperr.Validation("video belongs to another project"))
				return
			}
		}
		sl := &dbpkg.Slot{
			ProjectID:    p.ID,
			VideoID:      req.VideoID,
			Name:         req.Name,
			IsEntryPoint: req.IsEntryPoint,
			Buttons:      datatypes.JSONMap(req.Buttons),
			PositionX:    req.PositionX,
			PositionY:    req.PositionY,
		}
		if err := a.Store.CreateSlot(ctx, sl); err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusCreated, slotAdminPayload{
			ID: sl.ID, Name: sl.Name, VideoID: sl.VideoID, IsEntryPoint: sl.IsEntryPoint,
			Buttons: sl.Buttons, PositionX: sl.PositionX, PositionY: sl.PositionY,
		})
	}
}

func SetEntrySlot(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		sl, err := a.Store.Slot(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = a.owned(ctx, user, sl.ProjectID)
		}
		if err == nil {
			err = a.Store.SetEntryPoint(ctx, sl.ProjectID, sl.ID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusOK, map[string]string{"entry_slot_id": sl.ID})
	}
}

func DeleteSlot(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		sl, err := a.Store.Slot(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = a.owned(ctx, user, sl.ProjectID)
		}
		if err == nil {
			err = a.Store.DeleteSlot(ctx, sl.ID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusOK, map[string]string{"deleted": sl.ID})
	}
}

// --- transitions ---

type transitionRequest struct {
	FromSlotID    string         `json:"from_slot_id" validate:"required"`
	ToSlotID      string         `json:"to_slot_id" validate:"required"`
	TriggerType   string         `json:"trigger_type" validate:"required,oneof=auto time click"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Priority      int            `json:"priority" validate:"gte=0"`
}

// transitionConfig checks the trigger and returns the config to store. Time
// triggers are normalized to {"after_ms": N}.
func transitionConfig(req transitionRequest) (datatypes.JSONMap, error) {
	trig := graph.TriggerType(req.TriggerType)
	if !trig.Valid() {
		return nil, apperr.Validation("unknown trigger_type %q", req.TriggerType)
	}
	if trig != graph.TriggerTime {
		return datatypes.JSONMap(req.TriggerConfig), nil
	}
	ms, err := graph.TimeConfig(req.TriggerConfig)
	if err != nil {
		return nil, apperr.Validation("trigger_config: %v", err)
	}
	return datatypes.JSONMap{"after_ms": ms}, nil
}

func CreateTransition(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}
		var req transitionRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		cfg, err := transitionConfig(req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		t := &dbpkg.Transition{
			ProjectID:     p.ID,
			FromSlotID:    req.FromSlotID,
			ToSlotID:      req.ToSlotID,
			TriggerType:   req.TriggerType,
			TriggerConfig: cfg,
			Priority:      req.Priority,
		}
		if err := a.Store.CreateTransition(ctx, t); err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusCreated, transitionAdminPayload{
			ID: t.ID, FromSlotID: t.FromSlotID, ToSlotID: t.ToSlotID,
			TriggerType: t.TriggerType, TriggerConfig: t.TriggerConfig, Priority: t.Priority,
		})
	}
}

func DeleteTransition(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		t, err := a.Store.Transition(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = a.owned(ctx, user, t.ProjectID)
		}
		if err == nil {
			err = a.Store.DeleteTransition(ctx, t.ID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusOK, map[string]string{"deleted": t.ID})
	}
}

// --- conversion rules ---

type ruleRequest struct {
	Name       string  `json:"name" validate:"required,max=128"`
	EventType  string  `json:"event_type" validate:"required,oneof=slot_reached video_completed cta_clicked"`
	SlotID     *string `json:"slot_id"`
	VideoID    *string `json:"video_id"`
	URLPattern string  `json:"url_pattern" validate:"max=1024"`
	IsActive   *bool   `json:"is_active"`
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func CreateRule(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		p, err := a.project(ctx, user)
		if err != nil {
			writeError(ctx, err)
			return
		}
		var req ruleRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		r := &dbpkg.ConversionRule{
			ProjectID:  p.ID,
			Name:       req.Name,
			IsActive:   active,
			EventType:  req.EventType,
			SlotID:     emptyToNil(req.SlotID),
			VideoID:    emptyToNil(req.VideoID),
			URLPattern: req.URLPattern,
		}
		if err := a.ruleTargets(ctx, p.ID, r.SlotID, r.VideoID); err != nil {
			writeError(ctx, err)
			return
		}
		if err := a.Store.CreateRule(ctx, r); err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusCreated, toRulePayload(r))
	}
}

// ruleTargets checks that a rule's slot and video constraints name rows of
// projectID.
func (a *Admin) ruleTargets(ctx context.Context, projectID string, slotID, videoID *string) error {
	if slotID != nil {
		sl, err := a.Store.Slot(ctx, *slotID)
		if err != nil {
			return err
		}
		if sl.ProjectID != projectID {
			return apperr.Validation("slot belongs to another project")
		}
	}
	if videoID != nil {
		v, err := a.Store.Video(ctx, *videoID)
		if err != nil {
			return err
		}
		if v.ProjectID != projectID {
			return apperr.Validation("video belongs to another project")
		}
	}
	return nil
}

type ruleActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func SetRuleActive(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		var req ruleActiveRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		r, err := a.Store.Rule(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = a.owned(ctx, user, r.ProjectID)
		}
		if err == nil {
			err = a.Store.SetRuleActive(ctx, r.ID, *req.Active)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		r.IsActive = *req.Active
		writeData(ctx, fasthttp.StatusOK, toRulePayload(r))
	}
}

func DeleteRule(a *Admin) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		r, err := a.Store.Rule(ctx, httpctx.Param(ctx, "id"))
		if err == nil {
			err = a.owned(ctx, user, r.ProjectID)
		}
		if err == nil {
			err = a.Store.DeleteRule(ctx, r.ID)
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeData(ctx, fasthttp.StatusOK, map[string]string{"deleted": r.ID})
	}
}
