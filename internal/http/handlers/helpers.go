package handlers

import (
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"vidbranch/internal/apperr"
	dbpkg "vidbranch/internal/db"
	httpctx "vidbranch/internal/http/ctx"
	"vidbranch/internal/logging"
	"vidbranch/internal/validation"
)

// MustUser returns the current user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return nil, false
	}
	return user, true
}

// MustAdmin is MustUser restricted to admins.
func MustAdmin(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := MustUser(ctx)
	if !ok {
		return nil, false
	}
	if !user.IsAdmin {
		writeJSON(ctx, fasthttp.StatusForbidden, errorBody{Error: "admin only"})
		return nil, false
	}
	return user, true
}

type errorBody struct {
	Error string `json:"error"`
}

type dataBody struct {
	Data any `json:"data"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"failed to encode response"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeData(ctx *fasthttp.RequestCtx, status int, v any) {
	writeJSON(ctx, status, dataBody{Data: v})
}

// writeError maps err to its status and a {"error": ...} body. Store
// failures are logged with their cause, which never reaches the client.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	status := apperr.Status(err)
	if status >= fasthttp.StatusInternalServerError {
		logging.Error().Err(err).
			Str("request_id", httpctx.RequestIDFromCtx(ctx)).
			Bytes("path", ctx.Path()).
			Msg("request failed")
	}
	writeJSON(ctx, status, errorBody{Error: apperr.Message(err)})
}

// decodeBody unmarshals the JSON request body into v and validates it.
func decodeBody(ctx *fasthttp.RequestCtx, v any) error {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		return apperr.Validation("invalid JSON body")
	}
	return validation.Struct(v)
}

// canManage reports a 403 unless user may manage orgID.
func canManage(user *dbpkg.User, orgID string) error {
	if !user.CanAccess(orgID) {
		return apperr.Authorization("forbidden")
	}
	return nil
}
