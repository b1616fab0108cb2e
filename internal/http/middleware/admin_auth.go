package middleware

import (
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"vidbranch/internal/config"
	dbpkg "vidbranch/internal/db"
	httpctx "vidbranch/internal/http/ctx"
)

// SessionCookie holds the opaque token issued at login.
const SessionCookie = "vb_session"

// AdminAuth returns middleware that resolves the session token to its user
// and sets it on the context.
func AdminAuth(db *gorm.DB, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token := string(ctx.Request.Header.Cookie(SessionCookie))
			if token == "" {
				unauthorized(ctx)
				return
			}

			user, err := dbpkg.AdminSessionUser(ctx, db, token, time.Now().UTC())
			if err != nil {
				unauthorized(ctx)
				return
			}

			if user.Username == cfg.AdminUser {
				user.IsAdmin = true
			}

			httpctx.SetUser(ctx, user)
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"unauthorized"}`)
}
