package handlers

import (
	"errors"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"vidbranch/internal/config"
	dbpkg "vidbranch/internal/db"
	"vidbranch/internal/http/middleware"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userPayload struct {
	ID             uint    `json:"id"`
	Username       string  `json:"username"`
	IsAdmin        bool    `json:"is_admin"`
	OrganizationID *string `json:"organization_id"`
}

func toUserPayload(u *dbpkg.User) userPayload {
	return userPayload{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin, OrganizationID: u.OrganizationID}
}

// LoginSubmit checks the credentials and sets a session cookie holding a
// freshly issued token.
func LoginSubmit(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req loginRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}

		var user dbpkg.User
		if err := db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "invalid username or password"})
				return
			}
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "database error"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "invalid username or password"})
			return
		}

		token, err := dbpkg.CreateAdminSession(ctx, db, user.ID, cfg.SessionTTL)
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to create session"})
			return
		}

		var c fasthttp.Cookie
		c.SetKey(middleware.SessionCookie)
		c.SetValue(token)
		c.SetPath("/")
		c.SetHTTPOnly(true)
		c.SetSecure(cfg.Production())
		c.SetMaxAge(int(cfg.SessionTTL.Seconds()))
		c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
		ctx.Response.Header.SetCookie(&c)

		writeData(ctx, fasthttp.StatusOK, toUserPayload(&user))
	}
}

func Logout(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if token := string(ctx.Request.Header.Cookie(middleware.SessionCookie)); token != "" {
			if err := dbpkg.DeleteAdminSession(ctx, db, token); err != nil {
				writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "database error"})
				return
			}
		}
		var c fasthttp.Cookie
		c.SetKey(middleware.SessionCookie)
		c.SetValue("")
		c.SetPath("/")
		c.SetMaxAge(-1)
		ctx.Response.Header.SetCookie(&c)
		writeData(ctx, fasthttp.StatusOK, map[string]bool{"logged_out": true})
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

func ChangePasswordSelf(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		if user.Username == cfg.AdminUser {
			writeJSON(ctx, fasthttp.StatusForbidden, errorBody{Error: "cannot change password for bootstrap admin user"})
			return
		}

		var req changePasswordRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "current password is incorrect"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to hash password"})
			return
		}

		if err := db.WithContext(ctx).Model(&dbpkg.User{}).Where("id = ?", user.ID).Update("password_hash", string(hash)).Error; err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to update password"})
			return
		}

		writeData(ctx, fasthttp.StatusOK, toUserPayload(user))
	}
}
