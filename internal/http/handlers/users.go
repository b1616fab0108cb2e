package handlers

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"vidbranch/internal/config"
	dbpkg "vidbranch/internal/db"
	httpctx "vidbranch/internal/http/ctx"
)

type createUserRequest struct {
	Username       string  `json:"username" validate:"required,max=64"`
	Password       string  `json:"password" validate:"required,min=8"`
	IsAdmin        bool    `json:"is_admin"`
	OrganizationID *string `json:"organization_id"`
}

func CreateUser(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		var req createUserRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
		if !req.IsAdmin && (req.OrganizationID == nil || *req.OrganizationID == "") {
			writeJSON(ctx, fasthttp.StatusBadRequest, errorBody{Error: "organization_id is required for non-admin users"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to hash password"})
			return
		}

		user := &dbpkg.User{
			Username:       req.Username,
			PasswordHash:   string(hash),
			IsAdmin:        req.IsAdmin,
			OrganizationID: req.OrganizationID,
		}

		if err := db.WithContext(ctx).Create(user).Error; err != nil {
			writeJSON(ctx, fasthttp.StatusBadRequest, errorBody{Error: "failed to create user (username may already exist)"})
			return
		}

		writeData(ctx, fasthttp.StatusCreated, toUserPayload(user))
	}
}

// userFromParam loads the user named by the {id} route param.
func userFromParam(ctx *fasthttp.RequestCtx, db *gorm.DB, cfg *config.Config) (*dbpkg.User, bool) {
	id, err := strconv.ParseUint(httpctx.Param(ctx, "id"), 10, 32)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorBody{Error: "invalid user ID"})
		return nil, false
	}

	var user dbpkg.User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		writeJSON(ctx, fasthttp.StatusNotFound, errorBody{Error: "user not found"})
		return nil, false
	}

	if user.Username == cfg.AdminUser {
		writeJSON(ctx, fasthttp.StatusForbidden, errorBody{Error: "cannot modify bootstrap admin user"})
		return nil, false
	}
	return &user, true
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

func ResetPassword(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		user, ok := userFromParam(ctx, db, cfg)
		if !ok {
			return
		}

		var req resetPasswordRequest
		if err := decodeBody(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to hash password"})
			return
		}

		if err := db.WithContext(ctx).Model(user).Update("password_hash", string(hash)).Error; err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to update password"})
			return
		}
		if err := dbpkg.DeleteUserSessions(ctx, db, user.ID); err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to revoke sessions"})
			return
		}

		writeData(ctx, fasthttp.StatusOK, toUserPayload(user))
	}
}

func DeleteUser(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		user, ok := userFromParam(ctx, db, cfg)
		if !ok {
			return
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := dbpkg.DeleteUserSessions(ctx, tx, user.ID); err != nil {
				return err
			}
			return tx.Delete(user).Error
		})
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to delete user"})
			return
		}

		writeData(ctx, fasthttp.StatusOK, map[string]uint{"deleted": user.ID})
	}
}
