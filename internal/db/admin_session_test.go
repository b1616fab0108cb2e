package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vidbranch/internal/db"
	"vidbranch/internal/db/dbtest"
)

func TestAdminSessionLifecycle(t *testing.T) {
	gdb := dbtest.Open(t)
	ctx := context.Background()
	u := &db.User{Username: "editor", PasswordHash: "x"}
	require.NoError(t, gdb.Create(u).Error)

	a, err := db.CreateAdminSession(ctx, gdb, u.ID, time.Hour)
	require.NoError(t, err)
	b, err := db.CreateAdminSession(ctx, gdb, u.ID, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	got, err := db.AdminSessionUser(ctx, gdb, a, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "editor", got.Username)

	_, err = db.AdminSessionUser(ctx, gdb, a, time.Now().UTC().Add(2*time.Hour))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "expired")

	for _, bad := range []string{"", "editor", a + "x"} {
		_, err = db.AdminSessionUser(ctx, gdb, bad, time.Now().UTC())
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound, bad)
	}

	require.NoError(t, db.DeleteAdminSession(ctx, gdb, a))
	_, err = db.AdminSessionUser(ctx, gdb, a, time.Now().UTC())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = db.AdminSessionUser(ctx, gdb, b, time.Now().UTC())
	assert.NoError(t, err, "other sessions survive")

	require.NoError(t, db.DeleteUserSessions(ctx, gdb, u.ID))
	_, err = db.AdminSessionUser(ctx, gdb, b, time.Now().UTC())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPurgeExpiredSessions(t *testing.T) {
	gdb := dbtest.Open(t)
	ctx := context.Background()
	u := &db.User{Username: "editor", PasswordHash: "x"}
	require.NoError(t, gdb.Create(u).Error)

	_, err := db.CreateAdminSession(ctx, gdb, u.ID, -time.Minute)
	require.NoError(t, err)
	live, err := db.CreateAdminSession(ctx, gdb, u.ID, time.Hour)
	require.NoError(t, err)

	n, err := db.PurgeExpiredSessions(ctx, gdb, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = db.AdminSessionUser(ctx, gdb, live, time.Now().UTC())
	assert.NoError(t, err)
}
