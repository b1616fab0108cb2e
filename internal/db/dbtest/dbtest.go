// Package dbtest opens throwaway SQLite databases migrated with the
// production schema for package tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vidbranch/internal/db"
)

// WidgetKey is the key Seed gives its organization.
const WidgetKey = "wk_test_0123456789"

// Open returns a fresh in-memory database. Each call gets its own database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=off", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// One connection keeps concurrent test writers from hitting
	// "database table is locked".
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// Fixture is a seeded organization with one project.
type Fixture struct {
	Org     *db.Organization
	Project *db.Project
}

// Seed creates an organization keyed WidgetKey and a project allowing origins.
func Seed(t testing.TB, gdb *gorm.DB, origins ...string) Fixture {
	t.Helper()
	org := &db.Organization{Name: "Acme", WidgetKey: WidgetKey}
	require.NoError(t, gdb.Create(org).Error)
	p := &db.Project{OrganizationID: org.ID, Name: "Demo", AllowedOrigins: origins}
	require.NoError(t, gdb.Create(p).Error)
	p.Organization = *org
	return Fixture{Org: org, Project: p}
}

// Slot creates a slot in projectID, optionally bound to a new ready video.
func Slot(t testing.TB, gdb *gorm.DB, projectID, name string, withVideo bool) *db.Slot {
	t.Helper()
	sl := &db.Slot{ProjectID: projectID, Name: name}
	if withVideo {
		v := &db.Video{ProjectID: projectID, Title: name, StoragePath: "videos/" + uuid.NewString() + ".mp4", Status: db.VideoReady}
		require.NoError(t, gdb.Create(v).Error)
		sl.VideoID = &v.ID
	}
	require.NoError(t, gdb.Create(sl).Error)
	return sl
}

// Transition creates an edge between two slots of projectID.
func Transition(t testing.TB, gdb *gorm.DB, projectID, from, to, trigger string, afterMs int64, priority int) *db.Transition {
	t.Helper()
	tr := &db.Transition{ProjectID: projectID, FromSlotID: from, ToSlotID: to, TriggerType: trigger, Priority: priority}
	if trigger == "time" {
		tr.TriggerConfig = map[string]any{"after_ms": afterMs}
	}
	require.NoError(t, gdb.Create(tr).Error)
	return tr
}
