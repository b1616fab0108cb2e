package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vidbranch/internal/config"
	"vidbranch/internal/logging"
)

// Connect opens the PostgreSQL database at APP_DATABASE_URL, sizes its pool
// and migrates the schema.
func Connect(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt keeps the postgres migrator off the simple protocol, which
	// fails its "LIMIT 1" lookups with "insufficient arguments".
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
		NowFunc:     func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, err
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate auto-migrates the core tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// EnsureBootstrapAdmin creates the admin user named by APP_ADMIN_USER on first
// start. An existing user of that name is left untouched, including its
// password.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var existing User
	err := db.Where("username = ?", cfg.AdminUser).Limit(1).Find(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID != 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := db.Create(&User{Username: cfg.AdminUser, PasswordHash: string(hash), IsAdmin: true}).Error; err != nil {
		return err
	}
	logging.Info().Str("username", cfg.AdminUser).Msg("created bootstrap admin")
	return nil
}
