package db

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// AdminSession is a dashboard sign-in. Only the sha256 of the cookie token
// is stored.
type AdminSession struct {
	TokenHash string `gorm:"primaryKey;size:64"`
	UserID    uint   `gorm:"not null;index"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"not null;index"`
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateAdminSession issues a random token for userID valid for ttl.
func CreateAdminSession(ctx context.Context, db *gorm.DB, userID uint, ttl time.Duration) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	s := AdminSession{
		TokenHash: hashToken(token),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := db.WithContext(ctx).Create(&s).Error; err != nil {
		return "", err
	}
	return token, nil
}

// AdminSessionUser returns the user signed in with token. Unknown and
// expired tokens yield gorm.ErrRecordNotFound.
func AdminSessionUser(ctx context.Context, db *gorm.DB, token string, now time.Time) (*User, error) {
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var s AdminSession
	err := db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", hashToken(token), now).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	var u User
	if err := db.WithContext(ctx).First(&u, s.UserID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func DeleteAdminSession(ctx context.Context, db *gorm.DB, token string) error {
	return db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).Delete(&AdminSession{}).Error
}

// DeleteUserSessions signs userID out everywhere.
func DeleteUserSessions(ctx context.Context, db *gorm.DB, userID uint) error {
	return db.WithContext(ctx).Where("user_id = ?", userID).Delete(&AdminSession{}).Error
}

func purgeExpiredSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&AdminSession{})
	return res.RowsAffected, res.Error
}
