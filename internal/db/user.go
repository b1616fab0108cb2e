package db

import (
	"time"
)

// User represents a dashboard user that can sign in and manage projects.
// The bootstrap admin user (from env) will be created as a row in this
// table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// IsAdmin marks users that can manage every organization and other
	// users. The bootstrap admin will have IsAdmin=true.
	IsAdmin bool `gorm:"default:false"`

	// OrganizationID scopes non-admin users to one organization.
	OrganizationID *string `gorm:"size:36;index"`
}

// CanAccess reports whether u may manage resources of orgID.
func (u *User) CanAccess(orgID string) bool {
	if u.IsAdmin {
		return true
	}
	return u.OrganizationID != nil && *u.OrganizationID == orgID
}
