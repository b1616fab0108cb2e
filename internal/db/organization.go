package db

import (
	"time"

	"gorm.io/gorm"
)

// Organization owns projects and the widget key its embedded widgets
// present. Every widget request is checked against this key.
type Organization struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Name string `gorm:"size:128;not null"`

	// WidgetKey is the shared secret (stored as-is, unique).
	WidgetKey string `gorm:"uniqueIndex;size:255;not null"`
}

func (o *Organization) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = newID()
	}
	return nil
}
