package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MigrationFunc creates or updates all tables of the service
func MigrationFunc(conn *gorm.DB) error {
	// use conn.Debug().AutoMigrate(...) to enable debugging
	return conn.AutoMigrate(
		&User{},
		&Thread{},
		&Message{},
		&Attachment{},
		&MessageAttachment{},
		&UserPreferences{},
		&FavoriteModel{},
		&SharedChat{},
		&SharedMessage{},
		&SharedMessageAttachment{},
	)
}

// BaseModel defines the basic fields for each other model
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID.
func (base *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	return nil
}
