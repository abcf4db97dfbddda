package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GenerationStatus tracks whether a reply is being generated for a thread
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
)

// Thread represents a chat conversation
type Thread struct {
	ID                   uuid.UUID        `gorm:"type:uuid;primaryKey"                    json:"id"`
	UserID               uuid.UUID        `gorm:"type:uuid;not null;index"                json:"userId"`
	Title                *string          `gorm:"size:300"                                json:"title"`
	UserSetTitle         bool             `gorm:"not null;default:false"                  json:"userSetTitle"`
	Pinned               bool             `gorm:"not null;default:false"                  json:"pinned"`
	GenerationStatus     GenerationStatus `gorm:"size:20;not null;default:'pending'"      json:"generationStatus"`
	BranchedFromThreadID *uuid.UUID       `gorm:"type:uuid;index"                         json:"branchedFromThreadId"`
	CreatedAt            time.Time        `                                               json:"createdAt"`
	UpdatedAt            time.Time        `                                               json:"updatedAt"`
	LastMessageAt        time.Time        `                                               json:"lastMessageAt"`

	// Associations
	Messages []Message `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName specifies the table name for Thread model
func (Thread) TableName() string {
	return "threads"
}

// BeforeCreate hook to ensure ID and lastMessageAt are set
func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.LastMessageAt.IsZero() {
		t.LastMessageAt = time.Now()
	}
	return nil
}

// TitleOrEmpty returns the title or "" when none was generated yet
func (t *Thread) TitleOrEmpty() string {
	if t.Title == nil {
		return ""
	}
	return *t.Title
}
