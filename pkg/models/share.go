package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SharedChat is a public, immutable snapshot of a thread
type SharedChat struct {
	BaseModel
	ShareID          string    `gorm:"size:12;not null;uniqueIndex"  json:"shareId"`
	OriginalThreadID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"originalThreadId"`
	OwnerID          uuid.UUID `gorm:"type:uuid;not null;index"      json:"ownerId"`
	Name             string    `gorm:"size:100"                      json:"name"`

	Messages []SharedMessage `gorm:"foreignKey:SharedChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName specifies the table name for SharedChat model
func (SharedChat) TableName() string {
	return "shared_chats"
}

// BeforeCreate sets the IDs of a new share
func (s *SharedChat) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.ShareID == "" {
		s.ShareID = NewShareID()
	}
	return nil
}

// NewShareID returns a short public identifier: the first 12 hex digits of a random UUID
func NewShareID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SharedMessage is a frozen copy of a message at share time
type SharedMessage struct {
	BaseModel
	SharedChatID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"sharedChatId"`
	OriginalMessageID uuid.UUID      `gorm:"type:uuid;not null"       json:"originalMessageId"`
	Role              MessageRole    `gorm:"size:20;not null"         json:"role"`
	Parts             datatypes.JSON `gorm:"not null"                 json:"parts"`
	Usage             *Usage         `gorm:"serializer:json"          json:"usage,omitempty"`
	Model             string         `gorm:"size:100"                 json:"model"`
	GenerationStartAt *time.Time     `                                json:"generationStartAt,omitempty"`
	GenerationEndAt   *time.Time     `                                json:"generationEndAt,omitempty"`
	OriginalCreatedAt time.Time      `                                json:"originalCreatedAt"`
}

// DecodedParts returns the frozen parts as message parts
func (m *SharedMessage) DecodedParts() (Parts, error) {
	var parts Parts
	if len(m.Parts) == 0 {
		return Parts{}, nil
	}
	if err := json.Unmarshal(m.Parts, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// TableName specifies the table name for SharedMessage model
func (SharedMessage) TableName() string {
	return "shared_messages"
}

// SharedMessageAttachment links a shared message to the attachments of its original
type SharedMessageAttachment struct {
	SharedMessageID uuid.UUID `gorm:"type:uuid;primaryKey" json:"sharedMessageId"`
	AttachmentID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"attachmentId"`
}

// TableName specifies the table name for SharedMessageAttachment model
func (SharedMessageAttachment) TableName() string {
	return "shared_message_attachments"
}
