package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageRole defines the possible roles for a persisted message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageStatus defines the lifecycle of a message
type MessageStatus string

const (
	// MessageStatusPending is the last user message of a turn whose reply is not persisted yet
	MessageStatusPending MessageStatus = "pending"
	MessageStatusDone    MessageStatus = "done"
	// MessageStatusWaiting marks a user message whose generation failed and needs a retry
	MessageStatusWaiting MessageStatus = "waiting"
)

// Usage holds token counts reported by a provider
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Message represents a single message in a thread
type Message struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey"                  json:"id"`
	ThreadID          uuid.UUID     `gorm:"type:uuid;not null;index"              json:"threadId"`
	Role              MessageRole   `gorm:"size:20;not null"                      json:"role"`
	Status            MessageStatus `gorm:"size:20;not null;default:'pending'"    json:"status"`
	Parts             Parts         `gorm:"serializer:json;not null"              json:"parts"`
	Usage             *Usage        `gorm:"serializer:json"                       json:"usage,omitempty"`
	Model             string        `gorm:"size:100;not null"                     json:"model"`
	GenerationStartAt *time.Time    `                                             json:"generationStartAt,omitempty"`
	GenerationEndAt   *time.Time    `                                             json:"generationEndAt,omitempty"`
	CreatedAt         time.Time     `gorm:"index"                                 json:"createdAt"`
	UpdatedAt         time.Time     `                                             json:"updatedAt"`
}

// TableName specifies the table name for Message model
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate hook to ensure ID is set
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Parts == nil {
		m.Parts = Parts{}
	}
	return nil
}

// Text returns the concatenated text parts of the message
func (m *Message) Text() string {
	return ExtractText(m.Parts)
}

// MessageAttachment links an attachment to the message it was submitted with
type MessageAttachment struct {
	MessageID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"messageId"`
	AttachmentID uuid.UUID `gorm:"type:uuid;primaryKey" json:"attachmentId"`
	CreatedAt    time.Time `                            json:"createdAt"`
}

// TableName specifies the table name for MessageAttachment model
func (MessageAttachment) TableName() string {
	return "message_attachments"
}
