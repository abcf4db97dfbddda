package models

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AttachmentStatus tracks the upload state of an attachment
type AttachmentStatus string

const (
	AttachmentStatusPending  AttachmentStatus = "pending"
	AttachmentStatusUploaded AttachmentStatus = "uploaded"
)

// AttachmentType classifies attachments by how providers consume them
type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypePDF   AttachmentType = "pdf"
	AttachmentTypeFile  AttachmentType = "file"
)

// Attachment is a file uploaded by a user and referenced from messages by id
type Attachment struct {
	BaseModel
	UserID         uuid.UUID        `gorm:"type:uuid;not null;index"          json:"userId"`
	Status         AttachmentStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	AttachmentType AttachmentType   `gorm:"size:20;not null"                  json:"attachmentType"`
	AttachmentURL  string           `gorm:"size:500"                          json:"attachmentUrl"`
	FileName       string           `gorm:"size:255"                          json:"fileName"`
	MimeType       string           `gorm:"size:100"                          json:"mimeType"`
	FileSize       int64            `                                         json:"fileSize"`
}

// TableName specifies the table name for Attachment model
func (Attachment) TableName() string {
	return "attachments"
}

// AttachmentTypeFor derives the attachment type from a mime type
func AttachmentTypeFor(mimeType string) AttachmentType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AttachmentTypeImage
	case mimeType == "application/pdf":
		return AttachmentTypePDF
	default:
		return AttachmentTypeFile
	}
}

// StoragePath is the blob key of the attachment: {userId}/{id}{ext}
func (a *Attachment) StoragePath() string {
	return a.UserID.String() + "/" + a.ID.String() + strings.ToLower(filepath.Ext(a.FileName))
}
