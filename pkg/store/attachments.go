package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

// CreateAttachment stores the metadata of an uploaded blob
func (s *Store) CreateAttachment(ctx context.Context, attachment *models.Attachment) error {
	return wrap(s.conn(ctx).Create(attachment).Error, "creating attachment")
}

// GetAttachment returns an attachment owned by userID
func (s *Store) GetAttachment(ctx context.Context, userID, attachmentID uuid.UUID) (*models.Attachment, error) {
	var attachment models.Attachment
	err := s.conn(ctx).Where("id = ? AND user_id = ?", attachmentID, userID).First(&attachment).Error
	if err != nil {
		return nil, wrap(err, "getting attachment")
	}
	return &attachment, nil
}

// GetAttachmentByPath returns the attachment stored at a blob path, owned by userID
func (s *Store) GetAttachmentByPath(ctx context.Context, userID uuid.UUID, path string) (*models.Attachment, error) {
	var attachment models.Attachment
	err := s.conn(ctx).Where("attachment_url = ? AND user_id = ?", path, userID).First(&attachment).Error
	if err != nil {
		return nil, wrap(err, "getting attachment")
	}
	return &attachment, nil
}

// ListAttachments returns the attachments among ids that userID owns, in no particular order
func (s *Store) ListAttachments(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.Attachment, error) {
	attachments := []models.Attachment{}
	if len(ids) == 0 {
		return attachments, nil
	}
	err := s.conn(ctx).Where("id IN ? AND user_id = ?", ids, userID).Find(&attachments).Error
	return attachments, wrap(err, "listing attachments")
}

// DeleteAttachment removes the attachment row and every link to it
func (s *Store) DeleteAttachment(ctx context.Context, userID, attachmentID uuid.UUID) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var attachment models.Attachment
		if err := tx.Where("id = ? AND user_id = ?", attachmentID, userID).First(&attachment).Error; err != nil {
			return wrap(err, "getting attachment")
		}
		if err := tx.Where("attachment_id = ?", attachmentID).Delete(&models.MessageAttachment{}).Error; err != nil {
			return wrap(err, "deleting message links")
		}
		if err := tx.Where("attachment_id = ?", attachmentID).Delete(&models.SharedMessageAttachment{}).Error; err != nil {
			return wrap(err, "deleting share links")
		}
		return wrap(tx.Delete(&attachment).Error, "deleting attachment")
	})
}
