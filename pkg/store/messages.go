package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/reconcile"
)

// ListMessages returns the messages of a thread in creation order
func (s *Store) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := s.conn(ctx).Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, wrap(err, "listing messages")
}

// ApplyPlan commits a reconciliation plan for threadID in one transaction:
// stale rows are deleted, new rows inserted in order, the generation target
// is reset to pending and the submitted attachments owned by userID are
// linked to the final user message.
func (s *Store) ApplyPlan(ctx context.Context, userID, threadID uuid.UUID, plan reconcile.Plan, attachmentIDs []uuid.UUID) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if len(plan.ToInsert) > 0 {
			ids := make([]uuid.UUID, 0, len(plan.ToInsert))
			for _, m := range plan.ToInsert {
				ids = append(ids, m.ID)
			}
			var foreign int64
			if err := tx.Model(&models.Message{}).
				Where("id IN ? AND thread_id <> ?", ids, threadID).
				Count(&foreign).Error; err != nil {
				return wrap(err, "checking message ownership")
			}
			if foreign > 0 {
				return reconcile.ErrOwnershipViolation
			}
		}

		if len(plan.ToDelete) > 0 {
			ids := make([]uuid.UUID, 0, len(plan.ToDelete))
			for _, m := range plan.ToDelete {
				ids = append(ids, m.ID)
			}
			if err := deleteMessages(tx, threadID, ids); err != nil {
				return err
			}
		}

		if len(plan.ToInsert) > 0 {
			base, err := nextCreatedAt(tx, threadID)
			if err != nil {
				return err
			}
			rows := make([]models.Message, len(plan.ToInsert))
			copy(rows, plan.ToInsert)
			for i := range rows {
				rows[i].ThreadID = threadID
				rows[i].CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
				rows[i].UpdatedAt = base
			}
			if err := tx.Create(&rows).Error; err != nil {
				return wrap(err, "inserting messages")
			}
		}

		if plan.GenerationTargetID != uuid.Nil {
			if err := tx.Model(&models.Message{}).
				Where("id = ? AND thread_id = ?", plan.GenerationTargetID, threadID).
				Update("status", models.MessageStatusPending).Error; err != nil {
				return wrap(err, "resetting target status")
			}
		}

		if plan.AttachmentTargetID != uuid.Nil && len(attachmentIDs) > 0 {
			return linkAttachments(tx, userID, plan.AttachmentTargetID, attachmentIDs)
		}
		return nil
	})
}

// nextCreatedAt returns a timestamp strictly after every message of the thread
func nextCreatedAt(tx *gorm.DB, threadID uuid.UUID) (time.Time, error) {
	ts := now()
	var last models.Message
	err := tx.Where("thread_id = ?", threadID).Order("created_at DESC").First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ts, nil
		}
		return ts, wrap(err, "finding last message")
	}
	if !last.CreatedAt.Before(ts) {
		ts = last.CreatedAt.Add(time.Microsecond)
	}
	return ts, nil
}

func linkAttachments(tx *gorm.DB, userID, messageID uuid.UUID, attachmentIDs []uuid.UUID) error {
	var owned []uuid.UUID
	if err := tx.Model(&models.Attachment{}).
		Where("id IN ? AND user_id = ?", attachmentIDs, userID).
		Pluck("id", &owned).Error; err != nil {
		return wrap(err, "filtering attachments")
	}
	if len(owned) == 0 {
		return nil
	}
	links := make([]models.MessageAttachment, 0, len(owned))
	for _, id := range owned {
		links = append(links, models.MessageAttachment{MessageID: messageID, AttachmentID: id})
	}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	return wrap(err, "linking attachments")
}

// SetMessageStatus updates the status of a single message
func (s *Store) SetMessageStatus(ctx context.Context, messageID uuid.UUID, status models.MessageStatus) error {
	err := s.conn(ctx).Model(&models.Message{}).Where("id = ?", messageID).
		Update("status", status).Error
	return wrap(err, "updating message status")
}

// CompleteGeneration persists the assistant reply of a turn. The target user
// message becomes done, the reply is inserted after every existing message
// and only then is the thread marked completed.
func (s *Store) CompleteGeneration(ctx context.Context, threadID, targetID uuid.UUID, reply *models.Message) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).Where("id = ?", targetID).
			Update("status", models.MessageStatusDone).Error; err != nil {
			return wrap(err, "completing target message")
		}

		createdAt, err := nextCreatedAt(tx, threadID)
		if err != nil {
			return err
		}

		reply.ThreadID = threadID
		reply.Role = models.MessageRoleAssistant
		reply.Status = models.MessageStatusDone
		reply.CreatedAt = createdAt
		reply.UpdatedAt = createdAt
		if err := tx.Create(reply).Error; err != nil {
			return wrap(err, "inserting reply")
		}
		return updateThreadStatus(tx, threadID, models.GenerationStatusCompleted)
	})
}

// MessageAttachmentIDs returns the attachments linked to a message in a thread owned by userID
func (s *Store) MessageAttachmentIDs(ctx context.Context, userID, messageID uuid.UUID) ([]uuid.UUID, error) {
	var message models.Message
	err := s.conn(ctx).
		Joins("JOIN threads ON threads.id = messages.thread_id").
		Where("messages.id = ? AND threads.user_id = ?", messageID, userID).
		First(&message).Error
	if err != nil {
		return nil, wrap(err, "getting message")
	}
	ids := []uuid.UUID{}
	err = s.conn(ctx).Model(&models.MessageAttachment{}).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Pluck("attachment_id", &ids).Error
	return ids, wrap(err, "listing message attachments")
}

// AttachmentsForMessages returns the attachments linked to each of the given messages
func (s *Store) AttachmentsForMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.Attachment, error) {
	result := map[uuid.UUID][]models.Attachment{}
	if len(messageIDs) == 0 {
		return result, nil
	}
	var links []models.MessageAttachment
	if err := s.conn(ctx).Where("message_id IN ?", messageIDs).
		Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, wrap(err, "listing attachment links")
	}
	if len(links) == 0 {
		return result, nil
	}
	attachmentIDs := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		attachmentIDs = append(attachmentIDs, l.AttachmentID)
	}
	var attachments []models.Attachment
	if err := s.conn(ctx).Where("id IN ?", attachmentIDs).Find(&attachments).Error; err != nil {
		return nil, wrap(err, "listing attachments")
	}
	byID := make(map[uuid.UUID]models.Attachment, len(attachments))
	for _, a := range attachments {
		byID[a.ID] = a
	}
	for _, l := range links {
		if a, ok := byID[l.AttachmentID]; ok {
			result[l.MessageID] = append(result[l.MessageID], a)
		}
	}
	return result, nil
}

func deleteMessages(tx *gorm.DB, threadID uuid.UUID, ids []uuid.UUID) error {
	if err := tx.Where("message_id IN ?", ids).Delete(&models.MessageAttachment{}).Error; err != nil {
		return wrap(err, "deleting attachment links")
	}
	err := tx.Where("id IN ? AND thread_id = ?", ids, threadID).Delete(&models.Message{}).Error
	return wrap(err, "deleting messages")
}

func deleteMessagesOfThreads(tx *gorm.DB, threadIDs []uuid.UUID) error {
	if len(threadIDs) == 0 {
		return nil
	}
	messageIDs := tx.Model(&models.Message{}).Select("id").Where("thread_id IN ?", threadIDs)
	if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.MessageAttachment{}).Error; err != nil {
		return wrap(err, "deleting attachment links")
	}
	err := tx.Where("thread_id IN ?", threadIDs).Delete(&models.Message{}).Error
	return wrap(err, "deleting messages")
}
