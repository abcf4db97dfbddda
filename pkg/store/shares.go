package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

// SharedChatView is a share together with what is needed to render it
type SharedChatView struct {
	Share       models.SharedChat
	Thread      models.Thread
	Messages    []models.SharedMessage
	Attachments map[uuid.UUID][]models.Attachment
}

// GetShareOfThread returns the share of a thread owned by userID with its message count
func (s *Store) GetShareOfThread(ctx context.Context, userID, threadID uuid.UUID) (*models.SharedChat, int64, error) {
	if _, err := s.GetThread(ctx, userID, threadID); err != nil {
		return nil, 0, err
	}
	var share models.SharedChat
	if err := s.conn(ctx).Where("original_thread_id = ?", threadID).First(&share).Error; err != nil {
		return nil, 0, wrap(err, "getting share")
	}
	var count int64
	err := s.conn(ctx).Model(&models.SharedMessage{}).Where("shared_chat_id = ?", share.ID).Count(&count).Error
	return &share, count, wrap(err, "counting shared messages")
}

// ShareThread creates or refreshes the public snapshot of a thread. An empty
// name keeps the name of an existing share.
func (s *Store) ShareThread(ctx context.Context, userID, threadID uuid.UUID, name string) (*models.SharedChat, int, error) {
	var share models.SharedChat
	var count int
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var thread models.Thread
		if err := tx.Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error; err != nil {
			return wrap(err, "getting thread")
		}
		var messages []models.Message
		if err := tx.Where("thread_id = ?", threadID).Order("created_at ASC").Find(&messages).Error; err != nil {
			return wrap(err, "listing messages")
		}

		err := tx.Where("original_thread_id = ?", threadID).First(&share).Error
		switch {
		case err == nil:
			updates := map[string]interface{}{"updated_at": now()}
			if name != "" {
				updates["name"] = name
			}
			if err := tx.Model(&share).Updates(updates).Error; err != nil {
				return wrap(err, "updating share")
			}
			if err := deleteSharedMessages(tx, []uuid.UUID{share.ID}); err != nil {
				return err
			}
		case isNotFound(err):
			share = models.SharedChat{OriginalThreadID: threadID, OwnerID: userID, Name: name}
			if err := tx.Create(&share).Error; err != nil {
				return wrap(err, "creating share")
			}
		default:
			return wrap(err, "getting share")
		}

		count = len(messages)
		return snapshotMessages(tx, share.ID, messages)
	})
	if err != nil {
		return nil, 0, err
	}
	return &share, count, nil
}

func snapshotMessages(tx *gorm.DB, sharedChatID uuid.UUID, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	base := now()
	snapshot := make([]models.SharedMessage, 0, len(messages))
	idMap := make(map[uuid.UUID]uuid.UUID, len(messages))
	for i, m := range messages {
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return wrap(err, "encoding parts")
		}
		sm := models.SharedMessage{
			SharedChatID:      sharedChatID,
			OriginalMessageID: m.ID,
			Role:              m.Role,
			Parts:             parts,
			Usage:             m.Usage,
			Model:             m.Model,
			GenerationStartAt: m.GenerationStartAt,
			GenerationEndAt:   m.GenerationEndAt,
			OriginalCreatedAt: m.CreatedAt,
		}
		sm.ID = uuid.New()
		sm.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		idMap[m.ID] = sm.ID
		snapshot = append(snapshot, sm)
	}
	if err := tx.Create(&snapshot).Error; err != nil {
		return wrap(err, "creating shared messages")
	}

	var links []models.MessageAttachment
	if err := tx.Where("message_id IN ?", keys(idMap)).Find(&links).Error; err != nil {
		return wrap(err, "listing attachment links")
	}
	if len(links) == 0 {
		return nil
	}
	shared := make([]models.SharedMessageAttachment, 0, len(links))
	for _, l := range links {
		shared = append(shared, models.SharedMessageAttachment{SharedMessageID: idMap[l.MessageID], AttachmentID: l.AttachmentID})
	}
	return wrap(tx.Create(&shared).Error, "creating shared attachment links")
}

// DeleteShareOfThread removes the share of a thread owned by userID
func (s *Store) DeleteShareOfThread(ctx context.Context, userID, threadID uuid.UUID) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var thread models.Thread
		if err := tx.Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error; err != nil {
			return wrap(err, "getting thread")
		}
		var share models.SharedChat
		if err := tx.Where("original_thread_id = ?", threadID).First(&share).Error; err != nil {
			return wrap(err, "getting share")
		}
		return deleteShares(tx, []uuid.UUID{share.ID})
	})
}

// GetSharedChat loads a share by its public id; no ownership applies
func (s *Store) GetSharedChat(ctx context.Context, shareID string) (*SharedChatView, error) {
	view := SharedChatView{Attachments: map[uuid.UUID][]models.Attachment{}}
	if err := s.conn(ctx).Where("share_id = ?", shareID).First(&view.Share).Error; err != nil {
		return nil, wrap(err, "getting share")
	}
	if err := s.conn(ctx).Where("id = ?", view.Share.OriginalThreadID).First(&view.Thread).Error; err != nil {
		return nil, wrap(err, "getting shared thread")
	}
	if err := s.conn(ctx).Where("shared_chat_id = ?", view.Share.ID).
		Order("created_at ASC").Find(&view.Messages).Error; err != nil {
		return nil, wrap(err, "listing shared messages")
	}
	if len(view.Messages) == 0 {
		return &view, nil
	}

	ids := make([]uuid.UUID, 0, len(view.Messages))
	for _, m := range view.Messages {
		ids = append(ids, m.ID)
	}
	var links []models.SharedMessageAttachment
	if err := s.conn(ctx).Where("shared_message_id IN ?", ids).Find(&links).Error; err != nil {
		return nil, wrap(err, "listing shared attachment links")
	}
	if len(links) == 0 {
		return &view, nil
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
			view.Attachments[l.SharedMessageID] = append(view.Attachments[l.SharedMessageID], a)
		}
	}
	return &view, nil
}

// CloneSharedChat copies a share into a new completed thread owned by userID
func (s *Store) CloneSharedChat(ctx context.Context, userID uuid.UUID, shareID string) (*models.Thread, int, error) {
	view, err := s.GetSharedChat(ctx, shareID)
	if err != nil {
		return nil, 0, err
	}

	thread := models.Thread{
		ID:               uuid.New(),
		UserID:           userID,
		Title:            view.Thread.Title,
		GenerationStatus: models.GenerationStatusCompleted,
	}
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&thread).Error; err != nil {
			return wrap(err, "creating thread")
		}
		if len(view.Messages) == 0 {
			return nil
		}
		base := now()
		messages := make([]models.Message, 0, len(view.Messages))
		var links []models.MessageAttachment
		for i, sm := range view.Messages {
			parts, err := sm.DecodedParts()
			if err != nil {
				return wrap(err, "decoding shared parts")
			}
			m := models.Message{
				ID:                uuid.New(),
				ThreadID:          thread.ID,
				Role:              sm.Role,
				Status:            models.MessageStatusDone,
				Parts:             parts,
				Usage:             sm.Usage,
				Model:             sm.Model,
				GenerationStartAt: sm.GenerationStartAt,
				GenerationEndAt:   sm.GenerationEndAt,
				CreatedAt:         base.Add(time.Duration(i) * time.Microsecond),
				UpdatedAt:         base,
			}
			messages = append(messages, m)
			for _, a := range view.Attachments[sm.ID] {
				links = append(links, models.MessageAttachment{MessageID: m.ID, AttachmentID: a.ID})
			}
		}
		if err := tx.Create(&messages).Error; err != nil {
			return wrap(err, "copying shared messages")
		}
		if len(links) > 0 {
			return wrap(tx.Create(&links).Error, "copying attachment links")
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &thread, len(view.Messages), nil
}

func deleteSharesOfThread(tx *gorm.DB, threadID uuid.UUID) error {
	var ids []uuid.UUID
	if err := tx.Model(&models.SharedChat{}).Where("original_thread_id = ?", threadID).Pluck("id", &ids).Error; err != nil {
		return wrap(err, "listing shares")
	}
	return deleteShares(tx, ids)
}

func deleteShares(tx *gorm.DB, shareIDs []uuid.UUID) error {
	if len(shareIDs) == 0 {
		return nil
	}
	if err := deleteSharedMessages(tx, shareIDs); err != nil {
		return err
	}
	return wrap(tx.Where("id IN ?", shareIDs).Delete(&models.SharedChat{}).Error, "deleting shares")
}

func deleteSharedMessages(tx *gorm.DB, shareIDs []uuid.UUID) error {
	messageIDs := tx.Model(&models.SharedMessage{}).Select("id").Where("shared_chat_id IN ?", shareIDs)
	if err := tx.Where("shared_message_id IN (?)", messageIDs).Delete(&models.SharedMessageAttachment{}).Error; err != nil {
		return wrap(err, "deleting shared attachment links")
	}
	err := tx.Where("shared_chat_id IN ?", shareIDs).Delete(&models.SharedMessage{}).Error
	return wrap(err, "deleting shared messages")
}

func isNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}
