package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

// ThreadPatch carries the optional fields of a thread update
type ThreadPatch struct {
	Title  *string
	Pinned *bool
	// SetBranch distinguishes "leave as is" from "set to null"
	SetBranch            bool
	BranchedFromThreadID *uuid.UUID
}

// ListThreads returns the threads of a user, most recently updated first
func (s *Store) ListThreads(ctx context.Context, userID uuid.UUID) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.conn(ctx).Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&threads).Error
	return threads, wrap(err, "listing threads")
}

// GetThread returns a thread owned by userID
func (s *Store) GetThread(ctx context.Context, userID, threadID uuid.UUID) (*models.Thread, error) {
	var thread models.Thread
	err := s.conn(ctx).Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error
	if err != nil {
		return nil, wrap(err, "getting thread")
	}
	return &thread, nil
}

// EnsureThread returns the requested thread when the user owns it. Otherwise a
// new thread with a server-assigned id is created; the caller learns the id
// from the returned thread.
func (s *Store) EnsureThread(ctx context.Context, userID uuid.UUID, requested *uuid.UUID) (*models.Thread, bool, error) {
	if requested != nil && *requested != uuid.Nil {
		thread, err := s.GetThread(ctx, userID, *requested)
		if err == nil {
			return thread, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	thread := models.Thread{
		ID:               uuid.New(),
		UserID:           userID,
		GenerationStatus: models.GenerationStatusPending,
	}
	if err := s.conn(ctx).Create(&thread).Error; err != nil {
		return nil, false, wrap(err, "creating thread")
	}
	return &thread, true, nil
}

// SetGeneratedTitle stores an automatic title unless the thread already has one
func (s *Store) SetGeneratedTitle(ctx context.Context, threadID uuid.UUID, title string) error {
	err := s.conn(ctx).Model(&models.Thread{}).
		Where("id = ? AND (title IS NULL OR title = '') AND user_set_title = ?", threadID, false).
		Updates(map[string]interface{}{"title": title, "user_set_title": false, "updated_at": now()}).Error
	return wrap(err, "setting thread title")
}

// UpdateThreadStatus moves the generation status and touches lastMessageAt
func (s *Store) UpdateThreadStatus(ctx context.Context, threadID uuid.UUID, status models.GenerationStatus) error {
	return updateThreadStatus(s.conn(ctx), threadID, status)
}

func updateThreadStatus(tx *gorm.DB, threadID uuid.UUID, status models.GenerationStatus) error {
	ts := now()
	err := tx.Model(&models.Thread{}).Where("id = ?", threadID).
		Updates(map[string]interface{}{
			"generation_status": status,
			"last_message_at":   ts,
			"updated_at":        ts,
		}).Error
	return wrap(err, "updating thread status")
}

// UpdateThread applies a patch to a thread owned by userID. A title set here
// is marked as user-set and is never overwritten by title generation.
func (s *Store) UpdateThread(ctx context.Context, userID, threadID uuid.UUID, patch ThreadPatch) (*models.Thread, error) {
	thread, err := s.GetThread(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": now()}
	if patch.Title != nil {
		updates["title"] = *patch.Title
		updates["user_set_title"] = true
	}
	if patch.Pinned != nil {
		updates["pinned"] = *patch.Pinned
	}
	if patch.SetBranch {
		updates["branched_from_thread_id"] = patch.BranchedFromThreadID
	}
	if err := s.conn(ctx).Model(thread).Updates(updates).Error; err != nil {
		return nil, wrap(err, "updating thread")
	}
	return s.GetThread(ctx, userID, threadID)
}

// DeleteThread removes a thread with its messages, attachment links and share.
// Threads branched from it lose their back-reference in the same transaction.
func (s *Store) DeleteThread(ctx context.Context, userID, threadID uuid.UUID) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var thread models.Thread
		if err := tx.Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error; err != nil {
			return wrap(err, "getting thread")
		}
		if err := tx.Model(&models.Thread{}).
			Where("branched_from_thread_id = ?", threadID).
			Update("branched_from_thread_id", nil).Error; err != nil {
			return wrap(err, "clearing branch references")
		}
		if err := deleteSharesOfThread(tx, threadID); err != nil {
			return err
		}
		if err := deleteMessagesOfThreads(tx, []uuid.UUID{threadID}); err != nil {
			return err
		}
		return wrap(tx.Delete(&thread).Error, "deleting thread")
	})
}

// SplitThread copies every message up to and including messageID into a new
// completed thread that points back to the original
func (s *Store) SplitThread(ctx context.Context, userID, threadID, messageID uuid.UUID) (*models.Thread, error) {
	var branch models.Thread
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var origin models.Thread
		if err := tx.Where("id = ? AND user_id = ?", threadID, userID).First(&origin).Error; err != nil {
			return wrap(err, "getting thread")
		}
		var target models.Message
		if err := tx.Where("id = ? AND thread_id = ?", messageID, threadID).First(&target).Error; err != nil {
			return wrap(err, "getting message")
		}
		var source []models.Message
		if err := tx.Where("thread_id = ? AND created_at <= ?", threadID, target.CreatedAt).
			Order("created_at ASC").Find(&source).Error; err != nil {
			return wrap(err, "listing messages")
		}

		branch = models.Thread{
			ID:                   uuid.New(),
			UserID:               userID,
			Title:                origin.Title,
			GenerationStatus:     models.GenerationStatusCompleted,
			BranchedFromThreadID: &origin.ID,
		}
		if err := tx.Create(&branch).Error; err != nil {
			return wrap(err, "creating branch")
		}
		return copyMessages(tx, branch.ID, source, nil)
	})
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

// copyMessages clones messages into threadID with fresh ids, keeping their
// order and attachment links. A non-nil status overrides the copied one.
func copyMessages(tx *gorm.DB, threadID uuid.UUID, source []models.Message, status *models.MessageStatus) error {
	if len(source) == 0 {
		return nil
	}
	base := now()
	copies := make([]models.Message, 0, len(source))
	idMap := make(map[uuid.UUID]uuid.UUID, len(source))
	for i, m := range source {
		c := m
		c.ID = uuid.New()
		c.ThreadID = threadID
		c.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		c.UpdatedAt = base
		if status != nil {
			c.Status = *status
		}
		idMap[m.ID] = c.ID
		copies = append(copies, c)
	}
	if err := tx.Create(&copies).Error; err != nil {
		return wrap(err, "copying messages")
	}

	var links []models.MessageAttachment
	if err := tx.Where("message_id IN ?", keys(idMap)).Find(&links).Error; err != nil {
		return wrap(err, "listing attachment links")
	}
	if len(links) == 0 {
		return nil
	}
	copied := make([]models.MessageAttachment, 0, len(links))
	for _, l := range links {
		copied = append(copied, models.MessageAttachment{MessageID: idMap[l.MessageID], AttachmentID: l.AttachmentID})
	}
	return wrap(tx.Create(&copied).Error, "copying attachment links")
}

func keys(m map[uuid.UUID]uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
