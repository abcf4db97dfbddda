package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

// CreateUser inserts a user; ErrConflict when the username or email is taken
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	err := s.conn(ctx).Create(user).Error
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return wrap(err, "creating user")
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, wrap(err, "getting user")
	}
	return &user, nil
}

// FindUserByLogin returns the user whose username or email equals login
func (s *Store) FindUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var user models.User
	err := s.conn(ctx).Where("username = ? OR email = ?", login, login).First(&user).Error
	if err != nil {
		return nil, wrap(err, "getting user")
	}
	return &user, nil
}

// ListUsers returns all users ordered by creation time
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.conn(ctx).Order("created_at ASC").Find(&users).Error
	return users, wrap(err, "listing users")
}

// DeleteUser removes a user together with everything the user owns: threads
// and their messages, attachments, favorites, preferences and shares
func (s *Store) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return wrap(err, "getting user")
		}

		var threadIDs []uuid.UUID
		if err := tx.Model(&models.Thread{}).Where("user_id = ?", userID).Pluck("id", &threadIDs).Error; err != nil {
			return wrap(err, "listing threads")
		}
		var shareIDs []uuid.UUID
		if err := tx.Model(&models.SharedChat{}).Where("owner_id = ?", userID).Pluck("id", &shareIDs).Error; err != nil {
			return wrap(err, "listing shares")
		}
		if err := deleteShares(tx, shareIDs); err != nil {
			return err
		}
		if len(threadIDs) > 0 {
			if err := tx.Model(&models.Thread{}).
				Where("branched_from_thread_id IN ?", threadIDs).
				Update("branched_from_thread_id", nil).Error; err != nil {
				return wrap(err, "clearing branch references")
			}
			if err := deleteMessagesOfThreads(tx, threadIDs); err != nil {
				return err
			}
			if err := tx.Where("id IN ?", threadIDs).Delete(&models.Thread{}).Error; err != nil {
				return wrap(err, "deleting threads")
			}
		}

		attachmentIDs := tx.Model(&models.Attachment{}).Select("id").Where("user_id = ?", userID)
		if err := tx.Where("attachment_id IN (?)", attachmentIDs).Delete(&models.MessageAttachment{}).Error; err != nil {
			return wrap(err, "deleting attachment links")
		}
		if err := tx.Where("attachment_id IN (?)", attachmentIDs).Delete(&models.SharedMessageAttachment{}).Error; err != nil {
			return wrap(err, "deleting shared attachment links")
		}
		for _, model := range []interface{}{&models.Attachment{}, &models.FavoriteModel{}, &models.UserPreferences{}} {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return wrap(err, "deleting user data")
			}
		}
		return wrap(tx.Delete(&user).Error, "deleting user")
	})
}

// ListUserAttachmentPaths returns the blob paths of every attachment of a user
func (s *Store) ListUserAttachmentPaths(ctx context.Context, userID uuid.UUID) ([]string, error) {
	paths := []string{}
	err := s.conn(ctx).Model(&models.Attachment{}).Where("user_id = ?", userID).
		Pluck("attachment_url", &paths).Error
	return paths, wrap(err, "listing attachment paths")
}
