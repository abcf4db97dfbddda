package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
)

// GetPreferences returns the stored preferences of a user, or defaults when
// nothing was saved yet
func (s *Store) GetPreferences(ctx context.Context, userID uuid.UUID) (*models.UserPreferences, error) {
	var prefs models.UserPreferences
	err := s.conn(ctx).Where("user_id = ?", userID).Limit(1).Find(&prefs).Error
	if err != nil {
		return nil, wrap(err, "getting preferences")
	}
	if prefs.UserID == uuid.Nil {
		prefs = models.UserPreferences{UserID: userID, SelectedTraits: []string{}}
	}
	return &prefs, nil
}

// SavePreferences truncates and upserts the preferences of prefs.UserID
func (s *Store) SavePreferences(ctx context.Context, prefs *models.UserPreferences) error {
	prefs.Truncate()
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "occupation", "selected_traits", "additional_info",
			"last_selected_model", "stats_for_nerds", "updated_at",
		}),
	}).Create(prefs).Error
	return wrap(err, "saving preferences")
}

// SetLastSelectedModel remembers the model a user chatted with last
func (s *Store) SetLastSelectedModel(ctx context.Context, userID uuid.UUID, model string) error {
	prefs := models.UserPreferences{UserID: userID, SelectedTraits: []string{}, LastSelectedModel: model}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_selected_model", "updated_at"}),
	}).Create(&prefs).Error
	return wrap(err, "saving last selected model")
}

// ListFavorites returns the favorite model keys of a user in insertion order
func (s *Store) ListFavorites(ctx context.Context, userID uuid.UUID) ([]string, error) {
	keys := []string{}
	err := s.conn(ctx).Model(&models.FavoriteModel{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Pluck("model_key", &keys).Error
	return keys, wrap(err, "listing favorites")
}

// AddFavorite pins a model for a user; ErrConflict when it is already pinned
func (s *Store) AddFavorite(ctx context.Context, userID uuid.UUID, modelKey string) error {
	var count int64
	if err := s.conn(ctx).Model(&models.FavoriteModel{}).
		Where("user_id = ? AND model_key = ?", userID, modelKey).
		Count(&count).Error; err != nil {
		return wrap(err, "checking favorite")
	}
	if count > 0 {
		return ErrConflict
	}
	err := s.conn(ctx).Create(&models.FavoriteModel{UserID: userID, ModelKey: modelKey}).Error
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return wrap(err, "adding favorite")
}

// RemoveFavorite unpins a model; removing a model that is not pinned is not an error
func (s *Store) RemoveFavorite(ctx context.Context, userID uuid.UUID, modelKey string) error {
	err := s.conn(ctx).Where("user_id = ? AND model_key = ?", userID, modelKey).
		Delete(&models.FavoriteModel{}).Error
	return wrap(err, "removing favorite")
}

// uniqueViolation is the postgres SQLSTATE of a duplicate key
const uniqueViolation = "23505"

// isUniqueViolation recognises duplicate key errors of postgres and sqlite
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
