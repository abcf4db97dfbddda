package models

import (
	"time"

	"github.com/google/uuid"
)

// Limits applied when preferences are stored
const (
	MaxPreferenceNameLength       = 50
	MaxPreferenceOccupationLength = 100
	MaxPreferenceTraits           = 50
	MaxPreferenceTraitLength      = 100
	MaxPreferenceAdditionalInfo   = 3000
)

// UserPreferences personalize the system prompt and remember UI choices
type UserPreferences struct {
	UserID            uuid.UUID `gorm:"type:uuid;primaryKey"            json:"userId"`
	Name              string    `gorm:"size:50"                         json:"name"`
	Occupation        string    `gorm:"size:100"                        json:"occupation"`
	SelectedTraits    []string  `gorm:"serializer:json"                 json:"selectedTraits"`
	AdditionalInfo    string    `gorm:"size:3000"                       json:"additionalInfo"`
	LastSelectedModel string    `gorm:"size:100"                        json:"lastSelectedModel,omitempty"`
	StatsForNerds     bool      `gorm:"not null;default:false"          json:"statsForNerds"`
	CreatedAt         time.Time `                                       json:"createdAt"`
	UpdatedAt         time.Time `                                       json:"updatedAt"`
}

// TableName specifies the table name for UserPreferences model
func (UserPreferences) TableName() string {
	return "user_preferences"
}

// Truncate cuts every field down to its storage limit
func (p *UserPreferences) Truncate() {
	p.Name = truncateRunes(p.Name, MaxPreferenceNameLength)
	p.Occupation = truncateRunes(p.Occupation, MaxPreferenceOccupationLength)
	p.AdditionalInfo = truncateRunes(p.AdditionalInfo, MaxPreferenceAdditionalInfo)
	if len(p.SelectedTraits) > MaxPreferenceTraits {
		p.SelectedTraits = p.SelectedTraits[:MaxPreferenceTraits]
	}
	traits := make([]string, 0, len(p.SelectedTraits))
	for _, trait := range p.SelectedTraits {
		traits = append(traits, truncateRunes(trait, MaxPreferenceTraitLength))
	}
	p.SelectedTraits = traits
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// FavoriteModel is a model key a user pinned in the model picker
type FavoriteModel struct {
	BaseModel
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_favorite_user_model" json:"userId"`
	ModelKey string    `gorm:"size:100;not null;uniqueIndex:idx_favorite_user_model"  json:"modelKey"`
}

// TableName specifies the table name for FavoriteModel model
func (FavoriteModel) TableName() string {
	return "favorite_models"
}
