package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/d4l-data4life/go-chat-host/pkg/cache"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
)

// PreferencesHandler handles user preferences and favorite models
type PreferencesHandler struct {
	*instrumented.Handler
	store *store.Store
	cache *cache.Cache
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(s *store.Store, c *cache.Cache) *PreferencesHandler {
	return &PreferencesHandler{
		Handler: GetHandlerFactory().NewHandler("PreferencesHandler"),
		store:   s,
		cache:   c,
	}
}

// Routes returns the routes mounted at /user-preferences
func (h *PreferencesHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get(h.InstrumentChi("/", h.GetPreferences))
	r.Patch(h.InstrumentChi("/", h.SavePreferences))
	r.Post(h.InstrumentChi("/", h.SavePreferences))
	r.Post(h.InstrumentChi("/last-selected-model", h.SetLastSelectedModel))

	return r
}

// FavoriteRoutes returns the routes mounted at /favorite-models
func (h *PreferencesHandler) FavoriteRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get(h.InstrumentChi("/", h.ListFavorites))
	r.Post(h.InstrumentChi("/", h.AddFavorite))
	r.Delete(h.InstrumentChi("/", h.RemoveFavorite))

	return r
}

// PreferencesRequest is the body of PATCH/POST /user-preferences
type PreferencesRequest struct {
	Name              string   `json:"name"`
	Occupation        string   `json:"occupation"`
	SelectedTraits    []string `json:"selectedTraits"`
	AdditionalInfo    string   `json:"additionalInfo"`
	LastSelectedModel string   `json:"lastSelectedModel"`
	StatsForNerds     bool     `json:"statsForNerds"`
}

// ModelRequest names a model by its catalog key
type ModelRequest struct {
	ModelID string `json:"modelId"`
}

var success = map[string]bool{"success": true}

// GetPreferences returns stored preferences or the defaults
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.store.GetPreferences(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err, "Preferences")
		return
	}
	render.JSON(w, r, prefs)
}

// SavePreferences replaces the preferences; overlong values are cut to their limits
func (h *PreferencesHandler) SavePreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	traits := req.SelectedTraits
	if traits == nil {
		traits = []string{}
	}
	prefs := models.UserPreferences{
		UserID:            GetUserIDFromContext(r.Context()),
		Name:              req.Name,
		Occupation:        req.Occupation,
		SelectedTraits:    traits,
		AdditionalInfo:    req.AdditionalInfo,
		LastSelectedModel: req.LastSelectedModel,
		StatsForNerds:     req.StatsForNerds,
	}
	if err := h.store.SavePreferences(r.Context(), &prefs); err != nil {
		handleError(w, r, err, "Preferences")
		return
	}
	render.JSON(w, r, success)
}

// SetLastSelectedModel remembers the model picked in the UI
func (h *PreferencesHandler) SetLastSelectedModel(w http.ResponseWriter, r *http.Request) {
	modelID, ok := h.modelID(w, r)
	if !ok {
		return
	}
	if err := h.store.SetLastSelectedModel(r.Context(), GetUserIDFromContext(r.Context()), modelID); err != nil {
		handleError(w, r, err, "Preferences")
		return
	}
	render.JSON(w, r, success)
}

// ListFavorites returns the pinned model keys
func (h *PreferencesHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	favorites, err := cache.GetOrLoad(h.cache, cache.FavoritesKey(userID.String()), func() ([]string, error) {
		return h.store.ListFavorites(r.Context(), userID)
	})
	if err != nil {
		handleError(w, r, err, "Favorites")
		return
	}
	render.JSON(w, r, favorites)
}

// AddFavorite pins a model; pinning twice is a conflict
func (h *PreferencesHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	modelID, ok := h.modelID(w, r)
	if !ok {
		return
	}
	userID := GetUserIDFromContext(r.Context())
	if err := h.store.AddFavorite(r.Context(), userID, modelID); err != nil {
		handleError(w, r, err, "Favorite model")
		return
	}
	h.invalidateFavorites(userID)
	render.JSON(w, r, success)
}

// RemoveFavorite unpins a model
func (h *PreferencesHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	modelID, ok := h.modelID(w, r)
	if !ok {
		return
	}
	userID := GetUserIDFromContext(r.Context())
	if err := h.store.RemoveFavorite(r.Context(), userID, modelID); err != nil {
		handleError(w, r, err, "Favorite model")
		return
	}
	h.invalidateFavorites(userID)
	render.JSON(w, r, success)
}

func (h *PreferencesHandler) modelID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ModelRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Model ID is required")
		return "", false
	}
	return modelID, true
}

func (h *PreferencesHandler) invalidateFavorites(userID uuid.UUID) {
	h.cache.Invalidate(cache.FavoritesKey(userID.String()))
}
