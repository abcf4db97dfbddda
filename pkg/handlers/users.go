package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/d4l-data4life/go-chat-host/pkg/cache"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// UsersHandler handles user management endpoints for other services
type UsersHandler struct {
	*instrumented.Handler
	store *store.Store
	blobs storage.BlobStore
	cache *cache.Cache
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(s *store.Store, blobs storage.BlobStore, c *cache.Cache) *UsersHandler {
	return &UsersHandler{
		Handler: GetHandlerFactory().NewHandler("UsersHandler"),
		store:   s,
		blobs:   blobs,
		cache:   c,
	}
}

// Routes returns user management routes
func (h *UsersHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get(h.InstrumentChi("/", h.ListUsers))
	r.Delete(h.InstrumentChi("/{id}", h.DeleteUser))

	return r
}

// ListUsers returns all users in the system
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		handleError(w, r, err, "Users")
		return
	}

	publicUsers := make([]models.PublicUser, len(users))
	for i, user := range users {
		publicUsers[i] = user.ToPublic()
	}
	render.JSON(w, r, publicUsers)
}

// DeleteUser deletes a user with all threads, attachments, favorites and
// shares. Attachment blobs are removed after the rows are gone.
func (h *UsersHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := urlUUID(w, r, "id", "user")
	if !ok {
		return
	}
	ctx := r.Context()

	paths, err := h.store.ListUserAttachmentPaths(ctx, userID)
	if err != nil {
		handleError(w, r, err, "User")
		return
	}
	if err := h.store.DeleteUser(ctx, userID); err != nil {
		handleError(w, r, err, "User")
		return
	}
	for _, path := range paths {
		if err := h.blobs.Remove(ctx, path); err != nil {
			logging.LogWarningf(err, "Failed to remove blob %s of deleted user", path)
		}
	}
	h.cache.Invalidate(cache.FavoritesKey(userID.String()))

	logging.LogDebugf("User deleted successfully: %s", userID)
	w.WriteHeader(http.StatusNoContent)
}
