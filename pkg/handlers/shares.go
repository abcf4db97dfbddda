package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// SharesHandler serves public snapshots of threads
type SharesHandler struct {
	*instrumented.Handler
	store *store.Store
	parts attachmentParts
}

// NewSharesHandler creates a new shares handler
func NewSharesHandler(s *store.Store, blobs storage.BlobStore) *SharesHandler {
	return &SharesHandler{
		Handler: GetHandlerFactory().NewHandler("SharesHandler"),
		store:   s,
		parts:   attachmentParts{blobs: blobs},
	}
}

// Routes returns the share routes; reading a snapshot needs no session
func (h *SharesHandler) Routes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get(h.InstrumentChi("/{id}", h.GetShare))
	r.With(requireSession).Post(h.InstrumentChi("/{id}/create-chat", h.CreateChat))
	return r
}

// SharedThread is the part of the original thread a share exposes
type SharedThread struct {
	ID        uuid.UUID `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// SharedMessage is a frozen message as viewers see it
type SharedMessage struct {
	ID                uuid.UUID          `json:"id"`
	Role              models.MessageRole `json:"role"`
	Parts             models.Parts       `json:"parts"`
	Usage             *models.Usage      `json:"usage,omitempty"`
	Model             string             `json:"model"`
	GenerationStartAt *time.Time         `json:"generationStartAt,omitempty"`
	GenerationEndAt   *time.Time         `json:"generationEndAt,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// SharedChatResponse is the body of GET /share/{id}
type SharedChatResponse struct {
	ShareID   string          `json:"shareId"`
	Name      string          `json:"name"`
	Thread    SharedThread    `json:"thread"`
	Messages  []SharedMessage `json:"messages"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CreateChatResponse points to the thread a share was cloned into
type CreateChatResponse struct {
	ThreadID     uuid.UUID `json:"threadId"`
	ThreadURL    string    `json:"threadUrl"`
	Title        *string   `json:"title"`
	MessageCount int       `json:"messageCount"`
}

// GetShare renders a share with its attachments inlined
func (h *SharesHandler) GetShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.store.GetSharedChat(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err, "Share")
		return
	}

	messages := make([]SharedMessage, 0, len(view.Messages))
	for _, m := range view.Messages {
		parts, err := m.DecodedParts()
		if err != nil {
			logging.LogWarningf(err, "Skipping undecodable parts of shared message %s", m.ID)
			parts = models.Parts{}
		}
		if linked := view.Attachments[m.ID]; len(linked) > 0 {
			parts = append(parts, h.parts.forShare(ctx, linked)...)
		}
		messages = append(messages, SharedMessage{
			ID:                m.ID,
			Role:              m.Role,
			Parts:             parts,
			Usage:             m.Usage,
			Model:             m.Model,
			GenerationStartAt: m.GenerationStartAt,
			GenerationEndAt:   m.GenerationEndAt,
			CreatedAt:         m.CreatedAt,
		})
	}

	render.JSON(w, r, SharedChatResponse{
		ShareID: view.Share.ShareID,
		Name:    view.Share.Name,
		Thread: SharedThread{
			ID:        view.Thread.ID,
			Title:     view.Thread.Title,
			CreatedAt: view.Thread.CreatedAt,
		},
		Messages:  messages,
		CreatedAt: view.Share.CreatedAt,
		UpdatedAt: view.Share.UpdatedAt,
	})
}

// CreateChat clones a share into a new thread of the caller
func (h *SharesHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	thread, count, err := h.store.CloneSharedChat(r.Context(), GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err, "Share")
		return
	}
	logging.LogDebugf("Share %s cloned into thread %s", chi.URLParam(r, "id"), thread.ID)
	render.JSON(w, r, CreateChatResponse{
		ThreadID:     thread.ID,
		ThreadURL:    "/chat/" + thread.ID.String(),
		Title:        thread.Title,
		MessageCount: count,
	})
}
