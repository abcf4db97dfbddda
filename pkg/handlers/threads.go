package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/instrumented"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

const (
	maxTitleLength     = 300
	maxShareNameLength = 100
)

// ThreadsHandler handles thread endpoints
type ThreadsHandler struct {
	*instrumented.Handler
	store *store.Store
	parts attachmentParts
}

// NewThreadsHandler creates a new threads handler
func NewThreadsHandler(s *store.Store, blobs storage.BlobStore) *ThreadsHandler {
	return &ThreadsHandler{
		Handler: GetHandlerFactory().NewHandler("ThreadsHandler"),
		store:   s,
		parts:   attachmentParts{blobs: blobs},
	}
}

// ListRoutes returns the routes mounted at /threads
func (h *ThreadsHandler) ListRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get(h.InstrumentChi("/", h.ListThreads))
	return r
}

// Routes returns the routes mounted at /thread
func (h *ThreadsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get(h.InstrumentChi("/{id}", h.GetThread))
	r.Patch(h.InstrumentChi("/{id}", h.UpdateThread))
	r.Delete(h.InstrumentChi("/{id}", h.DeleteThread))
	r.Post(h.InstrumentChi("/{id}/split", h.SplitThread))

	r.Get(h.InstrumentChi("/{id}/share", h.GetShare))
	r.Post(h.InstrumentChi("/{id}/share", h.ShareThread))
	r.Delete(h.InstrumentChi("/{id}/share", h.DeleteShare))

	return r
}

// ListThreads returns the user's threads, most recently updated first
func (h *ThreadsHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.store.ListThreads(r.Context(), GetUserIDFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err, "Threads")
		return
	}
	render.JSON(w, r, threads)
}

// GetThread returns a thread with its messages. Attachments are appended to
// the parts of the message they were submitted with.
func (h *ThreadsHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	ctx := r.Context()

	thread, err := h.store.GetThread(ctx, GetUserIDFromContext(ctx), threadID)
	if err != nil {
		handleError(w, r, err, "Thread")
		return
	}
	messages, err := h.store.ListMessages(ctx, threadID)
	if err != nil {
		handleError(w, r, err, "Thread")
		return
	}

	ids := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	attachments, err := h.store.AttachmentsForMessages(ctx, ids)
	if err != nil {
		handleError(w, r, err, "Thread")
		return
	}
	for i := range messages {
		if linked := attachments[messages[i].ID]; len(linked) > 0 {
			messages[i].Parts = append(messages[i].Parts, h.parts.forThread(ctx, linked)...)
		}
	}

	thread.Messages = messages
	render.JSON(w, r, thread)
}

// UpdateThreadRequest is the body of PATCH /thread/{id}. BranchedFromThreadID
// is kept raw to tell an explicit null from an absent field.
type UpdateThreadRequest struct {
	Title                *string         `json:"title"`
	Pinned               *bool           `json:"pinned"`
	BranchedFromThreadID json.RawMessage `json:"branchedFromThreadId"`
}

// UpdateThread applies title, pin and branch changes
func (h *ThreadsHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	var req UpdateThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := store.ThreadPatch{Pinned: req.Pinned}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Title must be between 1 and 300 characters")
			return
		}
		patch.Title = &title
	}
	if len(req.BranchedFromThreadID) > 0 {
		patch.SetBranch = true
		if string(req.BranchedFromThreadID) != "null" {
			var raw string
			if err := json.Unmarshal(req.BranchedFromThreadID, &raw); err != nil {
				writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid branchedFromThreadId")
				return
			}
			branchID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid branchedFromThreadId")
				return
			}
			if _, err := h.store.GetThread(r.Context(), GetUserIDFromContext(r.Context()), branchID); err != nil {
				handleError(w, r, err, "Parent thread")
				return
			}
			patch.BranchedFromThreadID = &branchID
		}
	}

	thread, err := h.store.UpdateThread(r.Context(), GetUserIDFromContext(r.Context()), threadID, patch)
	if err != nil {
		handleError(w, r, err, "Thread")
		return
	}
	render.JSON(w, r, thread)
}

// DeleteThread removes a thread with everything in it
func (h *ThreadsHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	if err := h.store.DeleteThread(r.Context(), GetUserIDFromContext(r.Context()), threadID); err != nil {
		handleError(w, r, err, "Thread")
		return
	}
	logging.LogDebugf("Thread deleted: %s", threadID)
	w.WriteHeader(http.StatusNoContent)
}

// SplitRequest names the last message the new branch keeps
type SplitRequest struct {
	MessageID string `json:"messageId"`
}

// SplitResponse tells the client where the branch lives
type SplitResponse struct {
	To       string    `json:"to"`
	ThreadID uuid.UUID `json:"threadId"`
}

// SplitThread copies a thread up to a message into a new branch
func (h *ThreadsHandler) SplitThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	var req SplitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid message ID")
		return
	}

	branch, err := h.store.SplitThread(r.Context(), GetUserIDFromContext(r.Context()), threadID, messageID)
	if err != nil {
		handleError(w, r, err, "Thread or message")
		return
	}
	render.JSON(w, r, SplitResponse{To: "/chat/" + branch.ID.String(), ThreadID: branch.ID})
}

// ShareRequest optionally renames the share
type ShareRequest struct {
	Name string `json:"name"`
}

// ShareResponse describes a created or refreshed share
type ShareResponse struct {
	ShareID      string `json:"shareId"`
	ShareURL     string `json:"shareUrl"`
	Name         string `json:"name"`
	MessageCount int    `json:"messageCount"`
}

// ShareInfo is the share state of a thread
type ShareInfo struct {
	HasShare  bool       `json:"hasShare"`
	ShareID   string     `json:"shareId,omitempty"`
	ShareURL  string     `json:"shareUrl,omitempty"`
	Name      string     `json:"name,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func shareURL(shareID string) string {
	return "/share/" + shareID
}

// ShareThread snapshots the thread into a public share, replacing an older snapshot
func (h *ThreadsHandler) ShareThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	var req ShareRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(req.Name) > maxShareNameLength {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Share name cannot exceed 100 characters")
		return
	}

	share, count, err := h.store.ShareThread(r.Context(), GetUserIDFromContext(r.Context()), threadID, req.Name)
	if err != nil {
		handleError(w, r, err, "Thread")
		return
	}
	render.JSON(w, r, ShareResponse{
		ShareID:      share.ShareID,
		ShareURL:     shareURL(share.ShareID),
		Name:         share.Name,
		MessageCount: count,
	})
}

// GetShare reports whether the thread is shared
func (h *ThreadsHandler) GetShare(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	ctx := r.Context()
	userID := GetUserIDFromContext(ctx)

	if _, err := h.store.GetThread(ctx, userID, threadID); err != nil {
		handleError(w, r, err, "Thread")
		return
	}
	share, _, err := h.store.GetShareOfThread(ctx, userID, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.JSON(w, r, ShareInfo{HasShare: false})
			return
		}
		handleError(w, r, err, "Share")
		return
	}
	render.JSON(w, r, ShareInfo{
		HasShare:  true,
		ShareID:   share.ShareID,
		ShareURL:  shareURL(share.ShareID),
		Name:      share.Name,
		CreatedAt: &share.CreatedAt,
		UpdatedAt: &share.UpdatedAt,
	})
}

// DeleteShare unpublishes the thread
func (h *ThreadsHandler) DeleteShare(w http.ResponseWriter, r *http.Request) {
	threadID, ok := urlUUID(w, r, "id", "thread")
	if !ok {
		return
	}
	if err := h.store.DeleteShareOfThread(r.Context(), GetUserIDFromContext(r.Context()), threadID); err != nil {
		handleError(w, r, err, "Share")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
