package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/lock"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/reconcile"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// ChatMessage is a message as the chat UI submits it. Ids the UI generated
// itself are not UUIDs and are replaced by fresh ones.
type ChatMessage struct {
	ID      string             `json:"id"`
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content,omitempty"`
	Parts   models.Parts       `json:"parts,omitempty"`
}

// ThreadMetadata names the thread a submission belongs to
type ThreadMetadata struct {
	ID string `json:"id,omitempty"`
}

// UserInfo is what the browser knows about the user
type UserInfo struct {
	Timezone string `json:"timezone,omitempty"`
}

// ChatRequest is the body of POST /chat and the first frame of /chat/ws
type ChatRequest struct {
	Messages       []ChatMessage          `json:"messages"`
	ThreadMetadata ThreadMetadata         `json:"threadMetadata"`
	Model          string                 `json:"model"`
	ModelParams    generation.ModelParams `json:"modelParams"`
	Preferences    generation.Preferences `json:"preferences"`
	UserInfo       UserInfo               `json:"userInfo"`
	APIKeys        credentials.APIKeys    `json:"apiKeys"`
	AttachmentIDs  []string               `json:"attachmentIds,omitempty"`
}

// ChatHandler runs chat turns
type ChatHandler struct {
	store      *store.Store
	registry   *registry.Registry
	resolver   *credentials.Resolver
	locker     lock.Locker
	dispatcher *generation.Dispatcher
	titles     *generation.TitleGenerator
	upgrader   websocket.Upgrader
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	s *store.Store,
	reg *registry.Registry,
	resolver *credentials.Resolver,
	locker lock.Locker,
	dispatcher *generation.Dispatcher,
	titles *generation.TitleGenerator,
) *ChatHandler {
	return &ChatHandler{
		store:      s,
		registry:   reg,
		resolver:   resolver,
		locker:     locker,
		dispatcher: dispatcher,
		titles:     titles,
		upgrader: websocket.Upgrader{
			// sessions travel as bearer tokens, never as cookies
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Routes returns chat routes
func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Chat)
	r.Get("/ws", h.ChatWebSocket)

	return r
}

// turn is a validated submission whose messages are persisted and whose
// thread lock is held
type turn struct {
	request generation.Request
	release lock.Release
}

// Chat streams one generation as a data stream
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.prepare(r.Context(), GetUserIDFromContext(r.Context()), req)
	if err != nil {
		handleError(w, r, err, "Chat")
		return
	}
	defer t.release()

	h.dispatch(r.Context(), t, stream.NewWriter(w))
}

func (h *ChatHandler) dispatch(ctx context.Context, t *turn, sink stream.Sink) {
	err := h.dispatcher.Dispatch(ctx, t.request, sink)
	switch {
	case err == nil:
	case errors.Is(err, generation.ErrAborted):
		logging.LogInfofCtx(ctx, "Client disconnected from thread %s: %v", t.request.ThreadID, err)
	case errors.Is(err, generation.ErrProviderFailed):
		logging.LogWarningf(err, "Generation for thread %s failed", t.request.ThreadID)
	default:
		logging.LogErrorfCtx(ctx, err, "Generation for thread %s failed", t.request.ThreadID)
	}
}

// prepare validates the submission, reconciles it with the stored thread and
// takes the thread's generation lock. Messages stay untouched when it fails.
func (h *ChatHandler) prepare(ctx context.Context, userID uuid.UUID, req ChatRequest) (*turn, error) {
	if len(req.Messages) == 0 {
		return nil, reconcile.ErrEmptyMessages
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, badRequest(CodeInvalidRequest, "Model is required")
	}
	if err := req.ModelParams.Validate(); err != nil {
		return nil, err
	}

	info, err := h.registry.Lookup(req.Model)
	if err != nil {
		return nil, err
	}
	var bundle credentials.Bundle
	if info.Has(registry.CapabilityImages) {
		bundle, err = h.resolver.ResolveImage(info, req.APIKeys)
	} else {
		bundle, err = h.resolver.Resolve(info, req.APIKeys)
	}
	if err != nil {
		return nil, err
	}

	incoming, err := toModelMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	attachmentIDs, err := parseIDs(req.AttachmentIDs)
	if err != nil {
		return nil, err
	}
	last := incoming[len(incoming)-1]
	if strings.TrimSpace(last.Text()) == "" && len(attachmentIDs) == 0 {
		return nil, badRequest(CodeEmptyMessage, "The last message needs text or attachments")
	}

	var requested *uuid.UUID
	if id, err := uuid.Parse(req.ThreadMetadata.ID); err == nil {
		requested = &id
	}
	thread, _, err := h.store.EnsureThread(ctx, userID, requested)
	if err != nil {
		return nil, err
	}

	release, err := h.locker.Acquire(ctx, lock.ThreadKey(thread.ID))
	if err != nil {
		return nil, err
	}
	messages, err := h.persist(ctx, userID, thread, incoming, attachmentIDs, info)
	if err != nil {
		release()
		return nil, err
	}
	plan := messages.plan

	if err := h.store.SetLastSelectedModel(ctx, userID, info.Key); err != nil {
		logging.LogWarningf(err, "Failed to remember last selected model")
	}
	if thread.Title == nil && !thread.UserSetTitle && h.titles != nil {
		go h.titles.Run(thread.ID, firstUserText(incoming), h.resolver.TitleKey(req.APIKeys))
	}

	logging.LogDebugf("Chat submission for thread %s detected as %s", thread.ID, plan.Kind)
	return &turn{
		request: generation.Request{
			UserID:        userID,
			ThreadID:      thread.ID,
			TargetID:      plan.GenerationTargetID,
			Info:          info,
			Messages:      messages.history,
			Params:        req.ModelParams,
			Credentials:   bundle,
			Preferences:   req.Preferences,
			Timezone:      req.UserInfo.Timezone,
			AttachmentIDs: attachmentIDs,
		},
		release: release,
	}, nil
}

type persisted struct {
	plan    reconcile.Plan
	history []models.Message
}

// persist applies the reconciliation plan and marks the thread as generating
func (h *ChatHandler) persist(
	ctx context.Context,
	userID uuid.UUID,
	thread *models.Thread,
	incoming []models.Message,
	attachmentIDs []uuid.UUID,
	info registry.ModelInfo,
) (*persisted, error) {
	existing, err := h.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	plan, err := reconcile.Reconcile(thread.ID, incoming, existing, info.Key)
	if err != nil {
		return nil, err
	}
	if err := h.store.ApplyPlan(ctx, userID, thread.ID, plan, attachmentIDs); err != nil {
		return nil, err
	}
	if err := h.store.UpdateThreadStatus(ctx, thread.ID, models.GenerationStatusGenerating); err != nil {
		return nil, err
	}
	history, err := h.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	return &persisted{plan: plan, history: history}, nil
}

func toModelMessages(messages []ChatMessage) ([]models.Message, error) {
	result := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != models.MessageRoleUser && m.Role != models.MessageRoleAssistant {
			return nil, badRequest(CodeInvalidRequest, "Unsupported message role: "+string(m.Role))
		}
		id, err := uuid.Parse(m.ID)
		if err != nil {
			id = uuid.New()
		}
		parts := m.Parts
		if len(parts) == 0 && m.Content != "" {
			parts = models.Parts{models.TextPart{Text: m.Content}}
		}
		if parts == nil {
			parts = models.Parts{}
		}
		result = append(result, models.Message{ID: id, Role: m.Role, Parts: parts})
	}
	return result, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, badRequest(CodeInvalidRequest, "Invalid attachment ID: "+s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func firstUserText(messages []models.Message) string {
	for _, m := range messages {
		if m.Role == models.MessageRoleUser {
			if text := strings.TrimSpace(m.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// wsSink sends every stream part as one JSON frame
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Send(part stream.Part) error {
	return errors.Wrap(s.conn.WriteJSON(part), "writing websocket frame")
}

// ChatWebSocket runs one generation over a WebSocket. The first frame is the
// chat request, every following frame from the server is a stream part.
// Closing the socket cancels the generation.
func (h *ChatHandler) ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogErrorf(err, "Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			_ = conn.WriteJSON(ErrorResponse{Error: "Invalid request body", Code: CodeInvalidRequest})
		}
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	t, err := h.prepare(ctx, userID, req)
	if err != nil {
		status, body := classify(err, "Chat")
		if status == http.StatusInternalServerError {
			logging.LogErrorfCtx(ctx, err, "Failed to prepare chat turn")
		}
		_ = conn.WriteJSON(body)
		return
	}
	defer t.release()

	// the client has nothing more to say; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.dispatch(ctx, t, wsSink{conn: conn})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
