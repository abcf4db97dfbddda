// Package chatclient keeps the message list of a chat client in sync with the
// data stream of the chat endpoint.
//
// Every change publishes a fresh slice. Slices handed out by Messages or to
// observers are never written to again, so readers need no locking.
package chatclient

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Status is the state of the current turn
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var (
	// ErrBusy is returned while a turn is submitted or streaming
	ErrBusy = errors.New("a response is still being generated")
	// ErrMessageNotFound is returned for edits and retries of unknown messages
	ErrMessageNotFound = errors.New("message not found")
	// ErrNoUserMessage is returned when a retry finds no question to resend
	ErrNoUserMessage = errors.New("no user message found")
	// ErrEmptyTurn is returned for a turn with neither text nor attachments
	ErrEmptyTurn = errors.New("message is empty")
)

// StreamError is an error the server reported inside the stream
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "generation failed: " + e.Message
}

// Message is a message as the client shows it
type Message struct {
	ID                string             `json:"id"`
	Role              models.MessageRole `json:"role"`
	Parts             models.Parts       `json:"parts"`
	Usage             *models.Usage      `json:"usage,omitempty"`
	Model             string             `json:"model,omitempty"`
	GenerationStartAt *time.Time         `json:"generationStartAt,omitempty"`
	GenerationEndAt   *time.Time         `json:"generationEndAt,omitempty"`
	// AttachmentIDs are known for messages sent by this client only
	AttachmentIDs []string `json:"-"`
}

// Text returns the text parts of the message
func (m Message) Text() string {
	return models.ExtractText(m.Parts)
}

// FromModel converts a stored message, e.g. from GET /thread/{id}
func FromModel(m models.Message) Message {
	return Message{
		ID:                m.ID.String(),
		Role:              m.Role,
		Parts:             m.Parts,
		Usage:             m.Usage,
		Model:             m.Model,
		GenerationStartAt: m.GenerationStartAt,
		GenerationEndAt:   m.GenerationEndAt,
	}
}

// Navigator moves the UI between threads
type Navigator interface {
	// ReplaceThread swaps the current location without loading anything
	ReplaceThread(id uuid.UUID)
	// OpenThread fully loads the thread
	OpenThread(id uuid.UUID)
}

// Config is sent along with every turn
type Config struct {
	Model       string
	ModelParams generation.ModelParams
	Preferences generation.Preferences
	APIKeys     credentials.APIKeys
	Timezone    string
}

// Turn is one question
type Turn struct {
	Text          string
	AttachmentIDs []string
}

// Snapshot is the published state after one change
type Snapshot struct {
	ThreadID uuid.UUID
	Status   Status
	Messages []Message
}

// Option configures a Client
type Option func(*Client)

// WithThread continues an existing thread
func WithThread(id uuid.UUID, history []Message) Option {
	return func(c *Client) {
		c.threadID = id
		c.messages = append([]Message(nil), history...)
	}
}

// WithNavigator reports thread changes to n
func WithNavigator(n Navigator) Option {
	return func(c *Client) {
		c.navigator = n
	}
}

// Client owns the message list of one chat view
type Client struct {
	transport Transport
	navigator Navigator

	mu        sync.Mutex
	config    Config
	threadID  uuid.UUID
	messages  []Message
	status    Status
	err       error
	announced uuid.UUID
	observers []func(Snapshot)
}

// New creates a client talking to the chat endpoint through transport
func New(transport Transport, config Config, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		config:    config,
		status:    StatusIdle,
		messages:  []Message{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe registers fn to be called with every published snapshot, in order
func (c *Client) Observe(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Messages returns the current message list; it must not be modified
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// Status returns the state of the current turn
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ThreadID returns the thread the client is in, uuid.Nil before the first turn
func (c *Client) ThreadID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// Err returns why the last turn failed
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetModel changes the model used by the next turn
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Model = model
}

// Submit sends a new question and blocks until its answer has streamed in
func (c *Client) Submit(ctx context.Context, turn Turn) error {
	return c.run(ctx, func(messages []Message) (int, Turn, error) {
		return len(messages), turn, nil
	})
}

// Edit replaces a user message and everything after it with newText
func (c *Client) Edit(ctx context.Context, messageID, newText string) error {
	return c.run(ctx, func(messages []Message) (int, Turn, error) {
		i := indexOf(messages, messageID)
		if i < 0 || messages[i].Role != models.MessageRoleUser {
			return 0, Turn{}, ErrMessageNotFound
		}
		return i, Turn{Text: newText}, nil
	})
}

// Retry asks again. For an assistant message the user message before it is
// resent, for a user message the message itself. A non-empty model switches
// the model first.
func (c *Client) Retry(ctx context.Context, messageID, model string) error {
	if c.busy() {
		return ErrBusy
	}
	target, err := retryTarget(c.Messages(), messageID)
	if err != nil {
		return err
	}

	attachmentIDs := target.AttachmentIDs
	if len(attachmentIDs) == 0 && len(target.Parts.Files()) > 0 {
		if lister, ok := c.transport.(AttachmentLister); ok {
			ids, err := lister.MessageAttachments(ctx, target.ID)
			if err != nil {
				logging.LogWarningf(err, "Retrying message %s without its attachments", target.ID)
			} else {
				attachmentIDs = ids
			}
		}
	}

	return c.run(ctx, func(messages []Message) (int, Turn, error) {
		i := indexOf(messages, target.ID)
		if i < 0 {
			return 0, Turn{}, ErrMessageNotFound
		}
		if model != "" {
			c.config.Model = model
		}
		return i, Turn{Text: target.Text(), AttachmentIDs: attachmentIDs}, nil
	})
}

func retryTarget(messages []Message, messageID string) (Message, error) {
	i := indexOf(messages, messageID)
	if i < 0 {
		return Message{}, ErrMessageNotFound
	}
	if messages[i].Role == models.MessageRoleAssistant {
		i = lastIndexOfRole(messages[:i], models.MessageRoleUser)
		if i < 0 {
			return Message{}, ErrNoUserMessage
		}
	}
	if strings.TrimSpace(messages[i].Text()) == "" {
		return Message{}, ErrNoUserMessage
	}
	return messages[i], nil
}

// prepareFunc decides, under the lock, how many messages are kept and what is sent
type prepareFunc func(messages []Message) (keep int, turn Turn, err error)

func (c *Client) run(ctx context.Context, prepare prepareFunc) error {
	req, err := c.begin(prepare)
	if err != nil {
		return err
	}

	source, err := c.transport.Open(ctx, req)
	if err != nil {
		c.finish(err)
		return err
	}
	defer source.Close()

	var turnErr error
	for {
		part, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a cancelled turn is over, not failed
			if ctx.Err() == nil {
				turnErr = errors.Wrap(err, "reading stream")
			}
			break
		}
		if err := c.apply(part); err != nil && turnErr == nil {
			turnErr = err
		}
	}
	c.finish(turnErr)
	return turnErr
}

func (c *Client) busy() bool {
	status := c.Status()
	return status == StatusSubmitted || status == StatusStreaming
}

// begin cuts the history, appends the user message and builds the request
func (c *Client) begin(prepare prepareFunc) (handlers.ChatRequest, error) {
	c.mu.Lock()
	if c.status == StatusSubmitted || c.status == StatusStreaming {
		c.mu.Unlock()
		return handlers.ChatRequest{}, ErrBusy
	}
	keep, turn, err := prepare(c.messages)
	if err == nil && strings.TrimSpace(turn.Text) == "" && len(turn.AttachmentIDs) == 0 {
		err = ErrEmptyTurn
	}
	if err != nil {
		c.mu.Unlock()
		return handlers.ChatRequest{}, err
	}

	user := Message{
		ID:            uuid.NewString(),
		Role:          models.MessageRoleUser,
		Parts:         models.Parts{models.TextPart{Text: turn.Text}},
		Model:         c.config.Model,
		AttachmentIDs: turn.AttachmentIDs,
	}
	next := make([]Message, keep, keep+1)
	copy(next, c.messages[:keep])
	next = append(next, user)
	c.messages = next
	c.status = StatusSubmitted
	c.err = nil
	c.announced = uuid.Nil

	req := handlers.ChatRequest{
		Messages:      toWire(next),
		Model:         c.config.Model,
		ModelParams:   c.config.ModelParams,
		Preferences:   c.config.Preferences,
		UserInfo:      handlers.UserInfo{Timezone: c.config.Timezone},
		APIKeys:       c.config.APIKeys,
		AttachmentIDs: turn.AttachmentIDs,
	}
	if c.threadID != uuid.Nil {
		req.ThreadMetadata.ID = c.threadID.String()
	}
	snapshot, observers := c.snapshot()
	c.mu.Unlock()

	notify(observers, snapshot)
	return req, nil
}

func toWire(messages []Message) []handlers.ChatMessage {
	wire := make([]handlers.ChatMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, handlers.ChatMessage{ID: m.ID, Role: m.Role, Content: m.Text(), Parts: m.Parts})
	}
	return wire
}

// apply handles one stream part. Error parts are returned as *StreamError.
func (c *Client) apply(part stream.Part) error {
	switch part.Type {
	case stream.PartText, stream.PartReasoning:
		delta, err := part.DecodeString()
		if err != nil {
			return err
		}
		c.appendDelta(part.Type, delta)
	case stream.PartData:
		events, err := part.Events()
		if err != nil {
			return err
		}
		for _, e := range events {
			switch {
			case e.Thread != nil:
				c.announceThread(e.Thread.ThreadID)
			case e.Metrics != nil:
				c.applyMetrics(e.Metrics)
			case e.Images != nil:
				c.applyImages(e.Images)
			}
		}
	case stream.PartError:
		message, err := part.DecodeString()
		if err != nil {
			return err
		}
		return &StreamError{Message: message}
	}
	return nil
}

// update runs mutate under the lock and publishes when it reports a change
func (c *Client) update(mutate func() bool) {
	c.mu.Lock()
	if !mutate() {
		c.mu.Unlock()
		return
	}
	snapshot, observers := c.snapshot()
	c.mu.Unlock()
	notify(observers, snapshot)
}

func (c *Client) appendDelta(t stream.PartType, delta string) {
	c.update(func() bool {
		next := append([]Message(nil), c.messages...)
		last := len(next) - 1
		if c.status == StatusSubmitted || last < 0 || next[last].Role != models.MessageRoleAssistant {
			c.status = StatusStreaming
			next = append(next, Message{ID: uuid.NewString(), Role: models.MessageRoleAssistant, Parts: models.Parts{}, Model: c.config.Model})
			last++
		}
		next[last].Parts = appendToParts(next[last].Parts, t, delta)
		c.messages = next
		return true
	})
}

// appendToParts extends the trailing part of the same kind or starts a new one
func appendToParts(parts models.Parts, t stream.PartType, delta string) models.Parts {
	next := make(models.Parts, len(parts), len(parts)+1)
	copy(next, parts)
	if n := len(next); n > 0 {
		switch p := next[n-1].(type) {
		case models.TextPart:
			if t == stream.PartText {
				next[n-1] = models.TextPart{Text: p.Text + delta}
				return next
			}
		case models.ReasoningPart:
			if t == stream.PartReasoning {
				next[n-1] = models.ReasoningPart{Reasoning: p.Reasoning + delta}
				return next
			}
		}
	}
	if t == stream.PartReasoning {
		return append(next, models.ReasoningPart{Reasoning: delta})
	}
	return append(next, models.TextPart{Text: delta})
}

// announceThread follows a new thread id right away; the thread is opened
// once the stream has ended
func (c *Client) announceThread(id uuid.UUID) {
	var changed bool
	c.update(func() bool {
		if id == uuid.Nil || id == c.threadID {
			return false
		}
		c.threadID = id
		c.announced = id
		changed = true
		return true
	})
	if changed && c.navigator != nil {
		c.navigator.ReplaceThread(id)
	}
}

// applyMetrics attaches usage to the reply, falling back to the last assistant
// message, and takes over the stored message id
func (c *Client) applyMetrics(m *stream.MetricsData) {
	c.update(func() bool {
		i := indexOf(c.messages, m.MessageID.String())
		if i < 0 {
			i = len(c.messages) - 1
		}
		if i < 0 || c.messages[i].Role != models.MessageRoleAssistant {
			logging.LogDebugf("No message for metrics of %s", m.MessageID)
			return false
		}
		next := append([]Message(nil), c.messages...)
		start, end := m.GenerationStartAt, m.GenerationEndAt
		next[i].Usage = &models.Usage{
			PromptTokens:     m.PromptTokens,
			CompletionTokens: m.CompletionTokens,
			TotalTokens:      m.TotalTokens,
		}
		next[i].GenerationStartAt = &start
		next[i].GenerationEndAt = &end
		next[i].Model = m.Model
		if m.MessageID != uuid.Nil {
			next[i].ID = m.MessageID.String()
		}
		c.messages = next
		return true
	})
}

// applyImages adds generated images to the reply with the event's id. Image
// generations stream no content, so the reply is created when it is missing.
func (c *Client) applyImages(data *stream.ImagesData) {
	c.update(func() bool {
		next := append([]Message(nil), c.messages...)
		i := indexOf(next, data.MessageID.String())
		if i < 0 {
			next = append(next, Message{ID: data.MessageID.String(), Role: models.MessageRoleAssistant, Parts: models.Parts{}})
			i = len(next) - 1
		}
		if next[i].Role != models.MessageRoleAssistant {
			return false
		}
		parts := make(models.Parts, len(next[i].Parts), len(next[i].Parts)+len(data.Images))
		copy(parts, next[i].Parts)
		for _, img := range data.Images {
			part := models.FilePart{MimeType: "image/png", URL: img.URL}
			if img.Base64 != "" {
				part.Data = "data:image/png;base64," + img.Base64
			}
			parts = append(parts, part)
		}
		start, end := data.GenerationStartAt, data.GenerationEndAt
		next[i].Parts = parts
		next[i].GenerationStartAt = &start
		next[i].GenerationEndAt = &end
		next[i].Model = data.Model
		c.messages = next
		return true
	})
}

// finish ends the turn and opens a thread announced during it
func (c *Client) finish(err error) {
	c.mu.Lock()
	c.err = err
	if err != nil {
		c.status = StatusError
	} else {
		c.status = StatusCompleted
	}
	announced := c.announced
	c.announced = uuid.Nil
	snapshot, observers := c.snapshot()
	c.mu.Unlock()

	notify(observers, snapshot)
	if announced != uuid.Nil && c.navigator != nil {
		c.navigator.OpenThread(announced)
	}
}

// snapshot must be called with the lock held
func (c *Client) snapshot() (Snapshot, []func(Snapshot)) {
	return Snapshot{ThreadID: c.threadID, Status: c.status, Messages: c.messages}, c.observers
}

func notify(observers []func(Snapshot), snapshot Snapshot) {
	for _, fn := range observers {
		fn(snapshot)
	}
}

func indexOf(messages []Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func lastIndexOfRole(messages []Message, role models.MessageRole) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return i
		}
	}
	return -1
}
