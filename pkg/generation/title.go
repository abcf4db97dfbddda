package generation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

const (
	maxTitleInput    = 1000
	maxTitleLength   = 300
	fallbackTitleLen = 30
	titleTimeout     = 30 * time.Second
)

const titlePrompt = `You write titles for chat conversations.
- Write a short title for the user's first message
- Keep it under 30 characters
- Summarize what the user is asking about
- Do not use quotes, colons or any other punctuation
- Plain text only, no markdown
- Use the language of the user's message`

// TitleClientFactory creates the client titles are generated with
type TitleClientFactory func(apiKey string) llm.Client

// TitleGenerator names new threads after their first message
type TitleGenerator struct {
	store     *store.Store
	model     string
	newClient TitleClientFactory
}

// NewTitleGenerator creates a generator using model on the client returned by newClient
func NewTitleGenerator(s *store.Store, model string, newClient TitleClientFactory) *TitleGenerator {
	return &TitleGenerator{store: s, model: model, newClient: newClient}
}

// GenerateTitle returns a title for the message. It never fails: without a key
// or on provider errors the start of the message is used.
func (g *TitleGenerator) GenerateTitle(ctx context.Context, message, apiKey string) string {
	message = strings.TrimSpace(message)
	fallback := truncate(message, fallbackTitleLen)
	if apiKey == "" || g.newClient == nil {
		logging.LogDebugf("No title generator key configured, using message prefix")
		return fallback
	}

	req := llm.ChatRequest{
		Model:  g.model,
		System: titlePrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: truncate(message, maxTitleInput)},
		},
	}

	logging.LogDebugf("Sending title generation request to LLM model: %s", g.model)
	response, err := g.newClient(apiKey).Chat(ctx, req)
	if err != nil {
		logging.LogWarningf(err, "Failed to generate chat title, using message prefix")
		return fallback
	}

	title := strings.Trim(strings.TrimSpace(response.Message.Content), `"'`)
	if title == "" {
		return fallback
	}
	return truncate(title, maxTitleLength)
}

// Run generates and stores a title for a thread that has none yet
func (g *TitleGenerator) Run(threadID uuid.UUID, message, apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	title := g.GenerateTitle(ctx, message, apiKey)
	if title == "" {
		return
	}
	if err := g.store.SetGeneratedTitle(ctx, threadID, title); err != nil {
		logging.LogErrorf(err, "Failed to update thread title")
		return
	}
	logging.LogDebugf("Auto-generated title for thread %s: %s", threadID, title)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
