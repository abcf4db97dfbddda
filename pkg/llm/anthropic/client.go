package anthropic

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

const (
	defaultMaxTokens = 8192
	// minThinkingBudget is the smallest budget the API accepts
	minThinkingBudget = 1024
)

// Client implements llm.Client for the Anthropic Messages API
type Client struct {
	model     string
	maxTokens int
	anthropic anthropic.Client
}

// Config defines the settings for the Anthropic client wrapper
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewClient builds a new llm.Client backed by the Anthropic SDK
func NewClient(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logging.LogDebugf("Initialized Anthropic client (model=%s, maxTokens=%d)", cfg.Model, cfg.MaxTokens)

	return &Client{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		anthropic: anthropic.NewClient(opts...),
	}
}

// Chat sends a non-streaming request
func (c *Client) Chat(ctx context.Context, request llm.ChatRequest) (*llm.ChatResponse, error) {
	params, err := c.buildParams(request)
	if err != nil {
		return nil, err
	}
	msg, err := c.anthropic.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic message failed")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.Wrap(llm.ErrEmptyResponse, "anthropic")
	}
	return &llm.ChatResponse{
		ID:      msg.ID,
		Model:   string(msg.Model),
		Message: llm.Message{Role: llm.RoleAssistant, Content: text.String()},
		Usage:   usage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
	}, nil
}

// ChatStream streams text and thinking deltas
func (c *Client) ChatStream(ctx context.Context, request llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(request)
	if err != nil {
		return nil, err
	}

	stream := c.anthropic.Messages.NewStreaming(ctx, params)
	chunkChan := make(chan llm.StreamChunk, 10)

	go func() {
		defer close(chunkChan)
		defer stream.Close()

		var id, model string
		var inputTokens, outputTokens int64
		for stream.Next() {
			var delta llm.Delta
			switch event := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				id, model = event.Message.ID, string(event.Message.Model)
				inputTokens = event.Message.Usage.InputTokens
			case anthropic.MessageDeltaEvent:
				outputTokens = event.Usage.OutputTokens
			case anthropic.ContentBlockDeltaEvent:
				switch d := event.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					delta.Content = d.Text
				case anthropic.ThinkingDelta:
					delta.Reasoning = d.Thinking
				}
			}
			if delta.Content == "" && delta.Reasoning == "" {
				continue
			}
			select {
			case chunkChan <- llm.StreamChunk{ID: id, Model: model, Delta: delta}:
			case <-ctx.Done():
				return
			}
		}

		final := llm.StreamChunk{ID: id, Model: model, Usage: usage(inputTokens, outputTokens), Done: true}
		if err := stream.Err(); err != nil {
			final = llm.StreamChunk{Error: errors.Wrap(err, "anthropic streaming error"), Done: true}
		}
		select {
		case chunkChan <- final:
		case <-ctx.Done():
		}
	}()

	return chunkChan, nil
}

func (c *Client) buildParams(req llm.ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	t := req.Options.Thinking
	if t == nil || t.Type != "enabled" {
		if req.Temperature != nil {
			params.Temperature = anthropic.Float(*req.Temperature)
		}
	} else {
		budget := t.BudgetTokens
		if budget < minThinkingBudget {
			budget = minThinkingBudget
		}
		// max_tokens has to leave room for the answer after the thinking budget
		if int64(budget) >= params.MaxTokens {
			params.MaxTokens = int64(budget + defaultMaxTokens)
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return params, nil
}

func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Attachments)+1)
			for _, att := range msg.Attachments {
				data := base64.StdEncoding.EncodeToString(att.Data)
				switch att.Kind {
				case llm.AttachmentImage:
					blocks = append(blocks, anthropic.NewImageBlockBase64(att.MimeType, data))
				case llm.AttachmentPDF:
					blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: data}))
				}
			}
			if msg.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		case llm.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return nil, errors.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func usage(input, output int64) llm.Usage {
	return llm.Usage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}
