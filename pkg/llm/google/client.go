package google

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Client implements llm.Client for the Gemini API
type Client struct {
	model string
	genai *genai.Client
}

// Config defines the settings for the Gemini client wrapper
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewClient builds a new llm.Client backed by the Google Gen AI SDK
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(llm.ErrConnectionFailed, err.Error())
	}

	logging.LogDebugf("Initialized Gemini client (model=%s)", cfg.Model)

	return &Client{model: cfg.Model, genai: client}, nil
}

// Chat sends a non-streaming request
func (c *Client) Chat(ctx context.Context, request llm.ChatRequest) (*llm.ChatResponse, error) {
	model, contents, config := c.buildRequest(request)
	resp, err := c.genai.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, errors.Wrap(err, "gemini generate content failed")
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.Wrap(llm.ErrEmptyResponse, "gemini")
	}
	return &llm.ChatResponse{
		ID:      resp.ResponseID,
		Model:   model,
		Message: llm.Message{Role: llm.RoleAssistant, Content: text},
		Usage:   convertUsage(resp.UsageMetadata),
	}, nil
}

// ChatStream streams text and thought deltas
func (c *Client) ChatStream(ctx context.Context, request llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	model, contents, config := c.buildRequest(request)
	chunkChan := make(chan llm.StreamChunk, 10)

	go func() {
		defer close(chunkChan)

		var usage llm.Usage
		for resp, err := range c.genai.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				select {
				case chunkChan <- llm.StreamChunk{Error: errors.Wrap(err, "gemini streaming error"), Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if resp.UsageMetadata != nil {
				usage = convertUsage(resp.UsageMetadata)
			}
			for _, delta := range deltas(resp) {
				select {
				case chunkChan <- llm.StreamChunk{ID: resp.ResponseID, Model: model, Delta: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case chunkChan <- llm.StreamChunk{Model: model, Usage: usage, Done: true}:
		case <-ctx.Done():
		}
	}()

	return chunkChan, nil
}

func (c *Client) buildRequest(req llm.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(msg.Attachments)+1)
		for _, att := range msg.Attachments {
			parts = append(parts, genai.NewPartFromBytes(att.Data, att.MimeType))
		}
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if g := req.Options.GoogleThinking; g != nil {
		thinking := &genai.ThinkingConfig{}
		if g.IncludeThoughts != nil {
			thinking.IncludeThoughts = *g.IncludeThoughts
		}
		if g.ThinkingBudget != nil {
			budget := int32(*g.ThinkingBudget)
			thinking.ThinkingBudget = &budget
		}
		config.ThinkingConfig = thinking
	}
	if req.WebSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return model, contents, config
}

func deltas(resp *genai.GenerateContentResponse) []llm.Delta {
	var result []llm.Delta
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text == "" {
				continue
			}
			if part.Thought {
				result = append(result, llm.Delta{Reasoning: part.Text})
			} else {
				result = append(result, llm.Delta{Content: part.Text})
			}
		}
	}
	return result
}

func convertUsage(meta *genai.GenerateContentResponseUsageMetadata) llm.Usage {
	if meta == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     int(meta.PromptTokenCount),
		CompletionTokens: int(meta.CandidatesTokenCount + meta.ThoughtsTokenCount),
		TotalTokens:      int(meta.TotalTokenCount),
	}
}
