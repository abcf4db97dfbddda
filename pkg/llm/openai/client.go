package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

const (
	defaultAPIBaseURL = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	// AzureAPIVersion is the data-plane version used for Azure deployments
	AzureAPIVersion = "2025-03-01-preview"
)

// Flavor selects wire quirks of OpenAI-compatible providers
type Flavor string

const (
	FlavorOpenAI     Flavor = "openai"
	FlavorAzure      Flavor = "azure"
	FlavorOpenRouter Flavor = "openrouter"
	FlavorDeepSeek   Flavor = "deepseek"
	FlavorXAI        Flavor = "xai"
)

// Client implements the llm.Client interface using the official OpenAI Go SDK.
type Client struct {
	model  string
	flavor Flavor
	openai *openai.Client
}

// Config defines the settings for the OpenAI client wrapper.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Flavor  Flavor
	Timeout time.Duration
	// HTTPClient replaces the default client, mostly for tests
	HTTPClient *http.Client
}

// NewClient builds a new llm.Client backed by OpenAI's official SDK.
func NewClient(cfg Config) *Client {
	if cfg.Flavor == "" {
		cfg.Flavor = FlavorOpenAI
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
	}

	var baseURL string
	if cfg.Flavor == FlavorAzure {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
		opts = append(opts,
			azure.WithEndpoint(baseURL, AzureAPIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		baseURL = normalizeBaseURL(cfg.BaseURL)
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	openaiClient := openai.NewClient(opts...)

	logging.LogDebugf("Initialized OpenAI client (flavor=%s, model=%s, base=%s, timeout=%s)",
		cfg.Flavor, cfg.Model, baseURL, cfg.Timeout)

	return &Client{
		model:  cfg.Model,
		flavor: cfg.Flavor,
		openai: &openaiClient,
	}
}

// Chat sends a non-streaming chat request.
func (c *Client) Chat(ctx context.Context, request llm.ChatRequest) (*llm.ChatResponse, error) {
	if request.Model == "" {
		request.Model = c.model
	}

	params, err := c.buildChatParams(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.openai.Chat.Completions.New(ctx, params, c.requestOptions(request)...)
	if err != nil {
		return nil, errors.Wrap(err, "openai chat completion failed")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.Wrap(llm.ErrEmptyResponse, "openai")
	}

	return &llm.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Message: llm.Message{
			Role:    strings.ToLower(string(resp.Choices[0].Message.Role)),
			Content: resp.Choices[0].Message.Content,
		},
		Usage: convertUsage(resp.Usage),
	}, nil
}

// ChatStream starts a streaming chat completion and returns incremental chunks.
func (c *Client) ChatStream(ctx context.Context, request llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if request.Model == "" {
		request.Model = c.model
	}

	params, err := c.buildChatParams(request)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.openai.Chat.Completions.NewStreaming(ctx, params, c.requestOptions(request)...)
	chunkChan := make(chan llm.StreamChunk, 10)

	go func() {
		defer close(chunkChan)
		defer stream.Close()

		var usage llm.Usage
		var id, model string
		for stream.Next() {
			chunk := stream.Current()
			id, model = chunk.ID, chunk.Model
			if chunk.Usage.TotalTokens > 0 {
				usage = convertUsage(chunk.Usage)
			}
			for _, choice := range chunk.Choices {
				delta := convertChunkDelta(choice.Delta)
				if delta.Content == "" && delta.Reasoning == "" {
					continue
				}
				if !send(ctx, chunkChan, llm.StreamChunk{ID: id, Model: model, Delta: delta}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, chunkChan, llm.StreamChunk{
				Error: errors.Wrap(err, "openai streaming error"),
				Done:  true,
			})
			return
		}
		send(ctx, chunkChan, llm.StreamChunk{ID: id, Model: model, Usage: usage, Done: true})
	}()

	return chunkChan, nil
}

// GenerateImages creates images with the Images API (gpt-image-1 and dall-e models).
func (c *Client) GenerateImages(ctx context.Context, request llm.ImageRequest) (*llm.ImageResponse, error) {
	if strings.TrimSpace(request.Prompt) == "" {
		return nil, errors.New("image prompt is empty")
	}
	params := openai.ImageGenerateParams{
		Prompt: request.Prompt,
		Model:  openai.ImageModel(request.Model),
	}
	if request.N > 0 {
		params.N = openai.Int(int64(request.N))
	}
	if request.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(request.Size)
	}
	if request.Quality != "" {
		params.Quality = openai.ImageGenerateParamsQuality(request.Quality)
	}
	if request.Background != "" {
		params.Background = openai.ImageGenerateParamsBackground(request.Background)
	}
	if request.OutputFormat != "" {
		params.OutputFormat = openai.ImageGenerateParamsOutputFormat(request.OutputFormat)
	}
	if request.OutputCompression > 0 {
		params.OutputCompression = openai.Int(int64(request.OutputCompression))
	}
	if request.Moderation != "" {
		params.Moderation = openai.ImageGenerateParamsModeration(request.Moderation)
	}

	resp, err := c.openai.Images.Generate(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "openai image generation failed")
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, errors.Wrap(llm.ErrEmptyResponse, "openai images")
	}

	result := &llm.ImageResponse{Images: make([]llm.GeneratedImage, 0, len(resp.Data))}
	for _, img := range resp.Data {
		result.Images = append(result.Images, llm.GeneratedImage{Base64: img.B64JSON, URL: img.URL})
	}
	result.Usage = llm.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return result, nil
}

func (c *Client) buildChatParams(req llm.ChatRequest) (openai.ChatCompletionNewParams, error) {
	messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.MaxTokens))
	}
	if effort := req.Options.ReasoningEffort; effort != "" && (c.flavor == FlavorOpenAI || c.flavor == FlavorAzure) {
		params.ReasoningEffort = shared.ReasoningEffort(effort)
	}
	if req.WebSearch && c.flavor == FlavorOpenAI {
		params.WebSearchOptions = openai.ChatCompletionNewParamsWebSearchOptions{
			SearchContextSize: "medium",
		}
	}

	return params, nil
}

// requestOptions adds body fields the SDK has no typed parameter for
func (c *Client) requestOptions(req llm.ChatRequest) []option.RequestOption {
	if c.flavor != FlavorOpenRouter || req.Options.Reasoning == nil {
		return nil
	}
	reasoning := map[string]any{}
	if req.Options.Reasoning.MaxTokens > 0 {
		reasoning["max_tokens"] = req.Options.Reasoning.MaxTokens
	}
	if req.Options.Reasoning.Effort != "" {
		reasoning["effort"] = req.Options.Reasoning.Effort
	}
	return []option.RequestOption{option.WithJSONSet("reasoning", reasoning)}
}

func convertMessages(system string, messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			if len(msg.Attachments) == 0 {
				result = append(result, openai.UserMessage(msg.Content))
				continue
			}
			result = append(result, openai.UserMessage(convertContentParts(msg)))
		case llm.RoleAssistant:
			result = append(result, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			return nil, errors.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func convertContentParts(msg llm.Message) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Attachments)+1)
	if msg.Content != "" {
		parts = append(parts, openai.TextContentPart(msg.Content))
	}
	for _, att := range msg.Attachments {
		url := dataURL(att)
		switch att.Kind {
		case llm.AttachmentImage:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		case llm.AttachmentPDF:
			parts = append(parts, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String(url),
				Filename: openai.String(att.Name),
			}))
		}
	}
	return parts
}

func dataURL(att llm.Attachment) string {
	return fmt.Sprintf("data:%s;base64,%s", att.MimeType, base64.StdEncoding.EncodeToString(att.Data))
}

// reasoningFields are the non-standard delta fields compatible providers stream thoughts in
var reasoningFields = []string{"reasoning_content", "reasoning"}

func convertChunkDelta(delta openai.ChatCompletionChunkChoiceDelta) llm.Delta {
	result := llm.Delta{
		Role:    delta.Role,
		Content: delta.Content,
	}
	for _, name := range reasoningFields {
		field, ok := delta.JSON.ExtraFields[name]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal([]byte(field.Raw()), &text); err == nil && text != "" {
			result.Reasoning = text
			break
		}
	}
	return result
}

func convertUsage(usage openai.CompletionUsage) llm.Usage {
	return llm.Usage{
		PromptTokens:     int(usage.PromptTokens),
		CompletionTokens: int(usage.CompletionTokens),
		TotalTokens:      int(usage.TotalTokens),
	}
}

func send(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func normalizeBaseURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultAPIBaseURL
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if !strings.HasSuffix(trimmed, "/v1") {
		trimmed += "/v1"
	}
	return trimmed
}
