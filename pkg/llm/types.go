package llm

import (
	"context"
)

// Client defines the interface for chat model providers
type Client interface {
	// Chat sends a chat request and returns the complete response
	Chat(ctx context.Context, request ChatRequest) (*ChatResponse, error)

	// ChatStream sends a chat request and returns a channel for streaming responses.
	// The channel is closed after a chunk with Done set; cancelling ctx aborts the call.
	ChatStream(ctx context.Context, request ChatRequest) (<-chan StreamChunk, error)
}

// ImageGenerator is implemented by providers that can create images
type ImageGenerator interface {
	GenerateImages(ctx context.Context, request ImageRequest) (*ImageResponse, error)
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	// WebSearch asks the provider to ground the reply with its search tool
	WebSearch bool            `json:"web_search,omitempty"`
	Options   ProviderOptions `json:"options,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string  `json:"id"`
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Usage   Usage   `json:"usage,omitempty"`
}

// StreamChunk represents a streaming response chunk
type StreamChunk struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Delta Delta  `json:"delta"`
	Usage Usage  `json:"usage,omitempty"`
	Done  bool   `json:"done"`
	Error error  `json:"-"`
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content,omitempty"`
	// Attachments are binary inputs of a user message
	Attachments []Attachment `json:"attachments,omitempty"`
}

// AttachmentKind tells providers how to present an attachment
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
)

// Attachment is an image or document sent along with a user message
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	MimeType string         `json:"mime_type"`
	Name     string         `json:"name,omitempty"`
	Data     []byte         `json:"-"`
}

// Delta represents incremental content in a stream
type Delta struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero reports whether no counts were reported
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// ProviderOptions are provider specific knobs. Each provider reads only its own fields.
type ProviderOptions struct {
	// ReasoningEffort is low, medium or high (openai, azure)
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	// Thinking enables extended thinking (anthropic)
	Thinking *ThinkingOptions `json:"thinking,omitempty"`
	// GoogleThinking configures thought output (google)
	GoogleThinking *GoogleThinkingOptions `json:"google_thinking,omitempty"`
	// Reasoning is passed through as the "reasoning" request field (openrouter)
	Reasoning *ReasoningOptions `json:"reasoning,omitempty"`
}

// ThinkingOptions configure anthropic extended thinking
type ThinkingOptions struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// GoogleThinkingOptions configure gemini thoughts
type GoogleThinkingOptions struct {
	IncludeThoughts *bool `json:"include_thoughts,omitempty"`
	ThinkingBudget  *int  `json:"thinking_budget,omitempty"`
}

// ReasoningOptions configure openrouter reasoning
type ReasoningOptions struct {
	MaxTokens int    `json:"max_tokens,omitempty"`
	Effort    string `json:"effort,omitempty"`
}

// ImageRequest asks for one or more generated images
type ImageRequest struct {
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	N                 int    `json:"n"`
	Size              string `json:"size,omitempty"`
	Quality           string `json:"quality,omitempty"`
	Background        string `json:"background,omitempty"`
	OutputFormat      string `json:"output_format,omitempty"`
	OutputCompression int    `json:"output_compression,omitempty"`
	Moderation        string `json:"moderation,omitempty"`
}

// GeneratedImage is one image, inline or by URL
type GeneratedImage struct {
	Base64 string `json:"base64,omitempty"`
	URL    string `json:"url,omitempty"`
}

// ImageResponse holds the images of one generation call
type ImageResponse struct {
	Images []GeneratedImage `json:"images"`
	Usage  Usage            `json:"usage,omitempty"`
}

// Role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
