package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"

	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Client implements the LLM client interface for Ollama
type Client struct {
	baseURL    string
	httpClient *http.Client
	model      string
}

// Config holds configuration for the Ollama client
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewClient creates a new Ollama client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "llama3.2"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	logging.LogDebugf("Initialized Ollama client with URL: %s (model: %s, timeout: %s)",
		config.BaseURL, config.Model, config.Timeout)

	return &Client{
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Chat sends a chat request and returns the complete response
func (c *Client) Chat(ctx context.Context, request llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.post(ctx, request, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ollamaResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	logging.LogDebugf("Received Ollama response: role=%s content_len=%d",
		ollamaResp.Message.Role, len(ollamaResp.Message.Content))

	return &llm.ChatResponse{
		ID:    ollamaResp.Model,
		Model: ollamaResp.Model,
		Message: llm.Message{
			Role:    ollamaResp.Message.Role,
			Content: ollamaResp.Message.Content,
		},
		Usage: ollamaResp.usage(),
	}, nil
}

// ChatStream sends a chat request and returns a channel for streaming responses
func (c *Client) ChatStream(ctx context.Context, request llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := c.post(ctx, request, true)
	if err != nil {
		return nil, err
	}

	chunkChan := make(chan llm.StreamChunk, 10)
	go c.streamResponse(ctx, resp.Body, chunkChan)
	return chunkChan, nil
}

func (c *Client) post(ctx context.Context, request llm.ChatRequest, stream bool) (*http.Response, error) {
	if request.Model == "" {
		request.Model = c.model
	}
	reqData, err := json.Marshal(convertToOllamaRequest(request, stream))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	logging.LogDebugf("Sending Ollama chat request: model=%s messages=%d stream=%t",
		request.Model, len(request.Messages), stream)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(reqData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(llm.ErrConnectionFailed, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.Wrapf(llm.ErrRequestFailed, "ollama error %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// streamResponse reads streaming responses and sends them to the channel
func (c *Client) streamResponse(ctx context.Context, body io.ReadCloser, chunkChan chan<- llm.StreamChunk) {
	defer close(chunkChan)
	defer body.Close()

	emit := func(chunk llm.StreamChunk) bool {
		select {
		case chunkChan <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ollamaChunk ollamaChatResponse
		if err := json.Unmarshal(line, &ollamaChunk); err != nil {
			emit(llm.StreamChunk{
				Error: errors.Wrap(err, "failed to unmarshal chunk"),
				Done:  true,
			})
			return
		}

		chunk := llm.StreamChunk{
			ID:    ollamaChunk.Model,
			Model: ollamaChunk.Model,
			Delta: llm.Delta{
				Role:      ollamaChunk.Message.Role,
				Content:   ollamaChunk.Message.Content,
				Reasoning: ollamaChunk.Message.Thinking,
			},
			Done: ollamaChunk.Done,
		}
		if ollamaChunk.Done {
			chunk.Usage = ollamaChunk.usage()
		}
		if !emit(chunk) {
			return
		}

		if ollamaChunk.Done {
			logging.LogDebugf("Ollama streaming complete")
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	emit(llm.StreamChunk{
		Error: errors.Wrap(err, "error reading stream"),
		Done:  true,
	})
}

// Helper types for Ollama API

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Think    bool                   `json:"think,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role     string   `json:"role"`
	Content  string   `json:"content,omitempty"`
	Thinking string   `json:"thinking,omitempty"`
	Images   []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (r ollamaChatResponse) usage() llm.Usage {
	return llm.Usage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

// convertToOllamaRequest converts standard request to Ollama format
func convertToOllamaRequest(req llm.ChatRequest, stream bool) ollamaChatRequest {
	ollamaReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)+1),
		Stream:   stream,
		Think:    req.Options.ReasoningEffort != "",
		Options:  make(map[string]interface{}),
	}

	if req.System != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: llm.RoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		m := ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		// Ollama only understands inline images
		for _, att := range msg.Attachments {
			if att.Kind == llm.AttachmentImage {
				m.Images = append(m.Images, base64.StdEncoding.EncodeToString(att.Data))
			}
		}
		ollamaReq.Messages = append(ollamaReq.Messages, m)
	}

	if req.Temperature != nil {
		ollamaReq.Options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		ollamaReq.Options["num_predict"] = *req.MaxTokens
	}

	return ollamaReq
}
