package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
)

func sseServer(t *testing.T, chunks []string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			require.NoError(t, json.Unmarshal(body, seen))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, ch <-chan llm.StreamChunk) (text, reasoning string, last llm.StreamChunk) {
	t.Helper()
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		text += chunk.Delta.Content
		reasoning += chunk.Delta.Reasoning
		last = chunk
	}
	return text, reasoning, last
}

const chunkTemplate = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":%s,"finish_reason":null}]}`

func TestChatStream(t *testing.T) {
	var seen map[string]any
	server := sseServer(t, []string{
		fmt.Sprintf(chunkTemplate, `{"role":"assistant","reasoning_content":"thinking"}`),
		fmt.Sprintf(chunkTemplate, `{"content":"Hel"}`),
		fmt.Sprintf(chunkTemplate, `{"content":"lo"}`),
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
	}, &seen)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Flavor: FlavorDeepSeek})
	ch, err := client.ChatStream(context.Background(), llm.ChatRequest{
		Model:    "deepseek-reasoner",
		System:   "be nice",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	text, reasoning, last := collect(t, ch)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, "thinking", reasoning)
	assert.True(t, last.Done)
	assert.Equal(t, llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, last.Usage)

	messages := seen["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, true, seen["stream"])
}

func TestChatStreamOpenRouterReasoning(t *testing.T) {
	var seen map[string]any
	server := sseServer(t, []string{fmt.Sprintf(chunkTemplate, `{"content":"ok"}`)}, &seen)
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Flavor: FlavorOpenRouter})
	ch, err := client.ChatStream(context.Background(), llm.ChatRequest{
		Model:    "deepseek/deepseek-r1",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Options: llm.ProviderOptions{
			Reasoning:       &llm.ReasoningOptions{Effort: "high"},
			ReasoningEffort: "low",
		},
	})
	require.NoError(t, err)
	text, _, _ := collect(t, ch)
	assert.Equal(t, "ok", text)

	assert.Equal(t, map[string]any{"effort": "high"}, seen["reasoning"])
	assert.NotContains(t, seen, "reasoning_effort")
}

func TestChatStreamProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	ch, err := client.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var failed bool
	for chunk := range ch {
		if chunk.Error != nil {
			failed = true
			assert.True(t, chunk.Done)
		}
	}
	assert.True(t, failed)
}

func TestConvertMessagesWithAttachments(t *testing.T) {
	messages, err := convertMessages("", []llm.Message{{
		Role:    llm.RoleUser,
		Content: "what is this",
		Attachments: []llm.Attachment{
			{Kind: llm.AttachmentImage, MimeType: "image/png", Data: []byte("png")},
			{Kind: llm.AttachmentPDF, MimeType: "application/pdf", Name: "a.pdf", Data: []byte("pdf")},
		},
	}})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	raw, err := json.Marshal(messages[0])
	require.NoError(t, err)
	body := string(raw)
	assert.True(t, strings.Contains(body, "data:image/png;base64,cG5n"), body)
	assert.True(t, strings.Contains(body, `"filename":"a.pdf"`), body)

	_, err = convertMessages("", []llm.Message{{Role: "tool"}})
	assert.Error(t, err)
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", defaultAPIBaseURL},
		{"https://api.deepseek.com/v1/", "https://api.deepseek.com/v1"},
		{"http://localhost:8080", "http://localhost:8080/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeBaseURL(tt.in))
		})
	}
}
