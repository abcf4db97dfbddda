package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
)

var streamEvents = []struct{ name, data string }{
	{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-0","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`},
	{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me see"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":0}`},
	{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hi "}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"there"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":1}`},
	{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":7}}`},
	{"message_stop", `{"type":"message_stop"}`},
}

func TestChatStream(t *testing.T) {
	var seen map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &seen))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range streamEvents {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, e.data)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "claude-sonnet-4-0"})
	ch, err := client.ChatStream(context.Background(), llm.ChatRequest{
		System:   "be brief",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
		Options:  llm.ProviderOptions{Thinking: &llm.ThinkingOptions{Type: "enabled", BudgetTokens: 12000}},
	})
	require.NoError(t, err)

	var text, reasoning string
	var last llm.StreamChunk
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		text += chunk.Delta.Content
		reasoning += chunk.Delta.Reasoning
		last = chunk
	}
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, "let me see", reasoning)
	assert.True(t, last.Done)
	assert.Equal(t, llm.Usage{PromptTokens: 10, CompletionTokens: 7, TotalTokens: 17}, last.Usage)

	assert.Equal(t, "claude-sonnet-4-0", seen["model"])
	assert.Equal(t, float64(12000), seen["thinking"].(map[string]any)["budget_tokens"])
	assert.Equal(t, float64(12000+defaultMaxTokens), seen["max_tokens"])
}

func TestBuildParams(t *testing.T) {
	client := NewClient(Config{APIKey: "k", Model: "claude-3-5-haiku-latest"})
	temperature := 0.3

	tests := []struct {
		name            string
		req             llm.ChatRequest
		wantThinking    bool
		wantTemperature bool
		wantMaxTokens   int64
	}{
		{
			name:            "plain",
			req:             llm.ChatRequest{Temperature: &temperature},
			wantTemperature: true,
			wantMaxTokens:   defaultMaxTokens,
		},
		{
			name: "thinking drops temperature and raises the floor",
			req: llm.ChatRequest{
				Temperature: &temperature,
				Options:     llm.ProviderOptions{Thinking: &llm.ThinkingOptions{Type: "enabled", BudgetTokens: 10}},
			},
			wantThinking:  true,
			wantMaxTokens: defaultMaxTokens,
		},
		{
			name:          "disabled thinking is ignored",
			req:           llm.ChatRequest{Options: llm.ProviderOptions{Thinking: &llm.ThinkingOptions{Type: "disabled"}}},
			wantMaxTokens: defaultMaxTokens,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Messages = []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
			params, err := client.buildParams(tt.req)
			require.NoError(t, err)

			raw, err := json.Marshal(params)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))

			assert.Equal(t, "claude-3-5-haiku-latest", body["model"])
			assert.Equal(t, float64(tt.wantMaxTokens), body["max_tokens"])
			_, hasThinking := body["thinking"]
			assert.Equal(t, tt.wantThinking, hasThinking)
			_, hasTemperature := body["temperature"]
			assert.Equal(t, tt.wantTemperature, hasTemperature)
			if tt.wantThinking {
				assert.Equal(t, float64(minThinkingBudget), body["thinking"].(map[string]any)["budget_tokens"])
			}
		})
	}
}

func TestConvertMessages(t *testing.T) {
	messages, err := convertMessages([]llm.Message{
		{Role: llm.RoleUser, Content: "describe", Attachments: []llm.Attachment{
			{Kind: llm.AttachmentImage, MimeType: "image/png", Data: []byte("png")},
			{Kind: llm.AttachmentPDF, MimeType: "application/pdf", Data: []byte("pdf")},
		}},
		{Role: llm.RoleAssistant, Content: ""},
		{Role: llm.RoleAssistant, Content: "sure"},
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Len(t, messages[0].Content, 3)

	_, err = convertMessages([]llm.Message{{Role: llm.RoleSystem, Content: "x"}})
	assert.Error(t, err)
}
