package google

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{APIKey: "k", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	return client
}

func TestBuildRequest(t *testing.T) {
	client := newTestClient(t)
	include := true
	budget := 2048

	model, contents, config := client.buildRequest(llm.ChatRequest{
		System: "system prompt",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "look", Attachments: []llm.Attachment{
				{Kind: llm.AttachmentImage, MimeType: "image/webp", Data: []byte("webp")},
			}},
			{Role: llm.RoleAssistant, Content: "a cat"},
			{Role: llm.RoleAssistant},
		},
		WebSearch: true,
		Options: llm.ProviderOptions{GoogleThinking: &llm.GoogleThinkingOptions{
			IncludeThoughts: &include,
			ThinkingBudget:  &budget,
		}},
	})

	assert.Equal(t, "gemini-2.5-flash", model)
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "image/webp", contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, "look", contents[0].Parts[1].Text)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "system prompt", config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, config.ThinkingConfig)
	assert.True(t, config.ThinkingConfig.IncludeThoughts)
	assert.Equal(t, int32(2048), *config.ThinkingConfig.ThinkingBudget)
	require.Len(t, config.Tools, 1)
	assert.NotNil(t, config.Tools[0].GoogleSearch)
}

func TestBuildRequestWithoutOptions(t *testing.T) {
	client := newTestClient(t)
	_, _, config := client.buildRequest(llm.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	assert.Nil(t, config.ThinkingConfig)
	assert.Nil(t, config.SystemInstruction)
	assert.Empty(t, config.Tools)
}

func TestDeltasSplitThoughts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "pondering", Thought: true},
			{Text: "answer"},
			{Text: ""},
		}}}, {}},
	}
	assert.Equal(t, []llm.Delta{{Reasoning: "pondering"}, {Content: "answer"}}, deltas(resp))
}

func TestConvertUsage(t *testing.T) {
	assert.Equal(t, llm.Usage{}, convertUsage(nil))
	assert.Equal(t, llm.Usage{PromptTokens: 4, CompletionTokens: 9, TotalTokens: 13}, convertUsage(
		&genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     4,
			CandidatesTokenCount: 6,
			ThoughtsTokenCount:   3,
			TotalTokenCount:      13,
		}))
}
