package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
)

func TestThinkExtractor(t *testing.T) {
	tests := []struct {
		name          string
		chunks        []string
		wantContent   string
		wantReasoning string
	}{
		{"no tags", []string{"plain ", "text"}, "plain text", ""},
		{"single chunk", []string{"<think>why</think>answer"}, "answer", "why"},
		{"split tags", []string{"<thi", "nk>rea", "son</th", "ink>ans", "wer"}, "answer", "reason"},
		{"lookalike text", []string{"a <b> and <th", "ing>"}, "a <b> and <thing>", ""},
		{"unterminated", []string{"<think>still going"}, "", "still going"},
		{"dangling prefix", []string{"ends with <"}, "ends with <", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e llm.ThinkExtractor
			var content, reasoning string
			for _, c := range tt.chunks {
				out := e.Process(llm.Delta{Content: c})
				content += out.Content
				reasoning += out.Reasoning
			}
			out := e.Flush()
			content += out.Content
			reasoning += out.Reasoning

			assert.Equal(t, tt.wantContent, content)
			assert.Equal(t, tt.wantReasoning, reasoning)
		})
	}
}
