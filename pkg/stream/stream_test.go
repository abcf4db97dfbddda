package stream_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
)

func TestPartEncoding(t *testing.T) {
	threadID := uuid.MustParse("7d4f2b57-1c39-4c1a-8f3c-5c7c0e4b2f10")
	tests := []struct {
		name string
		part stream.Part
		want string
	}{
		{"text", stream.Text("Hel\"lo\n"), `0:"Hel\"lo\n"` + "\n"},
		{"reasoning", stream.Reasoning("hmm"), "g:\"hmm\"\n"},
		{"error", stream.Error("boom"), "3:\"boom\"\n"},
		{"thread", stream.ThreadID(threadID), `2:[{"threadId":"7d4f2b57-1c39-4c1a-8f3c-5c7c0e4b2f10"}]` + "\n"},
		{"finish", stream.Finish("stop", llm.Usage{TotalTokens: 3}),
			`d:{"finishReason":"stop","usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":3}}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.part.Encode()))
		})
	}
}

func TestWriterAndReader(t *testing.T) {
	rec := httptest.NewRecorder()
	w := stream.NewWriter(rec)
	assert.False(t, w.Started())

	threadID := uuid.New()
	messageID := uuid.New()
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	parts := []stream.Part{
		stream.ThreadID(threadID),
		stream.Reasoning("think"),
		stream.Text("Hello"),
		stream.Metrics(stream.MetricsData{
			TokensPerSecond:   12.5,
			CompletionTokens:  5,
			GenerationStartAt: start,
			GenerationEndAt:   start.Add(400 * time.Millisecond),
			Model:             "gpt-4o",
			MessageID:         messageID,
		}),
		stream.Images(stream.ImagesData{
			Images:    []llm.GeneratedImage{{Base64: "aGk="}},
			MessageID: messageID,
			Model:     "gpt-image-1",
		}),
		stream.Finish("stop", llm.Usage{}),
	}
	for _, p := range parts {
		require.NoError(t, w.Send(p))
	}
	assert.True(t, w.Started())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get(stream.HeaderName))

	r := stream.NewReader(bytes.NewReader(rec.Body.Bytes()))
	var decoded []stream.Part
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		decoded = append(decoded, p)
	}
	require.Len(t, decoded, len(parts))

	events, err := decoded[0].Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, threadID, events[0].Thread.ThreadID)

	text, err := decoded[2].DecodeString()
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	events, err = decoded[3].Events()
	require.NoError(t, err)
	require.NotNil(t, events[0].Metrics)
	assert.Equal(t, messageID, events[0].Metrics.MessageID)
	assert.True(t, start.Equal(events[0].Metrics.GenerationStartAt))

	events, err = decoded[4].Events()
	require.NoError(t, err)
	require.NotNil(t, events[0].Images)
	assert.Equal(t, "aGk=", events[0].Images.Images[0].Base64)

	_, err = decoded[1].Events()
	assert.Error(t, err)
}

func TestParseLineRejectsMalformed(t *testing.T) {
	for _, line := range []string{"no prefix", ":\"x\"", "0:not json"} {
		_, err := stream.ParseLine([]byte(line))
		assert.True(t, errors.Is(err, stream.ErrMalformedPart), line)
	}
}

func TestUnknownEnvelopesAreSkipped(t *testing.T) {
	part, err := stream.ParseLine([]byte(`2:[{"type":"sources","data":[]}]`))
	require.NoError(t, err)
	events, err := part.Events()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestChunker(t *testing.T) {
	tests := []struct {
		mode   string
		deltas []string
		want   []string
	}{
		{"", []string{"a", "b"}, []string{"a", "b", ""}},
		{stream.ChunkWord, []string{"Hel", "lo wo", "rld"}, []string{"", "Hello ", "", "world"}},
		{stream.ChunkLine, []string{"one\ntw", "o", "\nthree"}, []string{"one\n", "", "two\n", "three"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			c := stream.Chunker{Mode: tt.mode}
			var got []string
			for _, d := range tt.deltas {
				got = append(got, c.Push(d))
			}
			got = append(got, c.Flush())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.Join(tt.deltas, ""), strings.Join(got, ""))
		})
	}
}
