package chatclient_test

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/chatclient"
	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
)

// Executed before test runs in this package (fails otherwise)
func TestMain(m *testing.M) {
	config.SetupEnv()
	config.SetupLogger()
	os.Exit(m.Run())
}

// scripted replays the same parts for every turn
type scripted struct {
	parts []stream.Part
	// openErr fails the next Open
	openErr error
	// gate, when set, holds the stream after its first part until closed
	gate chan struct{}

	mu       sync.Mutex
	requests []handlers.ChatRequest
}

func (s *scripted) Open(_ context.Context, req handlers.ChatRequest) (chatclient.PartSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := s.openErr; err != nil {
		s.openErr = nil
		return nil, err
	}
	return &scriptedSource{parts: s.parts, gate: s.gate}, nil
}

func (s *scripted) lastRequest() handlers.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type scriptedSource struct {
	parts []stream.Part
	gate  chan struct{}
	next  int
}

func (s *scriptedSource) Next() (stream.Part, error) {
	if s.next == 1 && s.gate != nil {
		<-s.gate
	}
	if s.next >= len(s.parts) {
		return stream.Part{}, io.EOF
	}
	s.next++
	return s.parts[s.next-1], nil
}

func (s *scriptedSource) Close() error { return nil }

// navigator records navigation calls
type navigator struct {
	mu    sync.Mutex
	calls []string
}

func (n *navigator) ReplaceThread(id uuid.UUID) { n.record("replace:" + id.String()) }
func (n *navigator) OpenThread(id uuid.UUID)    { n.record("open:" + id.String()) }

func (n *navigator) record(call string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
}

var (
	threadID  = uuid.MustParse("7c0e3f6a-4a55-4b8e-9a33-2a4e8f1b9c01")
	storedID  = uuid.MustParse("0d9a1b2c-3e4f-4a5b-8c6d-7e8f9a0b1c2d")
	startedAt = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

func textReply() []stream.Part {
	return []stream.Part{
		stream.ThreadID(threadID),
		stream.Reasoning("Thinking"),
		stream.Text("Hello "),
		stream.Text("there"),
		stream.Metrics(stream.MetricsData{
			PromptTokens:      10,
			CompletionTokens:  2,
			TotalTokens:       12,
			GenerationStartAt: startedAt,
			GenerationEndAt:   startedAt.Add(time.Second),
			Model:             "gpt-4o-mini",
			MessageID:         storedID,
		}),
		stream.Finish("stop", llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}),
	}
}

func TestSubmitAppliesStream(t *testing.T) {
	transport := &scripted{parts: textReply()}
	nav := &navigator{}
	client := chatclient.New(transport, chatclient.Config{Model: "gpt-4o-mini", Timezone: "UTC"}, chatclient.WithNavigator(nav))

	var statuses []chatclient.Status
	client.Observe(func(s chatclient.Snapshot) {
		if len(statuses) == 0 || statuses[len(statuses)-1] != s.Status {
			statuses = append(statuses, s.Status)
		}
	})

	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Hi", AttachmentIDs: []string{"a1"}}))

	assert.Equal(t, []chatclient.Status{chatclient.StatusSubmitted, chatclient.StatusStreaming, chatclient.StatusCompleted}, statuses)
	assert.Equal(t, threadID, client.ThreadID())
	assert.NoError(t, client.Err())

	messages := client.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, models.MessageRoleUser, messages[0].Role)
	assert.Equal(t, "Hi", messages[0].Text())

	reply := messages[1]
	assert.Equal(t, storedID.String(), reply.ID)
	assert.Equal(t, models.Parts{models.ReasoningPart{Reasoning: "Thinking"}, models.TextPart{Text: "Hello there"}}, reply.Parts)
	require.NotNil(t, reply.Usage)
	assert.Equal(t, 12, reply.Usage.TotalTokens)
	require.NotNil(t, reply.GenerationEndAt)
	assert.Equal(t, startedAt.Add(time.Second), *reply.GenerationEndAt)

	req := transport.lastRequest()
	assert.Empty(t, req.ThreadMetadata.ID)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, "UTC", req.UserInfo.Timezone)
	assert.Equal(t, []string{"a1"}, req.AttachmentIDs)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Hi", req.Messages[0].Content)

	// the thread is followed right away but only opened once the stream is done
	assert.Equal(t, []string{"replace:" + threadID.String(), "open:" + threadID.String()}, nav.calls)
}

func TestSubmitContinuesThread(t *testing.T) {
	transport := &scripted{parts: textReply()}
	nav := &navigator{}
	history := []chatclient.Message{
		{ID: uuid.NewString(), Role: models.MessageRoleUser, Parts: models.Parts{models.TextPart{Text: "Before"}}},
		{ID: uuid.NewString(), Role: models.MessageRoleAssistant, Parts: models.Parts{models.TextPart{Text: "Answer"}}},
	}
	client := chatclient.New(transport, chatclient.Config{Model: "gpt-4o-mini"},
		chatclient.WithThread(threadID, history), chatclient.WithNavigator(nav))

	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Again"}))
	assert.Len(t, client.Messages(), 4)
	assert.Equal(t, threadID.String(), transport.lastRequest().ThreadMetadata.ID)
	assert.Len(t, transport.lastRequest().Messages, 3)
	// same thread, no navigation
	assert.Empty(t, nav.calls)
}

func TestSnapshotsAreNeverModified(t *testing.T) {
	client := chatclient.New(&scripted{parts: textReply()}, chatclient.Config{Model: "gpt-4o-mini"})

	var snapshots []chatclient.Snapshot
	var copies [][]chatclient.Message
	client.Observe(func(s chatclient.Snapshot) {
		snapshots = append(snapshots, s)
		deep := make([]chatclient.Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			m.Parts = append(models.Parts(nil), m.Parts...)
			deep = append(deep, m)
		}
		copies = append(copies, deep)
	})
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Hi"}))

	require.NotEmpty(t, snapshots)
	for i, s := range snapshots {
		assert.Equal(t, copies[i], s.Messages, "snapshot %d changed after it was published", i)
	}
}

func TestMetricsFallBackToLastAssistant(t *testing.T) {
	parts := []stream.Part{
		stream.Text("Hi"),
		stream.Metrics(stream.MetricsData{TotalTokens: 3, Model: "gpt-4o-mini", MessageID: storedID}),
	}
	client := chatclient.New(&scripted{parts: parts}, chatclient.Config{Model: "gpt-4o-mini"})
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Hello"}))

	messages := client.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, storedID.String(), messages[1].ID)
	assert.Equal(t, 3, messages[1].Usage.TotalTokens)
}

func TestMetricsWithoutAssistantAreDropped(t *testing.T) {
	parts := []stream.Part{
		stream.Metrics(stream.MetricsData{TotalTokens: 3, MessageID: storedID}),
	}
	client := chatclient.New(&scripted{parts: parts}, chatclient.Config{Model: "gpt-4o-mini"})
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Hello"}))

	messages := client.Messages()
	require.Len(t, messages, 1)
	assert.Nil(t, messages[0].Usage)
}

func TestImagesAttachByID(t *testing.T) {
	parts := []stream.Part{
		stream.ThreadID(threadID),
		stream.Images(stream.ImagesData{
			Images:            []llm.GeneratedImage{{Base64: "aW1n"}, {URL: "https://images.example.com/1.png"}},
			MessageID:         storedID,
			Model:             "gpt-image-1",
			GenerationStartAt: startedAt,
			GenerationEndAt:   startedAt.Add(3 * time.Second),
		}),
		stream.Finish("stop", llm.Usage{}),
	}
	client := chatclient.New(&scripted{parts: parts}, chatclient.Config{Model: "gpt-image-1"})
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Draw a cat"}))

	assert.Equal(t, chatclient.StatusCompleted, client.Status())
	messages := client.Messages()
	require.Len(t, messages, 2)
	reply := messages[1]
	assert.Equal(t, storedID.String(), reply.ID)
	assert.Equal(t, models.MessageRoleAssistant, reply.Role)
	assert.Equal(t, "gpt-image-1", reply.Model)
	assert.Equal(t, models.Parts{
		models.FilePart{MimeType: "image/png", Data: "data:image/png;base64,aW1n"},
		models.FilePart{MimeType: "image/png", URL: "https://images.example.com/1.png"},
	}, reply.Parts)
}

func TestStreamErrorEndsTurn(t *testing.T) {
	parts := []stream.Part{
		stream.ThreadID(threadID),
		stream.Text("Hal"),
		stream.Error("provider unavailable"),
	}
	nav := &navigator{}
	client := chatclient.New(&scripted{parts: parts}, chatclient.Config{Model: "gpt-4o-mini"}, chatclient.WithNavigator(nav))

	err := client.Submit(context.Background(), chatclient.Turn{Text: "Hello"})
	var streamErr *chatclient.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "provider unavailable", streamErr.Message)
	assert.Equal(t, chatclient.StatusError, client.Status())
	assert.Equal(t, err, client.Err())
	// the thread exists on the server, so it is opened anyway
	assert.Contains(t, nav.calls, "open:"+threadID.String())
}

func TestOpenFailureEndsTurn(t *testing.T) {
	refused := &chatclient.RequestError{Status: 400, Code: handlers.CodeModelUnavailable, Message: "model not found"}
	transport := &scripted{parts: textReply(), openErr: refused}
	client := chatclient.New(transport, chatclient.Config{Model: "gpt-17"})

	err := client.Submit(context.Background(), chatclient.Turn{Text: "Hello"})
	assert.Equal(t, refused, err)
	assert.Equal(t, chatclient.StatusError, client.Status())
	require.Len(t, client.Messages(), 1)

	// a failed turn can be retried with another model
	require.NoError(t, client.Retry(context.Background(), client.Messages()[0].ID, "gpt-4o-mini"))
	assert.Equal(t, "gpt-4o-mini", transport.lastRequest().Model)
	assert.Equal(t, chatclient.StatusCompleted, client.Status())
	assert.Len(t, client.Messages(), 2)
}

func TestEmptyTurnIsRejected(t *testing.T) {
	client := chatclient.New(&scripted{}, chatclient.Config{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, client.Submit(context.Background(), chatclient.Turn{Text: "  "}), chatclient.ErrEmptyTurn)
	assert.Equal(t, chatclient.StatusIdle, client.Status())
	assert.Empty(t, client.Messages())

	// attachments alone are enough
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{AttachmentIDs: []string{"a1"}}))
}

func TestBusyWhileStreaming(t *testing.T) {
	gate := make(chan struct{})
	client := chatclient.New(&scripted{parts: textReply(), gate: gate}, chatclient.Config{Model: "gpt-4o-mini"})

	done := make(chan error, 1)
	go func() {
		done <- client.Submit(context.Background(), chatclient.Turn{Text: "Hi"})
	}()
	require.Eventually(t, func() bool {
		return client.Status() == chatclient.StatusSubmitted
	}, time.Second, time.Millisecond)

	userID := client.Messages()[0].ID
	assert.ErrorIs(t, client.Submit(context.Background(), chatclient.Turn{Text: "More"}), chatclient.ErrBusy)
	assert.ErrorIs(t, client.Edit(context.Background(), userID, "Changed"), chatclient.ErrBusy)
	assert.ErrorIs(t, client.Retry(context.Background(), userID, ""), chatclient.ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, chatclient.StatusCompleted, client.Status())
	assert.Len(t, client.Messages(), 2)
}

func TestEdit(t *testing.T) {
	transport := &scripted{parts: textReply()}
	client := chatclient.New(transport, chatclient.Config{Model: "gpt-4o-mini"})
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "First"}))
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Second"}))
	require.Len(t, client.Messages(), 4)

	first := client.Messages()[0]
	require.NoError(t, client.Edit(context.Background(), first.ID, "First, edited"))

	messages := client.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "First, edited", messages[0].Text())
	assert.NotEqual(t, first.ID, messages[0].ID)
	require.Len(t, transport.lastRequest().Messages, 1)

	// only user messages can be edited
	assert.ErrorIs(t, client.Edit(context.Background(), messages[1].ID, "x"), chatclient.ErrMessageNotFound)
	assert.ErrorIs(t, client.Edit(context.Background(), "unknown", "x"), chatclient.ErrMessageNotFound)
}

func TestRetry(t *testing.T) {
	transport := &scripted{parts: textReply()}
	client := chatclient.New(transport, chatclient.Config{Model: "gpt-4o-mini"})
	require.NoError(t, client.Submit(context.Background(), chatclient.Turn{Text: "Question", AttachmentIDs: []string{"a1"}}))
	reply := client.Messages()[1]

	require.NoError(t, client.Retry(context.Background(), reply.ID, "claude-sonnet-4"))

	messages := client.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "Question", messages[0].Text())
	req := transport.lastRequest()
	assert.Equal(t, "claude-sonnet-4", req.Model)
	assert.Equal(t, []string{"a1"}, req.AttachmentIDs)

	assert.ErrorIs(t, client.Retry(context.Background(), "unknown", ""), chatclient.ErrMessageNotFound)
}

func TestRetryWithoutQuestion(t *testing.T) {
	history := []chatclient.Message{
		{ID: "greeting", Role: models.MessageRoleAssistant, Parts: models.Parts{models.TextPart{Text: "Welcome"}}},
	}
	client := chatclient.New(&scripted{}, chatclient.Config{}, chatclient.WithThread(threadID, history))
	assert.ErrorIs(t, client.Retry(context.Background(), "greeting", ""), chatclient.ErrNoUserMessage)
}

func TestRetryLooksUpAttachments(t *testing.T) {
	transport := &listingTransport{scripted: scripted{parts: textReply()}, ids: []string{"a7"}}
	history := []chatclient.Message{{
		ID:   "q1",
		Role: models.MessageRoleUser,
		Parts: models.Parts{
			models.TextPart{Text: "What is this?"},
			models.FilePart{MimeType: "image/png", Data: "data:image/png;base64,aW1n"},
		},
	}}
	client := chatclient.New(transport, chatclient.Config{Model: "gpt-4o-mini"}, chatclient.WithThread(threadID, history))

	require.NoError(t, client.Retry(context.Background(), "q1", ""))
	assert.Equal(t, []string{"q1"}, transport.looked)
	assert.Equal(t, []string{"a7"}, transport.lastRequest().AttachmentIDs)
}

type listingTransport struct {
	scripted
	ids    []string
	looked []string
}

func (l *listingTransport) MessageAttachments(_ context.Context, messageID string) ([]string, error) {
	l.looked = append(l.looked, messageID)
	return l.ids, nil
}
