package generation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/generation"
	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/reconcile"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
)

type fakeClient struct {
	chunks []llm.StreamChunk
	err    error
	// hold keeps the stream open until the context is cancelled
	hold bool
	got  llm.ChatRequest
}

func (f *fakeClient) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: "Generated title"}}, nil
}

func (f *fakeClient) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range f.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

type fakeImager struct {
	resp *llm.ImageResponse
	err  error
	got  llm.ImageRequest
}

func (f *fakeImager) GenerateImages(_ context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	f.got = req
	return f.resp, f.err
}

// cancelSink cancels the generation once the first text part arrives
type cancelSink struct {
	stream.Recorder
	cancel context.CancelFunc
}

func (c *cancelSink) Send(part stream.Part) error {
	if part.Type == stream.PartText {
		c.cancel()
	}
	return c.Recorder.Send(part)
}

type fixture struct {
	store    *store.Store
	blobs    storage.BlobStore
	userID   uuid.UUID
	threadID uuid.UUID
	target   uuid.UUID
}

var textModel = registry.ModelInfo{
	Key:          "gpt-4o-mini",
	ID:           "gpt-4o-mini",
	Provider:     registry.ProviderOpenAI,
	Capabilities: []registry.Capability{registry.CapabilityVision, registry.CapabilitySearch},
}

var imageModel = registry.ModelInfo{
	Key:          "gpt-image-1",
	ID:           "gpt-image-1",
	Provider:     registry.ProviderOpenAI,
	Capabilities: []registry.Capability{registry.CapabilityImages},
}

// newFixture persists a pending user turn in a generating thread
func newFixture(t *testing.T, text string, attachmentIDs ...uuid.UUID) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.New(models.InitializeTestDB(t))
	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	userID := uuid.New()
	thread, _, err := s.EnsureThread(ctx, userID, nil)
	require.NoError(t, err)

	incoming := []models.Message{{ID: uuid.New(), Role: models.MessageRoleUser, Parts: models.Parts{models.TextPart{Text: text}}}}
	plan, err := reconcile.Reconcile(thread.ID, incoming, nil, textModel.Key)
	require.NoError(t, err)
	require.NoError(t, s.ApplyPlan(ctx, userID, thread.ID, plan, attachmentIDs))
	require.NoError(t, s.UpdateThreadStatus(ctx, thread.ID, models.GenerationStatusGenerating))

	return &fixture{store: s, blobs: blobs, userID: userID, threadID: thread.ID, target: plan.GenerationTargetID}
}

func (f *fixture) request(t *testing.T, info registry.ModelInfo) generation.Request {
	t.Helper()
	messages, err := f.store.ListMessages(context.Background(), f.threadID)
	require.NoError(t, err)
	return generation.Request{
		UserID:      f.userID,
		ThreadID:    f.threadID,
		TargetID:    f.target,
		Info:        info,
		Messages:    messages,
		Credentials: credentials.Bundle{Provider: info.Provider, APIKey: "sk-test", ModelID: info.ID},
		Timezone:    "Europe/Berlin",
	}
}

func (f *fixture) dispatcher(client llm.Client, imager llm.ImageGenerator) *generation.Dispatcher {
	return generation.NewDispatcher(f.store, f.blobs,
		func(context.Context, credentials.Bundle) (llm.Client, error) { return client, nil },
		func(credentials.Bundle) (llm.ImageGenerator, error) { return imager, nil },
	)
}

func (f *fixture) messages(t *testing.T) []models.Message {
	t.Helper()
	messages, err := f.store.ListMessages(context.Background(), f.threadID)
	require.NoError(t, err)
	return messages
}

func (f *fixture) thread(t *testing.T) *models.Thread {
	t.Helper()
	thread, err := f.store.GetThread(context.Background(), f.userID, f.threadID)
	require.NoError(t, err)
	return thread
}

func events(t *testing.T, parts []stream.Part) []stream.Event {
	t.Helper()
	var all []stream.Event
	for _, p := range parts {
		evs, err := p.Events()
		require.NoError(t, err)
		all = append(all, evs...)
	}
	return all
}

func TestDispatchText(t *testing.T) {
	f := newFixture(t, "Hello")
	client := &fakeClient{chunks: []llm.StreamChunk{
		{Delta: llm.Delta{Reasoning: "The user greets me."}},
		{Delta: llm.Delta{Content: "Hi "}},
		{Delta: llm.Delta{Content: "there!"}},
		{Usage: llm.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}, Done: true},
	}}
	rec := &stream.Recorder{}

	err := f.dispatcher(client, nil).Dispatch(context.Background(), f.request(t, textModel), rec)
	require.NoError(t, err)

	// the thread id comes first, metrics and finish come last
	require.GreaterOrEqual(t, len(rec.Parts), 5)
	first := events(t, rec.Parts[:1])
	require.Len(t, first, 1)
	require.NotNil(t, first[0].Thread)
	assert.Equal(t, f.threadID, first[0].Thread.ThreadID)
	assert.Equal(t, stream.PartFinish, rec.Parts[len(rec.Parts)-1].Type)
	assert.Equal(t, stream.PartData, rec.Parts[len(rec.Parts)-2].Type)

	var text string
	for _, p := range rec.Of(stream.PartText) {
		s, err := p.DecodeString()
		require.NoError(t, err)
		text += s
	}
	assert.Equal(t, "Hi there!", text)
	assert.Len(t, rec.Of(stream.PartReasoning), 1)
	assert.Empty(t, rec.Of(stream.PartError))

	messages := f.messages(t)
	require.Len(t, messages, 2)
	assert.Equal(t, models.MessageStatusDone, messages[0].Status)
	reply := messages[1]
	assert.Equal(t, models.MessageRoleAssistant, reply.Role)
	assert.Equal(t, models.MessageStatusDone, reply.Status)
	assert.Equal(t, "gpt-4o-mini", reply.Model)
	require.Len(t, reply.Parts, 2)
	assert.Equal(t, models.ReasoningPart{Reasoning: "The user greets me."}, reply.Parts[0])
	assert.Equal(t, models.TextPart{Text: "Hi there!"}, reply.Parts[1])
	require.NotNil(t, reply.Usage)
	assert.Equal(t, 8, reply.Usage.TotalTokens)

	last := events(t, rec.Parts[len(rec.Parts)-2:len(rec.Parts)-1])
	require.Len(t, last, 1)
	require.NotNil(t, last[0].Metrics)
	assert.Equal(t, reply.ID, last[0].Metrics.MessageID)
	assert.Equal(t, 5, last[0].Metrics.PromptTokens)
	assert.Equal(t, "gpt-4o-mini", last[0].Metrics.Model)

	assert.Equal(t, models.GenerationStatusCompleted, f.thread(t).GenerationStatus)

	// the request carried the history and a personalised system prompt
	require.Len(t, client.got.Messages, 1)
	assert.Equal(t, "Hello", client.got.Messages[0].Content)
	assert.Contains(t, client.got.System, "Europe/Berlin")
	assert.Equal(t, "gpt-4o-mini", client.got.Model)
}

func TestDispatchProviderErrorLeavesThreadGenerating(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"mid-stream", &fakeClient{chunks: []llm.StreamChunk{
			{Delta: llm.Delta{Content: "partial"}},
			{Error: errors.New("upstream overloaded"), Done: true},
		}}},
		{"before streaming", &fakeClient{err: llm.ErrConnectionFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "Hello")
			rec := &stream.Recorder{}

			err := f.dispatcher(tt.client, nil).Dispatch(context.Background(), f.request(t, textModel), rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, generation.ErrProviderFailed))

			assert.Len(t, rec.Of(stream.PartError), 1)
			assert.Empty(t, rec.Of(stream.PartFinish))

			messages := f.messages(t)
			require.Len(t, messages, 1)
			assert.Equal(t, models.MessageStatusWaiting, messages[0].Status)
			assert.Equal(t, models.GenerationStatusGenerating, f.thread(t).GenerationStatus)
		})
	}
}

func TestDispatchCancellationPersistsNothing(t *testing.T) {
	f := newFixture(t, "Hello")
	client := &fakeClient{hold: true, chunks: []llm.StreamChunk{
		{Delta: llm.Delta{Content: "Hi "}},
		{Delta: llm.Delta{Content: "there"}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancelSink{cancel: cancel}

	err := f.dispatcher(client, nil).Dispatch(ctx, f.request(t, textModel), sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, generation.ErrAborted))

	messages := f.messages(t)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageStatusPending, messages[0].Status)
	assert.Equal(t, models.GenerationStatusGenerating, f.thread(t).GenerationStatus)
	assert.Empty(t, sink.Of(stream.PartError))
	for _, ev := range events(t, sink.Of(stream.PartData)) {
		assert.Nil(t, ev.Metrics)
	}
}

func TestDispatchAzureThinkTags(t *testing.T) {
	f := newFixture(t, "Why is the sky blue?")
	client := &fakeClient{chunks: []llm.StreamChunk{
		{Delta: llm.Delta{Content: "<thi"}},
		{Delta: llm.Delta{Content: "nk>scattering</think>"}},
		{Delta: llm.Delta{Content: "Rayleigh scattering."}},
		{Done: true},
	}}
	info := registry.ModelInfo{
		Key:          "deepseek-r1",
		ID:           "DeepSeek-R1",
		Provider:     registry.ProviderAzure,
		Capabilities: []registry.Capability{registry.CapabilityReasoning},
	}

	err := f.dispatcher(client, nil).Dispatch(context.Background(), f.request(t, info), &stream.Recorder{})
	require.NoError(t, err)

	messages := f.messages(t)
	require.Len(t, messages, 2)
	assert.Equal(t, "Rayleigh scattering.", messages[1].Text())
	assert.Equal(t, "scattering", models.ExtractReasoning(messages[1].Parts))
}

func TestDispatchAttachesFilesToTarget(t *testing.T) {
	ctx := context.Background()
	attachment := models.Attachment{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		AttachmentType: models.AttachmentTypeImage,
		FileName:       "cat.png",
		MimeType:       "image/png",
		Status:         models.AttachmentStatusUploaded,
	}
	f := newFixture(t, "placeholder")
	attachment.UserID = f.userID
	attachment.AttachmentURL = attachment.StoragePath()
	require.NoError(t, f.store.CreateAttachment(ctx, &attachment))
	require.NoError(t, f.blobs.Put(ctx, attachment.AttachmentURL, []byte("png-bytes"), "image/png"))

	// a second turn that carries the attachment
	reply := models.Message{Parts: models.Parts{models.TextPart{Text: "ok"}}, Model: textModel.Key}
	require.NoError(t, f.store.CompleteGeneration(ctx, f.threadID, f.target, &reply))
	existing := f.messages(t)
	incoming := append(append([]models.Message{}, existing...),
		models.Message{ID: uuid.New(), Role: models.MessageRoleUser, Parts: models.Parts{models.TextPart{Text: "What is this?"}}})
	plan, err := reconcile.Reconcile(f.threadID, incoming, existing, textModel.Key)
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyPlan(ctx, f.userID, f.threadID, plan, []uuid.UUID{attachment.ID}))
	f.target = plan.GenerationTargetID

	client := &fakeClient{chunks: []llm.StreamChunk{{Delta: llm.Delta{Content: "A cat."}}, {Done: true}}}
	req := f.request(t, textModel)
	req.AttachmentIDs = []uuid.UUID{attachment.ID}
	require.NoError(t, f.dispatcher(client, nil).Dispatch(ctx, req, &stream.Recorder{}))

	require.Len(t, client.got.Messages, 3)
	assert.Empty(t, client.got.Messages[0].Attachments)
	assert.Empty(t, client.got.Messages[1].Attachments)
	require.Len(t, client.got.Messages[2].Attachments, 1)
	assert.Equal(t, llm.AttachmentImage, client.got.Messages[2].Attachments[0].Kind)
	assert.Equal(t, []byte("png-bytes"), client.got.Messages[2].Attachments[0].Data)
}

func TestDispatchImages(t *testing.T) {
	f := newFixture(t, "A lighthouse at dusk")
	imager := &fakeImager{resp: &llm.ImageResponse{Images: []llm.GeneratedImage{{Base64: "aGVsbG8="}}}}
	rec := &stream.Recorder{}

	err := f.dispatcher(nil, imager).Dispatch(context.Background(), f.request(t, imageModel), rec)
	require.NoError(t, err)

	assert.Equal(t, "A lighthouse at dusk", imager.got.Prompt)
	assert.Equal(t, 1, imager.got.N)
	assert.Equal(t, "1024x1024", imager.got.Size)
	assert.Equal(t, "png", imager.got.OutputFormat)

	messages := f.messages(t)
	require.Len(t, messages, 2)
	files := messages[1].Parts.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "image/png", files[0].MimeType)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", files[0].Data)

	evs := events(t, rec.Of(stream.PartData))
	require.Len(t, evs, 2)
	require.NotNil(t, evs[1].Images)
	assert.Equal(t, messages[1].ID, evs[1].Images.MessageID)
	assert.Equal(t, "aGVsbG8=", evs[1].Images.Images[0].Base64)
	assert.Empty(t, rec.Of(stream.PartText))
}

func TestDispatchImagesWithoutPrompt(t *testing.T) {
	f := newFixture(t, "   ")
	imager := &fakeImager{}
	rec := &stream.Recorder{}

	err := f.dispatcher(nil, imager).Dispatch(context.Background(), f.request(t, imageModel), rec)
	require.Error(t, err)

	errs := rec.Of(stream.PartError)
	require.Len(t, errs, 1)
	msg, err := errs[0].DecodeString()
	require.NoError(t, err)
	assert.Equal(t, generation.NoPromptMessage, msg)
	assert.Empty(t, imager.got.Prompt)
	assert.Equal(t, models.MessageStatusWaiting, f.messages(t)[0].Status)
}
