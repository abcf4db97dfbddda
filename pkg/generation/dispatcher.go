// Package generation runs one model turn: it picks the text or image path,
// talks to the provider, persists the reply and writes the multiplexed stream.
package generation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/metrics"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
	"github.com/d4l-data4life/go-chat-host/pkg/storage"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Sentinel errors returned by Dispatch
var (
	// ErrAborted means the caller went away; nothing was persisted
	ErrAborted = errors.New("generation aborted")
	// ErrProviderFailed means the provider failed and the target message waits for a retry
	ErrProviderFailed = errors.New("generation failed")
)

// NoPromptMessage is streamed when an image model gets no usable prompt
const NoPromptMessage = "No valid prompt found for image generation"

var errNoPrompt = errors.New(NoPromptMessage)

// Request is one generation turn
type Request struct {
	UserID   uuid.UUID
	ThreadID uuid.UUID
	// TargetID is the user message the reply answers
	TargetID      uuid.UUID
	Info          registry.ModelInfo
	Messages      []models.Message
	Params        ModelParams
	Credentials   credentials.Bundle
	Preferences   Preferences
	Timezone      string
	AttachmentIDs []uuid.UUID
}

// Dispatcher supervises provider calls
type Dispatcher struct {
	store     *store.Store
	blobs     storage.BlobStore
	newClient ClientFactory
	newImager ImageFactory
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. Nil factories fall back to the provider SDK clients.
func NewDispatcher(s *store.Store, blobs storage.BlobStore, newClient ClientFactory, newImager ImageFactory) *Dispatcher {
	if newClient == nil {
		newClient = NewProviderClient
	}
	if newImager == nil {
		newImager = NewImageClient
	}
	return &Dispatcher{store: s, blobs: blobs, newClient: newClient, newImager: newImager, now: time.Now}
}

// Dispatch runs the turn and writes every part to sink. The thread id is always
// the first part; metrics or images are written only after the reply is stored.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, sink stream.Sink) error {
	if err := sink.Send(stream.ThreadID(req.ThreadID)); err != nil {
		return errors.Wrapf(ErrAborted, "sending stream part: %v", err)
	}
	if req.Info.Has(registry.CapabilityImages) {
		return d.generateImages(ctx, req, sink)
	}
	return d.generateText(ctx, req, sink)
}

func (d *Dispatcher) generateText(ctx context.Context, req Request, sink stream.Sink) error {
	done := metrics.GenerationStarted(string(req.Info.Provider), metrics.KindText)

	client, err := d.newClient(ctx, req.Credentials)
	if err != nil {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, err)
	}

	chatReq := llm.ChatRequest{
		Model:     req.Credentials.ModelID,
		System:    SystemPrompt(req.Preferences, req.Timezone, d.now()),
		Messages:  d.history(ctx, req),
		WebSearch: WebSearchEnabled(req.Info, req.Params),
		Options:   ProviderOptions(req.Info.Provider, req.Params),
	}

	startedAt := d.now()
	logging.LogDebugf("Starting %s generation with %s for thread %s", req.Info.Provider, req.Info.Key, req.ThreadID)
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()
	chunks, err := client.ChatStream(streamCtx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			done(metrics.OutcomeCancelled)
			return errors.Wrap(ErrAborted, ctx.Err().Error())
		}
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, err)
	}

	out := textCollector{sink: sink, chunker: stream.Chunker{Mode: req.Info.StreamChunking}}
	if req.Info.Provider == registry.ProviderAzure && req.Info.Has(registry.CapabilityReasoning) {
		out.think = &llm.ThinkExtractor{}
	}

	var usage llm.Usage
	var streamErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			streamErr = chunk.Error
			continue
		}
		if !chunk.Usage.IsZero() {
			usage = chunk.Usage
		}
		if streamErr == nil {
			if err := out.push(chunk.Delta); err != nil {
				streamErr = errors.Wrapf(ErrAborted, "sending stream part: %v", err)
				stop()
			}
		}
	}

	if ctx.Err() != nil || errors.Is(streamErr, ErrAborted) {
		done(metrics.OutcomeCancelled)
		logging.LogInfof("Generation for thread %s was cancelled, leaving message %s pending", req.ThreadID, req.TargetID)
		return errors.Wrap(ErrAborted, "stream stopped before completion")
	}
	if streamErr != nil {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, streamErr)
	}
	if err := out.flush(); err != nil {
		done(metrics.OutcomeCancelled)
		return errors.Wrapf(ErrAborted, "sending stream part: %v", err)
	}
	endedAt := d.now()

	parts := models.Parts{}
	if reasoning := out.reasoning.String(); reasoning != "" {
		parts = append(parts, models.ReasoningPart{Reasoning: reasoning})
	}
	parts = append(parts, models.TextPart{Text: out.text.String()})

	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	reply := &models.Message{
		ID:    uuid.New(),
		Parts: parts,
		Usage: &models.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		Model:             req.Info.Key,
		GenerationStartAt: &startedAt,
		GenerationEndAt:   &endedAt,
	}
	if err := d.store.CompleteGeneration(context.WithoutCancel(ctx), req.ThreadID, req.TargetID, reply); err != nil {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, err)
	}
	done(metrics.OutcomeSuccess)
	metrics.AddTokens(string(req.Info.Provider), usage.PromptTokens, usage.CompletionTokens)

	var tokensPerSecond float64
	if seconds := endedAt.Sub(startedAt).Seconds(); seconds > 0 {
		tokensPerSecond = float64(usage.TotalTokens) / seconds
	}
	metrics.ObserveTokenRate(string(req.Info.Provider), tokensPerSecond)
	if err := sink.Send(stream.Metrics(stream.MetricsData{
		TokensPerSecond:   tokensPerSecond,
		PromptTokens:      usage.PromptTokens,
		CompletionTokens:  usage.CompletionTokens,
		TotalTokens:       usage.TotalTokens,
		GenerationStartAt: startedAt,
		GenerationEndAt:   endedAt,
		Model:             req.Info.Key,
		MessageID:         reply.ID,
	})); err != nil {
		logging.LogDebugf("Client left before metrics of thread %s were sent", req.ThreadID)
		return nil
	}
	_ = sink.Send(stream.Finish("stop", usage))
	return nil
}

// history converts the thread up to the target into provider messages.
// Attachments of the request go with the target message only.
func (d *Dispatcher) history(ctx context.Context, req Request) []llm.Message {
	result := make([]llm.Message, 0, len(req.Messages))
	target := -1
	for _, m := range req.Messages {
		role := llm.RoleUser
		if m.Role == models.MessageRoleAssistant {
			role = llm.RoleAssistant
		}
		result = append(result, llm.Message{Role: role, Content: m.Text()})
		if m.ID == req.TargetID {
			target = len(result) - 1
			break
		}
	}
	if target < 0 {
		for i := len(result) - 1; i >= 0; i-- {
			if result[i].Role == llm.RoleUser {
				target = i
				break
			}
		}
	}
	if target >= 0 {
		result[target].Attachments = d.loadAttachments(ctx, req.UserID, req.AttachmentIDs, req.Info)
	}
	return result
}

// fail marks the target message as waiting and reports the error inline.
// The thread keeps its generating status.
func (d *Dispatcher) fail(ctx context.Context, req Request, sink stream.Sink, cause error) error {
	logging.LogErrorfCtx(ctx, cause, "Generation with %s failed for thread %s", req.Info.Key, req.ThreadID)
	if err := d.store.SetMessageStatus(context.WithoutCancel(ctx), req.TargetID, models.MessageStatusWaiting); err != nil {
		logging.LogErrorf(err, "Failed to mark message %s as waiting", req.TargetID)
	}
	_ = sink.Send(stream.Error(errorMessage(cause)))
	return errors.Wrap(ErrProviderFailed, cause.Error())
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, errNoPrompt):
		return NoPromptMessage
	case errors.Is(err, llm.ErrConnectionFailed):
		return "Could not reach the model provider"
	case errors.Is(err, credentials.ErrImageUnsupported):
		return "Image generation is not supported for this provider"
	default:
		return "An error occurred while generating the response"
	}
}

// textCollector forwards deltas to the sink while keeping the full reply
type textCollector struct {
	sink      stream.Sink
	think     *llm.ThinkExtractor
	chunker   stream.Chunker
	text      strings.Builder
	reasoning strings.Builder
}

func (c *textCollector) push(delta llm.Delta) error {
	if c.think != nil {
		delta = c.think.Process(delta)
	}
	return c.emit(delta.Reasoning, c.chunker.Push(delta.Content), delta.Content)
}

func (c *textCollector) flush() error {
	var delta llm.Delta
	if c.think != nil {
		delta = c.think.Flush()
	}
	text := c.chunker.Push(delta.Content) + c.chunker.Flush()
	return c.emit(delta.Reasoning, text, delta.Content)
}

// emit sends reasoning and the chunked text; raw is what the reply keeps
func (c *textCollector) emit(reasoning, chunked, raw string) error {
	c.reasoning.WriteString(reasoning)
	c.text.WriteString(raw)
	if reasoning != "" {
		if err := c.sink.Send(stream.Reasoning(reasoning)); err != nil {
			return err
		}
	}
	if chunked != "" {
		return c.sink.Send(stream.Text(chunked))
	}
	return nil
}
