package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/metrics"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/stream"
	"github.com/d4l-data4life/go-svc/pkg/logging"
)

// Image defaults applied to unset parameters
const (
	defaultImageCount       = 1
	defaultImageSize        = "1024x1024"
	defaultImageQuality     = "auto"
	defaultImageBackground  = "auto"
	defaultImageFormat      = "png"
	defaultImageCompression = 100
	defaultImageModeration  = "auto"
)

// ImageRequest resolves the image parameters against their defaults
func ImageRequest(model, prompt string, params *ImageParams) llm.ImageRequest {
	req := llm.ImageRequest{
		Model:             model,
		Prompt:            prompt,
		N:                 defaultImageCount,
		Size:              defaultImageSize,
		Quality:           defaultImageQuality,
		Background:        defaultImageBackground,
		OutputFormat:      defaultImageFormat,
		OutputCompression: defaultImageCompression,
		Moderation:        defaultImageModeration,
	}
	if params == nil {
		return req
	}
	if params.N > 0 {
		req.N = params.N
	}
	if params.Size != "" {
		req.Size = params.Size
	}
	if req.Size == "auto" {
		req.Size = ""
	}
	if o := params.OpenAI; o != nil {
		req.Quality = orDefault(o.Quality, req.Quality)
		req.Background = orDefault(o.Background, req.Background)
		req.OutputFormat = orDefault(o.OutputFormat, req.OutputFormat)
		req.Moderation = orDefault(o.Moderation, req.Moderation)
		if o.OutputCompression != nil {
			req.OutputCompression = *o.OutputCompression
		}
	}
	return req
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// imagePrompt is the text of the last user message up to the target
func imagePrompt(req Request) string {
	prompt := ""
	for _, m := range req.Messages {
		if m.Role == models.MessageRoleUser {
			prompt = m.Text()
		}
		if m.ID == req.TargetID {
			break
		}
	}
	return strings.TrimSpace(prompt)
}

func (d *Dispatcher) generateImages(ctx context.Context, req Request, sink stream.Sink) error {
	done := metrics.GenerationStarted(string(req.Info.Provider), metrics.KindImage)

	prompt := imagePrompt(req)
	if prompt == "" {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, errNoPrompt)
	}

	imager, err := d.newImager(req.Credentials)
	if err != nil {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, err)
	}

	imageReq := ImageRequest(req.Credentials.ModelID, prompt, req.Params.ImageGeneration)
	startedAt := d.now()
	logging.LogDebugf("Generating %d image(s) with %s for thread %s", imageReq.N, req.Info.Key, req.ThreadID)
	resp, err := imager.GenerateImages(ctx, imageReq)
	if ctx.Err() != nil {
		done(metrics.OutcomeCancelled)
		logging.LogInfof("Image generation for thread %s was cancelled, leaving message %s pending", req.ThreadID, req.TargetID)
		return errors.Wrap(ErrAborted, ctx.Err().Error())
	}
	if err != nil {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, err)
	}
	if len(resp.Images) == 0 {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, llm.ErrEmptyResponse)
	}
	endedAt := d.now()

	mimeType := "image/" + imageReq.OutputFormat
	parts := make(models.Parts, 0, len(resp.Images))
	for _, img := range resp.Images {
		part := models.FilePart{MimeType: mimeType, URL: img.URL}
		if img.Base64 != "" {
			part.Data = fmt.Sprintf("data:%s;base64,%s", mimeType, img.Base64)
		}
		parts = append(parts, part)
	}

	reply := &models.Message{
		ID:                uuid.New(),
		Parts:             parts,
		Model:             req.Info.Key,
		GenerationStartAt: &startedAt,
		GenerationEndAt:   &endedAt,
	}
	if !resp.Usage.IsZero() {
		reply.Usage = &models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if err := d.store.CompleteGeneration(context.WithoutCancel(ctx), req.ThreadID, req.TargetID, reply); err != nil {
		done(metrics.OutcomeError)
		return d.fail(ctx, req, sink, err)
	}
	done(metrics.OutcomeSuccess)

	if err := sink.Send(stream.Images(stream.ImagesData{
		Images:            resp.Images,
		MessageID:         reply.ID,
		Model:             req.Info.Key,
		GenerationStartAt: startedAt,
		GenerationEndAt:   endedAt,
		ResponseTime:      endedAt.Sub(startedAt).Seconds(),
	})); err != nil {
		logging.LogDebugf("Client left before images of thread %s were sent", req.ThreadID)
		return nil
	}
	_ = sink.Send(stream.Finish("stop", resp.Usage))
	return nil
}
