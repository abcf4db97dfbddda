// Package stream implements the line-based data stream chat replies are sent over.
//
// Every line is "{type}:{json}\n". Text and reasoning deltas travel as their own
// parts, structured events travel as data parts holding a one-element array.
package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/llm"
)

// HeaderName marks responses that carry a data stream
const HeaderName = "X-Vercel-AI-Data-Stream"

// PartType is the line prefix of a stream part
type PartType string

const (
	PartText      PartType = "0"
	PartData      PartType = "2"
	PartError     PartType = "3"
	PartReasoning PartType = "g"
	PartFinish    PartType = "d"
)

// ErrMalformedPart is returned by the reader for lines it cannot decode
var ErrMalformedPart = errors.New("malformed stream part")

// Part is one unit of the stream
type Part struct {
	Type  PartType        `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Sink receives the parts of one generation in order
type Sink interface {
	Send(part Part) error
}

func newPart(t PartType, v any) Part {
	raw, err := json.Marshal(v)
	if err != nil {
		// only plain data is ever encoded
		panic(errors.Wrap(err, "encoding stream part"))
	}
	return Part{Type: t, Value: raw}
}

// Text is a content delta
func Text(delta string) Part { return newPart(PartText, delta) }

// Reasoning is a reasoning delta
func Reasoning(delta string) Part { return newPart(PartReasoning, delta) }

// Error is an inline error event
func Error(message string) Part { return newPart(PartError, message) }

// Data wraps one envelope into a data part
func Data(envelope any) Part { return newPart(PartData, []any{envelope}) }

// FinishValue closes a stream
type FinishValue struct {
	FinishReason string    `json:"finishReason"`
	Usage        llm.Usage `json:"usage"`
}

// Finish is the last part of a stream
func Finish(reason string, usage llm.Usage) Part {
	return newPart(PartFinish, FinishValue{FinishReason: reason, Usage: usage})
}

// ThreadEnvelope announces the thread a generation belongs to
type ThreadEnvelope struct {
	ThreadID uuid.UUID `json:"threadId"`
}

// Event types of typed envelopes
const (
	EventMetrics = "metrics"
	EventImages  = "images"
)

// MetricsData describes a finished text generation
type MetricsData struct {
	TokensPerSecond   float64   `json:"tokensPerSecond"`
	PromptTokens      int       `json:"promptTokens"`
	CompletionTokens  int       `json:"completionTokens"`
	TotalTokens       int       `json:"totalTokens"`
	GenerationStartAt time.Time `json:"generationStartAt"`
	GenerationEndAt   time.Time `json:"generationEndAt"`
	Model             string    `json:"model"`
	MessageID         uuid.UUID `json:"messageId"`
}

// ImagesData describes a finished image generation
type ImagesData struct {
	Images            []llm.GeneratedImage `json:"images"`
	MessageID         uuid.UUID            `json:"messageId"`
	Model             string               `json:"model"`
	GenerationStartAt time.Time            `json:"generationStartAt"`
	GenerationEndAt   time.Time            `json:"generationEndAt"`
	// ResponseTime is in seconds
	ResponseTime float64 `json:"responseTime"`
}

// Envelope is a typed data event
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Metrics wraps metrics into a data part
func Metrics(data MetricsData) Part {
	return Data(Envelope{Type: EventMetrics, Data: data})
}

// Images wraps generated images into a data part
func Images(data ImagesData) Part {
	return Data(Envelope{Type: EventImages, Data: data})
}

// ThreadID wraps the thread announcement into a data part
func ThreadID(id uuid.UUID) Part {
	return Data(ThreadEnvelope{ThreadID: id})
}

// Encode renders the part as one stream line
func (p Part) Encode() []byte {
	line := make([]byte, 0, len(p.Type)+len(p.Value)+2)
	line = append(line, p.Type...)
	line = append(line, ':')
	line = append(line, p.Value...)
	return append(line, '\n')
}

// Recorder is a Sink keeping every part, used where no transport exists
type Recorder struct {
	Parts []Part
}

// Send records the part
func (r *Recorder) Send(part Part) error {
	r.Parts = append(r.Parts, part)
	return nil
}

// Of returns the recorded parts of one type
func (r *Recorder) Of(t PartType) []Part {
	var parts []Part
	for _, p := range r.Parts {
		if p.Type == t {
			parts = append(parts, p)
		}
	}
	return parts
}
