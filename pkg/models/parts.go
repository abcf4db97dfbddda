package models

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// PartType tags the variants of a message part on the wire
type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeFile      PartType = "file"
)

// Part is one piece of message content. The set of implementations is closed:
// TextPart, ReasoningPart and FilePart.
type Part interface {
	Type() PartType
	isPart()
}

// TextPart is plain text written by the user or the model
type TextPart struct {
	Text string `json:"text"`
}

// ReasoningPart carries model reasoning ("thinking") text
type ReasoningPart struct {
	Reasoning string `json:"reasoning"`
}

// FilePart references binary content, either inline as a data URL or by URL
type FilePart struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
}

func (TextPart) Type() PartType      { return PartTypeText }
func (ReasoningPart) Type() PartType { return PartTypeReasoning }
func (FilePart) Type() PartType      { return PartTypeFile }

func (TextPart) isPart()      {}
func (ReasoningPart) isPart() {}
func (FilePart) isPart()      {}

// Parts is the ordered content of a message. It is stored as a JSON column.
type Parts []Part

// ExtractText concatenates the text of all text parts; other parts are ignored
func ExtractText(parts Parts) string {
	var sb strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			sb.WriteString(p.Text)
		case ReasoningPart, FilePart:
		default:
			panic(errors.Errorf("unhandled message part %T", part))
		}
	}
	return sb.String()
}

// ExtractReasoning concatenates the text of all reasoning parts
func ExtractReasoning(parts Parts) string {
	var sb strings.Builder
	for _, part := range parts {
		if p, ok := part.(ReasoningPart); ok {
			sb.WriteString(p.Reasoning)
		}
	}
	return sb.String()
}

// Files returns the file parts in order
func (ps Parts) Files() []FilePart {
	var files []FilePart
	for _, part := range ps {
		if p, ok := part.(FilePart); ok {
			files = append(files, p)
		}
	}
	return files
}

type wirePart struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	MimeType  string   `json:"mimeType,omitempty"`
	Data      string   `json:"data,omitempty"`
	URL       string   `json:"url,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// MarshalJSON writes every part with its "type" tag
func (ps Parts) MarshalJSON() ([]byte, error) {
	wire := make([]wirePart, 0, len(ps))
	for _, part := range ps {
		switch p := part.(type) {
		case TextPart:
			wire = append(wire, wirePart{Type: PartTypeText, Text: p.Text})
		case ReasoningPart:
			wire = append(wire, wirePart{Type: PartTypeReasoning, Reasoning: p.Reasoning})
		case FilePart:
			wire = append(wire, wirePart{Type: PartTypeFile, MimeType: p.MimeType, Data: p.Data, URL: p.URL, Name: p.Name})
		default:
			return nil, errors.Errorf("unhandled message part %T", part)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes tagged parts. Part kinds this service does not model
// (e.g. "step-start" or "source" emitted by streaming UIs) are dropped.
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var wire []wirePart
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.Wrap(err, "decoding message parts")
	}
	parts := make(Parts, 0, len(wire))
	for _, w := range wire {
		switch w.Type {
		case PartTypeText:
			parts = append(parts, TextPart{Text: w.Text})
		case PartTypeReasoning:
			parts = append(parts, ReasoningPart{Reasoning: w.Reasoning})
		case PartTypeFile:
			parts = append(parts, FilePart{MimeType: w.MimeType, Data: w.Data, URL: w.URL, Name: w.Name})
		}
	}
	*ps = parts
	return nil
}
