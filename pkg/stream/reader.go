package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Reader decodes a data stream line by line
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader reads parts from r
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	// image envelopes carry base64 payloads
	scanner.Buffer(make([]byte, 64*1024), 64<<20)
	return &Reader{scanner: scanner}
}

// Next returns the next part, or io.EOF at the end of the stream
func (r *Reader) Next() (Part, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return ParseLine(line)
	}
	if err := r.scanner.Err(); err != nil {
		return Part{}, errors.Wrap(err, "reading stream")
	}
	return Part{}, io.EOF
}

// ParseLine decodes a single "{type}:{json}" line
func ParseLine(line []byte) (Part, error) {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return Part{}, errors.Wrapf(ErrMalformedPart, "%q", truncate(line))
	}
	value := bytes.TrimSpace(line[i+1:])
	if !json.Valid(value) {
		return Part{}, errors.Wrapf(ErrMalformedPart, "%q", truncate(line))
	}
	return Part{Type: PartType(line[:i]), Value: append(json.RawMessage(nil), value...)}, nil
}

// DecodeString decodes the value of a text, reasoning or error part
func (p Part) DecodeString() (string, error) {
	var s string
	err := json.Unmarshal(p.Value, &s)
	return s, errors.Wrapf(err, "decoding %s part", p.Type)
}

// Event is one decoded element of a data part. Exactly one field is set.
type Event struct {
	Thread  *ThreadEnvelope
	Metrics *MetricsData
	Images  *ImagesData
}

// Events decodes the envelopes of a data part. Unknown envelopes are skipped.
func (p Part) Events() ([]Event, error) {
	if p.Type != PartData {
		return nil, errors.Errorf("part %s is not a data part", p.Type)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Value, &items); err != nil {
		return nil, errors.Wrap(err, "decoding data part")
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var head struct {
			Type     string          `json:"type"`
			ThreadID *string         `json:"threadId"`
			Data     json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, errors.Wrap(err, "decoding data envelope")
		}
		switch {
		case head.ThreadID != nil:
			var thread ThreadEnvelope
			if err := json.Unmarshal(item, &thread); err != nil {
				return nil, errors.Wrap(err, "decoding thread envelope")
			}
			events = append(events, Event{Thread: &thread})
		case head.Type == EventMetrics:
			var metrics MetricsData
			if err := json.Unmarshal(head.Data, &metrics); err != nil {
				return nil, errors.Wrap(err, "decoding metrics envelope")
			}
			events = append(events, Event{Metrics: &metrics})
		case head.Type == EventImages:
			var images ImagesData
			if err := json.Unmarshal(head.Data, &images); err != nil {
				return nil, errors.Wrap(err, "decoding images envelope")
			}
			events = append(events, Event{Images: &images})
		}
	}
	return events, nil
}

func truncate(line []byte) []byte {
	if len(line) > 64 {
		return line[:64]
	}
	return line
}
