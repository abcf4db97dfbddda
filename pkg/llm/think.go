package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkExtractor moves <think>...</think> sections of a text stream into reasoning.
// Tags may be split across deltas; a possible tag prefix is held back until it resolves.
type ThinkExtractor struct {
	inside  bool
	pending string
}

// Process consumes one content delta
func (e *ThinkExtractor) Process(delta Delta) Delta {
	out := Delta{Role: delta.Role, Reasoning: delta.Reasoning}
	buf := e.pending + delta.Content
	e.pending = ""

	for buf != "" {
		tag := thinkOpen
		if e.inside {
			tag = thinkClose
		}
		if i := strings.Index(buf, tag); i >= 0 {
			e.emit(&out, buf[:i])
			buf = buf[i+len(tag):]
			e.inside = !e.inside
			continue
		}
		keep := partialSuffix(buf, tag)
		e.emit(&out, buf[:len(buf)-keep])
		e.pending = buf[len(buf)-keep:]
		break
	}
	return out
}

// Flush returns whatever was held back at the end of the stream
func (e *ThinkExtractor) Flush() Delta {
	var out Delta
	e.emit(&out, e.pending)
	e.pending = ""
	return out
}

func (e *ThinkExtractor) emit(out *Delta, text string) {
	if e.inside {
		out.Reasoning += text
	} else {
		out.Content += text
	}
}

// partialSuffix is the length of the longest suffix of s that is a proper prefix of tag
func partialSuffix(s, tag string) int {
	n := len(tag) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
