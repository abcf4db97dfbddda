package stream

import "strings"

// Chunking modes a model can ask for
const (
	ChunkWord = "word"
	ChunkLine = "line"
)

// Chunker regroups text deltas on word or line boundaries.
// The zero value and unknown modes pass deltas through unchanged.
type Chunker struct {
	Mode    string
	pending strings.Builder
}

// Push adds a delta and returns the text that is ready to send
func (c *Chunker) Push(delta string) string {
	if c.Mode != ChunkWord && c.Mode != ChunkLine {
		return delta
	}
	c.pending.WriteString(delta)
	buffered := c.pending.String()

	cut := -1
	switch c.Mode {
	case ChunkWord:
		cut = strings.LastIndexAny(buffered, " \n\t")
	case ChunkLine:
		cut = strings.LastIndexByte(buffered, '\n')
	}
	if cut < 0 {
		return ""
	}
	c.pending.Reset()
	c.pending.WriteString(buffered[cut+1:])
	return buffered[:cut+1]
}

// Flush returns the remaining buffered text
func (c *Chunker) Flush() string {
	rest := c.pending.String()
	c.pending.Reset()
	return rest
}
