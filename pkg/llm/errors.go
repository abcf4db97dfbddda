package llm

import "github.com/pkg/errors"

// Sentinel errors for LLM operations
var (
	// ErrConnectionFailed indicates the LLM connection failed
	ErrConnectionFailed = errors.New("LLM connection failed")

	// ErrRequestFailed indicates the LLM request failed
	ErrRequestFailed = errors.New("LLM request failed")

	// ErrEmptyResponse indicates the provider answered without content
	ErrEmptyResponse = errors.New("LLM returned an empty response")
)
