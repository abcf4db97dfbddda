package generation

import (
	"github.com/pkg/errors"
)

// ErrInvalidParams marks model parameters outside their allowed values
var ErrInvalidParams = errors.New("invalid model parameters")

// ModelParams are the per-request generation knobs sent by the client
type ModelParams struct {
	WebSearch       bool              `json:"webSearch,omitempty"`
	ImageGeneration *ImageParams      `json:"imageGeneration,omitempty"`
	OpenAI          *OpenAIParams     `json:"openai,omitempty"`
	Anthropic       *AnthropicParams  `json:"anthropic,omitempty"`
	Google          *GoogleParams     `json:"google,omitempty"`
	OpenRouter      *OpenRouterParams `json:"openrouter,omitempty"`
}

// OpenAIParams apply to openai and azure models
type OpenAIParams struct {
	ReasoningEffort string `json:"reasoningEffort,omitempty"`
}

// AnthropicParams configure extended thinking
type AnthropicParams struct {
	Thinking *ThinkingParams `json:"thinking,omitempty"`
}

// ThinkingParams of an anthropic request
type ThinkingParams struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budgetTokens,omitempty"`
}

// GoogleParams configure gemini thoughts
type GoogleParams struct {
	IncludeThoughts *bool `json:"includeThoughts,omitempty"`
	ThinkingBudget  int   `json:"thinkingBudget,omitempty"`
}

// OpenRouterParams are passed through to openrouter
type OpenRouterParams struct {
	Reasoning *OpenRouterReasoning `json:"reasoning,omitempty"`
}

// OpenRouterReasoning is openrouter's unified reasoning setting
type OpenRouterReasoning struct {
	MaxTokens int    `json:"max_tokens,omitempty"`
	Effort    string `json:"effort,omitempty"`
}

// ImageParams configure image generation
type ImageParams struct {
	N      int                `json:"n,omitempty"`
	Size   string             `json:"size,omitempty"`
	OpenAI *OpenAIImageParams `json:"openai,omitempty"`
}

// OpenAIImageParams are gpt-image specific
type OpenAIImageParams struct {
	Quality           string `json:"quality,omitempty"`
	Background        string `json:"background,omitempty"`
	OutputFormat      string `json:"output_format,omitempty"`
	OutputCompression *int   `json:"output_compression,omitempty"`
	Moderation        string `json:"moderation,omitempty"`
}

var (
	efforts      = []string{"low", "medium", "high"}
	imageSizes   = []string{"1024x1024", "1536x1024", "1024x1536", "auto"}
	qualities    = []string{"auto", "high", "medium", "low"}
	backgrounds  = []string{"auto", "transparent", "opaque"}
	formats      = []string{"png", "jpeg", "webp"}
	moderations  = []string{"auto", "low"}
	thinkingType = []string{"enabled"}
)

// Validate checks enums and ranges. Unset fields are always valid.
func (p ModelParams) Validate() error {
	if p.OpenAI != nil {
		if err := oneOf("openai.reasoningEffort", p.OpenAI.ReasoningEffort, efforts); err != nil {
			return err
		}
	}
	if p.Anthropic != nil && p.Anthropic.Thinking != nil {
		t := p.Anthropic.Thinking
		if err := oneOf("anthropic.thinking.type", t.Type, thinkingType); err != nil {
			return err
		}
		if err := within("anthropic.thinking.budgetTokens", t.BudgetTokens, 1000, 50000); err != nil {
			return err
		}
	}
	if p.Google != nil {
		if err := within("google.thinkingBudget", p.Google.ThinkingBudget, 512, 32768); err != nil {
			return err
		}
	}
	if p.OpenRouter != nil && p.OpenRouter.Reasoning != nil {
		r := p.OpenRouter.Reasoning
		if err := within("openrouter.reasoning.max_tokens", r.MaxTokens, 1, 100000); err != nil {
			return err
		}
		if err := oneOf("openrouter.reasoning.effort", r.Effort, efforts); err != nil {
			return err
		}
	}
	if img := p.ImageGeneration; img != nil {
		if err := within("imageGeneration.n", img.N, 1, 10); err != nil {
			return err
		}
		if err := oneOf("imageGeneration.size", img.Size, imageSizes); err != nil {
			return err
		}
		if o := img.OpenAI; o != nil {
			checks := []struct {
				name, value string
				allowed     []string
			}{
				{"imageGeneration.openai.quality", o.Quality, qualities},
				{"imageGeneration.openai.background", o.Background, backgrounds},
				{"imageGeneration.openai.output_format", o.OutputFormat, formats},
				{"imageGeneration.openai.moderation", o.Moderation, moderations},
			}
			for _, c := range checks {
				if err := oneOf(c.name, c.value, c.allowed); err != nil {
					return err
				}
			}
			if o.OutputCompression != nil && (*o.OutputCompression < 0 || *o.OutputCompression > 100) {
				return errors.Wrapf(ErrInvalidParams, "imageGeneration.openai.output_compression must be within 0..100")
			}
		}
	}
	return nil
}

func oneOf(name, value string, allowed []string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidParams, "%s must be one of %v", name, allowed)
}

func within(name string, value, lo, hi int) error {
	if value == 0 || (value >= lo && value <= hi) {
		return nil
	}
	return errors.Wrapf(ErrInvalidParams, "%s must be within %d..%d", name, lo, hi)
}
