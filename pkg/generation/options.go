package generation

import (
	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
)

type optionsStrategy func(ModelParams) llm.ProviderOptions

// optionStrategies maps each provider to the options it understands.
// Providers without an entry get no options.
var optionStrategies = map[registry.Provider]optionsStrategy{
	registry.ProviderOpenAI:     reasoningEffortOptions,
	registry.ProviderAzure:      reasoningEffortOptions,
	registry.ProviderAnthropic:  anthropicOptions,
	registry.ProviderGoogle:     googleOptions,
	registry.ProviderOpenRouter: openRouterOptions,
}

// searchProviders can ground replies with a search tool
var searchProviders = map[registry.Provider]bool{
	registry.ProviderOpenAI: true,
	registry.ProviderGoogle: true,
}

// ProviderOptions builds the provider specific options of a request
func ProviderOptions(provider registry.Provider, params ModelParams) llm.ProviderOptions {
	strategy, ok := optionStrategies[provider]
	if !ok {
		return llm.ProviderOptions{}
	}
	return strategy(params)
}

// WebSearchEnabled reports whether a request runs with the provider's search tool
func WebSearchEnabled(info registry.ModelInfo, params ModelParams) bool {
	return params.WebSearch && info.Has(registry.CapabilitySearch) && searchProviders[info.Provider]
}

func reasoningEffortOptions(params ModelParams) llm.ProviderOptions {
	if params.OpenAI == nil {
		return llm.ProviderOptions{}
	}
	return llm.ProviderOptions{ReasoningEffort: params.OpenAI.ReasoningEffort}
}

func anthropicOptions(params ModelParams) llm.ProviderOptions {
	if params.Anthropic == nil || params.Anthropic.Thinking == nil {
		return llm.ProviderOptions{}
	}
	thinking := params.Anthropic.Thinking
	t := &llm.ThinkingOptions{Type: thinking.Type, BudgetTokens: thinking.BudgetTokens}
	if t.Type == "" {
		t.Type = "enabled"
	}
	return llm.ProviderOptions{Thinking: t}
}

func googleOptions(params ModelParams) llm.ProviderOptions {
	if params.Google == nil {
		return llm.ProviderOptions{}
	}
	g := &llm.GoogleThinkingOptions{IncludeThoughts: params.Google.IncludeThoughts}
	if params.Google.ThinkingBudget > 0 {
		budget := params.Google.ThinkingBudget
		g.ThinkingBudget = &budget
	}
	return llm.ProviderOptions{GoogleThinking: g}
}

func openRouterOptions(params ModelParams) llm.ProviderOptions {
	if params.OpenRouter == nil || params.OpenRouter.Reasoning == nil {
		return llm.ProviderOptions{}
	}
	r := params.OpenRouter.Reasoning
	return llm.ProviderOptions{Reasoning: &llm.ReasoningOptions{MaxTokens: r.MaxTokens, Effort: r.Effort}}
}
