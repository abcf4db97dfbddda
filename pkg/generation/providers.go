package generation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/credentials"
	"github.com/d4l-data4life/go-chat-host/pkg/llm"
	"github.com/d4l-data4life/go-chat-host/pkg/llm/anthropic"
	"github.com/d4l-data4life/go-chat-host/pkg/llm/google"
	"github.com/d4l-data4life/go-chat-host/pkg/llm/ollama"
	"github.com/d4l-data4life/go-chat-host/pkg/llm/openai"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
)

// ClientFactory creates the text client serving a credential bundle
type ClientFactory func(ctx context.Context, bundle credentials.Bundle) (llm.Client, error)

// ImageFactory creates the image client serving a credential bundle
type ImageFactory func(bundle credentials.Bundle) (llm.ImageGenerator, error)

var openAIFlavors = map[registry.Provider]openai.Flavor{
	registry.ProviderOpenAI:     openai.FlavorOpenAI,
	registry.ProviderAzure:      openai.FlavorAzure,
	registry.ProviderOpenRouter: openai.FlavorOpenRouter,
	registry.ProviderDeepSeek:   openai.FlavorDeepSeek,
	registry.ProviderXAI:        openai.FlavorXAI,
}

// NewProviderClient is the ClientFactory backed by the provider SDKs
func NewProviderClient(ctx context.Context, bundle credentials.Bundle) (llm.Client, error) {
	if flavor, ok := openAIFlavors[bundle.Provider]; ok {
		return openai.NewClient(openai.Config{
			APIKey:  bundle.APIKey,
			BaseURL: bundle.BaseURL,
			Model:   bundle.ModelID,
			Flavor:  flavor,
		}), nil
	}
	switch bundle.Provider {
	case registry.ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{APIKey: bundle.APIKey, Model: bundle.ModelID}), nil
	case registry.ProviderGoogle:
		return google.NewClient(ctx, google.Config{APIKey: bundle.APIKey, Model: bundle.ModelID})
	case registry.ProviderOllama:
		return ollama.NewClient(ollama.Config{BaseURL: bundle.BaseURL, Model: bundle.ModelID}), nil
	default:
		return nil, errors.Errorf("provider %s is not yet supported", bundle.Provider)
	}
}

// NewImageClient is the ImageFactory; only openai offers image generation
func NewImageClient(bundle credentials.Bundle) (llm.ImageGenerator, error) {
	if bundle.Provider != registry.ProviderOpenAI {
		return nil, errors.Wrapf(credentials.ErrImageUnsupported, "%s", bundle.Provider)
	}
	return openai.NewClient(openai.Config{APIKey: bundle.APIKey, BaseURL: bundle.BaseURL, Model: bundle.ModelID}), nil
}

// NewTitleClient is the TitleClientFactory; titles are always generated through openrouter
func NewTitleClient(apiKey string) llm.Client {
	return openai.NewClient(openai.Config{
		APIKey:  apiKey,
		BaseURL: credentials.OpenRouterBaseURL,
		Flavor:  openai.FlavorOpenRouter,
	})
}
