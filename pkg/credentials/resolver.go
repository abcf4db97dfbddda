package credentials

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/registry"
)

// Sentinel errors of the resolver
var (
	ErrMissingCredential = errors.New("provider credential not configured")
	ErrImageUnsupported  = errors.New("image generation not supported for provider")
)

// Default API endpoints of the OpenAI-compatible providers
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DeepSeekBaseURL   = "https://api.deepseek.com/v1"
	XAIBaseURL        = "https://api.x.ai/v1"
)

// AzureDeployment overrides where a model is served on Azure
type AzureDeployment struct {
	ResourceName   string `json:"resourceName"`
	DeploymentName string `json:"deploymentName,omitempty"`
}

// AzureKeys are the user-supplied Azure settings
type AzureKeys struct {
	APIKey      string                     `json:"apiKey,omitempty"`
	Deployments map[string]AzureDeployment `json:"deployments,omitempty"`
}

// APIKeys are the credentials a user may submit with a chat request
type APIKeys struct {
	OpenAI     string     `json:"openai,omitempty"`
	Azure      *AzureKeys `json:"azure,omitempty"`
	Anthropic  string     `json:"anthropic,omitempty"`
	OpenRouter string     `json:"openrouter,omitempty"`
	Google     string     `json:"google,omitempty"`
	DeepSeek   string     `json:"deepseek,omitempty"`
	XAI        string     `json:"xai,omitempty"`
}

// Bundle is everything a provider client needs to serve one model
type Bundle struct {
	Provider registry.Provider
	APIKey   string
	BaseURL  string
	// ModelID is the identifier sent to the provider (the Azure deployment name for azure)
	ModelID string
	// ResourceName is the Azure resource hosting the deployment
	ResourceName string
	// FromUser is true when the key came from the request rather than the server
	FromUser bool
}

// Resolver picks user-supplied credentials first and falls back to the server's keys
type Resolver struct {
	server config.ServerKeys
}

// NewResolver creates a resolver over the given server keys
func NewResolver(server config.ServerKeys) *Resolver {
	return &Resolver{server: server}
}

func pick(user, server string) (string, bool) {
	if user != "" {
		return user, true
	}
	return server, false
}

func missing(provider string) error {
	return errors.Wrapf(ErrMissingCredential, "%s API key not configured", provider)
}

// Resolve returns the credential bundle for a text generation with the model
func (r *Resolver) Resolve(info registry.ModelInfo, user APIKeys) (Bundle, error) {
	b := Bundle{Provider: info.Provider, ModelID: info.ID}
	switch info.Provider {
	case registry.ProviderOpenAI:
		b.APIKey, b.FromUser = pick(user.OpenAI, r.server.OpenAI)
		if b.APIKey == "" {
			return b, missing("OpenAI")
		}
	case registry.ProviderAzure:
		return r.resolveAzure(info, user)
	case registry.ProviderAnthropic:
		b.APIKey, b.FromUser = pick(user.Anthropic, r.server.Anthropic)
		if b.APIKey == "" {
			return b, missing("Anthropic")
		}
	case registry.ProviderOpenRouter:
		b.APIKey, b.FromUser = pick(user.OpenRouter, r.server.OpenRouter)
		b.BaseURL = OpenRouterBaseURL
		if b.APIKey == "" {
			return b, missing("OpenRouter")
		}
	case registry.ProviderGoogle:
		b.APIKey, b.FromUser = pick(user.Google, r.server.Google)
		if b.APIKey == "" {
			return b, missing("Google")
		}
	case registry.ProviderDeepSeek:
		b.APIKey, b.FromUser = pick(user.DeepSeek, r.server.DeepSeek)
		b.BaseURL = DeepSeekBaseURL
		if b.APIKey == "" {
			return b, missing("DeepSeek")
		}
	case registry.ProviderXAI:
		b.APIKey, b.FromUser = pick(user.XAI, r.server.XAI)
		b.BaseURL = XAIBaseURL
		if b.APIKey == "" {
			return b, missing("xAI")
		}
	case registry.ProviderOllama:
		b.BaseURL = r.server.OllamaURL
		if b.BaseURL == "" {
			return b, errors.Wrap(ErrMissingCredential, "Ollama URL not configured")
		}
	default:
		return b, errors.Errorf("provider %s is not yet supported", info.Provider)
	}
	return b, nil
}

func (r *Resolver) resolveAzure(info registry.ModelInfo, user APIKeys) (Bundle, error) {
	b := Bundle{Provider: registry.ProviderAzure, ModelID: info.ID, ResourceName: r.server.AzureResourceName}
	var userKey string
	if user.Azure != nil {
		userKey = user.Azure.APIKey
	}
	b.APIKey, b.FromUser = pick(userKey, r.server.AzureAPIKey)

	if d, ok := r.server.AzureDeployments[info.Key]; ok {
		b.ResourceName = d.ResourceName
		if d.DeploymentName != "" {
			b.ModelID = d.DeploymentName
		}
	}
	if user.Azure != nil {
		if d, ok := user.Azure.Deployments[info.Key]; ok {
			b.ResourceName = d.ResourceName
			if d.DeploymentName != "" {
				b.ModelID = d.DeploymentName
			}
		}
	}

	switch {
	case b.APIKey == "":
		return b, errors.Wrap(ErrMissingCredential, "Azure configuration incomplete: missing API key")
	case b.ResourceName == "":
		return b, errors.Wrap(ErrMissingCredential, "Azure configuration incomplete: missing resource name")
	}
	b.BaseURL = fmt.Sprintf("https://%s.openai.azure.com", b.ResourceName)
	return b, nil
}

// ResolveImage returns the credentials for the image-generation handle of the model
func (r *Resolver) ResolveImage(info registry.ModelInfo, user APIKeys) (Bundle, error) {
	if info.Provider != registry.ProviderOpenAI {
		return Bundle{}, errors.Wrapf(ErrImageUnsupported, "%s", info.Provider)
	}
	return r.Resolve(info, user)
}

// TitleKey returns the openrouter key used for thread title generation
func (r *Resolver) TitleKey(user APIKeys) string {
	switch {
	case user.OpenRouter != "":
		return user.OpenRouter
	case r.server.TitleOpenRouter != "":
		return r.server.TitleOpenRouter
	default:
		return r.server.OpenRouter
	}
}

// Availability reports per provider whether the server holds a credential
func (r *Resolver) Availability() map[registry.Provider]bool {
	return map[registry.Provider]bool{
		registry.ProviderOpenAI:     r.server.OpenAI != "",
		registry.ProviderAzure:      r.server.AzureAPIKey != "" && r.server.AzureResourceName != "",
		registry.ProviderAnthropic:  r.server.Anthropic != "",
		registry.ProviderOpenRouter: r.server.OpenRouter != "",
		registry.ProviderGoogle:     r.server.Google != "",
		registry.ProviderDeepSeek:   r.server.DeepSeek != "",
		registry.ProviderXAI:        r.server.XAI != "",
		registry.ProviderOllama:     r.server.OllamaURL != "",
	}
}
