package registry

import (
	_ "embed"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for model lookups
var (
	ErrModelNotFound = errors.New("model not found in registry")
	ErrModelDisabled = errors.New("model is currently disabled")
)

// Provider identifies the upstream API serving a model
type Provider string

const (
	ProviderAzure      Provider = "azure"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderGoogle     Provider = "google"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderXAI        Provider = "xai"
	ProviderOllama     Provider = "ollama"
)

// Providers lists every provider in a stable order
var Providers = []Provider{
	ProviderAzure,
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderOpenRouter,
	ProviderGoogle,
	ProviderDeepSeek,
	ProviderXAI,
	ProviderOllama,
}

// Capability is a named feature a model supports
type Capability string

const (
	CapabilityFast            Capability = "fast"
	CapabilityVision          Capability = "vision"
	CapabilityImages          Capability = "images"
	CapabilitySearch          Capability = "search"
	CapabilityPDFs            Capability = "pdfs"
	CapabilityParameters      Capability = "parameters"
	CapabilityReasoning       Capability = "reasoning"
	CapabilityReasoningEffort Capability = "reasoningEffort"
)

// Limits are the token limits of a model
type Limits struct {
	MaxInputTokens  int `yaml:"maxInputTokens"  json:"maxInputTokens"`
	MaxOutputTokens int `yaml:"maxOutputTokens" json:"maxOutputTokens"`
}

// ModelInfo is an immutable catalog entry
type ModelInfo struct {
	Key            string       `yaml:"-"                        json:"key"`
	ID             string       `yaml:"id"                       json:"id"`
	Name           string       `yaml:"name"                     json:"name"`
	Version        string       `yaml:"version,omitempty"        json:"version,omitempty"`
	AdditionalInfo string       `yaml:"additionalInfo,omitempty" json:"additionalInfo,omitempty"`
	Provider       Provider     `yaml:"provider"                 json:"provider"`
	Developer      string       `yaml:"developer"                json:"developer"`
	Disabled       bool         `yaml:"disabled"                 json:"disabled"`
	Experimental   bool         `yaml:"experimental"             json:"experimental"`
	Limits         Limits       `yaml:"limits"                   json:"limits"`
	Capabilities   []Capability `yaml:"capabilities"             json:"capabilities"`
	// StreamChunking is "word" or "line" when deltas should be re-chunked before sending
	StreamChunking string `yaml:"streamChunking,omitempty" json:"streamChunking,omitempty"`
}

// Has reports whether the model supports a capability
func (m ModelInfo) Has(c Capability) bool {
	for _, capability := range m.Capabilities {
		if capability == c {
			return true
		}
	}
	return false
}

// Registry is a read-only lookup table of models
type Registry struct {
	models map[string]ModelInfo
}

//go:embed models.yaml
var catalog []byte

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry loaded from the embedded catalog
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := Parse(catalog)
		if err != nil {
			panic(errors.Wrap(err, "embedded model catalog is invalid"))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Parse builds a registry from a YAML catalog keyed by model key
func Parse(data []byte) (*Registry, error) {
	raw := map[string]ModelInfo{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing model catalog")
	}
	models := make(map[string]ModelInfo, len(raw))
	for key, info := range raw {
		if info.ID == "" || info.Provider == "" {
			return nil, errors.Errorf("model %q needs an id and a provider", key)
		}
		info.Key = key
		models[key] = info
	}
	return &Registry{models: models}, nil
}

// New builds a registry from explicit entries, mostly useful in tests
func New(models ...ModelInfo) *Registry {
	r := &Registry{models: make(map[string]ModelInfo, len(models))}
	for _, m := range models {
		r.models[m.Key] = m
	}
	return r
}

// Lookup returns a usable model or ErrModelNotFound / ErrModelDisabled
func (r *Registry) Lookup(key string) (ModelInfo, error) {
	info, ok := r.models[key]
	if !ok {
		return ModelInfo{}, errors.Wrapf(ErrModelNotFound, "model '%s'", key)
	}
	if info.Disabled {
		return ModelInfo{}, errors.Wrapf(ErrModelDisabled, "model '%s'", key)
	}
	return info, nil
}

// All returns every model sorted by key
func (r *Registry) All() []ModelInfo {
	all := make([]ModelInfo, 0, len(r.models))
	for _, info := range r.models {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all
}
