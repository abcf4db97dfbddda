package registry_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4l-data4life/go-chat-host/pkg/registry"
)

func TestDefaultCatalog(t *testing.T) {
	r := registry.Default()

	tests := []struct {
		key      string
		provider registry.Provider
		has      []registry.Capability
		lacks    []registry.Capability
	}{
		{"gpt-4o-mini", registry.ProviderOpenAI, []registry.Capability{registry.CapabilityVision, registry.CapabilitySearch}, []registry.Capability{registry.CapabilityImages}},
		{"gpt-image-1", registry.ProviderOpenAI, []registry.Capability{registry.CapabilityImages}, []registry.Capability{registry.CapabilitySearch}},
		{"claude-4-sonnet", registry.ProviderAnthropic, []registry.Capability{registry.CapabilityReasoning}, nil},
		{"gemini-2.0-flash", registry.ProviderGoogle, []registry.Capability{registry.CapabilitySearch}, []registry.Capability{registry.CapabilityReasoning}},
		{"deepseek-r1:free-openrouter", registry.ProviderOpenRouter, []registry.Capability{registry.CapabilityReasoning}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			info, err := r.Lookup(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.key, info.Key)
			assert.Equal(t, tt.provider, info.Provider)
			for _, c := range tt.has {
				assert.True(t, info.Has(c), "expected %s", c)
			}
			for _, c := range tt.lacks {
				assert.False(t, info.Has(c), "unexpected %s", c)
			}
		})
	}
}

func TestLookupErrors(t *testing.T) {
	r := registry.New(
		registry.ModelInfo{Key: "on", ID: "on", Provider: registry.ProviderOpenAI},
		registry.ModelInfo{Key: "off", ID: "off", Provider: registry.ProviderOpenAI, Disabled: true},
	)

	_, err := r.Lookup("missing")
	assert.True(t, errors.Is(err, registry.ErrModelNotFound))

	_, err = r.Lookup("off")
	assert.True(t, errors.Is(err, registry.ErrModelDisabled))

	_, err = r.Lookup("on")
	assert.NoError(t, err)
}

func TestParseRejectsIncompleteEntries(t *testing.T) {
	_, err := registry.Parse([]byte("broken:\n  name: nothing\n"))
	assert.Error(t, err)
}

func TestAllIsSorted(t *testing.T) {
	all := registry.Default().All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Key, all[i].Key)
	}
}
