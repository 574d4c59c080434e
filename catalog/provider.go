package catalog

import (
	"encoding/json"
	"fmt"
)

// ModelProvider is a backend family that hosts models, e.g. GPT4o is hosted
// by OpenAI (via API) and Llama 3.1 is hosted by Ollama (locally).
type ModelProvider string

const (
	ProviderOllama     ModelProvider = "ollama"
	ProviderOpenAI     ModelProvider = "openai"
	ProviderGemini     ModelProvider = "gemini"
	ProviderOpenRouter ModelProvider = "openrouter"
)

// allProviders is the closed set of providers, in display order.
var allProviders = []ModelProvider{
	ProviderOllama,
	ProviderOpenAI,
	ProviderGemini,
	ProviderOpenRouter,
}

// ErrUnknownProvider wraps an unrecognized provider name.
type ErrUnknownProvider struct {
	Name string
}

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("model provider %q is not known", e.Name)
}

// ParseProvider parses a provider from its canonical name.
func ParseProvider(s string) (ModelProvider, error) {
	for _, provider := range allProviders {
		if string(provider) == s {
			return provider, nil
		}
	}
	return "", ErrUnknownProvider{Name: s}
}

// AllProviders returns every known provider.
func AllProviders() []ModelProvider {
	providers := make([]ModelProvider, len(allProviders))
	copy(providers, allProviders)
	return providers
}

// Models returns all models hosted by the provider.
func (p ModelProvider) Models() []Model {
	return AllWithProvider(p)
}

// IsBatchable reports whether the provider handles concurrent requests well.
// Only Ollama is non-batchable, its tasks contend for the local CPU/GPU.
func (p ModelProvider) IsBatchable() bool {
	return p != ProviderOllama
}

// String returns the canonical provider name.
func (p ModelProvider) String() string {
	return string(p)
}

// MarshalJSON encodes the provider by its canonical name.
func (p ModelProvider) MarshalJSON() ([]byte, error) {
	if _, err := ParseProvider(string(p)); err != nil {
		return nil, err
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON decodes and validates a provider name.
func (p *ModelProvider) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseProvider(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
