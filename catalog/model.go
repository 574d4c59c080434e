// Package catalog enumerates the models servable by a compute node and the
// providers that host them. The model set is closed: unknown identifiers are
// rejected at parse time, before they can reach an executor.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Model is an identifier for a specific LLM. Its string form is the
// provider's canonical model id, e.g. "gpt-4o" or "gemma3:12b".
type Model string

const (
	// Ollama models
	ModelLlama3_1_8bQ4    Model = "llama3.1:8b-instruct-q4_K_M"
	ModelLlama3_1_8bF16   Model = "llama3.1:8b-instruct-fp16"
	ModelLlama3_2_1bQ4    Model = "llama3.2:1b-instruct-q4_K_M"
	ModelLlama3_2_3b      Model = "llama3.2:3b"
	ModelLlama3_3_70bQ4   Model = "llama3.3:70b-instruct-q4_K_M"
	ModelMistralNemo12b   Model = "mistral-nemo:12b"
	ModelGemma3_4b        Model = "gemma3:4b"
	ModelGemma3_12b       Model = "gemma3:12b"
	ModelGemma3_27b       Model = "gemma3:27b"
	ModelQwen2_5_7b       Model = "qwen2.5:7b-instruct-q5_0"
	ModelQwen2_5Coder1_5b Model = "qwen2.5-coder:1.5b"
	ModelDeepSeekR1_8b    Model = "deepseek-r1:8b"
	ModelDeepSeekR1_14b   Model = "deepseek-r1:14b"
	ModelPhi4_14b         Model = "phi4:14b"

	// OpenAI models
	ModelGPT4o       Model = "gpt-4o"
	ModelGPT4oMini   Model = "gpt-4o-mini"
	ModelGPT4Turbo   Model = "gpt-4-turbo"
	ModelGPT3_5Turbo Model = "gpt-3.5-turbo"
	ModelO1          Model = "o1"
	ModelO1Mini      Model = "o1-mini"
	ModelO3Mini      Model = "o3-mini"

	// Gemini models
	ModelGemini2_5ProExp Model = "gemini-2.5-pro-exp-03-25"
	ModelGemini2_0Flash  Model = "gemini-2.0-flash"
	ModelGemini1_5Pro    Model = "gemini-1.5-pro"
	ModelGemini1_5Flash  Model = "gemini-1.5-flash"

	// OpenRouter models
	ModelORClaude3_5Sonnet Model = "anthropic/claude-3.5-sonnet"
	ModelORClaude3_7Sonnet Model = "anthropic/claude-3-7-sonnet"
	ModelORLlama3_1_405b   Model = "meta-llama/llama-3.1-405b-instruct"
	ModelORDeepSeekChat    Model = "deepseek/deepseek-chat"
	ModelORQwen2_5_72b     Model = "qwen/qwen-2.5-72b-instruct"
)

// modelProviders maps every known model to its hosting provider.
// Membership in this map is what makes a model id valid.
var modelProviders = map[Model]ModelProvider{
	ModelLlama3_1_8bQ4:    ProviderOllama,
	ModelLlama3_1_8bF16:   ProviderOllama,
	ModelLlama3_2_1bQ4:    ProviderOllama,
	ModelLlama3_2_3b:      ProviderOllama,
	ModelLlama3_3_70bQ4:   ProviderOllama,
	ModelMistralNemo12b:   ProviderOllama,
	ModelGemma3_4b:        ProviderOllama,
	ModelGemma3_12b:       ProviderOllama,
	ModelGemma3_27b:       ProviderOllama,
	ModelQwen2_5_7b:       ProviderOllama,
	ModelQwen2_5Coder1_5b: ProviderOllama,
	ModelDeepSeekR1_8b:    ProviderOllama,
	ModelDeepSeekR1_14b:   ProviderOllama,
	ModelPhi4_14b:         ProviderOllama,

	ModelGPT4o:       ProviderOpenAI,
	ModelGPT4oMini:   ProviderOpenAI,
	ModelGPT4Turbo:   ProviderOpenAI,
	ModelGPT3_5Turbo: ProviderOpenAI,
	ModelO1:          ProviderOpenAI,
	ModelO1Mini:      ProviderOpenAI,
	ModelO3Mini:      ProviderOpenAI,

	ModelGemini2_5ProExp: ProviderGemini,
	ModelGemini2_0Flash:  ProviderGemini,
	ModelGemini1_5Pro:    ProviderGemini,
	ModelGemini1_5Flash:  ProviderGemini,

	ModelORClaude3_5Sonnet: ProviderOpenRouter,
	ModelORClaude3_7Sonnet: ProviderOpenRouter,
	ModelORLlama3_1_405b:   ProviderOpenRouter,
	ModelORDeepSeekChat:    ProviderOpenRouter,
	ModelORQwen2_5_72b:     ProviderOpenRouter,
}

// modelOrder fixes the iteration order of All, grouped by provider.
var modelOrder = []Model{
	ModelLlama3_1_8bQ4, ModelLlama3_1_8bF16, ModelLlama3_2_1bQ4, ModelLlama3_2_3b,
	ModelLlama3_3_70bQ4, ModelMistralNemo12b, ModelGemma3_4b, ModelGemma3_12b,
	ModelGemma3_27b, ModelQwen2_5_7b, ModelQwen2_5Coder1_5b, ModelDeepSeekR1_8b,
	ModelDeepSeekR1_14b, ModelPhi4_14b,
	ModelGPT4o, ModelGPT4oMini, ModelGPT4Turbo, ModelGPT3_5Turbo, ModelO1,
	ModelO1Mini, ModelO3Mini,
	ModelGemini2_5ProExp, ModelGemini2_0Flash, ModelGemini1_5Pro, ModelGemini1_5Flash,
	ModelORClaude3_5Sonnet, ModelORClaude3_7Sonnet, ModelORLlama3_1_405b,
	ModelORDeepSeekChat, ModelORQwen2_5_72b,
}

// ErrUnknownModel wraps an unrecognized model name.
type ErrUnknownModel struct {
	Name string
}

func (e ErrUnknownModel) Error() string {
	return fmt.Sprintf("model %q is not known", e.Name)
}

// ParseModel parses a model from its canonical id, rejecting unknown names.
func ParseModel(s string) (Model, error) {
	model := Model(s)
	if _, ok := modelProviders[model]; !ok {
		return "", ErrUnknownModel{Name: s}
	}
	return model, nil
}

// ModelsFromCSV parses a comma-separated list of model ids, dropping
// entries that do not parse.
func ModelsFromCSV(input string) []Model {
	var models []Model
	seen := make(map[Model]struct{})
	for _, part := range strings.Split(input, ",") {
		model, err := ParseModel(strings.TrimSpace(strings.Trim(strings.TrimSpace(part), `"`)))
		if err != nil {
			continue
		}
		if _, dup := seen[model]; dup {
			continue
		}
		seen[model] = struct{}{}
		models = append(models, model)
	}
	return models
}

// All returns every known model.
func All() []Model {
	models := make([]Model, len(modelOrder))
	copy(models, modelOrder)
	return models
}

// AllWithProvider returns every known model hosted by the given provider.
func AllWithProvider(provider ModelProvider) []Model {
	var models []Model
	for _, model := range modelOrder {
		if modelProviders[model] == provider {
			models = append(models, model)
		}
	}
	return models
}

// Provider returns the provider hosting the model.
// The model must be a known one, i.e. obtained through ParseModel.
func (m Model) Provider() ModelProvider {
	return modelProviders[m]
}

// String returns the provider's canonical model id.
func (m Model) String() string {
	return string(m)
}

// MarshalJSON encodes the model by its canonical id.
func (m Model) MarshalJSON() ([]byte, error) {
	if _, ok := modelProviders[m]; !ok {
		return nil, ErrUnknownModel{Name: string(m)}
	}
	return json.Marshal(string(m))
}

// UnmarshalJSON decodes and validates a model id.
func (m *Model) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseModel(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
