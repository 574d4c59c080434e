package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dria-x-project/dkn/catalog"
)

// ErrNoGoodModels is returned by the admission gate when every configured
// (provider, model) pair failed its health probe.
var ErrNoGoodModels = errors.New("no good models found, please check logs for errors")

// ModelNotSupportedError is returned when a model is not in the manager's
// accepted set for its provider.
type ModelNotSupportedError struct {
	Model catalog.Model
}

func (e ModelNotSupportedError) Error() string {
	return fmt.Sprintf("model %s is not supported by this node", e.Model)
}

// ProviderNotSupportedError is returned when a model's provider was never
// configured on this node.
type ProviderNotSupportedError struct {
	Provider catalog.ModelProvider
}

func (e ProviderNotSupportedError) Error() string {
	return fmt.Sprintf("provider %s is not supported by this node", e.Provider)
}

// ProviderError is a structured error parsed from a provider's JSON error
// body.
type ProviderError struct {
	Provider catalog.ModelProvider
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// parseAPIError converts a provider's HTTP error response into a
// ProviderError where the body is parseable, and an opaque error otherwise.
//
// OpenAI and OpenRouter nest under {"error": {"message", "code"}}, Gemini
// under {"error": {"code", "message", "status"}} with a numeric code, and
// Ollama returns a flat {"error": "..."}.
func parseAPIError(provider catalog.ModelProvider, status int, body []byte) error {
	switch provider {
	case catalog.ProviderOllama:
		var parsed struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
			return &ProviderError{Provider: provider, Message: parsed.Error}
		}
	case catalog.ProviderGemini:
		var parsed struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
			code := parsed.Error.Status
			if code == "" {
				code = fmt.Sprintf("%d", parsed.Error.Code)
			}
			return &ProviderError{Provider: provider, Code: code, Message: parsed.Error.Message}
		}
	default:
		var parsed struct {
			Error struct {
				// the code is a string for OpenAI and a number for OpenRouter
				Code    json.RawMessage `json:"code"`
				Type    string          `json:"type"`
				Message string          `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
			code := strings.Trim(string(parsed.Error.Code), `"`)
			if code == "" || code == "null" {
				code = parsed.Error.Type
			}
			return &ProviderError{Provider: provider, Code: code, Message: parsed.Error.Message}
		}
	}

	return fmt.Errorf("%s request failed with status %d: %s", provider, status, string(body))
}
