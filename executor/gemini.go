package executor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/internal/logger"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient serves models hosted by the Gemini API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

// NewGeminiClient creates a client with the given API key.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: newHTTPClient(),
		log:        logger.GetDefaultLogger(),
	}
}

// NewGeminiClientFromEnv creates a client from the GEMINI_API_KEY
// environment variable.
func NewGeminiClientFromEnv() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return NewGeminiClient(apiKey), nil
}

// Provider implements the Client interface.
func (c *GeminiClient) Provider() catalog.ModelProvider {
	return catalog.ProviderGemini
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func geminiText(role, text string) geminiContent {
	content := geminiContent{Role: role}
	content.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return content
}

// Execute implements the Client interface.
func (c *GeminiClient) Execute(ctx context.Context, task TaskBody) (Generation, error) {
	request := struct {
		SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
		Contents          []geminiContent `json:"contents"`
	}{}

	if task.Preamble != nil {
		instruction := geminiText("", *task.Preamble)
		request.SystemInstruction = &instruction
	}
	for _, msg := range task.messages() {
		// Gemini names the assistant role "model"
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		request.Contents = append(request.Contents, geminiText(role, msg.Content))
	}

	var response struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			CandidatesTokenCount uint64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, task.Model.String(), url.QueryEscape(c.apiKey))
	if err := doJSON(ctx, c.httpClient, catalog.ProviderGemini, http.MethodPost, endpoint, nil, request, &response); err != nil {
		return Generation{}, err
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return Generation{}, &ProviderError{Provider: catalog.ProviderGemini, Message: "response has no candidates"}
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return Generation{
		Text:   text.String(),
		Tokens: response.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// Check implements the Client interface. Model names returned by the API
// are of the form "models/{id}" and may carry version suffixes, so the
// requested id is prefix-matched.
func (c *GeminiClient) Check(ctx context.Context, models catalog.ModelSet) error {
	c.log.Info("checking Gemini requirements")

	available, err := c.fetchModels(ctx)
	if err != nil {
		return err
	}

	for _, model := range models.Slice() {
		found := false
		for _, name := range available {
			if strings.HasPrefix(name, model.String()) {
				found = true
				break
			}
		}
		if !found {
			c.log.Warn("model not found in your Gemini account, ignoring it",
				logger.String("model", model.String()))
			models.Remove(model)
			continue
		}

		if _, err := c.Execute(ctx, NewPromptTask(checkPrompt, model)); err != nil {
			c.log.Warn("model failed dummy request, ignoring it",
				logger.String("model", model.String()), logger.Error(err))
			models.Remove(model)
		}
	}

	if models.Len() == 0 {
		c.log.Warn("Gemini checks are finished, no available models found")
	} else {
		c.log.Info("Gemini checks are finished", logger.Any("models", models.Slice()))
	}
	return nil
}

// fetchModels lists the model names visible to this account, with the
// "models/" prefix stripped.
func (c *GeminiClient) fetchModels(ctx context.Context) ([]string, error) {
	var response struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	endpoint := fmt.Sprintf("%s/models?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	if err := doJSON(ctx, c.httpClient, catalog.ProviderGemini, http.MethodGet, endpoint, nil, nil, &response); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(response.Models))
	for _, model := range response.Models {
		names = append(names, strings.TrimPrefix(model.Name, "models/"))
	}
	return names, nil
}
