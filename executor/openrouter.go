package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/internal/logger"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterClient serves models hosted by the OpenRouter API.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

// NewOpenRouterClient creates a client with the given API key.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:     apiKey,
		baseURL:    defaultOpenRouterBaseURL,
		httpClient: newHTTPClient(),
		log:        logger.GetDefaultLogger(),
	}
}

// NewOpenRouterClientFromEnv creates a client from the OPENROUTER_API_KEY
// environment variable.
func NewOpenRouterClientFromEnv() (*OpenRouterClient, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is not set")
	}
	return NewOpenRouterClient(apiKey), nil
}

// Provider implements the Client interface.
func (c *OpenRouterClient) Provider() catalog.ModelProvider {
	return catalog.ProviderOpenRouter
}

// Execute implements the Client interface; OpenRouter speaks the
// OpenAI-compatible chat protocol.
func (c *OpenRouterClient) Execute(ctx context.Context, task TaskBody) (Generation, error) {
	return chatCompletion(ctx, c.httpClient, catalog.ProviderOpenRouter, c.baseURL+"/chat/completions", c.apiKey, task)
}

// Check implements the Client interface. OpenRouter has no account-scoped
// model listing, so admission is a dummy chat request per model.
func (c *OpenRouterClient) Check(ctx context.Context, models catalog.ModelSet) error {
	c.log.Info("checking OpenRouter requirements")

	for _, model := range models.Slice() {
		if _, err := c.Execute(ctx, NewPromptTask(checkPrompt, model)); err != nil {
			c.log.Warn("model failed dummy request, ignoring it",
				logger.String("model", model.String()), logger.Error(err))
			models.Remove(model)
		}
	}

	if models.Len() == 0 {
		c.log.Warn("OpenRouter checks are finished, no available models found")
	} else {
		c.log.Info("OpenRouter checks are finished", logger.Any("models", models.Slice()))
	}
	return nil
}
