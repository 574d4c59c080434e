package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/internal/logger"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient serves models hosted by the OpenAI API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

// NewOpenAIClient creates a client with the given API key.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    defaultOpenAIBaseURL,
		httpClient: newHTTPClient(),
		log:        logger.GetDefaultLogger(),
	}
}

// NewOpenAIClientFromEnv creates a client from the OPENAI_API_KEY
// environment variable.
func NewOpenAIClientFromEnv() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return NewOpenAIClient(apiKey), nil
}

// Provider implements the Client interface.
func (c *OpenAIClient) Provider() catalog.ModelProvider {
	return catalog.ProviderOpenAI
}

// openAI-compatible chat wire types, shared with OpenRouter.
type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens uint64 `json:"completion_tokens"`
	} `json:"usage"`
}

// chatCompletion runs one OpenAI-compatible chat request, shared by the
// OpenAI and OpenRouter clients.
func chatCompletion(ctx context.Context, httpClient *http.Client, provider catalog.ModelProvider, url, apiKey string, task TaskBody) (Generation, error) {
	request := chatCompletionRequest{Model: task.Model.String()}
	if task.Preamble != nil {
		request.Messages = append(request.Messages, Message{Role: RoleSystem, Content: *task.Preamble})
	}
	request.Messages = append(request.Messages, task.messages()...)

	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	var response chatCompletionResponse
	if err := doJSON(ctx, httpClient, provider, http.MethodPost, url, headers, request, &response); err != nil {
		return Generation{}, err
	}
	if len(response.Choices) == 0 {
		return Generation{}, &ProviderError{Provider: provider, Message: "response has no choices"}
	}

	return Generation{
		Text:   response.Choices[0].Message.Content,
		Tokens: response.Usage.CompletionTokens,
	}, nil
}

// Execute implements the Client interface.
func (c *OpenAIClient) Execute(ctx context.Context, task TaskBody) (Generation, error) {
	return chatCompletion(ctx, c.httpClient, catalog.ProviderOpenAI, c.baseURL+"/chat/completions", c.apiKey, task)
}

// Check implements the Client interface: a requested model must be visible
// to the account and answer a dummy chat request.
func (c *OpenAIClient) Check(ctx context.Context, models catalog.ModelSet) error {
	c.log.Info("checking OpenAI requirements")

	available, err := c.fetchModels(ctx)
	if err != nil {
		return err
	}

	for _, model := range models.Slice() {
		if !contains(available, model.String()) {
			c.log.Warn("model not found in your OpenAI account, ignoring it",
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
		c.log.Warn("OpenAI checks are finished, no available models found")
	} else {
		c.log.Info("OpenAI checks are finished", logger.Any("models", models.Slice()))
	}
	return nil
}

// fetchModels lists the model ids visible to this account.
func (c *OpenAIClient) fetchModels(ctx context.Context) ([]string, error) {
	var response struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := doJSON(ctx, c.httpClient, catalog.ProviderOpenAI, http.MethodGet, c.baseURL+"/models", headers, nil, &response); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(response.Data))
	for _, model := range response.Data {
		ids = append(ids, model.ID)
	}
	return ids, nil
}
