package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/internal/logger"
)

const (
	defaultOllamaHost = "http://127.0.0.1"
	defaultOllamaPort = 11434
)

// performanceTimeout bounds the benchmark generation of one model.
const performanceTimeout = 120 * time.Second

// performanceMinTPS is the minimum tokens per second a model must reach
// during the benchmark to be admitted.
const performanceMinTPS = 15.0

const (
	warmupPrompt    = "Write a short poem about hedgehogs and squirrels."
	benchmarkPrompt = "Please write a poem about Kapadokya."
)

// OllamaClient serves models hosted by a local Ollama daemon.
type OllamaClient struct {
	baseURL string
	// autoPull downloads missing models instead of failing admission.
	autoPull   bool
	httpClient *http.Client
	log        logger.Logger
}

// NewOllamaClient creates a client for the Ollama daemon at host:port.
func NewOllamaClient(host string, port int, autoPull bool) *OllamaClient {
	return &OllamaClient{
		baseURL:    fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "/"), port),
		autoPull:   autoPull,
		httpClient: newHTTPClient(),
		log:        logger.GetDefaultLogger(),
	}
}

// NewOllamaClientFromEnv creates a client from OLLAMA_HOST, OLLAMA_PORT and
// OLLAMA_AUTO_PULL, falling back to defaults when unset.
func NewOllamaClientFromEnv() (*OllamaClient, error) {
	host := strings.Trim(os.Getenv("OLLAMA_HOST"), `"`)
	if host == "" {
		host = defaultOllamaHost
	}

	port := defaultOllamaPort
	if portStr := os.Getenv("OLLAMA_PORT"); portStr != "" {
		parsed, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid OLLAMA_PORT %q: %w", portStr, err)
		}
		port = parsed
	}

	// auto-pull is on by default
	autoPull := os.Getenv("OLLAMA_AUTO_PULL") != "false"

	return NewOllamaClient(host, port, autoPull), nil
}

// Provider implements the Client interface.
func (c *OllamaClient) Provider() catalog.ModelProvider {
	return catalog.ProviderOllama
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	EvalCount    uint64 `json:"eval_count"`
	EvalDuration uint64 `json:"eval_duration"`
}

// Execute implements the Client interface.
func (c *OllamaClient) Execute(ctx context.Context, task TaskBody) (Generation, error) {
	request := ollamaChatRequest{Model: task.Model.String(), Stream: false}
	if task.Preamble != nil {
		request.Messages = append(request.Messages, Message{Role: RoleSystem, Content: *task.Preamble})
	}
	request.Messages = append(request.Messages, task.messages()...)

	var response ollamaChatResponse
	if err := c.post(ctx, "/api/chat", request, &response); err != nil {
		return Generation{}, err
	}
	return Generation{Text: response.Message.Content, Tokens: response.EvalCount}, nil
}

// Check implements the Client interface: every requested model must be
// present locally (pulled if missing and auto-pull is on) and pass a timed
// benchmark generation.
func (c *OllamaClient) Check(ctx context.Context, models catalog.ModelSet) error {
	c.log.Info("checking Ollama requirements",
		logger.Bool("auto_pull", c.autoPull),
		logger.Duration("timeout", performanceTimeout),
		logger.Any("min_tps", performanceMinTPS))

	local, err := c.listLocalModels(ctx)
	if err != nil {
		c.log.Error("could not fetch local models from Ollama, is it online?")
		return err
	}
	c.log.Info("found local Ollama models", logger.Any("models", local))

	for _, model := range models.Slice() {
		if !contains(local, model.String()) {
			c.log.Warn("model not found in Ollama", logger.String("model", model.String()))
			if !c.autoPull {
				c.log.Error("please download the missing model or set OLLAMA_AUTO_PULL=true",
					logger.String("model", model.String()))
				return fmt.Errorf("required model %s not pulled in Ollama", model)
			}
			if err := c.pull(ctx, model); err != nil {
				return fmt.Errorf("could not pull model %s: %w", model, err)
			}
		}

		if !c.testPerformance(ctx, model) {
			models.Remove(model)
		}
	}

	if models.Len() == 0 {
		c.log.Warn("no Ollama models passed the performance test, try a more powerful machine or smaller models")
	} else {
		c.log.Info("Ollama checks are finished", logger.Any("models", models.Slice()))
	}
	return nil
}

// testPerformance warms the model up and benchmarks a generation, returning
// whether its throughput clears the admission threshold.
func (c *OllamaClient) testPerformance(ctx context.Context, model catalog.Model) bool {
	c.log.Info("testing model", logger.String("model", model.String()))

	if _, err := c.generate(ctx, model, warmupPrompt); err != nil {
		c.log.Warn("ignoring model, warm-up failed",
			logger.String("model", model.String()), logger.Error(err))
		return false
	}

	benchCtx, cancel := context.WithTimeout(ctx, performanceTimeout)
	defer cancel()

	response, err := c.generate(benchCtx, model, benchmarkPrompt)
	if err != nil {
		if benchCtx.Err() != nil {
			c.log.Warn("ignoring model, benchmark timed out", logger.String("model", model.String()))
		} else {
			c.log.Warn("ignoring model, benchmark failed",
				logger.String("model", model.String()), logger.Error(err))
		}
		return false
	}

	evalDuration := response.EvalDuration
	if evalDuration == 0 {
		evalDuration = 1
	}
	tps := float64(response.EvalCount) * 1_000_000_000 / float64(evalDuration)
	if tps < performanceMinTPS {
		c.log.Warn("ignoring model, tps too low",
			logger.String("model", model.String()),
			logger.Any("tps", tps),
			logger.Any("min_tps", performanceMinTPS))
		return false
	}

	c.log.Info("model passed the benchmark",
		logger.String("model", model.String()), logger.Any("tps", tps))
	return true
}

type ollamaGenerateResponse struct {
	Response     string `json:"response"`
	EvalCount    uint64 `json:"eval_count"`
	EvalDuration uint64 `json:"eval_duration"`
}

func (c *OllamaClient) generate(ctx context.Context, model catalog.Model, prompt string) (ollamaGenerateResponse, error) {
	request := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}{Model: model.String(), Prompt: prompt}

	var response ollamaGenerateResponse
	err := c.post(ctx, "/api/generate", request, &response)
	return response, err
}

func (c *OllamaClient) pull(ctx context.Context, model catalog.Model) error {
	c.log.Info("downloading missing model, this may take a while",
		logger.String("model", model.String()))

	request := struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}{Name: model.String()}

	return c.post(ctx, "/api/pull", request, nil)
}

func (c *OllamaClient) listLocalModels(ctx context.Context) ([]string, error) {
	var response struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := doJSON(ctx, c.httpClient, catalog.ProviderOllama, http.MethodGet, c.baseURL+"/api/tags", nil, nil, &response); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(response.Models))
	for _, model := range response.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, in, out any) error {
	return doJSON(ctx, c.httpClient, catalog.ProviderOllama, http.MethodPost, c.baseURL+path, nil, in, out)
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
