package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dria-x-project/dkn/catalog"
)

// fakeClient is an in-memory Client used to test manager routing.
type fakeClient struct {
	provider catalog.ModelProvider
	execute  func(ctx context.Context, task TaskBody) (Generation, error)
	check    func(ctx context.Context, models catalog.ModelSet) error
	calls    atomic.Int64
}

func (f *fakeClient) Provider() catalog.ModelProvider { return f.provider }

func (f *fakeClient) Execute(ctx context.Context, task TaskBody) (Generation, error) {
	f.calls.Add(1)
	if f.execute != nil {
		return f.execute(ctx, task)
	}
	return Generation{Text: "ok"}, nil
}

func (f *fakeClient) Check(ctx context.Context, models catalog.ModelSet) error {
	if f.check != nil {
		return f.check(ctx, models)
	}
	return nil
}

func TestManagerRouting(t *testing.T) {
	openai := &fakeClient{provider: catalog.ProviderOpenAI}
	manager := NewManagerWithClients(
		[]catalog.Model{catalog.ModelGPT4o, catalog.ModelGPT4oMini},
		map[catalog.ModelProvider]Client{catalog.ProviderOpenAI: openai},
	)

	t.Run("accepted model resolves", func(t *testing.T) {
		client, err := manager.GetExecutor(catalog.ModelGPT4o)
		require.NoError(t, err)
		assert.Equal(t, catalog.ProviderOpenAI, client.Provider())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := manager.GetExecutor(catalog.ModelGemma3_4b)
		var providerErr ProviderNotSupportedError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, catalog.ProviderOllama, providerErr.Provider)
	})

	t.Run("model outside the provider set", func(t *testing.T) {
		_, err := manager.GetExecutor(catalog.ModelO1)
		var modelErr ModelNotSupportedError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, catalog.ModelO1, modelErr.Model)
	})

	t.Run("batchable flags", func(t *testing.T) {
		assert.True(t, manager.HasBatchableModels())
		assert.False(t, manager.HasNonBatchableModels())
	})
}

func TestManagerCheckServices(t *testing.T) {
	t.Run("every accepted model resolves after the gate", func(t *testing.T) {
		manager := NewManagerWithClients(
			[]catalog.Model{catalog.ModelGPT4o, catalog.ModelORClaude3_5Sonnet},
			map[catalog.ModelProvider]Client{
				catalog.ProviderOpenAI:     &fakeClient{provider: catalog.ProviderOpenAI},
				catalog.ProviderOpenRouter: &fakeClient{provider: catalog.ProviderOpenRouter},
			},
		)
		require.NoError(t, manager.CheckServices(context.Background()))

		for _, model := range manager.Models() {
			_, err := manager.GetExecutor(model)
			require.NoError(t, err)
		}
	})

	t.Run("provider with empty set is evicted", func(t *testing.T) {
		openai := &fakeClient{
			provider: catalog.ProviderOpenAI,
			check: func(ctx context.Context, models catalog.ModelSet) error {
				for _, model := range models.Slice() {
					models.Remove(model)
				}
				return nil
			},
		}
		openrouter := &fakeClient{provider: catalog.ProviderOpenRouter}

		manager := NewManagerWithClients(
			[]catalog.Model{catalog.ModelGPT4o, catalog.ModelORClaude3_5Sonnet},
			map[catalog.ModelProvider]Client{
				catalog.ProviderOpenAI:     openai,
				catalog.ProviderOpenRouter: openrouter,
			},
		)
		require.NoError(t, manager.CheckServices(context.Background()))

		assert.Equal(t, []catalog.Model{catalog.ModelORClaude3_5Sonnet}, manager.Models())
		_, err := manager.GetExecutor(catalog.ModelGPT4o)
		assert.Error(t, err)
	})

	t.Run("no surviving pair fails the gate", func(t *testing.T) {
		drain := func(ctx context.Context, models catalog.ModelSet) error {
			for _, model := range models.Slice() {
				models.Remove(model)
			}
			return nil
		}
		manager := NewManagerWithClients(
			[]catalog.Model{catalog.ModelGPT4o},
			map[catalog.ModelProvider]Client{
				catalog.ProviderOpenAI: &fakeClient{provider: catalog.ProviderOpenAI, check: drain},
			},
		)
		assert.ErrorIs(t, manager.CheckServices(context.Background()), ErrNoGoodModels)
	})
}

func TestOpenAIClientCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/models":
			// gpt-4o-mini exists in the account, o1 does not
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]string{{"id": "gpt-4o-mini"}, {"id": "gpt-4o"}},
			})
		case r.URL.Path == "/chat/completions":
			var request chatCompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			if request.Model == "gpt-4o" {
				// model visible but refuses to serve
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error": {"message": "no access", "code": "forbidden"}}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"content": "4"}}},
				"usage":   map[string]uint64{"completion_tokens": 1},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.baseURL = server.URL

	models := catalog.NewModelSet(catalog.ModelGPT4oMini, catalog.ModelGPT4o, catalog.ModelO1)
	require.NoError(t, client.Check(context.Background(), models))

	assert.True(t, models.Contains(catalog.ModelGPT4oMini))
	assert.False(t, models.Contains(catalog.ModelGPT4o), "failing dummy request must drop the model")
	assert.False(t, models.Contains(catalog.ModelO1), "model absent from account must be dropped")
}

func TestOpenAIClientExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var request chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, "gpt-4o", request.Model)
		require.Equal(t, RoleSystem, request.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "hello"}}},
			"usage":   map[string]uint64{"completion_tokens": 7},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.baseURL = server.URL

	preamble := "Be brief."
	task := TaskBody{
		Preamble: &preamble,
		Prompt:   UserMessage("hi"),
		Model:    catalog.ModelGPT4o,
	}

	generation, err := client.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "hello", generation.Text)
	assert.Equal(t, uint64(7), generation.Tokens)
}

func TestGeminiClientCheckPrefixMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/models") {
			// versions may be suffixed in the listing
			json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "models/gemini-2.0-flash-001"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "4"}}}},
			},
		})
	}))
	defer server.Close()

	client := NewGeminiClient("test-key")
	client.baseURL = server.URL

	models := catalog.NewModelSet(catalog.ModelGemini2_0Flash, catalog.ModelGemini1_5Pro)
	require.NoError(t, client.Check(context.Background(), models))

	assert.True(t, models.Contains(catalog.ModelGemini2_0Flash), "suffixed listing must prefix-match")
	assert.False(t, models.Contains(catalog.ModelGemini1_5Pro))
}

func TestOpenRouterClientCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		if request.Model == catalog.ModelORClaude3_7Sonnet.String() {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"error": {"message": "insufficient credits", "code": 402}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "4"}}},
		})
	}))
	defer server.Close()

	client := NewOpenRouterClient("test-key")
	client.baseURL = server.URL

	models := catalog.NewModelSet(catalog.ModelORClaude3_5Sonnet, catalog.ModelORClaude3_7Sonnet)
	require.NoError(t, client.Check(context.Background(), models))

	assert.True(t, models.Contains(catalog.ModelORClaude3_5Sonnet))
	assert.False(t, models.Contains(catalog.ModelORClaude3_7Sonnet))
}
