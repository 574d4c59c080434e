package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dria-x-project/dkn/catalog"
)

// newOllamaTestServer serves the subset of the Ollama API used by the
// client: /api/tags, /api/pull, /api/generate and /api/chat. Benchmark
// throughput is controlled per model through tpsByModel (eval_duration is
// fixed at one second).
func newOllamaTestServer(t *testing.T, localModels []string, pullable map[string]bool, tpsByModel map[string]uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			models := make([]map[string]string, 0, len(localModels))
			for _, name := range localModels {
				models = append(models, map[string]string{"name": name})
			}
			json.NewEncoder(w).Encode(map[string]any{"models": models})

		case "/api/pull":
			var request struct {
				Name string `json:"name"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			if !pullable[request.Name] {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error": "pull model manifest: file does not exist"}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "success"})

		case "/api/generate":
			var request struct {
				Model string `json:"model"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			json.NewEncoder(w).Encode(map[string]any{
				"response":      "a poem",
				"eval_count":    tpsByModel[request.Model],
				"eval_duration": uint64(1_000_000_000),
			})

		case "/api/chat":
			json.NewEncoder(w).Encode(map[string]any{
				"message":       map[string]string{"content": "hello from ollama"},
				"eval_count":    12,
				"eval_duration": uint64(1_000_000_000),
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOllamaClientExecute(t *testing.T) {
	server := newOllamaTestServer(t, nil, nil, nil)
	defer server.Close()

	client := NewOllamaClient("http://127.0.0.1", 11434, true)
	client.baseURL = server.URL

	generation, err := client.Execute(context.Background(), NewPromptTask("hi", catalog.ModelGemma3_4b))
	require.NoError(t, err)
	assert.Equal(t, "hello from ollama", generation.Text)
	assert.Equal(t, uint64(12), generation.Tokens)
}

func TestOllamaClientCheck(t *testing.T) {
	t.Run("local model passing the benchmark is kept", func(t *testing.T) {
		server := newOllamaTestServer(t,
			[]string{catalog.ModelGemma3_4b.String()},
			nil,
			map[string]uint64{catalog.ModelGemma3_4b.String(): 100})
		defer server.Close()

		client := NewOllamaClient("http://127.0.0.1", 11434, true)
		client.baseURL = server.URL

		models := catalog.NewModelSet(catalog.ModelGemma3_4b)
		require.NoError(t, client.Check(context.Background(), models))
		assert.True(t, models.Contains(catalog.ModelGemma3_4b))
	})

	t.Run("slow model is dropped", func(t *testing.T) {
		server := newOllamaTestServer(t,
			[]string{catalog.ModelLlama3_1_8bQ4.String()},
			nil,
			map[string]uint64{catalog.ModelLlama3_1_8bQ4.String(): 3})
		defer server.Close()

		client := NewOllamaClient("http://127.0.0.1", 11434, true)
		client.baseURL = server.URL

		models := catalog.NewModelSet(catalog.ModelLlama3_1_8bQ4)
		require.NoError(t, client.Check(context.Background(), models))
		assert.False(t, models.Contains(catalog.ModelLlama3_1_8bQ4))
	})

	t.Run("missing model with auto-pull off fails the check", func(t *testing.T) {
		server := newOllamaTestServer(t, nil, nil, nil)
		defer server.Close()

		client := NewOllamaClient("http://127.0.0.1", 11434, false)
		client.baseURL = server.URL

		models := catalog.NewModelSet(catalog.ModelGemma3_4b)
		assert.Error(t, client.Check(context.Background(), models))
	})

	t.Run("unpullable model fails the check", func(t *testing.T) {
		server := newOllamaTestServer(t, nil, map[string]bool{}, nil)
		defer server.Close()

		client := NewOllamaClient("http://127.0.0.1", 11434, true)
		client.baseURL = server.URL

		models := catalog.NewModelSet(catalog.ModelGemma3_4b)
		assert.Error(t, client.Check(context.Background(), models))
	})

	t.Run("daemon offline fails the check", func(t *testing.T) {
		client := NewOllamaClient("http://127.0.0.1", 1, true) // nothing listens here
		models := catalog.NewModelSet(catalog.ModelGemma3_4b)
		assert.Error(t, client.Check(context.Background(), models))
	})
}

// Admission prunes a dead model end to end: the viable model benchmarks too
// slow, the provider set drains, and the gate reports no good models.
func TestAdmissionPrunesDeadModels(t *testing.T) {
	slow := catalog.ModelLlama3_1_8bQ4
	server := newOllamaTestServer(t,
		[]string{slow.String()},
		map[string]bool{},
		map[string]uint64{slow.String(): 3})
	defer server.Close()

	client := NewOllamaClient("http://127.0.0.1", 11434, true)
	client.baseURL = server.URL

	manager := NewManagerWithClients(
		[]catalog.Model{slow},
		map[catalog.ModelProvider]Client{catalog.ProviderOllama: client},
	)

	err := manager.CheckServices(context.Background())
	assert.ErrorIs(t, err, ErrNoGoodModels)
	assert.Empty(t, manager.Models())
}
