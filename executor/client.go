// Copyright (C) 2025 dria-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dria-x-project/dkn/catalog"
)

// Generation is the output of one inference call.
type Generation struct {
	// Text is the generated completion.
	Text string
	// Tokens is the number of generated tokens, when the provider reports it.
	Tokens uint64
}

// Client is the uniform capability contract over all provider backends.
//
// Clients wrap a shared HTTP connection pool and are cheap to copy; the
// manager hands the same client to every in-flight worker of a provider.
type Client interface {
	// Provider returns the backend family this client serves.
	Provider() catalog.ModelProvider
	// Execute runs one inference task against the backend.
	Execute(ctx context.Context, task TaskBody) (Generation, error)
	// Check probes every requested model, removing from the set those that
	// fail admission. An error fails the whole provider.
	Check(ctx context.Context, models catalog.ModelSet) error
}

// checkPrompt is the dummy request used to probe API-backed models.
const checkPrompt = "What is 2 + 2?"

// defaultHTTPTimeout bounds a single provider HTTP request.
const defaultHTTPTimeout = 5 * time.Minute

// NewClientFromEnv creates a client for the given provider, reading API
// keys or host configuration from the environment.
func NewClientFromEnv(provider catalog.ModelProvider) (Client, error) {
	switch provider {
	case catalog.ProviderOllama:
		return NewOllamaClientFromEnv()
	case catalog.ProviderOpenAI:
		return NewOpenAIClientFromEnv()
	case catalog.ProviderGemini:
		return NewGeminiClientFromEnv()
	case catalog.ProviderOpenRouter:
		return NewOpenRouterClientFromEnv()
	default:
		return nil, ProviderNotSupportedError{Provider: provider}
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// doJSON performs one JSON request against a provider endpoint. A non-2xx
// response is converted through parseAPIError.
func doJSON(ctx context.Context, client *http.Client, provider catalog.ModelProvider, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(provider, resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
