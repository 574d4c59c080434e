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
	"context"
	"sort"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/internal/logger"
)

// providerEntry pairs a provider client with the models accepted for it.
type providerEntry struct {
	client Client
	models catalog.ModelSet
}

// Manager holds one client per configured provider together with the model
// sets they serve. After CheckServices returns it is read-only and safe to
// share with the dispatcher.
type Manager struct {
	// models is the union of all provider model sets.
	models    catalog.ModelSet
	providers map[catalog.ModelProvider]*providerEntry
	log       logger.Logger
}

// NewManagerFromEnv creates a manager for the requested models, lazily
// constructing each provider's client from the environment the first time
// its provider appears. A missing API key fails the whole build.
func NewManagerFromEnv(models []catalog.Model) (*Manager, error) {
	manager := &Manager{
		models:    catalog.NewModelSet(),
		providers: make(map[catalog.ModelProvider]*providerEntry),
		log:       logger.GetDefaultLogger(),
	}

	for _, model := range models {
		provider := model.Provider()
		entry, ok := manager.providers[provider]
		if !ok {
			client, err := NewClientFromEnv(provider)
			if err != nil {
				return nil, err
			}
			entry = &providerEntry{client: client, models: catalog.NewModelSet()}
			manager.providers[provider] = entry
		}
		entry.models.Add(model)
		manager.models.Add(model)
	}

	return manager, nil
}

// NewManagerWithClients creates a manager for the requested models using
// pre-built provider clients. Models without a matching client are dropped.
func NewManagerWithClients(models []catalog.Model, clients map[catalog.ModelProvider]Client) *Manager {
	manager := &Manager{
		models:    catalog.NewModelSet(),
		providers: make(map[catalog.ModelProvider]*providerEntry),
		log:       logger.GetDefaultLogger(),
	}

	for _, model := range models {
		provider := model.Provider()
		entry, ok := manager.providers[provider]
		if !ok {
			client, exists := clients[provider]
			if !exists {
				continue
			}
			entry = &providerEntry{client: client, models: catalog.NewModelSet()}
			manager.providers[provider] = entry
		}
		entry.models.Add(model)
		manager.models.Add(model)
	}

	return manager
}

// GetExecutor returns the client serving the given model.
func (m *Manager) GetExecutor(model catalog.Model) (Client, error) {
	provider := model.Provider()
	entry, ok := m.providers[provider]
	if !ok {
		return nil, ProviderNotSupportedError{Provider: provider}
	}
	if !entry.models.Contains(model) {
		return nil, ModelNotSupportedError{Model: model}
	}
	return entry.client, nil
}

// Models returns the accepted models in lexicographic order.
func (m *Manager) Models() []catalog.Model {
	return m.models.Slice()
}

// ModelNames returns the display names of all accepted models.
func (m *Manager) ModelNames() []string {
	names := make([]string, 0, m.models.Len())
	for _, model := range m.models.Slice() {
		names = append(names, model.String())
	}
	return names
}

// Providers returns the configured providers in lexicographic order of
// their names.
func (m *Manager) Providers() []catalog.ModelProvider {
	providers := make([]catalog.ModelProvider, 0, len(m.providers))
	for provider := range m.providers {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// HasBatchableModels reports whether any accepted model runs on a
// batchable provider.
func (m *Manager) HasBatchableModels() bool {
	for model := range m.models {
		if model.Provider().IsBatchable() {
			return true
		}
	}
	return false
}

// HasNonBatchableModels reports whether any accepted model runs on a
// non-batchable provider.
func (m *Manager) HasNonBatchableModels() bool {
	for model := range m.models {
		if !model.Provider().IsBatchable() {
			return true
		}
	}
	return false
}

// CheckServices is the admission gate: it drives every provider's Check,
// evicts providers whose model sets become empty, and fails when no
// (provider, model) pair survives.
func (m *Manager) CheckServices(ctx context.Context) error {
	m.log.Info("checking configured services")

	for provider, entry := range m.providers {
		if err := entry.client.Check(ctx, entry.models); err != nil {
			return err
		}
		if entry.models.Len() == 0 {
			m.log.Warn("provider has no models left, removing it",
				logger.String("provider", provider.String()))
			delete(m.providers, provider)
		}
	}

	// rebuild the global set from the surviving providers
	m.models = catalog.NewModelSet()
	for _, entry := range m.providers {
		for model := range entry.models {
			m.models.Add(model)
		}
	}

	if len(m.providers) == 0 {
		return ErrNoGoodModels
	}
	return nil
}
