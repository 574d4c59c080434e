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

// Package health runs named liveness checks. The dispatcher registers RPC
// peer availability and ping freshness checks and evaluates them on its
// diagnostic tick.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dria-x-project/dkn/internal/logger"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Check is a single health check function
type Check func(ctx context.Context) error

// Checker manages the node's health checks
type Checker struct {
	checks  map[string]Check
	order   []string
	timeout time.Duration
	mu      sync.RWMutex
	log     logger.Logger
}

// NewChecker creates a health checker with the given per-check timeout
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]Check),
		timeout: timeout,
		log:     logger.GetDefaultLogger(),
	}
}

// Register adds a health check under the given name
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.checks[name]; !exists {
		c.order = append(c.order, name)
	}
	c.checks[name] = check
}

// Unregister removes a health check
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.checks, name)
	for i, existing := range c.order {
		if existing == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Run performs a single health check by name
func (c *Checker) Run(ctx context.Context, name string) (*CheckResult, error) {
	c.mu.RLock()
	check, exists := c.checks[name]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("health check not found: %s", name)
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	result := &CheckResult{
		Name:      name,
		Timestamp: time.Now(),
		Duration:  duration,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		c.log.Error("health check failed",
			logger.String("name", name), logger.Error(err))
	} else {
		result.Status = StatusHealthy
	}

	return result, nil
}

// RunAll performs every registered check, in registration order
func (c *Checker) RunAll(ctx context.Context) []*CheckResult {
	c.mu.RLock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	c.mu.RUnlock()

	results := make([]*CheckResult, 0, len(names))
	for _, name := range names {
		result, err := c.Run(ctx, name)
		if err != nil {
			result = &CheckResult{
				Name:      name,
				Status:    StatusUnhealthy,
				Message:   err.Error(),
				Timestamp: time.Now(),
			}
		}
		results = append(results, result)
	}
	return results
}

// OverallStatus reduces all check results to a single status
func (c *Checker) OverallStatus(ctx context.Context) Status {
	for _, result := range c.RunAll(ctx) {
		if result.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}
