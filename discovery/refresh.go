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

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/message"
	"github.com/dria-x-project/dkn/p2p"
)

// requestTimeout bounds one discovery API request.
const requestTimeout = 30 * time.Second

// Client talks to the network's discovery API.
type Client struct {
	httpClient *http.Client
	network    config.Network
	version    message.SemanticVersion
	log        logger.Logger

	// URL overrides for tests; empty means the network's real endpoint.
	availableNodesURL string
	rpcAddressesURL   string
	stepsURL          string
}

// NewClient creates a discovery client for the given network and protocol
// version.
func NewClient(network config.Network, version message.SemanticVersion) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		network:    network,
		version:    version,
		log:        logger.GetDefaultLogger(),
	}
}

// availableNodesResponse is the discovery document listing known peers.
type availableNodesResponse struct {
	Bootstraps []string `json:"bootstraps"`
	Relays     []string `json:"relays"`
	RPCs       []string `json:"rpcs"`
	RPCAddrs   []string `json:"rpcAddrs"`
}

// Refresh extends the known-node sets from the discovery API. Invalid
// entries are logged and dropped; a partial parse does not fail the
// operation.
func (c *Client) Refresh(ctx context.Context, nodes *KnownNodes) error {
	url := c.availableNodesURL
	if url == "" {
		url = c.network.AvailableNodesURL(c.version)
	}

	var response availableNodesResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return err
	}

	nodes.Bootstraps = append(nodes.Bootstraps, c.parseAddrs(response.Bootstraps, "bootstrap")...)
	nodes.Relays = append(nodes.Relays, c.parseAddrs(response.Relays, "relay")...)
	nodes.RPCAddrs = append(nodes.RPCAddrs, c.parseAddrs(response.RPCAddrs, "rpc")...)
	for _, raw := range response.RPCs {
		peer := p2p.PeerID(strings.TrimSpace(raw))
		if peer == "" {
			c.log.Warn("dropping empty rpc peer id")
			continue
		}
		nodes.RPCPeerIDs = append(nodes.RPCPeerIDs, peer)
	}
	nodes.SortDedup()

	return nil
}

// PickRPCAddr returns the RPC address with the lowest reported peer count,
// for load balancing.
func (c *Client) PickRPCAddr(ctx context.Context) (p2p.Multiaddr, error) {
	url := c.rpcAddressesURL
	if url == "" {
		url = c.network.RPCAddressesURL(c.version)
	}

	// pairs of [multiaddr, peer count]
	var pairs [][2]json.RawMessage
	if err := c.getJSON(ctx, url, &pairs); err != nil {
		return "", err
	}
	if len(pairs) == 0 {
		return "", fmt.Errorf("no RPCs were returned by the discovery API")
	}

	var best p2p.Multiaddr
	bestCount := -1
	for _, pair := range pairs {
		var addrStr string
		var count int
		if err := json.Unmarshal(pair[0], &addrStr); err != nil {
			continue
		}
		if err := json.Unmarshal(pair[1], &count); err != nil {
			continue
		}
		addr, err := p2p.ParseMultiaddr(addrStr)
		if err != nil {
			c.log.Warn("dropping invalid rpc address", logger.String("addr", addrStr))
			continue
		}
		if bestCount == -1 || count < bestCount {
			best, bestCount = addr, count
		}
	}
	if bestCount == -1 {
		return "", fmt.Errorf("no valid RPC address in the discovery response")
	}
	return best, nil
}

// Steps returns the node's accumulated score from the leaderboard API.
func (c *Client) Steps(ctx context.Context, address string) (float64, error) {
	url := c.stepsURL
	if url == "" {
		url = c.network.StepsURL(strings.TrimPrefix(address, "0x"))
	}

	var response struct {
		Score float64 `json:"score"`
	}
	if err := c.getJSON(ctx, url, &response); err != nil {
		return 0, err
	}
	return response.Score, nil
}

func (c *Client) parseAddrs(raw []string, kind string) []p2p.Multiaddr {
	var addrs []p2p.Multiaddr
	for _, entry := range raw {
		addr, err := p2p.ParseMultiaddr(entry)
		if err != nil {
			c.log.Warn("dropping invalid address from discovery",
				logger.String("kind", kind), logger.String("addr", entry))
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not create discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach discovery API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discovery API returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse discovery response: %w", err)
	}
	return nil
}
