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

// Package config reads the node's environment once at startup into an
// immutable configuration. Configuration errors are fatal: they are the
// only errors, besides a failed admission gate, that may exit main.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/crypto"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/message"
	"github.com/dria-x-project/dkn/p2p"
)

// Version is the node's release version.
const Version = "0.4.0"

// ProtocolVersion returns the parsed node version.
func ProtocolVersion() message.SemanticVersion {
	return message.MustParseVersion(Version)
}

const defaultListenAddr = "/ip4/0.0.0.0/tcp/4001"

const (
	defaultBatchSize = 5
	maxBatchSize     = 8
)

// Config is the node's immutable startup configuration.
type Config struct {
	// SecretKey is the node's wallet key, used to sign envelopes.
	SecretKey *secp256k1.PrivateKey
	// PublicKey is the wallet's public key.
	PublicKey *secp256k1.PublicKey
	// AdminPublicKey is the network administrator's public key.
	AdminPublicKey *secp256k1.PublicKey
	// Address is the node's hex-encoded Ethereum-style address.
	Address string
	// PeerID is the node's overlay identifier, for diagnostics.
	PeerID p2p.PeerID
	// ListenAddr is the p2p listen multiaddress.
	ListenAddr p2p.Multiaddr
	// Network selects the Dria network to join.
	Network Network
	// BatchSize bounds concurrent execution in the batch worker.
	BatchSize int
	// Models are the models the node wants to serve, before admission.
	Models []catalog.Model
	// BootstrapNodes are extra bootstrap addresses, additive to statics.
	BootstrapNodes []p2p.Multiaddr
	// RelayNodes are extra relay addresses, additive to statics.
	RelayNodes []p2p.Multiaddr
	// ExitTimeout self-cancels the node after the duration, 0 disables.
	ExitTimeout time.Duration
}

// FromEnv builds the configuration from the process environment.
func FromEnv() (*Config, error) {
	log := logger.GetDefaultLogger()

	secretHex := os.Getenv("DKN_WALLET_SECRET_KEY")
	if secretHex == "" {
		return nil, fmt.Errorf("DKN_WALLET_SECRET_KEY is not set")
	}
	secretKey, err := crypto.ParseSecretKey(secretHex)
	if err != nil {
		return nil, fmt.Errorf("DKN_WALLET_SECRET_KEY: %w", err)
	}
	publicKey := secretKey.PubKey()

	adminHex := os.Getenv("DKN_ADMIN_PUBLIC_KEY")
	if adminHex == "" {
		return nil, fmt.Errorf("DKN_ADMIN_PUBLIC_KEY is not set")
	}
	adminKey, err := crypto.ParsePublicKey(adminHex)
	if err != nil {
		return nil, fmt.Errorf("DKN_ADMIN_PUBLIC_KEY: %w", err)
	}

	listenStr := strings.Trim(os.Getenv("DKN_P2P_LISTEN_ADDR"), `"`)
	if listenStr == "" {
		listenStr = defaultListenAddr
	}
	listenAddr, err := p2p.ParseMultiaddr(listenStr)
	if err != nil {
		return nil, fmt.Errorf("DKN_P2P_LISTEN_ADDR: %w", err)
	}

	network, err := ParseNetwork(os.Getenv("DKN_NETWORK"))
	if err != nil {
		return nil, err
	}

	batchSize := defaultBatchSize
	if batchStr := os.Getenv("DKN_BATCH_SIZE"); batchStr != "" {
		parsed, err := strconv.Atoi(batchStr)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("DKN_BATCH_SIZE %q must be a positive integer", batchStr)
		}
		batchSize = parsed
	}
	if batchSize > maxBatchSize {
		log.Warn("batch size exceeds the maximum, capping",
			logger.Int("batch_size", batchSize), logger.Int("max", maxBatchSize))
		batchSize = maxBatchSize
	}

	models := catalog.ModelsFromCSV(os.Getenv("DKN_MODELS"))

	address := crypto.Address(publicKey)

	cfg := &Config{
		SecretKey:      secretKey,
		PublicKey:      publicKey,
		AdminPublicKey: adminKey,
		Address:        hex.EncodeToString(address[:]),
		PeerID:         p2p.PeerID(crypto.PeerID(publicKey)),
		ListenAddr:     listenAddr,
		Network:        network,
		BatchSize:      batchSize,
		Models:         models,
		BootstrapNodes: parseMultiaddrCSV(os.Getenv("DKN_BOOTSTRAP_NODES"), log),
		RelayNodes:     parseMultiaddrCSV(os.Getenv("DKN_RELAY_NODES"), log),
	}

	if timeoutStr := os.Getenv("DKN_EXIT_TIMEOUT"); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("DKN_EXIT_TIMEOUT %q must be a non-negative number of seconds", timeoutStr)
		}
		cfg.ExitTimeout = time.Duration(seconds) * time.Second
	}

	log.Info("node public key", logger.String("public_key", "0x"+hex.EncodeToString(publicKey.SerializeCompressed())))
	log.Info("node address", logger.String("address", "0x"+cfg.Address))
	log.Info("node peer id", logger.String("peer_id", string(cfg.PeerID)))

	return cfg, nil
}

// Protocol returns the overlay protocol the node speaks on its network.
func (c *Config) Protocol() message.Protocol {
	return message.NewProtocol(c.Network.ProtocolName(), ProtocolVersion())
}

// AssertListenAddrAvailable checks the configured TCP listen port is not
// already bound, so startup fails before the swarm does.
func (c *Config) AssertListenAddrAvailable() error {
	host, port, ok := splitTCPMultiaddr(c.ListenAddr)
	if !ok {
		// nothing to probe for non-TCP listen addresses
		return nil
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("listen address %s is already in use: %w", c.ListenAddr, err)
	}
	return listener.Close()
}

// splitTCPMultiaddr extracts the host and port of an /ip4 or /ip6 TCP
// multiaddress.
func splitTCPMultiaddr(addr p2p.Multiaddr) (host, port string, ok bool) {
	parts := strings.Split(string(addr), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "ip4", "ip6", "dns4", "dns6":
			host = parts[i+1]
		case "tcp":
			port = parts[i+1]
		}
	}
	return host, port, host != "" && port != ""
}

func parseMultiaddrCSV(input string, log logger.Logger) []p2p.Multiaddr {
	var addrs []p2p.Multiaddr
	for _, entry := range SplitCSV(input) {
		addr, err := p2p.ParseMultiaddr(entry)
		if err != nil {
			log.Warn("dropping invalid multiaddress", logger.String("addr", entry), logger.Error(err))
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// SplitCSV splits a comma-separated list, trimming whitespace and quotes
// and dropping empty entries.
func SplitCSV(input string) []string {
	var entries []string
	for _, part := range strings.Split(input, ",") {
		entry := strings.Trim(strings.TrimSpace(part), `"'`)
		if entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}
