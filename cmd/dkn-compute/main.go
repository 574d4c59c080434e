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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/discovery"
	"github.com/dria-x-project/dkn/executor"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/internal/metrics"
	"github.com/dria-x-project/dkn/node"
	"github.com/dria-x-project/dkn/p2p"
)

var (
	flagEnvFile    string
	flagConfigFile string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dkn-compute",
	Short: "Dria compute node - serve LLM inference on the Dria network",
	Long: `The Dria compute node joins the Dria overlay network, advertises the
inference models it can serve, executes tasks dispatched by RPC nodes
against local (Ollama) or API (OpenAI, Gemini, OpenRouter) backends, and
returns signed results through the same overlay.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&flagEnvFile, "env", ".env", "path to the environment file")
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "path to an optional YAML overrides file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func run() error {
	if err := godotenv.Load(flagEnvFile); err != nil {
		// a missing env file is fine, the environment may be complete already
		logger.GetDefaultLogger().Warn("could not load env file", logger.Error(err))
	}

	var metricsPort int
	if flagConfigFile != "" {
		overrides, err := config.LoadOverrides(flagConfigFile)
		if err != nil {
			return err
		}
		overrides.ApplyToEnv()
		if flagLogLevel == "" {
			flagLogLevel = overrides.Logging.Level
		}
		metricsPort = overrides.Metrics.Port
	}
	if portStr := os.Getenv("DKN_METRICS_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			metricsPort = port
		}
	}

	log := logger.GetDefaultLogger()
	if flagLogLevel != "" {
		log.SetLevel(logger.ParseLevel(flagLogLevel))
	}

	log.Info("starting Dria compute node", logger.String("version", config.Version))

	// the root context is cancelled by SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.AssertListenAddrAvailable(); err != nil {
		return err
	}
	if cfg.ExitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ExitTimeout)
		defer cancel()
	}

	// the admission gate: probe every (provider, model) pair
	manager, err := executor.NewManagerFromEnv(cfg.Models)
	if err != nil {
		return err
	}
	if err := manager.CheckServices(ctx); err != nil {
		return err
	}
	log.Info("using models", logger.Any("models", manager.ModelNames()))

	// populate the known nodes: statics, env extras, then the API
	disc := discovery.NewClient(cfg.Network, config.ProtocolVersion())
	nodes := discovery.NewKnownNodes(cfg.Network).
		WithStatics().
		Extend(cfg.BootstrapNodes, cfg.RelayNodes)
	if err := disc.Refresh(ctx, nodes); err != nil {
		log.Error("error populating available nodes", logger.Error(err))
	}
	if len(nodes.RPCAddrs) == 0 {
		// fall back to the load-balanced RPC selection endpoint
		if addr, err := disc.PickRPCAddr(ctx); err == nil {
			nodes.RPCAddrs = append(nodes.RPCAddrs, addr)
			if peer, err := p2p.PeerIDFromMultiaddr(addr); err == nil {
				nodes.RPCPeerIDs = append(nodes.RPCPeerIDs, peer)
			}
		} else {
			log.Error("error picking an RPC address", logger.Error(err))
		}
	}

	// the swarm driver consumes the command channel and feeds these
	commander, commands := p2p.NewCommander(cfg.Protocol())
	gossipRx := make(chan p2p.GossipMessage, 1024)
	requestRx := make(chan p2p.Request, 1024)
	swarm := p2p.NewSwarm(commands, swarmTransport(cfg, nodes, gossipRx, requestRx)...)
	if err := swarm.Listen(cfg.ListenAddr); err != nil {
		return err
	}

	n, batchWorker, singleWorker := node.New(cfg, manager, commander, nodes, disc, gossipRx, requestRx)

	if score, err := disc.Steps(ctx, cfg.Address); err == nil {
		n.SetInitialSteps(score)
	}

	if metricsPort > 0 {
		server := metrics.NewServer(n.Metrics(), metricsPort)
		server.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			server.Stop(stopCtx)
		}()
	}

	go swarm.Run(ctx)
	if batchWorker != nil {
		go batchWorker.RunBatch(ctx, cfg.BatchSize)
	}
	if singleWorker != nil {
		go singleWorker.RunSerial(ctx)
	}

	return n.Run(ctx)
}

// swarmTransport selects the overlay transport options. The concrete
// libp2p transport is linked by deployment builds through its own init;
// the default build runs the in-memory standalone transport.
func swarmTransport(cfg *config.Config, nodes *discovery.KnownNodes, gossipTx chan<- p2p.GossipMessage, requestTx chan<- p2p.Request) []p2p.SwarmOption {
	if factory := p2p.TransportFactory(); factory != nil {
		return []p2p.SwarmOption{p2p.WithTransport(factory(p2p.TransportConfig{
			ListenAddr: cfg.ListenAddr,
			Bootstraps: nodes.Bootstraps,
			Relays:     nodes.Relays,
			GossipTx:   gossipTx,
			RequestTx:  requestTx,
		}))}
	}
	logger.GetDefaultLogger().Warn("no overlay transport linked, running standalone")
	return nil
}
