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

// Package node implements the compute node's dispatcher: a single event
// loop multiplexing gossip, request-response, worker results, heartbeats
// and periodic maintenance, plus the handlers those events fan out to.
package node

import (
	"context"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/discovery"
	"github.com/dria-x-project/dkn/executor"
	"github.com/dria-x-project/dkn/health"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/internal/metrics"
	"github.com/dria-x-project/dkn/message"
	"github.com/dria-x-project/dkn/p2p"
	"github.com/dria-x-project/dkn/payloads"
	"github.com/dria-x-project/dkn/specs"
	"github.com/dria-x-project/dkn/worker"
)

const (
	// diagnosticInterval is how often the node prints a diagnostic summary.
	diagnosticInterval = 30 * time.Second
	// nodesRefreshInterval is how often the known-nodes list is refreshed.
	nodesRefreshInterval = 30 * time.Minute
	// heartbeatInterval is how often a heartbeat is sent to an RPC peer.
	heartbeatInterval = 20 * time.Second
	// heartbeatDeadline is how long an acknowledgement may take.
	heartbeatDeadline = 20 * time.Second
	// pingLivenessThreshold flags the node unreachable when no ping arrived
	// for this long.
	pingLivenessThreshold = 150 * time.Second
	// dialTimeout bounds one RPC re-dial.
	dialTimeout = 10 * time.Second
	// publishChannelSize buffers worker outputs towards the dispatcher.
	publishChannelSize = 1024
)

// taskMetadata is kept per pending task until its output is responded.
type taskMetadata struct {
	// modelName goes into the response payload.
	modelName string
	// reply is the single-use request-response reply channel.
	reply p2p.ResponseChannel
}

// Node is the dispatcher. All of its state is owned by the Run goroutine
// exclusively; nothing here needs a lock.
type Node struct {
	cfg       *config.Config
	commander p2p.Commander
	manager   *executor.Manager
	nodes     *discovery.KnownNodes
	discovery *discovery.Client
	specs     *specs.Collector
	metrics   *metrics.Collector
	checker   *health.Checker
	log       logger.Logger

	// trustedKeys verify RPC envelope signatures.
	trustedKeys []*secp256k1.PublicKey

	gossipRx     <-chan p2p.GossipMessage
	requestRx    <-chan p2p.Request
	taskOutputRx chan worker.Output

	// worker input channels, nil when the track is not provisioned
	taskBatchTx  chan worker.Input
	taskSingleTx chan worker.Input

	pendingSingle map[uuid.UUID]taskMetadata
	pendingBatch  map[uuid.UUID]taskMetadata

	completedSingle int
	completedBatch  int

	// heartbeatsInFlight maps sent heartbeat ids to their deadlines.
	heartbeatsInFlight map[uuid.UUID]time.Time
	lastHeartbeatAt    time.Time
	lastPingedAt       time.Time
	numHeartbeats      uint64

	startedAt    time.Time
	initialSteps float64
}

// New creates the dispatcher together with its task workers. The returned
// batch and serial workers are nil when no configured model needs them;
// the caller runs each non-nil worker in its own goroutine, as well as the
// swarm driver feeding the gossip and request channels.
func New(
	cfg *config.Config,
	manager *executor.Manager,
	commander p2p.Commander,
	nodes *discovery.KnownNodes,
	disc *discovery.Client,
	gossipRx <-chan p2p.GossipMessage,
	requestRx <-chan p2p.Request,
) (*Node, *worker.Worker, *worker.Worker) {
	taskOutputRx := make(chan worker.Output, publishChannelSize)

	var batchWorker, singleWorker *worker.Worker
	var batchTx, singleTx chan worker.Input
	if manager.HasBatchableModels() {
		batchWorker, batchTx = worker.New(taskOutputRx)
	}
	if manager.HasNonBatchableModels() {
		singleWorker, singleTx = worker.New(taskOutputRx)
	}

	n := &Node{
		cfg:       cfg,
		commander: commander,
		manager:   manager,
		nodes:     nodes,
		discovery: disc,
		specs:     specs.NewCollector(manager.ModelNames()),
		metrics:   metrics.NewCollector(),
		checker:   health.NewChecker(5 * time.Second),
		log:       logger.GetDefaultLogger(),

		trustedKeys: []*secp256k1.PublicKey{cfg.AdminPublicKey},

		gossipRx:     gossipRx,
		requestRx:    requestRx,
		taskOutputRx: taskOutputRx,
		taskBatchTx:  batchTx,
		taskSingleTx: singleTx,

		pendingSingle: make(map[uuid.UUID]taskMetadata),
		pendingBatch:  make(map[uuid.UUID]taskMetadata),

		heartbeatsInFlight: make(map[uuid.UUID]time.Time),
		lastHeartbeatAt:    time.Now(),
		lastPingedAt:       time.Now(),
		startedAt:          time.Now(),
	}

	n.registerHealthChecks()

	return n, batchWorker, singleWorker
}

// SetInitialSteps records the node's score at startup, shown in
// diagnostics.
func (n *Node) SetInitialSteps(score float64) {
	n.initialSteps = score
}

// Metrics returns the node's counter collector.
func (n *Node) Metrics() *metrics.Collector {
	return n.metrics
}

// registerHealthChecks wires the liveness conditions evaluated on every
// diagnostic tick.
func (n *Node) registerHealthChecks() {
	n.checker.Register("rpc-peers", func(ctx context.Context) error {
		if len(n.nodes.RPCPeerIDs) == 0 {
			return errRPCPeersEmpty
		}
		return nil
	})
	n.checker.Register("ping-liveness", func(ctx context.Context) error {
		if time.Since(n.lastPingedAt) > pingLivenessThreshold {
			return errNodeUnreachable
		}
		return nil
	})
}

// pendingTaskCount returns the pending task counts, single and batch.
func (n *Node) pendingTaskCount() [2]int {
	return [2]int{len(n.pendingSingle), len(n.pendingBatch)}
}

// newMessage creates a signed envelope for the given payload and topic.
func (n *Node) newMessage(payload []byte, topic string) message.DriaMessage {
	return message.NewSigned(payload, topic, n.commander.Protocol(), n.cfg.SecretKey)
}

// modelEntries lists the node's accepted (provider, model) pairs.
func (n *Node) modelEntries() []payloads.ModelEntry {
	return payloads.ModelEntries(n.manager.Models())
}
