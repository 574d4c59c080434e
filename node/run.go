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

package node

import (
	"context"
	"errors"
	"time"

	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/payloads"
)

var (
	errRPCPeersEmpty   = errors.New("no RPC peers are known, please restart your node")
	errNodeUnreachable = errors.New("node has not received any pings recently and may be unreachable, please restart your node")
)

// Run drives the dispatcher until the context is cancelled. On exit it
// unsubscribes its topics, prints a final diagnostic, shuts the swarm
// down and closes the worker input channels.
func (n *Node) Run(ctx context.Context) error {
	diagnosticTicker := time.NewTicker(diagnosticInterval)
	defer diagnosticTicker.Stop()
	refreshTicker := time.NewTicker(nodesRefreshInterval)
	defer refreshTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	if err := n.subscribe(ctx, payloads.PingTopic); err != nil {
		return err
	}
	if err := n.subscribe(ctx, payloads.PongTopic); err != nil {
		return err
	}

loop:
	for {
		select {
		case output, ok := <-n.taskOutputRx:
			if !ok {
				return errors.New("task output channel closed unexpectedly")
			}
			if err := n.handleTaskResponse(ctx, output); err != nil {
				n.log.Error("error responding to task", logger.Error(err))
			}

		case msg, ok := <-n.gossipRx:
			if !ok {
				return errors.New("gossip channel closed unexpectedly")
			}
			acceptance := n.handleGossipMessage(ctx, msg)
			if err := n.commander.ValidateMessage(ctx, msg.ID, msg.Propagator, acceptance); err != nil {
				n.log.Error("error validating message",
					logger.String("message_id", msg.ID), logger.Error(err))
			}
			n.metrics.RecordGossip(acceptance.String())

		case request, ok := <-n.requestRx:
			if !ok {
				return errors.New("request channel closed unexpectedly")
			}
			if err := n.handleRequest(ctx, request); err != nil {
				n.log.Error("error handling request",
					logger.String("peer", string(request.Peer)), logger.Error(err))
			}

		case <-diagnosticTicker.C:
			n.handleDiagnosticRefresh(ctx)

		case <-refreshTicker.C:
			n.handleAvailableNodesRefresh(ctx)

		case <-heartbeatTicker.C:
			if err := n.sendHeartbeat(ctx); err != nil {
				n.log.Error("error sending heartbeat", logger.Error(err))
			}

		case <-ctx.Done():
			break loop
		}
	}

	// the run context is gone, use a short one for the teardown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n.unsubscribe(shutdownCtx, payloads.PingTopic)
	n.unsubscribe(shutdownCtx, payloads.PongTopic)

	n.handleDiagnosticRefresh(shutdownCtx)

	return n.shutdown(shutdownCtx)
}

// shutdown terminates the swarm and closes the worker input channels so
// workers exit after their in-flight batches.
func (n *Node) shutdown(ctx context.Context) error {
	n.log.Debug("sending shutdown command to the swarm")
	err := n.commander.Shutdown(ctx)

	if n.taskBatchTx != nil {
		close(n.taskBatchTx)
		n.taskBatchTx = nil
	}
	if n.taskSingleTx != nil {
		close(n.taskSingleTx)
		n.taskSingleTx = nil
	}
	return err
}
