package node

import (
	"context"
	"strings"
	"time"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/health"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/p2p"
)

// handleDiagnosticRefresh emits one structured diagnostic summary and
// evaluates the liveness checks.
func (n *Node) handleDiagnosticRefresh(ctx context.Context) {
	fields := []logger.Field{
		logger.String("version", config.Version),
		logger.String("peer_id", string(n.cfg.PeerID)),
		logger.String("address", "0x"+n.cfg.Address),
		logger.String("models", strings.Join(n.manager.ModelNames(), ", ")),
	}

	if mesh, all, err := n.commander.PeerCounts(ctx); err == nil {
		fields = append(fields, logger.Int("peers_mesh", mesh), logger.Int("peers_all", all))
	} else {
		n.log.Error("error getting peer counts", logger.Error(err))
	}

	pending := n.pendingTaskCount()
	fields = append(fields,
		logger.Int("pending_single", pending[0]),
		logger.Int("pending_batch", pending[1]),
		logger.Int("completed_single", n.completedSingle),
		logger.Int("completed_batch", n.completedBatch),
		logger.Uint64("heartbeats", n.numHeartbeats),
	)
	if n.initialSteps > 0 {
		fields = append(fields, logger.Any("steps", n.initialSteps))
	}

	n.log.Info("diagnostics", fields...)

	// age out unacknowledged heartbeats
	n.expireHeartbeats()

	// liveness checks log their own failures
	n.checker.RunAll(ctx)
}

// handleAvailableNodesRefresh refreshes the known-node sets and re-dials
// every RPC address for better connectivity.
func (n *Node) handleAvailableNodesRefresh(ctx context.Context) {
	n.log.Info("refreshing available nodes")

	if n.discovery != nil {
		if err := n.discovery.Refresh(ctx, n.nodes); err != nil {
			n.log.Error("error refreshing available nodes", logger.Error(err))
		}
	}

	for _, addr := range n.nodes.RPCAddrs {
		n.dialRPC(ctx, addr)
	}

	n.log.Info("finished refreshing")
}

// dialRPC dials one RPC address with a bounded timeout.
func (n *Node) dialRPC(ctx context.Context, addr p2p.Multiaddr) {
	peer, err := p2p.PeerIDFromMultiaddr(addr)
	if err != nil {
		n.log.Warn("rpc address has no peer id", logger.String("addr", string(addr)))
		return
	}

	n.log.Info("dialling RPC node", logger.String("addr", string(addr)))
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := n.commander.Dial(dialCtx, peer, addr); err != nil {
		n.log.Warn("error dialling RPC node", logger.String("addr", string(addr)), logger.Error(err))
		return
	}
	n.log.Info("successfully dialled RPC node", logger.String("addr", string(addr)))
}

// HealthStatus evaluates all liveness checks, for operator tooling.
func (n *Node) HealthStatus(ctx context.Context) health.Status {
	return n.checker.OverallStatus(ctx)
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.startedAt)
}
