package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/payloads"
)

// sendHeartbeat sends a heartbeat request to a known RPC peer and tracks
// its deadline until the acknowledgement arrives.
func (n *Node) sendHeartbeat(ctx context.Context) error {
	if len(n.nodes.RPCPeerIDs) == 0 {
		n.log.Debug("no RPC peers to heartbeat")
		return nil
	}
	peer := n.nodes.RPCPeerIDs[0]

	heartbeatID := uuid.New()
	deadline := time.Now().Add(heartbeatDeadline)

	request := payloads.HeartbeatRequest{
		HeartbeatID:  heartbeatID,
		Deadline:     deadline,
		Models:       n.modelEntries(),
		PendingTasks: n.pendingTaskCount(),
	}
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	requestID, err := n.commander.Request(ctx, peer, data)
	if err != nil {
		return err
	}

	n.heartbeatsInFlight[heartbeatID] = deadline
	n.metrics.RecordHeartbeatSent()
	n.log.Debug("sent heartbeat",
		logger.String("heartbeat_id", heartbeatID.String()),
		logger.String("request_id", requestID),
		logger.String("peer", string(peer)))
	return nil
}

// handleHeartbeatAck resolves an acknowledgement against the in-flight
// heartbeat set.
func (n *Node) handleHeartbeatAck(ack payloads.HeartbeatResponse) error {
	deadline, exists := n.heartbeatsInFlight[ack.HeartbeatID]
	if !exists {
		return fmt.Errorf("received an unknown heartbeat response with id %s", ack.HeartbeatID)
	}
	delete(n.heartbeatsInFlight, ack.HeartbeatID)

	if !ack.Ack {
		return fmt.Errorf("heartbeat %s was not acknowledged", ack.HeartbeatID)
	}
	if time.Now().After(deadline) {
		return fmt.Errorf("acknowledged heartbeat %s was past the deadline", ack.HeartbeatID)
	}

	n.lastHeartbeatAt = time.Now()
	n.numHeartbeats++
	n.metrics.RecordHeartbeatAcked()
	return nil
}

// expireHeartbeats ages out in-flight heartbeats whose deadlines passed
// without an acknowledgement.
func (n *Node) expireHeartbeats() {
	now := time.Now()
	for id, deadline := range n.heartbeatsInFlight {
		if now.After(deadline) {
			n.log.Warn("heartbeat expired without acknowledgement",
				logger.String("heartbeat_id", id.String()))
			delete(n.heartbeatsInFlight, id)
		}
	}
}
