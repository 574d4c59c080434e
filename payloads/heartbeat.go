package payloads

import (
	"time"

	"github.com/google/uuid"
)

// HeartbeatRequest is sent to an RPC peer to prove the node is reachable.
// A heartbeat is live while now is not past its deadline.
type HeartbeatRequest struct {
	// HeartbeatID uniquely identifies this heartbeat request.
	HeartbeatID uuid.UUID `json:"heartbeat_id"`
	// Deadline is the time by which the acknowledgement must arrive.
	Deadline time.Time `json:"deadline"`
	// Models lists the (provider, model) pairs servable by the node.
	Models []ModelEntry `json:"models"`
	// PendingTasks is the number of queued tasks, single and batch.
	PendingTasks [2]int `json:"pending_tasks"`
}

// HeartbeatResponse is the acknowledgement from the RPC peer.
// A heartbeat with ack false is considered failed.
type HeartbeatResponse struct {
	// HeartbeatID echoes the request's identifier.
	HeartbeatID uuid.UUID `json:"heartbeat_id"`
	// Ack acknowledges the heartbeat.
	Ack bool `json:"ack"`
}

// PingpongPayload is an inbound liveness probe over gossip.
type PingpongPayload struct {
	// UUID of the ping, echoed in the pong to prevent replays.
	UUID string `json:"uuid"`
	// Deadline after which the ping must be ignored.
	Deadline time.Time `json:"deadline"`
}

// PingpongResponse is our published answer to a ping.
type PingpongResponse struct {
	// UUID as given in the ping payload.
	UUID string `json:"uuid"`
	// Models lists the (provider, model) pairs servable by the node.
	Models []ModelEntry `json:"models"`
	// PendingTasks is the number of queued tasks, single and batch.
	PendingTasks [2]int `json:"pending_tasks"`
}
