// Package payloads defines the JSON bodies exchanged with RPC peers:
// task requests and responses, heartbeats, ping/pong and machine specs.
package payloads

import "time"

// Gossip and request-response topics used by the node.
const (
	// PingTopic carries inbound liveness probes from RPC peers.
	PingTopic = "ping"
	// PongTopic carries our responses to pings.
	PongTopic = "pong"
	// TaskTopic is the legacy gossip topic for task bodies.
	TaskTopic = "task"
	// ResultTopic is stamped on task result envelopes.
	ResultTopic = "results"
)

// TaskStats tracks the lifecycle timestamps of one task, returned in the
// response payload to help the requester debug latency.
type TaskStats struct {
	// ReceivedAt is when the task was received from the network and parsed.
	ReceivedAt time.Time `json:"receivedAt"`
	// PublishedAt is when the result was handed back to the network.
	PublishedAt time.Time `json:"publishedAt"`
	// ExecutionStartedAt is when a worker began executing the task.
	ExecutionStartedAt time.Time `json:"executionStartedAt"`
	// ExecutionEndedAt is when the worker finished executing the task.
	ExecutionEndedAt time.Time `json:"executionEndedAt"`
	// TokenCount is the number of tokens generated, when the provider reports it.
	TokenCount uint64 `json:"tokenCount"`
}

// RecordReceivedAt stamps the current time into ReceivedAt.
func (s TaskStats) RecordReceivedAt() TaskStats {
	s.ReceivedAt = time.Now().UTC()
	return s
}

// RecordPublishedAt stamps the current time into PublishedAt.
func (s TaskStats) RecordPublishedAt() TaskStats {
	s.PublishedAt = time.Now().UTC()
	return s
}

// RecordExecutionStartedAt stamps the current time into ExecutionStartedAt.
func (s TaskStats) RecordExecutionStartedAt() TaskStats {
	s.ExecutionStartedAt = time.Now().UTC()
	return s
}

// RecordExecutionEndedAt stamps the current time into ExecutionEndedAt.
func (s TaskStats) RecordExecutionEndedAt() TaskStats {
	s.ExecutionEndedAt = time.Now().UTC()
	return s
}

// RecordTokenCount stores the generated token count.
func (s TaskStats) RecordTokenCount(count uint64) TaskStats {
	s.TokenCount = count
	return s
}
