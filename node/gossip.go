package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/message"
	"github.com/dria-x-project/dkn/p2p"
	"github.com/dria-x-project/dkn/payloads"
)

// subscribe subscribes to a gossip topic.
func (n *Node) subscribe(ctx context.Context, topic string) error {
	changed, err := n.commander.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	if changed {
		n.log.Info("subscribed", logger.String("topic", topic))
	} else {
		n.log.Info("already subscribed", logger.String("topic", topic))
	}
	return nil
}

// unsubscribe unsubscribes from a gossip topic; failures during teardown
// are only logged.
func (n *Node) unsubscribe(ctx context.Context, topic string) {
	if _, err := n.commander.Unsubscribe(ctx, topic); err != nil {
		n.log.Error("error unsubscribing", logger.String("topic", topic), logger.Error(err))
	}
}

// publish signs and publishes an envelope on its topic.
func (n *Node) publish(ctx context.Context, msg message.DriaMessage) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	messageID, err := n.commander.Publish(ctx, msg.Topic, data)
	if err != nil {
		return err
	}
	n.log.Info("published message",
		logger.String("message_id", messageID), logger.String("topic", msg.Topic))
	return nil
}

// handleGossipMessage handles one delivered gossip message and returns the
// validation decision for the pub-sub layer.
func (n *Node) handleGossipMessage(ctx context.Context, msg p2p.GossipMessage) p2p.Acceptance {
	switch msg.Topic {
	case payloads.PingTopic:
		// the message must have an authorized origin
		if msg.Source == nil {
			n.log.Warn("received message without source",
				logger.String("topic", msg.Topic), logger.String("propagator", string(msg.Propagator)))
			return p2p.IgnoreMessage
		}
		if !n.nodes.ContainsRPC(*msg.Source) {
			n.log.Warn("received message from unauthorized source",
				logger.String("source", string(*msg.Source)))
			return p2p.IgnoreMessage
		}

		envelope, err := message.FromBytesChecked(msg.Data, n.commander.Protocol().Name, config.ProtocolVersion())
		if err != nil {
			n.log.Error("error parsing message", logger.Error(err))
			return p2p.IgnoreMessage
		}

		ok, err := envelope.Verify(n.trustedKeys)
		if err != nil {
			n.log.Error("error verifying signature", logger.Error(err))
			return p2p.IgnoreMessage
		}
		if !ok {
			n.log.Warn("message has wrong signature")
			return p2p.RejectMessage
		}

		acceptance, err := n.handlePing(ctx, envelope)
		if err != nil {
			n.log.Error("error handling ping", logger.Error(err))
			return p2p.IgnoreMessage
		}
		return acceptance

	case payloads.PongTopic:
		// these are responses, ours or other nodes'; propagate them
		return p2p.AcceptMessage

	default:
		n.log.Warn("received message from unexpected topic", logger.String("topic", msg.Topic))
		return p2p.RejectMessage
	}
}

// handlePing answers a liveness probe with a signed pong carrying our
// models and queue depths.
func (n *Node) handlePing(ctx context.Context, envelope message.DriaMessage) (p2p.Acceptance, error) {
	var ping payloads.PingpongPayload
	if err := envelope.ParsePayload(&ping); err != nil {
		return p2p.IgnoreMessage, err
	}

	if !time.Now().Before(ping.Deadline) {
		n.log.Debug("ping is past the deadline, ignoring", logger.String("uuid", ping.UUID))
		return p2p.IgnoreMessage, nil
	}

	n.log.Info("received a ping", logger.String("uuid", ping.UUID))
	n.lastPingedAt = time.Now()

	response := payloads.PingpongResponse{
		UUID:         ping.UUID,
		Models:       n.modelEntries(),
		PendingTasks: n.pendingTaskCount(),
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return p2p.IgnoreMessage, err
	}

	if err := n.publish(ctx, n.newMessage(payload, payloads.PongTopic)); err != nil {
		return p2p.IgnoreMessage, err
	}
	return p2p.AcceptMessage, nil
}
