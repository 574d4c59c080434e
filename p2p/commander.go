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

package p2p

import (
	"context"
	"fmt"

	"github.com/dria-x-project/dkn/message"
)

// commandChannelSize buffers commands towards the swarm driver.
const commandChannelSize = 256

// Commander is the handle through which the node drives the swarm. It is
// cheap to copy and safe to share; every operation is a command sent over
// the internal channel, answered on a single-use reply channel.
type Commander struct {
	commands chan<- Command
	protocol message.Protocol
}

// NewCommander creates a commander and the command channel its swarm
// driver must consume.
func NewCommander(protocol message.Protocol) (Commander, <-chan Command) {
	commands := make(chan Command, commandChannelSize)
	return Commander{commands: commands, protocol: protocol}, commands
}

// Protocol returns the protocol descriptor the node speaks, used by
// callers to stamp envelopes.
func (c Commander) Protocol() message.Protocol {
	return c.protocol
}

// send submits a command, honoring context cancellation.
func (c Commander) send(ctx context.Context, cmd Command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("could not send command: %w", ctx.Err())
	}
}

// Subscribe subscribes to a gossip topic, reporting whether the node was
// not already subscribed.
func (c Commander) Subscribe(ctx context.Context, topic string) (bool, error) {
	reply := make(chan BoolReply, 1)
	if err := c.send(ctx, SubscribeCommand{Topic: topic, Reply: reply}); err != nil {
		return false, err
	}
	return awaitBool(ctx, reply)
}

// Unsubscribe unsubscribes from a gossip topic, reporting whether the node
// was subscribed.
func (c Commander) Unsubscribe(ctx context.Context, topic string) (bool, error) {
	reply := make(chan BoolReply, 1)
	if err := c.send(ctx, SubscribeCommand{Topic: topic, Unsubscribe: true, Reply: reply}); err != nil {
		return false, err
	}
	return awaitBool(ctx, reply)
}

// Publish publishes bytes on a topic and returns the message id.
func (c Commander) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	reply := make(chan StringReply, 1)
	if err := c.send(ctx, PublishCommand{Topic: topic, Data: data, Reply: reply}); err != nil {
		return "", err
	}
	return awaitString(ctx, reply)
}

// ValidateMessage reports the validation decision for a delivered gossip
// message. Required for every delivered message.
func (c Commander) ValidateMessage(ctx context.Context, messageID string, propagator PeerID, acceptance Acceptance) error {
	reply := make(chan ErrorReply, 1)
	cmd := ValidateMessageCommand{
		MessageID:  messageID,
		Propagator: propagator,
		Acceptance: acceptance,
		Reply:      reply,
	}
	if err := c.send(ctx, cmd); err != nil {
		return err
	}
	return awaitError(ctx, reply)
}

// Request initiates a request-response exchange and returns the request id.
func (c Commander) Request(ctx context.Context, peer PeerID, data []byte) (string, error) {
	reply := make(chan StringReply, 1)
	if err := c.send(ctx, RequestCommand{Peer: peer, Data: data, Reply: reply}); err != nil {
		return "", err
	}
	return awaitString(ctx, reply)
}

// Respond finishes an inbound request-response exchange.
func (c Commander) Respond(ctx context.Context, channel ResponseChannel, data []byte) error {
	reply := make(chan ErrorReply, 1)
	if err := c.send(ctx, RespondCommand{Data: data, Channel: channel, Reply: reply}); err != nil {
		return err
	}
	return awaitError(ctx, reply)
}

// Dial dials a known peer.
func (c Commander) Dial(ctx context.Context, peer PeerID, address Multiaddr) error {
	reply := make(chan ErrorReply, 1)
	if err := c.send(ctx, DialCommand{Peer: peer, Address: address, Reply: reply}); err != nil {
		return err
	}
	return awaitError(ctx, reply)
}

// IsConnected checks for an active connection to the peer.
func (c Commander) IsConnected(ctx context.Context, peer PeerID) (bool, error) {
	reply := make(chan BoolReply, 1)
	if err := c.send(ctx, IsConnectedCommand{Peer: peer, Reply: reply}); err != nil {
		return false, err
	}
	return awaitBool(ctx, reply)
}

// NetworkInfo returns the swarm's connectivity summary.
func (c Commander) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	reply := make(chan NetworkInfoReply, 1)
	if err := c.send(ctx, NetworkInfoCommand{Reply: reply}); err != nil {
		return NetworkInfo{}, err
	}
	select {
	case r := <-reply:
		return r.Info, r.Err
	case <-ctx.Done():
		return NetworkInfo{}, fmt.Errorf("could not receive reply: %w", ctx.Err())
	}
}

// PeerCounts returns the gossip mesh and total peer counts.
func (c Commander) PeerCounts(ctx context.Context) (mesh int, all int, err error) {
	reply := make(chan PeerCountsReply, 1)
	if err := c.send(ctx, PeerCountsCommand{Reply: reply}); err != nil {
		return 0, 0, err
	}
	select {
	case r := <-reply:
		return r.Mesh, r.All, r.Err
	case <-ctx.Done():
		return 0, 0, fmt.Errorf("could not receive reply: %w", ctx.Err())
	}
}

// Shutdown terminates the swarm driver.
func (c Commander) Shutdown(ctx context.Context) error {
	reply := make(chan ErrorReply, 1)
	if err := c.send(ctx, ShutdownCommand{Reply: reply}); err != nil {
		return err
	}
	return awaitError(ctx, reply)
}

func awaitBool(ctx context.Context, reply <-chan BoolReply) (bool, error) {
	select {
	case r := <-reply:
		return r.Value, r.Err
	case <-ctx.Done():
		return false, fmt.Errorf("could not receive reply: %w", ctx.Err())
	}
}

func awaitString(ctx context.Context, reply <-chan StringReply) (string, error) {
	select {
	case r := <-reply:
		return r.Value, r.Err
	case <-ctx.Done():
		return "", fmt.Errorf("could not receive reply: %w", ctx.Err())
	}
}

func awaitError(ctx context.Context, reply <-chan ErrorReply) error {
	select {
	case r := <-reply:
		return r.Err
	case <-ctx.Done():
		return fmt.Errorf("could not receive reply: %w", ctx.Err())
	}
}
