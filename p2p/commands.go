package p2p

// Command is one instruction sent to the swarm driver. Every command
// carries a single-use reply channel the driver answers on.
type Command interface {
	isCommand()
}

// SubscribeCommand (un)subscribes the node to a gossip topic.
// The reply reports whether the subscription state actually changed.
type SubscribeCommand struct {
	Topic       string
	Unsubscribe bool
	Reply       chan BoolReply
}

// PublishCommand publishes bytes on a gossip topic.
type PublishCommand struct {
	Topic string
	Data  []byte
	Reply chan StringReply
}

// ValidateMessageCommand reports the validation decision for a delivered
// gossip message back to the pub-sub layer.
type ValidateMessageCommand struct {
	MessageID  string
	Propagator PeerID
	Acceptance Acceptance
	Reply      chan ErrorReply
}

// RequestCommand initiates an outbound request-response exchange.
type RequestCommand struct {
	Peer  PeerID
	Data  []byte
	Reply chan StringReply
}

// RespondCommand finishes an inbound request-response exchange.
type RespondCommand struct {
	Data    []byte
	Channel ResponseChannel
	Reply   chan ErrorReply
}

// DialCommand dials a known peer at the given address.
type DialCommand struct {
	Peer    PeerID
	Address Multiaddr
	Reply   chan ErrorReply
}

// IsConnectedCommand checks for an active connection to the peer.
type IsConnectedCommand struct {
	Peer  PeerID
	Reply chan BoolReply
}

// NetworkInfoCommand fetches the swarm's connectivity summary.
type NetworkInfoCommand struct {
	Reply chan NetworkInfoReply
}

// PeerCountsCommand fetches the gossip mesh and total peer counts.
type PeerCountsCommand struct {
	Reply chan PeerCountsReply
}

// ShutdownCommand terminates the swarm driver.
type ShutdownCommand struct {
	Reply chan ErrorReply
}

func (SubscribeCommand) isCommand()       {}
func (PublishCommand) isCommand()         {}
func (ValidateMessageCommand) isCommand() {}
func (RequestCommand) isCommand()         {}
func (RespondCommand) isCommand()         {}
func (DialCommand) isCommand()            {}
func (IsConnectedCommand) isCommand()     {}
func (NetworkInfoCommand) isCommand()     {}
func (PeerCountsCommand) isCommand()      {}
func (ShutdownCommand) isCommand()        {}

// BoolReply answers a yes/no command.
type BoolReply struct {
	Value bool
	Err   error
}

// StringReply answers a command producing an identifier.
type StringReply struct {
	Value string
	Err   error
}

// ErrorReply answers a command with no result value.
type ErrorReply struct {
	Err error
}

// NetworkInfoReply answers a NetworkInfoCommand.
type NetworkInfoReply struct {
	Info NetworkInfo
	Err  error
}

// PeerCountsReply answers a PeerCountsCommand.
type PeerCountsReply struct {
	Mesh int
	All  int
	Err  error
}
