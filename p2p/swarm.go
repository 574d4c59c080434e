package p2p

import (
	"context"
	"fmt"
	"sync"

	"github.com/dria-x-project/dkn/internal/logger"
)

// Transport is the integration point for the concrete overlay
// implementation (gossipsub, kademlia, identify and the rest of the swarm
// plumbing). The transport delivers inbound traffic by sending on the
// gossip and request channels it is constructed with; the Swarm drives it
// with the node's commands.
type Transport interface {
	// Listen binds the transport to the node's listen address.
	Listen(addr Multiaddr) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, data []byte) (messageID string, err error)
	Validate(messageID string, propagator PeerID, acceptance Acceptance) error
	Request(peer PeerID, data []byte) (requestID string, err error)
	Respond(channel ResponseChannel, data []byte) error
	Dial(peer PeerID, addr Multiaddr) error
	IsConnected(peer PeerID) (bool, error)
	NetworkInfo() (NetworkInfo, error)
	PeerCounts() (mesh int, all int, err error)
	Close() error
}

// Swarm serves the command channel against a transport. It is the
// long-lived driver task next to the dispatcher and the workers.
type Swarm struct {
	commands  <-chan Command
	transport Transport
	// subscriptions tracks topic state for idempotent (un)subscribes.
	subscriptions map[string]bool
	log           logger.Logger
}

// NewSwarm creates a swarm driver for the given command channel. Without
// WithTransport the swarm runs standalone on an in-memory transport that
// reaches no peers, which is useful for development and tests.
func NewSwarm(commands <-chan Command, opts ...SwarmOption) *Swarm {
	s := &Swarm{
		commands:      commands,
		transport:     newInMemoryTransport(),
		subscriptions: make(map[string]bool),
		log:           logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SwarmOption configures a Swarm.
type SwarmOption func(*Swarm)

// WithTransport attaches the concrete overlay transport.
func WithTransport(transport Transport) SwarmOption {
	return func(s *Swarm) { s.transport = transport }
}

// Listen binds the transport before the driver starts.
func (s *Swarm) Listen(addr Multiaddr) error {
	return s.transport.Listen(addr)
}

// Run serves commands until a shutdown command arrives or the context is
// cancelled.
func (s *Swarm) Run(ctx context.Context) error {
	defer s.transport.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-s.commands:
			if !ok {
				return nil
			}
			if done := s.handle(cmd); done {
				return nil
			}
		}
	}
}

// handle serves one command, reporting whether the driver should stop.
func (s *Swarm) handle(cmd Command) bool {
	switch cmd := cmd.(type) {
	case SubscribeCommand:
		if cmd.Unsubscribe {
			was := s.subscriptions[cmd.Topic]
			var err error
			if was {
				err = s.transport.Unsubscribe(cmd.Topic)
				delete(s.subscriptions, cmd.Topic)
			}
			cmd.Reply <- BoolReply{Value: was, Err: err}
		} else {
			was := s.subscriptions[cmd.Topic]
			var err error
			if !was {
				err = s.transport.Subscribe(cmd.Topic)
				s.subscriptions[cmd.Topic] = true
			}
			cmd.Reply <- BoolReply{Value: !was, Err: err}
		}

	case PublishCommand:
		id, err := s.transport.Publish(cmd.Topic, cmd.Data)
		cmd.Reply <- StringReply{Value: id, Err: err}

	case ValidateMessageCommand:
		cmd.Reply <- ErrorReply{Err: s.transport.Validate(cmd.MessageID, cmd.Propagator, cmd.Acceptance)}

	case RequestCommand:
		id, err := s.transport.Request(cmd.Peer, cmd.Data)
		cmd.Reply <- StringReply{Value: id, Err: err}

	case RespondCommand:
		cmd.Reply <- ErrorReply{Err: s.transport.Respond(cmd.Channel, cmd.Data)}

	case DialCommand:
		cmd.Reply <- ErrorReply{Err: s.transport.Dial(cmd.Peer, cmd.Address)}

	case IsConnectedCommand:
		connected, err := s.transport.IsConnected(cmd.Peer)
		cmd.Reply <- BoolReply{Value: connected, Err: err}

	case NetworkInfoCommand:
		info, err := s.transport.NetworkInfo()
		cmd.Reply <- NetworkInfoReply{Info: info, Err: err}

	case PeerCountsCommand:
		mesh, all, err := s.transport.PeerCounts()
		cmd.Reply <- PeerCountsReply{Mesh: mesh, All: all, Err: err}

	case ShutdownCommand:
		s.log.Debug("shutting down swarm driver")
		cmd.Reply <- ErrorReply{}
		return true
	}
	return false
}

// TransportConfig carries everything a concrete transport needs to join
// the overlay and deliver inbound traffic.
type TransportConfig struct {
	ListenAddr Multiaddr
	Bootstraps []Multiaddr
	Relays     []Multiaddr
	// GossipTx receives delivered gossip messages.
	GossipTx chan<- GossipMessage
	// RequestTx receives inbound request-response requests.
	RequestTx chan<- Request
}

var (
	transportFactoryMu sync.RWMutex
	transportFactory   func(TransportConfig) Transport
)

// RegisterTransport installs the concrete transport factory. Deployment
// builds call this from an init function.
func RegisterTransport(factory func(TransportConfig) Transport) {
	transportFactoryMu.Lock()
	defer transportFactoryMu.Unlock()
	transportFactory = factory
}

// TransportFactory returns the registered transport factory, nil if none.
func TransportFactory() func(TransportConfig) Transport {
	transportFactoryMu.RLock()
	defer transportFactoryMu.RUnlock()
	return transportFactory
}

// inMemoryTransport is the standalone transport: it accepts subscriptions
// and local bookkeeping but reaches no peers.
type inMemoryTransport struct {
	mu        sync.Mutex
	published int
	requests  int
}

func newInMemoryTransport() *inMemoryTransport {
	return &inMemoryTransport{}
}

func (t *inMemoryTransport) Listen(Multiaddr) error   { return nil }
func (t *inMemoryTransport) Subscribe(string) error   { return nil }
func (t *inMemoryTransport) Unsubscribe(string) error { return nil }

func (t *inMemoryTransport) Publish(topic string, data []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published++
	return fmt.Sprintf("local-%d", t.published), nil
}

func (t *inMemoryTransport) Validate(string, PeerID, Acceptance) error { return nil }

func (t *inMemoryTransport) Request(peer PeerID, data []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	return "", fmt.Errorf("peer %s is unreachable without an overlay transport", peer)
}

func (t *inMemoryTransport) Respond(channel ResponseChannel, data []byte) error {
	select {
	case channel <- data:
		return nil
	default:
		return fmt.Errorf("reply channel is not receiving")
	}
}

func (t *inMemoryTransport) Dial(peer PeerID, addr Multiaddr) error {
	return fmt.Errorf("peer %s is unreachable without an overlay transport", peer)
}

func (t *inMemoryTransport) IsConnected(PeerID) (bool, error) { return false, nil }

func (t *inMemoryTransport) NetworkInfo() (NetworkInfo, error) { return NetworkInfo{}, nil }

func (t *inMemoryTransport) PeerCounts() (int, int, error) { return 0, 0, nil }

func (t *inMemoryTransport) Close() error { return nil }
