// Package discovery maintains the node's view of the network's well-known
// peers: bootstraps, relays and the authoritative RPC peers, refreshed
// periodically from the discovery API.
package discovery

import (
	"sort"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/p2p"
)

// KnownNodes is the refreshed set of well-known peers.
//
//   - Bootstraps seed the DHT.
//   - Relays serve the relay circuit for NATed nodes.
//   - RPCAddrs are the dialable addresses of RPC peers.
//   - RPCPeerIDs is the authoritative allow-list for inbound gossip and
//     request-response.
type KnownNodes struct {
	Network    config.Network
	Bootstraps []p2p.Multiaddr
	Relays     []p2p.Multiaddr
	RPCAddrs   []p2p.Multiaddr
	RPCPeerIDs []p2p.PeerID
}

// NewKnownNodes creates an empty set for the given network.
func NewKnownNodes(network config.Network) *KnownNodes {
	return &KnownNodes{Network: network}
}

// WithStatics extends the set with the network's hardcoded seed nodes.
func (n *KnownNodes) WithStatics() *KnownNodes {
	n.Bootstraps = append(n.Bootstraps, staticBootstrapNodes(n.Network)...)
	n.Relays = append(n.Relays, staticRelayNodes(n.Network)...)
	n.RPCPeerIDs = append(n.RPCPeerIDs, staticRPCPeerIDs(n.Network)...)
	return n.SortDedup()
}

// Extend adds extra bootstrap and relay addresses, e.g. from the
// environment.
func (n *KnownNodes) Extend(bootstraps, relays []p2p.Multiaddr) *KnownNodes {
	n.Bootstraps = append(n.Bootstraps, bootstraps...)
	n.Relays = append(n.Relays, relays...)
	return n.SortDedup()
}

// SortDedup removes duplicates within all fields.
func (n *KnownNodes) SortDedup() *KnownNodes {
	n.Bootstraps = dedupAddrs(n.Bootstraps)
	n.Relays = dedupAddrs(n.Relays)
	n.RPCAddrs = dedupAddrs(n.RPCAddrs)
	n.RPCPeerIDs = dedupPeers(n.RPCPeerIDs)
	return n
}

// ContainsRPC reports whether the peer is in the RPC allow-list.
func (n *KnownNodes) ContainsRPC(peer p2p.PeerID) bool {
	for _, id := range n.RPCPeerIDs {
		if id == peer {
			return true
		}
	}
	return false
}

func dedupAddrs(addrs []p2p.Multiaddr) []p2p.Multiaddr {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	out := addrs[:0]
	var last p2p.Multiaddr
	for i, addr := range addrs {
		if i == 0 || addr != last {
			out = append(out, addr)
		}
		last = addr
	}
	return out
}

func dedupPeers(peers []p2p.PeerID) []p2p.PeerID {
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	out := peers[:0]
	var last p2p.PeerID
	for i, peer := range peers {
		if i == 0 || peer != last {
			out = append(out, peer)
		}
		last = peer
	}
	return out
}
