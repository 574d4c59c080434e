package config

import (
	"fmt"
	"strings"

	"github.com/dria-x-project/dkn/message"
)

// Network selects which Dria network the node joins.
type Network string

const (
	// NetworkCommunity is the default public network.
	NetworkCommunity Network = "community"
	// NetworkPro is the SDK network.
	NetworkPro Network = "pro"
	// NetworkTest is the test network.
	NetworkTest Network = "test"
)

// ParseNetwork parses a network name, defaulting to community for empty
// input.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkCommunity, "":
		return NetworkCommunity, nil
	case NetworkPro:
		return NetworkPro, nil
	case NetworkTest:
		return NetworkTest, nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

// ProtocolName returns the overlay protocol family of the network.
func (n Network) ProtocolName() string {
	switch n {
	case NetworkPro:
		return "dria-sdk"
	case NetworkTest:
		return "dria-test"
	default:
		return "dria"
	}
}

// discoveryHost returns the discovery API host of the network.
func (n Network) discoveryHost() string {
	if n == NetworkTest {
		return "https://testnet.dkn.dria.co"
	}
	return "https://mainnet.dkn.dria.co"
}

// AvailableNodesURL is the discovery endpoint listing bootstrap, relay and
// RPC peers for the given protocol version.
func (n Network) AvailableNodesURL(version message.SemanticVersion) string {
	return fmt.Sprintf("%s/discovery/v0/available-nodes/%s", n.discoveryHost(), version.MajorMinor())
}

// RPCAddressesURL is the discovery endpoint listing RPC addresses together
// with their current peer counts, used for load-balanced RPC selection.
func (n Network) RPCAddressesURL(version message.SemanticVersion) string {
	return fmt.Sprintf("%s/discovery/v0/rpc-addresses/%s", n.discoveryHost(), version.MajorMinor())
}

// StepsURL is the endpoint reporting a node's accumulated score.
func (n Network) StepsURL(address string) string {
	return fmt.Sprintf("%s/discovery/v0/steps/%s", n.discoveryHost(), address)
}

func (n Network) String() string {
	return string(n)
}
