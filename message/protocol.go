package message

import "fmt"

// Protocol describes the overlay protocol a node speaks: a name plus a
// semantic version. Two peers interoperate iff they share the same name
// and compatible versions.
type Protocol struct {
	// Name is the protocol family, e.g. "dria".
	Name string
	// Version is the node's protocol version.
	Version SemanticVersion
}

// NewProtocol creates a protocol descriptor.
func NewProtocol(name string, version SemanticVersion) Protocol {
	return Protocol{Name: name, Version: version}
}

// Identity returns the identify-protocol string, e.g. "dria/0.4".
// Patch versions do not interfere with the protocol identity.
func (p Protocol) Identity() string {
	return fmt.Sprintf("%s/%s", p.Name, p.Version.MajorMinor())
}

// Kademlia returns the DHT protocol string, e.g. "/dria/kad/0.4".
func (p Protocol) Kademlia() string {
	return fmt.Sprintf("/%s/kad/%s", p.Name, p.Version.MajorMinor())
}

func (p Protocol) String() string {
	return p.Identity()
}
