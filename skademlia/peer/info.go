package peer

// Info is the immutable-after-insertion peer record the routing table
// stores: a node's identifier, its public key, the connection identifier
// the transport assigned this link, the bucket index derived from the
// owner's identifier, and whether the peer routes for others.
//
// Info is created on admission and never mutated; the routing table owns
// it exclusively and callbacks receive copies, never aliases.
type Info struct {
	NodeID       ID
	PublicKey    []byte
	ConnectionID ID
	BucketIndex  int
	ClientMode   bool
}

// NewInfo builds a NodeInfo with its bucket index computed against self.
func NewInfo(self, nodeID, connectionID ID, publicKey []byte, clientMode bool) Info {
	return Info{
		NodeID:       nodeID,
		PublicKey:    publicKey,
		ConnectionID: connectionID,
		BucketIndex:  CommonLeadingBits(self, nodeID),
		ClientMode:   clientMode,
	}
}

// SamePublicKey reports whether info and other share a public key.
func (info Info) SamePublicKey(other Info) bool {
	if len(info.PublicKey) != len(other.PublicKey) {
		return false
	}
	for i := range info.PublicKey {
		if info.PublicKey[i] != other.PublicKey[i] {
			return false
		}
	}
	return true
}
