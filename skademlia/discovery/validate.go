package discovery

import (
	"github.com/noisenet/routing/log"
	"github.com/noisenet/routing/skademlia/peer"
	"github.com/noisenet/routing/skademlia/protobuf"
)

func checkID(raw []byte) bool {
	return len(raw) == peer.IDLength
}

func isZeroID(raw []byte) bool {
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// ValidateMessage is the frame validity predicate: a frame passes iff it
// has hops remaining, carries a full-width destination, names either a
// source or a complete relay pair (each present id full-width and
// non-zero), and honours the per-type directness rules (Connect messages
// and FindNodes responses must be direct). The presence of the other
// fields (type, flags, data, id, route history) is not checked. Invalid
// frames are logged and dropped; they never panic.
func ValidateMessage(msg *protobuf.RoutingMessage) bool {
	if msg == nil {
		return false
	}

	if msg.HopsToLive <= 0 {
		log.Warn().
			Str("source", shortHex(msg.SourceId)).
			Str("destination", shortHex(msg.DestinationId)).
			Uint32("id", msg.Id).
			Int("route_history", len(msg.RouteHistory)).
			Msg("message has traversed more hops than expected")
		return false
	}

	if !checkID(msg.DestinationId) {
		log.Warn().
			Uint32("id", msg.Id).
			Msg("stray message dropped, need destination id for processing")
		return false
	}

	hasSource := len(msg.SourceId) > 0
	hasRelay := len(msg.RelayId) > 0 && len(msg.RelayConnectionId) > 0
	if !hasSource && !hasRelay {
		log.Warn().Msg("message should have either source id or relay information")
		return false
	}

	if hasSource && (!checkID(msg.SourceId) || isZeroID(msg.SourceId)) {
		log.Warn().Msg("invalid source id field")
		return false
	}

	if len(msg.RelayId) > 0 && (!checkID(msg.RelayId) || isZeroID(msg.RelayId)) {
		log.Warn().Msg("invalid relay id field")
		return false
	}

	if len(msg.RelayConnectionId) > 0 && (!checkID(msg.RelayConnectionId) || isZeroID(msg.RelayConnectionId)) {
		log.Warn().Msg("invalid relay connection id field")
		return false
	}

	if msg.Type == protobuf.MessageType_Connect && !msg.Direct {
		log.Warn().Msg("connect messages must be direct")
		return false
	}

	if msg.Type == protobuf.MessageType_FindNodes && !msg.Request && !msg.Direct {
		log.Warn().Msg("find-nodes responses must be direct")
		return false
	}

	return true
}

// IsRoutingMessage reports whether msg is overlay control traffic.
func IsRoutingMessage(msg *protobuf.RoutingMessage) bool { return msg.RoutingMessage }

// IsNodeLevelMessage reports whether msg belongs to the host application.
func IsNodeLevelMessage(msg *protobuf.RoutingMessage) bool { return !msg.RoutingMessage }

// IsCacheableGet reports whether msg is a content lookup the cache may
// short-circuit.
func IsCacheableGet(msg *protobuf.RoutingMessage) bool {
	return msg.Cacheable == protobuf.Cacheable_Get
}

// IsCacheablePut reports whether msg carries content the cache may retain.
func IsCacheablePut(msg *protobuf.RoutingMessage) bool {
	return msg.Cacheable == protobuf.Cacheable_Put
}
