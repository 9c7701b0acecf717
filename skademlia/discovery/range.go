package discovery

import (
	"math/big"

	"github.com/noisenet/routing/skademlia/peer"
)

// GroupRangeStatus classifies how a probe identifier stands relative to a
// target's holder group.
type GroupRangeStatus int

const (
	// InRange means the probe is itself one of the holders.
	InRange GroupRangeStatus = iota
	// InProximalRange means the probe is not a holder but sits within the
	// configured proximity radius of the target.
	InProximalRange
	// OutwithRange means the probe is neither a holder nor proximal.
	OutwithRange
)

func (s GroupRangeStatus) String() string {
	switch s {
	case InRange:
		return "InRange"
	case InProximalRange:
		return "InProximalRange"
	default:
		return "OutwithRange"
	}
}

// GroupRange classifies probe against target's holders and radius.
// holders must be pre-sorted by increasing distance to target, must not
// contain target itself, and holds at most the close-group size entries;
// callers own that precondition.
func GroupRange(target, probe peer.ID, holders []peer.ID, radius *big.Int) GroupRangeStatus {
	if target.Equals(probe) {
		return OutwithRange
	}

	for _, h := range holders {
		if h.Equals(probe) {
			return InRange
		}
	}

	if radius == nil {
		return OutwithRange
	}

	distance := new(big.Int).SetBytes(peer.Xor(probe, target).Bytes())
	if distance.Cmp(radius) < 0 {
		return InProximalRange
	}
	return OutwithRange
}
