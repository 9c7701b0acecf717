// Package peer implements the 512-bit NodeId and the XOR proximity metric
// the routing table is built on, plus the NodeInfo peer record.
package peer

import (
	"encoding/hex"
	"fmt"
)

// IDLength is the width of a NodeId in bytes: 512 bits.
const IDLength = 64

// ID is a 512-bit opaque node identifier. The zero value is the all-zero
// identifier (never a valid peer id, but a valid sentinel/target).
type ID [IDLength]byte

// ZeroID is the all-zero identifier.
var ZeroID ID

// MaxID is the identifier with every bit set, used as the "nothing is this
// close" sentinel returned by NthClosest when the table is too small.
var MaxID = func() ID {
	var id ID
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// FromBytes copies b into a NodeId. b must be exactly IDLength bytes.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDLength {
		return id, fmt.Errorf("peer: id must be %d bytes, got %d", IDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns id as a byte slice.
func (id ID) Bytes() []byte {
	b := make([]byte, IDLength)
	copy(b, id[:])
	return b
}

// IsZero reports whether id is the all-zero identifier.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Hex returns the lowercase hex encoding of id.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer with a shortened, log-friendly form.
func (id ID) String() string {
	h := id.Hex()
	return h[:8] + "…" + h[len(h)-8:]
}

// Equals reports whether id and other are the same identifier.
func (id ID) Equals(other ID) bool {
	return id == other
}

// Xor returns the bitwise XOR of id and other.
func Xor(a, b ID) ID {
	var out ID
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less reports whether id, interpreted as a big-endian unsigned integer, is
// strictly less than other. Applied to XOR distances it is the ordering
// CloserToTarget and range checks use; distance ties never occur between
// distinct 512-bit identifiers but the comparator is total regardless.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// CloserToTarget reports whether a is strictly closer to target than b is,
// i.e. (a XOR target) < (b XOR target) as unsigned big-endian integers.
// This is the proximity comparator every "closest" query in the routing
// table is built on.
func CloserToTarget(a, b, target ID) bool {
	da := Xor(a, target)
	db := Xor(b, target)
	return da.Less(db)
}

// CommonLeadingBits returns the count of identical high-order bits between
// a and b. This doubles as the bucket index: two ids sharing a k-bit
// prefix fall k-hops away from each other in the tree.
func CommonLeadingBits(a, b ID) int {
	x := Xor(a, b)
	count := 0
	for _, by := range x {
		if by == 0 {
			count += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if by&(1<<uint(bit)) == 0 {
				count++
			} else {
				return count
			}
		}
	}
	return count
}

// NumBuckets is the number of possible bucket indices for a 512-bit id
// (0..512 inclusive, 512 meaning "identical to self").
const NumBuckets = IDLength*8 + 1
