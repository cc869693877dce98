package padding

import "github.com/dnomd343/authchain-go/internal/core/services/prng"

// oracleB implements auth_chain_b: two sorted completion lists, falling
// through to the auth_chain_a ladder with probability ~1/len(list2) when
// both lists are exhausted by a too-small buffer. This fallthrough is a
// deliberate wire-level quirk (see spec Design Notes) and must not be
// "fixed" away.
type oracleB struct {
	list1, list2 []int
	overhead     func() uint16
}

func (o *oracleB) RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int {
	if bufSize >= 1440 {
		return 0
	}
	rng.InitFromBinLen(lastHash, bufSize)

	need := bufSize + int(o.overhead())

	pos := lowerBound(o.list1, need)
	finalPos := pos + int(rng.Next()%uint64(len(o.list1)))
	if finalPos < len(o.list1) {
		return o.list1[finalPos] - need
	}

	pos2 := lowerBound(o.list2, need)
	finalPos2 := pos2 + int(rng.Next()%uint64(len(o.list2)))
	if finalPos2 < len(o.list2) {
		return o.list2[finalPos2] - need
	}
	if finalPos2 < pos2+len(o.list2)-1 {
		return 0
	}

	return ladderFallback(bufSize, rng)
}
