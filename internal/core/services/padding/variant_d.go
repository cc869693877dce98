package padding

import "github.com/dnomd343/authchain-go/internal/core/services/prng"

// oracleD implements auth_chain_d: like c, but the completion list is
// patched so its largest entry is at least 1300 (up to 64 entries), and
// a buffer too large for the list gets no padding at all rather than
// falling back to the ladder.
type oracleD struct {
	list0    []int
	overhead func() uint16
}

func (o *oracleD) RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int {
	need := bufSize + int(o.overhead())
	if need >= o.list0[len(o.list0)-1] {
		return 0
	}

	rng.InitFromBinLen(lastHash, bufSize)
	pos := lowerBound(o.list0, need)
	finalPos := pos + int(rng.Next()%uint64(len(o.list0)-pos))
	return o.list0[finalPos] - need
}
