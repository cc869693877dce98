package padding

import "github.com/dnomd343/authchain-go/internal/core/services/prng"

// oracleC implements auth_chain_c: a single completion list; falls back
// to the auth_chain_a ladder (keyed on "need" rather than bufSize) only
// when the buffer is too large for any list entry.
type oracleC struct {
	list0    []int
	overhead func() uint16
}

func (o *oracleC) RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int {
	need := bufSize + int(o.overhead())
	rng.InitFromBinLen(lastHash, bufSize)

	if need >= o.list0[len(o.list0)-1] {
		if need >= 1440 {
			return 0
		}
		return ladderFallback(need, rng)
	}

	pos := lowerBound(o.list0, need)
	finalPos := pos + int(rng.Next()%uint64(len(o.list0)-pos))
	return o.list0[finalPos] - need
}
