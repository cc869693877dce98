package padding

import "github.com/dnomd343/authchain-go/internal/core/services/prng"

// oracleE implements auth_chain_e: identical list construction to d, but
// always selects the smallest fitting list entry instead of a randomly
// chosen one (the PRNG seed still advances, it is just not consumed for
// the selection itself).
type oracleE struct {
	list0    []int
	overhead func() uint16
}

func (o *oracleE) RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int {
	rng.InitFromBinLen(lastHash, bufSize)
	need := bufSize + int(o.overhead())
	if need >= o.list0[len(o.list0)-1] {
		return 0
	}
	pos := lowerBound(o.list0, need)
	return o.list0[pos] - need
}
