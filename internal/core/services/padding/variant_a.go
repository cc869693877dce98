package padding

import "github.com/dnomd343/authchain-go/internal/core/services/prng"

// oracleA implements auth_chain_a: no lists, just a size-bucketed ladder.
type oracleA struct{}

func (o *oracleA) RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int {
	if bufSize > 1440 {
		return 0
	}
	rng.InitFromBinLen(lastHash, bufSize)
	return ladderFallback(bufSize, rng)
}
