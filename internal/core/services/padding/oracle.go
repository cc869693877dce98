// Package padding implements the six padding-length oracles (C2):
// deterministic functions of a frame's plaintext size and the MAC
// chain's last hash that both endpoints evaluate identically, so the
// padding length never has to be transmitted.
package padding

import (
	"time"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/services/prng"
)

// Oracle computes the padding length and start offset for one variant.
// A single Oracle instance is owned by one Session and reused for the
// lifetime of the connection (variant f additionally re-derives its
// lists when the key-change epoch ticks).
type Oracle interface {
	// RndDataLen returns the number of padding bytes to inject for a
	// frame whose ciphertext is bufSize bytes, given the direction's
	// current MAC-chain hash and PRNG instance.
	RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int
}

// RndStartPos picks the offset within the padding buffer at which the
// real body is inserted, shared by all variants.
func RndStartPos(randLen int, rng *prng.XorShift128Plus) int {
	if randLen <= 0 {
		return 0
	}
	return int(rng.Next() % 8589934609 % uint64(randLen))
}

// UDPRndDataLen computes the padding length for a single UDP datagram.
func UDPRndDataLen(h []byte, rng *prng.XorShift128Plus) int {
	rng.InitFromBin(h)
	return int(rng.Next() % 127)
}

// ladderFallback is the auth_chain_a length ladder, reused verbatim as
// the fallback tail of variants b and c.
func ladderFallback(size int, rng *prng.XorShift128Plus) int {
	switch {
	case size > 1300:
		return int(rng.Next() % 31)
	case size > 900:
		return int(rng.Next() % 127)
	case size > 400:
		return int(rng.Next() % 521)
	default:
		return int(rng.Next() % 1021)
	}
}

// New constructs the Oracle for variant, deriving its padding-length
// lists from key (and, for variant f, the current key-change epoch).
func New(variant domain.Variant, key []byte, overhead func() uint16, interval time.Duration, clock func() time.Time) Oracle {
	switch variant {
	case domain.VariantA:
		return &oracleA{}
	case domain.VariantB:
		l1, l2 := buildListPair(key)
		return &oracleB{list1: l1, list2: l2, overhead: overhead}
	case domain.VariantC:
		return &oracleC{list0: buildSingleList(key), overhead: overhead}
	case domain.VariantD:
		return &oracleD{list0: buildPatchedList(key), overhead: overhead}
	case domain.VariantE:
		return &oracleE{list0: buildPatchedList(key), overhead: overhead}
	case domain.VariantF:
		return newOracleF(key, overhead, interval, clock)
	default:
		return &oracleA{}
	}
}
