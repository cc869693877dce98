package padding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/services/prng"
)

func zeroOverhead() uint16 { return 0 }

// TestOracleEPicksSmallestFittingEntry exercises variant e directly: it
// must always return the smallest list entry that still fits bufSize,
// never a randomly chosen larger one (the trait that distinguishes it
// from variant d).
func TestOracleEPicksSmallestFittingEntry(t *testing.T) {
	o := New(domain.VariantE, []byte("user-key"), zeroOverhead, 0, nil).(*oracleE)
	require.True(t, len(o.list0) >= 2)

	rng := &prng.XorShift128Plus{}
	// One past the list's midpoint entry, guaranteed to fit under the
	// largest entry, so the fast-path "too big" branch never fires here.
	mid := len(o.list0) / 2
	need := o.list0[mid] + 1
	padLen := o.RndDataLen(need, []byte("hash-material"), rng)

	pos := lowerBound(o.list0, need)
	require.Equal(t, o.list0[pos]-need, padLen)
}

// TestOracleFRebuildsListOnEpochRollover is the variant-f sibling of the
// round-trip coverage: the completion list is keyed off key XOR epoch
// bytes, where epoch = now/interval. Advancing a fake clock past an
// interval boundary must change the derived list without either side
// exchanging anything extra on the wire.
func TestOracleFRebuildsListOnEpochRollover(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	clock := func() time.Time { return now }

	oracle := New(domain.VariantF, []byte("user-key"), zeroOverhead, time.Hour, clock)
	of := oracle.(*oracleF)

	firstEpoch := of.epoch
	firstList := of.inner.list0

	rng := &prng.XorShift128Plus{}
	_ = oracle.RndDataLen(100, []byte("hash-material"), rng)
	require.Equal(t, firstEpoch, of.epoch, "epoch must not move until the clock does")

	now = now.Add(2 * time.Hour) // cross at least one interval boundary
	_ = oracle.RndDataLen(100, []byte("hash-material"), rng)

	require.NotEqual(t, firstEpoch, of.epoch)
	require.NotEqual(t, firstList, of.inner.list0, "rollover must rebuild the completion list")
}
