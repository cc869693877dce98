package padding

import (
	"sync"
	"time"

	"github.com/dnomd343/authchain-go/internal/core/services/prng"
)

// oracleF implements auth_chain_f: identical selection logic to e, but
// the completion list is derived from key XOR epoch_bytes, where epoch
// is floor(now / keyChangeInterval). The list is rebuilt lazily whenever
// the epoch advances; rebuilding is idempotent within an epoch and
// localized to this Oracle (it does not touch any other session state).
type oracleF struct {
	mu       sync.Mutex
	key      []byte
	overhead func() uint16
	interval time.Duration
	clock    func() time.Time

	epoch int64
	inner *oracleE
}

func newOracleF(key []byte, overhead func() uint16, interval time.Duration, clock func() time.Time) *oracleF {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	o := &oracleF{key: key, overhead: overhead, interval: interval, clock: clock}
	o.epoch = o.currentEpoch()
	o.inner = &oracleE{list0: buildPatchedList(keyForEpoch(key, o.epoch)), overhead: overhead}
	return o
}

func (o *oracleF) currentEpoch() int64 {
	secs := int64(o.interval / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return o.clock().Unix() / secs
}

func (o *oracleF) RndDataLen(bufSize int, lastHash []byte, rng *prng.XorShift128Plus) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e := o.currentEpoch(); e != o.epoch {
		o.epoch = e
		o.inner = &oracleE{list0: buildPatchedList(keyForEpoch(o.key, e)), overhead: o.overhead}
	}
	return o.inner.RndDataLen(bufSize, lastHash, rng)
}
