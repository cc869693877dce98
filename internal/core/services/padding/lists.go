package padding

import (
	"encoding/binary"
	"sort"

	"github.com/dnomd343/authchain-go/internal/core/services/prng"
)

// tripleModulus applies the load-bearing, wire-visible %2340 %2040 %1440
// reduction used when sampling every padding-length list entry. It is a
// quirk of the source and must be preserved exactly for interop.
func tripleModulus(v uint64) int {
	return int(v % 2340 % 2040 % 1440)
}

// buildList samples count values via rng and returns them sorted
// ascending, applying tripleModulus to each sample.
func buildList(rng *prng.XorShift128Plus, count int) []int {
	list := make([]int, count)
	for i := range list {
		list[i] = tripleModulus(rng.Next())
	}
	sort.Ints(list)
	return list
}

// newSeededRNG seeds a fresh generator from key (or key XOR epoch bytes
// for variant f), independent from the per-direction rand used by
// rnd_data_len.
func newSeededRNG(key []byte) *prng.XorShift128Plus {
	r := &prng.XorShift128Plus{}
	r.InitFromBin(key)
	return r
}

// buildListPair derives data_size_list (4..11 entries) and
// data_size_list2 (8..23 entries) for variant b.
func buildListPair(key []byte) (l1, l2 []int) {
	r := newSeededRNG(key)
	len1 := int(r.Next()%8) + 4
	l1 = buildList(r, len1)
	len2 := int(r.Next()%16) + 8
	l2 = buildList(r, len2)
	return l1, l2
}

// buildSingleList derives the unpatched data_size_list0 (12..35 entries)
// for variant c; variants d, e and f use buildPatchedList.
func buildSingleList(key []byte) []int {
	r := newSeededRNG(key)
	length := int(r.Next()%24) + 12
	return buildListAndPatch(r, length, false)
}

// buildPatchedList derives data_size_list0 and then patches it (variants
// d, e, f): while the largest entry is below 1300 and the list has fewer
// than 64 entries, append another sample; re-sort only if patching grew
// the list at all.
func buildPatchedList(key []byte) []int {
	r := newSeededRNG(key)
	length := int(r.Next()%24) + 12
	return buildListAndPatch(r, length, true)
}

func buildListAndPatch(r *prng.XorShift128Plus, length int, patch bool) []int {
	list := make([]int, length)
	for i := range list {
		list[i] = tripleModulus(r.Next())
	}
	sort.Ints(list)
	if !patch {
		return list
	}
	before := len(list)
	for list[len(list)-1] < 1300 && len(list) < 64 {
		list = append(list, tripleModulus(r.Next()))
	}
	if len(list) != before {
		sort.Ints(list)
	}
	return list
}

// epochBytes returns the big-endian 8-byte encoding of epoch, used by
// variant f to tweak the list-derivation key.
func epochBytes(epoch int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(epoch))
	return buf[:]
}

// keyForEpoch XORs key with epochBytes(epoch) over the first 8 bytes
// (the key_change_datetime_key_bytes quirk), leaving any remaining key
// bytes untouched.
func keyForEpoch(key []byte, epoch int64) []byte {
	eb := epochBytes(epoch)
	out := make([]byte, len(key))
	copy(out, key)
	for i := 0; i < len(out) && i < 8; i++ {
		out[i] ^= eb[i]
	}
	return out
}

func lowerBound(list []int, target int) int {
	return sort.Search(len(list), func(i int) bool { return list[i] >= target })
}
