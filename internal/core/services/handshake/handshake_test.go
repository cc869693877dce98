package handshake

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dnomd343/authchain-go/internal/core/domain"
)

func fixedRNG(seed byte) func(int) []byte {
	return func(n int) []byte {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = seed + byte(i)
		}
		return buf
	}
}

func TestBuildThenParseRoundTrip(t *testing.T) {
	serverInfo := &domain.ServerInfo{
		Key:      []byte("server-long-term-key"),
		IV:       bytes.Repeat([]byte{0x11}, 16),
		RecvIV:   bytes.Repeat([]byte{0x11}, 16),
		Overhead: 7,
	}

	result, err := Build(serverInfo, ClientParams{
		Variant:      domain.VariantA,
		ClientID:     0xAABBCCDD,
		ConnectionID: 42,
	}, fixedRNG(0x01))
	require.NoError(t, err)
	require.Len(t, result.Wire, wireSize)

	parsed, err := Parse(serverInfo, domain.VariantA, result.Wire, func(uid [4]byte) ([]byte, bool) {
		return serverInfo.Key, false // no configured users; falls back to serverInfo.Key
	})
	require.NoError(t, err)

	require.Equal(t, uint32(0xAABBCCDD), parsed.ClientID)
	require.Equal(t, uint32(42), parsed.ConnectionID)
	require.Equal(t, uint16(7), parsed.ClientOverhead)
	require.Equal(t, result.UserKey, parsed.UserKey)
	require.Equal(t, result.LastClientHash, parsed.LastClientHash)
}

func TestParseRejectsShortBufferAsIncomplete(t *testing.T) {
	serverInfo := &domain.ServerInfo{
		Key:    []byte("k"),
		IV:     bytes.Repeat([]byte{0x22}, 16),
		RecvIV: bytes.Repeat([]byte{0x22}, 16),
	}
	_, err := Parse(serverInfo, domain.VariantA, make([]byte, 5), func([4]byte) ([]byte, bool) { return nil, false })
	require.True(t, IsIncomplete(err))
}

func TestParseRejectsBadCheckHead(t *testing.T) {
	serverInfo := &domain.ServerInfo{
		Key:    []byte("k"),
		IV:     bytes.Repeat([]byte{0x33}, 16),
		RecvIV: bytes.Repeat([]byte{0x33}, 16),
	}
	head := make([]byte, wireSize)
	_, err := Parse(serverInfo, domain.VariantA, head, func([4]byte) ([]byte, bool) { return nil, false })
	require.ErrorIs(t, err, domain.ErrHandshakeMAC)
}

// TestParseSkipsEarlyCheckBetweenEightAndTwelveBytes matches the source's
// server_post_decrypt, which only runs the partial check-head MAC
// verification at exactly 7 or 8 buffered bytes, or once all 12 have
// arrived - never at 9, 10 or 11. A garbled header sitting at one of
// those in-between lengths must be reported as incomplete, not rejected.
func TestParseSkipsEarlyCheckBetweenEightAndTwelveBytes(t *testing.T) {
	serverInfo := &domain.ServerInfo{
		Key:    []byte("k"),
		IV:     bytes.Repeat([]byte{0x33}, 16),
		RecvIV: bytes.Repeat([]byte{0x33}, 16),
	}
	for _, n := range []int{9, 10, 11} {
		head := make([]byte, n)
		for i := range head {
			head[i] = 0xFF // garbage that would fail the early MAC check if it ran
		}
		_, err := Parse(serverInfo, domain.VariantA, head, func([4]byte) ([]byte, bool) { return nil, false })
		require.True(t, IsIncomplete(err), "length %d should wait for more data, not reject", n)
	}
}

func TestBuildWithExplicitUserID(t *testing.T) {
	serverInfo := &domain.ServerInfo{
		Key:    []byte("server-key"),
		IV:     bytes.Repeat([]byte{0x44}, 16),
		RecvIV: bytes.Repeat([]byte{0x44}, 16),
	}
	uid := [4]byte{1, 2, 3, 4}
	userKey := []byte("explicit-user-key")

	result, err := Build(serverInfo, ClientParams{
		Variant:      domain.VariantB,
		ClientID:     1,
		ConnectionID: 1,
		UserID:       &uid,
		UserKey:      userKey,
	}, fixedRNG(0x05))
	require.NoError(t, err)

	parsed, err := Parse(serverInfo, domain.VariantB, result.Wire, func(gotUID [4]byte) ([]byte, bool) {
		require.Equal(t, uid, gotUID)
		return userKey, true
	})
	require.NoError(t, err)
	require.Equal(t, uid, parsed.UserID)
	require.Equal(t, userKey, parsed.UserKey)
}

func TestBuildEmbedsOverheadInAuthBlock(t *testing.T) {
	serverInfo := &domain.ServerInfo{
		Key:      []byte("k"),
		IV:       bytes.Repeat([]byte{0x55}, 16),
		RecvIV:   bytes.Repeat([]byte{0x55}, 16),
		Overhead: 9,
	}
	result, err := Build(serverInfo, ClientParams{Variant: domain.VariantA, ClientID: 7, ConnectionID: 7}, fixedRNG(0x09))
	require.NoError(t, err)

	parsed, err := Parse(serverInfo, domain.VariantA, result.Wire, func([4]byte) ([]byte, bool) { return serverInfo.Key, false })
	require.NoError(t, err)
	require.Equal(t, uint16(9), parsed.ClientOverhead)
}
