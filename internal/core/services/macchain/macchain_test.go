package macchain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainSealVerifyRoundTrip(t *testing.T) {
	userKey := []byte("session-user-key")
	initial := bytes.Repeat([]byte{0x42}, 16)

	sender := New(userKey, initial)
	receiver := New(userKey, initial)

	frame := []byte("masked-length-field-and-padded-body")

	tag := sender.Seal(frame)
	newHash, ok := receiver.Verify(frame, tag)
	require.True(t, ok, "receiver must accept a tag sealed by a chain in identical state")
	receiver.Advance(newHash)

	require.Equal(t, sender.Hash(), receiver.Hash(), "chain heads must converge after one frame")
	require.Equal(t, sender.PackID(), receiver.PackID())
}

func TestChainVerifyRejectsTamperedFrame(t *testing.T) {
	userKey := []byte("session-user-key")
	initial := bytes.Repeat([]byte{0x01}, 16)

	sender := New(userKey, initial)
	receiver := New(userKey, initial)

	frame := []byte("original body")
	tag := sender.Seal(frame)

	tampered := append([]byte(nil), frame...)
	tampered[0] ^= 0xFF

	_, ok := receiver.Verify(tampered, tag)
	require.False(t, ok, "a modified frame must not validate against the original tag")
}

func TestChainDesyncsAfterDroppedFrame(t *testing.T) {
	userKey := []byte("key")
	initial := bytes.Repeat([]byte{0xAB}, 16)

	sender := New(userKey, initial)
	receiver := New(userKey, initial)

	// sender seals two frames, receiver only ever sees the second
	_ = sender.Seal([]byte("frame one"))
	tag2 := sender.Seal([]byte("frame two"))

	_, ok := receiver.Verify([]byte("frame two"), tag2)
	require.False(t, ok, "skipping a frame must desynchronize the chain, not just the payload")
}

func TestMaskLengthIsSelfInverse(t *testing.T) {
	c := New([]byte("k"), bytes.Repeat([]byte{0x10}, 16))
	masked := c.MaskLength(123)
	c2 := New([]byte("k"), bytes.Repeat([]byte{0x10}, 16))
	unmasked := c2.MaskLength(int(masked))
	require.Equal(t, uint16(123), unmasked)
}

func TestMacKeyIncludesPackID(t *testing.T) {
	c := New([]byte("k"), bytes.Repeat([]byte{0x00}, 16))
	tag1 := c.Seal([]byte("body"))
	tag2 := c.Seal([]byte("body"))
	require.NotEqual(t, tag1, tag2, "identical bodies at different pack_ids must seal differently")
}
