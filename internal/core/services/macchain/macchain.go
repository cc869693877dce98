// Package macchain implements the per-direction rolling HMAC-MD5 chain
// (C3) that links every frame of a connection to the one before it: each
// frame's length field is masked by the previous frame's hash, and each
// frame's trailing tag is an HMAC keyed on user_key and the frame's
// pack_id, computed over that masked length and the padded body. Breaking the chain at any point (a dropped frame, a
// forged tag) desynchronizes both ends, which is the chain's only
// replay/tamper defense - there is no independent integrity check.
package macchain

import (
	"encoding/binary"

	"github.com/dnomd343/authchain-go/internal/core/services/cipher"
)

// Chain holds one direction's rolling state: the running hash and the
// frame counter it is keyed on. Client->server and server->client each
// get their own Chain sharing nothing but user_key.
type Chain struct {
	userKey []byte
	packID  uint32
	hash    []byte // last 16-byte HMAC-MD5 output, the chain head
}

// New starts a chain at pack_id = 1 seeded with the initial hash
// produced during the handshake (last_client_hash / last_server_hash).
func New(userKey, initialHash []byte) *Chain {
	h := make([]byte, 16)
	copy(h, initialHash)
	return &Chain{userKey: userKey, packID: 1, hash: h}
}

// Hash returns the current chain head, consumed as PRNG seed material by
// the padding oracle and as the length mask for the next frame.
func (c *Chain) Hash() []byte {
	return c.hash
}

// PackID returns the counter the next frame will be keyed with.
func (c *Chain) PackID() uint32 {
	return c.packID
}

// macKey returns user_key ‖ le32(pack_id), the HMAC key for the current
// frame.
func (c *Chain) macKey() []byte {
	key := make([]byte, len(c.userKey)+4)
	copy(key, c.userKey)
	binary.LittleEndian.PutUint32(key[len(c.userKey):], c.packID)
	return key
}

// MaskLength XORs a plaintext body length with the low 16 bits of the
// current chain head, producing the length field actually placed on the
// wire. The same call inverts it on decode since XOR is self-inverse.
func (c *Chain) MaskLength(length int) uint16 {
	mask := binary.LittleEndian.Uint16(c.hash[14:16])
	return uint16(length) ^ mask
}

// Seal computes HMAC_MD5(mac_key, frame) over the already-assembled
// frame (masked length ‖ padded body), advances pack_id, and returns the
// 2-byte tag to append to the wire. The chain head is updated to the
// full new hash so the next frame's mask and PRNG seed follow from it.
func (c *Chain) Seal(frame []byte) []byte {
	newHash := cipher.HMACMD5(c.macKey(), frame)
	c.hash = newHash
	c.packID++
	return newHash[:2]
}

// Verify recomputes HMAC_MD5(mac_key, frame) for an incoming frame and
// reports whether it matches the supplied 2-byte tag, without mutating
// chain state. Callers must call Advance afterward on success so the
// chain head and pack_id only move once the frame is accepted.
func (c *Chain) Verify(frame, tag []byte) ([]byte, bool) {
	newHash := cipher.HMACMD5(c.macKey(), frame)
	return newHash, newHash[0] == tag[0] && newHash[1] == tag[1]
}

// Advance commits a verified frame's new hash as the chain head and
// increments pack_id, mirroring the bookkeeping Seal does on encode.
func (c *Chain) Advance(newHash []byte) {
	c.hash = newHash
	c.packID++
}
