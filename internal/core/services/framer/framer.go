// Package framer implements the length-prefixed, padded, MAC-chained
// frame format (C4) that carries every post-handshake byte of a session:
// each frame's plaintext is RC4-encrypted, padded to a length the
// receiver can recompute on its own, and sealed with the next MAC-chain
// tag, so that neither the padding length nor any authenticity field
// ever needs to travel on the wire as an explicit value.
package framer

import (
	"encoding/binary"
	"fmt"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/services/cipher"
	"github.com/dnomd343/authchain-go/internal/core/services/macchain"
	"github.com/dnomd343/authchain-go/internal/core/services/padding"
	"github.com/dnomd343/authchain-go/internal/core/services/prng"
)

// maxFrameTotal is the hard ceiling on data_len + rand_len; a decoded
// frame whose total reaches this is treated as a fatal framing error and
// forces the session into raw passthrough.
const maxFrameTotal = 4096

// Direction bundles the per-direction state Pack/Unpack operate on: the
// rolling MAC chain, the PRNG instance seeded from it, and the oracle
// that turns (size, hash) into a padding length. A Framer owns one
// Direction per flow (client->server, server->client).
type Direction struct {
	Chain  *macchain.Chain
	Rand   *prng.XorShift128Plus
	Oracle padding.Oracle
}

// Framer packs and unpacks frames for one connection, sharing a single
// RC4 keystream across both directions (mirroring the source's one
// self.encryptor per session) but keeping independent MAC chains.
type Framer struct {
	RC4     *cipher.RC4Stream
	Rng     func(n int) []byte // CSPRNG for padding bytes
	recvBuf []byte
}

// New constructs a Framer. rng supplies raw padding bytes; it is the
// ports.SecureRandom the core treats as an external collaborator.
func New(rc4 *cipher.RC4Stream, rng func(n int) []byte) *Framer {
	return &Framer{RC4: rc4, Rng: rng}
}

// Pack encodes one plaintext body for dir, returning the wire bytes to
// send. plaintext may be empty (padding-only keepalive frame).
func (f *Framer) Pack(dir *Direction, plaintext []byte) ([]byte, error) {
	body := f.RC4.Crypt(plaintext)

	randLen := dir.Oracle.RndDataLen(len(body), dir.Chain.Hash(), dir.Rand)
	pad := f.Rng(randLen)

	var padded []byte
	if len(body) == 0 {
		padded = pad
	} else {
		start := padding.RndStartPos(randLen, dir.Rand)
		padded = make([]byte, 0, len(pad)+len(body))
		padded = append(padded, pad[:start]...)
		padded = append(padded, body...)
		padded = append(padded, pad[start:]...)
	}

	maskedLen := dir.Chain.MaskLength(len(body))
	frame := make([]byte, 2+len(padded))
	binary.LittleEndian.PutUint16(frame[0:2], maskedLen)
	copy(frame[2:], padded)

	tag := dir.Chain.Seal(frame)
	return append(frame, tag...), nil
}

// Unpack drains as many complete frames as are available from the
// accumulated receive buffer, appending newData first. It returns the
// decrypted plaintext bodies in order. domain.ErrIncomplete is never
// returned as an error value; running out of buffered bytes simply ends
// the loop with whatever frames were already decoded.
func (f *Framer) Unpack(dir *Direction, newData []byte) ([][]byte, error) {
	f.recvBuf = append(f.recvBuf, newData...)

	var out [][]byte
	for len(f.recvBuf) >= 4 {
		maskedLen := binary.LittleEndian.Uint16(f.recvBuf[0:2])
		mask := binary.LittleEndian.Uint16(dir.Chain.Hash()[14:16])
		dataLen := int(maskedLen ^ mask)

		randLen := dir.Oracle.RndDataLen(dataLen, dir.Chain.Hash(), dir.Rand)
		total := dataLen + randLen
		if total >= maxFrameTotal {
			f.recvBuf = nil
			return out, fmt.Errorf("framer: %w (total=%d)", domain.ErrFramingOversize, total)
		}
		if total+4 > len(f.recvBuf) {
			break
		}

		frame := f.recvBuf[:total+2]
		tag := f.recvBuf[total+2 : total+4]
		newHash, ok := dir.Chain.Verify(frame, tag)
		if !ok {
			f.recvBuf = nil
			return out, fmt.Errorf("framer: %w", domain.ErrMACMismatch)
		}

		pos := 2
		if dataLen > 0 && randLen > 0 {
			pos += padding.RndStartPos(randLen, dir.Rand)
		}

		var plain []byte
		if dataLen > 0 {
			plain = f.RC4.Crypt(f.recvBuf[pos : pos+dataLen])
		}

		dir.Chain.Advance(newHash)
		f.recvBuf = f.recvBuf[total+4:]
		out = append(out, plain)
	}
	return out, nil
}
