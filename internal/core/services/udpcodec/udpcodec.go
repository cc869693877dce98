// Package udpcodec implements the single-shot UDP datagram format (C7):
// unlike the TCP framer there is no MAC chain across packets, since UDP
// has no ordering guarantee to chain against. Each datagram carries its
// own fresh authdata, so the uid and padding length can be recovered
// independently of any other packet.
package udpcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/services/cipher"
	"github.com/dnomd343/authchain-go/internal/core/services/padding"
	"github.com/dnomd343/authchain-go/internal/core/services/prng"
)

// EncodeClient builds the client->server datagram for plaintext p.
// serverKey is server_info.key (used only to derive authdata's hash,
// never to encrypt the body); userKey/userID are the session's resolved
// identity.
func EncodeClient(serverKey, userID, userKey []byte, p []byte, rng func(int) []byte, randState *prng.XorShift128Plus) ([]byte, error) {
	authdata := rng(3)
	h := cipher.HMACMD5(serverKey, authdata)

	uid := binary.LittleEndian.Uint32(userID) ^ binary.LittleEndian.Uint32(h[0:4])
	uidBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(uidBytes, uid)

	randLen := padding.UDPRndDataLen(h, randState)

	rc4, err := cipher.NewRC4Stream(userKey, h)
	if err != nil {
		return nil, fmt.Errorf("udpcodec: rc4 setup: %w", err)
	}
	body := rc4.Crypt(p)

	packet := make([]byte, 0, len(body)+randLen+3+4)
	packet = append(packet, body...)
	packet = append(packet, rng(randLen)...)
	packet = append(packet, authdata...)
	packet = append(packet, uidBytes...)

	tag := cipher.HMACMD5(userKey, packet)
	return append(packet, tag[0]), nil
}

// DecodeServer recovers the plaintext from a client->server datagram,
// returning the resolved uid so the caller can apply its own
// known-uid/fallback user-key policy before calling a second pass if
// needed. resolveUserKey must return the key to verify and decrypt with
// for the recovered (possibly unrecognized) uid.
func DecodeServer(serverKey []byte, wire []byte, randState *prng.XorShift128Plus, resolveUserKey func(uid [4]byte) (userKey []byte, recognized bool)) (plaintext []byte, uid [4]byte, recognized bool, err error) {
	if len(wire) <= 8 {
		return nil, uid, false, fmt.Errorf("udpcodec: datagram too short")
	}

	// trailing 8 bytes are authdata(3) ‖ uid_enc(4) ‖ tag(1)
	authdata := wire[len(wire)-8 : len(wire)-5]
	uidEnc := wire[len(wire)-5 : len(wire)-1]
	h := cipher.HMACMD5(serverKey, authdata)

	for i := 0; i < 4; i++ {
		uid[i] = uidEnc[i] ^ h[i]
	}

	userKey, recognized := resolveUserKey(uid)

	body := wire[:len(wire)-1]
	tag := wire[len(wire)-1]
	if cipher.HMACMD5(userKey, body)[0] != tag {
		return nil, uid, recognized, fmt.Errorf("udpcodec: %w", domain.ErrMACMismatch)
	}

	randLen := padding.UDPRndDataLen(h, randState)
	cut := len(wire) - 8 - randLen
	if cut < 0 || cut > len(wire) {
		return nil, uid, recognized, fmt.Errorf("udpcodec: invalid padding length %d", randLen)
	}

	rc4, err := cipher.NewRC4Stream(userKey, h)
	if err != nil {
		return nil, uid, recognized, fmt.Errorf("udpcodec: rc4 setup: %w", err)
	}
	return rc4.Crypt(wire[:cut]), uid, recognized, nil
}

// EncodeServer builds the server->client response for plaintext p, using
// a 7-byte authdata and omitting the encrypted uid the client-direction
// packet carries (the client already knows which session the response
// belongs to from the socket tuple).
func EncodeServer(serverKey, userKey []byte, p []byte, rng func(int) []byte, randState *prng.XorShift128Plus) ([]byte, error) {
	authdata := rng(7)
	h := cipher.HMACMD5(serverKey, authdata)
	randLen := padding.UDPRndDataLen(h, randState)

	rc4, err := cipher.NewRC4Stream(userKey, h)
	if err != nil {
		return nil, fmt.Errorf("udpcodec: rc4 setup: %w", err)
	}
	body := rc4.Crypt(p)

	packet := make([]byte, 0, len(body)+randLen+7)
	packet = append(packet, body...)
	packet = append(packet, rng(randLen)...)
	packet = append(packet, authdata...)

	tag := cipher.HMACMD5(userKey, packet)
	return append(packet, tag[0]), nil
}

// DecodeClient recovers the plaintext from a server->client response
// using the session's own userKey (already resolved during handshake).
func DecodeClient(serverKey, userKey []byte, wire []byte, randState *prng.XorShift128Plus) ([]byte, error) {
	if len(wire) <= 8 {
		return nil, fmt.Errorf("udpcodec: datagram too short")
	}
	body := wire[:len(wire)-1]
	tag := wire[len(wire)-1]
	if cipher.HMACMD5(userKey, body)[0] != tag {
		return nil, fmt.Errorf("udpcodec: %w", domain.ErrMACMismatch)
	}

	authdata := wire[len(wire)-8 : len(wire)-1]
	h := cipher.HMACMD5(serverKey, authdata)
	randLen := padding.UDPRndDataLen(h, randState)
	cut := len(wire) - 8 - randLen
	if cut < 0 || cut > len(wire) {
		return nil, fmt.Errorf("udpcodec: invalid padding length %d", randLen)
	}

	rc4, err := cipher.NewRC4Stream(userKey, h)
	if err != nil {
		return nil, fmt.Errorf("udpcodec: rc4 setup: %w", err)
	}
	return rc4.Crypt(wire[:cut]), nil
}
