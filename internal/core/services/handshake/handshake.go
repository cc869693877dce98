// Package handshake implements the 36-byte opening exchange (C5) that
// binds a connection to a user_id, client_id and connection_id before
// any framed application data flows: a random check-head authenticates
// the responder's key, an AES-encrypted auth block (with its leading
// ciphertext block deliberately discarded) carries the connection
// identity, and a final HMAC-MD5 over that block lets the server verify
// the claimed user_key before admitting the connection.
package handshake

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/services/cipher"
)

// wireSize is the fixed length of the handshake header: 12-byte
// check-head, 20-byte identity block, 4-byte closing HMAC.
const wireSize = 36

// MaxClockSkew bounds how far the embedded UTC timestamp may drift from
// local time before the handshake is rejected as stale.
const MaxClockSkew = 24 * time.Hour

// ClientParams are the values the client supplies to build its opening
// packet, beyond what ServerInfo already carries.
type ClientParams struct {
	Variant      domain.Variant
	ClientID     uint32
	ConnectionID uint32
	UserID       *[4]byte // non-nil when using the "user_id:user_key" form
	UserKey      []byte   // required when UserID is set; otherwise ServerInfo.Key is used
}

// BuildResult is everything a Session needs after building the client
// handshake: the wire bytes and the cryptographic state the framer and
// MAC chains are seeded from.
type BuildResult struct {
	Wire            []byte
	UserKey         []byte
	LastClientHash  []byte // seeds the client->server MAC chain
	LastServerHash  []byte // seeds the server->client MAC chain
	RC4             *cipher.RC4Stream
}

// Build assembles the client's opening 36-byte header. rng supplies raw
// random bytes for the check-head and, when no explicit user_id is
// configured, the ephemeral uid.
func Build(info *domain.ServerInfo, p ClientParams, rng func(n int) []byte) (*BuildResult, error) {
	authBlock := make([]byte, 16)
	binary.LittleEndian.PutUint32(authBlock[0:4], uint32(time.Now().Unix()))
	binary.LittleEndian.PutUint32(authBlock[4:8], p.ClientID)
	binary.LittleEndian.PutUint32(authBlock[8:12], p.ConnectionID)
	binary.LittleEndian.PutUint16(authBlock[12:14], info.Overhead)
	binary.LittleEndian.PutUint16(authBlock[14:16], 0)

	checkHead := rng(4)
	lastClientHash := cipher.HMACMD5(append(append([]byte{}, info.IV...), info.Key...), checkHead)
	checkHead = append(append([]byte{}, checkHead...), lastClientHash[0:8]...)

	var uid [4]byte
	var userKey []byte
	if p.UserID != nil {
		uid = *p.UserID
		userKey = p.UserKey
	} else {
		copy(uid[:], rng(4))
		userKey = info.Key
	}

	uidXored := make([]byte, 4)
	for i := 0; i < 4; i++ {
		uidXored[i] = uid[i] ^ lastClientHash[8+i]
	}

	aesKey := aesAuthKey(userKey, p.Variant)
	encBlock, err := cipher.AESCBCAuthBlockEncrypt(aesKey, authBlock)
	if err != nil {
		return nil, fmt.Errorf("handshake: build auth block: %w", err)
	}

	data := append(append([]byte{}, uidXored...), encBlock...)
	lastServerHash := cipher.HMACMD5(userKey, data)

	wire := make([]byte, 0, wireSize)
	wire = append(wire, checkHead...)
	wire = append(wire, data...)
	wire = append(wire, lastServerHash[0:4]...)

	rc4, err := cipher.NewRC4Stream(userKey, lastClientHash)
	if err != nil {
		return nil, fmt.Errorf("handshake: rc4 setup: %w", err)
	}

	return &BuildResult{
		Wire:           wire,
		UserKey:        userKey,
		LastClientHash: lastClientHash,
		LastServerHash: lastServerHash,
		RC4:            rc4,
	}, nil
}

// ParseResult is everything a Session needs after accepting a server-side
// handshake.
type ParseResult struct {
	UserID         [4]byte
	UserKey        []byte
	ClientID       uint32
	ConnectionID   uint32
	ClientOverhead uint16
	LastClientHash []byte
	LastServerHash []byte
	RC4            *cipher.RC4Stream
	Consumed       int
}

// errNeedMore signals the header is not fully buffered yet; it is not a
// protocol fault and callers should simply wait for more bytes.
var errNeedMore = fmt.Errorf("handshake: incomplete header")

// Parse validates and decodes the server-side view of a client's opening
// header from head. variant selects the AES salt; resolveUserKey looks up
// a user_key for a given uid, returning recognized=false for an
// unrecognized uid. The caller (the registry/session wiring, which knows
// whether any users are configured at all) is responsible for supplying
// the correct fallback key in that case: ServerInfo.Key when no users map
// exists, ServerInfo.RecvIV when one exists but the uid isn't in it.
func Parse(info *domain.ServerInfo, variant domain.Variant, head []byte, resolveUserKey func(uid [4]byte) (key []byte, ok bool)) (*ParseResult, error) {
	if len(head) < 7 {
		return nil, errNeedMore
	}

	hash := cipher.HMACMD5(append(append([]byte{}, info.RecvIV...), info.Key...), head[0:4])
	// The source only performs this early partial-MAC check at exactly 7
	// or 8 buffered bytes, or once the full 12-byte check-head has
	// arrived; 9/10/11 bytes fall through untested and simply wait for
	// more data via the wireSize check below.
	if len(head) >= 12 || len(head) == 7 || len(head) == 8 {
		checkLen := len(head)
		if checkLen > 12 {
			checkLen = 12
		}
		checkLen -= 4
		for i := 0; i < checkLen; i++ {
			if head[4+i] != hash[i] {
				return nil, fmt.Errorf("handshake: %w", domain.ErrHandshakeMAC)
			}
		}
	}
	if len(head) < wireSize {
		return nil, errNeedMore
	}

	var uid [4]byte
	for i := 0; i < 4; i++ {
		uid[i] = head[12+i] ^ hash[8+i]
	}

	userKey, recognized := resolveUserKey(uid)

	if !hmacEqualPrefix(cipher.HMACMD5(userKey, head[12:32]), head[32:36], 4) {
		return nil, fmt.Errorf("handshake: %w", domain.ErrHandshakeMAC)
	}

	aesKey := aesAuthKey(userKey, variant)
	authBlock, err := cipher.AESCBCAuthBlockDecrypt(aesKey, head[16:32])
	if err != nil {
		return nil, fmt.Errorf("handshake: decrypt auth block: %w", err)
	}

	utcTime := int64(binary.LittleEndian.Uint32(authBlock[0:4]))
	clientID := binary.LittleEndian.Uint32(authBlock[4:8])
	connectionID := binary.LittleEndian.Uint32(authBlock[8:12])
	clientOverhead := binary.LittleEndian.Uint16(authBlock[12:14])

	now := time.Now().Unix()
	skew := now - utcTime
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > MaxClockSkew {
		return nil, fmt.Errorf("handshake: %w", domain.ErrStaleTimestamp)
	}

	if info.UpdateUserFunc != nil && recognized {
		info.UpdateUserFunc(uid)
	}

	rc4, err := cipher.NewRC4Stream(userKey, hash)
	if err != nil {
		return nil, fmt.Errorf("handshake: rc4 setup: %w", err)
	}

	return &ParseResult{
		UserID:         uid,
		UserKey:        userKey,
		ClientID:       clientID,
		ConnectionID:   connectionID,
		ClientOverhead: clientOverhead,
		LastClientHash: hash,
		LastServerHash: cipher.HMACMD5(userKey, head[12:32]),
		RC4:            rc4,
		Consumed:       wireSize,
	}, nil
}

// IsIncomplete reports whether err indicates the caller should wait for
// more buffered bytes rather than treating the handshake as failed.
func IsIncomplete(err error) bool {
	return err == errNeedMore
}

func aesAuthKey(userKey []byte, variant domain.Variant) []byte {
	b64 := cipher.Base64(userKey)
	return append(append([]byte{}, b64...), variant.Salt()...)
}

func hmacEqualPrefix(computed, wire []byte, n int) bool {
	if len(computed) < n || len(wire) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if computed[i] != wire[i] {
			return false
		}
	}
	return true
}
