// Package cipher wraps the symmetric primitives the wire format is
// defined in terms of: RC4 (per-session stream cipher), AES-128-CBC (the
// handshake's auth-block cipher) and HMAC-MD5 (the MAC chain and
// handshake checksums). These are treated as black boxes by the spec;
// this package only adapts Go's standard crypto/* to the exact byte
// layouts the wire format requires.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rc4"
	"encoding/base64"
	"fmt"
)

// RC4Stream is a single continuous RC4 keystream shared by both encode
// and decode calls on one session, matching the source's single
// self.encryptor instance per Session.
type RC4Stream struct {
	c *rc4.Cipher
}

// NewRC4Stream builds the per-connection RC4 cipher from
// base64(userKey) || base64(saltedHash), the key material the handshake
// derives once per session.
func NewRC4Stream(userKey, saltedHash []byte) (*RC4Stream, error) {
	key := rc4Key(userKey, saltedHash)
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("authchain: rc4 key setup: %w", err)
	}
	return &RC4Stream{c: c}, nil
}

func rc4Key(userKey, saltedHash []byte) []byte {
	return append(Base64(userKey), Base64(saltedHash)...)
}

// Base64 standard-encodes b, the encoding the handshake and RC4 key
// derivation use throughout to turn raw key material into ASCII before
// concatenating it with other fields.
func Base64(b []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(b))
}

// XORKeyStream advances the shared keystream over src into dst. RC4
// encryption and decryption are the same operation.
func (r *RC4Stream) XORKeyStream(dst, src []byte) {
	r.c.XORKeyStream(dst, src)
}

// Crypt returns a fresh buffer with the keystream applied; safe to call
// with src as plaintext or ciphertext since RC4 is an XOR stream.
func (r *RC4Stream) Crypt(src []byte) []byte {
	dst := make([]byte, len(src))
	r.XORKeyStream(dst, src)
	return dst
}

// HMACMD5 computes HMAC-MD5(key, data), used for the MAC chain and both
// handshake checksums.
func HMACMD5(key, data []byte) []byte {
	h := hmac.New(md5.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// EVPBytesToKey reproduces OpenSSL's legacy EVP_BytesToKey key derivation
// (MD5, single digest chained with the password, no salt): the scheme
// the original Python encryptor uses to turn an arbitrary-length
// "password" (here base64(user_key) || variant salt) into a fixed-size
// AES key.
func EVPBytesToKey(password []byte, keyLen int) []byte {
	var (
		out  []byte
		prev []byte
	)
	for len(out) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keyLen]
}

// AESCBCAuthBlockEncrypt encrypts a 16-byte auth-block plaintext the way
// the handshake does: the real plaintext is preceded by a 16-byte zero
// block and the pair is CBC-encrypted with a zero IV; only the second
// ciphertext block is kept (the first is a deterministic function of the
// key alone and carries no information, so the source drops it).
func AESCBCAuthBlockEncrypt(password, plaintext16 []byte) ([]byte, error) {
	if len(plaintext16) != 16 {
		return nil, fmt.Errorf("authchain: auth block must be 16 bytes, got %d", len(plaintext16))
	}
	block, err := aes.NewCipher(EVPBytesToKey(password, 16))
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	buf := make([]byte, 32)
	copy(buf[16:], plaintext16)
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return buf[16:32], nil
}

// AESCBCAuthBlockDecrypt inverts AESCBCAuthBlockEncrypt given only the
// kept second ciphertext block. It recomputes the dropped first
// ciphertext block (AES-CBC-Encrypt of 16 zero bytes under the same key,
// IV zero) to use as the CBC chaining value, since that block is a pure
// function of the key and carries no secret the wire needs to transmit.
func AESCBCAuthBlockDecrypt(password, ciphertext16 []byte) ([]byte, error) {
	if len(ciphertext16) != 16 {
		return nil, fmt.Errorf("authchain: auth block ciphertext must be 16 bytes, got %d", len(ciphertext16))
	}
	key := EVPBytesToKey(password, 16)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)

	droppedBlock := make([]byte, 16)
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(droppedBlock, droppedBlock)

	buf := make([]byte, 32)
	copy(buf[:16], droppedBlock)
	copy(buf[16:], ciphertext16)
	stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, buf)
	return buf[16:32], nil
}
