package domain

import "errors"

// Sentinel errors surfaced by the core protocol engine. Callers use
// errors.Is to branch on them; wrapping with fmt.Errorf("...: %w", err)
// at the detection site is expected.
var (
	// ErrFramingOversize is returned when data_len + rand_len reaches the
	// 4096-byte hard limit. The session must switch to raw passthrough.
	ErrFramingOversize = errors.New("authchain: frame length exceeds limit")

	// ErrMACMismatch is returned when a frame's trailing HMAC tag does not
	// match the recomputed chain value.
	ErrMACMismatch = errors.New("authchain: frame checksum mismatch")

	// ErrHandshakeMAC is returned when the handshake's check-head or
	// auth-block HMAC fails verification.
	ErrHandshakeMAC = errors.New("authchain: handshake checksum mismatch")

	// ErrStaleTimestamp is returned when the handshake's embedded UTC time
	// differs from local time by more than the configured skew.
	ErrStaleTimestamp = errors.New("authchain: handshake timestamp out of range")

	// ErrReplay is returned when the replay registry refuses to admit a
	// (user_id, client_id, connection_id) triple.
	ErrReplay = errors.New("authchain: connection id rejected by replay registry")

	// ErrIncomplete indicates the buffer does not yet hold a full unit and
	// the caller should wait for more bytes; it is not a protocol fault.
	ErrIncomplete = errors.New("authchain: incomplete data, need more bytes")

	// ErrRawTransition marks a session that has fallen back to raw
	// passthrough after a fatal decode error.
	ErrRawTransition = errors.New("authchain: session is in raw passthrough mode")
)
