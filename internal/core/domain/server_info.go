package domain

import "log/slog"

// ServerInfo carries the read-only inputs the outer proxy supplies to a
// Session. The core treats it as configuration: the only field it writes
// is TCPMSS (when the first server->client frame is built or decoded), and
// it calls UpdateUserFunc during handshake parsing.
type ServerInfo struct {
	// Key is the long-term shared secret for this server instance.
	Key []byte
	// IV / RecvIV are the 16-byte per-connection IVs of the outer cipher,
	// reused here only as entropy for the handshake check-head HMAC.
	IV     []byte
	RecvIV []byte

	// Users maps a 4-byte user id to that user's key. May be empty, in
	// which case Key is used as the fallback user key everywhere.
	Users map[[4]byte][]byte

	// Overhead is the number of extra bytes per frame the outer transport
	// charges; padding oracles target a total size including it.
	Overhead uint16

	// ProtocolParam is the raw "[max_client[:user_id:user_key]][#interval]"
	// configuration string.
	ProtocolParam string

	// TCPMSS is the observed MSS; the server mirrors it back capped to 1500.
	TCPMSS uint16

	// UpdateUserFunc is invoked with a recognized user id during handshake
	// parsing, e.g. to refresh an LRU of active users. May be nil.
	UpdateUserFunc func(userID [4]byte)

	// Client / ClientPort identify the peer for logging only.
	Client     string
	ClientPort int

	// Logger is used for all structured log output; defaults to
	// slog.Default() when nil.
	Logger *slog.Logger
}

func (s *ServerInfo) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Log returns a logger enriched with this session's peer address, matching
// the teacher's convention of attaching connection context to every line.
func (s *ServerInfo) Log() *slog.Logger {
	return s.logger().With("client", s.Client, "client_port", s.ClientPort)
}
