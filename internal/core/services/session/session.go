// Package session implements the per-connection state machine (C8) that
// glues the handshake, framer, padding oracle and replay registry
// together behind the eight stream operations the outer proxy calls:
// client/server pre_encrypt and post_decrypt for TCP, and their UDP
// counterparts. A Session starts in its role's initial state, transitions
// to streaming once the handshake completes, and falls into irreversible
// raw passthrough on any fatal decode error.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/services/cipher"
	"github.com/dnomd343/authchain-go/internal/core/services/framer"
	"github.com/dnomd343/authchain-go/internal/core/services/handshake"
	"github.com/dnomd343/authchain-go/internal/core/services/macchain"
	"github.com/dnomd343/authchain-go/internal/core/services/padding"
	"github.com/dnomd343/authchain-go/internal/core/services/prng"
	"github.com/dnomd343/authchain-go/internal/core/services/registry"
	"github.com/dnomd343/authchain-go/internal/core/services/udpcodec"
	"github.com/dnomd343/authchain-go/internal/telemetry"
)

// defaultUnitLen is the client's initial max plaintext bytes per frame,
// before a server-side peer's MSS narrows it.
const defaultUnitLen = 2800

// decoySize is the byte count of the 'E'-filled response a server
// returns in place of decoded data when the first framed packet after an
// accepted handshake fails to decode. A rejected handshake itself gets
// no decoy (see notMatchReturn).
const decoySize = 2048

// Session is one connection's protocol state. Exactly one of the
// NewClient / NewServer constructors is used depending on which side of
// the connection this process is playing.
type Session struct {
	// ID is a process-local correlation id, attached to every log line
	// this session emits so a connection's output can be grepped out of
	// a busy server's logs without parsing wire fields.
	ID uuid.UUID

	info      *domain.ServerInfo
	variant   domain.Variant
	direction domain.Direction
	rng       func(int) []byte
	registry  *registry.Registry // server role only

	userID  [4]byte
	userKey []byte

	clientID     uint32
	connectionID uint32
	headSize     int

	fr        *framer.Framer
	sendDir   *framer.Direction
	recvDir   *framer.Direction
	udpRandIn *prng.XorShift128Plus

	hasSentHeader bool
	hasRecvHeader bool
	rawTrans      bool
	recvHeaderBuf []byte

	unitLen        int
	clientOverhead uint16
	keyInterval    time.Duration
}

// ClientConfig configures a client-role Session.
type ClientConfig struct {
	Variant      domain.Variant
	ClientID     uint32
	ConnectionID uint32
	UserID       *[4]byte
	UserKey      []byte
	HeadSize     int // outer-protocol header bytes to cover with the handshake's piggybacked payload
	// KeyInterval is how often variant f's padding oracle rebuilds its
	// size list (the source's key_change_interval). Zero selects the
	// package default of 24 hours.
	KeyInterval time.Duration
}

// NewClient builds a client-role Session. The handshake is not sent
// until the first ClientPreEncrypt call.
func NewClient(info *domain.ServerInfo, rng func(int) []byte, cfg ClientConfig) *Session {
	return &Session{
		ID:           uuid.New(),
		info:         info,
		variant:      cfg.Variant,
		direction:    domain.DirectionClient,
		rng:          rng,
		userID:       derefOr(cfg.UserID, [4]byte{}),
		userKey:      cfg.UserKey,
		clientID:     cfg.ClientID,
		connectionID: cfg.ConnectionID,
		headSize:     cfg.HeadSize,
		unitLen:      defaultUnitLen,
		udpRandIn:    &prng.XorShift128Plus{},
		keyInterval:  cfg.KeyInterval,
	}
}

func derefOr(p *[4]byte, def [4]byte) [4]byte {
	if p == nil {
		return def
	}
	return *p
}

// NewServer builds a server-role Session. reg admits
// (user_id, client_id, connection_id) triples on handshake completion.
// keyInterval configures variant f's padding oracle rebuild period; zero
// selects the package default of 24 hours.
func NewServer(info *domain.ServerInfo, variant domain.Variant, rng func(int) []byte, reg *registry.Registry, keyInterval time.Duration) *Session {
	return &Session{
		ID:          uuid.New(),
		info:        info,
		variant:     variant,
		direction:   domain.DirectionServer,
		rng:         rng,
		registry:    reg,
		unitLen:     defaultUnitLen,
		udpRandIn:   &prng.XorShift128Plus{},
		keyInterval: keyInterval,
	}
}

// GetOverhead returns the per-frame byte overhead this protocol adds, 0
// once the session has fallen into raw passthrough. direction is part of
// the interface for symmetry with the source but does not affect the
// result: overhead is the same in both directions.
func (s *Session) GetOverhead(_ domain.Direction) uint16 {
	if s.rawTrans {
		return 0
	}
	return 4
}

// Dispose releases this session's hold on its replay-registry window.
func (s *Session) Dispose() {
	if s.registry != nil && s.hasRecvHeader {
		s.registry.Remove(s.userID, s.clientID)
	}
}

// notMatchReturn is the shared fallback for any handshake-stage failure:
// the session becomes permanently raw and the buffered bytes are passed
// through unchanged with sendback=false. No decoy reply is produced on
// this path.
func (s *Session) notMatchReturn(buf []byte) ([]byte, bool) {
	s.rawTrans = true
	return buf, false
}

// ClientPreEncrypt is the client's send path: on the very first call it
// prepends the 36-byte handshake (plus a leading slice of buf, up to
// headSize+random[0..31] bytes), then segments buf into frames of at
// most unitLen bytes.
func (s *Session) ClientPreEncrypt(buf []byte) ([]byte, error) {
	if s.rawTrans {
		return buf, nil
	}

	var out []byte
	if !s.hasSentHeader {
		_, span := otel.Tracer("authchain-session").Start(context.Background(), "ClientPreEncrypt.handshake")
		span.SetAttributes(attribute.String("authchain.session_id", s.ID.String()))
		defer span.End()

		result, err := handshake.Build(s.info, handshake.ClientParams{
			Variant:      s.variant,
			ClientID:     s.clientID,
			ConnectionID: s.connectionID,
			UserID:       ptrOrNil(s.userID, s.userKey != nil),
			UserKey:      s.userKey,
		}, s.rng)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("session: build handshake: %w", err)
		}
		if s.userKey == nil {
			s.userKey = result.UserKey
		}

		s.initCrypto(result.RC4, result.LastClientHash, result.LastServerHash)

		extra := int(s.rng(1)[0]) % 32
		headLen := s.headSize + extra
		if headLen > len(buf) {
			headLen = len(buf)
		}

		framed, err := s.fr.Pack(s.sendDir, buf[:headLen])
		if err != nil {
			return nil, err
		}
		out = append(out, result.Wire...)
		out = append(out, framed...)
		buf = buf[headLen:]
		s.hasSentHeader = true
	}

	for len(buf) > s.unitLen {
		framed, err := s.fr.Pack(s.sendDir, buf[:s.unitLen])
		if err != nil {
			return nil, err
		}
		out = append(out, framed...)
		buf = buf[s.unitLen:]
	}
	framed, err := s.fr.Pack(s.sendDir, buf)
	if err != nil {
		return nil, err
	}
	return append(out, framed...), nil
}

func ptrOrNil(v [4]byte, use bool) *[4]byte {
	if !use {
		return nil
	}
	return &v
}

// ClientPostDecrypt is the client's receive path: decodes framed server
// data, stripping the leading 2-byte tcp_mss field the server's very
// first packed frame carries.
func (s *Session) ClientPostDecrypt(buf []byte) ([]byte, error) {
	if s.rawTrans {
		return buf, nil
	}

	recvIDBefore := s.recvDir.Chain.PackID()
	frames, err := s.fr.Unpack(s.recvDir, buf)
	if err != nil {
		telemetry.FrameMACFailuresTotal.WithLabelValues("client").Inc()
		s.rawTrans = true
		return nil, err
	}

	var out []byte
	for i, f := range frames {
		if recvIDBefore+uint32(i) == 1 && len(f) >= 2 {
			s.info.TCPMSS = binary.LittleEndian.Uint16(f[0:2])
			f = f[2:]
		}
		out = append(out, f...)
	}
	return out, nil
}

// ServerPreEncrypt is the server's send path; on the first call it
// prepends the negotiated tcp_mss and narrows unitLen to the peer's MSS
// minus the client's reported per-frame overhead.
func (s *Session) ServerPreEncrypt(buf []byte) ([]byte, error) {
	if s.rawTrans {
		return buf, nil
	}

	if s.sendDir.Chain.PackID() == 1 {
		mss := s.info.TCPMSS
		if mss > 1500 || mss == 0 {
			mss = 1500
		}
		s.info.TCPMSS = mss
		lenPrefix := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenPrefix, mss)
		buf = append(lenPrefix, buf...)
		if mss > s.clientOverhead {
			s.unitLen = int(mss - s.clientOverhead)
		}
	}

	var out []byte
	for len(buf) > s.unitLen {
		framed, err := s.fr.Pack(s.sendDir, buf[:s.unitLen])
		if err != nil {
			return nil, err
		}
		out = append(out, framed...)
		buf = buf[s.unitLen:]
	}
	framed, err := s.fr.Pack(s.sendDir, buf)
	if err != nil {
		return nil, err
	}
	return append(out, framed...), nil
}

// ResolveUserKey looks up the user_key for uid, reporting whether uid is
// a recognized entry in info.Users. The fallback follows the source:
// the server's long-term key when no users are configured at all, else
// recv_iv for an unrecognized uid in a populated users map.
func ResolveUserKey(info *domain.ServerInfo, uid [4]byte) (key []byte, recognized bool) {
	if k, ok := info.Users[uid]; ok {
		return k, true
	}
	if len(info.Users) == 0 {
		return info.Key, false
	}
	return info.RecvIV, false
}

// ServerPostDecrypt is the server's receive path: on an un-authenticated
// session it first attempts to parse the 36-byte handshake header,
// admitting the connection through the replay registry before any
// framed data is decoded.
func (s *Session) ServerPostDecrypt(buf []byte) ([]byte, bool, error) {
	if s.rawTrans {
		return buf, false, nil
	}

	sendback := false
	framerInput := buf

	if !s.hasRecvHeader {
		_, span := otel.Tracer("authchain-session").Start(context.Background(), "ServerPostDecrypt.handshake")
		span.SetAttributes(attribute.String("authchain.session_id", s.ID.String()))
		defer span.End()

		s.recvHeaderBuf = append(s.recvHeaderBuf, buf...)
		parsed, err := handshake.Parse(s.info, s.variant, s.recvHeaderBuf, func(uid [4]byte) ([]byte, bool) {
			return ResolveUserKey(s.info, uid)
		})
		if err != nil {
			if handshake.IsIncomplete(err) {
				return nil, false, nil
			}
			telemetry.HandshakeFailuresTotal.WithLabelValues("parse_error").Inc()
			span.RecordError(err)
			out, sb := s.notMatchReturn(s.recvHeaderBuf)
			return out, sb, nil
		}

		if s.registry != nil && !s.registry.Insert(parsed.UserID, parsed.ClientID, uint64(parsed.ConnectionID)) {
			telemetry.HandshakeFailuresTotal.WithLabelValues("replay_rejected").Inc()
			span.SetAttributes(attribute.Bool("authchain.replay_rejected", true))
			out, sb := s.notMatchReturn(s.recvHeaderBuf)
			return out, sb, nil
		}

		s.userID = parsed.UserID
		s.userKey = parsed.UserKey
		s.clientID = parsed.ClientID
		s.connectionID = parsed.ConnectionID
		s.clientOverhead = parsed.ClientOverhead
		s.initCrypto(parsed.RC4, parsed.LastClientHash, parsed.LastServerHash)

		framerInput = s.recvHeaderBuf[parsed.Consumed:]
		s.recvHeaderBuf = nil
		s.hasRecvHeader = true
		sendback = true
	}

	frames, err := s.fr.Unpack(s.recvDir, framerInput)
	if err != nil {
		telemetry.FrameMACFailuresTotal.WithLabelValues("server").Inc()
		s.rawTrans = true
		if frameFatalButFirst(s.recvDir) {
			return decoyResponse(), false, nil
		}
		return nil, false, err
	}

	var out []byte
	for _, f := range frames {
		out = append(out, f...)
		if len(f) == 0 {
			sendback = true
		}
	}
	if s.registry != nil && len(out) > 0 {
		s.registry.Update(s.userID, s.clientID)
	}
	return out, sendback, nil
}

func frameFatalButFirst(dir *framer.Direction) bool {
	return dir.Chain.PackID() == 1
}

func decoyResponse() []byte {
	d := make([]byte, decoySize)
	for i := range d {
		d[i] = 'E'
	}
	return d
}

// initCrypto builds this session's RC4 stream and the two MAC chains,
// and selects the padding oracle for its variant. Client sessions send
// on the "client hash" chain and receive on the "server hash" chain;
// server sessions do the reverse - both map to the same underlying
// macchain.Chain mechanics, just assigned to opposite roles.
func (s *Session) initCrypto(rc4 *cipher.RC4Stream, lastClientHash, lastServerHash []byte) {
	overhead := func() uint16 { return s.info.Overhead }
	oracle := padding.New(s.variant, s.userKey, overhead, s.keyInterval, nil)

	clientChain := macchain.New(s.userKey, lastClientHash)
	serverChain := macchain.New(s.userKey, lastServerHash)

	clientDir := &framer.Direction{Chain: clientChain, Rand: &prng.XorShift128Plus{}, Oracle: oracle}
	serverDir := &framer.Direction{Chain: serverChain, Rand: &prng.XorShift128Plus{}, Oracle: oracle}

	s.fr = framer.New(rc4, s.rng)
	if s.direction == domain.DirectionClient {
		s.sendDir, s.recvDir = clientDir, serverDir
	} else {
		s.sendDir, s.recvDir = serverDir, clientDir
	}
}

// ClientUDPPreEncrypt builds a single-shot UDP datagram. When the session
// has no user key yet, the first call picks a random uid with
// ServerInfo.Key as the user key and caches both on the session;
// ProtocolParam is not consulted.
func (s *Session) ClientUDPPreEncrypt(buf []byte) ([]byte, error) {
	if s.userKey == nil {
		s.userKey = s.info.Key
		copy(s.userID[:], s.rng(4))
	}
	return udpcodec.EncodeClient(s.info.Key, s.userID[:], s.userKey, buf, s.rng, &prng.XorShift128Plus{})
}

// ClientUDPPostDecrypt decrypts a single-shot server->client datagram.
func (s *Session) ClientUDPPostDecrypt(buf []byte) ([]byte, error) {
	return udpcodec.DecodeClient(s.info.Key, s.userKey, buf, s.udpRandIn)
}

// ServerUDPPreEncrypt builds a single-shot server->client response for
// the resolved uid (looked up the same way TCP handshakes resolve it).
func (s *Session) ServerUDPPreEncrypt(buf []byte, uid [4]byte) ([]byte, error) {
	userKey, _ := ResolveUserKey(s.info, uid)
	return udpcodec.EncodeServer(s.info.Key, userKey, buf, s.rng, &prng.XorShift128Plus{})
}

// ServerUDPPostDecrypt decrypts a single-shot client->server datagram,
// returning the resolved uid for the caller's own session/user bookkeeping.
func (s *Session) ServerUDPPostDecrypt(buf []byte) ([]byte, [4]byte, bool, error) {
	return udpcodec.DecodeServer(s.info.Key, buf, s.udpRandIn, func(uid [4]byte) ([]byte, bool) {
		return ResolveUserKey(s.info, uid)
	})
}
