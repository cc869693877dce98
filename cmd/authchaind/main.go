// Command authchaind is a minimal demonstration server that terminates
// the auth_chain protocol over TCP. Whenever ServerPostDecrypt asks for a
// sendback (the handshake packet, or a packet carrying an empty frame) it
// echoes that packet's decrypted payload back through the session; other
// decrypted data is discarded. It exercises the full engine (handshake,
// framer, replay registry, persistence, metrics, tracing) end to end.
// It is not a general-purpose proxy: what happens to the plaintext
// after ServerPostDecrypt is out of this engine's scope.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnomd343/authchain-go/internal/adapters/storage"
	"github.com/dnomd343/authchain-go/internal/config"
	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/ports"
	"github.com/dnomd343/authchain-go/internal/core/services/persistence"
	"github.com/dnomd343/authchain-go/internal/core/services/registry"
	"github.com/dnomd343/authchain-go/internal/core/services/session"
	"github.com/dnomd343/authchain-go/internal/telemetry"
)

// metricsObserver forwards registry admission events to the Prometheus
// counters, decoupling the registry from any specific metrics backend.
type metricsObserver struct{}

func (metricsObserver) OnWindowEvent(evt ports.WindowEvent) {
	if evt.Reason == "evicted" {
		telemetry.WindowEvictionsTotal.WithLabelValues().Inc()
		return
	}
	telemetry.AdmissionsTotal.WithLabelValues(evt.Reason).Inc()
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.Debug {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}
	slog.Info("authchaind starting", "config", cfg.String())

	telemetry.InitMetrics()
	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer()
		if err != nil {
			slog.Error("failed to init tracer", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	store, err := storage.NewSQLiteAdapter(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open window store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	flusher := persistence.NewFlusher(store, 10000)
	flusher.Start(ctx)

	reg := registry.New(cfg.MaxClient, nil, flusher)
	reg.AddObserver(metricsObserver{})

	serverKey, err := hex.DecodeString(cfg.ServerKeyHex)
	if err != nil {
		slog.Error("invalid server key: not hex", "error", err)
		os.Exit(1)
	}
	if len(serverKey) == 0 {
		serverKey = []byte("authchaind-demo-key")
	}
	info := &domain.ServerInfo{
		Key:      serverKey,
		IV:       randomBytes(16),
		RecvIV:   randomBytes(16),
		Overhead: 0,
		Logger:   logger,
	}

	go serveMetrics(cfg.MetricsAddr)

	ln, err := net.Listen("tcp", ":8388")
	if err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	defer ln.Close()
	slog.Info("listening", "addr", ln.Addr().String())

	go acceptLoop(ctx, ln, info, reg, cfg.KeyInterval)

	<-ctx.Done()
	slog.Info("shutting down")
}

func acceptLoop(ctx context.Context, ln net.Listener, info *domain.ServerInfo, reg *registry.Registry, keyInterval time.Duration) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		go handleConn(conn, info, reg, keyInterval)
	}
}

func handleConn(conn net.Conn, info *domain.ServerInfo, reg *registry.Registry, keyInterval time.Duration) {
	defer conn.Close()

	peerInfo := *info
	host, portStr := splitHostPort(conn.RemoteAddr().String())
	peerInfo.Client = host
	fmt.Sscanf(portStr, "%d", &peerInfo.ClientPort)

	sess := session.NewServer(&peerInfo, domain.VariantA, func(n int) []byte { return randomBytes(n) }, reg, keyInterval)
	defer sess.Dispose()
	peerInfo.Log().Debug("session opened", "session_id", sess.ID, "remote", conn.RemoteAddr().String())

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			plain, sendback, decodeErr := sess.ServerPostDecrypt(buf[:n])
			if decodeErr != nil {
				peerInfo.Log().Warn("decode failed", "error", decodeErr)
				return
			}
			if sendback {
				reply, encErr := sess.ServerPreEncrypt(plain)
				if encErr != nil {
					peerInfo.Log().Warn("encode failed", "error", encErr)
					return
				}
				if _, werr := conn.Write(reply); werr != nil {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				peerInfo.Log().Debug("connection closed", "error", err)
			}
			return
		}
	}
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, "0"
	}
	return host, port
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "error", err)
	}
}
