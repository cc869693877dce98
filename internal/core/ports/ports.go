// Package ports defines the interfaces the core protocol engine consumes
// from the outside world: entropy, persistence of replay-defense state,
// eviction notifications, and a clock seam for deterministic tests.
package ports

import (
	"time"

	"github.com/dnomd343/authchain-go/internal/core/domain"
)

// SecureRandom is the CSPRNG the spec treats as a black box (padding
// bytes, check-head, per-session uids).
type SecureRandom interface {
	Bytes(n int) []byte
}

// Clock abstracts time.Now so registry liveness/eviction tests can control
// elapsed time without sleeping.
type Clock interface {
	Now() time.Time
}

// WindowStore persists ConnectionWindow snapshots so a restarted server
// can rehydrate replay-defense state instead of trusting a blank slate.
// This is additive to the original protocol, which keeps everything
// in-memory; see DESIGN.md.
type WindowStore interface {
	Save(userID [4]byte, clientID uint32, w *domain.ConnectionWindow) error
	Load(userID [4]byte, clientID uint32) (*domain.ConnectionWindow, bool, error)
	Delete(userID [4]byte, clientID uint32) error
}

// WindowEvent describes an admission-registry lifecycle event, delivered
// to WindowObservers for metrics/logging without coupling the registry
// itself to any particular sink.
type WindowEvent struct {
	UserID    [4]byte
	ClientID  uint32
	Connection uint64
	Reason    string // "admitted", "replay", "out_of_window", "duplicate", "no_capacity", "evicted"
}

// WindowObserver receives registry lifecycle events.
type WindowObserver interface {
	OnWindowEvent(evt WindowEvent)
}
