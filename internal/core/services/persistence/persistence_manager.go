// Package persistence batches ConnectionWindow snapshots before they
// reach durable storage, so the registry's hot admission path never
// blocks on disk I/O for an operation that is advisory: a restart losing
// the last few seconds of window state degrades to a slightly wider
// replay window, it does not corrupt anything.
package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/ports"
)

type snapshotKey struct {
	userID   [4]byte
	clientID uint32
}

type snapshot struct {
	key    snapshotKey
	window *domain.ConnectionWindow
}

// Flusher wraps a ports.WindowStore, coalescing Save calls into periodic
// batches. It implements ports.WindowStore itself so it is a drop-in
// replacement for the store passed to registry.New: Load and Delete pass
// straight through, only Save is deferred.
type Flusher struct {
	store       ports.WindowStore
	persistChan chan snapshot
	batchSize   int
	interval    time.Duration
	enabled     bool
	mu          sync.RWMutex
}

// NewFlusher wraps store with a batching Save path. bufferSize bounds
// how many pending snapshots may queue before new saves are dropped
// rather than blocking the caller.
func NewFlusher(store ports.WindowStore, bufferSize int) *Flusher {
	return &Flusher{
		store:       store,
		persistChan: make(chan snapshot, bufferSize),
		batchSize:   100,
		interval:    5 * time.Second,
		enabled:     true,
	}
}

// Save queues w for the next batch flush. Never blocks: if the queue is
// full the snapshot is dropped, since a later admit on the same client
// will enqueue a fresher one anyway.
func (f *Flusher) Save(userID [4]byte, clientID uint32, w *domain.ConnectionWindow) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.enabled {
		return nil
	}
	cp := *w
	cp.Alloc = make(map[uint64]struct{}, len(w.Alloc))
	for id := range w.Alloc {
		cp.Alloc[id] = struct{}{}
	}
	select {
	case f.persistChan <- snapshot{key: snapshotKey{userID, clientID}, window: &cp}:
	default:
	}
	return nil
}

// Load passes straight through to the wrapped store.
func (f *Flusher) Load(userID [4]byte, clientID uint32) (*domain.ConnectionWindow, bool, error) {
	return f.store.Load(userID, clientID)
}

// Delete passes straight through to the wrapped store.
func (f *Flusher) Delete(userID [4]byte, clientID uint32) error {
	return f.store.Delete(userID, clientID)
}

// IsEnabled returns the current batching status.
func (f *Flusher) IsEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled
}

// SetEnabled toggles batching; while disabled, Save is a no-op.
func (f *Flusher) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

// Start runs the flush loop until ctx is cancelled, at which point the
// current buffer is flushed one last time before returning.
func (f *Flusher) Start(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	buffer := make(map[snapshotKey]*domain.ConnectionWindow)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				f.flushBuffer(buffer)
				return
			case s := <-f.persistChan:
				buffer[s.key] = s.window
				if len(buffer) >= f.batchSize {
					f.flushBuffer(buffer)
					buffer = make(map[snapshotKey]*domain.ConnectionWindow)
				}
			case <-ticker.C:
				if len(buffer) > 0 {
					f.flushBuffer(buffer)
					buffer = make(map[snapshotKey]*domain.ConnectionWindow)
				}
			}
		}
	}()
}

func (f *Flusher) flushBuffer(buffer map[snapshotKey]*domain.ConnectionWindow) {
	if len(buffer) == 0 {
		return
	}
	for key, w := range buffer {
		if err := f.store.Save(key.userID, key.clientID, w); err != nil {
			fmt.Printf("persistence: failed to save window for client %d: %v\n", key.clientID, err)
		}
	}
}
