package registry

import (
	"sync"

	"github.com/dnomd343/authchain-go/internal/core/ports"
)

// subject manages WindowObservers and notifies them of admission-registry
// lifecycle events (admitted, replayed, evicted, ...), decoupling the
// registry itself from whatever consumes those events (metrics, logging,
// the persistence flusher).
type subject struct {
	observers []ports.WindowObserver
	mu        sync.RWMutex
}

func newSubject() *subject {
	return &subject{observers: make([]ports.WindowObserver, 0)}
}

// addObserver registers a new observer. Not safe to call concurrently
// with notify, beyond the mutex's own guarantee of not racing.
func (s *subject) addObserver(observer ports.WindowObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// notify delivers evt to every registered observer synchronously, on the
// registry's own goroutine. Unlike the wmap registry this does not fan
// out onto per-observer goroutines: admission events must be delivered
// in order relative to the registry lock being held, and observers here
// are expected to be cheap (a counter increment, a channel send) rather
// than slow I/O.
func (s *subject) notify(evt ports.WindowEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obs := range s.observers {
		obs.OnWindowEvent(evt)
	}
}
