// Package registry implements the per-server replay-defense registry
// (C6): a two-level map from user_id to client_id to ConnectionWindow,
// bounded by an LRU over the per-user client map so a single user can't
// exhaust memory by presenting unbounded client ids. All operations run
// under one coarse lock, matching the source's single global lock - the
// registry is on the hot path for every frame but the critical section
// is pure in-memory bookkeeping, so contention is not a concern.
package registry

import (
	"container/list"
	"sync"
	"time"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/ports"
)

// defaultMaxClient is used when protocol_param does not specify one.
const defaultMaxClient = 64

// entry is one LRU node: a client's window plus the list element that
// tracks its recency for eviction.
type entry struct {
	window *domain.ConnectionWindow
	elem   *list.Element
}

// userState is the per-user LRU of client windows.
type userState struct {
	clients map[uint32]*entry
	order   *list.List // front = most recently touched, back = eviction candidate
}

// Registry is the ReplayRegistry: admits (user_id, client_id,
// connection_id) triples and evicts stale per-client windows under an
// LRU policy bounded by maxClient.
type Registry struct {
	mu        sync.Mutex
	maxClient int
	maxBuffer int
	clock     ports.Clock
	store     ports.WindowStore
	subject   *subject

	users map[[4]byte]*userState
}

// systemClock is the default ports.Clock, used when New is given none.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New constructs a Registry. maxClient bounds the number of distinct
// client ids tracked per user (derived from protocol_param, default 64);
// store, if non-nil, receives a window snapshot after every admitted
// connection. The registry only writes to store: it never calls Load, so
// a new Registry always starts with no windows.
func New(maxClient int, clock ports.Clock, store ports.WindowStore) *Registry {
	if maxClient <= 0 {
		maxClient = defaultMaxClient
	}
	maxBuffer := 2 * maxClient
	if maxBuffer < 1024 {
		maxBuffer = 1024
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Registry{
		maxClient: maxClient,
		maxBuffer: maxBuffer,
		clock:     clock,
		store:     store,
		subject:   newSubject(),
		users:     make(map[[4]byte]*userState),
	}
}

// AddObserver registers a WindowObserver for admission lifecycle events.
func (r *Registry) AddObserver(obs ports.WindowObserver) {
	r.subject.addObserver(obs)
}

// Insert admits (userID, clientID, connectionID), creating, re-enabling
// or evicting per-user client windows as needed. It is the direct
// counterpart of the source's obfs_auth_chain_data.insert /
// client_queue.insert combined.
func (r *Registry) Insert(userID [4]byte, clientID uint32, connectionID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	u := r.userFor(userID)

	e, exists := u.clients[clientID]
	if !exists || !e.window.Enable {
		if !r.provisionOrReenable(u, userID, clientID, connectionID, now) {
			r.subject.notify(ports.WindowEvent{UserID: userID, ClientID: clientID, Connection: connectionID, Reason: "no_capacity"})
			return false
		}
		e = u.clients[clientID]
	}
	u.order.MoveToFront(e.elem)

	before := e.window.Front
	admitted := e.window.Insert(connectionID, now)
	if !admitted {
		reason := "replay"
		if connectionID >= before+domain.WindowHorizon {
			reason = "out_of_window"
		} else if _, dup := e.window.Alloc[connectionID]; dup {
			reason = "duplicate"
		}
		r.subject.notify(ports.WindowEvent{UserID: userID, ClientID: clientID, Connection: connectionID, Reason: reason})
		return false
	}

	r.subject.notify(ports.WindowEvent{UserID: userID, ClientID: clientID, Connection: connectionID, Reason: "admitted"})
	r.persist(userID, clientID, e.window)
	return true
}

// provisionOrReenable ensures u.clients[clientID] holds a usable window,
// evicting the LRU's oldest inactive entry first if the per-user map is
// already at capacity. Returns false if no capacity could be freed.
func (r *Registry) provisionOrReenable(u *userState, userID [4]byte, clientID uint32, connectionID uint64, now time.Time) bool {
	if u.order.Len() == 0 || u.order.Len() < r.maxClient {
		r.createOrReenable(u, clientID, connectionID, now)
		return true
	}

	back := u.order.Back()
	oldestID := back.Value.(uint32)
	if oldestID != clientID && !u.clients[oldestID].window.IsActive(now) {
		delete(u.clients, oldestID)
		u.order.Remove(back)
		r.subject.notify(ports.WindowEvent{UserID: userID, ClientID: oldestID, Reason: "evicted"})
		r.createOrReenable(u, clientID, connectionID, now)
		return true
	}
	if oldestID == clientID {
		// the slot being (re)admitted is itself the LRU tail; no eviction
		// needed to make room for it.
		r.createOrReenable(u, clientID, connectionID, now)
		return true
	}
	return false
}

// createOrReenable installs a fresh window for clientID, or re-enables
// its existing (disabled) window in place, matching the source's
// create-vs-re_enable branch.
func (r *Registry) createOrReenable(u *userState, clientID uint32, connectionID uint64, now time.Time) {
	e, exists := u.clients[clientID]
	if !exists {
		// maxBuffer is the LRU's own hard capacity (independent of the
		// soft max_client admission check above): once reached, the
		// least-recently-touched entry is dropped unconditionally rather
		// than letting the per-user map grow without bound.
		if u.order.Len() >= r.maxBuffer {
			if back := u.order.Back(); back != nil {
				oldestID := back.Value.(uint32)
				delete(u.clients, oldestID)
				u.order.Remove(back)
			}
		}
		w := domain.NewConnectionWindow(connectionID, now)
		elem := u.order.PushFront(clientID)
		u.clients[clientID] = &entry{window: w, elem: elem}
		return
	}
	e.window.ReEnable(connectionID)
}

// Update touches last_update on a known (userID, clientID) window; it is
// called each time a framed payload is successfully decoded, keeping the
// window alive independent of new connection ids being admitted.
func (r *Registry) Update(userID [4]byte, clientID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return
	}
	e, ok := u.clients[clientID]
	if !ok {
		return
	}
	e.window.LastUpdate = r.clock.Now()
}

// Remove decrements the refcount on a (userID, clientID) window,
// called when a session holding it disposes.
func (r *Registry) Remove(userID [4]byte, clientID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return
	}
	e, ok := u.clients[clientID]
	if !ok {
		return
	}
	e.window.DelRef()
}

func (r *Registry) userFor(userID [4]byte) *userState {
	u, ok := r.users[userID]
	if !ok {
		u = &userState{clients: make(map[uint32]*entry), order: list.New()}
		r.users[userID] = u
	}
	return u
}

func (r *Registry) persist(userID [4]byte, clientID uint32, w *domain.ConnectionWindow) {
	if r.store == nil {
		return
	}
	_ = r.store.Save(userID, clientID, w)
}
