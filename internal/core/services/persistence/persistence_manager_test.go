package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnomd343/authchain-go/internal/core/domain"
)

type mockStore struct {
	mu    sync.Mutex
	saved map[snapshotKey]*domain.ConnectionWindow
}

func newMockStore() *mockStore {
	return &mockStore{saved: make(map[snapshotKey]*domain.ConnectionWindow)}
}

func (m *mockStore) Save(userID [4]byte, clientID uint32, w *domain.ConnectionWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.saved[snapshotKey{userID, clientID}] = &cp
	return nil
}

func (m *mockStore) Load(userID [4]byte, clientID uint32) (*domain.ConnectionWindow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.saved[snapshotKey{userID, clientID}]
	return w, ok, nil
}

func (m *mockStore) Delete(userID [4]byte, clientID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, snapshotKey{userID, clientID})
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

var testUser = [4]byte{1, 2, 3, 4}

func TestFlusherBatchesUntilSizeThreshold(t *testing.T) {
	store := newMockStore()
	f := NewFlusher(store, 10)
	f.batchSize = 5
	f.interval = time.Hour // effectively disable the ticker

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	for i := uint32(0); i < 4; i++ {
		require.NoError(t, f.Save(testUser, i, domain.NewConnectionWindow(10, time.Now())))
	}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, store.count())

	require.NoError(t, f.Save(testUser, 4, domain.NewConnectionWindow(10, time.Now())))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 5, store.count())
}

func TestFlusherFlushesOnTimer(t *testing.T) {
	store := newMockStore()
	f := NewFlusher(store, 10)
	f.batchSize = 100
	f.interval = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	require.NoError(t, f.Save(testUser, 1, domain.NewConnectionWindow(10, time.Now())))
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 0, store.count())

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, store.count())
}

func TestFlusherLoadDeletePassThrough(t *testing.T) {
	store := newMockStore()
	f := NewFlusher(store, 10)

	w := domain.NewConnectionWindow(42, time.Now())
	require.NoError(t, store.Save(testUser, 9, w))

	got, ok, err := f.Load(testUser, 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, w.Back, got.Back)

	require.NoError(t, f.Delete(testUser, 9))
	_, ok, err = f.Load(testUser, 9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlusherDisabledDropsSaves(t *testing.T) {
	store := newMockStore()
	f := NewFlusher(store, 10)
	f.batchSize = 1
	f.SetEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	require.NoError(t, f.Save(testUser, 1, domain.NewConnectionWindow(10, time.Now())))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, store.count())
	require.False(t, f.IsEnabled())
}
