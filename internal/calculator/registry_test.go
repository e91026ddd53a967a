package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chi-calculator/internal/storage"
)

func newTestRegistry(store storage.Store) *Registry {
	return NewRegistry(store, Options{HistoryLimit: 50, MaxOperandLength: 10})
}

func TestRegistryPressPersistsHistory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	reg := newTestRegistry(store)

	id, snap := reg.Create()
	assert.Equal(t, "0", snap.Display)
	assert.Equal(t, 1, reg.Len())

	out, err := reg.Press(ctx, id, []string{"5", "+", "3", "+", "2", "="})
	require.NoError(t, err)
	assert.Equal(t, "10", out.Display)
	require.Len(t, out.Completed, 1)
	assert.Empty(t, out.Failures)

	raw, err := store.Get(ctx, historyKey(id))
	require.NoError(t, err)

	var persisted []Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, "5 + 3 + 2", persisted[0].Equation)
	assert.Equal(t, "10", persisted[0].Result)
}

func TestRegistryRestoresHistoryFromStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	id, _ := newTestRegistry(store).Create()
	_, err := newTestRegistry(store).Press(ctx, id, []string{"1"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	first := newTestRegistry(store)
	id, _ = first.Create()
	_, err = first.Press(ctx, id, []string{"6", "*", "7", "="})
	require.NoError(t, err)

	// a new process sees the history but starts from a clean display
	second := newTestRegistry(store)
	snap, err := second.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0", snap.Display)

	entries, err := second.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].Result)
}

func TestRegistryUnknownSessions(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(storage.NewMemory())

	_, err := reg.Snapshot(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = reg.History(ctx, "0b4c1a5e-7a41-4f61-9a43-5f2d9c5d7a10")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, reg.Delete(ctx, "0b4c1a5e-7a41-4f61-9a43-5f2d9c5d7a10"), ErrSessionNotFound)
}

func TestRegistryUnknownKeyAppliesNothing(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(storage.NewMemory())
	id, _ := reg.Create()

	_, err := reg.Press(ctx, id, []string{"5", "sqrt"})
	assert.ErrorIs(t, err, ErrUnknownKey)

	snap, err := reg.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0", snap.Display)
}

func TestRegistryCollectsFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(storage.NewMemory())
	id, _ := reg.Create()

	out, err := reg.Press(ctx, id, []string{"5", "/", "0", "=", "2", "+", "2", "="})
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "division_by_zero", Kind(out.Failures[0]))
	assert.Equal(t, "4", out.Display)
	require.Len(t, out.Completed, 1)
}

func TestRegistryClearHistoryAndDelete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	reg := newTestRegistry(store)
	id, _ := reg.Create()

	_, err := reg.Press(ctx, id, []string{"1", "+", "1", "="})
	require.NoError(t, err)

	require.NoError(t, reg.ClearHistory(ctx, id))
	entries, err := reg.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = store.Get(ctx, historyKey(id))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = reg.Press(ctx, id, []string{"2", "+", "2", "="})
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, id))
	assert.Equal(t, 0, reg.Len())
	_, err = reg.Snapshot(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryConcurrentPressesAreSerialised(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(storage.NewMemory())
	id, _ := reg.Create()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Press(ctx, id, []string{"1", "+", "1", "="})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := reg.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 20)
	for _, e := range entries {
		assert.Equal(t, "1 + 1", e.Equation)
		assert.Equal(t, "2", e.Result)
	}
}

func TestRegistryAppliesHistoryLimit(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storage.NewMemory(), Options{HistoryLimit: 3})
	assert.Equal(t, 3, reg.HistoryLimit())

	id, _ := reg.Create()
	for i := 0; i < 5; i++ {
		_, err := reg.Press(ctx, id, []string{"1", "+", "1", "="})
		require.NoError(t, err)
	}

	entries, err := reg.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

// hookStore runs a hook before delegating to an in-memory store.
type hookStore struct {
	*storage.Memory
	onGet    func(key string)
	onSet    func(key string) error
	onRemove func(key string)
}

func (s *hookStore) Get(ctx context.Context, key string) (string, error) {
	if s.onGet != nil {
		s.onGet(key)
	}
	return s.Memory.Get(ctx, key)
}

func (s *hookStore) Set(ctx context.Context, key, value string) error {
	if s.onSet != nil {
		if err := s.onSet(key); err != nil {
			return err
		}
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *hookStore) Remove(ctx context.Context, key string) error {
	if s.onRemove != nil {
		s.onRemove(key)
	}
	return s.Memory.Remove(ctx, key)
}

func TestRegistryFailedSaveRollsBackSession(t *testing.T) {
	ctx := context.Background()
	errDiskFull := errors.New("disk full")
	store := &hookStore{Memory: storage.NewMemory()}
	reg := newTestRegistry(store)
	id, _ := reg.Create()

	_, err := reg.Press(ctx, id, []string{"7", "+"})
	require.NoError(t, err)

	store.onSet = func(string) error { return errDiskFull }
	_, err = reg.Press(ctx, id, []string{"1", "="})
	require.ErrorIs(t, err, errDiskFull)

	entries, err := reg.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)

	snap, err := reg.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "7", snap.Display)
	assert.Equal(t, "7 +", snap.Equation)
	assert.Equal(t, AwaitingOperand, snap.State)

	// the same batch succeeds once the store recovers
	store.onSet = nil
	out, err := reg.Press(ctx, id, []string{"1", "="})
	require.NoError(t, err)
	assert.Equal(t, "8", out.Display)
	require.Len(t, out.Completed, 1)
	assert.Equal(t, "7 + 1", out.Completed[0].Equation)
}

func TestRegistryStoreReadDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	store := &hookStore{Memory: storage.NewMemory()}
	reg := newTestRegistry(store)
	id, _ := reg.Create()
	_, err := reg.Press(ctx, id, []string{"1", "+", "1", "="})
	require.NoError(t, err)

	// a fresh registry has to restore the session from the store
	restoring := newTestRegistry(store)
	store.onGet = func(string) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := restoring.Snapshot(ctx, id)
		done <- err
	}()
	<-entered

	created := make(chan struct{})
	go func() {
		restoring.Create()
		close(created)
	}()
	select {
	case <-created:
	case <-time.After(time.Second):
		t.Fatal("Create blocked behind a store read")
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, restoring.Len())
}

func TestRegistryDeleteWaitsForInFlightPress(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	store := &hookStore{Memory: storage.NewMemory()}
	reg := newTestRegistry(store)
	id, _ := reg.Create()

	var once sync.Once
	store.onSet = func(string) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	pressed := make(chan error, 1)
	go func() {
		_, err := reg.Press(ctx, id, []string{"2", "+", "2", "="})
		pressed <- err
	}()
	<-entered

	deleted := make(chan error, 1)
	go func() { deleted <- reg.Delete(ctx, id) }()

	select {
	case err := <-deleted:
		t.Fatalf("Delete returned while a press held the session: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-pressed)
	require.NoError(t, <-deleted)

	_, err := store.Memory.Get(ctx, historyKey(id))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = reg.Snapshot(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryPressAfterDeleteIsNotFound(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	store := &hookStore{Memory: storage.NewMemory()}
	reg := newTestRegistry(store)
	id, _ := reg.Create()
	_, err := reg.Press(ctx, id, []string{"1", "+", "1", "="})
	require.NoError(t, err)

	store.onRemove = func(string) {
		close(entered)
		<-release
	}

	deleted := make(chan error, 1)
	go func() { deleted <- reg.Delete(ctx, id) }()
	<-entered

	pressed := make(chan error, 1)
	go func() {
		_, err := reg.Press(ctx, id, []string{"3", "="})
		pressed <- err
	}()

	close(release)
	require.NoError(t, <-deleted)
	assert.ErrorIs(t, <-pressed, ErrSessionNotFound)

	_, err = store.Memory.Get(ctx, historyKey(id))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegistryEvictsLeastRecentlyUsedAtCap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reg := NewRegistry(storage.NewMemory(), Options{HistoryLimit: 50, MaxSessions: 2})
	reg.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	first, _ := reg.Create()
	_, err := reg.Press(ctx, first, []string{"4", "*", "2", "="})
	require.NoError(t, err)
	second, _ := reg.Create()

	// touching first makes second the oldest
	_, err = reg.Snapshot(ctx, first)
	require.NoError(t, err)

	third, _ := reg.Create()
	assert.Equal(t, 2, reg.Len())

	_, err = reg.Snapshot(ctx, second)
	assert.ErrorIs(t, err, ErrSessionNotFound, "second had no history to restore from")

	for _, id := range []string{first, third} {
		_, err := reg.Snapshot(ctx, id)
		assert.NoError(t, err)
	}
}

func TestRegistrySweepEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reg := NewRegistry(storage.NewMemory(), Options{HistoryLimit: 50, IdleTimeout: time.Minute})
	reg.now = func() time.Time { return now }

	idle, _ := reg.Create()
	_, err := reg.Press(ctx, idle, []string{"9", "-", "3", "="})
	require.NoError(t, err)
	active, _ := reg.Create()

	now = now.Add(2 * time.Minute)
	_, err = reg.Snapshot(ctx, active)
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 1, reg.Len())

	// history survives eviction
	entries, err := reg.History(ctx, idle)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "6", entries[0].Result)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := NewRegistry(storage.NewMemory(), Options{IdleTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
