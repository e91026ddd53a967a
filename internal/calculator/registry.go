package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-chi-calculator/internal/observability"
	"go-chi-calculator/internal/storage"
)

// ErrSessionNotFound is returned for ids that are neither live nor persisted.
var ErrSessionNotFound = errors.New("session not found")

const historyKeyPrefix = "calculator:history:"

func historyKey(id string) string {
	return historyKeyPrefix + id
}

// Options configures sessions created by a Registry.
type Options struct {
	HistoryLimit     int
	MaxOperandLength int
	// MaxSessions caps live sessions; the least recently used idle one is
	// evicted to make room. Zero means no cap.
	MaxSessions int
	// IdleTimeout is how long an unused session stays live. Zero disables sweeping.
	IdleTimeout time.Duration
}

// Outcome is the result of pressing a sequence of keys.
type Outcome struct {
	Snapshot
	Completed []Entry
	Failures  []error
}

type sessionEntry struct {
	mu       sync.Mutex
	session  *Session
	detached bool // set under mu once the entry has left the registry

	lastUsed time.Time // guarded by Registry.mu
}

// Registry owns the calculator sessions of all clients. Each session is only
// mutated while its own lock is held; history is written through to the store
// after every change. Evicted sessions come back from persisted history with a
// fresh display.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	store storage.Store
	opts  Options
	now   func() time.Time
}

func NewRegistry(store storage.Store, opts Options) *Registry {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxOperandLength < 0 {
		opts.MaxOperandLength = DefaultMaxOperandLength
	}
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		store:    store,
		opts:     opts,
		now:      time.Now,
	}
}

func (r *Registry) newSession(history *History) *Session {
	return NewSession(
		WithHistory(history),
		WithMaxOperandLength(r.opts.MaxOperandLength),
		WithClock(r.now),
	)
}

// Create starts a fresh session and returns its id.
func (r *Registry) Create() (string, Snapshot) {
	id := uuid.NewString()
	s := r.newSession(NewHistory(r.opts.HistoryLimit))

	r.mu.Lock()
	r.insertLocked(id, &sessionEntry{session: s})
	r.mu.Unlock()

	return id, s.Snapshot()
}

func (r *Registry) insertLocked(id string, e *sessionEntry) {
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		r.evictOldestLocked()
	}
	e.lastUsed = r.now()
	r.sessions[id] = e
	activeSessions.Set(float64(len(r.sessions)))
}

// evictOldestLocked drops the least recently used session that is not in use.
// When every session is busy the cap is exceeded until the next eviction.
func (r *Registry) evictOldestLocked() {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return r.sessions[a].lastUsed.Compare(r.sessions[b].lastUsed)
	})

	for _, id := range ids {
		if r.detachLocked(id, r.sessions[id]) {
			return
		}
	}
}

// detachLocked removes e when nobody holds it. Callers hold r.mu.
func (r *Registry) detachLocked(id string, e *sessionEntry) bool {
	if !e.mu.TryLock() {
		return false
	}
	e.detached = true
	e.mu.Unlock()
	delete(r.sessions, id)
	return true
}

// lookup returns a live session, restoring one from persisted history when
// the process no longer holds it. The store is read without holding r.mu.
func (r *Registry) lookup(ctx context.Context, id string) (*sessionEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}

	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	raw, err := r.store.Get(ctx, historyKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	history := NewHistory(r.opts.HistoryLimit)
	history.restore(entries)

	r.mu.Lock()
	defer r.mu.Unlock()

	// another request may have restored it while the store was read
	if e, ok := r.sessions[id]; ok {
		e.lastUsed = r.now()
		return e, nil
	}
	e := &sessionEntry{session: r.newSession(history)}
	r.insertLocked(id, e)
	return e, nil
}

// acquire returns the session locked. Entries detached while waiting for the
// lock are looked up again.
func (r *Registry) acquire(ctx context.Context, id string) (*sessionEntry, error) {
	for {
		e, err := r.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if !e.detached {
			return e, nil
		}
		e.mu.Unlock()
	}
}

func (r *Registry) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	defer e.mu.Unlock()
	return e.session.Snapshot(), nil
}

// Press applies keys in order. Evaluation failures do not stop the sequence;
// they are collected in the outcome the same way the display reports them.
// An unknown key aborts before any key is applied, and a failed history save
// rolls the session back so the batch can be retried.
func (r *Registry) Press(ctx context.Context, id string, keys []string) (Outcome, error) {
	for _, k := range keys {
		if _, ok := NormalizeKey(k); !ok {
			return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
	}

	e, err := r.acquire(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	defer e.mu.Unlock()

	cp := e.session.checkpoint()

	var out Outcome
	for _, k := range keys {
		entry, err := e.session.Press(k)
		if err != nil {
			out.Failures = append(out.Failures, err)
		}
		if entry != nil {
			out.Completed = append(out.Completed, *entry)
		}
	}

	if len(out.Completed) > 0 {
		if err := r.saveHistory(ctx, id, e.session.History()); err != nil {
			e.session.rollback(cp)
			return Outcome{}, err
		}
	}
	out.Snapshot = e.session.Snapshot()
	return out, nil
}

func (r *Registry) History(ctx context.Context, id string) ([]Entry, error) {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.session.History().Entries(), nil
}

func (r *Registry) ClearHistory(ctx context.Context, id string) error {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := r.store.Remove(ctx, historyKey(id)); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	e.session.History().Clear()
	return nil
}

// Delete drops the session and its persisted history. A Press waiting on the
// session lock sees it gone afterwards.
func (r *Registry) Delete(ctx context.Context, id string) error {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := r.store.Remove(ctx, historyKey(id)); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}

	r.mu.Lock()
	e.detached = true
	delete(r.sessions, id)
	activeSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	return nil
}

// Sweep evicts sessions idle for longer than the configured timeout and
// reports how many went.
func (r *Registry) Sweep() int {
	if r.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.IdleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) && r.detachLocked(id, e) {
			evicted++
		}
	}
	activeSessions.Set(float64(len(r.sessions)))
	return evicted
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.opts.IdleTimeout <= 0 {
		return
	}
	interval := r.opts.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				observability.Logger.Debug("evicted idle calculator sessions", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) HistoryLimit() int {
	return r.opts.HistoryLimit
}

// Len reports how many sessions are live in this process.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) saveHistory(ctx context.Context, id string, h *History) error {
	raw, err := json.Marshal(h.Entries())
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := r.store.Set(ctx, historyKey(id), string(raw)); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}
