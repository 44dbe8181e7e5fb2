// Package playerlock serializes work per player.
// Different players never contend with each other.
//
// Locks covers a single process. RedisLocks and PostgresLocks layer a shared
// lease on top so instances sharing one store also exclude each other.
package playerlock

import (
	"context"
	"sync"

	"github.com/mcoot/lemonslots/internal/model"
)

// Locker hands out per-player exclusive sections
type Locker interface {
	// TryAcquire takes the player's lock without waiting.
	// It returns model.ErrSpinInProgress if the lock is already held.
	TryAcquire(ctx context.Context, id model.PlayerID) (release func(), err error)
	// Acquire waits for the player's lock until ctx is done
	Acquire(ctx context.Context, id model.PlayerID) (release func(), err error)
}

// Ensure Locks implements Locker
var _ Locker = (*Locks)(nil)

type entry struct {
	sem  chan struct{}
	refs int
}

// Locks is a set of per-player mutexes created on demand and
// dropped once no caller holds or waits on them
type Locks struct {
	mu      sync.Mutex
	entries map[model.PlayerID]*entry
}

// New creates an empty lock set
func New() *Locks {
	return &Locks{entries: make(map[model.PlayerID]*entry)}
}

// TryAcquire takes the player's lock without waiting.
// It returns model.ErrSpinInProgress if the lock is already held.
func (l *Locks) TryAcquire(_ context.Context, id model.PlayerID) (release func(), err error) {
	e := l.ref(id)
	select {
	case e.sem <- struct{}{}:
		return l.releaser(id, e), nil
	default:
		l.unref(id, e)
		return nil, model.ErrSpinInProgress
	}
}

// Acquire waits for the player's lock. Waiters are served in arrival order.
func (l *Locks) Acquire(ctx context.Context, id model.PlayerID) (release func(), err error) {
	e := l.ref(id)
	select {
	case e.sem <- struct{}{}:
		return l.releaser(id, e), nil
	case <-ctx.Done():
		l.unref(id, e)
		return nil, ctx.Err()
	}
}

// Held reports whether anyone currently holds or waits on the player's lock
func (l *Locks) Held(id model.PlayerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

func (l *Locks) ref(id model.PlayerID) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *Locks) unref(id model.PlayerID, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *Locks) releaser(id model.PlayerID, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(id, e)
		})
	}
}
