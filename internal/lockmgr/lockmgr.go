// Package lockmgr implements the two-tier lock service from spec.md §4.6: a
// database-wide reader/writer transaction lock with a configurable timeout,
// and per-collection mutual exclusion acquired in lexicographic order after
// the database lock.
//
// Grounded on the "Locking architecture" layered-lock design documented atop
// the teacher's pkg/slotcache/lock.go: a numbered lock-ordering comment plus
// one struct per tier. Cross-process advisory locking (the teacher's
// interprocess writer lock via flock) has no analogue here since the engine
// is in-process only; everything below is in-process coordination.
package lockmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pagedb/enginecore/internal/enginerr"
)

// Locking architecture
//
//  1. Manager.dbLock — database-wide transaction lock. Mutating operations
//     acquire it for reading; checkpoints and structural operations acquire
//     it for writing.
//  2. Manager.collMu + Manager.collections — per-collection-name mutexes,
//     acquired only after the database lock and always in lexicographic
//     name order, so no two transactions can form a lock cycle by taking
//     collection locks in different orders.
//
// Lock ordering: database lock strictly before any collection lock.

// timeoutRWMutex is a reader/writer mutex whose Lock/RLock calls can time
// out instead of blocking forever, matching spec.md §4.6's "never
// deadlocks; on timeout returns a LockTimeout error".
type timeoutRWMutex struct {
	write chan struct{} // 1-buffered, held while a writer has the lock
	mu    sync.Mutex
	readers int
	noReaders chan struct{} // closed/recreated to signal "no readers" to waiting writers
}

func newTimeoutRWMutex() *timeoutRWMutex {
	m := &timeoutRWMutex{write: make(chan struct{}, 1)}
	m.noReaders = make(chan struct{})
	close(m.noReaders)

	return m
}

func (m *timeoutRWMutex) tryLockWrite(ctx context.Context) error {
	select {
	case m.write <- struct{}{}:
	case <-ctx.Done():
		return enginerr.New(enginerr.CodeLockTimeout, "timed out acquiring database write lock")
	}

	for {
		m.mu.Lock()
		noReaders := m.noReaders
		readers := m.readers
		m.mu.Unlock()

		if readers == 0 {
			return nil
		}

		select {
		case <-noReaders:
		case <-ctx.Done():
			<-m.write

			return enginerr.New(enginerr.CodeLockTimeout, "timed out acquiring database write lock")
		}
	}
}

func (m *timeoutRWMutex) unlockWrite() {
	<-m.write
}

func (m *timeoutRWMutex) tryLockRead(ctx context.Context) error {
	select {
	case m.write <- struct{}{}:
		<-m.write
	case <-ctx.Done():
		return enginerr.New(enginerr.CodeLockTimeout, "timed out acquiring database read lock")
	}

	m.mu.Lock()
	if m.readers == 0 {
		m.noReaders = make(chan struct{})
	}
	m.readers++
	m.mu.Unlock()

	return nil
}

func (m *timeoutRWMutex) unlockRead() {
	m.mu.Lock()
	m.readers--
	if m.readers == 0 {
		close(m.noReaders)
	}
	m.mu.Unlock()
}

// Manager is the two-tier lock service.
type Manager struct {
	timeout time.Duration

	dbLock *timeoutRWMutex

	collMu      sync.Mutex
	collections map[string]chanMutex
}

// New returns a lock manager whose Acquire* calls fail with a LockTimeout
// error if they cannot proceed within timeout.
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout:     timeout,
		dbLock:      newTimeoutRWMutex(),
		collections: make(map[string]chanMutex),
	}
}

// chanMutex is a 1-buffered channel used as a mutex whose acquisition can be
// bounded by a context deadline without polling, matching spec.md §5's
// "cooperative suspension is not used... no operation polls" — unlike
// sync.Mutex, which exposes no channel-based wait to select against.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	return make(chanMutex, 1)
}

func (c chanMutex) tryLock(ctx context.Context) bool {
	select {
	case c <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c chanMutex) unlock() {
	<-c
}

// DatabaseRelease is returned by AcquireDatabase*; call it to release the
// database-wide lock.
type DatabaseRelease func()

// AcquireDatabaseRead takes the database lock for reading: any number of
// readers may hold it concurrently.
func (m *Manager) AcquireDatabaseRead(ctx context.Context) (DatabaseRelease, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.dbLock.tryLockRead(ctx); err != nil {
		return nil, err
	}

	return m.dbLock.unlockRead, nil
}

// AcquireDatabaseWrite takes the database lock exclusively, used by
// checkpoints and other structural operations.
func (m *Manager) AcquireDatabaseWrite(ctx context.Context) (DatabaseRelease, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.dbLock.tryLockWrite(ctx); err != nil {
		return nil, err
	}

	return m.dbLock.unlockWrite, nil
}

func (m *Manager) collectionMutex(name string) chanMutex {
	m.collMu.Lock()
	defer m.collMu.Unlock()

	mu, ok := m.collections[name]
	if !ok {
		mu = newChanMutex()
		m.collections[name] = mu
	}

	return mu
}

// CollectionRelease releases every collection lock a single
// AcquireCollections call took, in reverse acquisition order.
type CollectionRelease func()

// AcquireCollections locks every named collection for a write-mode snapshot.
// Names are sorted and locked in lexicographic order regardless of the order
// given, so two transactions that both touch {"a", "b"} can never deadlock
// against each other (spec.md §4.6). The caller must already hold the
// database lock.
func (m *Manager) AcquireCollections(ctx context.Context, names ...string) (CollectionRelease, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	held := make([]chanMutex, 0, len(sorted))

	for _, name := range sorted {
		mu := m.collectionMutex(name)

		if !mu.tryLock(ctx) {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].unlock()
			}

			return nil, enginerr.Newf(enginerr.CodeLockTimeout, "timed out acquiring collection lock %q", name)
		}

		held = append(held, mu)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].unlock()
		}
	}, nil
}
