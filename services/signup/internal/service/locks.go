package service

import (
	"context"
	"sync"
)

// Locker serializes operations on one session. Every replica sharing a
// workflow store must share the Locker too.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// sessionLocks hands out one mutex per session id. Entries are dropped once
// no caller holds or waits on them. It only covers a single process.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocalLocker returns an in-process Locker for a store that is not
// shared between processes.
func NewLocalLocker() Locker {
	return newSessionLocks()
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) Lock(_ context.Context, sessionID string) (func(), error) {
	return l.lock(sessionID), nil
}

// lock blocks until the session is free and returns the matching unlock.
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
