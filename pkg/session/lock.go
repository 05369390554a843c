package session

import "sync"

// LockHandle identifies one turn chain as a lock owner. Goroutines have no
// identity, so re-entrancy is tracked by handle: the executor creates one
// handle per turn and threads it through any path that may re-enter the
// same scope (e.g. the compact flow).
type LockHandle struct{ _ byte }

// NewLockHandle returns a fresh owner handle.
func NewLockHandle() *LockHandle { return &LockHandle{} }

// ThreadLock is the per-thread mutual exclusion primitive serializing agent
// turns. It is re-entrant for the owning handle.
type ThreadLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner *LockHandle
	depth int
}

func newThreadLock() *ThreadLock {
	l := &ThreadLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// TryAcquire attempts to take the lock without blocking.
// Re-entrant: returns true immediately if h already owns the lock.
func (l *ThreadLock) TryAcquire(h *LockHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == nil || l.owner == h {
		l.owner = h
		l.depth++
		return true
	}
	return false
}

// Acquire blocks until the lock is held by h.
func (l *ThreadLock) Acquire(h *LockHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.owner != nil && l.owner != h {
		l.cond.Wait()
	}
	l.owner = h
	l.depth++
}

// Release drops one level of ownership. The lock is freed when the depth
// returns to zero. Releasing a lock not owned by h panics: that is always
// a programming error.
func (l *ThreadLock) Release(h *LockHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != h {
		panic("session: release of thread lock by non-owner")
	}
	l.depth--
	if l.depth == 0 {
		l.owner = nil
		l.cond.Signal()
	}
}

// Held reports whether h currently owns the lock.
func (l *ThreadLock) Held(h *LockHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == h
}
