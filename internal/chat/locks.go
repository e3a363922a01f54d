package chat

import "sync"

// threadLocks serializes turns per thread id. Concurrent submits against
// the same thread would otherwise interleave message appends and break
// the thread's total order.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: map[string]*threadLock{}}
}

// acquire blocks until the thread's lock is held. The returned func
// releases it and drops the lock entry once nobody is waiting.
func (tl *threadLocks) acquire(threadID string) func() {
	tl.mu.Lock()
	l, ok := tl.locks[threadID]
	if !ok {
		l = &threadLock{}
		tl.locks[threadID] = l
	}
	l.refs++
	tl.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		tl.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(tl.locks, threadID)
		}
		tl.mu.Unlock()
	}
}
