package database

import "sync"

// recipientLocks hands out one mutex per recipient. Entries are reference
// counted and dropped once nobody holds or waits on them.
type recipientLocks struct {
	mu    sync.Mutex
	locks map[string]*recipientLock
}

type recipientLock struct {
	sync.Mutex
	refs int
}

func newRecipientLocks() *recipientLocks {
	return &recipientLocks{locks: make(map[string]*recipientLock)}
}

// Lock blocks until the caller owns recipient's mutex and returns its release func
func (r *recipientLocks) Lock(recipient string) func() {
	r.mu.Lock()
	lock, ok := r.locks[recipient]
	if !ok {
		lock = &recipientLock{}
		r.locks[recipient] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, recipient)
		}
		r.mu.Unlock()
	}
}

func (r *recipientLocks) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
