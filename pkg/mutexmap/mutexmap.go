// Dynamically allocated named mutexes, with try-lock semantics
package mutexmap

import (
	"sync"
)

type M struct {
	// value is a chan whose close signals unlock, so Lock() can wait on it
	locks    map[string]chan bool
	masterMu sync.Mutex
}

func New() *M {
	return &M{
		locks: map[string]chan bool{},
	}
}

// blocks until the named lock is acquired. release with the returned func
func (n *M) Lock(key string) func() {
	for {
		unlock, tryAgain := n.tryLockInternal(key)
		if tryAgain != nil {
			// somebody holds it. wait for the close-of-chan unlock signal and race
			// for the lock again (another waiter might win)
			<-tryAgain
			continue
		}

		return unlock
	}
}

// non-blocking variant: ok=false if somebody else holds the lock.
// ok=true means you got it and must call the returned func to release
func (n *M) TryLock(key string) (func(), bool) {
	unlock, tryAgain := n.tryLockInternal(key)
	if tryAgain != nil {
		return nil, false
	}

	return unlock, true
}

// unlock func is nil exactly when tryAgain is non-nil
func (n *M) tryLockInternal(key string) (func(), chan bool) {
	n.masterMu.Lock()
	defer n.masterMu.Unlock()

	if tryAgain, held := n.locks[key]; held {
		return nil, tryAgain
	}

	unlocked := make(chan bool)
	n.locks[key] = unlocked

	return func() {
		n.masterMu.Lock()
		defer n.masterMu.Unlock()

		delete(n.locks, key)
		close(unlocked)
	}, nil
}
