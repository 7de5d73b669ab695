package wallet

import "sync"

// accountLocks hands out one mutex per account. Entries are dropped once no
// caller holds or waits for them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

// lock blocks until the account is free and returns the matching unlock.
func (l *accountLocks) lock(userID string) func() {
	l.mu.Lock()
	al, ok := l.locks[userID]
	if !ok {
		al = &accountLock{}
		l.locks[userID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.Lock()
	return func() {
		al.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
