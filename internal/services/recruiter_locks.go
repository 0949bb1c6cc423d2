package services

import "sync"

// recruiterLocks hands out one mutex per recruiter name. Entries are dropped
// once nobody holds or waits for them.
type recruiterLocks struct {
	mu    sync.Mutex
	locks map[string]*recruiterLock
}

type recruiterLock struct {
	mu   sync.Mutex
	refs int
}

func newRecruiterLocks() *recruiterLocks {
	return &recruiterLocks{locks: make(map[string]*recruiterLock)}
}

func (l *recruiterLocks) Lock(recruiter string) (unlock func()) {
	l.mu.Lock()
	lock, ok := l.locks[recruiter]
	if !ok {
		lock = &recruiterLock{}
		l.locks[recruiter] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, recruiter)
		}
		l.mu.Unlock()
	}
}

func (l *recruiterLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
