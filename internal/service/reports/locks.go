package reports

import "sync"

// lockTable hands out one RWMutex per report so concurrent evolutions of
// distinct reports never serialize against each other. Entries are created
// lazily and never evicted; a report's lock is a few dozen bytes and the
// table is bounded by the number of reports ever touched by this process.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *lockTable) get(reportID string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[reportID]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[reportID] = l
	}
	return l
}

// Exclusive acquires the write lock for reportID and returns the unlock.
func (t *lockTable) Exclusive(reportID string) func() {
	l := t.get(reportID)
	l.Lock()
	return l.Unlock
}

// Shared acquires the read lock for reportID and returns the unlock.
// Dry runs and reads take shared locks so they see a settled snapshot
// without blocking each other.
func (t *lockTable) Shared(reportID string) func() {
	l := t.get(reportID)
	l.RLock()
	return l.RUnlock
}
