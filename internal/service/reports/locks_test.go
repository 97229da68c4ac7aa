package reports

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockTableSameIDReturnsSameLock(t *testing.T) {
	lt := newLockTable()
	assert.Same(t, lt.get("rep_a"), lt.get("rep_a"))
	assert.NotSame(t, lt.get("rep_a"), lt.get("rep_b"))
}

func TestLockTableExclusiveBlocksExclusive(t *testing.T) {
	lt := newLockTable()
	unlock := lt.Exclusive("rep_a")

	acquired := make(chan struct{})
	go func() {
		defer lt.Exclusive("rep_a")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second exclusive lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("exclusive lock never became available after unlock")
	}
}

func TestLockTableSharedDoesNotBlockShared(t *testing.T) {
	lt := newLockTable()
	unlockA := lt.Shared("rep_a")
	unlockB := lt.Shared("rep_a")
	unlockA()
	unlockB()
}

func TestLockTableSharedBlocksExclusive(t *testing.T) {
	lt := newLockTable()
	unlockShared := lt.Shared("rep_a")

	acquired := make(chan struct{})
	go func() {
		defer lt.Exclusive("rep_a")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive lock acquired while shared lock held")
	case <-time.After(50 * time.Millisecond):
	}

	unlockShared()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("exclusive lock never became available after shared unlock")
	}
}

func TestLockTableDistinctReportsDoNotSerialize(t *testing.T) {
	lt := newLockTable()
	defer lt.Exclusive("rep_a")()

	done := make(chan struct{})
	go func() {
		defer lt.Exclusive("rep_b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different report blocked")
	}
}

func TestLockTableConcurrentGet(t *testing.T) {
	lt := newLockTable()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lt.Exclusive("rep_shared")
			unlock()
		}()
	}
	wg.Wait()
}
