package sync

import (
	"sync"
	"testing"
)

func TestKernelLock(t *testing.T) {
	var l KernelLock

	if !l.Lock(0) {
		t.Fatal("expected Lock to succeed")
	}

	if !l.Holding(0) || l.Holding(1) {
		t.Fatal("expected CPU 0 to be the only holder")
	}

	t.Run("recursive acquire", func(t *testing.T) {
		defer func() {
			if err := recover(); err != errAlreadyHolding {
				t.Fatalf("expected panic with errAlreadyHolding; got %v", err)
			}
		}()
		l.Lock(0)
	})

	t.Run("release by non-holder", func(t *testing.T) {
		defer func() {
			if err := recover(); err != errNotHolding {
				t.Fatalf("expected panic with errNotHolding; got %v", err)
			}
		}()
		l.Unlock(1)
	})

	acquired := make(chan bool)
	go func() {
		acquired <- l.Lock(1)
	}()

	l.Unlock(0)
	if !<-acquired {
		t.Fatal("expected CPU 1 to acquire the released lock")
	}

	if !l.Holding(1) {
		t.Fatal("expected CPU 1 to hold the lock")
	}
	l.Unlock(1)
}

func TestKernelLockPoison(t *testing.T) {
	var (
		l       KernelLock
		wg      sync.WaitGroup
		results = make([]bool, 4)
	)

	if !l.Lock(0) {
		t.Fatal("expected Lock to succeed")
	}

	wg.Add(len(results))
	for i := range results {
		go func(cpu int) {
			defer wg.Done()
			results[cpu] = l.Lock(cpu + 1)
		}(i)
	}

	l.Poison()
	wg.Wait()

	for cpu, ok := range results {
		if ok {
			t.Errorf("expected CPU %d to give up on a poisoned lock", cpu+1)
		}
	}

	if !l.Poisoned() {
		t.Fatal("expected lock to report poisoned state")
	}
}
