package busy

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGate_RejectsSecondInvocation(t *testing.T) {
	g := NewGate()

	release, ok := g.TryAcquire("create_baby")
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}
	if _, ok := g.TryAcquire("create_baby"); ok {
		t.Error("second TryAcquire of the same action should fail while pending")
	}
	if _, ok := g.TryAcquire("create_profile"); !ok {
		t.Error("a different action should not be blocked")
	}

	release()
	release()

	if _, ok := g.TryAcquire("create_baby"); !ok {
		t.Error("TryAcquire should succeed after release")
	}
}

func TestGate_ConcurrentCallersOnlyOneWins(t *testing.T) {
	g := NewGate()
	var wins atomic.Int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := g.TryAcquire("delete_baby"); ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}

func TestGate_Pending(t *testing.T) {
	g := NewGate()
	g.TryAcquire("b")
	g.TryAcquire("a")

	if got := g.Pending(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Pending = %v, want [a b]", got)
	}
}
