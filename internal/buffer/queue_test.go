package buffer

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](8)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := q.TryReceive(); ok {
		t.Error("TryReceive should report empty")
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue[int](3)

	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	got := q.DrainTo(0)
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("DrainTo = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}

	stats := q.Stats()
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
	if stats.Pushed != 5 || stats.Popped != 3 {
		t.Errorf("Pushed/Popped = %d/%d, want 5/3", stats.Pushed, stats.Popped)
	}
}

func TestQueue_DrainToMax(t *testing.T) {
	q := NewQueue[int](10)
	for i := 0; i < 6; i++ {
		q.Push(i)
	}

	first := q.DrainTo(4)
	if len(first) != 4 || first[0] != 0 || first[3] != 3 {
		t.Errorf("DrainTo(4) = %v", first)
	}
	rest := q.DrainTo(0)
	if len(rest) != 2 || rest[0] != 4 {
		t.Errorf("DrainTo(0) = %v", rest)
	}
	if q.DrainTo(0) != nil {
		t.Error("DrainTo on empty queue should return nil")
	}
}

func TestQueue_ReadySignal(t *testing.T) {
	q := NewQueue[string](4)

	select {
	case <-q.Ready():
		t.Fatal("Ready fired before any push")
	default:
	}

	q.Push("a")
	q.Push("b")

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready not signalled after push")
	}

	if n := len(q.DrainTo(0)); n != 2 {
		t.Errorf("drained %d items, want 2", n)
	}
}

func TestQueue_BlockingReceive(t *testing.T) {
	q := NewQueue[int](4)
	received := make(chan int, 1)

	go func() {
		if val, ok := q.Receive(); ok {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Close()
	q.Close()

	if q.Push(2) {
		t.Error("Push should return false after Close")
	}

	val, ok := q.Receive()
	if !ok || val != 1 {
		t.Errorf("Receive() = %d, %v; want 1, true", val, ok)
	}
	if _, ok := q.Receive(); ok {
		t.Error("Receive should return false when closed and empty")
	}
}

func TestQueue_CloseUnblocksReceive(t *testing.T) {
	q := NewQueue[int](4)
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Receive")
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := NewQueue[int](16)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	stats := q.Stats()
	if stats.Pushed != 400 {
		t.Errorf("Pushed = %d, want 400", stats.Pushed)
	}
	if stats.Count != 16 {
		t.Errorf("Count = %d, want 16", stats.Count)
	}
	if stats.Dropped != 400-16 {
		t.Errorf("Dropped = %d, want %d", stats.Dropped, 400-16)
	}
}

func TestNewQueue_MinCapacity(t *testing.T) {
	q := NewQueue[int](0)
	if q.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", q.Cap())
	}
	q.Push(1)
	q.Push(2)
	if val, _ := q.TryReceive(); val != 2 {
		t.Errorf("TryReceive() = %d, want 2", val)
	}
}
