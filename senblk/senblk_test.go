package senblk

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := New(0)
	q.Push(&Senblk{Data: []byte("A")})
	q.Push(&Senblk{Data: []byte("B")})

	first := q.Next()
	if string(first.Data) != "A" {
		t.Fatalf("expected A, got %s", first.Data)
	}
	second := q.Next()
	if string(second.Data) != "B" {
		t.Fatalf("expected B, got %s", second.Data)
	}
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	q := New(0)
	done := make(chan *Senblk, 1)
	go func() {
		done <- q.Next()
	}()

	select {
	case <-done:
		t.Fatal("Next returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(&Senblk{Data: []byte("late")})
	select {
	case s := <-done:
		if string(s.Data) != "late" {
			t.Fatalf("expected late, got %s", s.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Next never woke up after Push")
	}
}

func TestQueueCloseUnblocksWithNil(t *testing.T) {
	q := New(0)
	done := make(chan *Senblk, 1)
	go func() { done <- q.Next() }()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case s := <-done:
		if s != nil {
			t.Fatalf("expected nil after close, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("Next never unblocked after Close")
	}
}

func TestQueueFlushDiscardsBuffered(t *testing.T) {
	q := New(0)
	q.Push(&Senblk{Data: []byte("during-outage")})
	q.Push(&Senblk{Data: []byte("also-during-outage")})
	q.Flush()
	q.Push(&Senblk{Data: []byte("after-reconnect")})

	got := q.Next()
	if string(got.Data) != "after-reconnect" {
		t.Fatalf("expected only post-flush record, got %s", got.Data)
	}
}

func TestQueueBoundedDropsOldest(t *testing.T) {
	q := New(2)
	q.Push(&Senblk{Data: []byte("1")})
	q.Push(&Senblk{Data: []byte("2")})
	q.Push(&Senblk{Data: []byte("3")})

	if got := q.Next(); string(got.Data) != "2" {
		t.Fatalf("expected oldest record dropped, got %s", got.Data)
	}
}
