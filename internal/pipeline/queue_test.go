package pipeline

import (
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue returned a frame")
	}
	for i := range 5 {
		q.Push(Frame{PCM: []byte{byte(i)}, Voiced: i%2 == 0})
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}
	for i := range 5 {
		f, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: empty", i)
		}
		want := Frame{PCM: []byte{byte(i)}, Voiced: i%2 == 0}
		if !f.Equal(want) {
			t.Fatalf("Pop %d = %+v, want %+v", i, f, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after draining", q.Len())
	}
}

func TestQueueReadySignal(t *testing.T) {
	q := NewQueue()
	select {
	case <-q.Ready():
		t.Fatal("ready before any push")
	default:
	}
	q.Push(Frame{})
	q.Push(Frame{})
	select {
	case <-q.Ready():
	default:
		t.Fatal("no ready signal after push")
	}
	select {
	case <-q.Ready():
		t.Fatal("ready signal should coalesce")
	default:
	}
}

func TestQueueConcurrentNoLossNoDup(t *testing.T) {
	const n = 10000
	q := NewQueue()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			q.Push(Frame{PCM: []byte{byte(i), byte(i >> 8)}})
		}
	}()

	next := 0
	for next < n {
		f, ok := q.Pop()
		if !ok {
			<-q.Ready()
			continue
		}
		got := int(f.PCM[0]) | int(f.PCM[1])<<8
		if got != next&0xffff {
			t.Fatalf("frame %d out of order: got %d", next, got)
		}
		next++
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestFrameEqual(t *testing.T) {
	a := Frame{PCM: []byte{1, 2}, Voiced: true}
	if !a.Equal(Frame{PCM: []byte{1, 2}, Voiced: true}) {
		t.Fatal("equal frames compared unequal")
	}
	if a.Equal(Frame{PCM: []byte{1, 2}}) {
		t.Fatal("voiced flag ignored")
	}
	if a.Equal(Frame{PCM: []byte{1, 3}, Voiced: true}) {
		t.Fatal("samples ignored")
	}
}
