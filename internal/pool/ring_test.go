package pool

import "testing"

func TestRingFIFO(t *testing.T) {
	r := NewRing[int]()
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	if r.Len() != 10 {
		t.Fatalf("Len = %d, want 10", r.Len())
	}
	for i := 0; i < 10; i++ {
		v, ok := r.Pop()
		if !ok {
			t.Fatalf("Pop %d: ring unexpectedly empty", i)
		}
		if v != i {
			t.Errorf("Pop %d = %d, want %d", i, v, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop on empty ring reported ok")
	}
}

func TestRingGrowth(t *testing.T) {
	r := NewRing[int]()
	if r.Cap() != 16 {
		t.Fatalf("initial Cap = %d, want 16", r.Cap())
	}

	// Stagger pushes and pops so the buffer wraps before growing.
	for i := 0; i < 8; i++ {
		r.Push(i)
	}
	for i := 0; i < 8; i++ {
		r.Pop()
	}
	for i := 0; i < 100; i++ {
		r.Push(i)
	}
	if r.Cap() < 100 {
		t.Errorf("Cap = %d after 100 pushes, want >= 100", r.Cap())
	}
	if r.Cap() != 128 {
		t.Errorf("Cap = %d, want 128 (doubling from 16)", r.Cap())
	}
	for i := 0; i < 100; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("Pop %d = %d, %v after growth", i, v, ok)
		}
	}
}

func TestRingShrink(t *testing.T) {
	r := NewRing[int]()
	for i := 0; i < 200; i++ {
		r.Push(i)
	}
	for i := 0; i < 180; i++ {
		r.Pop()
	}
	r.Shrink()
	if r.Cap() != 20 {
		t.Errorf("Cap after Shrink = %d, want 20", r.Cap())
	}
	for i := 180; i < 200; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("Pop after Shrink = %d, %v, want %d", v, ok, i)
		}
	}

	// Shrinking an empty ring keeps the initial capacity.
	r.Shrink()
	if r.Cap() != 16 {
		t.Errorf("Cap after empty Shrink = %d, want 16", r.Cap())
	}
}

func TestRingReset(t *testing.T) {
	r := NewRing[string]()
	r.Push("a")
	r.Push("b")
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", r.Len())
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop after Reset reported ok")
	}
}
