package trace

import "testing"

func TestRingTailReturnsOldestFirst(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 3; i++ {
		r.Add(DecisionRecord{TaskID: string(rune('a' + i))})
	}
	tail := r.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("expected 3 records, got %d", len(tail))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if tail[i].TaskID != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, tail[i].TaskID)
		}
	}
}

func TestRingWrapsAtCapacity(t *testing.T) {
	r := NewRing(2) // rounds up to 2
	for i := 0; i < 5; i++ {
		r.Add(DecisionRecord{TaskID: string(rune('a' + i))})
	}
	tail := r.Tail(2)
	if len(tail) != 2 || tail[0].TaskID != "d" || tail[1].TaskID != "e" {
		t.Fatalf("expected the last 2 records [d e], got %v", tail)
	}
}

func TestRingTailCapsAtAvailable(t *testing.T) {
	r := NewRing(8)
	r.Add(DecisionRecord{TaskID: "only"})
	tail := r.Tail(10)
	if len(tail) != 1 || tail[0].TaskID != "only" {
		t.Fatalf("expected 1 available record, got %v", tail)
	}
}

func TestRingEmptyTail(t *testing.T) {
	r := NewRing(4)
	if got := r.Tail(3); got != nil {
		t.Fatalf("expected nil tail on an empty ring, got %v", got)
	}
}
