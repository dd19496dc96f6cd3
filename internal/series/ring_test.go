package series

import "testing"

func TestRingEmpty(t *testing.T) {
	r := NewRing[int](10)
	if got := r.Items(); got != nil {
		t.Errorf("expected nil from empty ring, got %v", got)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty ring, got len %d", r.Len())
	}
}

func TestRingCapacityBounds(t *testing.T) {
	tests := []struct {
		capacity, want int
	}{
		{0, DefaultCapacity},
		{-3, DefaultCapacity},
		{10, 10},
		{DefaultCapacity, DefaultCapacity},
		{2000, DefaultCapacity},
	}
	for _, tt := range tests {
		if got := NewRing[int](tt.capacity).Cap(); got != tt.want {
			t.Errorf("NewRing(%d).Cap(): got %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func TestRingPushInOrder(t *testing.T) {
	r := NewRing[int](10)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	got := r.Items()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i] != i {
			t.Errorf("item %d: got %d", i, got[i])
		}
	}
}

func TestRingOverflowEvictsOldest(t *testing.T) {
	r := NewRing[int](5)
	for i := 0; i < 8; i++ {
		r.Push(i)
	}
	got := r.Items()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i, want := range []int{3, 4, 5, 6, 7} {
		if got[i] != want {
			t.Errorf("item %d: got %d, want %d", i, got[i], want)
		}
	}
	if r.Evicted() != 3 {
		t.Errorf("Evicted: got %d, want 3", r.Evicted())
	}
}

func TestRingNeverExceedsHardCap(t *testing.T) {
	r := NewRing[int](DefaultCapacity)
	for i := 0; i < DefaultCapacity*3+7; i++ {
		r.Push(i)
		if r.Len() > DefaultCapacity {
			t.Fatalf("len %d exceeds cap after %d pushes", r.Len(), i+1)
		}
	}
	items := r.Items()
	if items[0] != DefaultCapacity*2+7 {
		t.Errorf("oldest retained: got %d, want %d", items[0], DefaultCapacity*2+7)
	}
}

func TestRingItemsIsCopy(t *testing.T) {
	r := NewRing[int](3)
	r.Push(1)
	items := r.Items()
	items[0] = 99
	if got := r.Items()[0]; got != 1 {
		t.Errorf("ring mutated through Items copy: got %d", got)
	}
}
