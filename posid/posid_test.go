package posid

import (
	"math/rand"
	"testing"
)

func TestAllocateBetween_EmptyDocument(t *testing.T) {
	p, err := AllocateBetween(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 1 || p[0] != Base {
		t.Errorf("expected (%d), got %v", Base, p)
	}
}

func TestAllocateBetween_LoNilHiGiven(t *testing.T) {
	p, err := AllocateBetween(nil, PosId{10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 1 || p[0] != 5 {
		t.Errorf("expected (5), got %v", p)
	}
	if Compare(p, PosId{10}) >= 0 {
		t.Errorf("result must be < hi")
	}
}

func TestAllocateBetween_LoNilHiNarrow_Descends(t *testing.T) {
	// hi[0] <= 1 forces a descent to a second component.
	p, err := AllocateBetween(nil, PosId{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) < 2 {
		t.Fatalf("expected descent to depth >= 2, got %v", p)
	}
	if Compare(p, PosId{1}) >= 0 {
		t.Errorf("result must be < hi, got %v", p)
	}
}

func TestAllocateBetween_HiNil(t *testing.T) {
	p, err := AllocateBetween(PosId{7}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 1 || p[0] != 7+Base {
		t.Errorf("expected (%d), got %v", 7+Base, p)
	}
}

func TestAllocateBetween_BothGiven(t *testing.T) {
	lo := PosId{100}
	hi := PosId{200}
	p, err := AllocateBetween(lo, hi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Compare(lo, p) >= 0 || Compare(p, hi) >= 0 {
		t.Errorf("expected lo < p < hi, got lo=%v p=%v hi=%v", lo, p, hi)
	}
}

func TestAllocateBetween_NarrowIntervalGrowsDepth(t *testing.T) {
	lo := PosId{100}
	hi := PosId{101}
	p, err := AllocateBetween(lo, hi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("expected a depth-2 id to fit strictly between adjacent ints, got %v", p)
	}
	if Compare(lo, p) >= 0 || Compare(p, hi) >= 0 {
		t.Errorf("expected lo < p < hi, got lo=%v p=%v hi=%v", lo, p, hi)
	}
}

func TestAllocateBetween_InvalidBounds(t *testing.T) {
	if _, err := AllocateBetween(PosId{5}, PosId{5}); err == nil {
		t.Error("expected error for lo == hi")
	}
	if _, err := AllocateBetween(PosId{6}, PosId{5}); err == nil {
		t.Error("expected error for lo > hi")
	}
}

// TestAllocateBetween_RepeatedInsertAtEnd exercises repeated appends with
// hi == nil, the scenario the +Base edge case is specifically shaped for.
func TestAllocateBetween_RepeatedInsertAtEnd(t *testing.T) {
	var prev PosId
	for i := 0; i < 3; i++ {
		next, err := AllocateBetween(prev, nil)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
		if prev != nil && Compare(prev, next) >= 0 {
			t.Fatalf("iteration %d: expected strictly increasing ids, prev=%v next=%v", i, prev, next)
		}
		prev = next
	}
}

// TestAllocateBetween_RandomizedFuzz checks that for randomized (lo, hi)
// the result always satisfies lo < p < hi, is non-empty, and its depth
// grows by at most one level past the deeper of the two inputs.
func TestAllocateBetween_RandomizedFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		lo, hi := randomOrderedPair(rng)
		p, err := AllocateBetween(lo, hi)
		if err != nil {
			t.Fatalf("case %d (lo=%v hi=%v): unexpected error: %v", i, lo, hi, err)
		}
		if len(p) == 0 {
			t.Fatalf("case %d: got empty id", i)
		}
		if lo != nil && Compare(lo, p) >= 0 {
			t.Fatalf("case %d: lo=%v not < p=%v", i, lo, p)
		}
		if hi != nil && Compare(p, hi) >= 0 {
			t.Fatalf("case %d: p=%v not < hi=%v", i, p, hi)
		}
		maxDepth := len(lo)
		if len(hi) > maxDepth {
			maxDepth = len(hi)
		}
		if len(p) > maxDepth+1 {
			t.Fatalf("case %d: depth grew by more than one level: lo=%v hi=%v p=%v", i, lo, hi, p)
		}
	}
}

func randomOrderedPair(rng *rand.Rand) (PosId, PosId) {
	switch rng.Intn(4) {
	case 0:
		return nil, nil
	case 1:
		// hi starts at 1: no PosId sorts below (0), and the algebra never
		// generates an id whose last component is 0.
		return nil, PosId{uint32(1 + rng.Intn(3))}
	case 2:
		return PosId{uint32(rng.Intn(int(2 * Base)))}, nil
	default:
		a := uint32(rng.Intn(10))
		b := a + 1 + uint32(rng.Intn(10))
		return PosId{a}, PosId{b}
	}
}

func TestCompare_PrefixRule(t *testing.T) {
	if Compare(PosId{1}, PosId{1, 0}) >= 0 {
		t.Error("shorter prefix-equal id must be less")
	}
	if Compare(PosId{1, 5}, PosId{1}) <= 0 {
		t.Error("longer id with equal prefix must be greater")
	}
	if Compare(PosId{1, 2}, PosId{1, 3}) >= 0 {
		t.Error("first differing component should decide")
	}
}
