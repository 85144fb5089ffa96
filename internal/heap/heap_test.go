package heap

import (
	"testing"

	"github.com/nukata/goarith"
)

func newTestHeap() *Heap {
	return New(64, 32)
}

func TestShortIntRoundTrip(t *testing.T) {
	h := newTestHeap()
	v, err := h.MakeInt(42)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KShortInt {
		t.Fatalf("expected a short int, got %v", v.Kind)
	}
	n, ok := h.NumberVal(v)
	if !ok {
		t.Fatal("NumberVal failed on a short int")
	}
	if n.Cmp(goarith.AsNumber(int64(42))) != 0 {
		t.Fatalf("expected 42 back from NumberVal, got %v", n)
	}
}

func TestShortIntBoundary(t *testing.T) {
	h := newTestHeap()
	over, err := h.MakeInt(ShortIntMax + 1)
	if err != nil {
		t.Fatal(err)
	}
	if over.Kind != KBlock {
		t.Fatalf("value just outside short-int range should allocate a block, got %v", over.Kind)
	}
	under, err := h.MakeInt(ShortIntMin)
	if err != nil {
		t.Fatal(err)
	}
	if under.Kind != KShortInt {
		t.Fatalf("ShortIntMin should still inline, got %v", under.Kind)
	}
}

func TestShortStringInlining(t *testing.T) {
	h := newTestHeap()
	short, err := h.MakeString("abc")
	if err != nil {
		t.Fatal(err)
	}
	if short.Kind != KShortString {
		t.Fatalf("3-byte string should inline, got %v", short.Kind)
	}
	long, err := h.MakeString("abcd")
	if err != nil {
		t.Fatal(err)
	}
	if long.Kind != KBlock {
		t.Fatalf("4-byte string should allocate a block, got %v", long.Kind)
	}
	s, ok := h.StringVal(long)
	if !ok || s != "abcd" {
		t.Fatalf("StringVal roundtrip failed: got %q, %v", s, ok)
	}
}

func TestConsCarCdr(t *testing.T) {
	h := newTestHeap()
	one, _ := h.MakeInt(1)
	two, _ := h.MakeInt(2)
	p, err := h.Cons(one, two)
	if err != nil {
		t.Fatal(err)
	}
	if h.Car(p) != one || h.Cdr(p) != two {
		t.Fatal("car/cdr did not round-trip through cons")
	}
}

func TestEqContentComparesBlocks(t *testing.T) {
	h := newTestHeap()
	a, _ := h.MakeString("hello world")
	b, _ := h.MakeString("hello world")
	if a.Ref == b.Ref {
		t.Fatal("test setup expected two distinct block allocations")
	}
	if !h.Eq(a, b) {
		t.Fatal("Eq should content-compare two equally-spelled string blocks")
	}
	c, _ := h.MakeString("different")
	if h.Eq(a, c) {
		t.Fatal("Eq should distinguish differently-spelled string blocks")
	}
}

func TestEqDistinguishesPairIdentity(t *testing.T) {
	h := newTestHeap()
	one, _ := h.MakeInt(1)
	a, _ := h.Cons(one, Nil)
	b, _ := h.Cons(one, Nil)
	if h.Eq(a, b) {
		t.Fatal("Eq must be pointer identity for pairs even with equal contents")
	}
	if !h.Eq(a, a) {
		t.Fatal("Eq must hold for a pair compared with itself")
	}
}

func TestAllocationExhaustionCollectsAndRetries(t *testing.T) {
	h := New(2, 8)
	if _, err := h.AllocatePair(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AllocatePair(); err != nil {
		t.Fatal(err)
	}
	// Both cells are unreachable (never stored anywhere reachable from
	// a root), so a collection run during the next request should free
	// them and the allocation should still succeed.
	if _, err := h.AllocatePair(); err != nil {
		t.Fatalf("collection should have reclaimed unreachable cells: %v", err)
	}
}

func TestGCPreservesReachableStructure(t *testing.T) {
	h := newTestHeap()
	one, _ := h.MakeInt(1)
	two, _ := h.MakeInt(2)
	list, err := h.Cons(one, mustCons(t, h, two, Nil))
	if err != nil {
		t.Fatal(err)
	}

	stub := &fakeRoots{roots: []Value{list}}
	h.SetRoots(stub)
	h.Collect()

	if h.Car(list) != one {
		t.Fatal("collection corrupted the reachable list's head")
	}
	rest := h.Cdr(list)
	if h.Car(rest) != two {
		t.Fatal("collection corrupted the reachable list's tail")
	}
}

func TestGCReclaimsUnreachableCells(t *testing.T) {
	h := New(8, 8)
	before := h.PairFreeCount()
	one, _ := h.MakeInt(1)
	_, err := h.Cons(one, Nil) // never rooted
	if err != nil {
		t.Fatal(err)
	}
	h.SetRoots(&fakeRoots{})
	h.Collect()
	if h.PairFreeCount() != before {
		t.Fatalf("expected the unreachable pair to be reclaimed: free=%d before=%d", h.PairFreeCount(), before)
	}
}

func TestGCHandlesSelfReferencingPair(t *testing.T) {
	h := newTestHeap()
	p, err := h.Cons(Nil, Nil)
	if err != nil {
		t.Fatal(err)
	}
	h.SetCar(p, p)
	h.SetCdr(p, p)
	h.SetRoots(&fakeRoots{roots: []Value{p}})
	h.Collect()
	if h.Car(p) != p || h.Cdr(p) != p {
		t.Fatal("mark must restore a self-referencing pair's own slots exactly")
	}
}

type fakeRoots struct{ roots []Value }

func (f *fakeRoots) Roots() []Value { return f.roots }

func mustCons(t *testing.T, h *Heap, a, b Value) Value {
	t.Helper()
	v, err := h.Cons(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
