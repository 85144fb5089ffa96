package heap

import (
	"github.com/nukata/goarith"
	"github.com/wisp-lang/wisp/internal/serr"
)

// Default arena sizes. Both regions are fixed-capacity, allocated once
// at boot, matching spec ยง4.1 ("Pair cells live in a contiguous
// region of fixed capacity" / "Data blocks live in a second
// contiguous region").
const (
	DefaultPairCapacity  = 1 << 15 // 32768 cells
	DefaultBlockCapacity = 1 << 13 // 8192 slots
	maxRunLen            = 1 << 12
	blockSizeFieldMax    = 1<<16 - 1 // a block's word count must fit this
)

// RootProvider supplies the collector with the current root set:
// register contents, the pointer stack and the pinned-roots region
// (spec ยง4.1 "Roots"). internal/stacks.Stacks implements this so that
// Heap never needs to import the stacks package.
type RootProvider interface {
	Roots() []Value
}

// Stats mirrors the diagnostic fields the `gcstat` built-in reports
// (SPEC_FULL ยง12, original_source/src/MEMORY.H).
type Stats struct {
	PairFree  int64
	BlockFree int64
}

// Heap owns the pair arena, the block arena and their free lists.
type Heap struct {
	pairs    []pairCell
	pairFree Value // head of the free-pair list; Nil terminates it

	blocks      []block
	allocated   []bool
	blockFree   int32 // head run index into blocks; -1 if empty

	roots        RootProvider
	canonicalize func(name string) (Value, bool)

	collections int
}

// New builds a heap with the given fixed capacities. Both arenas start
// fully free.
func New(pairCap, blockCap int) *Heap {
	h := &Heap{
		pairs:     make([]pairCell, pairCap),
		blocks:    make([]block, blockCap),
		allocated: make([]bool, blockCap),
		blockFree: -1,
	}
	h.resetPairFreeList()
	h.resetBlockFreeList()
	return h
}

func (h *Heap) resetPairFreeList() {
	h.pairFree = Nil
	for i := len(h.pairs) - 1; i >= 0; i-- {
		h.pairs[i] = pairCell{first: Nil, rest: h.pairFree, free: true}
		h.pairFree = Value{Kind: KPair, Ref: int32(i)}
	}
}

func (h *Heap) resetBlockFreeList() {
	for i := range h.allocated {
		h.allocated[i] = false
	}
	if len(h.blocks) == 0 {
		h.blockFree = -1
		return
	}
	h.linkBlockRuns(h.freeRuns())
}

// SetRoots installs the root provider used by the collector. Called
// once during boot wiring (internal/interp).
func (h *Heap) SetRoots(rp RootProvider) { h.roots = rp }

// SetCanonicalizer installs the reserved-symbol lookup used by
// MakeSymbol (spec ยง4.1 "make-symbol additionally scans the
// reserved-keyword list").
func (h *Heap) SetCanonicalizer(fn func(name string) (Value, bool)) {
	h.canonicalize = fn
}

// ---------------------------------------------------------------- pairs

// AllocatePair returns a fresh pair cell with both slots set to Nil.
// On exhaustion it runs a full collection and retries once before
// raising the *resource* error (spec ยง4.1 "Allocation").
func (h *Heap) AllocatePair() (Value, error) {
	if v, ok := h.tryAllocPair(); ok {
		return v, nil
	}
	h.Collect()
	if v, ok := h.tryAllocPair(); ok {
		return v, nil
	}
	return Value{}, serr.New(serr.Resource, "pair storage exhausted after collection")
}

func (h *Heap) tryAllocPair() (Value, bool) {
	if h.pairFree.Kind != KPair {
		return Value{}, false
	}
	idx := h.pairFree.Ref
	cell := &h.pairs[idx]
	h.pairFree = cell.rest
	*cell = pairCell{first: Nil, rest: Nil}
	return Value{Kind: KPair, Ref: idx}, true
}

// Cons allocates a pair and fills it with the given first/rest.
func (h *Heap) Cons(first, rest Value) (Value, error) {
	v, err := h.AllocatePair()
	if err != nil {
		return Value{}, err
	}
	h.pairs[v.Ref].first = first
	h.pairs[v.Ref].rest = rest
	return v, nil
}

func (h *Heap) Car(v Value) Value { return h.pairs[v.Ref].first }
func (h *Heap) Cdr(v Value) Value { return h.pairs[v.Ref].rest }

func (h *Heap) SetCar(v, x Value) { h.pairs[v.Ref].first = x }
func (h *Heap) SetCdr(v, x Value) { h.pairs[v.Ref].rest = x }

func (h *Heap) Hint(v Value) Hint {
	if v.Kind != KPair {
		return HintNone
	}
	return h.pairs[v.Ref].hint
}

func (h *Heap) SetHintEnv(v Value)  { h.pairs[v.Ref].hint = HintEnvHeader }
func (h *Heap) SetHintProc(v Value) { h.pairs[v.Ref].hint = HintProcHeader }

func (h *Heap) IsEnvHeader(v Value) bool {
	return v.Kind == KPair && h.pairs[v.Ref].hint == HintEnvHeader
}

func (h *Heap) IsProcHeader(v Value) bool {
	return v.Kind == KPair && h.pairs[v.Ref].hint == HintProcHeader
}

func (h *Heap) PairFreeCount() int64 {
	n := int64(0)
	for v := h.pairFree; v.Kind == KPair; v = h.pairs[v.Ref].rest {
		n++
	}
	return n
}

// ---------------------------------------------------------------- blocks

func (h *Heap) freeRuns() []int32 {
	var runs []int32
	i := 0
	for i < len(h.allocated) {
		if h.allocated[i] {
			i++
			continue
		}
		start := i
		n := 0
		for i < len(h.allocated) && !h.allocated[i] && n < maxRunLen {
			n++
			i++
		}
		h.blocks[start] = block{free: true, size: n}
		runs = append(runs, int32(start))
	}
	return runs
}

func (h *Heap) linkBlockRuns(runs []int32) {
	h.blockFree = -1
	for i := len(runs) - 1; i >= 0; i-- {
		h.blocks[runs[i]].next = h.blockFree
		h.blockFree = runs[i]
	}
}

// AllocateBlock allocates one data-block slot large enough for bodyBytes
// bytes of the given type. On exhaustion it collects and retries once.
func (h *Heap) AllocateBlock(bodyBytes int, typ BlockType) (Value, error) {
	words := wordsFor(bodyBytes)
	if words > blockSizeFieldMax {
		return Value{}, serr.Newf(serr.Overflow, "block of %d words exceeds the size-field cap", words)
	}
	if v, ok := h.tryAllocBlock(words, typ); ok {
		return v, nil
	}
	h.Collect()
	if v, ok := h.tryAllocBlock(words, typ); ok {
		return v, nil
	}
	return Value{}, serr.New(serr.Resource, "data-block storage exhausted after collection")
}

func (h *Heap) tryAllocBlock(words int, typ BlockType) (Value, bool) {
	if h.blockFree < 0 {
		return Value{}, false
	}
	head := h.blockFree
	run := &h.blocks[head]
	var idx int32
	if run.size > 1 {
		idx = head + int32(run.size) - 1
		run.size--
	} else {
		idx = head
		h.blockFree = run.next
	}
	h.allocated[idx] = true
	h.blocks[idx] = block{typ: typ, size: words}
	return Value{Kind: KBlock, Ref: idx}, true
}

func (h *Heap) BlockFreeCount() int64 {
	n := int64(0)
	for r := h.blockFree; r >= 0; r = h.blocks[r].next {
		n += int64(h.blocks[r].size)
	}
	return n
}

// ---------------------------------------------------------------- constructors

func (h *Heap) MakeSymbol(name string) (Value, error) {
	if h.canonicalize != nil {
		if v, ok := h.canonicalize(name); ok {
			return v, nil
		}
	}
	if len(name) >= 1 && len(name) <= ShortMaxLen {
		return Value{Kind: KShortSymbol, Str: name}, nil
	}
	v, err := h.AllocateBlock(len(name), BSymbol)
	if err != nil {
		return Value{}, err
	}
	h.blocks[v.Ref].text = name
	return v, nil
}

func (h *Heap) MakeString(s string) (Value, error) {
	if len(s) <= ShortMaxLen {
		return Value{Kind: KShortString, Str: s}, nil
	}
	v, err := h.AllocateBlock(len(s), BString)
	if err != nil {
		return Value{}, err
	}
	h.blocks[v.Ref].text = s
	return v, nil
}

func (h *Heap) MakeInt(n int64) (Value, error) {
	if fitsShortInt(n) {
		return Value{Kind: KShortInt, Int: n}, nil
	}
	return h.MakeNumber(goarith.AsNumber(n))
}

// MakeNumber wraps an already-computed goarith.Number as a data block.
// Arithmetic results are not re-inlined even when they happen to fit a
// short int, matching how the source only inlines at construction time
// (make_int) and not after every operation.
func (h *Heap) MakeNumber(n goarith.Number) (Value, error) {
	v, err := h.AllocateBlock(8, BInteger)
	if err != nil {
		return Value{}, err
	}
	h.blocks[v.Ref].number = n
	return v, nil
}

// ---------------------------------------------------------------- accessors

func (h *Heap) SymbolVal(v Value) (string, bool) {
	switch v.Kind {
	case KShortSymbol:
		return v.Str, true
	case KBlock:
		if h.blocks[v.Ref].typ == BSymbol {
			return h.blocks[v.Ref].text, true
		}
	}
	return "", false
}

func (h *Heap) StringVal(v Value) (string, bool) {
	switch v.Kind {
	case KShortString:
		return v.Str, true
	case KBlock:
		if h.blocks[v.Ref].typ == BString {
			return h.blocks[v.Ref].text, true
		}
	}
	return "", false
}

func (h *Heap) NumberVal(v Value) (goarith.Number, bool) {
	switch v.Kind {
	case KShortInt:
		return goarith.AsNumber(v.Int), true
	case KBlock:
		if h.blocks[v.Ref].typ == BInteger {
			return h.blocks[v.Ref].number, true
		}
	}
	return nil, false
}

func (h *Heap) IsSymbol(v Value) bool {
	return v.Kind == KShortSymbol || (v.Kind == KBlock && h.blocks[v.Ref].typ == BSymbol)
}

func (h *Heap) IsString(v Value) bool {
	return v.Kind == KShortString || (v.Kind == KBlock && h.blocks[v.Ref].typ == BString)
}

func (h *Heap) IsNumber(v Value) bool {
	return v.Kind == KShortInt || (v.Kind == KBlock && h.blocks[v.Ref].typ == BInteger)
}

// ---------------------------------------------------------------- equality

// Eq implements the eq?-level equality of spec ยง4.1: bit-identical for
// pairs and immediates, content-compared for data blocks so that two
// non-interned but equally-spelled symbols still compare equal.
func (h *Heap) Eq(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KNil:
		return true
	case KPair:
		return a.Ref == b.Ref
	case KBool, KChar, KShortInt:
		return a.Int == b.Int
	case KShortString, KShortSymbol:
		return a.Str == b.Str
	case KBlock:
		if a.Ref == b.Ref {
			return true
		}
		ba, bb := &h.blocks[a.Ref], &h.blocks[b.Ref]
		if ba.typ != bb.typ {
			return false
		}
		if ba.typ == BInteger {
			return ba.number.Cmp(bb.number) == 0
		}
		return ba.text == bb.text
	}
	return false
}

func (h *Heap) Stats() Stats {
	return Stats{PairFree: h.PairFreeCount(), BlockFree: h.BlockFreeCount()}
}
