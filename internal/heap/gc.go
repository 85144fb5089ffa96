package heap

// Collect runs a full non-recursive mark-and-sweep collection (spec
// ยง4.1 "Garbage collector"). It is safe to call with a nil root
// provider (e.g. before boot finishes wiring); in that case every
// cell is reclaimed, which is exactly what an empty root set means.
func (h *Heap) Collect() {
	h.collections++
	if h.roots != nil {
		for _, r := range h.roots.Roots() {
			h.mark(r)
		}
	}
	h.sweep()
}

// noParent is an internal-only sentinel pair reference (never produced
// by any public constructor) standing in for "no back-link", i.e. the
// traversal has retreated past the mark root.
var noParent = Value{Kind: KPair, Ref: -1}

func isNoParent(v Value) bool { return v.Kind == KPair && v.Ref < 0 }

// mark performs Deutsch-Schorr-Waite pointer-reversal marking from a
// single root value. Only pair cells carry outgoing pointers; data
// blocks are leaves that only need their own mark bit set (spec ยง4.1
// "Mark phase"). Each pair is visited at most three times: once on the
// way down, and up to twice on the way back up while its two slots are
// each restored in turn.
func (h *Heap) mark(root Value) {
	up := noParent
	cur := root
	for {
		// Advance: descend through unmarked pairs, reversing the
		// first-slot pointer into a back-link as we go.
		for cur.Kind == KPair && cur.Ref >= 0 && !h.pairs[cur.Ref].mark {
			cell := &h.pairs[cur.Ref]
			cell.mark = true
			cell.tag = false
			next := cell.first
			cell.first = up
			up = Value{Kind: KPair, Ref: cur.Ref}
			cur = next
		}
		if cur.Kind == KBlock {
			h.blocks[cur.Ref].mark = true
		}

		// Retreat: cur now holds the fully-processed value that
		// bubbles up into whichever slot of `up` is waiting for it.
		for {
			if isNoParent(up) {
				return
			}
			cell := &h.pairs[up.Ref]
			if !cell.tag {
				// First visit back at this cell: its first-subtree
				// is done (result discarded, already fully marked in
				// place); descend into its rest-subtree next, using
				// the still-untouched rest slot as scratch to stash
				// the value to restore into first later.
				origRest := cell.rest
				cell.rest = cur
				cell.tag = true
				cur = origRest
				break // resume the advance loop with the new cur
			}
			// Second visit: both subtrees are done. Restore first and
			// rest to their true values and continue retreating.
			parent := cell.first
			toRestoreFirst := cell.rest
			cell.first = toRestoreFirst
			cell.rest = cur
			cur = Value{Kind: KPair, Ref: up.Ref}
			up = parent
		}
	}
}

// sweep reclaims every unmarked pair and coalesces unmarked data
// blocks into free-list runs (spec ยง4.1 "Sweep phase").
func (h *Heap) sweep() {
	h.pairFree = Nil
	for i := len(h.pairs) - 1; i >= 0; i-- {
		cell := &h.pairs[i]
		if cell.mark {
			cell.mark = false
			cell.tag = false
			continue
		}
		*cell = pairCell{first: Nil, rest: h.pairFree, free: true}
		h.pairFree = Value{Kind: KPair, Ref: int32(i)}
	}

	for i := range h.allocated {
		if h.allocated[i] && h.blocks[i].mark {
			h.blocks[i].mark = false
			continue
		}
		h.allocated[i] = false
	}
	h.linkBlockRuns(h.freeRuns())
}
