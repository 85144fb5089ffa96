package eval

import (
	"github.com/wisp-lang/wisp/internal/heap"
	"github.com/wisp-lang/wisp/internal/serr"
)

// checkLambdaParams validates a lambda parameter list before any
// argument binding is attempted: it must be a bare symbol, a proper
// list of distinct symbols, or an improper list of distinct symbols
// ending in a rest-symbol (spec ยง4.5 "lambda", gated by
// `synchecktoggle`).
func checkLambdaParams(h *heap.Heap, params heap.Value) error {
	seen := map[string]bool{}
	cur := params
	for {
		if cur.IsNil() {
			return nil
		}
		if h.IsSymbol(cur) {
			name, _ := h.SymbolVal(cur)
			if seen[name] {
				return serr.Newf(serr.Syntax, "duplicate parameter: %s", name)
			}
			return nil
		}
		if !cur.IsPair() {
			return serr.New(serr.Syntax, "malformed parameter list")
		}
		head := h.Car(cur)
		if !h.IsSymbol(head) {
			return serr.New(serr.Syntax, "parameter is not a symbol")
		}
		name, _ := h.SymbolVal(head)
		if seen[name] {
			return serr.Newf(serr.Syntax, "duplicate parameter: %s", name)
		}
		seen[name] = true
		cur = h.Cdr(cur)
	}
}

// checkCondClauses validates that every clause of a `cond` form has at
// least a test and a consequent, and that `else`, if present, is only
// the final clause's head.
func checkCondClauses(h *heap.Heap, sym *Symbols, clauses heap.Value) error {
	for cur := clauses; !cur.IsNil(); cur = h.Cdr(cur) {
		if !cur.IsPair() {
			return serr.New(serr.Syntax, "malformed cond form")
		}
		clause := h.Car(cur)
		if !clause.IsPair() || h.Cdr(clause).IsNil() {
			return serr.New(serr.Syntax, "cond clause must have a test and a consequent")
		}
		if h.Eq(h.Car(clause), sym.Else) && !h.Cdr(cur).IsNil() {
			return serr.New(serr.Syntax, "else clause must be last")
		}
	}
	return nil
}

// checkIfArity validates that an `if` form is a proper list of exactly
// 3 or 4 elements counting the `if` head itself (test, consequent, and
// an optional alternative).
func checkIfArity(h *heap.Heap, exp heap.Value) error {
	n := 0
	cur := exp
	for !cur.IsNil() {
		if !cur.IsPair() {
			return serr.New(serr.Syntax, "malformed if form")
		}
		n++
		cur = h.Cdr(cur)
	}
	if n != 3 && n != 4 {
		return serr.New(serr.Syntax, "if expects a test, a consequent and an optional alternative")
	}
	return nil
}

// checkLetBindings validates that every `let` binding is a two-element
// list headed by a symbol.
func checkLetBindings(h *heap.Heap, bindings heap.Value) error {
	for cur := bindings; !cur.IsNil(); cur = h.Cdr(cur) {
		if !cur.IsPair() {
			return serr.New(serr.Syntax, "malformed let bindings")
		}
		pair := h.Car(cur)
		if !pair.IsPair() || !h.IsSymbol(h.Car(pair)) || !h.Cdr(pair).IsPair() || !h.Cdr(h.Cdr(pair)).IsNil() {
			return serr.New(serr.Syntax, "malformed let binding")
		}
	}
	return nil
}
