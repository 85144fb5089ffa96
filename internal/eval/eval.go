// Package eval implements the explicit-control evaluator of spec ยง4.5:
// a state machine over labeled continuations driven by an explicit
// pointer stack and label stack rather than the host call stack.
package eval

import (
	"io"

	"github.com/wisp-lang/wisp/internal/heap"
	"github.com/wisp-lang/wisp/internal/reader"
	"github.com/wisp-lang/wisp/internal/serr"
	"github.com/wisp-lang/wisp/internal/stacks"
	"github.com/wisp-lang/wisp/internal/writer"
)

// Evaluator bundles every piece of state a single evaluation needs:
// the heap, the two stacks and registers, the reserved-symbol table,
// the writer used by `write`/`newline`, and the reader currently
// backing the `read` built-in. Nothing here is a package-level global,
// so more than one Evaluator can exist side by side (spec ยง9 "A
// faithful re-implementation may encapsulate them in a value threaded
// through the API, eliminating true globals").
type Evaluator struct {
	H    *heap.Heap
	St   *stacks.Stacks
	Regs *stacks.Registers
	Sym  *Symbols
	W    *writer.Writer
	Out  io.Writer

	SyntaxCheck bool
	CurReader   *reader.Reader
}

// New wires an already-constructed heap, stacks and symbol table into
// an Evaluator.
func New(h *heap.Heap, st *stacks.Stacks, regs *stacks.Registers, sym *Symbols, w *writer.Writer, out io.Writer) *Evaluator {
	return &Evaluator{H: h, St: st, Regs: regs, Sym: sym, W: w, Out: out, SyntaxCheck: true}
}

// Eval drives the state machine to completion starting from exp in
// env, returning the resulting value. Errors surface as *serr.Error
// through the normal Go error return; the evaluator never recovers
// its own panics (that policy lives in internal/interp, spec ยง7).
func (ev *Evaluator) Eval(exp, env heap.Value) (heap.Value, error) {
	r := ev.Regs
	r.Exp, r.Env = exp, env
	r.Cont = LStart
	depthBefore := ev.St.LabelDepth()

	for {
		if r.Cont == LReturn {
			if ev.St.LabelDepth() <= depthBefore {
				return r.Val, nil
			}
			l, ok := ev.St.PeekLabel()
			if !ok {
				return heap.Value{}, serr.New(serr.Fatal, "label stack underflow at return")
			}
			r.Cont = l
			continue
		}

		var err error
		switch r.Cont {
		case LStart:
			err = ev.start()
		case LArgNext:
			err = ev.argNext()
		case LCondStep:
			err = ev.condStep()
		case LAndStep:
			err = ev.andStep()
		case LOrStep:
			err = ev.orStep()
		case LSeqStep:
			err = ev.seqStep()
		case LRestoreEnv:
			err = ev.restoreEnv()
		case LDefineFinish:
			err = ev.defineFinish()
		case LSetFinish:
			err = ev.setFinish()
		default:
			err = serr.New(serr.Fatal, "unknown continuation label")
		}
		if err != nil {
			return heap.Value{}, err
		}
	}
}

// ---------------------------------------------------------------- helpers

func (ev *Evaluator) cadr(v heap.Value) heap.Value  { return ev.H.Car(ev.H.Cdr(v)) }
func (ev *Evaluator) cddr(v heap.Value) heap.Value  { return ev.H.Cdr(ev.H.Cdr(v)) }
func (ev *Evaluator) caddr(v heap.Value) heap.Value { return ev.H.Car(ev.cddr(v)) }

// pushFrame pushes a (label, payload) continuation frame in lockstep
// onto the pointer and label stacks.
func (ev *Evaluator) pushFrame(l stacks.Label, payload heap.Value) error {
	if err := ev.St.PushPointer(payload); err != nil {
		return err
	}
	if err := ev.St.PushLabel(l); err != nil {
		return err
	}
	return nil
}

// popFrame pops one (label, payload) continuation frame.
func (ev *Evaluator) popFrame() (stacks.Label, heap.Value, error) {
	l, err := ev.St.PopLabel()
	if err != nil {
		return 0, heap.Value{}, err
	}
	v, err := ev.St.PopPointer()
	if err != nil {
		return 0, heap.Value{}, err
	}
	return l, v, nil
}

// rootedCons conses a and b after pushing both onto the pointer stack,
// so a collection triggered by the allocation itself cannot reclaim
// values that live only in these Go locals (spec ยง4.2's "push before
// a call that may allocate" contract).
func (ev *Evaluator) rootedCons(a, b heap.Value) (heap.Value, error) {
	if err := ev.St.PushPointer(a); err != nil {
		return heap.Value{}, err
	}
	if err := ev.St.PushPointer(b); err != nil {
		return heap.Value{}, err
	}
	v, err := ev.H.Cons(a, b)
	if _, e2 := ev.St.PopPointer(); e2 != nil && err == nil {
		err = e2
	}
	if _, e2 := ev.St.PopPointer(); e2 != nil && err == nil {
		err = e2
	}
	return v, err
}

// pins pushes values onto the pointer stack for the lifetime of a
// multi-step construction and pops them all on release, so
// intermediate pairs that are not yet reachable from any register or
// already-rooted structure survive a collection triggered partway
// through the construction (spec ยง4.2's "push before a call that may
// allocate" contract, generalized to a running sequence of allocating
// calls instead of just one).
type pins struct {
	ev *Evaluator
	n  int
}

func (ev *Evaluator) newPins() *pins { return &pins{ev: ev} }

func (p *pins) push(vs ...heap.Value) error {
	for _, v := range vs {
		if err := p.ev.St.PushPointer(v); err != nil {
			return err
		}
		p.n++
	}
	return nil
}

func (p *pins) release() {
	for i := 0; i < p.n; i++ {
		p.ev.St.PopPointer()
	}
}

// goStart sets Exp/Env and transfers control to LStart.
func (ev *Evaluator) goStart(exp, env heap.Value) error {
	ev.Regs.Exp, ev.Regs.Env = exp, env
	ev.Regs.Cont = LStart
	return nil
}

func (ev *Evaluator) goReturn(val heap.Value) error {
	ev.Regs.Val = val
	ev.Regs.Cont = LReturn
	return nil
}

// ---------------------------------------------------------------- LStart

// start classifies Exp and either produces a value directly (self-eval,
// variable, quote, lambda) or dispatches into a special form / an
// application (spec ยง4.5 "start").
func (ev *Evaluator) start() error {
	r := ev.Regs
	h := ev.H
	exp := r.Exp

	switch exp.Kind {
	case heap.KPair:
		if h.IsEnvHeader(exp) || h.IsProcHeader(exp) {
			return ev.goReturn(exp)
		}
		head := h.Car(exp)
		if h.IsSymbol(head) {
			switch {
			case h.Eq(head, ev.Sym.Quote):
				return ev.goReturn(ev.cadr(exp))
			case h.Eq(head, ev.Sym.If):
				if ev.SyntaxCheck {
					if err := checkIfArity(h, exp); err != nil {
						return err
					}
				}
				return ev.startIf(exp)
			case h.Eq(head, ev.Sym.Cond):
				if ev.SyntaxCheck {
					if err := checkCondClauses(h, ev.Sym, h.Cdr(exp)); err != nil {
						return err
					}
				}
				return ev.condLoop(h.Cdr(exp))
			case h.Eq(head, ev.Sym.And):
				return ev.andLoop(h.Cdr(exp))
			case h.Eq(head, ev.Sym.Or):
				return ev.orLoop(h.Cdr(exp))
			case h.Eq(head, ev.Sym.Lambda):
				return ev.startLambda(exp)
			case h.Eq(head, ev.Sym.Let):
				return ev.startLet(exp)
			case h.Eq(head, ev.Sym.Define):
				return ev.startDefine(exp)
			case h.Eq(head, ev.Sym.SetBang):
				return ev.startSet(exp)
			}
		}
		return ev.startApplication(exp)

	case heap.KShortSymbol, heap.KBlock:
		if h.IsSymbol(exp) {
			return ev.startVariable(exp)
		}
		return ev.goReturn(exp)

	default:
		// KNil, KBool, KChar, KShortInt, KShortString all self-evaluate.
		return ev.goReturn(exp)
	}
}

func (ev *Evaluator) startVariable(sym heap.Value) error {
	if ev.Sym.IsReserved(ev.H, sym) {
		proc, err := ev.H.Cons(sym, heap.Nil)
		if err != nil {
			return err
		}
		ev.H.SetHintProc(proc)
		return ev.goReturn(proc)
	}
	binding, ok := Lookup(ev.H, ev.Regs.Env, sym)
	if !ok {
		name, _ := ev.H.SymbolVal(sym)
		return serr.Newf(serr.Unbound, "unbound variable: %s", name)
	}
	return ev.goReturn(ev.H.Cdr(binding))
}

// ---------------------------------------------------------------- if / cond

// startIf rebuilds (if test then [else]) as a one- or two-clause cond
// list and hands it to condLoop, so `if` and `cond` share one
// implementation (spec ยง4.5: "if/cond normalize to a clause list").
func (ev *Evaluator) startIf(exp heap.Value) error {
	h := ev.H
	test := ev.cadr(exp)
	rest := ev.cddr(exp)
	then := h.Car(rest)
	elseRest := h.Cdr(rest)

	p := ev.newPins()
	defer p.release()
	if err := p.push(test, then, elseRest); err != nil {
		return err
	}

	thenSeq, err := ev.rootedCons(then, heap.Nil)
	if err != nil {
		return err
	}
	consequent, err := ev.rootedCons(test, thenSeq)
	if err != nil {
		return err
	}
	if err := p.push(consequent); err != nil {
		return err
	}
	elseTail := heap.Nil
	if !elseRest.IsNil() {
		elseClause, err := ev.rootedCons(ev.Sym.Else, elseRest)
		if err != nil {
			return err
		}
		elseTail, err = ev.rootedCons(elseClause, heap.Nil)
		if err != nil {
			return err
		}
	}
	clauses, err := ev.rootedCons(consequent, elseTail)
	if err != nil {
		return err
	}
	// Drop the pins now: condLoop pushes its own frame, which the
	// deferred release would otherwise pop in their place.
	p.release()
	p.n = 0
	return ev.condLoop(clauses)
}

// condLoop and condStep implement both `cond` and (after startIf's
// normalization) `if` over a shared clause-list walk.
func (ev *Evaluator) condLoop(clauses heap.Value) error {
	h := ev.H
	if clauses.IsNil() {
		return serr.New(serr.Syntax, "conditional without else")
	}
	clause := h.Car(clauses)
	rest := h.Cdr(clauses)
	head := h.Car(clause)
	if h.Eq(head, ev.Sym.Else) {
		return ev.seqLoop(h.Cdr(clause))
	}
	payload, err := ev.rootedCons(clause, rest)
	if err != nil {
		return err
	}
	if err := ev.pushFrame(LCondStep, payload); err != nil {
		return err
	}
	return ev.goStart(head, ev.Regs.Env)
}

func (ev *Evaluator) condStep() error {
	_, payload, err := ev.popFrame()
	if err != nil {
		return err
	}
	h := ev.H
	clause, rest := h.Car(payload), h.Cdr(payload)
	if !(ev.Regs.Val.Kind == heap.KBool && !ev.Regs.Val.BoolVal()) {
		return ev.seqLoop(h.Cdr(clause))
	}
	return ev.condLoop(rest)
}

// ---------------------------------------------------------------- and / or

func (ev *Evaluator) andLoop(clauses heap.Value) error {
	if clauses.IsNil() {
		return ev.goReturn(heap.True)
	}
	h := ev.H
	if h.Cdr(clauses).IsNil() {
		return ev.goStart(h.Car(clauses), ev.Regs.Env)
	}
	if err := ev.pushFrame(LAndStep, h.Cdr(clauses)); err != nil {
		return err
	}
	return ev.goStart(h.Car(clauses), ev.Regs.Env)
}

func (ev *Evaluator) andStep() error {
	_, rest, err := ev.popFrame()
	if err != nil {
		return err
	}
	if ev.Regs.Val.Kind == heap.KBool && !ev.Regs.Val.BoolVal() {
		return ev.goReturn(ev.Regs.Val)
	}
	return ev.andLoop(rest)
}

func (ev *Evaluator) orLoop(clauses heap.Value) error {
	if clauses.IsNil() {
		return ev.goReturn(heap.False)
	}
	h := ev.H
	if h.Cdr(clauses).IsNil() {
		return ev.goStart(h.Car(clauses), ev.Regs.Env)
	}
	if err := ev.pushFrame(LOrStep, h.Cdr(clauses)); err != nil {
		return err
	}
	return ev.goStart(h.Car(clauses), ev.Regs.Env)
}

func (ev *Evaluator) orStep() error {
	_, rest, err := ev.popFrame()
	if err != nil {
		return err
	}
	if !(ev.Regs.Val.Kind == heap.KBool && !ev.Regs.Val.BoolVal()) {
		return ev.goReturn(ev.Regs.Val)
	}
	return ev.orLoop(rest)
}

// ---------------------------------------------------------------- sequences

// seqLoop evaluates a body in order, discarding all but the last
// value; the last expression runs in tail position with no
// continuation frame pushed, which is what gives recursive tail calls
// constant stack use (spec ยง4.5 "eval-sequence").
func (ev *Evaluator) seqLoop(seq heap.Value) error {
	h := ev.H
	if seq.IsNil() {
		return ev.goReturn(heap.Nil)
	}
	if h.Cdr(seq).IsNil() {
		return ev.goStart(h.Car(seq), ev.Regs.Env)
	}
	if err := ev.pushFrame(LSeqStep, h.Cdr(seq)); err != nil {
		return err
	}
	return ev.goStart(h.Car(seq), ev.Regs.Env)
}

func (ev *Evaluator) seqStep() error {
	_, rest, err := ev.popFrame()
	if err != nil {
		return err
	}
	return ev.seqLoop(rest)
}

// ---------------------------------------------------------------- lambda / let

func (ev *Evaluator) startLambda(exp heap.Value) error {
	if ev.SyntaxCheck {
		if err := checkLambdaParams(ev.H, ev.cadr(exp)); err != nil {
			return err
		}
	}
	proc, err := ev.H.Cons(exp, ev.Regs.Env)
	if err != nil {
		return err
	}
	ev.H.SetHintProc(proc)
	return ev.goReturn(proc)
}

// startLet desugars (let ((n1 v1) (n2 v2) ...) body...) into
// ((lambda (n1 n2 ...) body...) v1 v2 ...) and reprocesses it, the way
// scm.go's LetOp handling builds an equivalent application rather than
// giving `let` its own frame kind.
func (ev *Evaluator) startLet(exp heap.Value) error {
	h := ev.H
	bindings := ev.cadr(exp)
	body := ev.cddr(exp)

	if ev.SyntaxCheck {
		if err := checkLetBindings(h, bindings); err != nil {
			return err
		}
	}

	p := ev.newPins()
	defer p.release()
	if err := p.push(bindings, body); err != nil {
		return err
	}

	names, values := heap.Nil, heap.Nil
	if err := p.push(names, values); err != nil {
		return err
	}
	for b := bindings; !b.IsNil(); b = h.Cdr(b) {
		// built back to front here, reversed in place below.
		pair := h.Car(b)
		name, val := h.Car(pair), ev.cadr(pair)
		nc, err := ev.rootedCons(name, names)
		if err != nil {
			return err
		}
		vc, err := ev.rootedCons(val, values)
		if err != nil {
			return err
		}
		names, values = nc, vc
		if err := p.push(names, values); err != nil {
			return err
		}
	}
	// Restore textual order so the values are evaluated left to right.
	for _, l := range []*heap.Value{&names, &values} {
		prev := heap.Nil
		for cur := *l; !cur.IsNil(); {
			next := h.Cdr(cur)
			h.SetCdr(cur, prev)
			prev, cur = cur, next
		}
		*l = prev
	}

	lambdaTail, err := ev.rootedCons(names, body)
	if err != nil {
		return err
	}
	if err := p.push(lambdaTail); err != nil {
		return err
	}
	lambdaExpr, err := ev.rootedCons(ev.Sym.Lambda, lambdaTail)
	if err != nil {
		return err
	}
	application, err := ev.rootedCons(lambdaExpr, values)
	if err != nil {
		return err
	}
	return ev.goStart(application, ev.Regs.Env)
}

// ---------------------------------------------------------------- define / set!

func (ev *Evaluator) startDefine(exp heap.Value) error {
	h := ev.H
	target := ev.cadr(exp)
	if target.IsPair() {
		// (define (f . params) body...) sugar rewrites to
		// (define f (lambda params body...)).
		name := h.Car(target)
		params := h.Cdr(target)
		body := ev.cddr(exp)

		p := ev.newPins()
		defer p.release()
		if err := p.push(name, params, body); err != nil {
			return err
		}

		lambdaTail, err := ev.rootedCons(params, body)
		if err != nil {
			return err
		}
		if err := p.push(lambdaTail); err != nil {
			return err
		}
		lambdaExpr, err := ev.rootedCons(ev.Sym.Lambda, lambdaTail)
		if err != nil {
			return err
		}
		if err := p.push(lambdaExpr); err != nil {
			return err
		}
		defineTail, err := ev.rootedCons(lambdaExpr, heap.Nil)
		if err != nil {
			return err
		}
		if err := p.push(defineTail); err != nil {
			return err
		}
		defineTail, err = ev.rootedCons(name, defineTail)
		if err != nil {
			return err
		}
		rewritten, err := ev.rootedCons(ev.Sym.Define, defineTail)
		if err != nil {
			return err
		}
		return ev.goStart(rewritten, ev.Regs.Env)
	}
	name := target
	if !h.IsSymbol(name) {
		return serr.New(serr.Syntax, "define target must be a symbol")
	}
	if ev.Sym.IsReserved(h, name) {
		nm, _ := h.SymbolVal(name)
		return serr.Newf(serr.Reserved, "cannot rebind reserved name: %s", nm)
	}
	valueExpr := ev.caddr(exp)

	original := heap.Nil
	if existing, ok := LookupTopFrame(h, ev.Regs.Env, name); ok {
		original = existing
	}
	payload, err := ev.rootedCons(name, original)
	if err != nil {
		return err
	}
	if err := ev.pushFrame(LDefineFinish, payload); err != nil {
		return err
	}
	return ev.goStart(valueExpr, ev.Regs.Env)
}

func (ev *Evaluator) defineFinish() error {
	_, payload, err := ev.popFrame()
	if err != nil {
		return err
	}
	h := ev.H
	name, original := h.Car(payload), h.Cdr(payload)
	current, found := LookupTopFrame(h, ev.Regs.Env, name)
	if original.IsNil() {
		if err := Prepend(h, ev.Regs.Env, name, ev.Regs.Val); err != nil {
			return err
		}
	} else {
		if !found || !h.Eq(current, original) {
			return serr.New(serr.Fatal, "define binding mutated during evaluation of its value")
		}
		h.SetCdr(original, ev.Regs.Val)
	}
	return ev.goReturn(heap.Nil)
}

func (ev *Evaluator) startSet(exp heap.Value) error {
	h := ev.H
	name := ev.cadr(exp)
	if !h.IsSymbol(name) {
		return serr.New(serr.Syntax, "set! target must be a symbol")
	}
	if ev.Sym.IsReserved(h, name) {
		nm, _ := h.SymbolVal(name)
		return serr.Newf(serr.Reserved, "cannot rebind reserved name: %s", nm)
	}
	binding, ok := Lookup(h, ev.Regs.Env, name)
	if !ok {
		nm, _ := h.SymbolVal(name)
		return serr.Newf(serr.Unbound, "unbound variable: %s", nm)
	}
	valueExpr := ev.caddr(exp)
	if err := ev.pushFrame(LSetFinish, binding); err != nil {
		return err
	}
	return ev.goStart(valueExpr, ev.Regs.Env)
}

func (ev *Evaluator) setFinish() error {
	_, binding, err := ev.popFrame()
	if err != nil {
		return err
	}
	ev.H.SetCdr(binding, ev.Regs.Val)
	return ev.goReturn(heap.Nil)
}

// ---------------------------------------------------------------- application

// pendingOperator is a private sentinel value, never producible via
// evaluation, marking the very first LArgNext frame of an application
// as "the operator has not been evaluated yet" (spec ยง4.5's own
// pointer-reversal machinery in the collector uses the same "invalid
// pair index as sentinel" idiom).
var pendingOperator = heap.Value{Kind: heap.KPair, Ref: -1}

func isPendingOperator(v heap.Value) bool { return v.Kind == heap.KPair && v.Ref < 0 }

func (ev *Evaluator) startApplication(exp heap.Value) error {
	h := ev.H
	operator := h.Car(exp)
	args := h.Cdr(exp)
	payload, err := ev.rootedCons(pendingOperator, args)
	if err != nil {
		return err
	}
	if err := ev.pushFrame(LArgNext, payload); err != nil {
		return err
	}
	return ev.goStart(operator, ev.Regs.Env)
}

// collectMarker is a private label value used purely as a counting
// tag on the label stack while arguments accumulate (spec ยง4.5's
// "chain of collect labels" that lets the count be implicit).
const collectMarker stacks.Label = 255

// argNext is the single continuation used both to receive the
// evaluated operator and to collect each evaluated argument in turn,
// left to right (spec ยง4.5 "application": "arguments are evaluated
// strictly left to right"). Its payload is (fun . remaining-exprs);
// fun is pendingOperator exactly once, on the frame installed by
// startApplication.
func (ev *Evaluator) argNext() error {
	h := ev.H
	_, payload, err := ev.popFrame()
	if err != nil {
		return err
	}
	fun, remaining := h.Car(payload), h.Cdr(payload)

	if isPendingOperator(fun) {
		fun = ev.Regs.Val
		if remaining.IsNil() {
			ev.Regs.Fun = fun
			ev.Regs.Argl = heap.Nil
			return ev.microApply()
		}
		next, err := ev.rootedCons(fun, h.Cdr(remaining))
		if err != nil {
			return err
		}
		if err := ev.pushFrame(LArgNext, next); err != nil {
			return err
		}
		return ev.goStart(h.Car(remaining), ev.Regs.Env)
	}

	// an argument value just finished evaluating; collect it
	if err := ev.pushFrame(collectMarker, ev.Regs.Val); err != nil {
		return err
	}
	if remaining.IsNil() {
		argl := heap.Nil
		for {
			l, ok := ev.St.PeekLabel()
			if !ok || l != collectMarker {
				break
			}
			_, v, err := ev.popFrame()
			if err != nil {
				return err
			}
			nc, err := h.Cons(v, argl)
			if err != nil {
				return err
			}
			argl = nc
		}
		ev.Regs.Fun = fun
		ev.Regs.Argl = argl
		return ev.microApply()
	}
	next, err := ev.rootedCons(fun, h.Cdr(remaining))
	if err != nil {
		return err
	}
	if err := ev.pushFrame(LArgNext, next); err != nil {
		return err
	}
	return ev.goStart(h.Car(remaining), ev.Regs.Env)
}

func (ev *Evaluator) microApply() error {
	h := ev.H
	fun := ev.Regs.Fun
	if !fun.IsPair() || !h.IsProcHeader(fun) {
		return serr.Newf(serr.Unapplicable, "not applicable: %s", ev.W.Write(fun, true))
	}
	rest := h.Cdr(fun)
	if rest.IsNil() {
		opSym := h.Car(fun)
		result, err := ev.applyBuiltin(opSym, ev.Regs.Argl)
		if err != nil {
			return err
		}
		return ev.goReturn(result)
	}

	lambdaExpr, capturedEnv := h.Car(fun), rest
	params := ev.cadr(lambdaExpr)
	body := ev.cddr(lambdaExpr)
	newEnv, err := ExtendWithParams(h, capturedEnv, params, ev.Regs.Argl)
	if err != nil {
		return err
	}

	if top, ok := ev.St.PeekLabel(); !ok || top != LRestoreEnv {
		if err := ev.pushFrame(LRestoreEnv, ev.Regs.Env); err != nil {
			return err
		}
	}
	ev.Regs.Env = newEnv
	return ev.seqLoop(body)
}

func (ev *Evaluator) restoreEnv() error {
	_, oldEnv, err := ev.popFrame()
	if err != nil {
		return err
	}
	ev.Regs.Env = oldEnv
	return ev.goReturn(ev.Regs.Val)
}
