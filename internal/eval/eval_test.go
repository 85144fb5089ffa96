package eval

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wisp-lang/wisp/internal/heap"
	"github.com/wisp-lang/wisp/internal/reader"
	"github.com/wisp-lang/wisp/internal/serr"
	"github.com/wisp-lang/wisp/internal/stacks"
	"github.com/wisp-lang/wisp/internal/writer"
)

// testEnv bundles everything one test needs to read and evaluate
// source text against a fresh global environment, mirroring the way
// internal/interp wires the same pieces together at boot.
type testEnv struct {
	h   *heap.Heap
	st  *stacks.Stacks
	sym *Symbols
	ev  *Evaluator
	env heap.Value
	out *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	h := heap.New(1<<14, 1<<12)
	regs := &stacks.Registers{}
	st := stacks.New(1<<10, 1<<10, 32, regs)
	h.SetRoots(st)

	sym, err := BuildSymbols(h)
	if err != nil {
		t.Fatal(err)
	}
	env, err := NewFrame(h, heap.Nil)
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	w := writer.New(h, writer.DefaultNodeQuota)
	ev := New(h, st, regs, sym, w, out)
	return &testEnv{h: h, st: st, sym: sym, ev: ev, env: env, out: out}
}

// evalAll reads every top-level form from src in turn and evaluates it
// in the shared global environment, returning the last result.
func (te *testEnv) evalAll(t *testing.T, src string) heap.Value {
	t.Helper()
	rd := reader.New(strings.NewReader(src), te.h, te.sym.Quote)
	te.ev.CurReader = rd
	var last heap.Value
	for {
		v, status, err := rd.ReadOne()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if status == reader.Term {
			return last
		}
		last, err = te.ev.Eval(v, te.env)
		if err != nil {
			t.Fatalf("eval error on %q: %v", src, err)
		}
	}
}

func (te *testEnv) evalErr(t *testing.T, src string) error {
	t.Helper()
	rd := reader.New(strings.NewReader(src), te.h, te.sym.Quote)
	te.ev.CurReader = rd
	for {
		v, status, err := rd.ReadOne()
		if err != nil {
			return err
		}
		if status == reader.Term {
			return nil
		}
		_, everr := te.ev.Eval(v, te.env)
		if everr != nil {
			return everr
		}
	}
}

func (te *testEnv) int(t *testing.T, v heap.Value) int64 {
	t.Helper()
	n, ok := te.h.NumberVal(v)
	if !ok {
		t.Fatalf("expected a number, got %v", v)
	}
	i, err := asInt64(te.h, v, "test")
	if err != nil {
		t.Fatalf("could not extract int64 from %v: %v", n, err)
	}
	return i
}

func TestSelfEvaluation(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "42")
	if te.int(t, v) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
	v = te.evalAll(t, `"hi"`)
	s, ok := te.h.StringVal(v)
	if !ok || s != "hi" {
		t.Fatalf("expected string hi, got %v", v)
	}
}

func TestQuote(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(quote (1 2 3))")
	if !v.IsPair() || te.int(t, te.h.Car(v)) != 1 {
		t.Fatalf("expected (1 2 3), got %v", v)
	}
}

func TestUnboundVariable(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "totally-undefined-name")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Unbound {
		t.Fatalf("expected an unbound-variable error, got %v", err)
	}
}

func TestIfBothBranches(t *testing.T) {
	te := newTestEnv(t)
	if v := te.evalAll(t, "(if #t 1 2)"); te.int(t, v) != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
	if v := te.evalAll(t, "(if #f 1 2)"); te.int(t, v) != 2 {
		t.Fatalf("expected 2, got %v", v)
	}
}

func TestIfWithoutElseAndFalseTestRaisesConditionalWithoutElse(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(if #f 1)")
	if err == nil {
		t.Fatal("expected an error when the test is false and there is no else clause")
	}
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Syntax {
		t.Fatalf("expected a syntax error, got %v", err)
	}
}

func TestCondWithoutElseErrors(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(cond (#f 1))")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Syntax {
		t.Fatalf("expected a syntax error for a conditional without a matching clause, got %v", err)
	}
}

func TestCondMultipleClauses(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(cond (#f 'a) (#t 'b) (else 'c))")
	name, _ := te.h.SymbolVal(v)
	if name != "b" {
		t.Fatalf("expected the second, matching clause to fire, got %q", name)
	}
}

func TestCondClauseMissingConsequentIsSyntaxError(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(cond (#t))")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Syntax {
		t.Fatalf("expected a syntax error for a clause with no consequent, got %v", err)
	}
}

func TestIfRejectsWrongArity(t *testing.T) {
	te := newTestEnv(t)
	for _, src := range []string{"(if #t)", "(if #t 1 2 3)"} {
		err := te.evalErr(t, src)
		se, ok := err.(*serr.Error)
		if !ok || se.Kind != serr.Syntax {
			t.Fatalf("%s: expected a syntax error for wrong if arity, got %v", src, err)
		}
	}
}

func TestAndShortCircuits(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, `(and #f (error "should not evaluate"))`)
	if err != nil {
		t.Fatalf("and must not evaluate its second clause once the first is false: %v", err)
	}
	v := te.evalAll(t, "(and 1 2 3)")
	if te.int(t, v) != 3 {
		t.Fatalf("and should return its last clause's value, got %v", v)
	}
}

func TestOrShortCircuits(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(or #f 5)")
	if te.int(t, v) != 5 {
		t.Fatalf("expected or to fall through to its second clause, got %v", v)
	}
	v = te.evalAll(t, "(or 1 (error \"should not evaluate\"))")
	if te.int(t, v) != 1 {
		t.Fatalf("or must short-circuit on its first truthy clause, got %v", v)
	}
}

func TestLambdaApplicationAndArity(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "((lambda (x y) (+ x y)) 3 4)")
	if te.int(t, v) != 7 {
		t.Fatalf("expected 7, got %v", v)
	}
	err := te.evalErr(t, "((lambda (x y) x) 1)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.ArityType {
		t.Fatalf("expected an arity error on too few arguments, got %v", err)
	}
}

func TestArgumentEvaluationOrderIsLeftToRight(t *testing.T) {
	te := newTestEnv(t)
	te.evalAll(t, "(define trace (quote ()))")
	te.evalAll(t, "(define note (lambda (tag val) (set! trace (cons tag trace)) val))")
	v := te.evalAll(t, "((lambda (a b c) (+ a b c)) (note 1 10) (note 2 20) (note 3 30))")
	if te.int(t, v) != 60 {
		t.Fatalf("expected 60, got %v", v)
	}
	trace := te.evalAll(t, "trace")
	// trace is built by prepending, so it reads back most-recent-first;
	// left-to-right evaluation means 3 was noted last.
	first := te.int(t, te.h.Car(trace))
	if first != 3 {
		t.Fatalf("expected the last-evaluated argument to be 3 (evaluated rightmost under left-to-right order), got %d", first)
	}
	third := te.int(t, te.h.Car(te.h.Cdr(te.h.Cdr(trace))))
	if third != 1 {
		t.Fatalf("expected the first-evaluated argument to be 1, got %d", third)
	}
}

func TestLetDesugaring(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(let ((x 1) (y 2)) (+ x y))")
	if te.int(t, v) != 3 {
		t.Fatalf("expected 3, got %v", v)
	}
}

func TestDefineAndLookup(t *testing.T) {
	te := newTestEnv(t)
	te.evalAll(t, "(define x 10)")
	v := te.evalAll(t, "x")
	if te.int(t, v) != 10 {
		t.Fatalf("expected 10, got %v", v)
	}
	te.evalAll(t, "(define x 20)") // re-define updates in place
	v = te.evalAll(t, "x")
	if te.int(t, v) != 20 {
		t.Fatalf("expected redefinition to update the binding, got %v", v)
	}
}

func TestDefineProcedureSugar(t *testing.T) {
	te := newTestEnv(t)
	te.evalAll(t, "(define (square x) (* x x))")
	v := te.evalAll(t, "(square 6)")
	if te.int(t, v) != 36 {
		t.Fatalf("expected 36, got %v", v)
	}
}

func TestDefineRejectsReservedName(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(define if 3)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Reserved {
		t.Fatalf("expected a reserved-name error, got %v", err)
	}
}

func TestSetBangRequiresExistingBinding(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(set! never-defined 1)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Unbound {
		t.Fatalf("expected an unbound-variable error from set!, got %v", err)
	}
}

func TestSetBangMutatesExistingBinding(t *testing.T) {
	te := newTestEnv(t)
	te.evalAll(t, "(define counter 0)")
	te.evalAll(t, "(set! counter (+ counter 1))")
	v := te.evalAll(t, "counter")
	if te.int(t, v) != 1 {
		t.Fatalf("expected set! to mutate the binding to 1, got %v", v)
	}
}

func TestTailRecursionDoesNotGrowLabelStack(t *testing.T) {
	te := newTestEnv(t)
	te.evalAll(t, "(define (loop n) (if (= n 0) 'done (loop (- n 1))))")
	before := te.st.LabelDepth()
	v := te.evalAll(t, "(loop 5000)")
	after := te.st.LabelDepth()
	name, ok := te.h.SymbolVal(v)
	if !ok || name != "done" {
		t.Fatalf("expected the loop to finish with 'done, got %v", v)
	}
	if after != before {
		t.Fatalf("tail recursion should return to the same label-stack depth it started from: before=%d after=%d", before, after)
	}
}

func TestBuiltinArithmeticAndComparison(t *testing.T) {
	te := newTestEnv(t)
	if v := te.evalAll(t, "(+ 1 2 3)"); te.int(t, v) != 6 {
		t.Fatalf("expected 6, got %v", v)
	}
	if v := te.evalAll(t, "(- 10 3 2)"); te.int(t, v) != 5 {
		t.Fatalf("expected 5, got %v", v)
	}
	if v := te.evalAll(t, "(- 5)"); te.int(t, v) != -5 {
		t.Fatalf("expected unary negation to give -5, got %v", v)
	}
	if v := te.evalAll(t, "(* 2 3 4)"); te.int(t, v) != 24 {
		t.Fatalf("expected 24, got %v", v)
	}
	if v := te.evalAll(t, "(< 1 2 3)"); v != heap.True {
		t.Fatalf("expected #T, got %v", v)
	}
	if v := te.evalAll(t, "(< 1 3 2)"); v != heap.False {
		t.Fatalf("expected #F, got %v", v)
	}
}

func TestArithmeticOverflowIsCaughtAtConstruction(t *testing.T) {
	te := newTestEnv(t)
	for _, src := range []string{
		"(* 100000000000 100000000000)",
		"(+ 4000000000000000000 4000000000000000000 4000000000000000000)",
		"(- 0 9223372036854775807 9223372036854775807)",
	} {
		err := te.evalErr(t, src)
		se, ok := err.(*serr.Error)
		if !ok || se.Kind != serr.Overflow {
			t.Fatalf("%s: expected an overflow error, got %v", src, err)
		}
	}
}

func TestFloorDivision(t *testing.T) {
	te := newTestEnv(t)
	if v := te.evalAll(t, "(/ 7 2)"); te.int(t, v) != 3 {
		t.Fatalf("expected floor(7/2) == 3, got %v", v)
	}
	if v := te.evalAll(t, "(/ -7 2)"); te.int(t, v) != -4 {
		t.Fatalf("expected floor(-7/2) == -4, got %v", v)
	}
}

func TestDivisionByZero(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(/ 1 0)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.ArityType {
		t.Fatalf("expected an arity/type error for division by zero, got %v", err)
	}
}

func TestSingleArgumentDivideIsReciprocal(t *testing.T) {
	te := newTestEnv(t)
	if v := te.evalAll(t, "(/ 2)"); te.int(t, v) != 0 {
		t.Fatalf("expected floor(1/2) == 0, got %v", v)
	}
	if v := te.evalAll(t, "(/ -2)"); te.int(t, v) != -1 {
		t.Fatalf("expected floor(1/-2) == -1, got %v", v)
	}
	err := te.evalErr(t, "(/ 0)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.ArityType {
		t.Fatalf("expected an arity/type error for (/ 0), got %v", err)
	}
}

func TestListPrimitives(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(cons 1 2)")
	if !v.IsPair() || te.int(t, te.h.Car(v)) != 1 || te.int(t, te.h.Cdr(v)) != 2 {
		t.Fatalf("expected (1 . 2), got %v", v)
	}
	v = te.evalAll(t, "(car (cons 1 2))")
	if te.int(t, v) != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
	v = te.evalAll(t, "(cadr (list 1 2 3))")
	if te.int(t, v) != 2 {
		t.Fatalf("expected 2, got %v", v)
	}
	v = te.evalAll(t, "(length (list 1 2 3 4))")
	if te.int(t, v) != 4 {
		t.Fatalf("expected 4, got %v", v)
	}
	v = te.evalAll(t, "(null? (list))")
	if v != heap.True {
		t.Fatalf("expected #T, got %v", v)
	}
	v = te.evalAll(t, "(pair? (cons 1 2))")
	if v != heap.True {
		t.Fatalf("expected #T, got %v", v)
	}
}

func TestNotAndPredicates(t *testing.T) {
	te := newTestEnv(t)
	if v := te.evalAll(t, "(not #f)"); v != heap.True {
		t.Fatalf("expected #T, got %v", v)
	}
	if v := te.evalAll(t, "(not 0)"); v != heap.False {
		t.Fatalf("only #F is falsy, expected #F for (not 0), got %v", v)
	}
	if v := te.evalAll(t, "(odd? 3)"); v != heap.True {
		t.Fatalf("expected #T, got %v", v)
	}
	if v := te.evalAll(t, "(even? -4)"); v != heap.True {
		t.Fatalf("expected #T, got %v", v)
	}
}

func TestGcstatShape(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(gcstat)")
	n := 0
	for cur := v; !cur.IsNil(); cur = te.h.Cdr(cur) {
		if !cur.IsPair() {
			t.Fatalf("gcstat result must be a proper list, got %v", v)
		}
		n++
	}
	if n != 4 {
		t.Fatalf("expected 4 statistics fields, got %d", n)
	}
}

func TestSyncheckToggleAffectsMalformedLambda(t *testing.T) {
	te := newTestEnv(t)
	te.evalAll(t, "(synchecktoggle)") // off
	v := te.evalAll(t, "(synchecktoggle)") // back on
	if v != heap.True {
		t.Fatalf("expected synchecktoggle to report re-enabled checking, got %v", v)
	}
	err := te.evalErr(t, "(lambda (x x) x)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Syntax {
		t.Fatalf("expected a syntax error for duplicate parameters with checking enabled, got %v", err)
	}
}

func TestUserErrorBuiltin(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, `(error "boom")`)
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.User {
		t.Fatalf("expected a user error, got %v", err)
	}
	if se.Msg != "boom" {
		t.Fatalf(`expected the message to be just "boom", got %q`, se.Msg)
	}
}

func TestSetCarAndSetCdrReturnThePair(t *testing.T) {
	te := newTestEnv(t)
	v := te.evalAll(t, "(define p (cons 1 2)) (set-car! p 9)")
	if !v.IsPair() || te.int(t, te.h.Car(v)) != 9 || te.int(t, te.h.Cdr(v)) != 2 {
		t.Fatalf("expected set-car! to return the mutated pair (9 . 2), got %v", v)
	}
	v = te.evalAll(t, "(set-cdr! p 7)")
	if !v.IsPair() || te.int(t, te.h.Car(v)) != 9 || te.int(t, te.h.Cdr(v)) != 7 {
		t.Fatalf("expected set-cdr! to return the mutated pair (9 . 7), got %v", v)
	}
}

func TestApplyingNonProcedure(t *testing.T) {
	te := newTestEnv(t)
	err := te.evalErr(t, "(1 2 3)")
	se, ok := err.(*serr.Error)
	if !ok || se.Kind != serr.Unapplicable {
		t.Fatalf("expected an unapplicable error, got %v", err)
	}
}
