// Package interp wires the heap, stacks, reader, writer and evaluator
// together into one Interpreter value and implements the top-level
// read-eval-print loop and its error-recovery policy (spec ยง6, ยง7).
package interp

import (
	"fmt"
	"io"

	"github.com/wisp-lang/wisp/internal/eval"
	"github.com/wisp-lang/wisp/internal/heap"
	"github.com/wisp-lang/wisp/internal/reader"
	"github.com/wisp-lang/wisp/internal/serr"
	"github.com/wisp-lang/wisp/internal/stacks"
	"github.com/wisp-lang/wisp/internal/writer"
)

// Sizing mirrors the default arena/stack capacities of spec ยง4.1-4.2;
// Boot always uses these sizes.
const (
	DefaultPointerStackCapacity = 1 << 12
	DefaultLabelStackCapacity   = 1 << 12
	DefaultPinnedRootsCapacity  = 128
	DefaultWriteNodeQuota       = writer.DefaultNodeQuota
)

// Interpreter bundles every piece of interpreter state behind one
// value, eliminating the true globals scm.go relies on (spec ยง9
// "Design notes").
type Interpreter struct {
	Heap  *heap.Heap
	Stack *stacks.Stacks
	Regs  *stacks.Registers
	Sym   *eval.Symbols
	Eval  *eval.Evaluator

	globalEnv heap.Value
	bangbang  heap.Value

	Out io.Writer
	Err io.Writer
}

// Boot allocates a heap and stacks of the default sizes, builds the
// reserved-symbol table and the global environment, and pins every
// root the collector must never lose (spec ยง4.1 "Pinned-roots
// region"). It is the only place resource exhaustion during
// initialization is treated as fatal (spec ยง7 "resource exhaustion
// during initialization... is fatal").
func Boot(out, errOut io.Writer) (*Interpreter, error) {
	h := heap.New(heap.DefaultPairCapacity, heap.DefaultBlockCapacity)
	regs := &stacks.Registers{}
	st := stacks.New(DefaultPointerStackCapacity, DefaultLabelStackCapacity, DefaultPinnedRootsCapacity, regs)
	h.SetRoots(st)

	sym, err := eval.BuildSymbols(h)
	if err != nil {
		return nil, serr.New(serr.Fatal, "boot: could not build reserved-symbol table: "+err.Error())
	}
	for _, v := range sym.Values() {
		if err := st.PinRoot(v); err != nil {
			return nil, serr.New(serr.Fatal, "boot: pinned-roots region too small for reserved symbols")
		}
	}

	globalEnv, err := eval.NewFrame(h, heap.Nil)
	if err != nil {
		return nil, serr.New(serr.Fatal, "boot: could not allocate the global environment")
	}
	if err := st.PinRoot(globalEnv); err != nil {
		return nil, serr.New(serr.Fatal, "boot: pinned-roots region too small for the global environment")
	}

	bangbang, err := h.MakeSymbol("!!")
	if err != nil {
		return nil, serr.New(serr.Fatal, "boot: could not allocate the !! result symbol")
	}
	if err := st.PinRoot(bangbang); err != nil {
		return nil, serr.New(serr.Fatal, "boot: pinned-roots region too small for !!")
	}
	if err := eval.Prepend(h, globalEnv, bangbang, heap.Nil); err != nil {
		return nil, serr.New(serr.Fatal, "boot: could not seed the !! binding")
	}

	w := writer.New(h, DefaultWriteNodeQuota)
	ev := eval.New(h, st, regs, sym, w, out)

	return &Interpreter{
		Heap: h, Stack: st, Regs: regs, Sym: sym, Eval: ev,
		globalEnv: globalEnv, bangbang: bangbang,
		Out: out, Err: errOut,
	}, nil
}

// RunStream reads and evaluates every top-level form from r in turn,
// printing each result and rebinding `!!` to it (spec ยง6 "each
// top-level result rebinds !!"), until the stream is exhausted. Every
// source, file or stdin, is read-eval-printed to completion the same
// way (spec ยง6). Parser errors and evaluation errors both trigger the
// recovery policy of spec ยง7 but never abort the stream: reading
// resumes at the next top-level form.
func (in *Interpreter) RunStream(r io.Reader) {
	rd := reader.New(r, in.Heap, in.Sym.Quote)
	in.Eval.CurReader = rd

	for {
		v, status, rerr := in.safeReadOne(rd)
		if rerr != nil {
			in.reportError(rerr)
			continue
		}
		if status == reader.Term {
			return
		}
		result, everr := in.safeEval(v)
		if everr != nil {
			if se, ok := everr.(*serr.Error); ok {
				everr = se.WithForm(in.Eval.W.Write(v, true))
			}
			in.reportError(everr)
			continue
		}
		in.rebindBangBang(result)
		in.Eval.W.WriteTo(in.Out, result, true)
		fmt.Fprintln(in.Out)
	}
}

// safeReadOne isolates a *serr.Error raised mid-parse (e.g. an
// overflow while allocating a literal) from the caller, so a single
// malformed form cannot take down the whole stream.
func (in *Interpreter) safeReadOne(rd *reader.Reader) (v heap.Value, status reader.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = toSchemeError(r)
		}
	}()
	v, status, err = rd.ReadOne()
	return
}

// safeEval runs one top-level evaluation. Eval itself reports every
// failure (unbound variable, division by zero, resource exhaustion,
// ...) through an ordinary *serr.Error return; the recover here is
// only a backstop against a genuinely unexpected panic, mirroring the
// single recover the teacher wraps around its own read-eval loop.
func (in *Interpreter) safeEval(v heap.Value) (result heap.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = toSchemeError(r)
		}
	}()
	result, err = in.Eval.Eval(v, in.globalEnv)
	return
}

// rebindBangBang updates !!'s existing top-frame binding in place
// (spec ยง6). The binding is seeded once at boot so this never needs to
// prepend a fresh one, which would otherwise grow the global frame by
// one cons cell per top-level form forever.
func (in *Interpreter) rebindBangBang(result heap.Value) {
	if binding, ok := eval.LookupTopFrame(in.Heap, in.globalEnv, in.bangbang); ok {
		in.Heap.SetCdr(binding, result)
	}
}

func toSchemeError(r interface{}) error {
	if e, ok := r.(*serr.Error); ok {
		return e
	}
	if e, ok := r.(error); ok {
		return serr.New(serr.Fatal, e.Error())
	}
	return serr.Newf(serr.Fatal, "%v", r)
}

// reportError implements spec ยง7's recovery sequence: reset both
// stacks, reinitialize the registers, run a full collection so
// anything only reachable through the abandoned computation is
// reclaimed, then print a diagnostic naming the kind and offending
// form.
func (in *Interpreter) reportError(err error) {
	in.Stack.Reset()
	in.Regs.Reset()
	in.Heap.Collect()

	se, ok := err.(*serr.Error)
	if !ok {
		fmt.Fprintf(in.Err, "fatal: %v\n", err)
		return
	}
	fmt.Fprintf(in.Err, "*** %s: %s", se.Kind, se.Msg)
	if se.Form != "" {
		fmt.Fprintf(in.Err, ": %s", se.Form)
	}
	fmt.Fprintln(in.Err)
}
