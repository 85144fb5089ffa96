package eval

import (
	"github.com/wisp-lang/wisp/internal/heap"
	"github.com/wisp-lang/wisp/internal/serr"
)

// NewFrame allocates an environment header pair whose first is parent
// and whose rest (topmost frame) starts empty (spec ยง3 "Environment").
func NewFrame(h *heap.Heap, parent heap.Value) (heap.Value, error) {
	env, err := h.Cons(parent, heap.Nil)
	if err != nil {
		return heap.Value{}, err
	}
	h.SetHintEnv(env)
	return env, nil
}

// Prepend adds a binding to env's topmost frame.
func Prepend(h *heap.Heap, env, sym, val heap.Value) error {
	binding, err := h.Cons(sym, val)
	if err != nil {
		return err
	}
	frame, err := h.Cons(binding, h.Cdr(env))
	if err != nil {
		return err
	}
	h.SetCdr(env, frame)
	return nil
}

// Lookup walks the frame list of env, then its parent chain, and
// returns the binding pair holding sym (spec ยง3 "Lookup walks the
// frame list, then the parent chain").
func Lookup(h *heap.Heap, env, sym heap.Value) (heap.Value, bool) {
	for !env.IsNil() {
		frame := h.Cdr(env)
		for !frame.IsNil() {
			binding := h.Car(frame)
			if h.Eq(h.Car(binding), sym) {
				return binding, true
			}
			frame = h.Cdr(frame)
		}
		env = h.Car(env)
	}
	return heap.Value{}, false
}

// LookupTopFrame searches only the topmost frame, used by `define` to
// decide between updating and prepending (spec ยง4.5 "define").
func LookupTopFrame(h *heap.Heap, env, sym heap.Value) (heap.Value, bool) {
	frame := h.Cdr(env)
	for !frame.IsNil() {
		binding := h.Car(frame)
		if h.Eq(h.Car(binding), sym) {
			return binding, true
		}
		frame = h.Cdr(frame)
	}
	return heap.Value{}, false
}

// ExtendWithParams binds params (a proper list, an improper list, or a
// bare symbol) to the values in args, producing a new frame captured
// over closureEnv (spec ยง4.5 "micro-apply": "supporting dotted/symbol-
// only params by binding the remainder as a list").
func ExtendWithParams(h *heap.Heap, closureEnv, params, args heap.Value) (heap.Value, error) {
	env, err := NewFrame(h, closureEnv)
	if err != nil {
		return heap.Value{}, err
	}
	for {
		if params.IsNil() {
			if !args.IsNil() {
				return heap.Value{}, serr.New(serr.ArityType, "too many arguments")
			}
			return env, nil
		}
		if h.IsSymbol(params) {
			if err := Prepend(h, env, params, args); err != nil {
				return heap.Value{}, err
			}
			return env, nil
		}
		if !params.IsPair() {
			return heap.Value{}, serr.New(serr.Syntax, "malformed parameter list")
		}
		if args.IsNil() {
			return heap.Value{}, serr.New(serr.ArityType, "too few arguments")
		}
		if !args.IsPair() {
			return heap.Value{}, serr.New(serr.ArityType, "too few arguments")
		}
		if err := Prepend(h, env, h.Car(params), h.Car(args)); err != nil {
			return heap.Value{}, err
		}
		params = h.Cdr(params)
		args = h.Cdr(args)
	}
}
