package eval

import "github.com/wisp-lang/wisp/internal/heap"

// ReservedNames enumerates every keyword and built-in identifier named
// in spec ยง3 "Reserved symbols".
var ReservedNames = []string{
	"quote", "define", "set!", "if", "cond", "else", "and", "or", "lambda", "let",
	"+", "-", "*", "/", "<", "<=", "=", ">", ">=",
	"car", "cdr",
	"caar", "cadr", "cdar", "cddr",
	"caaar", "caadr", "cadar", "caddr", "cdaar", "cdadr", "cddar", "cdddr",
	"caaaar", "caaadr", "caadar", "caaddr", "cadaar", "cadadr", "caddar", "cadddr",
	"cdaaar", "cdaadr", "cdadar", "cdaddr", "cddaar", "cddadr", "cdddar", "cddddr",
	"cons", "set-car!", "set-cdr!",
	"eq?", "null?", "pair?", "list?", "integer?", "number?", "symbol?", "string?", "odd?", "even?",
	"not", "length", "list",
	"newline", "write", "read",
	"error",
	"gcstat", "gcstatwrite", "garbagecollect", "synchecktoggle",
}

// Symbols is the fixed table of reserved-symbol identities, built once
// at boot and pinned (spec ยง3, ยง4.1). The evaluator compares special
// forms against the named fields directly; built-ins are dispatched by
// spelling in applyBuiltin.
type Symbols struct {
	byName map[string]heap.Value

	Quote, Define, SetBang, If, Cond, Else heap.Value
	And, Or, Lambda, Let                   heap.Value
}

// BuildSymbols allocates the canonical value for every reserved name
// and installs the heap's canonicalizer so that any later MakeSymbol
// call with a matching spelling returns the same identity (spec ยง4.1
// "make-symbol additionally scans the reserved-keyword list").
func BuildSymbols(h *heap.Heap) (*Symbols, error) {
	s := &Symbols{byName: make(map[string]heap.Value, len(ReservedNames))}
	for _, name := range ReservedNames {
		v, err := h.MakeSymbol(name)
		if err != nil {
			return nil, err
		}
		s.byName[name] = v
	}
	h.SetCanonicalizer(func(name string) (heap.Value, bool) {
		v, ok := s.byName[name]
		return v, ok
	})

	s.Quote = s.byName["quote"]
	s.Define = s.byName["define"]
	s.SetBang = s.byName["set!"]
	s.If = s.byName["if"]
	s.Cond = s.byName["cond"]
	s.Else = s.byName["else"]
	s.And = s.byName["and"]
	s.Or = s.byName["or"]
	s.Lambda = s.byName["lambda"]
	s.Let = s.byName["let"]
	return s, nil
}

// Lookup returns the canonical value for a reserved spelling.
func (s *Symbols) Lookup(name string) (heap.Value, bool) {
	v, ok := s.byName[name]
	return v, ok
}

// Values returns every reserved symbol's canonical value, for pinning.
func (s *Symbols) Values() []heap.Value {
	vs := make([]heap.Value, 0, len(s.byName))
	for _, v := range s.byName {
		vs = append(vs, v)
	}
	return vs
}

// IsReserved reports whether v names a reserved symbol.
func (s *Symbols) IsReserved(h *heap.Heap, v heap.Value) bool {
	name, ok := h.SymbolVal(v)
	if !ok {
		return false
	}
	_, reserved := s.byName[name]
	return reserved
}
