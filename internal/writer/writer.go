// Package writer implements the textual value writer of spec ยง4.4.
package writer

import (
	"fmt"
	"io"
	"strings"

	"github.com/wisp-lang/wisp/internal/heap"
)

// DefaultNodeQuota bounds how many nodes a single Write call will
// print before giving up, so a cyclic or very large structure cannot
// hang output (spec ยง4.4, SPEC_FULL ยง12 "write cycle bound").
const DefaultNodeQuota = 200

// Writer prints heap.Values in their external textual form.
type Writer struct {
	h     *heap.Heap
	quota int
}

func New(h *heap.Heap, quota int) *Writer {
	if quota <= 0 {
		quota = DefaultNodeQuota
	}
	return &Writer{h: h, quota: quota}
}

// Write returns the printed form of v. quote controls whether strings
// print with surrounding quotes (spec ยง4.4's `write` always quotes;
// a `display`-style caller would pass quote=false).
func (w *Writer) Write(v heap.Value, quote bool) string {
	var sb strings.Builder
	budget := w.quota
	w.write(&sb, v, quote, &budget)
	return sb.String()
}

// WriteTo writes directly to out, matching the teacher's fmt.Print
// idiom for the REPL's own `write`/`display` built-ins.
func (w *Writer) WriteTo(out io.Writer, v heap.Value, quote bool) {
	fmt.Fprint(out, w.Write(v, quote))
}

func (w *Writer) write(sb *strings.Builder, v heap.Value, quote bool, budget *int) {
	if *budget <= 0 {
		sb.WriteString("...")
		return
	}
	*budget--

	switch v.Kind {
	case heap.KNil:
		sb.WriteString("()")
	case heap.KBool:
		if v.BoolVal() {
			sb.WriteString("#T")
		} else {
			sb.WriteString("#F")
		}
	case heap.KChar:
		w.writeChar(sb, v.CharVal())
	case heap.KShortInt:
		fmt.Fprintf(sb, "%d", v.Int)
	case heap.KShortString, heap.KBlock:
		w.writeRef(sb, v, quote, budget)
	case heap.KShortSymbol:
		sb.WriteString(v.Str)
	case heap.KPair:
		w.writePair(sb, v, quote, budget)
	default:
		sb.WriteString("#<unknown>")
	}
}

func (w *Writer) writeRef(sb *strings.Builder, v heap.Value, quote bool, budget *int) {
	if n, ok := w.h.NumberVal(v); ok {
		fmt.Fprintf(sb, "%s", n)
		return
	}
	if s, ok := w.h.StringVal(v); ok {
		if quote {
			fmt.Fprintf(sb, "%q", s)
		} else {
			sb.WriteString(s)
		}
		return
	}
	if s, ok := w.h.SymbolVal(v); ok {
		sb.WriteString(s)
		return
	}
	sb.WriteString("#<data>")
}

func (w *Writer) writeChar(sb *strings.Builder, r rune) {
	switch r {
	case ' ':
		sb.WriteString(`#\space`)
	case '\n':
		sb.WriteString(`#\newline`)
	default:
		fmt.Fprintf(sb, `#\%c`, r)
	}
}

func (w *Writer) writePair(sb *strings.Builder, v heap.Value, quote bool, budget *int) {
	if w.h.IsEnvHeader(v) {
		w.writeEnv(sb, v, quote, budget)
		return
	}
	if w.h.IsProcHeader(v) {
		w.writeProc(sb, v, quote, budget)
		return
	}
	sb.WriteByte('(')
	cur := v
	first := true
	for {
		if *budget <= 0 {
			sb.WriteString(" ...")
			break
		}
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		w.write(sb, w.h.Car(cur), quote, budget)
		rest := w.h.Cdr(cur)
		if rest.IsNil() {
			break
		}
		if rest.IsPair() && !w.h.IsEnvHeader(rest) && !w.h.IsProcHeader(rest) {
			cur = rest
			continue
		}
		sb.WriteString(" . ")
		w.write(sb, rest, quote, budget)
		break
	}
	sb.WriteByte(')')
}

// writeEnv prints a bracketed banner followed by the topmost frame's
// bindings (spec ยง4.4 "environment headers print as a bracketed
// banner followed by their frame bindings").
func (w *Writer) writeEnv(sb *strings.Builder, v heap.Value, quote bool, budget *int) {
	sb.WriteString("[environment ")
	w.write(sb, w.h.Cdr(v), quote, budget)
	sb.WriteByte(']')
}

// writeProc prints a bracketed banner identifying compound vs
// reserved procedures (spec ยง4.4).
func (w *Writer) writeProc(sb *strings.Builder, v heap.Value, quote bool, budget *int) {
	rest := w.h.Cdr(v)
	if rest.IsNil() {
		sb.WriteString("[built-in ")
		w.write(sb, w.h.Car(v), quote, budget)
		sb.WriteByte(']')
		return
	}
	sb.WriteString("[compound-procedure]")
}
