// Package serr defines the error kinds shared by the heap, reader,
// writer and evaluator (spec ยง7).
package serr

import "fmt"

// Kind is one of the error kinds enumerated in spec ยง7.
type Kind uint8

const (
	Syntax Kind = iota
	Unbound
	Unapplicable
	Reserved
	ArityType
	User
	Overflow
	Resource
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Syntax:
		return "syntax"
	case Unbound:
		return "unbound"
	case Unapplicable:
		return "unapplicable"
	case Reserved:
		return "reserved"
	case ArityType:
		return "arity/type"
	case User:
		return "user"
	case Overflow:
		return "overflow"
	case Resource:
		return "resource"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a runtime error tagged with its kind and, where available,
// the offending form's printed text (spec ยง7 step 4: "prints a
// diagnostic identifying the kind and offending form").
type Error struct {
	Kind Kind
	Msg  string
	Form string
}

func (e *Error) Error() string {
	if e.Form != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Form)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

func Newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// WithForm attaches the offending form's printed text to an error.
func (e *Error) WithForm(form string) *Error {
	return &Error{Kind: e.Kind, Msg: e.Msg, Form: form}
}
