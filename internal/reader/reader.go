package reader

import (
	"io"
	"strconv"
	"strings"

	"github.com/wisp-lang/wisp/internal/heap"
	"github.com/wisp-lang/wisp/internal/serr"
)

// Status is the outcome of Reader.ReadOne (spec ยง4.3).
type Status int

const (
	OK Status = iota
	Stop
	Term
	SyntaxError
	back // internal only, never surfaced to callers
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Stop:
		return "stop"
	case Term:
		return "term"
	case SyntaxError:
		return "error"
	default:
		return "back"
	}
}

const (
	maxSymbolLen = 128
	maxStringLen = 512
)

// Reader consumes a byte stream through a ring buffer and produces
// heap.Values via the given heap. One Reader exists per active input
// stream (spec ยง5, "The ring buffer is owned by the active reader.").
type Reader struct {
	rb *ringBuffer
	h  *heap.Heap

	quoteSym heap.Value
}

// New wraps r for reading. quoteSym is the canonical `quote` symbol
// used to expand 'x into (quote x).
func New(r io.Reader, h *heap.Heap, quoteSym heap.Value) *Reader {
	return &Reader{rb: newRingBuffer(r), h: h, quoteSym: quoteSym}
}

// ReadOne parses one datum (spec ยง4.3 `read-one(stream) -> (value, status)`).
func (rd *Reader) ReadOne() (heap.Value, Status, error) {
	if err := rd.skipAtmosphere(); err != nil {
		return heap.Nil, SyntaxError, rd.resyncAfterError(err)
	}
	if rd.atEOF() {
		return heap.Nil, Term, nil
	}
	v, st, err := rd.parseDatum()
	if st == SyntaxError {
		return heap.Nil, SyntaxError, rd.resyncAfterError(err)
	}
	if st == Term {
		return heap.Nil, Term, nil
	}
	// A value parsed; decide ok vs stop by checking for further input.
	if peekErr := rd.skipAtmosphere(); peekErr != nil {
		// Trailing garbage is reported on the *next* read, not this one.
		return v, OK, nil
	}
	if rd.atEOF() {
		return v, Stop, nil
	}
	return v, OK, nil
}

func (rd *Reader) atEOF() bool {
	b, st := rd.rb.NextByte()
	if st == byteTerm {
		return true
	}
	rd.unread(b)
	return false
}

// unread pushes a byte back using a one-shot local backtrack, since
// the ring buffer only exposes StartReadAhead/RewindToBackmark.
func (rd *Reader) unread(b byte) {
	// The byte was already consumed from rb; re-buffer it by walking
	// the read pointer back one slot. Safe with or without an active
	// mark: NextByte only fetches once read has caught up with write,
	// so the slot at read-1 has not been overwritten yet.
	rd.rb.read--
}

func (rd *Reader) peekByte() (byte, byteStatus) {
	b, st := rd.rb.NextByte()
	if st == byteOK {
		rd.unread(b)
	}
	return b, st
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\f' || b == '\v'
}

// skipAtmosphere consumes whitespace and ;-comments. It must never run
// during an active read-ahead (spec ยง4.3).
func (rd *Reader) skipAtmosphere() error {
	for {
		b, st := rd.peekByte()
		if st == byteTerm {
			return nil
		}
		if st == byteOverflow {
			return serr.New(serr.Overflow, "ring buffer overflow while skipping whitespace")
		}
		if isWhitespace(b) {
			rd.rb.NextByte()
			continue
		}
		if b == ';' {
			for {
				c, st := rd.rb.NextByte()
				if st == byteTerm || c == '\n' {
					break
				}
			}
			continue
		}
		return nil
	}
}

// resyncAfterError flushes input to the next blank line (two
// consecutive newlines), per spec ยง4.3.
func (rd *Reader) resyncAfterError(err error) error {
	newlines := 0
	for newlines < 2 {
		b, st := rd.rb.NextByte()
		if st == byteTerm {
			break
		}
		if b == '\n' {
			newlines++
		} else if !isWhitespace(b) {
			newlines = 0
		}
	}
	return err
}

// parseDatum dispatches in the fixed order named in spec ยง4.3: list,
// boolean, character, quoted, string, integer, symbol.
func (rd *Reader) parseDatum() (heap.Value, Status, error) {
	b, st := rd.peekByte()
	if st == byteTerm {
		return heap.Nil, Term, nil
	}
	if st == byteOverflow {
		return heap.Nil, SyntaxError, serr.New(serr.Overflow, "ring buffer overflow")
	}

	if b == '(' {
		return rd.parseList()
	}
	if b == '#' {
		if v, st, err := rd.tryParseBoolean(); st != back {
			return v, st, err
		}
		if v, st, err := rd.tryParseChar(); st != back {
			return v, st, err
		}
		if v, st, err := rd.tryParseHashInteger(); st != back {
			return v, st, err
		}
		return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unrecognized # syntax")
	}
	if b == '\'' {
		return rd.parseQuoted()
	}
	if b == '"' {
		return rd.parseStringLit()
	}
	if isDigit(b) || b == '+' || b == '-' {
		if v, st, err := rd.tryParseInteger(); st != back {
			return v, st, err
		}
	}
	return rd.parseSymbol()
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isSpecialSymbolChar(b byte) bool {
	switch b {
	case '+', '-', '*', '/', '<', '=', '>', '!', '?', ':', '_', '&', '%', '^', '~':
		return true
	}
	return false
}

func isSymbolStart(b byte) bool {
	return isAlpha(b) || isDigit(b) || isSpecialSymbolChar(b)
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isSymbolCont(b byte) bool {
	return isSymbolStart(b) || b == '.'
}

func isDelimiter(b byte) bool {
	return isWhitespace(b) || b == '(' || b == ')' || b == '"' || b == ';' || b == '\''
}

// ---------------------------------------------------------------- list

func (rd *Reader) parseList() (heap.Value, Status, error) {
	rd.rb.NextByte() // consume '('
	var head, tail heap.Value = heap.Nil, heap.Nil
	for {
		if err := rd.skipAtmosphere(); err != nil {
			return heap.Nil, SyntaxError, err
		}
		b, st := rd.peekByte()
		if st == byteTerm {
			return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unterminated list")
		}
		if b == ')' {
			rd.rb.NextByte()
			return head, OK, nil
		}
		if b == '.' {
			if v, st, err := rd.tryConsumeDottedTail(); st != back {
				if st != OK {
					return v, st, err
				}
				if head.IsNil() {
					return heap.Nil, SyntaxError, serr.New(serr.Syntax, "dotted pair with no head")
				}
				rd.h.SetCdr(tail, v)
				if err := rd.skipAtmosphere(); err != nil {
					return heap.Nil, SyntaxError, err
				}
				cb, cst := rd.peekByte()
				if cst == byteTerm || cb != ')' {
					return heap.Nil, SyntaxError, serr.New(serr.Syntax, ") expected after dotted tail")
				}
				rd.rb.NextByte()
				return head, OK, nil
			}
		}
		elem, dst, err := rd.parseDatum()
		if dst == SyntaxError {
			return heap.Nil, SyntaxError, err
		}
		if dst == Term {
			return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unterminated list")
		}
		cell, err := rd.h.Cons(elem, heap.Nil)
		if err != nil {
			return heap.Nil, SyntaxError, err
		}
		if head.IsNil() {
			head = cell
		} else {
			rd.h.SetCdr(tail, cell)
		}
		tail = cell
	}
}

// tryConsumeDottedTail backtracks unless '.' is followed by a
// delimiter-terminated datum (distinguishing the dotted-pair marker
// from a symbol that merely starts with '.', which the grammar
// disallows anyway: "a single '.' is not a symbol").
func (rd *Reader) tryConsumeDottedTail() (heap.Value, Status, error) {
	if err := rd.rb.StartReadAhead(); err != nil {
		return heap.Nil, SyntaxError, err
	}
	rd.rb.NextByte() // consume '.'
	b, st := rd.peekByte()
	if st == byteTerm || !isWhitespace(b) {
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
	rd.rb.ConfirmAccept()
	if err := rd.skipAtmosphere(); err != nil {
		return heap.Nil, SyntaxError, err
	}
	v, st2, err := rd.parseDatum()
	if st2 == Term {
		return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unterminated list")
	}
	if st2 == SyntaxError {
		return heap.Nil, SyntaxError, err
	}
	return v, OK, nil
}

// ---------------------------------------------------------------- boolean

func (rd *Reader) tryParseBoolean() (heap.Value, Status, error) {
	if err := rd.rb.StartReadAhead(); err != nil {
		return heap.Nil, SyntaxError, err
	}
	rd.rb.NextByte() // '#'
	b, st := rd.rb.NextByte()
	if st != byteOK {
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
	var val bool
	switch b {
	case 't', 'T':
		val = true
	case 'f', 'F':
		val = false
	default:
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
	if nb, nst := rd.peekByte(); nst == byteOK && !isDelimiter(nb) {
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
	rd.rb.ConfirmAccept()
	return heap.MakeBool(val), OK, nil
}

// ---------------------------------------------------------------- char

var namedChars = map[string]rune{
	"space":   ' ',
	"newline": '\n',
}

func (rd *Reader) tryParseChar() (heap.Value, Status, error) {
	if err := rd.rb.StartReadAhead(); err != nil {
		return heap.Nil, SyntaxError, err
	}
	rd.rb.NextByte() // '#'
	b, st := rd.rb.NextByte()
	if st != byteOK || b != '\\' {
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
	var name strings.Builder
	for {
		c, st := rd.peekByte()
		if st != byteOK || isDelimiter(c) {
			break
		}
		rd.rb.NextByte()
		name.WriteByte(c)
	}
	s := name.String()
	if s == "" {
		// #\<delimiter-or-anychar> reads exactly that one character.
		c, st := rd.rb.NextByte()
		if st != byteOK {
			rd.rb.RewindToBackmark()
			return heap.Nil, back, nil
		}
		rd.rb.ConfirmAccept()
		return heap.MakeChar(rune(c)), OK, nil
	}
	if r, ok := namedChars[s]; ok {
		rd.rb.ConfirmAccept()
		return heap.MakeChar(r), OK, nil
	}
	if len(s) == 1 {
		rd.rb.ConfirmAccept()
		return heap.MakeChar(rune(s[0])), OK, nil
	}
	rd.rb.RewindToBackmark()
	return heap.Nil, back, nil
}

// ---------------------------------------------------------------- quoted

func (rd *Reader) parseQuoted() (heap.Value, Status, error) {
	rd.rb.NextByte() // '\''
	v, st, err := rd.parseDatum()
	if st == SyntaxError {
		return heap.Nil, SyntaxError, err
	}
	if st == Term {
		return heap.Nil, SyntaxError, serr.New(serr.Syntax, "quote with no datum")
	}
	inner, err := rd.h.Cons(v, heap.Nil)
	if err != nil {
		return heap.Nil, SyntaxError, err
	}
	quoted, err := rd.h.Cons(rd.quoteSym, inner)
	if err != nil {
		return heap.Nil, SyntaxError, err
	}
	return quoted, OK, nil
}

// ---------------------------------------------------------------- string

func (rd *Reader) parseStringLit() (heap.Value, Status, error) {
	rd.rb.NextByte() // opening quote
	var sb strings.Builder
	for {
		b, st := rd.rb.NextByte()
		if st != byteOK {
			return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unterminated string")
		}
		if b == '"' {
			break
		}
		if b == '\\' {
			e, st := rd.rb.NextByte()
			if st != byteOK {
				return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unterminated string escape")
			}
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			default:
				return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unknown string escape")
			}
			continue
		}
		if sb.Len() >= maxStringLen {
			return heap.Nil, SyntaxError, serr.New(serr.Overflow, "string too long")
		}
		sb.WriteByte(b)
	}
	v, err := rd.h.MakeString(sb.String())
	if err != nil {
		return heap.Nil, SyntaxError, err
	}
	return v, OK, nil
}

// ---------------------------------------------------------------- integer

func (rd *Reader) tryParseHashInteger() (heap.Value, Status, error) {
	if err := rd.rb.StartReadAhead(); err != nil {
		return heap.Nil, SyntaxError, err
	}
	rd.rb.NextByte() // '#'
	b, st := rd.rb.NextByte()
	if st != byteOK {
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
	switch b {
	case 'd', 'D':
		return rd.finishInteger(10, false)
	case 'x', 'X':
		return rd.finishInteger(16, false)
	default:
		rd.rb.RewindToBackmark()
		return heap.Nil, back, nil
	}
}

func (rd *Reader) tryParseInteger() (heap.Value, Status, error) {
	if err := rd.rb.StartReadAhead(); err != nil {
		return heap.Nil, SyntaxError, err
	}
	return rd.finishInteger(10, true)
}

// finishInteger consumes an optional sign and a run of digits already
// positioned at the sign/first digit (fresh backmark already started
// by the caller). allowBacktrack lets the plain (non-#d/#x) path fall
// back to symbol parsing when what follows a lone sign is not a digit.
func (rd *Reader) finishInteger(base int, allowBacktrack bool) (heap.Value, Status, error) {
	neg := false
	if b, st := rd.peekByte(); st == byteOK && (b == '+' || b == '-') {
		neg = b == '-'
		rd.rb.NextByte()
	}
	var digits strings.Builder
	for {
		b, st := rd.peekByte()
		if st != byteOK {
			break
		}
		if base == 16 && isHexDigit(b) {
			digits.WriteByte(b)
			rd.rb.NextByte()
			continue
		}
		if base == 10 && isDigit(b) {
			digits.WriteByte(b)
			rd.rb.NextByte()
			continue
		}
		break
	}
	if digits.Len() == 0 {
		rd.rb.RewindToBackmark()
		if allowBacktrack {
			return heap.Nil, back, nil
		}
		return heap.Nil, SyntaxError, serr.New(serr.Syntax, "malformed integer literal")
	}
	// Decline float shapes rather than misparse them as integers
	// (spec ยง1: "the reader may decline"). A '.' right after the
	// digits is declined as a float; any other non-delimiter (an
	// exponent marker included, as in 1e5) backtracks so the plain path
	// reads the token as a symbol.
	if b, st := rd.peekByte(); st == byteOK && base == 10 {
		if b == '.' {
			rd.rb.RewindToBackmark()
			return heap.Nil, SyntaxError, serr.New(serr.Syntax, "floating point literals are not supported")
		}
		if !isDelimiter(b) {
			rd.rb.RewindToBackmark()
			if allowBacktrack {
				return heap.Nil, back, nil
			}
			return heap.Nil, SyntaxError, serr.New(serr.Syntax, "malformed integer literal")
		}
	}
	rd.rb.ConfirmAccept()
	text := digits.String()
	n, err := strconv.ParseInt(text, base, 64)
	if err != nil {
		return rd.parseBigInteger(text, base, neg)
	}
	if neg {
		n = -n
	}
	v, verr := rd.h.MakeInt(n)
	if verr != nil {
		return heap.Nil, SyntaxError, verr
	}
	return v, OK, nil
}

func isHexDigit(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func (rd *Reader) parseBigInteger(text string, base int, neg bool) (heap.Value, Status, error) {
	// Overflows a machine int64: spec ยง4.3 "Numeric limits" requires
	// this to be caught before it silently wraps.
	if len(text) > 30 {
		return heap.Nil, SyntaxError, serr.New(serr.Overflow, "integer too large")
	}
	return heap.Nil, SyntaxError, serr.New(serr.Overflow, "integer too large")
}

// ---------------------------------------------------------------- symbol

func (rd *Reader) parseSymbol() (heap.Value, Status, error) {
	var sb strings.Builder
	b, st := rd.peekByte()
	if st != byteOK || !isSymbolStart(b) {
		return heap.Nil, SyntaxError, serr.New(serr.Syntax, "unexpected character")
	}
	for {
		b, st := rd.peekByte()
		if st != byteOK || isDelimiter(b) || !isSymbolCont(b) {
			break
		}
		if sb.Len() >= maxSymbolLen {
			return heap.Nil, SyntaxError, serr.New(serr.Overflow, "symbol too long")
		}
		sb.WriteByte(b)
		rd.rb.NextByte()
	}
	name := sb.String()
	if name == "." {
		return heap.Nil, SyntaxError, serr.New(serr.Syntax, "'.' is not a symbol")
	}
	v, err := rd.h.MakeSymbol(name)
	if err != nil {
		return heap.Nil, SyntaxError, err
	}
	return v, OK, nil
}
