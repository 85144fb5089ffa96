// Package reader implements the recursive-descent backtracking parser
// for the external textual syntax (spec ยง4.3), driven by a bounded
// ring-buffer with backtrack/commit marks.
package reader

import (
	"bufio"
	"io"

	"github.com/wisp-lang/wisp/internal/serr"
)

// RingSize is the ring buffer's fixed capacity in bytes (spec ยง4.3:
// "a ring buffer of fixed capacity (e.g. 64 bytes)").
const RingSize = 64

// byteStatus is the outcome of pulling one byte from the ring buffer.
type byteStatus int

const (
	byteOK byteStatus = iota
	byteTerm
	byteOverflow
)

// ringBuffer is a fixed-size circular byte buffer with a single
// backtrack mark. Bytes between the mark and the current write
// position are retained so a probing parser can rewind; a write that
// would overtake an active mark reports overflow instead of
// corrupting unread data (spec ยง4.3 "Backtracking protocol").
type ringBuffer struct {
	src    *bufio.Reader
	buf    [RingSize]byte
	read   int64
	write  int64
	mark   int64 // -1 when unset
	eof    bool
}

func newRingBuffer(r io.Reader) *ringBuffer {
	return &ringBuffer{src: bufio.NewReader(r), mark: -1}
}

// NextByte returns the next byte in stream order, fetching from the
// underlying source only when the buffered window is exhausted.
func (rb *ringBuffer) NextByte() (byte, byteStatus) {
	if rb.read == rb.write {
		if rb.eof {
			return 0, byteTerm
		}
		if rb.mark >= 0 && rb.write-rb.mark >= RingSize {
			return 0, byteOverflow
		}
		b, err := rb.src.ReadByte()
		if err != nil {
			rb.eof = true
			return 0, byteTerm
		}
		rb.buf[rb.write%RingSize] = b
		rb.write++
	}
	b := rb.buf[rb.read%RingSize]
	rb.read++
	return b, byteOK
}

// StartReadAhead records a backmark at the current read position.
// Only one backmark may be active at a time; a parser that nests them
// is a bug in the reader, not a runtime condition (spec ยง4.3, SPEC_FULL
// ยง12 "Backmark discipline").
func (rb *ringBuffer) StartReadAhead() error {
	if rb.mark >= 0 {
		return serr.New(serr.Fatal, "nested read-ahead")
	}
	rb.mark = rb.read
	return nil
}

// ConfirmAccept commits a probe: the backmark is dropped and the read
// position stays where the probe left it.
func (rb *ringBuffer) ConfirmAccept() {
	rb.mark = -1
}

// RewindToBackmark restores the read position to the backmark and
// clears it.
func (rb *ringBuffer) RewindToBackmark() {
	if rb.mark >= 0 {
		rb.read = rb.mark
	}
	rb.mark = -1
}

func (rb *ringBuffer) backmarkSet() bool { return rb.mark >= 0 }
