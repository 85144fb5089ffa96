package heap

import "github.com/nukata/goarith"

// BlockType is the type descriptor (string, integer or symbol) carried
// by a data block's header (spec ยง3, "Data block"), held in a uint8.
type BlockType uint8

const (
	BString BlockType = iota
	BInteger
	BSymbol
)

// blockCap is the maximum body size a single block may encode, mirroring
// the size field's representable range in the source's storage-box header.
const blockCap = 1 << 16

// block is a variable-size data-block record. Free blocks thread the
// free list through next; allocated blocks carry either a string body
// (for BString/BSymbol) or a goarith.Number (for BInteger, per
// SPEC_FULL ยง10's numeric-tower wiring).
type block struct {
	typ    BlockType
	mark   bool
	free   bool
	next   int32 // next free block, -1 if none
	size   int   // body size in words, rounded even, as the header field would record
	text   string
	number goarith.Number
}

func wordsFor(byteLen int) int {
	words := (byteLen + 7) / 8
	if words%2 != 0 {
		words++
	}
	if words == 0 {
		words = 2
	}
	return words
}
