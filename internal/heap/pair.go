package heap

// Hint is the 2-bit marker on a pair cell's rest slot distinguishing
// ordinary pairs from environment and procedure headers (spec ยง3,
// GLOSSARY "Hint"). HintInlined names the fourth classification the
// source's storage bits exposed (the rest slot holds an inlined
// immediate); it is never stored and Hint() never returns it, since
// Value.Kind already carries that information.
type Hint uint8

const (
	HintNone Hint = iota
	HintEnvHeader
	HintProcHeader
	HintInlined
)

// pairCell is a fixed-size record: two value slots plus GC bookkeeping.
// tag and mark are reserved to the mark phase (internal/heap/gc.go);
// outside a collection they are always false, honouring the invariant
// that a mark bit is never observable through the public accessors.
type pairCell struct {
	first, rest Value
	mark        bool
	tag         bool
	hint        Hint
	free        bool
}
