package eval

import "github.com/wisp-lang/wisp/internal/stacks"

// The evaluator's labels (spec ยง4.5). LStart classifies the Exp
// register; LReturn is the shared "a value is ready in Val, resume
// whatever continuation is waiting" dispatch point equivalent to
// spec's per-label "return" contract; every other label is either an
// entry point reached directly from LStart or a continuation frame
// popped off the label/pointer stacks in lockstep.
const (
	LStart stacks.Label = iota
	LReturn
	LArgNext
	LCondStep
	LAndStep
	LOrStep
	LSeqStep
	LRestoreEnv
	LDefineFinish
	LSetFinish
)
