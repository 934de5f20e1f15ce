package jit

import "github.com/rom4s/sourcepawn/pkg/asm"

// jumpMap is a dense array of labels sized to the whole code segment, one
// per possible cip, pre-allocated so any instruction boundary can be a branch
// target (spec §3). It is oversized relative to any one function; labels
// the decode loop never visits stay unbound with no pending patch sites,
// so they cost nothing at link time (spec §4.1 edge cases).
//
// Per spec §9's Open Question, this allocates one map per compile sized
// to the whole image rather than sharing one across compiles or sizing it
// to the function's extent post-hoc — behaviorally equivalent, simpler.
type jumpMap struct {
	labels []asm.Label
}

func newJumpMap(codeLen int) *jumpMap {
	return &jumpMap{labels: make([]asm.Label, codeLen+1)}
}

// Label returns the label for cip, panicking if cip falls outside the
// code segment this map was sized for.
func (j *jumpMap) Label(cip int) *asm.Label {
	return &j.labels[cip]
}
