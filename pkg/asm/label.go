package asm

// Label is a tagged value: unbound, it holds the list of pending patch
// sites that reference it; bound, it holds the buffer offset it resolved
// to. Binding resolves every pending site and is one-way — a bound label
// cannot be rebound. Every valid p-code instruction boundary gets exactly
// one Label (see the jump map in package jit).
type Label struct {
	bound  bool
	offset int
	sites  []patchSite
}

type patchSite struct {
	// dispOffset is where the 4-byte relative displacement lives in the
	// buffer. instrEnd is the buffer offset immediately after the
	// instruction containing it, which is what x86-64 rel32 branches are
	// relative to.
	dispOffset int
	instrEnd   int
}

// Bound reports whether the label has been resolved to a buffer offset.
func (l *Label) Bound() bool { return l.bound }

// Offset returns the resolved buffer offset. Calling this on an unbound
// label is a programming error in the compiler.
func (l *Label) Offset() int {
	if !l.bound {
		panic("asm: Offset() on unbound label")
	}
	return l.offset
}

// Used reports whether the label is bound or has pending references. A
// label that was bound but never referenced also reports true. The
// error-path table in package jit does not call it; it tracks used error
// codes by map membership instead.
func (l *Label) Used() bool {
	return l.bound || len(l.sites) > 0
}

// Bind resolves the label to the buffer's current write position and
// patches every pending site. It is a programming error to bind a label
// twice.
func (b *Buffer) Bind(l *Label) {
	if l.bound {
		panic("asm: label already bound")
	}
	l.bound = true
	l.offset = b.PC()
	for _, s := range l.sites {
		b.patch32(s.dispOffset, int32(l.offset-s.instrEnd))
	}
	l.sites = nil
}

// JmpLabel emits a near unconditional jump to l. If l is already bound
// the displacement is written immediately; otherwise a pending patch site
// is recorded and resolved when Bind(l) runs.
func (b *Buffer) JmpLabel(l *Label) {
	dispOffset := b.PC() + 1
	b.JmpRel32(0)
	b.resolveOrDefer(l, dispOffset, b.PC())
}

// JccLabel emits a near conditional jump to l, deferred the same way as
// JmpLabel.
func (b *Buffer) JccLabel(cond Condition, l *Label) {
	dispOffset := b.PC() + 2
	b.JccNear(cond, 0)
	b.resolveOrDefer(l, dispOffset, b.PC())
}

// CallLabel emits a near call to l, deferred the same way as JmpLabel.
func (b *Buffer) CallLabel(l *Label) {
	dispOffset := b.PC() + 1
	b.CallRel32(0)
	b.resolveOrDefer(l, dispOffset, b.PC())
}

func (b *Buffer) resolveOrDefer(l *Label, dispOffset, instrEnd int) {
	if l.bound {
		b.patch32(dispOffset, int32(l.offset-instrEnd))
		return
	}
	l.sites = append(l.sites, patchSite{dispOffset: dispOffset, instrEnd: instrEnd})
}
