//go:build linux && amd64

package jit

import (
	"github.com/rom4s/sourcepawn/pkg/asm"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
)

// OutOfLinePath is a chunk of native code emitted after the main decode
// loop body, reached only by a forward branch out of the hot path (spec
// §4.3). Keeping these out of line keeps the common case dense and
// branch-predictor friendly.
type OutOfLinePath interface {
	Label() *asm.Label
	EmitBody(c *Compiler) error
}

// errorPath is the OOL form of a single structured-error throw site: jump
// here, load the error code, branch to the shared exit.
type errorPath struct {
	label *asm.Label
	code  cerrors.Code
}

func newErrorPath(code cerrors.Code) *errorPath {
	return &errorPath{label: &asm.Label{}, code: code}
}

func (p *errorPath) Label() *asm.Label { return p.label }

func (p *errorPath) EmitBody(c *Compiler) error {
	c.buf.Bind(p.label)
	return c.emitThrowCode(p.code)
}

// outOfBoundsPath is the OOL form of an array bounds check failure; it
// differs from a plain errorPath only in that each bounds check registers
// its own path instead of sharing one per code, and the thrown code is
// always ArrayBounds.
type outOfBoundsPath struct {
	label *asm.Label
}

func newOutOfBoundsPath() *outOfBoundsPath {
	return &outOfBoundsPath{label: &asm.Label{}}
}

func (p *outOfBoundsPath) Label() *asm.Label { return p.label }

func (p *outOfBoundsPath) EmitBody(c *Compiler) error {
	c.buf.Bind(p.label)
	return c.emitThrowCode(cerrors.ArrayBounds)
}

// oolRegistry collects out-of-line paths during the decode loop and emits
// them, in registration order, once the loop finishes. Registration is
// closed once EmitAll starts: spec §4.3 forbids an OOL path's own body
// from registering another path, since that would defeat the "single
// trailing pass" emission model. EmitAll sets frozen, so Register panics
// if called during emission, and iterates a snapshot of the slice.
type oolRegistry struct {
	paths  []OutOfLinePath
	frozen bool
}

func (r *oolRegistry) Register(p OutOfLinePath) {
	if r.frozen {
		panic("jit: cannot register an out-of-line path during OOL emission")
	}
	r.paths = append(r.paths, p)
}

func (r *oolRegistry) EmitAll(c *Compiler) error {
	r.frozen = true
	snapshot := r.paths
	for _, p := range snapshot {
		if err := p.EmitBody(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *oolRegistry) Len() int { return len(r.paths) }
