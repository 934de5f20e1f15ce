//go:build linux && amd64

package jit

import cerrors "github.com/rom4s/sourcepawn/pkg/errors"

// errorPathTable lazily creates one errorPath per structured error code
// the compiled function can throw, creating each the first time an inline
// check needs to branch to it; each path's label is bound when the OOL
// registry emits it (spec §4.4). Two inline checks that can
// both fail with the same code share one OOL path rather than duplicating
// the throw sequence.
type errorPathTable struct {
	paths map[cerrors.Code]*errorPath
}

func newErrorPathTable() *errorPathTable {
	return &errorPathTable{paths: make(map[cerrors.Code]*errorPath)}
}

// pathFor returns the errorPath for code, creating it the first time code
// is requested by an inline check. Creation order here is request order,
// not the order the paths are finally emitted in: spec §4.4 fixes
// emission order to cerrors.ErrorCodes regardless of request order, so
// registerAll below is what actually hands these to the OOL registry.
func (t *errorPathTable) pathFor(code cerrors.Code) *errorPath {
	if p, ok := t.paths[code]; ok {
		return p
	}
	p := newErrorPath(code)
	t.paths[code] = p
	return p
}

// registerAll registers every error path this table has created so far
// with reg, walking cerrors.ErrorCodes so their native layout always
// matches the teacher's fixed emitThrowPathIfNeeded call sequence,
// independent of which inline check happened to request a code first.
func (t *errorPathTable) registerAll(reg *oolRegistry) {
	for _, code := range cerrors.ErrorCodes {
		if p, ok := t.paths[code]; ok {
			reg.Register(p)
		}
	}
}
