//go:build linux && amd64

package jit

import (
	"github.com/rom4s/sourcepawn/pkg/execmem"
)

// CallSite marks a patchable call instruction's imm64 operand within a
// linked chunk, at the byte offset of the immediate itself (not the
// instruction start). Compile does not record CallSites, so
// CompiledFunction.CallSites is empty, and the thunk patcher takes its
// patch site as an address rather than reading this type.
type CallSite struct {
	PcodeTarget  int
	ImmOperandAt int
}

// CompiledFunction is everything the runtime needs to call into, and
// later re-patch, a single JIT'd function (spec §7).
type CompiledFunction struct {
	Chunk       execmem.CodeChunk
	PcodeOffset int
	LoopEdges   []LoopEdge
	CipMap      []CipMapEntry
	CallSites   []CallSite
}

// EntryAddress implements plugin.CompiledFunction.
func (f *CompiledFunction) EntryAddress() uintptr {
	return f.Chunk.Address
}
