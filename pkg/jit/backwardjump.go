package jit

// backwardJumpRecord is the intermediate form recorded whenever the
// decode loop emits a branch whose target cip precedes the current cip.
// pc is the native offset of the branch's patchable displacement field —
// the same offset the watchdog later overwrites to redirect the loop into
// its timeout thunk. timeoutOffset is filled in once the thunk itself is
// emitted, in Compiler.emitBackwardJumpThunks.
type backwardJumpRecord struct {
	pc            int
	cip           int
	timeoutOffset int
}

// LoopEdge is the pair (native pc of a backward branch, signed 32-bit
// displacement to its preemption thunk) the watchdog consumes to steal a
// loop for a timeout (spec §3, §4.5).
type LoopEdge struct {
	Offset int
	Disp32 int32
}

// buildLoopEdges finalizes the backward-jump records into the LoopEdge
// array a CompiledFunction carries. Spec §8 invariant 3: len(edges) ==
// len(records), and each Disp32 is exactly the difference of the two
// recorded offsets.
func buildLoopEdges(records []*backwardJumpRecord) []LoopEdge {
	edges := make([]LoopEdge, len(records))
	for i, r := range records {
		edges[i] = LoopEdge{
			Offset: r.pc,
			Disp32: int32(r.timeoutOffset - r.pc),
		}
	}
	return edges
}
