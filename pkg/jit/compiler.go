//go:build linux && amd64

package jit

import (
	"github.com/rom4s/sourcepawn/pkg/asm"
	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
	"github.com/rom4s/sourcepawn/pkg/execmem"
	"github.com/rom4s/sourcepawn/pkg/metrics"
	"github.com/rom4s/sourcepawn/pkg/pcode"
	"github.com/rom4s/sourcepawn/pkg/plugin"
)

// Register allocation for the p-code virtual machine's two accumulators,
// its data stack and frame pointers, and the heap base. All five are
// callee-saved so they survive the C-call ABI boundary a host native call
// crosses.
//
//	PRI (primary accumulator) -> RBX
//	ALT (secondary accumulator) -> R12
//	STK (data stack pointer)    -> R13
//	FRM (frame pointer)         -> R14
//	HeapBase                    -> R15
//
// Reserved registers:
//
//	RDI = Context pointer (first argument, preserved across the call);
//	      clobbered as the error-code argument register at the
//	      report_error tail, which never returns to the caller
//	RSI = not used by the emitted code
//	RAX, RCX, RDX, R8-R11 = scratch registers (indexed-address
//	      computation goes through RAX)
const (
	PRI      = asm.RBX
	ALT      = asm.R12
	STK      = asm.R13
	FRM      = asm.R14
	HeapBase = asm.R15

	CtxReg = asm.RDI

	Scratch1 = asm.RAX
	Scratch2 = asm.RCX
	Scratch3 = asm.RDX
)

// compileState is the per-compile state machine from spec §4.8. Only
// forward transitions are legal; stateError is set when a compile fails.
// The error itself is held in Compiler.err (or returned directly) and is
// checked after the decode loop rather than threaded through every
// intermediate call.
type compileState int

const (
	stateInit compileState = iota
	stateDecoding
	stateOOL
	stateTail
	stateLinking
	stateDone
	stateError
)

// Compiler drives one function's translation from p-code to native code.
// Each Compile call resets every per-compile field before it starts, so
// no state carries over from one compile to the next (spec §5: jump map, cip
// map, backward-jump list and OOL registry are owned solely by the
// active compile).
type Compiler struct {
	pool    *execmem.Pool
	metrics *metrics.Registry
	env     *env.Environment

	buf           *asm.Buffer
	jumps         *jumpMap
	ool           oolRegistry
	errTbl        *errorPathTable
	cipmap        cipMapBuilder
	loops         []*backwardJumpRecord
	reportErr     *asm.Label
	reportTimeout *asm.Label

	state compileState
	err   error
}

// NewCompiler creates a driver that links finished buffers through pool
// and records counters on reg. reg may be nil. environment supplies the
// watchdog, the debug spew sink, and the report-error/timeout trampoline
// addresses the compiled function's error paths call into; a nil
// environment falls back to env.New()'s defaults (spew disabled,
// unreachable trampoline addresses).
func NewCompiler(pool *execmem.Pool, reg *metrics.Registry, environment *env.Environment) *Compiler {
	if environment == nil {
		environment = env.New()
	}
	return &Compiler{pool: pool, metrics: reg, env: environment}
}

// Compile runs the full pipeline of spec §4.1 against the function
// starting at pcodeOffset within runtime's code image, producing a
// CompiledFunction on success.
func (c *Compiler) Compile(rt *plugin.Runtime, pcodeOffset int) (*CompiledFunction, error) {
	c.buf = asm.NewBuffer()
	c.jumps = newJumpMap(len(rt.Code))
	c.ool = oolRegistry{}
	c.errTbl = newErrorPathTable()
	c.cipmap = cipMapBuilder{}
	c.loops = nil
	c.reportErr = &asm.Label{}
	c.reportTimeout = &asm.Label{}
	c.state = stateInit
	c.err = nil

	c.emitPrologue()

	c.state = stateDecoding
	if err := c.runDecodeLoop(rt, pcodeOffset); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}

	c.state = stateOOL
	c.errTbl.registerAll(&c.ool)
	if err := c.ool.EmitAll(c); err != nil {
		return nil, err
	}

	c.state = stateTail
	c.emitBackwardJumpThunks()
	c.emitReportErrorTail()
	c.emitReportTimeoutTail()

	c.state = stateLinking
	chunk, err := c.pool.LinkCode(c.buf.Bytes())
	if err != nil {
		c.state = stateError
		return nil, cerrors.Wrap(cerrors.OutOfMemory, err, "link compiled function")
	}
	if c.metrics != nil {
		c.metrics.AddCodeBytes(len(c.buf.Bytes()))
		c.metrics.AddOOLPaths(c.ool.Len())
	}

	fn := &CompiledFunction{
		Chunk:       chunk,
		PcodeOffset: pcodeOffset,
		LoopEdges:   buildLoopEdges(c.loops),
		CipMap:      c.cipmap.Entries(),
	}
	c.state = stateDone
	return fn, nil
}

// runDecodeLoop iterates the p-code reader from pcodeOffset, binding each
// instruction's jump-map label before dispatch and stopping at the next
// function boundary (spec §4.1 step 3, §8 boundary behavior 7).
func (c *Compiler) runDecodeLoop(rt *plugin.Runtime, pcodeOffset int) error {
	r := pcode.NewReader(rt.Code[pcodeOffset:], pcodeOffset)
	r.Begin()

	first := true
	for r.More() {
		op := r.PeekOpcode()
		if op == pcode.OpEndProc || (!first && op == pcode.OpProc) {
			break
		}
		first = false

		err := r.VisitNext(func(instr pcode.Instruction) error {
			c.buf.Bind(c.jumps.Label(instr.Cip))
			c.env.Spewf("jit: cip=%d op=%s native+%d", instr.Cip, instr.Opcode, c.buf.PC())
			return c.dispatch(instr)
		})
		if err != nil {
			c.state = stateError
			return cerrors.Wrap(cerrors.InvalidAddress, err, "decode p-code")
		}
		if c.err != nil {
			c.state = stateError
			return c.err
		}
	}
	return nil
}

// dispatch emits native code for a single p-code instruction. Every
// opcode that emits native code first records a cip-map entry at its
// first native byte, so its helper call sites are attributable (spec
// invariant 2, §4.1 step 3 "op_cip"). PROC, ENDPROC, HALT and BREAK emit
// no native code and get no entry of their own: the next instruction
// starts at the same native pc, and the cip map is strictly monotonic.
func (c *Compiler) dispatch(instr pcode.Instruction) error {
	switch instr.Opcode {
	case pcode.OpEndProc, pcode.OpProc, pcode.OpHalt, pcode.OpBreak:
		return nil
	}
	c.cipmap.Add(c.buf.PC(), instr.Cip)

	switch instr.Opcode {
	case pcode.OpRetn:
		c.emitReturn()
	case pcode.OpConst:
		c.buf.MovRegImm64(Scratch1, uint64(int64(instr.Operand)))
		c.buf.MovRegReg(PRI, Scratch1)
	case pcode.OpZero:
		c.buf.MovRegImm64(PRI, 0)
	case pcode.OpPush:
		c.emitPush(PRI)
	case pcode.OpPushConst:
		c.buf.MovRegImm64(Scratch1, uint64(int64(instr.Operand)))
		c.emitPush(Scratch1)
	case pcode.OpPop:
		c.emitPop(PRI)
	case pcode.OpMoveAlt:
		c.buf.MovRegReg(ALT, PRI)
	case pcode.OpAdd:
		c.emitPop(Scratch1)
		c.buf.AddRegReg(PRI, Scratch1)
	case pcode.OpSub:
		c.emitPop(Scratch1)
		c.buf.SubRegReg(Scratch1, PRI)
		c.buf.MovRegReg(PRI, Scratch1)
	case pcode.OpMul:
		c.emitPop(Scratch1)
		c.buf.IMulRegReg(PRI, Scratch1)
	case pcode.OpDiv:
		return c.emitDiv()
	case pcode.OpEq, pcode.OpNeq, pcode.OpLess, pcode.OpLessEq, pcode.OpGreater, pcode.OpGreaterEq:
		c.emitCompare(instr.Opcode)
	case pcode.OpJump:
		c.emitJump(instr.Cip, instr.Operand)
	case pcode.OpJumpZero:
		c.emitCondJump(instr.Cip, instr.Operand, true)
	case pcode.OpJumpNotZero:
		c.emitCondJump(instr.Cip, instr.Operand, false)
	case pcode.OpBoundsChk:
		c.emitBoundsCheck(instr.Operand)
	case pcode.OpLoadIdx:
		c.emitLoadIdx()
	case pcode.OpStoreIdx:
		c.emitStoreIdx()
	case pcode.OpSysReq:
		c.emitSysReq(instr.Operand)
	default:
		c.err = cerrors.Newf(cerrors.InvalidAddress, "jit: unhandled opcode %d at cip %d", instr.Opcode, instr.Cip)
	}
	return nil
}

// emitPrologue saves callee-saved registers and seeds PRI/ALT/STK/FRM
// from the context struct. The concrete context layout is an external
// collaborator (spec §1 out-of-scope "target-architecture assembler");
// this driver only needs stable offsets, not the struct's definition.
func (c *Compiler) emitPrologue() {
	c.buf.Push(asm.RBX)
	c.buf.Push(asm.R12)
	c.buf.Push(asm.R13)
	c.buf.Push(asm.R14)
	c.buf.Push(asm.R15)

	const (
		ctxStkOffset  = 0
		ctxFrmOffset  = 8
		ctxHeapOffset = 16
	)
	c.buf.MovRegMem64(STK, CtxReg, ctxStkOffset)
	c.buf.MovRegMem64(FRM, CtxReg, ctxFrmOffset)
	c.buf.MovRegMem64(HeapBase, CtxReg, ctxHeapOffset)
	c.buf.MovRegImm64(PRI, 0)
	c.buf.MovRegImm64(ALT, 0)
}

func (c *Compiler) emitEpilogue() {
	c.buf.Pop(asm.R15)
	c.buf.Pop(asm.R14)
	c.buf.Pop(asm.R13)
	c.buf.Pop(asm.R12)
	c.buf.Pop(asm.RBX)
	c.buf.Ret()
}

func (c *Compiler) emitReturn() {
	c.emitEpilogue()
}

func (c *Compiler) emitPush(reg asm.Reg) {
	c.buf.MovMemReg64(STK, 0, reg)
	c.buf.SubRegImm32(STK, 8)
}

func (c *Compiler) emitPop(reg asm.Reg) {
	c.buf.AddRegImm32(STK, 8)
	c.buf.MovRegMem64(reg, STK, 0)
}

// emitDiv divides PRI by ALT (cerrors.DivideByZero on a zero divisor),
// leaving the quotient in PRI and clobbering RAX/RDX.
func (c *Compiler) emitDiv() error {
	c.emitZeroCheck(ALT, cerrors.DivideByZero)
	c.buf.MovRegReg(Scratch1, PRI)
	c.buf.Cqo()
	c.buf.IDivReg(ALT)
	c.buf.MovRegReg(PRI, Scratch1)
	return nil
}

// emitZeroCheck compares reg to zero and, if it is, jumps to the shared
// out-of-line error path for code. The check is a conditional jump, not
// a call, and records no cip-map entry of its own: the entry dispatch
// recorded for the current instruction is the one covering it.
func (c *Compiler) emitZeroCheck(reg asm.Reg, code cerrors.Code) {
	c.buf.CmpRegImm32(reg, 0)
	path := c.errTbl.pathFor(code)
	c.buf.JccLabel(asm.CondEqual, path.Label())
}

func (c *Compiler) emitCompare(op pcode.Opcode) {
	c.emitPop(Scratch1)
	c.buf.CmpRegReg(Scratch1, PRI)
	var cond asm.Condition
	switch op {
	case pcode.OpEq:
		cond = asm.CondEqual
	case pcode.OpNeq:
		cond = asm.CondNotEqual
	case pcode.OpLess:
		cond = asm.CondLess
	case pcode.OpLessEq:
		cond = asm.CondLessEqual
	case pcode.OpGreater:
		cond = asm.CondGreater
	case pcode.OpGreaterEq:
		cond = asm.CondGreaterEqual
	}
	c.buf.SetCC(cond, PRI)
	c.buf.MovzxRegReg8(PRI, PRI)
}

func (c *Compiler) emitJump(sourceCip int, targetCip int32) {
	target := c.jumps.Label(int(targetCip))
	backward := target.Bound()
	instrStart := c.buf.PC()
	c.buf.JmpLabel(target)
	if backward {
		c.recordBackwardJump(instrStart+1, sourceCip)
	}
}

func (c *Compiler) emitCondJump(sourceCip int, targetCip int32, onZero bool) {
	c.buf.CmpRegImm32(PRI, 0)
	target := c.jumps.Label(int(targetCip))
	cond := asm.CondNotEqual
	if onZero {
		cond = asm.CondEqual
	}
	backward := target.Bound()
	instrStart := c.buf.PC()
	c.buf.JccLabel(cond, target)
	if backward {
		c.recordBackwardJump(instrStart+2, sourceCip)
	}
}

// recordBackwardJump appends a pending loop-edge record. dispOffset is
// the native offset of the branch's own 4-byte displacement field —
// exactly what the watchdog later overwrites to retarget the loop
// (spec §4.5) — captured at emission time since a bound target here
// means the branch is already known to jump backward.
func (c *Compiler) recordBackwardJump(dispOffset, sourceCip int) {
	c.loops = append(c.loops, &backwardJumpRecord{pc: dispOffset, cip: sourceCip})
}

func (c *Compiler) emitBoundsCheck(limit int32) {
	c.buf.CmpRegImm32(ALT, limit)
	path := newOutOfBoundsPath()
	c.ool.Register(path)
	c.buf.JccLabel(asm.CondGreaterEqual, path.Label())
}

func (c *Compiler) emitLoadIdx() {
	c.buf.MovRegReg(Scratch1, HeapBase)
	c.buf.AddRegReg(Scratch1, ALT)
	c.buf.MovRegMem64(PRI, Scratch1, 0)
}

func (c *Compiler) emitStoreIdx() {
	c.buf.MovRegReg(Scratch1, HeapBase)
	c.buf.AddRegReg(Scratch1, ALT)
	c.buf.MovMemReg64(Scratch1, 0, PRI)
}

// emitSysReq emits a call through Scratch2 whose target is nativeIdx
// itself, loaded as the call's imm64 operand. It records no CallSite, so
// Compile leaves CompiledFunction.CallSites empty, and the call is not
// routed through the thunk patcher.
func (c *Compiler) emitSysReq(nativeIdx int32) {
	c.buf.MovRegImm64(Scratch2, uint64(uint32(nativeIdx)))
	c.buf.CallReg(Scratch2)
}

// emitThrowCode emits the shared tail for a single statically-known
// error code (spec §4.4 finalization): move the code into the
// error-code register, then jump to the generic report routine.
func (c *Compiler) emitThrowCode(code cerrors.Code) error {
	c.buf.MovRegImm64(Scratch1, uint64(code))
	c.buf.JmpLabel(c.reportErr)
	return nil
}

// emitBackwardJumpThunks emits one preemption thunk per recorded
// backward jump (spec §4.1 step 5): a cip-map entry at the thunk's first
// byte, then a jump (not a call) to the shared throw_timeout path, with
// timeoutOffset captured so buildLoopEdges can compute each displacement. Unlike a statically-known
// error code, the timeout thunk carries no error-code register setup of
// its own — the shared throw_timeout routine hardcodes it (spec §4.5).
func (c *Compiler) emitBackwardJumpThunks() {
	for _, rec := range c.loops {
		rec.timeoutOffset = c.buf.PC()
		c.cipmap.Add(c.buf.PC(), rec.cip)
		c.buf.JmpLabel(c.reportTimeout)
	}
}

// emitReportErrorTail binds the generic report-error routine (spec §4.4).
// It builds no exit frame of its own. Every throw site — computed
// statically or at runtime — leaves the error code in Scratch1 before
// jumping here; this moves it into the first SysV argument register (the
// 64-bit translation of the original's stack-pushed argument) and calls
// the trampoline at env.ReportErrorAddr, which the host arranges to route
// to InvokeReportError, before falling through to the ordinary epilogue.
// Clobbering RDI (normally the reserved context pointer) is safe here:
// this is an exit path, nothing in the function resumes after it.
//
// It is emitted after the OOL paths that jump to it (spec §4.1 step 7);
// only the throw_timeout tail follows it. This driver always emits the tail rather
// than conditioning on a used-bit; a function with no backward jumps and
// no error checks simply leaves it as dead code the linker still happily
// accepts per spec §4.1 edge cases.
func (c *Compiler) emitReportErrorTail() {
	c.buf.Bind(c.reportErr)
	c.buf.MovRegReg(asm.RDI, Scratch1)
	c.buf.MovRegImm64(Scratch3, uint64(c.env.ReportErrorAddr))
	c.buf.CallReg(Scratch3)
	c.emitEpilogue()
}

// emitReportTimeoutTail binds the shared throw_timeout routine every
// backward-jump thunk targets (spec §4.5: "the thunk notifies the
// watchdog (unblocking it) and reports timeout as an error"). It calls
// the trampoline at env.ReportTimeoutAddr, which the host arranges to
// route to InvokeReportTimeout — unblocking the watchdog before reporting
// SP_ERROR_TIMEOUT — then falls through to the same epilogue
// emitReportErrorTail uses.
func (c *Compiler) emitReportTimeoutTail() {
	c.buf.Bind(c.reportTimeout)
	c.buf.MovRegImm64(Scratch3, uint64(c.env.ReportTimeoutAddr))
	c.buf.CallReg(Scratch3)
	c.emitEpilogue()
}
