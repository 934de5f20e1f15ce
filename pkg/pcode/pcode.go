// Package pcode decodes the stack-based bytecode ("p-code") this JIT
// compiles. An instruction is one opcode byte optionally followed by a
// little-endian int32 operand. Cip ("current instruction pointer") is
// always a byte offset into the function's code image.
package pcode

import "encoding/binary"

// Opcode identifies a p-code instruction.
type Opcode byte

const (
	OpInvalid Opcode = 0

	// Function framing.
	OpProc    Opcode = 1 // begins a procedure; operand = locals size (unused by the driver)
	OpEndProc Opcode = 2 // ends a procedure

	// Control.
	OpRetn  Opcode = 3
	OpHalt  Opcode = 4
	OpBreak Opcode = 5 // explicit yield point; emits no native code and gets no cip-map entry

	// Primary-register ("pri") and stack.
	OpConst     Opcode = 10 // pri = operand
	OpZero      Opcode = 11 // pri = 0
	OpPush      Opcode = 12 // push pri
	OpPushConst Opcode = 13 // push operand
	OpPop       Opcode = 14 // pri = pop()
	OpMoveAlt   Opcode = 15 // alt = pri

	// Arithmetic. OpAdd, OpSub and OpMul take their left operand from the
	// data stack: pri = pop() OP pri. OpDiv uses alt instead.
	OpAdd Opcode = 20
	OpSub Opcode = 21
	OpMul Opcode = 22
	OpDiv Opcode = 23 // pri = pri / alt; alt == 0 raises DivideByZero

	// Comparisons (pri = pop() OP pri ? 1 : 0).
	OpEq        Opcode = 30
	OpNeq       Opcode = 31
	OpLess      Opcode = 32
	OpLessEq    Opcode = 33
	OpGreater   Opcode = 34
	OpGreaterEq Opcode = 35

	// Branches. operand is the target cip.
	OpJump        Opcode = 40
	OpJumpZero    Opcode = 41 // branch if pri == 0
	OpJumpNotZero Opcode = 42 // branch if pri != 0

	// Memory. operand on OpBoundsChk is the array length; alt is the
	// index being validated. OpLoadIdx/OpStoreIdx access a flat heap
	// array at index alt.
	OpBoundsChk Opcode = 50
	OpLoadIdx   Opcode = 51
	OpStoreIdx  Opcode = 52

	// OpSysReq emits a call. The compiler loads operand as the call's
	// imm64 target and calls it directly; the call site is not routed
	// through the thunk patcher (see package jit's emitSysReq).
	OpSysReq Opcode = 60
)

// String names op for diagnostics and debug spew.
func (op Opcode) String() string {
	switch op {
	case OpProc:
		return "proc"
	case OpEndProc:
		return "endproc"
	case OpRetn:
		return "retn"
	case OpHalt:
		return "halt"
	case OpBreak:
		return "break"
	case OpConst:
		return "const"
	case OpZero:
		return "zero"
	case OpPush:
		return "push"
	case OpPushConst:
		return "push.const"
	case OpPop:
		return "pop"
	case OpMoveAlt:
		return "move.alt"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpLess:
		return "less"
	case OpLessEq:
		return "less.eq"
	case OpGreater:
		return "greater"
	case OpGreaterEq:
		return "greater.eq"
	case OpJump:
		return "jump"
	case OpJumpZero:
		return "jump.zero"
	case OpJumpNotZero:
		return "jump.notzero"
	case OpBoundsChk:
		return "bounds.chk"
	case OpLoadIdx:
		return "load.idx"
	case OpStoreIdx:
		return "store.idx"
	case OpSysReq:
		return "sysreq"
	default:
		return "invalid"
	}
}

// hasOperand reports whether op is followed by a 4-byte operand.
func hasOperand(op Opcode) bool {
	switch op {
	case OpProc, OpConst, OpPushConst, OpJump, OpJumpZero, OpJumpNotZero, OpBoundsChk, OpSysReq:
		return true
	default:
		return false
	}
}

// Size returns the byte length of an instruction with opcode op,
// including its operand if any.
func Size(op Opcode) int {
	if hasOperand(op) {
		return 5
	}
	return 1
}

// Reader is a forward-only cursor over one function's p-code bytes,
// matching spec §4.2: Begin, More, PeekOpcode, VisitNext, Cip. It does
// not know function boundaries; callers enforce those via PeekOpcode.
type Reader struct {
	code []byte
	base int // byte offset of code[0] within the plugin's full image
	pos  int // index into code of the next instruction
}

// NewReader creates a reader over code starting at the given cip, where
// base is the byte offset of code[0] within the plugin image (so Cip()
// reports image-relative offsets).
func NewReader(code []byte, base int) *Reader {
	return &Reader{code: code, base: base}
}

// Begin resets the cursor to the start of the buffer. Present for parity
// with the spec's capability list; NewReader already begins there.
func (r *Reader) Begin() { r.pos = 0 }

// More reports whether there is at least one more instruction available.
func (r *Reader) More() bool { return r.pos < len(r.code) }

// Cip returns the image-relative byte offset of the next instruction.
func (r *Reader) Cip() int { return r.base + r.pos }

// PeekOpcode returns the next opcode without consuming it.
func (r *Reader) PeekOpcode() Opcode {
	if !r.More() {
		return OpInvalid
	}
	return Opcode(r.code[r.pos])
}

// Instruction is one decoded p-code instruction.
type Instruction struct {
	Cip     int
	Opcode  Opcode
	Operand int32
}

// VisitNext decodes the next instruction, advances the cursor past it,
// and dispatches it to visit. It returns an error if the buffer is
// truncated mid-instruction, and otherwise whatever visit returns.
func (r *Reader) VisitNext(visit func(Instruction) error) error {
	op := r.PeekOpcode()
	size := Size(op)
	if r.pos+size > len(r.code) {
		return errTruncated
	}
	instr := Instruction{Cip: r.Cip(), Opcode: op}
	if hasOperand(op) {
		instr.Operand = int32(binary.LittleEndian.Uint32(r.code[r.pos+1 : r.pos+5]))
	}
	r.pos += size
	return visit(instr)
}

var errTruncated = truncatedError{}

type truncatedError struct{}

func (truncatedError) Error() string { return "pcode: truncated instruction" }
