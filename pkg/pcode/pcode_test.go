package pcode

import "testing"

func buildProgram(instrs ...[]byte) []byte {
	var out []byte
	for _, i := range instrs {
		out = append(out, i...)
	}
	return out
}

func withOperand(op Opcode, v int32) []byte {
	b := []byte{byte(op), 0, 0, 0, 0}
	b[1] = byte(v)
	b[2] = byte(v >> 8)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 24)
	return b
}

func TestVisitNextDecodesMinimalFunction(t *testing.T) {
	code := buildProgram(withOperand(OpProc, 0), []byte{byte(OpRetn)}, []byte{byte(OpEndProc)})

	r := NewReader(code, 0)
	r.Begin()

	var got []Instruction
	for r.More() {
		if err := r.VisitNext(func(i Instruction) error {
			got = append(got, i)
			return nil
		}); err != nil {
			t.Fatalf("VisitNext: %v", err)
		}
	}

	want := []Instruction{
		{Cip: 0, Opcode: OpProc, Operand: 0},
		{Cip: 5, Opcode: OpRetn},
		{Cip: 6, Opcode: OpEndProc},
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d instructions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestVisitNextReportsTruncatedOperand(t *testing.T) {
	code := []byte{byte(OpConst), 1, 2} // needs 4 operand bytes, only 2 present

	r := NewReader(code, 0)
	r.Begin()

	err := r.VisitNext(func(Instruction) error { return nil })
	if err == nil {
		t.Fatal("expected truncation error, got nil")
	}
}

func TestCipIsImageRelativeWhenBaseNonzero(t *testing.T) {
	code := buildProgram([]byte{byte(OpHalt)})
	r := NewReader(code, 100)
	r.Begin()

	if got := r.Cip(); got != 100 {
		t.Errorf("Cip() = %d, want 100", got)
	}
}

func TestSizeMatchesOperandPresence(t *testing.T) {
	cases := map[Opcode]int{
		OpHalt:      1,
		OpRetn:      1,
		OpConst:     5,
		OpPushConst: 5,
		OpJump:      5,
		OpSysReq:    5,
	}
	for op, want := range cases {
		if got := Size(op); got != want {
			t.Errorf("Size(%d) = %d, want %d", op, got, want)
		}
	}
}
