package asm

import "testing"

func TestMovRegImm64Encoding(t *testing.T) {
	b := NewBuffer()
	b.MovRegImm64(RAX, 0x1122334455667788)

	got := b.Bytes()
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0] != 0x48 || got[1] != 0xB8 {
		t.Fatalf("prefix+opcode = % x, want 48 b8", got[:2])
	}
}

func TestMovRegImm64ExtendedRegisterUsesRexB(t *testing.T) {
	b := NewBuffer()
	b.MovRegImm64(R9, 1)

	got := b.Bytes()
	if got[0] != 0x49 {
		t.Errorf("rex prefix = %#x, want 0x49 (W+B)", got[0])
	}
	if got[1] != 0xB8+1 {
		t.Errorf("opcode = %#x, want %#x", got[1], 0xB8+1)
	}
}

func TestPushPopRoundTripsOpcodeBytes(t *testing.T) {
	b := NewBuffer()
	b.Push(RBX)
	b.Pop(R12)

	got := b.Bytes()
	want := []byte{0x53, 0x41, 0x5C}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestMemOperandUsesSibForRspAndR12(t *testing.T) {
	b := NewBuffer()
	b.MovRegMem64(RAX, RSP, 0)
	b.MovRegMem64(RAX, R12, 0)

	got := b.Bytes()
	// mov rax, [rsp]: 48 8B 04 24
	if got[2] != 0x04 || got[3] != 0x24 {
		t.Errorf("rsp operand modrm/sib = % x, want 04 24", got[2:4])
	}
	// mov rax, [r12]: 49 8B 04 24
	if got[6] != 0x04 || got[7] != 0x24 {
		t.Errorf("r12 operand modrm/sib = % x, want 04 24", got[6:8])
	}
}

func TestBindPatchesPendingForwardReference(t *testing.T) {
	b := NewBuffer()
	l := &Label{}

	b.JmpLabel(l) // forward reference, unresolved yet
	sizeBeforeBind := b.PC()
	b.Nop()
	b.Bind(l)

	rel := int32(b.Bytes()[1]) | int32(b.Bytes()[2])<<8 | int32(b.Bytes()[3])<<16 | int32(b.Bytes()[4])<<24
	want := int32(l.Offset() - sizeBeforeBind)
	if rel != want {
		t.Errorf("patched displacement = %d, want %d", rel, want)
	}
}

func TestBindTwiceIsAProgrammingError(t *testing.T) {
	b := NewBuffer()
	l := &Label{}
	b.Bind(l)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double bind")
		}
	}()
	b.Bind(l)
}

func TestJmpLabelToAlreadyBoundTargetPatchesImmediately(t *testing.T) {
	b := NewBuffer()
	l := &Label{}
	b.Bind(l) // label bound at offset 0
	b.Nop()
	instrStart := b.PC()
	b.JmpLabel(l)

	dispOffset := instrStart + 1
	got := b.Bytes()
	rel := int32(got[dispOffset]) | int32(got[dispOffset+1])<<8 | int32(got[dispOffset+2])<<16 | int32(got[dispOffset+3])<<24
	want := int32(0 - (instrStart + 5))
	if rel != want {
		t.Errorf("backward displacement = %d, want %d", rel, want)
	}
}

func TestLabelUsedReflectsPendingSitesAndBind(t *testing.T) {
	l := &Label{}
	if l.Used() {
		t.Fatal("fresh label should not be used")
	}

	b := NewBuffer()
	b.JmpLabel(l)
	if !l.Used() {
		t.Fatal("label with a pending site should be used")
	}
}
