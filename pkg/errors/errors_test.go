package errors

import (
	"fmt"
	"testing"
)

func TestCodeOfUnwrapsCompileError(t *testing.T) {
	base := New(ArrayBounds)
	wrapped := Wrap(MemoryAccess, base, "load index")

	if got := CodeOf(wrapped); got != MemoryAccess {
		t.Errorf("CodeOf(wrapped) = %v, want %v", got, MemoryAccess)
	}
}

func TestCodeOfNilAndForeignErrors(t *testing.T) {
	if got := CodeOf(nil); got != None {
		t.Errorf("CodeOf(nil) = %v, want none", got)
	}
	if got := CodeOf(fmt.Errorf("not a compile error")); got != None {
		t.Errorf("CodeOf(foreign) = %v, want none", got)
	}
}

func TestErrorCodesFixedOrder(t *testing.T) {
	want := []Code{
		DivideByZero, StackLow, StackMin, ArrayBounds, MemoryAccess,
		HeapLow, HeapMin, IntegerOverflow, InvalidNative,
	}
	if len(ErrorCodes) != len(want) {
		t.Fatalf("len(ErrorCodes) = %d, want %d", len(ErrorCodes), len(want))
	}
	for i, c := range want {
		if ErrorCodes[i] != c {
			t.Errorf("ErrorCodes[%d] = %v, want %v", i, ErrorCodes[i], c)
		}
	}
}

func TestCompileErrorMessage(t *testing.T) {
	err := New(DivideByZero)
	if err.Error() != "divide by zero" {
		t.Errorf("Error() = %q, want %q", err.Error(), "divide by zero")
	}
}
