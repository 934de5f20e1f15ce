//go:build linux && amd64

package execmem

import "testing"

func TestLinkCodeCopiesBytesAndPublishesExecutable(t *testing.T) {
	pool, err := NewPool(64 * 1024)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Free()

	code := []byte{0xC3} // ret
	chunk, err := pool.LinkCode(code)
	if err != nil {
		t.Fatalf("LinkCode: %v", err)
	}
	if chunk.Address == 0 {
		t.Fatal("expected a nonzero address")
	}
	if got := chunk.Bytes(); len(got) != 1 || got[0] != 0xC3 {
		t.Errorf("chunk bytes = %v, want [0xC3]", got)
	}
}

func TestLinkCodeFailsWhenRegionExhausted(t *testing.T) {
	pool, err := NewPool(16)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Free()

	if _, err := pool.LinkCode(make([]byte, 32)); err == nil {
		t.Fatal("expected an out-of-memory error when the region is too small")
	}
}

func TestPatchBytesRewritesPublishedCode(t *testing.T) {
	pool, err := NewPool(64 * 1024)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Free()

	chunk, err := pool.LinkCode([]byte{0x90, 0x90, 0x90, 0x90})
	if err != nil {
		t.Fatalf("LinkCode: %v", err)
	}

	if err := pool.PatchBytes(chunk.Address, []byte{0xCC, 0xCC}); err != nil {
		t.Fatalf("PatchBytes: %v", err)
	}
	got := chunk.Bytes()
	if got[0] != 0xCC || got[1] != 0xCC || got[2] != 0x90 {
		t.Errorf("patched bytes = % x, want cc cc 90 ..", got)
	}
}

func TestUsedTracksLinkedBytes(t *testing.T) {
	pool, err := NewPool(64 * 1024)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Free()

	if _, err := pool.LinkCode([]byte{0x90, 0x90, 0x90}); err != nil {
		t.Fatalf("LinkCode: %v", err)
	}
	if got := pool.Used(); got != 3 {
		t.Errorf("Used() = %d, want 3", got)
	}
}
