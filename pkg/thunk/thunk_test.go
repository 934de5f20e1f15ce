//go:build linux && amd64

package thunk

import (
	"testing"

	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
	"github.com/rom4s/sourcepawn/pkg/execmem"
	"github.com/rom4s/sourcepawn/pkg/jit"
	"github.com/rom4s/sourcepawn/pkg/plugin"
)

type alwaysReady struct{}

func (alwaysReady) HandleInterrupt() bool  { return true }
func (alwaysReady) NotifyTimeoutReceived() {}

type neverReady struct{}

func (neverReady) HandleInterrupt() bool  { return false }
func (neverReady) NotifyTimeoutReceived() {}

func newTestEnv(w env.Watchdog) *env.Environment {
	e := env.New()
	e.Watchdog = w
	return e
}

type stubCompiler struct {
	calls int
	fn    *jit.CompiledFunction
	err   error
}

func (s *stubCompiler) Compile(rt *plugin.Runtime, pcodeOffset int) (*jit.CompiledFunction, error) {
	s.calls++
	return s.fn, s.err
}

func newTestPool(t *testing.T) *execmem.Pool {
	t.Helper()
	pool, err := execmem.NewPool(64 * 1024)
	if err != nil {
		t.Fatalf("execmem.NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Free() })
	return pool
}

func TestCompileFromThunkRefusesToCompileDuringPendingTimeout(t *testing.T) {
	p := &Patcher{Env: newTestEnv(neverReady{}), Compiler: &stubCompiler{}, Pool: newTestPool(t)}
	rt := plugin.NewRuntime("t", make([]byte, 16))

	var entry uintptr
	err := p.CompileFromThunk(rt, 0, &entry, 0)
	if cerrors.CodeOf(err) != cerrors.Timeout {
		t.Fatalf("CompileFromThunk error = %v, want Timeout", err)
	}
}

func TestCompileFromThunkRejectsOutOfRangeOffset(t *testing.T) {
	p := &Patcher{Env: newTestEnv(alwaysReady{}), Compiler: &stubCompiler{}, Pool: newTestPool(t)}
	rt := plugin.NewRuntime("t", make([]byte, 16))

	var entry uintptr
	err := p.CompileFromThunk(rt, 1000, &entry, 0)
	if cerrors.CodeOf(err) != cerrors.InvalidAddress {
		t.Fatalf("CompileFromThunk error = %v, want InvalidAddress", err)
	}
}

func TestCompileFromThunkCompilesOnceAndPatchesCallSite(t *testing.T) {
	pool := newTestPool(t)
	chunk, err := pool.LinkCode([]byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90})
	if err != nil {
		t.Fatalf("LinkCode: %v", err)
	}

	compiler := &stubCompiler{fn: &jit.CompiledFunction{Chunk: execmem.CodeChunk{Address: 0xdeadbeef}}}
	p := &Patcher{Env: newTestEnv(alwaysReady{}), Compiler: compiler, Pool: pool}
	rt := plugin.NewRuntime("t", make([]byte, 16))

	var entry uintptr
	if err := p.CompileFromThunk(rt, 0, &entry, chunk.Address); err != nil {
		t.Fatalf("CompileFromThunk: %v", err)
	}
	if entry != 0xdeadbeef {
		t.Errorf("entry = %#x, want 0xdeadbeef", entry)
	}

	patched := chunk.Bytes()[:8]
	var got uintptr
	for i := 7; i >= 0; i-- {
		got = got<<8 | uintptr(patched[i])
	}
	if got != 0xdeadbeef {
		t.Errorf("patched call site = %#x, want 0xdeadbeef", got)
	}

	// A second call for the same method must not compile again.
	if err := p.CompileFromThunk(rt, 0, &entry, chunk.Address); err != nil {
		t.Fatalf("second CompileFromThunk: %v", err)
	}
	if compiler.calls != 1 {
		t.Errorf("compiler ran %d times, want 1", compiler.calls)
	}
}

func TestCompileFromThunkPropagatesCompileError(t *testing.T) {
	compiler := &stubCompiler{err: cerrors.New(cerrors.OutOfMemory)}
	p := &Patcher{Env: newTestEnv(alwaysReady{}), Compiler: compiler, Pool: newTestPool(t)}
	rt := plugin.NewRuntime("t", make([]byte, 16))

	var entry uintptr
	err := p.CompileFromThunk(rt, 0, &entry, 0)
	if cerrors.CodeOf(err) != cerrors.OutOfMemory {
		t.Fatalf("CompileFromThunk error = %v, want OutOfMemory", err)
	}
}
