// Package thunk implements the lazy-linking protocol between an
// untranslated call site and the compile driver: the first call reaches
// a patcher stub, which compiles (or reuses) the callee and rewrites the
// call site to bypass itself on every future invocation.
package thunk

import (
	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
	"github.com/rom4s/sourcepawn/pkg/execmem"
	"github.com/rom4s/sourcepawn/pkg/jit"
	"github.com/rom4s/sourcepawn/pkg/plugin"
)

// Compiler is the subset of *jit.Compiler the patcher needs, declared as
// an interface so callers can substitute a fake driver in tests.
type Compiler interface {
	Compile(rt *plugin.Runtime, pcodeOffset int) (*jit.CompiledFunction, error)
}

// Patcher implements CompileFromThunk (spec §4.6): an untranslated call
// site ends in "call patcher; <patch site>", and the patcher's job is to
// either compile the callee once and rewrite the call site to skip
// itself thereafter, or fail and leave the call site untouched so the
// next call retries.
type Patcher struct {
	Env      *env.Environment
	Compiler Compiler
	Pool     *execmem.Pool
}

// CompileFromThunk resolves pcodeOffset to a native entry point, writing
// it to *outEntry, and patches patchSite's call target to that entry.
//
// Step order matches spec §4.6 exactly: a pending timeout aborts before
// any compilation happens, since compiling now would produce code with
// preemption patches that are stale the instant the pending timeout is
// finally handled.
func (p *Patcher) CompileFromThunk(rt *plugin.Runtime, pcodeOffset int, outEntry *uintptr, patchSite uintptr) error {
	if !p.Env.Watchdog.HandleInterrupt() {
		return cerrors.New(cerrors.Timeout)
	}

	method := rt.AcquireMethod(pcodeOffset)
	if method == nil {
		return cerrors.New(cerrors.InvalidAddress)
	}

	if status := method.Validate(); status == plugin.Invalid {
		return cerrors.New(cerrors.InvalidAddress)
	}

	fn := method.Jit()
	if fn == nil {
		var compileErr error
		fn, compileErr = method.WithCompileLock(func() (plugin.CompiledFunction, error) {
			cf, err := p.Compiler.Compile(rt, pcodeOffset)
			if err != nil {
				return nil, err
			}
			return cf, nil
		})
		if compileErr != nil {
			return compileErr
		}
	}

	p.Env.Spewf("jit: patching thunk to %s::%s", rt.Name, rt.FunctionName(pcodeOffset))

	*outEntry = fn.EntryAddress()
	return p.PatchCallThunk(patchSite, fn.EntryAddress())
}

// PatchCallThunk rewrites the imm64 (or rel32, depending on call form)
// operand at patchSite to target entry, using the executable pool's
// publish/patch primitive so the page is briefly writable and never
// simultaneously writable and executable from another thread's view
// (spec §9 "publish_patch").
//
// This driver always uses a call-through-register-with-imm64 site (see
// package jit's emitSysReq), so the patch is a straight 8-byte overwrite
// at patchSite, not a rel32 recompute.
func (p *Patcher) PatchCallThunk(patchSite uintptr, entry uintptr) error {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(entry >> (8 * i))
	}
	return p.Pool.PatchBytes(patchSite, buf[:])
}
