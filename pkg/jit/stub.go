//go:build !linux || !amd64

// Package jit provides stub types for platforms where native code
// generation is unavailable. The real compile driver only runs on
// linux/amd64, matching the executable-memory allocator it links into.
package jit

import (
	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
	"github.com/rom4s/sourcepawn/pkg/execmem"
	"github.com/rom4s/sourcepawn/pkg/metrics"
	"github.com/rom4s/sourcepawn/pkg/plugin"
)

// CompiledFunction is a stub on unsupported platforms so packages that
// depend on it (pkg/thunk, pkg/plugin callers) still build.
type CompiledFunction struct{}

func (f *CompiledFunction) EntryAddress() uintptr { return 0 }

// Compiler always fails to compile on unsupported platforms.
type Compiler struct{}

func NewCompiler(pool *execmem.Pool, reg *metrics.Registry, environment *env.Environment) *Compiler {
	return &Compiler{}
}

func (c *Compiler) Compile(rt *plugin.Runtime, pcodeOffset int) (*CompiledFunction, error) {
	return nil, cerrors.New(cerrors.OutOfMemory)
}
