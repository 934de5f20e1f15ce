//go:build !linux || !amd64

// Package execmem provides stub types for platforms where JIT execution
// is unavailable. The real implementation requires mmap with PROT_EXEC
// and is only available on linux/amd64.
package execmem

import "errors"

// ErrUnsupported is returned by every operation on this platform.
var ErrUnsupported = errors.New("execmem: JIT execution not supported on this platform")

// CodeChunk mirrors the real type's shape so callers can be written
// without a build tag.
type CodeChunk struct {
	Address uintptr
	Length  int
}

func (c CodeChunk) Bytes() []byte { return nil }

// Pool is a stub; NewPool always fails.
type Pool struct{}

func NewPool(size int) (*Pool, error) { return nil, ErrUnsupported }

func (p *Pool) LinkCode(code []byte) (CodeChunk, error) { return CodeChunk{}, ErrUnsupported }

func (p *Pool) PatchBytes(addr uintptr, newBytes []byte) error { return ErrUnsupported }

func (p *Pool) Free() error { return nil }

func (p *Pool) Used() int { return 0 }
