//go:build linux && amd64

// Package execmem is the executable-memory allocator: it publishes a
// finished assembler buffer as a CodeChunk, an executable memory region
// whose bytes are never rewritten except by the thunk patcher (call
// targets only) and the watchdog (known backward-jump thunk slots).
package execmem

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
)

// DefaultRegionSize is the size of the mmap'd region a Pool carves
// CodeChunks out of.
const DefaultRegionSize = 16 * 1024 * 1024

// CodeChunk is an executable memory region with a base address and
// length. Once published (nonzero Address) its bytes are immutable
// except for call-site patches and watchdog loop-edge retargeting.
type CodeChunk struct {
	Address uintptr
	Length  int
}

// Bytes returns a slice over the chunk's bytes, for disassembly/tests.
// It must not be mutated directly outside the patch protocols above.
func (c CodeChunk) Bytes() []byte {
	if c.Address == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(c.Address)), c.Length)
}

// Pool manages mmap'd memory that compiled functions are linked into.
// It mirrors the teacher's ExecutableMemory: an append-only bump
// allocator over one big mapping, made W^X-aware per spec §9: the
// mapping starts RW, and pages become RX as code is linked into them.
type Pool struct {
	mu     sync.Mutex
	region []byte
	used   int
}

// NewPool allocates the pool's region via mmap, readable and writable;
// LinkCode makes pages executable. size <= 0 selects DefaultRegionSize.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultRegionSize
	}
	region, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.OutOfMemory, err, "mmap executable region")
	}
	return &Pool{region: region}, nil
}

// LinkCode publishes code as an executable CodeChunk. The bytes are
// copied into the pool's RW region, then the covering pages are
// transitioned RW -> RX, matching the "arrange a W->X transition after
// link and before first execution" alternative spec §9 calls out for
// deployments that don't keep JIT memory permanently RWX.
func (p *Pool) LinkCode(code []byte) (CodeChunk, error) {
	if len(code) == 0 {
		return CodeChunk{}, cerrors.New(cerrors.OutOfMemory)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used+len(code) > len(p.region) {
		return CodeChunk{}, cerrors.New(cerrors.OutOfMemory)
	}

	base := p.used
	addr := uintptr(unsafe.Pointer(&p.region[base]))
	// An earlier chunk may have left the covering pages RX; reopen them
	// for the copy.
	pageStart, pageLen := pageRange(addr, len(code), uintptr(unsafe.Pointer(&p.region[0])), len(p.region))
	if err := unix.Mprotect(p.region[pageStart:pageStart+pageLen], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return CodeChunk{}, cerrors.Wrap(cerrors.OutOfMemory, err, "reopen code page")
	}
	copy(p.region[base:base+len(code)], code)
	p.used += len(code)

	if err := p.publish(addr, len(code)); err != nil {
		return CodeChunk{}, cerrors.Wrap(cerrors.OutOfMemory, err, "publish code page")
	}

	return CodeChunk{Address: addr, Length: len(code)}, nil
}

// publish does the cache-invalidation-relevant part of self-modifying
// code: mprotect the pages covering [addr, addr+n) to RX. Patches made
// later by the thunk patcher and the watchdog call PatchBytes, which
// temporarily reopens write access for the duration of the write.
func (p *Pool) publish(addr uintptr, n int) error {
	pageStart, pageLen := pageRange(addr, n, uintptr(unsafe.Pointer(&p.region[0])), len(p.region))
	return unix.Mprotect(p.region[pageStart:pageStart+pageLen], unix.PROT_READ|unix.PROT_EXEC)
}

// PatchBytes rewrites n bytes at addr within a previously published
// chunk, used by both the thunk patcher (call-site rewrite) and the
// watchdog (loop-edge retargeting). It is the platform-specific
// cache-invalidation primitive spec §9 calls "publish_patch".
func (p *Pool) PatchBytes(addr uintptr, newBytes []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := uintptr(unsafe.Pointer(&p.region[0]))
	pageStart, pageLen := pageRange(addr, len(newBytes), base, len(p.region))
	region := p.region[pageStart : pageStart+pageLen]

	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(newBytes))
	copy(dst, newBytes)
	return unix.Mprotect(region, unix.PROT_READ|unix.PROT_EXEC)
}

func pageRange(addr uintptr, n int, base uintptr, regionLen int) (start, length int) {
	const pageSize = 4096
	offset := int(addr - base)
	start = (offset / pageSize) * pageSize
	end := offset + n
	end = ((end + pageSize - 1) / pageSize) * pageSize
	if end > regionLen {
		end = regionLen
	}
	return start, end - start
}

// Free releases the pool's mmap'd region.
func (p *Pool) Free() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	p.used = 0
	return err
}

// Used returns how many bytes of the region are currently occupied.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}
