// Package plugin models the pre-verified bytecode image a host loads and
// the per-function bookkeeping the JIT driver consumes and mutates.
package plugin

import "sync"

// CompiledFunction is the subset of jit.CompiledFunction that MethodInfo
// needs to know about. It lives here (rather than MethodInfo importing
// package jit directly) so package jit can depend on package plugin
// without a import cycle: jit.CompiledFunction satisfies this interface.
type CompiledFunction interface {
	// EntryAddress is the native address execution should jump to.
	EntryAddress() uintptr
}

// ValidationStatus is the result of the plugin image validator (out of
// scope per spec §1; modeled here only as the contract MethodInfo.Validate
// exposes to the compile driver and thunk patcher).
type ValidationStatus int

const (
	NotValidated ValidationStatus = iota
	Valid
	Invalid
)

// MethodInfo is a record per plugin function, identified by its p-code
// byte offset. It is single-writer (the compile that wins the race to
// compile this method) / many-reader (every call site), guarded by
// compileMu — resolving the Open Question in spec §9 about whether
// CompileFromThunk must serialize per method: yes, here.
type MethodInfo struct {
	Offset int

	compileMu sync.Mutex
	status    ValidationStatus
	fn        CompiledFunction
}

// NewMethodInfo creates an unvalidated, uncompiled method record for the
// function starting at pcodeOffset.
func NewMethodInfo(pcodeOffset int) *MethodInfo {
	return &MethodInfo{Offset: pcodeOffset, status: NotValidated}
}

// PcodeOffset returns the byte offset identifying this function.
func (m *MethodInfo) PcodeOffset() int { return m.Offset }

// Validate runs (or re-reads the cached result of) the plugin image
// validator for this method. The real verifier is out of scope (spec
// §1); this always succeeds once, which is sufficient to exercise the
// thunk patcher's "propagate validation errors" step.
func (m *MethodInfo) Validate() ValidationStatus {
	m.compileMu.Lock()
	defer m.compileMu.Unlock()
	if m.status == NotValidated {
		m.status = Valid
	}
	return m.status
}

// Jit returns the compiled function for this method, or nil if it has
// not been compiled yet.
func (m *MethodInfo) Jit() CompiledFunction {
	m.compileMu.Lock()
	defer m.compileMu.Unlock()
	return m.fn
}

// SetCompiledFunction installs fn as this method's compiled function. It
// is mutated exactly once per method (spec §3); a second call is a
// programming error since the compile driver only ever reaches here
// after confirming Jit() == nil under the same lock (see
// WithCompileLock).
func (m *MethodInfo) SetCompiledFunction(fn CompiledFunction) {
	if m.fn != nil {
		panic("plugin: method already has a compiled function")
	}
	m.fn = fn
}

// WithCompileLock serializes compilation of this method: it acquires the
// method's lock, and if the method is already compiled returns its
// existing entry without calling compile. Otherwise it runs compile
// and, on success, installs the result before releasing the lock — so
// concurrent callers either observe the pre-existing compiled function
// or block until the winner has installed theirs.
func (m *MethodInfo) WithCompileLock(compile func() (CompiledFunction, error)) (CompiledFunction, error) {
	m.compileMu.Lock()
	defer m.compileMu.Unlock()

	if m.fn != nil {
		return m.fn, nil
	}
	fn, err := compile()
	if err != nil {
		return nil, err
	}
	m.SetCompiledFunction(fn)
	return fn, nil
}

// Runtime is the owner of a code image, a table of per-function
// MethodInfo records, and the lifetime bound for every CompiledFunction
// produced from it (spec §3: "Lifetime bounds all compiled functions it
// produced").
type Runtime struct {
	Name string
	Code []byte

	mu      sync.Mutex
	methods map[int]*MethodInfo
}

// NewRuntime creates a plugin runtime over a validated image's raw
// p-code bytes.
func NewRuntime(name string, code []byte) *Runtime {
	return &Runtime{Name: name, Code: code, methods: make(map[int]*MethodInfo)}
}

// AcquireMethod returns the MethodInfo for pcodeOffset, creating it on
// first reference, or nil if the offset is out of range of the image.
func (r *Runtime) AcquireMethod(pcodeOffset int) *MethodInfo {
	if pcodeOffset < 0 || pcodeOffset >= len(r.Code) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[pcodeOffset]
	if !ok {
		m = NewMethodInfo(pcodeOffset)
		r.methods[pcodeOffset] = m
	}
	return m
}

// FunctionName is a diagnostics-only lookup (spec §6: "function-name
// lookup by p-code offset (for diagnostics only)"). The image format
// that would back a real symbol table is out of scope.
func (r *Runtime) FunctionName(pcodeOffset int) string {
	return r.Name
}
