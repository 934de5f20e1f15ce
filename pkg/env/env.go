// Package env holds the external collaborators referenced, but not
// implemented in depth, by spec §6: the watchdog timer, the debugger
// spew sink, the frame iterator used to unwind, and the process-wide
// error-reporting sink. Per spec §9's "Global environment" note, this is
// modeled as a single process-wide value with init/teardown around the
// host's lifetime, matching the teacher's globalJITRuntime singleton in
// pkg/pvm/jit_integration.go.
package env

import (
	"sync"
	"sync/atomic"

	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
)

// Debugger receives optional trace spew, gated by Environment.SpewEnabled
// (spec §11: the JIT_SPEW-bracketed OnDebugSpew calls in the original).
type Debugger interface {
	OnDebugSpew(format string, args ...interface{})
}

// NopDebugger discards all spew; the default when tracing is disabled.
type NopDebugger struct{}

func (NopDebugger) OnDebugSpew(format string, args ...interface{}) {}

// Watchdog is the preemption timer. HandleInterrupt processes any
// pending preemption and reports whether compilation may proceed;
// NotifyTimeoutReceived is called by the emitted timeout thunk once it
// has unwound, to unblock the watchdog thread.
type Watchdog interface {
	HandleInterrupt() bool
	NotifyTimeoutReceived()
}

// SimpleWatchdog is a minimal, mutex-guarded Watchdog: a single pending
// flag set by RequestTimeout (standing in for a real OS timer signal)
// and cleared by NotifyTimeoutReceived.
type SimpleWatchdog struct {
	mu      sync.Mutex
	pending bool
	blocked atomic.Bool
}

// RequestTimeout marks a timeout as pending, as if a real watchdog
// thread's timer had fired.
func (w *SimpleWatchdog) RequestTimeout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = true
}

// HandleInterrupt reports false (compilation must not proceed) iff a
// timeout is currently pending.
func (w *SimpleWatchdog) HandleInterrupt() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.pending
}

// NotifyTimeoutReceived clears the pending flag and unblocks the
// watchdog, mirroring Environment::get()->watchdog()->NotifyTimeoutReceived()
// in the original implementation.
func (w *SimpleWatchdog) NotifyTimeoutReceived() {
	w.mu.Lock()
	w.pending = false
	w.mu.Unlock()
	w.blocked.Store(false)
}

// FrameType distinguishes the outermost JIT entry frame from ordinary
// scripted frames when unwinding (spec glossary: "Entry frame").
type FrameType int

const (
	FrameScripted FrameType = iota
	FrameEntry
)

// Frame is one native frame as the frame-iterator walks the JIT frame
// chain.
type Frame struct {
	Type   FrameType
	PrevFP uintptr
}

// JitFrameIterator is a forward-only iterator over native frames,
// walking from the current (deepest) frame outward (spec §6).
type JitFrameIterator struct {
	frames []Frame
	idx    int
}

// NewJitFrameIterator creates an iterator over frames, deepest first.
func NewJitFrameIterator(frames []Frame) *JitFrameIterator {
	return &JitFrameIterator{frames: frames}
}

func (it *JitFrameIterator) Done() bool { return it.idx >= len(it.frames) }

func (it *JitFrameIterator) Next() { it.idx++ }

func (it *JitFrameIterator) Frame() Frame { return it.frames[it.idx] }

// FindEntryFP walks it outward from the deepest frame and returns the
// prev_fp of the frame immediately inside the outermost Entry frame —
// the frame pointer the host held when it first re-entered scripted
// code (spec §4.7). Used by the generic report-error routine to unwind
// the entire scripted call stack in one shot. The second return value
// is false if no Entry frame was found, which indicates a frame-chain
// bug rather than a normal runtime condition.
func FindEntryFP(it *JitFrameIterator) (uintptr, bool) {
	var fp uintptr
	found := false
	for !it.Done() {
		frame := it.Frame()
		if frame.Type == FrameEntry {
			found = true
			break
		}
		fp = frame.PrevFP
		it.Next()
	}
	return fp, found
}

// Environment is the process-wide collaborator bundle the compile driver
// and thunk patcher consume.
type Environment struct {
	Watchdog Watchdog
	Debugger Debugger

	SpewEnabled bool

	// ReportErrorAddr and ReportTimeoutAddr are the addresses of the
	// ABI-compatible native trampolines that the compiled function's
	// report_error and throw_timeout tails call into (spec §4.4, §4.5).
	// They stand in for the fixed, link-time addresses of
	// CompilerBase::InvokeReportError and CompilerBase::InvokeReportTimeout
	// in the original implementation: there, the compiler could take the
	// address of an already-linked C++ function directly; here, the host
	// embedding this driver is responsible for installing real trampolines
	// before compiling any function. Left at zero, emitted report/timeout
	// tails call address zero, which is a correctly-shaped but unreachable
	// stand-in — the same posture emitSysReq takes toward native-call
	// resolution, another external collaborator this driver only consumes
	// the contract of.
	ReportErrorAddr   uintptr
	ReportTimeoutAddr uintptr

	mu          sync.Mutex
	lastReport  cerrors.Code
	reportCount int
}

// New creates an Environment with a SimpleWatchdog and a NopDebugger.
func New() *Environment {
	return &Environment{Watchdog: &SimpleWatchdog{}, Debugger: NopDebugger{}}
}

// ReportError is the sink InvokeReportError tail-calls into from emitted
// code. It has no return value by design: emitted code expects to unwind
// afterward via find_entry_fp, never to resume.
func (e *Environment) ReportError(code cerrors.Code) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastReport = code
	e.reportCount++
}

// LastReport returns the most recently reported error code and how many
// times ReportError has been called, for tests to assert against.
func (e *Environment) LastReport() (cerrors.Code, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport, e.reportCount
}

func (e *Environment) Spewf(format string, args ...interface{}) {
	if e.SpewEnabled {
		e.Debugger.OnDebugSpew(format, args...)
	}
}
