// Package metrics exposes the compile driver's ambient observability
// surface: a host embedding this JIT (a long-running process) wants to
// know compile latency, how much executable memory functions are
// consuming, and how many out-of-line paths are being synthesized,
// without that being part of the driver's functional contract.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the driver's metrics so a compiler can take a single
// *Registry dependency instead of wiring each collector individually.
// A nil *Registry is valid and every method becomes a no-op, mirroring
// the teacher's nil-receiver-friendly Runtime/Stats pattern in
// pkg/pvm/jit/runtime.go.
type Registry struct {
	compileDuration prometheus.Histogram
	codeBytes       prometheus.Counter
	oolPaths        prometheus.Counter
	compileErrors   *prometheus.CounterVec
}

// NewRegistry creates a Registry and registers its collectors with reg.
// Passing prometheus.NewRegistry() keeps this isolated from the global
// default registry in tests.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jitdriver",
			Name:      "compile_duration_seconds",
			Help:      "Wall-clock time spent compiling one function.",
			Buckets:   prometheus.DefBuckets,
		}),
		codeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jitdriver",
			Name:      "code_bytes_emitted_total",
			Help:      "Total bytes of native code linked into executable memory.",
		}),
		oolPaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jitdriver",
			Name:      "ool_paths_emitted_total",
			Help:      "Total out-of-line paths emitted across all compiles.",
		}),
		compileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitdriver",
			Name:      "compile_errors_total",
			Help:      "Compile-time errors by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.compileDuration, m.codeBytes, m.oolPaths, m.compileErrors)
	return m
}

func (m *Registry) ObserveCompile(seconds float64) {
	if m == nil {
		return
	}
	m.compileDuration.Observe(seconds)
}

func (m *Registry) AddCodeBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.codeBytes.Add(float64(n))
}

func (m *Registry) AddOOLPaths(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.oolPaths.Add(float64(n))
}

func (m *Registry) IncCompileError(code string) {
	if m == nil {
		return
	}
	m.compileErrors.WithLabelValues(code).Inc()
}
