// Command jitbench compiles a small hand-assembled p-code function and
// reports the native code it produced, exercising the same pipeline a
// host's thunk patcher drives at runtime.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
	"github.com/rom4s/sourcepawn/pkg/execmem"
	"github.com/rom4s/sourcepawn/pkg/jit"
	"github.com/rom4s/sourcepawn/pkg/metrics"
	"github.com/rom4s/sourcepawn/pkg/pcode"
	"github.com/rom4s/sourcepawn/pkg/plugin"
)

type stderrDebugger struct{}

func (stderrDebugger) OnDebugSpew(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func main() {
	program := flag.String("program", "sum-to-n", "built-in demo program to compile: sum-to-n | minimal")
	regionSize := flag.Int("region-size", execmem.DefaultRegionSize, "executable memory pool size in bytes")
	spew := flag.Bool("spew", false, "trace each compiled p-code instruction to stderr")
	flag.Parse()

	code, err := builtinProgram(*program)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitbench:", err)
		os.Exit(1)
	}

	pool, err := execmem.NewPool(*regionSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitbench: allocate executable pool:", err)
		os.Exit(1)
	}
	defer pool.Free()

	reg := prometheus.NewRegistry()
	mreg := metrics.NewRegistry(reg)

	e := env.New()
	if *spew {
		e.Debugger = stderrDebugger{}
		e.SpewEnabled = true
	}

	rt := plugin.NewRuntime(*program, code)
	compiler := jit.NewCompiler(pool, mreg, e)

	fn, err := compiler.Compile(rt, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitbench: compile failed:", cerrors.CodeOf(err), err)
		os.Exit(1)
	}

	fmt.Printf("compiled %q: %d bytes at 0x%x\n", *program, fn.Chunk.Length, fn.Chunk.Address)
	fmt.Printf("  loop edges: %d\n", len(fn.LoopEdges))
	fmt.Printf("  cip map entries: %d\n", len(fn.CipMap))
	for _, e := range fn.CipMap {
		fmt.Printf("    native+%-4d -> cip %d\n", e.NativePC, e.Cip)
	}

	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitbench: gather metrics:", err)
		return
	}
	fmt.Println("metrics:")
	for _, mf := range families {
		printMetricFamily(mf)
	}
}

// printMetricFamily dumps one gathered metric family in a compact
// single-line-per-series form, using the proto getters directly rather
// than a text-format encoder so this stays stable across client_golang
// versions.
func printMetricFamily(mf *dto.MetricFamily) {
	for _, m := range mf.GetMetric() {
		var value float64
		switch {
		case m.GetCounter() != nil:
			value = m.GetCounter().GetValue()
		case m.GetHistogram() != nil:
			value = float64(m.GetHistogram().GetSampleCount())
		case m.GetGauge() != nil:
			value = m.GetGauge().GetValue()
		}
		fmt.Printf("  %s%s = %v\n", mf.GetName(), labelString(m.GetLabel()), value)
	}
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	out := "{"
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += l.GetName() + "=" + l.GetValue()
	}
	return out + "}"
}

// builtinProgram returns the raw p-code bytes for one of jitbench's demo
// programs, hand-assembled the way a plugin loader would have produced
// them from a compiled script.
func builtinProgram(name string) ([]byte, error) {
	switch name {
	case "minimal":
		return assemble(
			op(pcode.OpProc, 0),
			op(pcode.OpRetn),
			op(pcode.OpEndProc),
		), nil
	case "sum-to-n":
		// A loop with one forward conditional exit (cip 12 -> cip 30) and
		// one backward jump (cip 25 -> cip 11), so the compiled function
		// carries one loop edge. The body does not compute a sum and
		// never decrements: each pass pops back the value pushed on the
		// previous pass, so pri is 10 at every loop head and the loop
		// does not terminate if run. jitbench only compiles it.
		return assemble(
			op(pcode.OpProc, 0),
			op(pcode.OpZero),          // cip 5: pri = 0
			op(pcode.OpPushConst, 10), // cip 6: push 10
			op(pcode.OpPop),           // cip 11: pri = 10  (loop head, cip 11)
			op(pcode.OpJumpZero, 30),  // cip 12: if pri == 0 goto cip 30 (RETN)
			op(pcode.OpMoveAlt),       // cip 17: alt = pri
			op(pcode.OpPush),          // cip 18: push pri
			op(pcode.OpPushConst, 1),  // cip 19: push 1
			op(pcode.OpPop),           // cip 24: pri = 1
			op(pcode.OpJump, 11),      // cip 25: goto loop head (cip 11)
			op(pcode.OpRetn),          // cip 30
			op(pcode.OpEndProc),       // cip 31
		), nil
	default:
		return nil, fmt.Errorf("unknown demo program %q", name)
	}
}

func op(code pcode.Opcode, operand ...int32) []byte {
	if len(operand) == 0 {
		return []byte{byte(code)}
	}
	buf := make([]byte, 5)
	buf[0] = byte(code)
	binary.LittleEndian.PutUint32(buf[1:], uint32(operand[0]))
	return buf
}

func assemble(instrs ...[]byte) []byte {
	var out []byte
	for _, i := range instrs {
		out = append(out, i...)
	}
	return out
}
