package plugin

import (
	"sync"
	"testing"
)

type fakeCompiledFunction struct{ addr uintptr }

func (f fakeCompiledFunction) EntryAddress() uintptr { return f.addr }

func TestAcquireMethodIsIdempotent(t *testing.T) {
	rt := NewRuntime("test", make([]byte, 32))

	a := rt.AcquireMethod(4)
	b := rt.AcquireMethod(4)
	if a != b {
		t.Error("AcquireMethod should return the same MethodInfo for the same offset")
	}
}

func TestAcquireMethodOutOfRange(t *testing.T) {
	rt := NewRuntime("test", make([]byte, 8))
	if m := rt.AcquireMethod(100); m != nil {
		t.Error("expected nil for an out-of-range offset")
	}
	if m := rt.AcquireMethod(-1); m != nil {
		t.Error("expected nil for a negative offset")
	}
}

func TestWithCompileLockRunsOnlyOnceAcrossConcurrentCallers(t *testing.T) {
	m := NewMethodInfo(0)

	var calls int
	var mu sync.Mutex
	compile := func() (CompiledFunction, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return fakeCompiledFunction{addr: 0x1000}, nil
	}

	var wg sync.WaitGroup
	results := make([]CompiledFunction, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn, err := m.WithCompileLock(compile)
			if err != nil {
				t.Errorf("WithCompileLock: %v", err)
			}
			results[i] = fn
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("compile ran %d times, want 1", calls)
	}
	for i, r := range results {
		if r.EntryAddress() != 0x1000 {
			t.Errorf("result[%d].EntryAddress() = %#x, want 0x1000", i, r.EntryAddress())
		}
	}
}

func TestSetCompiledFunctionPanicsOnSecondCall(t *testing.T) {
	m := NewMethodInfo(0)
	m.SetCompiledFunction(fakeCompiledFunction{addr: 1})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic setting a compiled function twice")
		}
	}()
	m.SetCompiledFunction(fakeCompiledFunction{addr: 2})
}

func TestValidateSettlesOnValid(t *testing.T) {
	m := NewMethodInfo(0)
	if status := m.Validate(); status != Valid {
		t.Errorf("Validate() = %v, want Valid", status)
	}
	if status := m.Validate(); status != Valid {
		t.Errorf("second Validate() = %v, want Valid", status)
	}
}
