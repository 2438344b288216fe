// Package bench measures evaluation, reload and call costs for both engines.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=3x ./bench/
package bench

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	"github.com/dynoengine/dyno/language/javascript"
	"github.com/dynoengine/dyno/language/lua"
)

const luaScript = `
function interrogate(n)
  local sum = 0
  for i = 1, n do sum = sum + i * i end
  return sum
end
`

// --- Evaluate: every call builds and tears down a fresh runtime ---

func BenchmarkEvaluate_Lua(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry())
	defer exec.Close()
	lang := lua.New()

	for i := 0; i < b.N; i++ {
		exec.Evaluate(context.Background(), lang, "x = 1")
	}
}

func BenchmarkEvaluate_JavaScript(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry())
	defer exec.Close()
	lang := javascript.New()

	for i := 0; i < b.N; i++ {
		exec.Evaluate(context.Background(), lang, "var x = 1")
	}
}

func BenchmarkEvaluate_TypeScript(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry())
	defer exec.Close()
	lang := javascript.NewTypeScript()

	for i := 0; i < b.N; i++ {
		exec.Evaluate(context.Background(), lang, "const x: number = 1")
	}
}

func BenchmarkEvaluate_JavaScript_NoCache(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry(), executor.WithCacheSize(0))
	defer exec.Close()
	lang := javascript.New()

	for i := 0; i < b.N; i++ {
		exec.Evaluate(context.Background(), lang, "var x = 1")
	}
}

func BenchmarkEvaluate_JavaScript_HostFunction(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry())
	defer exec.Close()
	lang := javascript.New()

	for i := 0; i < b.N; i++ {
		exec.Evaluate(context.Background(), lang, `host.kv_set({key: "k", value: "v"})`, executor.WithKV())
	}
}

// --- Sessions: reload destroys the interpreter, call reuses it ---

func BenchmarkSession_Reload(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry())
	defer exec.Close()

	session, _ := exec.NewSession(lua.New())
	defer session.Close()

	for i := 0; i < b.N; i++ {
		session.ReloadSource(context.Background(), "script.lua", luaScript)
	}
}

func BenchmarkSession_Call(b *testing.B) {
	exec, _ := executor.New(hostfunc.NewRegistry())
	defer exec.Close()

	session, _ := exec.NewSession(lua.New())
	defer session.Close()
	session.ReloadSource(context.Background(), "script.lua", luaScript)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		session.Call(context.Background(), "interrogate", 1000)
	}
}

// =============================================================================
// COMPARISON TEST - Human readable output
// =============================================================================

func TestEngineComparison(t *testing.T) {
	fmt.Println()
	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Println()

	type result struct {
		name string
		cold time.Duration
		warm time.Duration
	}
	var results []result

	measure := func(runs int, fn func()) time.Duration {
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			fn()
			total += time.Since(start)
		}
		return total / time.Duration(runs)
	}

	runs := 5
	exec, err := executor.New(hostfunc.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer exec.Close()

	for _, c := range []struct {
		name string
		lang executor.Language
		code string
	}{
		{"lua", lua.New(), "print(1)"},
		{"javascript", javascript.New(), "console.log(1)"},
		{"typescript", javascript.NewTypeScript(), "const n: number = 1; console.log(n)"},
	} {
		cold := measure(1, func() {
			exec.Evaluate(context.Background(), c.lang, c.code)
		})
		warm := measure(runs, func() {
			exec.Evaluate(context.Background(), c.lang, c.code)
		})
		results = append(results, result{name: c.name, cold: cold, warm: warm})
	}

	session, err := exec.NewSession(lua.New())
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()
	reload := measure(runs, func() {
		session.ReloadSource(context.Background(), "script.lua", luaScript)
	})
	call := measure(runs, func() {
		session.Call(context.Background(), "interrogate", 1000)
	})

	fmt.Println("┌────────────────────────┬───────────┬───────────┐")
	fmt.Println("│ Evaluate               │ Cold      │ Warm      │")
	fmt.Println("├────────────────────────┼───────────┼───────────┤")
	for _, r := range results {
		fmt.Printf("│ %-22s │ %9s │ %9s │\n", r.name, formatDuration(r.cold), formatDuration(r.warm))
	}
	fmt.Println("└────────────────────────┴───────────┴───────────┘")
	fmt.Printf("Lua session reload: %s, call: %s\n", formatDuration(reload), formatDuration(call))
	fmt.Println()

	t.Log("Benchmark complete - see stdout for results")
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
}

// =============================================================================
// MEMORY BENCHMARK
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	exec, _ := executor.New(hostfunc.NewRegistry())
	session, _ := exec.NewSession(lua.New())

	// Each reload drops the previous interpreter.
	for i := 0; i < 50; i++ {
		session.ReloadSource(context.Background(), "script.lua", luaScript)
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	session.Close()
	exec.Close()

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d KB", before/1024)
	t.Logf("Memory after 50 reloads: %d KB", after/1024)
	t.Logf("Memory after GC: %d KB", afterGC/1024)
}

// =============================================================================
// COMPILE CACHE BENCHMARK (simulates an edit-reload loop)
// =============================================================================

func TestCompileCacheBenefit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(luaScript), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(opts ...executor.ExecutorOption) []time.Duration {
		exec, _ := executor.New(hostfunc.NewRegistry(), opts...)
		defer exec.Close()
		session, _ := exec.NewSession(lua.New())
		defer session.Close()

		var times []time.Duration
		for i := 0; i < 5; i++ {
			start := time.Now()
			session.Reload(context.Background(), path)
			times = append(times, time.Since(start))
		}
		return times
	}

	cached := run()
	uncached := run(executor.WithCacheSize(0))

	fmt.Println()
	fmt.Println("=== Compile cache (unchanged script reloaded 5 times) ===")
	for i := range cached {
		fmt.Printf("Reload %d: cached %v, uncached %v\n", i+1, cached[i], uncached[i])
	}
	fmt.Println()

	t.Log("Compile cache test complete")
}
