// Package dyno hosts Lua scripts and JavaScript snippets in one Go process.
//
// # Overview
//
// A Lua script is loaded into a session whose interpreter is destroyed and
// rebuilt on every reload, so no state survives between loads. JavaScript
// (and TypeScript) snippets run hermetically: each evaluation gets its own
// runtime, which is torn down when the evaluation ends.
//
// # Basic Usage
//
//	exec, _ := executor.New(hostfunc.NewRegistry())
//	defer exec.Close()
//
//	// Reload a script and call one of its functions
//	session, _ := exec.NewSession(lua.New())
//	defer session.Close()
//	if err := session.Reload(ctx, "script.lua"); err != nil {
//	    log.Println(err) // load error; the session is empty but usable
//	}
//	result := session.Call(ctx, "interrogate")
//
//	// Hermetic evaluation
//	result = exec.Evaluate(ctx, javascript.New(), `console.log("hi")`)
//	fmt.Println(result.Output)
//
// # Errors
//
// Failures are reported as *executor.Error values with a kind (load, call
// or eval) and the phase they happened in. None of them poison the
// executor or the session; the next operation starts clean.
//
// # Host Functions
//
//	// Key-value store shared by a session's reloads
//	session, _ := exec.NewSession(lua.New(), executor.WithSessionKV())
//
// See the [executor], [hostfunc], [language/lua], and [language/javascript]
// packages for detailed API documentation.
package dyno
