// Package executor hosts embedded scripting languages.
//
// # Overview
//
// The executor compiles scripts, caches compiled programs and builds
// interpreter instances through the [Language] interface. It supports two
// lifetimes: hermetic evaluation (one instance per [Executor.Evaluate] call)
// and sessions (one long-lived instance that scripts are reloaded into).
//
// # Basic Usage
//
//	exec, err := executor.New(hostfunc.NewRegistry())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	result := exec.Evaluate(ctx, javascript.New(), `console.log("hello")`)
//	fmt.Println(result.Output)
//
// # Sessions
//
// A session owns one instance. Reload destroys it, builds a fresh one and
// runs the script there; Call invokes a global function:
//
//	session, err := exec.NewSession(lua.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Reload(ctx, "your_script.lua"); err != nil {
//	    log.Print(err) // session is now empty, not closed
//	}
//	result := session.Call(ctx, "interrogate")
//
// # Errors
//
// Failures are reported as [*Error] with a [Kind] (load, call, eval) and a
// [Phase] (init, compile, runtime). Use [IsKind] or errors.As to classify.
//
// # Language Interface
//
// To add support for a new language, implement the [Language] interface.
// See [github.com/dynoengine/dyno/language/lua] for an example.
package executor
