// Package hostfunc provides Go functions that scripts can call.
//
// Every function in a [Registry] is exposed to both Lua and JavaScript as a
// member of the global host object and receives its single table/object
// argument as a map:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "Hello, " + args["name"].(string), nil
//	})
//
//	-- Lua
//	print(host.greet({name = "World"}))
//
//	// JavaScript
//	console.log(host.greet({name: "World"}))
//
// # Built-in Functions
//
// Clock: time_now and strftime via [Clock].
//
// Key-Value Store: kv_get, kv_set, kv_delete and kv_keys via [KVStore],
// with size limits from [KVConfig]. A store can be shared by several runs
// and sessions; it is the only state that can cross instances.
package hostfunc
