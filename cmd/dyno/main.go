// Command dyno hosts Lua scripts in reloadable sessions and evaluates
// JavaScript or TypeScript snippets in throwaway runtimes.
package main

func main() {
	Execute()
}
