package executor

import (
	"context"
	"io"

	"github.com/dynoengine/dyno/hostfunc"
)

// Language is the capability set a scripting language provides to the host.
// Implement this interface to add support for new languages.
type Language interface {
	// Name returns a unique identifier for this language (e.g., "lua", "javascript").
	// Used as part of the compile cache key.
	Name() string

	// Extensions lists the file extensions (with dot) handled by this language.
	Extensions() []string

	// Compile parses source into a Program. A non-nil error is a syntax error.
	// Programs must be reusable by any Instance of the same language.
	Compile(name, source string) (Program, error)

	// NewInstance builds a fresh interpreter with its own globals and heap.
	NewInstance(cfg InstanceConfig) (Instance, error)
}

// Program is a compiled chunk produced by Language.Compile.
type Program interface {
	Name() string
}

// Instance is one live interpreter. Instances are not safe for concurrent use.
type Instance interface {
	// Exec runs prog's top-level code in this instance's global namespace.
	Exec(ctx context.Context, prog Program) error

	// Call invokes the global function name. It returns an error wrapping
	// ErrFunctionNotFound when name is unset or not callable.
	Call(ctx context.Context, name string, args ...any) (any, error)

	// Close releases the interpreter. Close is idempotent.
	Close() error
}

// InstanceConfig wires an instance to the host.
type InstanceConfig struct {
	// Stdout receives the language's print/console.log output.
	Stdout io.Writer
	// Stderr receives warnings and console.error output.
	Stderr io.Writer
	// Registry functions are exposed to scripts as host.<name>.
	Registry *hostfunc.Registry
}
