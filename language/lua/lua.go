// Package lua provides the Lua language adapter for dyno, backed by gopher-lua.
package lua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	glua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Lua implements the executor.Language interface for Lua 5.1.
type Lua struct {
	opts glua.Options
}

// Option adjusts the gopher-lua state options of every instance.
type Option func(*glua.Options)

// WithCallStackSize sets the maximum call depth.
func WithCallStackSize(n int) Option {
	return func(o *glua.Options) {
		o.CallStackSize = n
	}
}

// WithRegistrySize sets the initial size of the value stack.
func WithRegistrySize(n int) Option {
	return func(o *glua.Options) {
		o.RegistrySize = n
	}
}

// New returns a Lua language adapter.
func New(opts ...Option) *Lua {
	l := &Lua{}
	for _, opt := range opts {
		opt(&l.opts)
	}
	return l
}

// Name returns "lua".
func (l *Lua) Name() string {
	return "lua"
}

func (l *Lua) Extensions() []string {
	return []string{".lua"}
}

// Program is a compiled Lua chunk.
type Program struct {
	name  string
	proto *glua.FunctionProto
}

func (p *Program) Name() string {
	return p.name
}

// Compile parses and compiles source. A leading "#" line (shebang) is
// commented out so line numbers stay intact.
func (l *Lua) Compile(name, source string) (executor.Program, error) {
	if strings.HasPrefix(source, "#") {
		source = "--" + source
	}

	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, err
	}
	proto, err := glua.Compile(chunk, name)
	if err != nil {
		return nil, err
	}
	return &Program{name: name, proto: proto}, nil
}

// NewInstance opens a state with the standard libraries, redirects print to
// cfg.Stdout and installs the host table.
func (l *Lua) NewInstance(cfg executor.InstanceConfig) (executor.Instance, error) {
	opts := l.opts
	opts.SkipOpenLibs = false
	L := glua.NewState(opts)

	inst := &Instance{L: L, stdout: cfg.Stdout, stderr: cfg.Stderr}
	if inst.stdout == nil {
		inst.stdout = io.Discard
	}
	if inst.stderr == nil {
		inst.stderr = io.Discard
	}

	L.SetGlobal("print", L.NewFunction(inst.print))

	if cfg.Registry != nil {
		host := L.NewTable()
		for name, fn := range cfg.Registry.All() {
			L.SetField(host, name, L.NewFunction(hostCall(fn)))
		}
		L.SetGlobal("host", host)
	}

	return inst, nil
}

// Instance is one Lua state.
type Instance struct {
	L      *glua.LState
	stdout io.Writer
	stderr io.Writer
	closed bool
}

var errClosed = errors.New("lua: instance closed")

func (i *Instance) Exec(ctx context.Context, prog executor.Program) error {
	if i.closed {
		return errClosed
	}
	p, ok := prog.(*Program)
	if !ok {
		return fmt.Errorf("lua: cannot run %T", prog)
	}

	defer i.attach(ctx)()

	fn := i.L.NewFunctionFromProto(p.proto)
	if err := i.L.CallByParam(glua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return convertError(err)
	}
	return nil
}

func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.closed {
		return nil, errClosed
	}

	fn, ok := i.L.GetGlobal(name).(*glua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", executor.ErrFunctionNotFound, name)
	}

	defer i.attach(ctx)()

	largs := make([]glua.LValue, len(args))
	for n, arg := range args {
		largs[n] = ToLua(i.L, arg)
	}

	if err := i.L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, convertError(err)
	}
	ret := i.L.Get(-1)
	i.L.Pop(1)
	return ToGo(ret), nil
}

func (i *Instance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.L.Close()
	return nil
}

// attach binds ctx to the state so cancellation stops the running chunk.
// The returned func detaches it.
func (i *Instance) attach(ctx context.Context) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	i.L.SetContext(ctx)
	return func() { i.L.RemoveContext() }
}

func (i *Instance) print(L *glua.LState) int {
	top := L.GetTop()
	parts := make([]string, top)
	for n := 1; n <= top; n++ {
		parts[n-1] = L.ToStringMeta(L.Get(n)).String()
	}
	fmt.Fprintln(i.stdout, strings.Join(parts, "\t"))
	return 0
}

func hostCall(fn hostfunc.Func) glua.LGFunction {
	return func(L *glua.LState) int {
		args := map[string]any{}
		if t, ok := L.Get(1).(*glua.LTable); ok {
			args = tableArgs(t)
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := fn(ctx, args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(ToLua(L, result))
		return 1
	}
}

// Error is a runtime error raised by Lua code.
type Error struct {
	Message    string
	StackTrace string
	Cause      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func convertError(err error) error {
	var apiErr *glua.ApiError
	if errors.As(err, &apiErr) {
		msg := ""
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		cause := apiErr.Cause
		if cause == nil {
			cause = err
		}
		return &Error{Message: msg, StackTrace: apiErr.StackTrace, Cause: cause}
	}
	return err
}
