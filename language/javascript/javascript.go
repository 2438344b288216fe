// Package javascript provides the JavaScript and TypeScript language adapters
// for dyno, backed by goja.
package javascript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	esbuild "github.com/evanw/esbuild/pkg/api"
)

// JavaScript implements the executor.Language interface for JavaScript execution.
type JavaScript struct {
	typescript bool
	strict     bool
}

// Option configures the adapter.
type Option func(*JavaScript)

// WithStrict compiles every program in strict mode.
func WithStrict() Option {
	return func(j *JavaScript) {
		j.strict = true
	}
}

// New returns a JavaScript language adapter.
func New(opts ...Option) *JavaScript {
	j := &JavaScript{}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// NewTypeScript returns an adapter that strips TypeScript syntax with esbuild
// before compiling.
func NewTypeScript(opts ...Option) *JavaScript {
	j := New(opts...)
	j.typescript = true
	return j
}

// Name returns "javascript" or "typescript".
func (j *JavaScript) Name() string {
	if j.typescript {
		return "typescript"
	}
	return "javascript"
}

func (j *JavaScript) Extensions() []string {
	if j.typescript {
		return []string{".ts"}
	}
	return []string{".js", ".mjs", ".cjs"}
}

// Program is a compiled goja program.
type Program struct {
	name string
	prog *goja.Program
}

func (p *Program) Name() string {
	return p.name
}

func (j *JavaScript) Compile(name, source string) (executor.Program, error) {
	if j.typescript {
		var err error
		if source, err = transpile(name, source); err != nil {
			return nil, err
		}
	}

	prog, err := goja.Compile(name, source, j.strict)
	if err != nil {
		return nil, err
	}
	return &Program{name: name, prog: prog}, nil
}

func transpile(name, source string) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     esbuild.LoaderTS,
		Sourcefile: name,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%s:%d:%d: %s", name, m.Location.Line, m.Location.Column, m.Text))
			} else {
				msgs = append(msgs, m.Text)
			}
		}
		return "", fmt.Errorf("SyntaxError: %s", strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// NewInstance builds a runtime with require, a console printing to
// cfg.Stdout/cfg.Stderr and the host object.
func (j *JavaScript) NewInstance(cfg executor.InstanceConfig) (executor.Instance, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	p := &printer{stdout: cfg.Stdout, stderr: cfg.Stderr}
	if p.stdout == nil {
		p.stdout = io.Discard
	}
	if p.stderr == nil {
		p.stderr = io.Discard
	}

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(p))
	registry.Enable(vm)
	console.Enable(vm)

	inst := &Instance{vm: vm}

	if cfg.Registry != nil {
		host := vm.NewObject()
		for name, fn := range cfg.Registry.All() {
			if err := host.Set(name, inst.hostCall(fn)); err != nil {
				return nil, fmt.Errorf("bind host.%s: %w", name, err)
			}
		}
		if err := vm.Set("host", host); err != nil {
			return nil, fmt.Errorf("bind host: %w", err)
		}
	}

	return inst, nil
}

// Instance is one goja runtime.
type Instance struct {
	vm     *goja.Runtime
	ctx    context.Context
	closed bool
}

var errClosed = errors.New("javascript: instance closed")

func (i *Instance) Exec(ctx context.Context, prog executor.Program) error {
	if i.closed {
		return errClosed
	}
	p, ok := prog.(*Program)
	if !ok {
		return fmt.Errorf("javascript: cannot run %T", prog)
	}

	defer i.attach(ctx)()

	_, err := i.vm.RunProgram(p.prog)
	return err
}

func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.closed {
		return nil, errClosed
	}

	fn, ok := goja.AssertFunction(i.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", executor.ErrFunctionNotFound, name)
	}

	defer i.attach(ctx)()

	jsArgs := make([]goja.Value, len(args))
	for n, arg := range args {
		jsArgs[n] = i.vm.ToValue(arg)
	}

	ret, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, err
	}
	return export(ret), nil
}

// Close drops the runtime. goja has no explicit teardown, so Close clears
// the interrupt flag and releases the reference for the garbage collector.
func (i *Instance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.vm.ClearInterrupt()
	i.vm = nil
	return nil
}

// attach interrupts the runtime when ctx is done. The returned func
// detaches and clears any pending interrupt.
func (i *Instance) attach(ctx context.Context) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	i.ctx = ctx
	if ctx.Done() == nil {
		return func() { i.ctx = nil }
	}

	vm := i.vm
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	return func() {
		stop()
		vm.ClearInterrupt()
		i.ctx = nil
	}
}

func (i *Instance) hostCall(fn hostfunc.Func) func(goja.FunctionCall) goja.Value {
	vm := i.vm
	return func(call goja.FunctionCall) goja.Value {
		args := map[string]any{}
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			if m, ok := export(arg).(map[string]any); ok {
				args = m
			}
		}

		ctx := i.ctx
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := fn(ctx, args)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(result)
	}
}

// export converts a goja value to plain Go values. Integral numbers come
// back as int64, objects as map[string]any and arrays as []any.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// printer routes console output: log, info and debug to stdout; warn and
// error to stderr.
type printer struct {
	stdout io.Writer
	stderr io.Writer
}

func (p *printer) Log(s string) {
	fmt.Fprintln(p.stdout, s)
}

func (p *printer) Warn(s string) {
	fmt.Fprintln(p.stderr, s)
}

func (p *printer) Error(s string) {
	fmt.Fprintln(p.stderr, s)
}
