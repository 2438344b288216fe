package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// mockLanguage implements Language for testing executor logic without
// real interpreters. Programs are line based:
//
//	def NAME     defines a callable global
//	print TEXT   writes TEXT and a newline to stdout
//	warn TEXT    writes TEXT and a newline to stderr
//	fail TEXT    returns a runtime error
//	hang         blocks until the context is done
//	host NAME    calls the host function NAME and prints its result
//
// A program whose first line is "syntax error" fails to compile.
type mockLanguage struct {
	mu       sync.Mutex
	initErr  error
	created  int
	closed   int
	live     int
	maxLive  int
	compiles int
	events   []string
}

func newMockLanguage() *mockLanguage {
	return &mockLanguage{}
}

func (m *mockLanguage) Name() string {
	return "mock"
}

func (m *mockLanguage) Extensions() []string {
	return []string{".mock"}
}

type mockProgram struct {
	name  string
	lines []string
}

func (p *mockProgram) Name() string {
	return p.name
}

func (m *mockLanguage) Compile(name, source string) (Program, error) {
	m.mu.Lock()
	m.compiles++
	m.mu.Unlock()

	if strings.HasPrefix(source, "syntax error") {
		return nil, fmt.Errorf("%s:1: unexpected symbol", name)
	}
	var lines []string
	for _, line := range strings.Split(source, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return &mockProgram{name: name, lines: lines}, nil
}

func (m *mockLanguage) NewInstance(cfg InstanceConfig) (Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initErr != nil {
		return nil, m.initErr
	}
	m.created++
	m.live++
	if m.live > m.maxLive {
		m.maxLive = m.live
	}
	id := m.created
	m.events = append(m.events, fmt.Sprintf("open %d", id))

	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &mockInstance{
		id:      id,
		lang:    m,
		cfg:     cfg,
		stdout:  stdout,
		stderr:  stderr,
		globals: make(map[string]bool),
	}, nil
}

func (m *mockLanguage) stats() (created, closed, live, maxLive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.closed, m.live, m.maxLive
}

func (m *mockLanguage) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type mockInstance struct {
	id      int
	lang    *mockLanguage
	cfg     InstanceConfig
	stdout  io.Writer
	stderr  io.Writer
	globals map[string]bool
	closed  bool
}

func (i *mockInstance) Exec(ctx context.Context, prog Program) error {
	if i.closed {
		return errors.New("mock: instance closed")
	}
	p := prog.(*mockProgram)
	for _, line := range p.lines {
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "def":
			i.globals[arg] = true
		case "print":
			fmt.Fprintln(i.stdout, arg)
		case "warn":
			fmt.Fprintln(i.stderr, arg)
		case "fail":
			return errors.New(arg)
		case "hang":
			<-ctx.Done()
			return ctx.Err()
		case "host":
			fn, ok := i.cfg.Registry.Get(arg)
			if !ok {
				return fmt.Errorf("host.%s is not defined", arg)
			}
			v, err := fn(ctx, map[string]any{})
			if err != nil {
				return err
			}
			fmt.Fprintln(i.stdout, v)
		default:
			return fmt.Errorf("unknown command %q", cmd)
		}
	}
	return nil
}

func (i *mockInstance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.closed {
		return nil, errors.New("mock: instance closed")
	}
	if !i.globals[name] {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	fmt.Fprintf(i.stdout, "called %s%v\n", name, args)
	return name, nil
}

func (i *mockInstance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true

	i.lang.mu.Lock()
	defer i.lang.mu.Unlock()
	i.lang.closed++
	i.lang.live--
	i.lang.events = append(i.lang.events, fmt.Sprintf("close %d", i.id))
	return nil
}

func (i *mockInstance) globalNames() []string {
	names := make([]string, 0, len(i.globals))
	for name := range i.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
