package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dynoengine/dyno/hostfunc"
	"go.uber.org/zap"
)

// State is the load state of a Session.
type State int

const (
	// StateEmpty means the instance holds no script.
	StateEmpty State = iota
	// StateLoaded means the last reload succeeded.
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns one interpreter instance. Reload replaces the instance
// wholesale: the old one is closed before the new one is built.
type Session struct {
	exec     *Executor
	lang     Language
	cfg      sessionConfig
	registry *hostfunc.Registry

	stdout *sessionOutput
	stderr *sessionOutput

	inst   Instance
	script string
	state  State

	mu     sync.Mutex
	closed bool
}

type sessionConfig struct {
	timeout   time.Duration
	stdout    io.Writer
	stderr    io.Writer
	kvEnabled bool
	kvStore   *hostfunc.KVStore
	kvOptions []hostfunc.KVOption
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		timeout: 30 * time.Second,
	}
}

type SessionOption func(*sessionConfig)

func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

// WithSessionStdout streams script output to w as it is produced.
func WithSessionStdout(w io.Writer) SessionOption {
	return func(c *sessionConfig) {
		c.stdout = w
	}
}

// WithSessionStderr streams script warnings and errors to w.
func WithSessionStderr(w io.Writer) SessionOption {
	return func(c *sessionConfig) {
		c.stderr = w
	}
}

// WithSessionKV enables a KV store that lives as long as the session,
// surviving reloads.
func WithSessionKV(opts ...hostfunc.KVOption) SessionOption {
	return func(c *sessionConfig) {
		c.kvEnabled = true
		c.kvOptions = append(c.kvOptions, opts...)
	}
}

// WithSessionKVStore shares kv with the session.
func WithSessionKVStore(kv *hostfunc.KVStore) SessionOption {
	return func(c *sessionConfig) {
		c.kvStore = kv
	}
}

// NewSession creates a session holding a fresh, empty instance of lang.
func (e *Executor) NewSession(lang Language, opts ...SessionOption) (*Session, error) {
	if e.isClosed() {
		return nil, ErrExecutorClosed
	}

	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := e.registry.Clone()
	hostfunc.NewClock().Register(registry)
	if cfg.kvStore != nil {
		cfg.kvStore.Register(registry)
	} else if cfg.kvEnabled {
		hostfunc.NewKV(hostfunc.DefaultKVConfig(), cfg.kvOptions...).Register(registry)
	}

	s := &Session{
		exec:     e,
		lang:     lang,
		cfg:      cfg,
		registry: registry,
		stdout:   newSessionOutput(cfg.stdout),
		stderr:   newSessionOutput(cfg.stderr),
	}

	if err := s.rebuild(); err != nil {
		return nil, err
	}

	return s, nil
}

// rebuild closes the current instance, then builds a new one.
func (s *Session) rebuild() error {
	if s.inst != nil {
		s.exec.closeInstance(s.lang, s.inst)
		s.inst = nil
	}
	s.state = StateEmpty
	s.script = ""

	inst, err := s.exec.newInstance(s.lang, InstanceConfig{
		Stdout:   s.stdout,
		Stderr:   s.stderr,
		Registry: s.registry,
	})
	if err != nil {
		return newError(KindLoad, PhaseInit, s.lang, "", err)
	}
	s.inst = inst
	return nil
}

// Reload discards the current instance, builds a fresh one and executes the
// script at path in it. On failure the session keeps a fresh, empty
// instance; there is no rollback to the previous script.
func (s *Session) Reload(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	if err := s.rebuild(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return newError(KindLoad, PhaseCompile, s.lang, path, fmt.Errorf("read script: %w", err))
	}

	return s.load(ctx, path, string(data))
}

// ReloadSource is Reload for in-memory source; name identifies the script.
func (s *Session) ReloadSource(ctx context.Context, name, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	if err := s.rebuild(); err != nil {
		return err
	}

	return s.load(ctx, name, source)
}

func (s *Session) load(ctx context.Context, name, source string) error {
	s.stdout.Reset()
	s.stderr.Reset()

	prog, err := s.exec.compile(s.lang, name, source)
	if err != nil {
		return newError(KindLoad, PhaseCompile, s.lang, name, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.inst.Exec(ctx, prog); err != nil {
		loadErr := newError(KindLoad, PhaseRuntime, s.lang, name, timeoutError(ctx, s.cfg.timeout, err))
		// Top-level code may have run partway; start over from a clean instance.
		if rerr := s.rebuild(); rerr != nil {
			s.exec.logger.Warn("rebuild after failed load", zap.String("lang", s.lang.Name()), zap.Error(rerr))
		}
		return loadErr
	}

	s.script = name
	s.state = StateLoaded
	return nil
}

// Call invokes the global function name with args.
func (s *Session) Call(ctx context.Context, name string, args ...any) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.closed {
		return Result{Error: ErrSessionClosed, Duration: time.Since(start)}
	}

	if s.inst == nil {
		return Result{
			Error:    newError(KindCall, PhaseRuntime, s.lang, name, ErrNoInstance),
			Duration: time.Since(start),
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.stdout.Reset()
	s.stderr.Reset()

	value, err := s.inst.Call(ctx, name, args...)
	result := Result{
		Value:    value,
		Output:   s.stdout.String() + s.stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		result.Error = newError(KindCall, PhaseRuntime, s.lang, name, timeoutError(ctx, s.cfg.timeout, err))
	}
	return result
}

// Run executes code in the session's instance. Globals it defines persist.
func (s *Session) Run(ctx context.Context, code string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	const name = "<session>"

	if s.closed {
		return Result{Error: ErrSessionClosed, Duration: time.Since(start)}
	}

	if s.inst == nil {
		return Result{
			Error:    newError(KindEval, PhaseRuntime, s.lang, name, ErrNoInstance),
			Duration: time.Since(start),
		}
	}

	prog, err := s.exec.compile(s.lang, name, code)
	if err != nil {
		return Result{
			Error:    newError(KindEval, PhaseCompile, s.lang, name, err),
			Duration: time.Since(start),
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.stdout.Reset()
	s.stderr.Reset()

	result := Result{}
	if err := s.inst.Exec(ctx, prog); err != nil {
		result.Error = newError(KindEval, PhaseRuntime, s.lang, name, timeoutError(ctx, s.cfg.timeout, err))
	}
	result.Output = s.stdout.String() + s.stderr.String()
	result.Duration = time.Since(start)
	return result
}

// State reports whether a script is loaded.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Script returns the name of the loaded script, or "" when empty.
func (s *Session) Script() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script
}

func (s *Session) Language() Language {
	return s.lang
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.inst != nil {
		s.exec.closeInstance(s.lang, s.inst)
		s.inst = nil
	}
	s.state = StateEmpty
	s.script = ""

	return nil
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.timeout)
	}
	return ctx, func() {}
}

// sessionOutput buffers output of the current operation and optionally
// streams it to a caller-provided writer.
type sessionOutput struct {
	buf bytes.Buffer
	w   io.Writer
	mu  sync.Mutex
}

func newSessionOutput(w io.Writer) *sessionOutput {
	return &sessionOutput{w: w}
}

func (o *sessionOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Write(data)
	if o.w != nil {
		return o.w.Write(data)
	}
	return len(data), nil
}

func (o *sessionOutput) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *sessionOutput) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Reset()
}
