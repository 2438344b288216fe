package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dynoengine/dyno/hostfunc"
	"go.uber.org/zap"
)

// Result holds the output and metadata from code execution.
type Result struct {
	Output   string
	Value    any
	Duration time.Duration
	Error    error
}

// Executor compiles programs, caches them and builds interpreter instances.
type Executor struct {
	registry *hostfunc.Registry
	logger   *zap.Logger
	cfg      executorConfig
	compiled map[string]Program
	mu       sync.RWMutex
	closed   bool
}

// New creates an Executor with the given host function registry.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		compiled: make(map[string]Program),
	}

	for _, lang := range cfg.preflight {
		inst, err := lang.NewInstance(InstanceConfig{
			Stdout:   io.Discard,
			Stderr:   io.Discard,
			Registry: hostfunc.NewRegistry(),
		})
		if err != nil {
			return nil, fmt.Errorf("preflight %s: %w", lang.Name(), err)
		}
		inst.Close()
	}

	return e, nil
}

// Evaluate runs code in a fresh instance of lang and closes the instance
// before returning. Nothing defined by code survives the call.
func (e *Executor) Evaluate(ctx context.Context, lang Language, code string, opts ...Option) Result {
	start := time.Now()

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if e.isClosed() {
		return Result{Error: ErrExecutorClosed, Duration: time.Since(start)}
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	prog, err := e.compile(lang, cfg.name, code)
	if err != nil {
		return Result{
			Error:    newError(KindEval, PhaseCompile, lang, cfg.name, err),
			Duration: time.Since(start),
		}
	}

	var stdout, stderr bytes.Buffer
	inst, err := e.newInstance(lang, InstanceConfig{
		Stdout:   tee(&stdout, cfg.stdout),
		Stderr:   tee(&stderr, cfg.stderr),
		Registry: e.runRegistry(cfg),
	})
	if err != nil {
		return Result{
			Error:    newError(KindEval, PhaseInit, lang, cfg.name, err),
			Duration: time.Since(start),
		}
	}
	defer e.closeInstance(lang, inst)

	result := Result{}
	if err := inst.Exec(ctx, prog); err != nil {
		result.Error = newError(KindEval, PhaseRuntime, lang, cfg.name, timeoutError(ctx, cfg.timeout, err))
	}
	result.Output = stdout.String() + stderr.String()
	result.Duration = time.Since(start)
	return result
}

// Run is Evaluate under the name used by the CLI and server.
func (e *Executor) Run(ctx context.Context, lang Language, code string, opts ...Option) Result {
	return e.Evaluate(ctx, lang, code, opts...)
}

// runRegistry builds the registry one evaluation sees: the executor's
// functions plus the clock and, when enabled, the KV store.
func (e *Executor) runRegistry(cfg runConfig) *hostfunc.Registry {
	registry := e.registry.Clone()
	hostfunc.NewClock().Register(registry)

	if cfg.kvStore != nil {
		cfg.kvStore.Register(registry)
	} else if cfg.kvEnabled {
		hostfunc.NewKV(hostfunc.DefaultKVConfig(), cfg.kvOptions...).Register(registry)
	}
	return registry
}

// compile returns a cached Program, compiling if necessary.
func (e *Executor) compile(lang Language, name, source string) (Program, error) {
	if e.cfg.cacheSize <= 0 {
		return lang.Compile(name, source)
	}

	key := cacheKey(lang, name, source)

	e.mu.RLock()
	if prog, ok := e.compiled[key]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prog, ok := e.compiled[key]; ok {
		return prog, nil
	}

	prog, err := lang.Compile(name, source)
	if err != nil {
		return nil, err
	}

	if len(e.compiled) >= e.cfg.cacheSize {
		for k := range e.compiled {
			delete(e.compiled, k)
			break
		}
	}
	e.compiled[key] = prog
	return prog, nil
}

// CachedPrograms reports how many compiled programs are cached.
func (e *Executor) CachedPrograms() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Executor) newInstance(lang Language, cfg InstanceConfig) (Instance, error) {
	inst, err := lang.NewInstance(cfg)
	if err != nil {
		e.logger.Debug("instance create failed", zap.String("lang", lang.Name()), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("instance created", zap.String("lang", lang.Name()))
	return inst, nil
}

func (e *Executor) closeInstance(lang Language, inst Instance) {
	if err := inst.Close(); err != nil {
		e.logger.Warn("instance close failed", zap.String("lang", lang.Name()), zap.Error(err))
		return
	}
	e.logger.Debug("instance closed", zap.String("lang", lang.Name()))
}

func (e *Executor) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close drops the compile cache. Sessions created by e stay usable until
// they are closed themselves.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.compiled = make(map[string]Program)
	return nil
}

func cacheKey(lang Language, name, source string) string {
	sum := sha256.Sum256([]byte(source))
	return lang.Name() + "\x00" + name + "\x00" + hex.EncodeToString(sum[:])
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func timeoutError(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timeout after %v: %w", timeout, err)
	}
	return err
}
