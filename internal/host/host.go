// Package host runs the dyno program flow: reload a primary-language script
// into a session, call one of its functions, then evaluate a snippet in the
// secondary language. Failures are logged and the flow carries on.
package host

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	"go.uber.org/zap"
)

// Config describes one run of the flow.
type Config struct {
	Script   string
	Function string
	Args     []any

	Snippet     string
	SnippetName string

	Timeout time.Duration
	KV      *hostfunc.KVStore

	// Script output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Host owns the primary-language session.
type Host struct {
	exec      *executor.Executor
	session   *executor.Session
	secondary executor.Language
	cfg       Config
	logger    *zap.Logger
}

// New creates a Host with an empty session of primary. A nil logger
// discards reports.
func New(exec *executor.Executor, primary, secondary executor.Language, cfg Config, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnippetName == "" {
		cfg.SnippetName = "<snippet>"
	}

	opts := []executor.SessionOption{
		executor.WithSessionTimeout(cfg.Timeout),
		executor.WithSessionStdout(output(cfg.Stdout)),
		executor.WithSessionStderr(output(cfg.Stderr)),
	}
	if cfg.KV != nil {
		opts = append(opts, executor.WithSessionKVStore(cfg.KV))
	}

	session, err := exec.NewSession(primary, opts...)
	if err != nil {
		return nil, err
	}

	return &Host{
		exec:      exec,
		session:   session,
		secondary: secondary,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run performs reload, call and evaluate in order and returns every error it
// reported. Run never stops early; the returned slice is for callers that
// want to inspect what went wrong.
func (h *Host) Run(ctx context.Context) []error {
	var reported []error
	for _, step := range []func(context.Context) error{h.Reload, h.Call, h.Evaluate} {
		if err := step(ctx); err != nil {
			reported = append(reported, err)
		}
	}
	return reported
}

// Reload reloads the configured script, reporting any failure.
func (h *Host) Reload(ctx context.Context) error {
	err := h.session.Reload(ctx, h.cfg.Script)
	if err != nil {
		h.report(err)
		return err
	}
	h.logger.Debug("script loaded", zap.String("script", h.cfg.Script))
	return nil
}

// Call invokes the configured function, reporting any failure.
func (h *Host) Call(ctx context.Context) error {
	result := h.session.Call(ctx, h.cfg.Function, h.cfg.Args...)
	if result.Error != nil {
		h.report(result.Error)
		return result.Error
	}
	h.logger.Debug("function called",
		zap.String("function", h.cfg.Function),
		zap.Any("value", result.Value),
		zap.Duration("duration", result.Duration))
	return nil
}

// Evaluate runs the configured snippet hermetically, reporting any failure.
func (h *Host) Evaluate(ctx context.Context) error {
	opts := []executor.Option{
		executor.WithTimeout(h.cfg.Timeout),
		executor.WithName(h.cfg.SnippetName),
		executor.WithStdout(output(h.cfg.Stdout)),
		executor.WithStderr(output(h.cfg.Stderr)),
	}
	if h.cfg.KV != nil {
		opts = append(opts, executor.WithKVStore(h.cfg.KV))
	}

	result := h.exec.Evaluate(ctx, h.secondary, h.cfg.Snippet, opts...)
	if result.Error != nil {
		h.report(result.Error)
		return result.Error
	}
	h.logger.Debug("snippet evaluated", zap.Duration("duration", result.Duration))
	return nil
}

// Session exposes the underlying session for callers that drive it further.
func (h *Host) Session() *executor.Session {
	return h.session
}

func (h *Host) Close() error {
	return h.session.Close()
}

func (h *Host) report(err error) {
	Report(h.logger, err)
}

// Report logs err once at error level, with its kind, phase, language and
// target name when err is an *executor.Error.
func Report(logger *zap.Logger, err error) {
	var e *executor.Error
	if !errors.As(err, &e) {
		logger.Error("script host error", zap.Error(err))
		return
	}
	logger.Error(Message(e),
		zap.String("kind", string(e.Kind)),
		zap.String("phase", string(e.Phase)),
		zap.String("lang", e.Lang),
		zap.String("name", e.Name),
		zap.Error(e.Err))
}

// Message is the one-line summary logged for e. Instance construction
// failures read differently from script failures.
func Message(e *executor.Error) string {
	if e.Phase == executor.PhaseInit {
		return "could not create " + e.Lang + " instance"
	}
	switch e.Kind {
	case executor.KindLoad:
		if e.Phase == executor.PhaseCompile {
			return "script failed to compile"
		}
		return "script failed while loading"
	case executor.KindCall:
		if errors.Is(e.Err, executor.ErrFunctionNotFound) {
			return "function not found"
		}
		return "function call failed"
	case executor.KindEval:
		if e.Phase == executor.PhaseCompile {
			return "snippet failed to compile"
		}
		return "snippet evaluation failed"
	}
	return "script host error"
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
