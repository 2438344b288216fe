package executor

import (
	"io"
	"time"

	"github.com/dynoengine/dyno/hostfunc"
	"go.uber.org/zap"
)

// Option configures a single evaluation.
type Option func(*runConfig)

type runConfig struct {
	timeout   time.Duration
	name      string
	stdout    io.Writer
	stderr    io.Writer
	kvEnabled bool
	kvStore   *hostfunc.KVStore
	kvOptions []hostfunc.KVOption
}

func defaultRunConfig() runConfig {
	return runConfig{
		timeout: 30 * time.Second,
		name:    "<eval>",
	}
}

// WithTimeout sets the maximum execution time. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// WithName sets the chunk name used in error messages and stack traces.
func WithName(name string) Option {
	return func(c *runConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithStdout streams script output to w in addition to Result.Output.
func WithStdout(w io.Writer) Option {
	return func(c *runConfig) {
		c.stdout = w
	}
}

// WithStderr streams script warnings and errors to w in addition to Result.Output.
func WithStderr(w io.Writer) Option {
	return func(c *runConfig) {
		c.stderr = w
	}
}

// WithKV enables a key-value store private to this evaluation.
func WithKV(opts ...hostfunc.KVOption) Option {
	return func(c *runConfig) {
		c.kvEnabled = true
		c.kvOptions = append(c.kvOptions, opts...)
	}
}

// WithKVStore provides a custom KV store for persistence across runs.
func WithKVStore(kv *hostfunc.KVStore) Option {
	return func(c *runConfig) {
		c.kvStore = kv
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	logger    *zap.Logger
	cacheSize int        // Max compiled programs kept, 0 disables caching
	preflight []Language // Languages whose instance creation is checked at startup
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		cacheSize: 256,
	}
}

// WithLogger sets the logger used for instance lifecycle events.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = logger
	}
}

// WithCacheSize bounds the compiled program cache. Zero disables caching.
func WithCacheSize(n int) ExecutorOption {
	return func(c *executorConfig) {
		c.cacheSize = n
	}
}

// WithPreflight builds and closes one instance of each language when the
// Executor is created, so a broken runtime fails New rather than the first run.
func WithPreflight(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.preflight = langs
	}
}
