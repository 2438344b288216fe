package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	"github.com/dynoengine/dyno/internal/config"
	"github.com/dynoengine/dyno/internal/host"
	"github.com/dynoengine/dyno/internal/logging"
	"github.com/dynoengine/dyno/language/javascript"
	"github.com/dynoengine/dyno/language/lua"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "dyno",
	Short: "Lua and JavaScript script host",
	Long: `dyno - Host Lua scripts and JavaScript snippets in one process.

Without a subcommand dyno reloads the configured Lua script into a fresh
interpreter, calls its entry function (interrogate by default) and then
evaluates a JavaScript snippet in a throwaway runtime. Script errors are
reported on stderr and never stop the run.

Settings come from dyno.yaml (or --config / DYNO_CONFIG) and can be
overridden with flags.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDemo,
}

// errReported means the failure has already been logged.
var errReported = errors.New("errors reported")

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: $DYNO_CONFIG or ./dyno.yaml)")
	pf.Duration("timeout", 0, "Per-operation timeout, 0 disables (default from config: 30s)")
	pf.Bool("kv", false, "Expose host.kv_* functions to scripts")
	pf.Bool("no-cache", false, "Disable compilation cache")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: console, json")

	f := rootCmd.Flags()
	f.String("script", "", "Lua script to reload (default from config: script.lua)")
	f.String("function", "", "Function to call after reload (default: interrogate)")
	f.String("snippet", "", "Snippet to evaluate after the call")
	f.String("snippet-lang", "", "Snippet language: javascript, typescript")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, os.Getenv)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("kv") {
		cfg.KV, _ = flags.GetBool("kv")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	overrideString(cmd, "script", &cfg.Script)
	overrideString(cmd, "function", &cfg.Function)
	overrideString(cmd, "snippet", &cfg.Snippet)
	overrideString(cmd, "snippet-lang", &cfg.SnippetLang)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(cmd *cobra.Command, name string, dst *string) {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String()
	}
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
}

func newExecutor(cmd *cobra.Command, logger *zap.Logger, extra ...executor.ExecutorOption) (*executor.Executor, error) {
	var opts []executor.ExecutorOption
	opts = append(opts, executor.WithLogger(logger))
	opts = append(opts, extra...)
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		opts = append(opts, executor.WithCacheSize(0))
	}
	return executor.New(hostfunc.NewRegistry(), opts...)
}

func newKV(cfg *config.Config) *hostfunc.KVStore {
	if !cfg.KV {
		return nil
	}
	return hostfunc.NewKV(hostfunc.DefaultKVConfig())
}

func sessionOptions(cmd *cobra.Command, cfg *config.Config) []executor.SessionOption {
	opts := []executor.SessionOption{
		executor.WithSessionTimeout(cfg.Timeout),
		executor.WithSessionStdout(cmd.OutOrStdout()),
		executor.WithSessionStderr(cmd.ErrOrStderr()),
	}
	if kv := newKV(cfg); kv != nil {
		opts = append(opts, executor.WithSessionKVStore(kv))
	}
	return opts
}

func languages() []executor.Language {
	return []executor.Language{lua.New(), javascript.New(), javascript.NewTypeScript()}
}

var languageAliases = map[string]string{
	"js": "javascript",
	"ts": "typescript",
}

// getLanguage resolves a language by name or alias, falling back to the
// file extension when no name is given.
func getLanguage(langFlag string, filename string) (executor.Language, error) {
	name := strings.ToLower(langFlag)
	if alias, ok := languageAliases[name]; ok {
		name = alias
	}

	all := languages()
	if name == "" && filename != "" {
		ext := strings.ToLower(filepath.Ext(filename))
		lang, ok := lo.Find(all, func(l executor.Language) bool {
			return lo.Contains(l.Extensions(), ext)
		})
		if ok {
			return lang, nil
		}
	}

	if name == "" {
		return nil, fmt.Errorf("language required: use --lang lua, js or ts")
	}

	lang, ok := lo.Find(all, func(l executor.Language) bool {
		return l.Name() == name
	})
	if !ok {
		names := lo.Map(all, func(l executor.Language, _ int) string { return l.Name() })
		return nil, fmt.Errorf("unknown language %q: use %s", langFlag, strings.Join(names, ", "))
	}
	return lang, nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	snippetLang, err := getLanguage(cfg.SnippetLang, "")
	if err != nil {
		return err
	}

	exec, err := newExecutor(cmd, logger)
	if err != nil {
		return err
	}
	defer exec.Close()

	h, err := host.New(exec, lua.New(), snippetLang, host.Config{
		Script:   cfg.Script,
		Function: cfg.Function,
		Snippet:  cfg.Snippet,
		Timeout:  cfg.Timeout,
		KV:       newKV(cfg),
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
	}, logger)
	if err != nil {
		// Not even an empty interpreter could be built; report and carry on
		// like any other script failure.
		host.Report(logger, err)
		return nil
	}
	defer h.Close()

	reported := h.Run(cmd.Context())
	logger.Debug("run finished", zap.Int("errors", len(reported)))
	return nil
}
