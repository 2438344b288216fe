package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/internal/host"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Evaluate code in a throwaway runtime",
	Long: `Evaluate Lua, JavaScript or TypeScript code hermetically: a fresh
interpreter is built for the run and destroyed afterwards.

Code can be provided via:
  - File argument: dyno run snippet.js
  - Inline flag: dyno run -l js -c 'console.log(1+1)'
  - Stdin: echo 'print(1+1)' | dyno run -l lua`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to evaluate")
	runCmd.Flags().StringP("lang", "l", "", "Language: lua, js, ts (default: from file extension)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	lang, _ := cmd.Flags().GetString("lang")

	var source, filename string

	switch {
	case code != "":
		source = code
	case len(args) > 0:
		filename = args[0]
		data, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		source = string(data)
	default:
		in := cmd.InOrStdin()
		// Without piped input there is nothing to run.
		if f, ok := in.(*os.File); ok {
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return cmd.Help()
			}
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		source = string(data)
		if source == "" {
			return cmd.Help()
		}
	}

	language, err := getLanguage(lang, filename)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	exec, err := newExecutor(cmd, logger)
	if err != nil {
		return err
	}
	defer exec.Close()

	opts := []executor.Option{
		executor.WithTimeout(cfg.Timeout),
		executor.WithStdout(cmd.OutOrStdout()),
		executor.WithStderr(cmd.ErrOrStderr()),
	}
	if filename != "" {
		opts = append(opts, executor.WithName(filepath.Base(filename)))
	}
	if kv := newKV(cfg); kv != nil {
		opts = append(opts, executor.WithKVStore(kv))
	}

	result := exec.Evaluate(cmd.Context(), language, source, opts...)
	if result.Error != nil {
		host.Report(logger, result.Error)
		return errReported
	}
	logger.Debug("evaluated", zap.String("lang", language.Name()), zap.Duration("duration", result.Duration))
	return nil
}
