package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/internal/host"
	"github.com/dynoengine/dyno/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch <script>",
	Short: "Reload a script every time it changes",
	Long: `Load a script, then destroy and rebuild its interpreter on every save.

With --function the function is called after each successful reload.
Load and call errors are reported and watching continues. Stop with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringP("lang", "l", "", "Language: lua, js, ts (default: from file extension)")
	watchCmd.Flags().StringP("function", "f", "", "Function to call after each reload")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before reloading (default from config: 100ms)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	lang, _ := cmd.Flags().GetString("lang")
	script := args[0]

	language, err := getLanguage(lang, script)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	function, _ := cmd.Flags().GetString("function")
	debounce := cfg.WatchDebounce
	if cmd.Flags().Changed("debounce") {
		debounce, _ = cmd.Flags().GetDuration("debounce")
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

	session, err := exec.NewSession(language, sessionOptions(cmd, cfg)...)
	if err != nil {
		host.Report(logger, err)
		return errReported
	}
	defer session.Close()

	w, err := watch.New(script, watch.WithDebounce(debounce), watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reload := func(path string) {
		reloadAndCall(ctx, logger, session, path, function)
	}

	reload(w.Path())
	logger.Info("watching", zap.String("script", w.Path()))

	if err := w.Run(ctx, reload); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func reloadAndCall(ctx context.Context, logger *zap.Logger, session *executor.Session, path, function string) {
	if err := session.Reload(ctx, path); err != nil {
		host.Report(logger, err)
		return
	}
	logger.Info("reloaded", zap.String("script", path))

	if function == "" {
		return
	}
	if result := session.Call(ctx, function); result.Error != nil {
		host.Report(logger, result.Error)
	}
}
