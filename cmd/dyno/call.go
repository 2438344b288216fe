package main

import (
	"encoding/json"
	"fmt"

	"github.com/dynoengine/dyno/internal/host"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <script> <function> [args...]",
	Short: "Load a script and call one of its functions",
	Long: `Reload a script into a fresh interpreter and call a global function.

Arguments are decoded as JSON when possible (42, true, "x", [1,2],
{"k":"v"}) and passed as plain strings otherwise. A non-nil return value
is printed as JSON. The language comes from --lang or the script's
extension.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringP("lang", "l", "", "Language: lua, js, ts (default: from file extension)")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	lang, _ := cmd.Flags().GetString("lang")
	script, function := args[0], args[1]

	language, err := getLanguage(lang, script)
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

	opts := sessionOptions(cmd, cfg)
	session, err := exec.NewSession(language, opts...)
	if err != nil {
		host.Report(logger, err)
		return errReported
	}
	defer session.Close()

	if err := session.Reload(cmd.Context(), script); err != nil {
		host.Report(logger, err)
		return errReported
	}

	result := session.Call(cmd.Context(), function, parseArgs(args[2:])...)
	if result.Error != nil {
		host.Report(logger, result.Error)
		return errReported
	}

	if result.Value != nil {
		out, err := json.Marshal(result.Value)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), result.Value)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}

// parseArgs decodes each argument as JSON, keeping it as a string when it
// is not valid JSON.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			out[i] = arg
			continue
		}
		out[i] = v
	}
	return out
}
