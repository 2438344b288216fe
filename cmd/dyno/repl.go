package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dynoengine/dyno/executor"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL over a reloadable session",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Lines are run in the session's interpreter, so globals persist between
lines until the next reload.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Commands:
  :reload [path]        Destroy the interpreter and load path (default: --script)
  :call fn [args...]    Call a global function, args decoded as JSON
  :state                Show whether a script is loaded
  :help                 Show this list

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().StringP("lang", "l", "lua", "Language: lua, js, ts")
	replCmd.Flags().String("script", "", "Script to load at start and on a bare :reload")
	replCmd.Flags().String("history", "", "History file path (default: ~/.dyno_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	lang, _ := cmd.Flags().GetString("lang")
	script, _ := cmd.Flags().GetString("script")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".dyno_history")
	}

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

	exec, err := newExecutor(cmd, logger, executor.WithPreflight(language))
	if err != nil {
		return err
	}
	defer exec.Close()

	session, err := exec.NewSession(language, sessionOptions(cmd, cfg)...)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.Close()

	r := &repl{session: session, script: script, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	if script != "" {
		r.handle(cmd.Context(), ":reload")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(r.errOut, "dyno %s REPL (type 'exit' to quit, :help for commands)\n", language.Name())

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(r.out)
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		if r.handle(cmd.Context(), line) {
			break
		}
	}
	return nil
}

// repl interprets one input line at a time against a session. Script
// output streams through the session's writers.
type repl struct {
	session *executor.Session
	script  string
	out     io.Writer
	errOut  io.Writer
}

// handle runs line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if line == "exit" || line == "quit" {
		return true
	}

	if !strings.HasPrefix(line, ":") {
		result := r.session.Run(ctx, line)
		if result.Error != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", result.Error)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case ":reload":
		path := r.script
		if len(fields) > 1 {
			path = fields[1]
		}
		if path == "" {
			fmt.Fprintln(r.errOut, "Error: :reload needs a path")
			return false
		}
		r.script = path
		if err := r.session.Reload(ctx, path); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(r.errOut, "loaded %s\n", path)

	case ":call":
		if len(fields) < 2 {
			fmt.Fprintln(r.errOut, "Error: :call needs a function name")
			return false
		}
		result := r.session.Call(ctx, fields[1], parseArgs(fields[2:])...)
		if result.Error != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", result.Error)
			return false
		}
		if result.Value != nil {
			data, err := json.Marshal(result.Value)
			if err != nil {
				fmt.Fprintf(r.out, "=> %v\n", result.Value)
			} else {
				fmt.Fprintf(r.out, "=> %s\n", data)
			}
		}

	case ":state":
		if r.session.State() == executor.StateLoaded {
			fmt.Fprintf(r.out, "loaded %s\n", r.session.Script())
		} else {
			fmt.Fprintln(r.out, "empty")
		}

	case ":help":
		fmt.Fprintln(r.out, ":reload [path]  :call fn [args...]  :state  exit")

	default:
		fmt.Fprintf(r.errOut, "Error: unknown command %s\n", fields[0])
	}
	return false
}
