// Package main provides the ollacode entrypoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollacode/ollacode/app"
	"github.com/ollacode/ollacode/config"
	"github.com/ollacode/ollacode/frontend/telegram"
	"github.com/ollacode/ollacode/frontend/terminal"
	"github.com/ollacode/ollacode/logging"
)

var version = "0.1.0"

type flags struct {
	model       string
	workspace   string
	autoApprove bool
	limit       int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "ollacode",
		Short: "Coding assistant for locally served Ollama models",
		Long: `ollacode pairs a local Ollama model with tools that read, search and
edit files in a workspace and run commands there. Every file change and
command is shown for approval before it runs.

Without a subcommand it starts the interactive terminal session.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTerminal(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVarP(&f.model, "model", "m", "", "Ollama model tag (overrides OLLAMA_MODEL)")
	root.PersistentFlags().StringVarP(&f.workspace, "workspace", "w", "", "workspace directory (overrides WORKSPACE_DIR)")
	root.Flags().BoolVar(&f.autoApprove, "auto-approve", false, "run file changes and commands without asking")

	root.AddCommand(telegramCmd(f), auditCmd(f))
	return root
}

func telegramCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Serve ollacode as a Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTelegram(cmd.Context(), f)
		},
	}
}

func auditCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent recorded tool calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if cfg.AuditDB == "" {
				return fmt.Errorf("audit trail is disabled: set AUDIT_DB")
			}
			rt, err := app.New(cfg, logging.Nop())
			if err != nil {
				return err
			}
			defer rt.Close()

			recs, err := rt.RecentToolCalls(cmd.Context(), f.limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := len(recs) - 1; i >= 0; i-- {
				r := recs[i]
				status := "ok"
				if r.IsError {
					status = "error"
				}
				fmt.Fprintf(out, "%s  %s  %-14s %-6s %-11s %s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.SessionID, r.Tool, status, r.Approval, r.Arguments)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 20, "number of records to print")
	return cmd
}

// loadConfig reads .env and the environment, then applies flag overrides.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.workspace != "" {
		cfg.WorkspaceDir = f.workspace
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Debug {
		return slog.LevelDebug
	}
	return logging.ParseLevel(cfg.LogLevel)
}

func runTerminal(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	fl, err := logging.NewFileLogger(cfg.ResolvedDataDir(), logLevel(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
	}
	defer fl.Close()

	rt, err := app.New(cfg, fl.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	err = terminal.Start(ctx, rt, terminal.Options{
		Model:       cfg.Model,
		AutoApprove: f.autoApprove,
		Color:       term.IsTerminal(int(os.Stdout.Fd())),
		Version:     version,
	})
	if err != nil {
		fl.Logger.Error("terminal session ended with error", "error", err)
	}
	return err
}

func runTelegram(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, logLevel(cfg), true)

	rt, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer rt.Close()
	if err := rt.CheckHealth(ctx); err != nil {
		logger.Warn("ollama is not reachable yet", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := telegram.Start(ctx, rt, logger); err != nil {
		logger.Error("telegram bot stopped", "error", err)
		return err
	}
	logger.Info("telegram bot shut down")
	return nil
}
