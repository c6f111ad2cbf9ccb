// Package terminal is the interactive command-line front end.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ollacode/ollacode/agentloop"
	"github.com/ollacode/ollacode/app"
)

// Prompt is shown when the REPL waits for input.
const Prompt = "ollacode ❯ "

// Options configure Start.
type Options struct {
	Model       string
	AutoApprove bool
	Color       bool
	Version     string
}

// Start opens a readline prompt on the controlling terminal and runs the
// REPL until the user quits or ctx is done.
func Start(ctx context.Context, rt *app.Runtime, opts Options) error {
	dataDir := rt.Config.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            Prompt,
		HistoryFile:       filepath.Join(dataDir, "history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer rl.Close()

	session, err := rt.NewSession(opts.Model, agentloop.WithAutoApprove(opts.AutoApprove))
	if err != nil {
		return err
	}
	defer session.Close()

	repl := New(rt, session, rl, rl.Stdout(), opts.Color)
	repl.PrintBanner(opts.Version)
	if err := repl.CheckServer(ctx); err != nil {
		return err
	}
	return repl.Run(ctx)
}

// REPL reads user input, runs slash commands and submits everything else
// to the session.
type REPL struct {
	rt      *app.Runtime
	session *agentloop.Session
	in      LineReader
	out     io.Writer
	theme   Theme
}

// New wires a REPL to session: events are rendered to out and approvals are
// asked on in.
func New(rt *app.Runtime, session *agentloop.Session, in LineReader, out io.Writer, colour bool) *REPL {
	theme := NewTheme(out, colour)
	session.Subscribe(NewRenderer(out, theme).Handle)
	session.SetApprover(NewApprover(in, out, theme, Prompt, session.Abort))
	return &REPL{rt: rt, session: session, in: in, out: out, theme: theme}
}

// PrintBanner prints the welcome panel and the session status lines.
func (r *REPL) PrintBanner(version string) {
	p := r.session.Profile()
	body := fmt.Sprintf("local coding assistant %s\nmodel: %s  |  /help for commands", version, p.DisplayName())
	fmt.Fprintln(r.out, r.theme.Panel("ollacode", body))

	if r.session.HasProjectMemory() {
		fmt.Fprintln(r.out, r.theme.OK("● OLLACODE.md loaded"))
	} else {
		fmt.Fprintln(r.out, r.theme.Dim("○ OLLACODE.md not found (add one to the workspace root for project memory)"))
	}
	if r.session.AutoApprove() {
		fmt.Fprintln(r.out, r.theme.Warn("● auto-approve is on: changes and commands run without asking"))
	}
	fmt.Fprintln(r.out, r.theme.Dim("○ context %d tokens, compact mode %s", p.ContextWindow, onOff(r.rt.Config.CompactMode)))
}

// CheckServer reports whether Ollama answers, with a hint when it does not.
func (r *REPL) CheckServer(ctx context.Context) error {
	fmt.Fprintln(r.out, r.theme.Dim("Checking Ollama server..."))
	if err := r.rt.CheckHealth(ctx); err != nil {
		fmt.Fprintln(r.out, r.theme.Fail("✗ %v", err))
		fmt.Fprintln(r.out, r.theme.Dim("  Start it with 'ollama serve' or set OLLAMA_HOST."))
		return err
	}
	fmt.Fprintln(r.out, r.theme.OK("✓ Connected to %s", r.rt.Config.OllamaHost))
	return nil
}

// Run loops until /quit, end of input or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := r.in.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			fmt.Fprintln(r.out, r.theme.Dim("Use /quit to exit."))
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name, arg, ok := parseCommand(line); ok {
			if !r.runCommand(ctx, name, arg) {
				fmt.Fprintln(r.out, r.theme.Dim("Bye."))
				return nil
			}
			continue
		}
		r.submit(ctx, line)
	}
	return nil
}

func (r *REPL) submit(ctx context.Context, input string) {
	stop := r.watchInterrupt()
	err := r.session.Submit(ctx, input)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out, r.theme.Warn("Cancelled."))
	case errors.Is(err, agentloop.ErrSessionBusy), errors.Is(err, agentloop.ErrSessionClosed):
		r.printError(err)
	}
	// Other failures were already rendered from the error and
	// iteration_cap events.
}

// watchInterrupt aborts the running turn on SIGINT until stop is called.
func (r *REPL) watchInterrupt() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			r.session.Abort()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (r *REPL) printError(err error) {
	fmt.Fprintln(r.out, r.theme.Fail("error: %v", err))
}
