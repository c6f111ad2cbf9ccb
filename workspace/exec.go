package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command    string `json:"command"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// blockedPatterns are substrings of commands that are never run.
var blockedPatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=",
	":(){ ",
	"> /dev/sd",
}

// CheckCommand returns a *BlockedCommandError if command matches the blocklist.
func CheckCommand(command string) error {
	lower := strings.ToLower(command)
	for _, p := range blockedPatterns {
		if p == "rm -rf /" || p == "rm -fr /" {
			// "rm -rf /" also prefixes "rm -rf /tmp/x"; only the bare root counts.
			if hasRootRemoval(lower, p) {
				return &BlockedCommandError{Command: command, Pattern: p}
			}
			continue
		}
		if strings.Contains(lower, p) {
			return &BlockedCommandError{Command: command, Pattern: p}
		}
	}
	return nil
}

func hasRootRemoval(cmd, pattern string) bool {
	for rest := cmd; ; {
		i := strings.Index(rest, pattern)
		if i < 0 {
			return false
		}
		after := rest[i+len(pattern):]
		if after == "" || after[0] == ' ' || after[0] == '*' || after[0] == ';' || after[0] == '&' || after[0] == '|' {
			return true
		}
		rest = after
	}
}

// ClampTimeout applies the Guard's default and maximum to a requested timeout.
func (g *Guard) ClampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return g.defaultTimeout
	}
	if requested > g.maxTimeout {
		return g.maxTimeout
	}
	return requested
}

// RunCommand runs command through the shell in the workspace root. The
// process runs in its own process group, which is killed as a whole when the
// timeout expires or ctx is cancelled. stdout and stderr are each capped at
// the Guard's output limit.
//
// A non-zero exit status is not an error. Expiry of the timeout returns a
// *CommandTimeoutError carrying the partial result.
func (g *Guard) RunCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("run_command: empty command")
	}
	if err := CheckCommand(command); err != nil {
		return nil, err
	}
	timeout = g.ClampTimeout(timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, shellArg := shellCommand()
	cmd := exec.CommandContext(runCtx, shell, shellArg, command)
	cmd.Dir = g.root
	cmd.Env = filterEnvironment()
	cmd.WaitDelay = 2 * time.Second
	configureProcessGroup(cmd)

	stdout := newCappedBuffer(g.outputLimit)
	stderr := newCappedBuffer(g.outputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Command:    command,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.Dropped() > 0 || stderr.Dropped() > 0,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("run_command: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, &CommandTimeoutError{Command: command, Timeout: timeout, Result: result}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			return result, nil
		}
		return nil, fmt.Errorf("run_command: %w", err)
	}
	return result, nil
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are not passed to commands.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if upper == "TELEGRAM_BOT_TOKEN" {
		return true
	}
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// cappedBuffer keeps the first limit bytes written and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		b.buf = append(b.buf, p[:room]...)
	}
	b.dropped += len(p) - max(room, 0)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped > 0 {
		return string(b.buf) + fmt.Sprintf("\n[... %d bytes not captured ...]", b.dropped)
	}
	return string(b.buf)
}

func (b *cappedBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
