package agentloop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ProjectMemoryFile is read from the workspace root at session start.
const ProjectMemoryFile = "OLLACODE.md"

const maxProjectMemoryBytes = 32 * 1024

const gitTimeout = 2 * time.Second

// BuildSystemPrompt assembles the base instructions, the environment block
// and the project memory.
func BuildSystemPrompt(profile ModelProfile, env ExecutionEnvironment, memory string) string {
	sections := []string{basePrompt}
	if profile.SupportsReasoning {
		// Qwen-style models skip the hidden reasoning pass with this switch.
		sections[0] += " /no_think"
	}
	sections = append(sections, environmentBlock(env, profile.Model, readGitState(env.Root())))
	if memory != "" {
		sections = append(sections, fmt.Sprintf(
			"# Project Context (%s)\n\nFollow these project rules and conventions:\n\n%s", ProjectMemoryFile, memory))
	}
	return strings.Join(sections, "\n\n")
}

// gitState is what the prompt says about the repository holding the
// workspace. The zero value means the workspace is not in one.
type gitState struct {
	branch  string
	changed int
	recent  []string
}

func readGitState(dir string) gitState {
	branch := git(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if branch == "" {
		return gitState{}
	}
	st := gitState{branch: branch}
	if status := git(dir, "status", "--short"); status != "" {
		st.changed = strings.Count(status, "\n") + 1
	}
	if log := git(dir, "log", "--oneline", "-5"); log != "" {
		st.recent = strings.Split(log, "\n")
	}
	return st
}

func environmentBlock(env ExecutionEnvironment, model string, g gitState) string {
	lines := []string{
		"<environment>",
		"Workspace root: " + env.Root(),
		"Platform: " + env.Platform(),
		"Today's date: " + time.Now().Format("2006-01-02"),
	}
	if model != "" {
		lines = append(lines, "Model: "+model)
	}
	if g.branch != "" {
		lines = append(lines, "Git branch: "+g.branch, fmt.Sprintf("Modified or untracked files: %d", g.changed))
		if len(g.recent) > 0 {
			lines = append(lines, "Recent commits:")
			lines = append(lines, g.recent...)
		}
	} else {
		lines = append(lines, "Git repository: no")
	}
	return strings.Join(append(lines, "</environment>"), "\n")
}

// git runs a git subcommand in dir and returns its trimmed output, or ""
// when git fails or is missing.
func git(dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// LoadProjectMemory returns the contents of OLLACODE.md in root. A missing,
// unreadable or blank file yields "". Content past 32 KiB is cut off.
func LoadProjectMemory(root string) string {
	data, err := os.ReadFile(filepath.Join(root, ProjectMemoryFile))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if len(text) > maxProjectMemoryBytes {
		text = headBytes(text, maxProjectMemoryBytes) + "\n[Project memory truncated at 32KB]"
	}
	return text
}

const basePrompt = `You are ollacode, an expert coding assistant working inside the user's project.

# Role

- Give accurate, practical answers to coding questions.
- Help with code review, debugging, refactoring and writing new code.
- Be concise. Show code rather than long explanations.
- Respond in the language the user writes in.

# Tools

- read_file: read a file with line numbers. Always read a file before editing it.
- edit_file: replace one exact snippet of an existing file. The search text must match exactly one location; include surrounding lines to make it unique.
- write_file: create a new file. It fails if the file exists.
- list_directory, search_files, grep_search: explore the project.
- run_command: run a shell command in the workspace root, e.g. tests or a linter.

All paths are relative to the workspace root. Paths outside it are refused.
File changes and commands may need the user's approval; if a call is rejected, do not retry it unchanged.

# Workflow

1. To modify a file: read_file, then edit_file with a small, exact search snippet.
2. To add a file: write_file.
3. After changing code, verify it with run_command where possible.
4. If a tool fails, read the error, adjust, and try again.`
