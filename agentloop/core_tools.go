package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ollacode/ollacode/diff"
	"github.com/ollacode/ollacode/workspace"
)

// RegisterCoreTools registers the seven workspace tools on a ToolRegistry.
func RegisterCoreTools(reg *ToolRegistry) {
	reg.Register(readFileTool())
	reg.Register(writeFileTool())
	reg.Register(editFileTool())
	reg.Register(listDirectoryTool())
	reg.Register(searchFilesTool())
	reg.Register(grepSearchTool())
	reg.Register(runCommandTool())
}

type readFileArgs struct {
	Path      string `json:"path" validate:"required" jsonschema_description:"File path relative to the workspace root."`
	StartLine int    `json:"start_line,omitempty" validate:"omitempty,min=1" jsonschema_description:"First line to read (1-based). Defaults to 1."`
	EndLine   int    `json:"end_line,omitempty" validate:"omitempty,min=1" jsonschema_description:"Last line to read (inclusive). Defaults to start_line + 199."`
}

func readFileTool() RegisteredTool {
	return defineTool("read_file",
		"Read a text file from the workspace. Returns line-numbered content, at most 200 lines per call unless end_line is given.",
		false,
		func(_ context.Context, args readFileArgs, tc *ToolContext) (ToolOutput, error) {
			if args.EndLine > 0 && args.StartLine > args.EndLine {
				return ToolOutput{}, &InvalidArgumentsError{
					Tool:   "read_file",
					Reason: fmt.Sprintf("end_line %d is before start_line %d", args.EndLine, args.StartLine),
				}
			}
			view, err := tc.Env.ReadLines(args.Path, args.StartLine, args.EndLine)
			if err != nil {
				return ToolOutput{}, err
			}
			if view.TotalLines == 0 {
				return ToolOutput{Content: fmt.Sprintf("%s is empty", args.Path)}, nil
			}
			if view.Start > view.TotalLines {
				return ToolOutput{}, fmt.Errorf("%s: start_line %d is past the end of the file (%d lines)", args.Path, view.Start, view.TotalLines)
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "%s (lines %d-%d of %d)\n", args.Path, view.Start, view.End, view.TotalLines)
			sb.WriteString(view.Text)
			if view.Truncated() {
				fmt.Fprintf(&sb, "[%d more lines. Use start_line=%d to continue.]\n", view.TotalLines-view.End, view.End+1)
			}
			return ToolOutput{Content: sb.String()}, nil
		})
}

type writeFileArgs struct {
	Path    string `json:"path" validate:"required" jsonschema_description:"Path of the new file, relative to the workspace root."`
	Content string `json:"content" jsonschema_description:"Full content of the new file."`
}

func writeFileTool() RegisteredTool {
	return defineTool("write_file",
		"Create a new file with the given content. Parent directories are created. Fails if the file already exists; use edit_file to change existing files.",
		true,
		func(ctx context.Context, args writeFileArgs, tc *ToolContext) (ToolOutput, error) {
			abs, err := tc.Env.Resolve(args.Path)
			if err != nil {
				return ToolOutput{}, err
			}
			rel := tc.Env.Rel(abs)
			if tc.Env.Exists(rel) {
				return ToolOutput{}, fmt.Errorf("%w (use edit_file to modify it)", &workspace.AlreadyExistsError{Path: rel})
			}

			rendered := diff.RenderNewFile(rel, args.Content)
			lines := countLines(args.Content)
			err = tc.approve(ctx, ApprovalRequest{
				Tool:    "write_file",
				Summary: fmt.Sprintf("Create %s (%d lines)", rel, lines),
				Path:    rel,
				Diff:    rendered,
			})
			if err != nil {
				return ToolOutput{}, err
			}

			if err := tc.Env.CreateFile(rel, []byte(args.Content)); err != nil {
				return ToolOutput{}, err
			}
			return ToolOutput{
				Content: fmt.Sprintf("Created %s (%d lines, %s)", rel, lines, workspace.FormatSize(int64(len(args.Content)))),
				Diff:    rendered,
			}, nil
		})
}

type editFileArgs struct {
	Path    string `json:"path" validate:"required" jsonschema_description:"File to edit, relative to the workspace root."`
	Search  string `json:"search" validate:"required" jsonschema_description:"Exact text to replace. Must match exactly one location in the file; include surrounding lines to make it unique."`
	Replace string `json:"replace" jsonschema_description:"Text to put in place of search. May be empty to delete."`
}

func editFileTool() RegisteredTool {
	return defineTool("edit_file",
		"Replace one occurrence of search with replace in an existing file. Read the file first so search matches its current content.",
		true,
		func(ctx context.Context, args editFileArgs, tc *ToolContext) (ToolOutput, error) {
			abs, err := tc.Env.Resolve(args.Path)
			if err != nil {
				return ToolOutput{}, err
			}
			rel := tc.Env.Rel(abs)

			hunk, err := diff.Prepare(tc.Env, rel, args.Search, args.Replace, tc.Match)
			if err != nil {
				return ToolOutput{}, err
			}
			rendered := diff.Render(hunk)

			err = tc.approve(ctx, ApprovalRequest{
				Tool:    "edit_file",
				Summary: fmt.Sprintf("Edit %s (lines %d-%d)", rel, hunk.Range.StartLine, hunk.Range.EndLine),
				Path:    rel,
				Diff:    rendered,
			})
			if err != nil {
				return ToolOutput{Diff: rendered}, err
			}

			if err := diff.Apply(tc.Env, hunk); err != nil {
				return ToolOutput{Diff: rendered}, err
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Edited %s (lines %d-%d)", rel, hunk.Range.StartLine, hunk.Range.EndLine)
			if hunk.Range.Fuzzy {
				sb.WriteString(", matched ignoring whitespace")
			}
			sb.WriteString("\n")
			sb.WriteString(rendered)
			return ToolOutput{Content: sb.String(), Diff: rendered}, nil
		})
}

type listDirectoryArgs struct {
	Path string `json:"path,omitempty" jsonschema_description:"Directory relative to the workspace root. Defaults to the root."`
}

func listDirectoryTool() RegisteredTool {
	return defineTool("list_directory",
		"List the entries of a directory. Directories are listed first and marked with a trailing slash. Hidden entries are skipped.",
		false,
		func(_ context.Context, args listDirectoryArgs, tc *ToolContext) (ToolOutput, error) {
			path := args.Path
			if path == "" {
				path = "."
			}
			entries, total, err := tc.Env.ListDir(path)
			if err != nil {
				return ToolOutput{}, err
			}
			if total == 0 {
				return ToolOutput{Content: fmt.Sprintf("%s is empty", path)}, nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "%s (%d entries)\n", path, total)
			for _, e := range entries {
				switch e.Type {
				case "dir":
					fmt.Fprintf(&sb, "  %s/\n", e.Name)
				case "symlink":
					fmt.Fprintf(&sb, "  %s@\n", e.Name)
				default:
					fmt.Fprintf(&sb, "  %s (%s)\n", e.Name, workspace.FormatSize(e.Size))
				}
			}
			if total > len(entries) {
				fmt.Fprintf(&sb, "  ... %d more entries not shown\n", total-len(entries))
			}
			return ToolOutput{Content: sb.String()}, nil
		})
}

type searchFilesArgs struct {
	Pattern string `json:"pattern" validate:"required" jsonschema_description:"Glob pattern such as *.go or src/**/*.ts. Patterns without a slash match at any depth."`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory to search from. Defaults to the workspace root."`
}

func searchFilesTool() RegisteredTool {
	return defineTool("search_files",
		"Find files by name with a glob pattern. Returns at most 50 workspace-relative paths.",
		false,
		func(_ context.Context, args searchFilesArgs, tc *ToolContext) (ToolOutput, error) {
			res, err := tc.Env.Glob(args.Pattern, args.Path)
			if err != nil {
				return ToolOutput{}, err
			}
			if res.Total == 0 {
				return ToolOutput{Content: fmt.Sprintf("No files match %q", args.Pattern)}, nil
			}
			var sb strings.Builder
			for _, m := range res.Matches {
				sb.WriteString(m)
				sb.WriteString("\n")
			}
			if res.Total > len(res.Matches) {
				fmt.Fprintf(&sb, "[showing %d of %d matches; narrow the pattern]\n", len(res.Matches), res.Total)
			}
			return ToolOutput{Content: sb.String()}, nil
		})
}

type grepSearchArgs struct {
	Pattern       string `json:"pattern" validate:"required" jsonschema_description:"Regular expression (RE2) to search for. Invalid expressions are matched literally."`
	Path          string `json:"path,omitempty" jsonschema_description:"File or directory to search. Defaults to the workspace root."`
	Glob          string `json:"glob,omitempty" jsonschema_description:"Only search files matching this glob, e.g. *.go."`
	CaseSensitive bool   `json:"case_sensitive,omitempty" jsonschema_description:"Match case exactly. Defaults to false."`
}

func grepSearchTool() RegisteredTool {
	return defineTool("grep_search",
		"Search file contents. Returns matching lines as path:line: text. Hidden, vendor and binary files are skipped.",
		false,
		func(ctx context.Context, args grepSearchArgs, tc *ToolContext) (ToolOutput, error) {
			res, err := tc.Env.Grep(ctx, args.Pattern, workspace.GrepOptions{
				Path:          args.Path,
				Glob:          args.Glob,
				CaseSensitive: args.CaseSensitive,
			})
			if err != nil {
				return ToolOutput{}, err
			}
			if len(res.Matches) == 0 {
				return ToolOutput{Content: fmt.Sprintf("No matches for %q", args.Pattern)}, nil
			}
			var sb strings.Builder
			for _, m := range res.Matches {
				sb.WriteString(m.String())
				sb.WriteString("\n")
			}
			if res.Truncated {
				fmt.Fprintf(&sb, "[results truncated at %d matches; narrow the pattern or path]\n", len(res.Matches))
			}
			return ToolOutput{Content: sb.String()}, nil
		})
}

type runCommandArgs struct {
	Command        string `json:"command" validate:"required" jsonschema_description:"Shell command to run in the workspace root."`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=600" jsonschema_description:"Timeout in seconds. Defaults to the configured command timeout."`
}

func runCommandTool() RegisteredTool {
	return defineTool("run_command",
		"Run a shell command in the workspace root and return its output and exit code. Long-running or interactive commands are killed at the timeout.",
		true,
		func(ctx context.Context, args runCommandArgs, tc *ToolContext) (ToolOutput, error) {
			if err := workspace.CheckCommand(args.Command); err != nil {
				return ToolOutput{}, err
			}
			timeout := tc.CommandTimeout
			if args.TimeoutSeconds > 0 {
				timeout = time.Duration(args.TimeoutSeconds) * time.Second
			}
			timeout = tc.Env.ClampTimeout(timeout)

			err := tc.approve(ctx, ApprovalRequest{
				Tool:    "run_command",
				Summary: fmt.Sprintf("Run `%s` (timeout %s)", args.Command, timeout),
				Command: args.Command,
			})
			if err != nil {
				return ToolOutput{}, err
			}

			res, err := tc.Env.RunCommand(ctx, args.Command, timeout)
			if err != nil {
				var timeoutErr *workspace.CommandTimeoutError
				if errors.As(err, &timeoutErr) && timeoutErr.Result != nil {
					return ToolOutput{}, fmt.Errorf("%w\n%s", err, formatExecResult(timeoutErr.Result))
				}
				return ToolOutput{}, err
			}
			return ToolOutput{Content: formatExecResult(res)}, nil
		})
}

func formatExecResult(res *workspace.ExecResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "$ %s\n", res.Command)
	out := res.Output()
	if out == "" {
		sb.WriteString("(no output)\n")
	} else {
		sb.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			sb.WriteString("\n")
		}
	}
	if res.Truncated {
		sb.WriteString("[output truncated]\n")
	}
	fmt.Fprintf(&sb, "[exit code %d, %dms]", res.ExitCode, res.DurationMs)
	return sb.String()
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
