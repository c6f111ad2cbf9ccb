package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ollacode/ollacode/diff"
	"github.com/ollacode/ollacode/workspace"
)

func newToolContext(t *testing.T) (*ToolContext, string) {
	t.Helper()
	guard, err := workspace.New(t.TempDir(), workspace.WithCommandTimeout(5*time.Second, 10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	return &ToolContext{
		Env:            guard,
		Match:          diff.DefaultMatchOptions(),
		CommandTimeout: 5 * time.Second,
	}, guard.Root()
}

func approvingContext(t *testing.T) (*ToolContext, string) {
	tc, root := newToolContext(t)
	tc.Gate = NewApprovalGate(nil, true)
	return tc, root
}

func writeTestFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fileExists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, name))
	return err == nil
}

func runTool(t *testing.T, tc *ToolContext, name, args string) ToolResult {
	t.Helper()
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	return reg.Dispatch(context.Background(), toolCall("call-1", name, args), tc)
}

func TestReadFile(t *testing.T) {
	tc, root := newToolContext(t)
	var sb strings.Builder
	for i := 1; i <= 250; i++ {
		sb.WriteString("line\n")
	}
	writeTestFile(t, root, "long.txt", sb.String())
	writeTestFile(t, root, "empty.txt", "")
	writeTestFile(t, root, "short.txt", "alpha\nbeta\n")

	t.Run("default window", func(t *testing.T) {
		r := runTool(t, tc, "read_file", `{"path":"long.txt"}`)
		if r.IsError {
			t.Fatal(r.Content)
		}
		if !strings.HasPrefix(r.Content, "long.txt (lines 1-200 of 250)") {
			t.Errorf("header = %q", strings.SplitN(r.Content, "\n", 2)[0])
		}
		if !strings.Contains(r.Content, "start_line=201") {
			t.Error("missing continuation hint")
		}
	})

	t.Run("range", func(t *testing.T) {
		r := runTool(t, tc, "read_file", `{"path":"short.txt","start_line":2,"end_line":2}`)
		if r.IsError || !strings.Contains(r.Content, "beta") || strings.Contains(r.Content, "alpha") {
			t.Errorf("content = %q", r.Content)
		}
	})

	t.Run("empty", func(t *testing.T) {
		r := runTool(t, tc, "read_file", `{"path":"empty.txt"}`)
		if r.IsError || r.Content != "empty.txt is empty" {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("past end", func(t *testing.T) {
		r := runTool(t, tc, "read_file", `{"path":"short.txt","start_line":10}`)
		if !r.IsError || !strings.Contains(r.Content, "past the end") {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("reversed range", func(t *testing.T) {
		r := runTool(t, tc, "read_file", `{"path":"short.txt","start_line":3,"end_line":1}`)
		var invalid *InvalidArgumentsError
		if !r.IsError || !errors.As(r.Err, &invalid) {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("escape", func(t *testing.T) {
		r := runTool(t, tc, "read_file", `{"path":"../../etc/passwd"}`)
		var escape *workspace.PathEscapeError
		if !r.IsError || !errors.As(r.Err, &escape) {
			t.Errorf("result = %+v", r)
		}
	})
}

func TestWriteFile(t *testing.T) {
	tc, root := approvingContext(t)

	r := runTool(t, tc, "write_file", `{"path":"pkg/new.go","content":"package pkg\n"}`)
	if r.IsError {
		t.Fatal(r.Content)
	}
	if !strings.HasPrefix(r.Content, "Created pkg/new.go (1 lines") {
		t.Errorf("content = %q", r.Content)
	}
	if !strings.Contains(r.Diff, "+package pkg") {
		t.Errorf("diff = %q", r.Diff)
	}
	data, err := os.ReadFile(filepath.Join(root, "pkg", "new.go"))
	if err != nil || string(data) != "package pkg\n" {
		t.Errorf("file = %q, %v", data, err)
	}

	t.Run("existing", func(t *testing.T) {
		r := runTool(t, tc, "write_file", `{"path":"pkg/new.go","content":"other"}`)
		var exists *workspace.AlreadyExistsError
		if !r.IsError || !errors.As(r.Err, &exists) || !strings.Contains(r.Content, "edit_file") {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("escape", func(t *testing.T) {
		r := runTool(t, tc, "write_file", `{"path":"/tmp/outside.txt","content":"x"}`)
		if !r.IsError {
			t.Error("absolute path outside the workspace was accepted")
		}
	})
}

func TestEditFile(t *testing.T) {
	tc, root := approvingContext(t)
	writeTestFile(t, root, "a.txt", "foo\nbar\n")

	r := runTool(t, tc, "edit_file", `{"path":"a.txt","search":"bar","replace":"baz"}`)
	if r.IsError {
		t.Fatal(r.Content)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "foo\nbaz\n" {
		t.Errorf("file = %q", data)
	}
	if !strings.Contains(r.Diff, "-bar") || !strings.Contains(r.Diff, "+baz") {
		t.Errorf("diff = %q", r.Diff)
	}
	if !strings.HasPrefix(r.Content, "Edited a.txt (lines 2-2)") {
		t.Errorf("content = %q", r.Content)
	}

	t.Run("no match", func(t *testing.T) {
		r := runTool(t, tc, "edit_file", `{"path":"a.txt","search":"qux","replace":"x"}`)
		var nomatch *diff.NoMatchError
		if !r.IsError || !errors.As(r.Err, &nomatch) {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		writeTestFile(t, root, "dup.txt", "x = 1\nx = 1\n")
		r := runTool(t, tc, "edit_file", `{"path":"dup.txt","search":"x = 1","replace":"x = 2"}`)
		var ambiguous *diff.AmbiguousMatchError
		if !r.IsError || !errors.As(r.Err, &ambiguous) {
			t.Errorf("result = %+v", r)
		}
		data, _ := os.ReadFile(filepath.Join(root, "dup.txt"))
		if string(data) != "x = 1\nx = 1\n" {
			t.Error("ambiguous edit modified the file")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		r := runTool(t, tc, "edit_file", `{"path":"nope.txt","search":"a","replace":"b"}`)
		if !r.IsError {
			t.Error("editing a missing file succeeded")
		}
	})
}

func TestEditFileRejected(t *testing.T) {
	tc, root := newToolContext(t)
	tc.Gate = NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		return DecisionReject, nil
	}), false)
	writeTestFile(t, root, "a.txt", "foo\nbar\n")

	r := runTool(t, tc, "edit_file", `{"path":"a.txt","search":"bar","replace":"baz"}`)
	if !r.IsError || !errors.Is(r.Err, ErrRejected) {
		t.Fatalf("result = %+v", r)
	}
	if r.Approval != DecisionReject || !strings.Contains(r.Diff, "+baz") {
		t.Errorf("approval = %q diff = %q", r.Approval, r.Diff)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "foo\nbar\n" {
		t.Errorf("file = %q", data)
	}
}

func TestListDirectory(t *testing.T) {
	tc, root := newToolContext(t)
	writeTestFile(t, root, "main.go", "package main\n")
	writeTestFile(t, root, "internal/x.go", "package internal\n")

	r := runTool(t, tc, "list_directory", `{}`)
	if r.IsError {
		t.Fatal(r.Content)
	}
	if !strings.Contains(r.Content, "internal/") || !strings.Contains(r.Content, "main.go (") {
		t.Errorf("content = %q", r.Content)
	}
	if strings.Index(r.Content, "internal/") > strings.Index(r.Content, "main.go") {
		t.Error("directories should be listed first")
	}

	r = runTool(t, tc, "list_directory", `{"path":"missing"}`)
	if !r.IsError {
		t.Error("listing a missing directory succeeded")
	}
}

func TestSearchFiles(t *testing.T) {
	tc, root := newToolContext(t)
	writeTestFile(t, root, "a.go", "")
	writeTestFile(t, root, "sub/b.go", "")
	writeTestFile(t, root, "c.txt", "")

	r := runTool(t, tc, "search_files", `{"pattern":"*.go"}`)
	if r.IsError {
		t.Fatal(r.Content)
	}
	if !strings.Contains(r.Content, "a.go") || !strings.Contains(r.Content, "sub/b.go") || strings.Contains(r.Content, "c.txt") {
		t.Errorf("content = %q", r.Content)
	}

	r = runTool(t, tc, "search_files", `{"pattern":"*.rs"}`)
	if r.IsError || !strings.HasPrefix(r.Content, "No files match") {
		t.Errorf("result = %+v", r)
	}
}

func TestGrepSearch(t *testing.T) {
	tc, root := newToolContext(t)
	writeTestFile(t, root, "a.go", "func Hello() {}\nfunc world() {}\n")
	writeTestFile(t, root, "b.txt", "hello text\n")

	r := runTool(t, tc, "grep_search", `{"pattern":"hello","glob":"*.go"}`)
	if r.IsError {
		t.Fatal(r.Content)
	}
	if !strings.Contains(r.Content, "a.go:1:") || strings.Contains(r.Content, "b.txt") {
		t.Errorf("content = %q", r.Content)
	}

	r = runTool(t, tc, "grep_search", `{"pattern":"hello","case_sensitive":true,"glob":"*.go"}`)
	if r.IsError || !strings.HasPrefix(r.Content, "No matches") {
		t.Errorf("case-sensitive result = %+v", r)
	}
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	tc, _ := approvingContext(t)

	t.Run("success", func(t *testing.T) {
		r := runTool(t, tc, "run_command", `{"command":"echo hello"}`)
		if r.IsError {
			t.Fatal(r.Content)
		}
		if !strings.Contains(r.Content, "hello") || !strings.Contains(r.Content, "[exit code 0") {
			t.Errorf("content = %q", r.Content)
		}
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		r := runTool(t, tc, "run_command", `{"command":"echo oops >&2; exit 3"}`)
		if r.IsError {
			t.Fatal(r.Content)
		}
		if !strings.Contains(r.Content, "oops") || !strings.Contains(r.Content, "[exit code 3") {
			t.Errorf("content = %q", r.Content)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		r := runTool(t, tc, "run_command", `{"command":"sleep 5","timeout_seconds":1}`)
		var timeout *workspace.CommandTimeoutError
		if !r.IsError || !errors.As(r.Err, &timeout) {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("blocked", func(t *testing.T) {
		asked := false
		tc, _ := newToolContext(t)
		tc.Gate = NewApprovalGate(ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
			asked = true
			return DecisionApprove, nil
		}), false)
		r := runTool(t, tc, "run_command", `{"command":"rm -rf /"}`)
		var blocked *workspace.BlockedCommandError
		if !r.IsError || !errors.As(r.Err, &blocked) {
			t.Errorf("result = %+v", r)
		}
		if asked {
			t.Error("blocked command reached the approver")
		}
	})

	t.Run("timeout out of range", func(t *testing.T) {
		r := runTool(t, tc, "run_command", `{"command":"true","timeout_seconds":9999}`)
		if !r.IsError || !strings.Contains(r.Content, "timeout_seconds must be at most 600") {
			t.Errorf("result = %+v", r)
		}
	})
}
