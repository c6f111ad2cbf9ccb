package agentloop

import (
	"context"
	"time"

	"github.com/ollacode/ollacode/workspace"
)

// ExecutionEnvironment abstracts where tool operations run. Every path it
// accepts is confined to the workspace root; implementations reject escapes
// before touching the filesystem.
//
// *workspace.Guard is the production implementation.
type ExecutionEnvironment interface {
	// Metadata.
	Root() string
	Platform() string
	Resolve(path string) (string, error)
	Rel(abs string) string

	// File operations.
	ReadFile(path string) ([]byte, error)
	ReadLines(path string, start, end int) (workspace.FileView, error)
	Exists(path string) bool
	CreateFile(path string, content []byte) error
	ReplaceFile(path string, content []byte) error
	ListDir(path string) ([]workspace.Entry, int, error)

	// Search operations.
	Glob(pattern, base string) (workspace.GlobResult, error)
	Grep(ctx context.Context, pattern string, opts workspace.GrepOptions) (workspace.GrepResult, error)

	// Command execution.
	ClampTimeout(requested time.Duration) time.Duration
	RunCommand(ctx context.Context, command string, timeout time.Duration) (*workspace.ExecResult, error)
}

var _ ExecutionEnvironment = (*workspace.Guard)(nil)
