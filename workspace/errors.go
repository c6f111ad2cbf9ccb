package workspace

import (
	"errors"
	"fmt"
	"time"
)

// ErrBinaryFile is returned when a text operation is asked to read a file
// that contains NUL bytes or invalid UTF-8.
var ErrBinaryFile = errors.New("binary file")

// PathEscapeError reports a path that resolves outside the workspace root.
type PathEscapeError struct {
	Path string
	Root string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q is outside the workspace %s", e.Path, e.Root)
}

// AlreadyExistsError reports an attempt to create a file that already exists.
type AlreadyExistsError struct {
	Path string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("file %s already exists; use edit_file to modify it", e.Path)
}

// CommandTimeoutError reports a command killed after exceeding its timeout.
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
	Result  *ExecResult
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command)
}

// BlockedCommandError reports a command refused by the destructive-command blocklist.
type BlockedCommandError struct {
	Command string
	Pattern string
}

func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command blocked (matches %q): %s", e.Pattern, e.Command)
}
