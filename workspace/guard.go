// Package workspace confines every file and command operation the agent
// performs to a single root directory.
//
// All path arguments pass through Guard.Resolve, which cleans the path,
// evaluates symlinks along the longest existing prefix and rejects anything
// that lands outside the root with a *PathEscapeError before any file is
// opened, created or written.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Default limits applied when no Option overrides them.
const (
	DefaultCommandTimeout = 60 * time.Second
	MaxCommandTimeout     = 10 * time.Minute
	DefaultOutputLimit    = 64 * 1024
)

const maxSymlinkHops = 40

// Guard owns the workspace root and performs all confined I/O.
type Guard struct {
	root           string
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	outputLimit    int
}

// Option configures a Guard.
type Option func(*Guard)

// WithCommandTimeout sets the default and maximum run_command timeouts.
func WithCommandTimeout(def, max time.Duration) Option {
	return func(g *Guard) {
		if def > 0 {
			g.defaultTimeout = def
		}
		if max > 0 {
			g.maxTimeout = max
		}
	}
}

// WithOutputLimit caps the bytes kept from each of stdout and stderr.
func WithOutputLimit(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.outputLimit = n
		}
	}
}

// New creates a Guard rooted at root. The root must exist and be a directory.
func New(root string, opts ...Option) (*Guard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", root)
	}

	g := &Guard{
		root:           real,
		defaultTimeout: DefaultCommandTimeout,
		maxTimeout:     MaxCommandTimeout,
		outputLimit:    DefaultOutputLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.defaultTimeout > g.maxTimeout {
		g.defaultTimeout = g.maxTimeout
	}
	return g, nil
}

// Root returns the absolute, symlink-free workspace root.
func (g *Guard) Root() string { return g.root }

// Platform reports the host platform, for the environment block of the system prompt.
func (g *Guard) Platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

// Resolve maps a model-supplied path to an absolute path inside the root.
// Relative paths are taken against the root. The result has every existing
// symlink component evaluated.
func (g *Guard) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}

	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Join(g.root, path)
		// Lexical escapes are rejected without touching the filesystem.
		if !within(g.root, candidate) {
			return "", &PathEscapeError{Path: path, Root: g.root}
		}
	}

	real, err := evalExisting(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if !within(g.root, real) {
		return "", &PathEscapeError{Path: path, Root: g.root}
	}
	return real, nil
}

// Rel returns abs relative to the root, for display. Paths outside the root
// are returned unchanged.
func (g *Guard) Rel(abs string) string {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil || !within(g.root, abs) {
		return abs
	}
	return filepath.ToSlash(rel)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting evaluates symlinks on the longest existing prefix of p and
// re-attaches the missing tail. Dangling symlinks are followed by hand so a
// link to a not-yet-created file outside the root cannot slip through.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for hops := 0; ; {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		if info, lerr := os.Lstat(cur); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			hops++
			if hops > maxSymlinkHops {
				return "", fmt.Errorf("too many levels of symbolic links")
			}
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = filepath.Clean(target)
			continue
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
