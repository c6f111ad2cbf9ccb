package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultReadLines is the window returned by ReadLines when no end line is given.
	DefaultReadLines = 200
	// MaxListEntries caps ListDir results.
	MaxListEntries = 100
)

// FileView is a numbered window onto a text file.
type FileView struct {
	Path       string
	TotalLines int
	Start      int
	End        int
	Text       string
}

// Truncated reports whether lines exist past the end of the window.
func (v FileView) Truncated() bool { return v.End < v.TotalLines }

// Entry is a single directory listing item.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "dir", "file" or "symlink"
	Size int64  `json:"size,omitempty"`
}

// ReadFile returns the raw contents of a workspace file.
func (g *Guard) ReadFile(path string) ([]byte, error) {
	abs, err := g.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// ReadLines returns lines start..end (1-based, inclusive) formatted with line
// numbers. start <= 0 means 1; end <= 0 means start+DefaultReadLines-1.
func (g *Guard) ReadLines(path string, start, end int) (FileView, error) {
	data, err := g.ReadFile(path)
	if err != nil {
		return FileView{}, err
	}
	if isBinary(data) {
		return FileView{}, fmt.Errorf("read %s: %w", path, ErrBinaryFile)
	}

	content := strings.TrimSuffix(string(data), "\n")
	var lines []string
	if content != "" {
		lines = strings.Split(content, "\n")
	}

	if start <= 0 {
		start = 1
	}
	if end <= 0 {
		end = start + DefaultReadLines - 1
	}
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%4d | %s\n", i, lines[i-1])
	}
	return FileView{
		Path:       path,
		TotalLines: len(lines),
		Start:      start,
		End:        end,
		Text:       sb.String(),
	}, nil
}

// Exists reports whether path resolves inside the workspace and exists.
func (g *Guard) Exists(path string) bool {
	abs, err := g.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// CreateFile writes a new file, creating parent directories. It fails with
// *AlreadyExistsError if anything already exists at path.
func (g *Guard) CreateFile(path string, content []byte) error {
	abs, err := g.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &AlreadyExistsError{Path: g.Rel(abs)}
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReplaceFile atomically replaces the contents of path: the new bytes go to a
// temporary file in the same directory which is synced and renamed over the
// original. The original file mode is preserved.
func (g *Guard) ReplaceFile(path string, content []byte) error {
	abs, err := g.Resolve(path)
	if err != nil {
		return err
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return fmt.Errorf("replace %s: is a directory", path)
		}
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".tmp-*")
	if err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	return nil
}

// ListDir lists a directory: directories first, then files, both by name.
// Hidden entries are skipped and at most MaxListEntries are returned; total
// is the number of visible entries.
func (g *Guard) ListDir(path string) (entries []Entry, total int, err error) {
	abs, err := g.Resolve(path)
	if err != nil {
		return nil, 0, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", path, err)
	}

	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		e := Entry{Name: de.Name(), Type: "file"}
		switch {
		case de.IsDir():
			e.Type = "dir"
		case de.Type()&fs.ModeSymlink != 0:
			e.Type = "symlink"
		}
		if e.Type == "file" {
			if info, err := de.Info(); err == nil {
				e.Size = info.Size()
			}
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].Type == "dir", entries[j].Type == "dir"
		if di != dj {
			return di
		}
		return entries[i].Name < entries[j].Name
	})

	total = len(entries)
	if len(entries) > MaxListEntries {
		entries = entries[:MaxListEntries]
	}
	return entries, total, nil
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(data)
}

// FormatSize renders a byte count the way directory listings show it.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}
