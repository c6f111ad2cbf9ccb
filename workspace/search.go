package workspace

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	MaxGlobResults = 50
	MaxGrepResults = 100

	maxGrepFiles    = 5000
	maxGrepFileSize = 2 << 20
	maxGrepLineLen  = 200
)

// skipDirs are never descended into by Grep.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	"vendor":       true,
}

// GlobResult holds the bounded match list and the total match count.
type GlobResult struct {
	Pattern string
	Matches []string
	Total   int
}

// Glob finds files under base matching a doublestar pattern. A pattern with
// no path separator matches at any depth. Matches are workspace-relative and
// sorted; at most MaxGlobResults are returned.
func (g *Guard) Glob(pattern, base string) (GlobResult, error) {
	if pattern == "" {
		pattern = "*"
	}
	baseAbs, err := g.Resolve(base)
	if err != nil {
		return GlobResult{}, err
	}
	if _, err := os.Stat(baseAbs); err != nil {
		return GlobResult{}, fmt.Errorf("search %s: %w", base, err)
	}

	walkPattern := strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	if !strings.Contains(walkPattern, "/") {
		walkPattern = "**/" + walkPattern
	}
	if !doublestar.ValidatePattern(walkPattern) {
		return GlobResult{}, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	var matches []string
	err = doublestar.GlobWalk(os.DirFS(baseAbs), walkPattern, func(p string, d fs.DirEntry) error {
		abs, err := g.Resolve(filepath.Join(baseAbs, filepath.FromSlash(p)))
		if err != nil {
			return nil
		}
		matches = append(matches, g.Rel(abs))
		return nil
	}, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return GlobResult{}, fmt.Errorf("search %s: %w", pattern, err)
	}

	sort.Strings(matches)
	res := GlobResult{Pattern: pattern, Total: len(matches), Matches: matches}
	if len(res.Matches) > MaxGlobResults {
		res.Matches = res.Matches[:MaxGlobResults]
	}
	return res, nil
}

// GrepOptions configures Grep.
type GrepOptions struct {
	Path          string
	Glob          string
	CaseSensitive bool
	MaxResults    int
}

// GrepMatch is one matching line.
type GrepMatch struct {
	Path string
	Line int
	Text string
}

func (m GrepMatch) String() string {
	return fmt.Sprintf("%s:%d: %s", m.Path, m.Line, m.Text)
}

// GrepResult holds matches in file walk order.
type GrepResult struct {
	Pattern   string
	Matches   []GrepMatch
	Truncated bool
}

// Grep searches file contents for pattern. The pattern is an RE2 regular
// expression; if it does not compile it is matched literally. Matching is
// case-insensitive unless opts.CaseSensitive is set. Hidden and dependency
// directories and binary files are skipped.
func (g *Guard) Grep(ctx context.Context, pattern string, opts GrepOptions) (GrepResult, error) {
	if pattern == "" {
		return GrepResult{}, fmt.Errorf("grep: empty pattern")
	}
	baseAbs, err := g.Resolve(opts.Path)
	if err != nil {
		return GrepResult{}, err
	}
	info, err := os.Stat(baseAbs)
	if err != nil {
		return GrepResult{}, fmt.Errorf("grep %s: %w", opts.Path, err)
	}
	if opts.Glob != "" && !doublestar.ValidatePattern(opts.Glob) {
		return GrepResult{}, fmt.Errorf("invalid glob filter %q", opts.Glob)
	}

	re := compileSearchPattern(pattern, opts.CaseSensitive)
	limit := opts.MaxResults
	if limit <= 0 {
		limit = MaxGrepResults
	}

	res := GrepResult{Pattern: pattern}
	if !info.IsDir() {
		res.Matches, res.Truncated = g.grepFile(baseAbs, re, limit)
		return res, nil
	}

	scanned := 0
	err = filepath.WalkDir(baseAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if p != baseAbs && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if opts.Glob != "" && !g.globFilter(opts.Glob, p) {
			return nil
		}
		abs, err := g.Resolve(p)
		if err != nil {
			return nil
		}

		scanned++
		if scanned > maxGrepFiles {
			res.Truncated = true
			return filepath.SkipAll
		}

		found, truncated := g.grepFile(abs, re, limit-len(res.Matches))
		res.Matches = append(res.Matches, found...)
		if truncated {
			res.Truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("grep %s: %w", pattern, err)
	}
	return res, nil
}

func compileSearchPattern(pattern string, caseSensitive bool) *regexp.Regexp {
	prefix := "(?i)"
	if caseSensitive {
		prefix = ""
	}
	if re, err := regexp.Compile(prefix + pattern); err == nil {
		return re
	}
	return regexp.MustCompile(prefix + regexp.QuoteMeta(pattern))
}

// globFilter matches patterns with a separator against the workspace-relative
// path and bare patterns against the file name.
func (g *Guard) globFilter(pattern, abs string) bool {
	target := filepath.Base(abs)
	if strings.Contains(pattern, "/") {
		target = g.Rel(abs)
	}
	ok, err := doublestar.Match(pattern, target)
	return err == nil && ok
}

// grepFile returns up to limit matches from one file. It reports truncation
// only when a match beyond limit exists.
func (g *Guard) grepFile(abs string, re *regexp.Regexp, limit int) ([]GrepMatch, bool) {
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() || info.Size() > maxGrepFileSize {
		return nil, false
	}
	data, err := os.ReadFile(abs)
	if err != nil || isBinary(data) {
		return nil, false
	}

	var matches []GrepMatch
	rel := g.Rel(abs)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), maxGrepFileSize)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(matches) >= limit {
			return matches, true
		}
		matches = append(matches, GrepMatch{Path: rel, Line: line, Text: clipLine(strings.TrimSpace(text), maxGrepLineLen)})
	}
	return matches, false
}

// clipLine shortens s to at most n bytes without splitting a rune.
func clipLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
