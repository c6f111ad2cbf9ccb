// Package diff locates search/replace edits in file content, renders them as
// unified diffs for review and applies them with an optimistic-concurrency
// check.
package diff

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MatchOptions controls the whitespace-tolerant fallback used when a search
// snippet has no exact match.
type MatchOptions struct {
	// Fuzzy enables line-by-line matching with leading and trailing
	// whitespace ignored on every line.
	Fuzzy bool
	// CollapseWhitespace additionally treats any run of blanks inside a
	// line as a single space.
	CollapseWhitespace bool
	// MaxFuzzyLines bounds the snippet length eligible for fuzzy matching.
	MaxFuzzyLines int
}

// DefaultMatchOptions returns the matching policy used by edit_file.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		Fuzzy:              true,
		CollapseWhitespace: true,
		MaxFuzzyLines:      200,
	}
}

// LineRange is the location of a match. Lines are 1-based and inclusive;
// offsets are byte offsets into the content, End exclusive.
type LineRange struct {
	StartLine   int
	EndLine     int
	StartOffset int
	EndOffset   int
	// Fuzzy is set when the range was found by whitespace-normalized matching.
	// Fuzzy ranges always cover whole lines, excluding the final line ending.
	Fuzzy bool
}

// Locate finds the single location of search in content. An exact substring
// match is tried first; with no exact match and opts.Fuzzy set, lines are
// compared after whitespace normalization with blank lines at either end of
// the snippet ignored. Zero matches fail with *NoMatchError, more than one
// with *AmbiguousMatchError.
func Locate(content, search string, opts MatchOptions) (LineRange, error) {
	if strings.TrimSpace(search) == "" {
		return LineRange{}, ErrEmptySearch
	}

	offsets := exactOffsets(content, search)
	switch len(offsets) {
	case 1:
		return rangeFromOffsets(content, offsets[0], offsets[0]+len(search)), nil
	case 0:
	default:
		return LineRange{}, &AmbiguousMatchError{Count: len(offsets), Lines: lineNumbers(content, offsets)}
	}

	if opts.Fuzzy {
		ranges := fuzzyRanges(content, search, opts)
		switch len(ranges) {
		case 1:
			return ranges[0], nil
		case 0:
		default:
			lines := make([]int, len(ranges))
			for i, r := range ranges {
				lines[i] = r.StartLine
			}
			return LineRange{}, &AmbiguousMatchError{Count: len(ranges), Lines: lines}
		}
	}

	return LineRange{}, &NoMatchError{Similar: similarLines(content, search, 3)}
}

// exactOffsets returns the start offset of every occurrence, overlapping
// ones included.
func exactOffsets(content, search string) []int {
	var offsets []int
	for from := 0; from <= len(content); {
		i := strings.Index(content[from:], search)
		if i < 0 {
			break
		}
		offsets = append(offsets, from+i)
		from += i + 1
	}
	return offsets
}

func rangeFromOffsets(content string, start, end int) LineRange {
	startLine := strings.Count(content[:start], "\n") + 1
	endLine := startLine
	if end > start {
		endLine += strings.Count(content[start:end-1], "\n")
	}
	return LineRange{StartLine: startLine, EndLine: endLine, StartOffset: start, EndOffset: end}
}

func lineNumbers(content string, offsets []int) []int {
	lines := make([]int, len(offsets))
	for i, off := range offsets {
		lines[i] = strings.Count(content[:off], "\n") + 1
	}
	return lines
}

type lineSpan struct {
	start, end int // end excludes the line ending, \n or \r\n
}

func splitLineSpans(content string) []lineSpan {
	var spans []lineSpan
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			end := i
			if end > start && content[end-1] == '\r' {
				end--
			}
			spans = append(spans, lineSpan{start, end})
			start = i + 1
		}
	}
	if start < len(content) {
		spans = append(spans, lineSpan{start, len(content)})
	}
	return spans
}

// trimBlankLines drops whitespace-only lines at both ends.
func trimBlankLines(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func normalizeLine(s string, collapse bool) string {
	s = strings.TrimSpace(s)
	if collapse {
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}

func fuzzyRanges(content, search string, opts MatchOptions) []LineRange {
	needle := trimBlankLines(strings.Split(strings.ReplaceAll(search, "\r\n", "\n"), "\n"))
	if len(needle) == 0 {
		return nil
	}
	if opts.MaxFuzzyLines > 0 && len(needle) > opts.MaxFuzzyLines {
		return nil
	}
	for i := range needle {
		needle[i] = normalizeLine(needle[i], opts.CollapseWhitespace)
	}

	spans := splitLineSpans(content)
	normalized := make([]string, len(spans))
	for i, sp := range spans {
		normalized[i] = normalizeLine(content[sp.start:sp.end], opts.CollapseWhitespace)
	}

	var ranges []LineRange
	for i := 0; i+len(needle) <= len(spans); i++ {
		match := true
		for j := range needle {
			if normalized[i+j] != needle[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		last := spans[i+len(needle)-1]
		ranges = append(ranges, LineRange{
			StartLine:   i + 1,
			EndLine:     i + len(needle),
			StartOffset: spans[i].start,
			EndOffset:   last.end,
			Fuzzy:       true,
		})
	}
	return ranges
}

// similarLines returns up to n lines of content resembling the first
// non-blank line of search, most similar first.
func similarLines(content, search string, n int) []string {
	needle := trimBlankLines(strings.Split(search, "\n"))
	if len(needle) == 0 {
		return nil
	}
	target := strings.TrimSpace(needle[0])

	type scored struct {
		line  string
		score float64
	}
	var candidates []scored
	seen := map[string]bool{}
	dmp := diffmatchpatch.New()
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		if s := similarity(dmp, target, trimmed); s >= 0.6 {
			candidates = append(candidates, scored{line: trimmed, score: s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var out []string
	for i := 0; i < len(candidates) && i < n; i++ {
		out = append(out, candidates[i].line)
	}
	return out
}

// similarity is 2*M/T, where M is the number of characters the two strings
// share in a minimal diff and T the total length of both.
func similarity(dmp *diffmatchpatch.DiffMatchPatch, a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	common := 0
	for _, d := range dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	return 2 * float64(common) / float64(total)
}
