package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// ContextLines is the number of unchanged lines shown around each change.
	ContextLines = 3
	// MaxRenderLines caps the body of a rendered diff.
	MaxRenderLines = 200
)

// Line kinds.
const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// Line is one line of a line-level diff. OldLine and NewLine are the 1-based
// positions the line occupies, or would occupy, in each version.
type Line struct {
	Type    string
	Text    string
	OldLine int
	NewLine int
	NoEOL   bool
}

// Lines computes a line-level diff of before and after.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		for _, raw := range strings.SplitAfter(d.Text, "\n") {
			if raw == "" {
				continue
			}
			l := Line{
				Text:    strings.TrimSuffix(raw, "\n"),
				NoEOL:   !strings.HasSuffix(raw, "\n"),
				OldLine: oldLine,
				NewLine: newLine,
			}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				l.Type = LineContext
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				l.Type = LineRemoved
				oldLine++
			case diffmatchpatch.DiffInsert:
				l.Type = LineAdded
				newLine++
			}
			lines = append(lines, l)
		}
	}
	return lines
}

// Render returns the unified diff of a hunk.
func Render(h *Hunk) string {
	return Unified("a/"+h.Path, "b/"+h.Path, h.before, h.after)
}

// RenderNewFile returns the unified diff of creating path with content.
func RenderNewFile(path, content string) string {
	return Unified("/dev/null", "b/"+path, "", content)
}

// Unified renders a unified diff between before and after with ContextLines
// of context. Bodies longer than MaxRenderLines are cut off with a marker.
// Identical inputs render as the empty string.
func Unified(fromName, toName, before, after string) string {
	lines := Lines(before, after)
	groups := groupChanges(lines, ContextLines)
	if len(groups) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", fromName, toName)
	written := 0
	for _, g := range groups {
		chunk := lines[g[0]:g[1]]
		oldStart, newStart := chunk[0].OldLine, chunk[0].NewLine
		oldCount, newCount := 0, 0
		for _, l := range chunk {
			if l.Type != LineAdded {
				oldCount++
			}
			if l.Type != LineRemoved {
				newCount++
			}
		}
		if oldCount == 0 {
			oldStart--
		}
		if newCount == 0 {
			newStart--
		}
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", span(oldStart, oldCount), span(newStart, newCount))

		for _, l := range chunk {
			if written >= MaxRenderLines {
				fmt.Fprintf(&sb, "... (diff truncated, %d more lines)\n", remaining(groups, written))
				return sb.String()
			}
			switch l.Type {
			case LineAdded:
				sb.WriteByte('+')
			case LineRemoved:
				sb.WriteByte('-')
			default:
				sb.WriteByte(' ')
			}
			sb.WriteString(l.Text)
			sb.WriteByte('\n')
			if l.NoEOL {
				sb.WriteString("\\ No newline at end of file\n")
			}
			written++
		}
	}
	return sb.String()
}

func span(start, count int) string {
	if count == 1 {
		return fmt.Sprint(start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// groupChanges returns [start, end) index pairs of lines to print, merging
// changes separated by at most 2*ctx unchanged lines.
func groupChanges(lines []Line, ctx int) [][2]int {
	var groups [][2]int
	for i := 0; i < len(lines); {
		if lines[i].Type == LineContext {
			i++
			continue
		}
		start := max(0, i-ctx)
		end := i
		for j := i; j < len(lines); j++ {
			if lines[j].Type != LineContext {
				end = j
			} else if j-end > 2*ctx {
				break
			}
		}
		stop := min(len(lines), end+ctx+1)
		groups = append(groups, [2]int{start, stop})
		i = stop
	}
	return groups
}

func remaining(groups [][2]int, written int) int {
	total := 0
	for _, g := range groups {
		total += g[1] - g[0]
	}
	return total - written
}
