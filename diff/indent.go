package diff

import (
	"sort"
	"strings"
)

// fitReplacement adapts replace to a fuzzy match. Blank lines at either end
// are dropped and indentation is translated to the file's. CRLF files get
// CRLF line endings.
func fitReplacement(content, search, replace string, rng LineRange) string {
	lines := trimBlankLines(splitLines(replace))
	needle := trimBlankLines(splitLines(search))
	matched := splitLines(content[rng.StartOffset:rng.EndOffset])

	lines = reindent(lines, indentMap(needle, matched))
	out := strings.Join(lines, "\n")
	if usesCRLF(content, rng) {
		out = strings.ReplaceAll(out, "\n", "\r\n")
	}
	return out
}

// splitLines splits on \n and drops the \r of CRLF endings.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func usesCRLF(content string, rng LineRange) bool {
	return strings.Contains(content[rng.StartOffset:rng.EndOffset], "\r\n") ||
		strings.HasPrefix(content[rng.EndOffset:], "\r\n")
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// indentMap pairs the indentation of each search line with that of the file
// line it matched. An indentation that matched two different file
// indentations says nothing reliable and is left out.
func indentMap(search, matched []string) map[string]string {
	m := make(map[string]string)
	conflict := make(map[string]bool)
	for i, line := range search {
		if i >= len(matched) {
			break
		}
		if strings.TrimSpace(line) == "" || strings.TrimSpace(matched[i]) == "" {
			continue
		}
		from, to := leadingWhitespace(line), leadingWhitespace(matched[i])
		if conflict[from] {
			continue
		}
		if prev, ok := m[from]; ok && prev != to {
			delete(m, from)
			conflict[from] = true
			continue
		}
		m[from] = to
	}
	return m
}

func only(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			return false
		}
	}
	return true
}

// tabUnits derives how many spaces stand for one tab when the search used
// spaces where the file uses tabs (spacesPerTab) or the other way round
// (tabSpaces). Both are zero unless every mapped pair agrees.
func tabUnits(m map[string]string) (spacesPerTab, tabSpaces int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, from := range keys {
		to := m[from]
		if from == "" || to == "" || from == to {
			continue
		}
		switch {
		case only(from, ' ') && only(to, '\t') && len(from)%len(to) == 0:
			unit := len(from) / len(to)
			if spacesPerTab != 0 && spacesPerTab != unit {
				return 0, 0
			}
			spacesPerTab = unit
		case only(from, '\t') && only(to, ' ') && len(to)%len(from) == 0:
			unit := len(to) / len(from)
			if tabSpaces != 0 && tabSpaces != unit {
				return 0, 0
			}
			tabSpaces = unit
		}
	}
	if spacesPerTab != 0 && tabSpaces != 0 {
		return 0, 0
	}
	return spacesPerTab, tabSpaces
}

// reindent rewrites the indentation of each line through m. Indentations m
// does not know are converted between tabs and spaces when the matched
// lines show a consistent width, and kept as written otherwise.
func reindent(lines []string, m map[string]string) []string {
	spacesPerTab, tabSpaces := tabUnits(m)
	out := make([]string, len(lines))
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(body)]
		switch {
		case body == "":
			out[i] = line
		case hasKey(m, indent):
			out[i] = m[indent] + body
		case spacesPerTab > 0 && only(indent, ' '):
			n := len(indent)
			out[i] = strings.Repeat("\t", n/spacesPerTab) + strings.Repeat(" ", n%spacesPerTab) + body
		case tabSpaces > 0 && only(indent, '\t'):
			out[i] = strings.Repeat(" ", len(indent)*tabSpaces) + body
		default:
			out[i] = line
		}
	}
	return out
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}
