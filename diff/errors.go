package diff

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptySearch is returned when the search snippet has no content.
	ErrEmptySearch = errors.New("search text is empty")
	// ErrNoChange is returned when applying the replacement would not change the file.
	ErrNoChange = errors.New("replacement is identical to the matched text")
)

// NoMatchError reports a search snippet found nowhere in the file, even after
// whitespace-normalized matching. Similar holds up to three file lines that
// resemble the first line of the snippet.
type NoMatchError struct {
	Path    string
	Similar []string
}

func (e *NoMatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("search text not found")
	if e.Path != "" {
		fmt.Fprintf(&sb, " in %s", e.Path)
	}
	if len(e.Similar) > 0 {
		sb.WriteString("; similar lines:")
		for _, s := range e.Similar {
			sb.WriteString("\n  → ")
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// AmbiguousMatchError reports a search snippet that matches more than one location.
type AmbiguousMatchError struct {
	Path  string
	Count int
	Lines []int
}

func (e *AmbiguousMatchError) Error() string {
	where := ""
	if e.Path != "" {
		where = " in " + e.Path
	}
	return fmt.Sprintf("search text matches %d locations%s (lines %s); include more surrounding context",
		e.Count, where, joinInts(e.Lines))
}

// ConcurrentModificationError reports a file that changed between Prepare and Apply.
type ConcurrentModificationError struct {
	Path string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s changed since the edit was prepared; read it again before editing", e.Path)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
