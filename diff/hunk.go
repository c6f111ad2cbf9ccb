package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// FS is the file access a Hunk needs. *workspace.Guard implements it.
type FS interface {
	ReadFile(path string) ([]byte, error)
	ReplaceFile(path string, content []byte) error
}

// Hunk is a located, not yet applied, search/replace edit of one file.
type Hunk struct {
	Path        string
	Search      string
	Replace     string
	Range       LineRange
	Original    string // the exact matched text
	Fingerprint string // sha256 of the whole file when the hunk was prepared

	before string
	after  string
}

// Before returns the file content the hunk was prepared against.
func (h *Hunk) Before() string { return h.before }

// After returns the file content once the hunk is applied.
func (h *Hunk) After() string { return h.after }

// Fingerprint returns the content hash used for the concurrency check.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Prepare reads path, locates search in it and builds the Hunk that would
// replace the match with replace. The file is not modified.
func Prepare(fsys FS, path, search, replace string, opts MatchOptions) (*Hunk, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Compute(path, string(data), search, replace, opts)
}

// Compute builds a Hunk from content already in memory.
func Compute(path, content, search, replace string, opts MatchOptions) (*Hunk, error) {
	rng, err := Locate(content, search, opts)
	if err != nil {
		var nm *NoMatchError
		var am *AmbiguousMatchError
		switch {
		case errors.As(err, &nm):
			nm.Path = path
		case errors.As(err, &am):
			am.Path = path
		}
		return nil, err
	}

	original := content[rng.StartOffset:rng.EndOffset]
	replacement := replace
	if rng.Fuzzy {
		replacement = fitReplacement(content, search, replace, rng)
	}
	if original == replacement {
		return nil, fmt.Errorf("edit %s: %w", path, ErrNoChange)
	}

	return &Hunk{
		Path:        path,
		Search:      search,
		Replace:     replace,
		Range:       rng,
		Original:    original,
		Fingerprint: Fingerprint([]byte(content)),
		before:      content,
		after:       content[:rng.StartOffset] + replacement + content[rng.EndOffset:],
	}, nil
}

// Apply re-reads the file and, if it is byte-for-byte what the hunk was
// prepared against, atomically writes the edited content. Any change in
// between fails with *ConcurrentModificationError and leaves the file alone.
func Apply(fsys FS, h *Hunk) error {
	current, err := fsys.ReadFile(h.Path)
	if err != nil {
		return err
	}
	if Fingerprint(current) != h.Fingerprint {
		return &ConcurrentModificationError{Path: h.Path}
	}
	return fsys.ReplaceFile(h.Path, []byte(h.after))
}
