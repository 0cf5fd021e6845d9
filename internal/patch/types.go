// internal/patch/types.go
package patch

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// DiffSuffix is appended to the archive name of every diff payload.
const DiffSuffix = ".bspatch"

var (
	ErrUnsafePath    = errors.New("unsafe entry path")
	ErrDuplicatePath = errors.New("duplicate entry path")
	// ErrAmbiguousName marks a snapshot whose archive name would read back
	// as a diff.
	ErrAmbiguousName = errors.New("snapshot path ends in " + DiffSuffix)
)

// Kind tells the applicator how to interpret an entry's payload
type Kind int

const (
	// Diff payloads are bsdiff deltas against the current destination file.
	Diff Kind = iota
	// Snapshot payloads are the full target content.
	Snapshot
)

func (k Kind) String() string {
	switch k {
	case Diff:
		return "diff"
	case Snapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one file's payload addressed by its path relative to a tree root.
// Path always uses forward slashes.
type Entry struct {
	Path    string
	Kind    Kind
	Payload []byte
}

// NewDiff creates a diff entry after validating its path
func NewDiff(relPath string, delta []byte) (Entry, error) {
	return newEntry(relPath, Diff, delta)
}

// NewSnapshot creates a snapshot entry after validating its path
func NewSnapshot(relPath string, content []byte) (Entry, error) {
	return newEntry(relPath, Snapshot, content)
}

func newEntry(relPath string, kind Kind, payload []byte) (Entry, error) {
	clean, err := CleanPath(relPath)
	if err != nil {
		return Entry{}, err
	}
	if err := checkName(clean, kind); err != nil {
		return Entry{}, err
	}
	if payload == nil {
		payload = []byte{}
	}
	return Entry{Path: clean, Kind: kind, Payload: payload}, nil
}

// ArchiveName returns the name the entry is stored under inside a container
func (e Entry) ArchiveName() string {
	if e.Kind == Diff {
		return e.Path + DiffSuffix
	}
	return e.Path
}

func checkName(clean string, kind Kind) error {
	if kind == Snapshot && strings.HasSuffix(clean, DiffSuffix) {
		return fmt.Errorf("%w: %s", ErrAmbiguousName, clean)
	}
	return nil
}

// FromArchiveName maps a container item name back to its path and kind.
// The returned path is not validated; callers re-check it before use.
func FromArchiveName(name string) (string, Kind) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if p, ok := strings.CutSuffix(name, DiffSuffix); ok {
		return p, Diff
	}
	return name, Snapshot
}

// CleanPath normalizes a relative path to slash form and rejects paths that
// are empty, absolute or escape their root.
func CleanPath(relPath string) (string, error) {
	slashed := filepath.ToSlash(relPath)
	if slashed == "" || strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, relPath)
	}
	clean := path.Clean(slashed)
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, relPath)
	}
	return clean, nil
}

// Resolve joins root with the entry path and confirms the result stays
// inside root.
func (e Entry) Resolve(root string) (string, error) {
	clean, err := CleanPath(e.Path)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, target)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q resolves outside %s", ErrUnsafePath, e.Path, root)
	}
	return target, nil
}
