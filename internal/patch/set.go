package patch

import (
	"fmt"
	"sort"
)

// Set is an ordered collection of entries. Order is kept through encode and
// decode so repeated builds produce identical containers.
type Set []Entry

// Validate checks every path and rejects entries that would land on the
// same destination file or that would not survive an encode and decode.
func (s Set) Validate() error {
	seen := make(map[string]int, len(s))
	for i, e := range s {
		clean, err := CleanPath(e.Path)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if err := checkName(clean, e.Kind); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if j, ok := seen[clean]; ok {
			return fmt.Errorf("entries %d and %d: %w: %s", j, i, ErrDuplicatePath, clean)
		}
		seen[clean] = i
	}
	return nil
}

// Sort orders entries by path
func (s Set) Sort() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Path < s[j].Path })
}

// Size returns the total payload size in bytes
func (s Set) Size() int64 {
	var n int64
	for _, e := range s {
		n += int64(len(e.Payload))
	}
	return n
}
