package build

// Status classifies what happened to one file during a build
type Status string

const (
	StatusAdded     Status = "added"
	StatusModified  Status = "modified"
	StatusUnchanged Status = "unchanged"
	// StatusRemoved marks files that exist only in the old tree. The
	// container format has no deletion entry, so nothing is emitted.
	StatusRemoved Status = "removed"
	StatusFailed  Status = "failed"
)

// FileResult is the build outcome for one relative path
type FileResult struct {
	Path   string
	Status Status
	Size   int64 // payload size of the emitted entry
	Err    error
}

// Report lists every file the builder looked at, in path order
type Report struct {
	Files []FileResult
}

func (r *Report) Count(s Status) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == s {
			n++
		}
	}
	return n
}

// Failures returns the files that could not be turned into entries
func (r *Report) Failures() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Status == StatusFailed {
			out = append(out, f)
		}
	}
	return out
}
