// internal/apply/report.go
package apply

import (
	"patchpack/internal/patch"
)

// Status is the result of applying one entry
type Status string

const (
	StatusApplied Status = "applied"
	// StatusRejected marks entries refused before touching the filesystem,
	// such as paths escaping the destination or duplicate targets.
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Outcome records what happened to one entry
type Outcome struct {
	Path    string
	Kind    patch.Kind
	Status  Status
	OldSize int64
	NewSize int64
	Err     error
}

// Delta is the signed change in file size
func (o Outcome) Delta() int64 {
	return o.NewSize - o.OldSize
}

// State summarizes a report
type State int

const (
	// Empty means the container held no entries.
	Empty State = iota
	// Complete means every entry was applied.
	Complete
	// Partial means at least one entry was rejected or failed.
	Partial
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	default:
		return "unknown"
	}
}

// Report holds one outcome per entry in container order, including items
// that could not be decoded.
type Report struct {
	Outcomes []Outcome
}

func (r *Report) State() State {
	if len(r.Outcomes) == 0 {
		return Empty
	}
	for _, o := range r.Outcomes {
		if o.Status != StatusApplied {
			return Partial
		}
	}
	return Complete
}

func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Failures returns every outcome that was not applied
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusApplied {
			out = append(out, o)
		}
	}
	return out
}

// Delta sums the size change over applied entries
func (r *Report) Delta() int64 {
	var n int64
	for _, o := range r.Outcomes {
		if o.Status == StatusApplied {
			n += o.Delta()
		}
	}
	return n
}
