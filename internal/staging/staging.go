// Package staging implements tigerflow's staging middleware chain: an
// ordered, stateless sequence of filters/transforms applied once per
// supervisor tick to the set of candidate input files, deciding which are
// admitted into the pipeline this round.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmylchreest/tigerflow/pkg/bytesize"
	"github.com/jmylchreest/tigerflow/pkg/duration"
)

// Candidate is one file under consideration for staging.
type Candidate struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Snapshot is the read-only pipeline-state view staging steps may consult.
// It carries no mutation methods — steps must treat it as immutable.
type Snapshot struct {
	Waiting   int
	Staged    int
	Completed int
	Failed    int
	InputDir  string
	OutputDir string
}

// Step is one entry in the staging chain.
type Step interface {
	Apply(ctx context.Context, snap Snapshot, candidates []Candidate) []Candidate
}

// Chain runs an ordered sequence of Steps, short-circuiting as soon as the
// candidate list becomes empty.
type Chain struct {
	Steps []Step
}

// Run applies every step in order.
func (c *Chain) Run(ctx context.Context, snap Snapshot, candidates []Candidate) []Candidate {
	result := candidates
	for _, step := range c.Steps {
		result = step.Apply(ctx, snap, result)
		if len(result) == 0 {
			break
		}
	}
	return result
}

// MinSize keeps candidates whose size is >= Bytes.
type MinSize struct{ Bytes bytesize.Size }

func (s MinSize) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	return filter(in, func(c Candidate) bool { return c.Size >= int64(s.Bytes) })
}

// MaxSize keeps candidates whose size is <= Bytes.
type MaxSize struct{ Bytes bytesize.Size }

func (s MaxSize) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	return filter(in, func(c Candidate) bool { return c.Size <= int64(s.Bytes) })
}

// MinAge keeps candidates whose age (now - mtime) is >= Threshold.
type MinAge struct{ Threshold time.Duration }

func (s MinAge) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	now := time.Now()
	return filter(in, func(c Candidate) bool { return now.Sub(c.ModTime) >= s.Threshold })
}

// FilenameMatch keeps candidates whose name matches Pattern anywhere.
type FilenameMatch struct{ Pattern *regexp.Regexp }

func (s FilenameMatch) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	return filter(in, func(c Candidate) bool { return s.Pattern.MatchString(c.Name) })
}

// CompanionFile keeps candidates for which a sibling "<stem><Ext>" exists.
type CompanionFile struct{ Ext string }

func (s CompanionFile) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	return filter(in, func(c Candidate) bool {
		stem := strings.TrimSuffix(c.Name, filepath.Ext(c.Name))
		companion := filepath.Join(filepath.Dir(c.Path), stem+s.Ext)
		_, err := os.Stat(companion)
		return err == nil
	})
}

// MaxStaged truncates candidates to the remaining admission capacity
// max(0, Count - snap.Staged).
type MaxStaged struct{ Count int }

func (s MaxStaged) Apply(_ context.Context, snap Snapshot, in []Candidate) []Candidate {
	remaining := s.Count - snap.Staged
	if remaining < 0 {
		remaining = 0
	}
	if remaining >= len(in) {
		return in
	}
	return in[:remaining]
}

// MaxBatch truncates candidates to the first Count.
type MaxBatch struct{ Count int }

func (s MaxBatch) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	if s.Count >= len(in) {
		return in
	}
	return in[:s.Count]
}

// SortKey selects the attribute SortBy orders candidates by.
type SortKey string

const (
	SortByName  SortKey = "name"
	SortBySize  SortKey = "size"
	SortByMtime SortKey = "mtime"
)

// SortBy reorders candidates without filtering any out.
type SortBy struct {
	Key     SortKey
	Reverse bool
}

func (s SortBy) Apply(_ context.Context, _ Snapshot, in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	copy(out, in)
	less := func(i, j int) bool {
		switch s.Key {
		case SortBySize:
			return out[i].Size < out[j].Size
		case SortByMtime:
			return out[i].ModTime.Before(out[j].ModTime)
		default:
			return out[i].Name < out[j].Name
		}
	}
	if s.Reverse {
		sort.SliceStable(out, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(out, less)
	}
	return out
}

// CallableFunc is a user-supplied staging transform. Its signature
// mirrors the built-in Step.Apply contract minus the context, matching
// the "module:name" callable reference resolved at config-load time.
type CallableFunc func(candidates []Candidate, snap Snapshot) []Candidate

// Callable delegates to a user function, treating a panic as "admit
// nothing" for this tick rather than crashing the pipeline — the Go
// equivalent of original_source's CallableMiddleware catching any
// exception from the user function and logging a warning.
type Callable struct {
	Name string
	Fn   CallableFunc
	Log  *slog.Logger
}

func (s Callable) Apply(_ context.Context, snap Snapshot, in []Candidate) (out []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			if s.Log != nil {
				s.Log.Warn("staging callable panicked, admitting nothing this tick",
					slog.String("callable", s.Name), slog.Any("recover", r))
			}
			out = nil
		}
	}()
	return s.Fn(in, snap)
}

func filter(in []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// ParseAge parses a human-readable age threshold (e.g. "30s", "5m") using
// the shared duration package.
func ParseAge(s string) (time.Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("staging: invalid age %q: %w", s, err)
	}
	return d, nil
}

// ParseSize parses a human-readable byte size threshold (e.g. "10MB")
// using the shared bytesize package.
func ParseSize(s string) (bytesize.Size, error) {
	sz, err := bytesize.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("staging: invalid size %q: %w", s, err)
	}
	return sz, nil
}
