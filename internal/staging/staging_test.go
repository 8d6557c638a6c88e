package staging_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tigerflow/internal/staging"
)

func cands(names ...string) []staging.Candidate {
	out := make([]staging.Candidate, len(names))
	for i, n := range names {
		out[i] = staging.Candidate{Path: n, Name: n}
	}
	return out
}

func TestMinMaxSizeFilters(t *testing.T) {
	in := []staging.Candidate{
		{Name: "small", Size: 10},
		{Name: "big", Size: 1000},
	}
	out := staging.MinSize{Bytes: 100}.Apply(context.Background(), staging.Snapshot{}, in)
	require.Len(t, out, 1)
	assert.Equal(t, "big", out[0].Name)

	out = staging.MaxSize{Bytes: 100}.Apply(context.Background(), staging.Snapshot{}, in)
	require.Len(t, out, 1)
	assert.Equal(t, "small", out[0].Name)
}

func TestMinAgeFilter(t *testing.T) {
	now := time.Now()
	in := []staging.Candidate{
		{Name: "fresh", ModTime: now},
		{Name: "old", ModTime: now.Add(-time.Hour)},
	}
	out := staging.MinAge{Threshold: 30 * time.Minute}.Apply(context.Background(), staging.Snapshot{}, in)
	require.Len(t, out, 1)
	assert.Equal(t, "old", out[0].Name)
}

func TestMaxStagedRespectsRemainingCapacity(t *testing.T) {
	in := cands("a", "b", "c", "d", "e")
	out := staging.MaxStaged{Count: 3}.Apply(context.Background(), staging.Snapshot{Staged: 2}, in)
	assert.Len(t, out, 1, "max(0, 3-2) = 1")
}

func TestMaxStagedAtCapacityYieldsNone(t *testing.T) {
	in := cands("a", "b")
	out := staging.MaxStaged{Count: 3}.Apply(context.Background(), staging.Snapshot{Staged: 5}, in)
	assert.Empty(t, out)
}

func TestMaxBatchTruncates(t *testing.T) {
	in := cands("a", "b", "c")
	out := staging.MaxBatch{Count: 2}.Apply(context.Background(), staging.Snapshot{}, in)
	assert.Len(t, out, 2)
}

func TestSortByIsAPermutation(t *testing.T) {
	in := cands("c", "a", "b")
	out := staging.SortBy{Key: staging.SortByName}.Apply(context.Background(), staging.Snapshot{}, in)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].Name, out[1].Name, out[2].Name})
}

func TestFilenameMatch(t *testing.T) {
	in := cands("report-2024.csv", "notes.txt")
	re := regexp.MustCompile(`report-\d+`)
	out := staging.FilenameMatch{Pattern: re}.Apply(context.Background(), staging.Snapshot{}, in)
	require.Len(t, out, 1)
	assert.Equal(t, "report-2024.csv", out[0].Name)
}

func TestChainShortCircuitsOnEmpty(t *testing.T) {
	calls := 0
	counting := countingStep{calls: &calls}
	chain := &staging.Chain{Steps: []staging.Step{
		staging.MaxBatch{Count: 0},
		counting,
	}}
	out := chain.Run(context.Background(), staging.Snapshot{}, cands("a", "b"))
	assert.Empty(t, out)
	assert.Equal(t, 0, calls, "steps after the candidate list empties must not run")
}

func TestCallableRecoversFromPanic(t *testing.T) {
	step := staging.Callable{
		Name: "boom",
		Fn: func(_ []staging.Candidate, _ staging.Snapshot) []staging.Candidate {
			panic("boom")
		},
	}
	out := step.Apply(context.Background(), staging.Snapshot{}, cands("a"))
	assert.Empty(t, out, "a panicking callable must admit nothing, not crash the chain")
}

type countingStep struct{ calls *int }

func (c countingStep) Apply(_ context.Context, _ staging.Snapshot, in []staging.Candidate) []staging.Candidate {
	*c.calls++
	return in
}
