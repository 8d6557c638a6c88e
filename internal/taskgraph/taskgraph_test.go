package taskgraph_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tigerflow/internal/taskgraph"
	"github.com/jmylchreest/tigerflow/internal/tferrors"
)

func validTwoStage() taskgraph.RawConfig {
	return taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "upper", InputExt: ".txt", OutputExt: ".txt", Library: "echo"},
			{Name: "count", Parent: "upper", InputExt: ".txt", OutputExt: ".out", Library: "echo"},
		},
	}
}

func TestValidateAcceptsValidChain(t *testing.T) {
	g, err := taskgraph.Validate(validTwoStage())
	require.NoError(t, err)

	order := g.Order()
	require.Len(t, order, 2)
	assert.Equal(t, "upper", order[0].Name, "parent must precede child in topological order")
	assert.Equal(t, "count", order[1].Name)
	assert.Equal(t, ".txt", g.RootExt())

	upper, ok := g.ByName("upper")
	require.True(t, ok)
	assert.True(t, upper.IsRoot())
	assert.False(t, upper.IsTerminal())

	count, ok := g.ByName("count")
	require.True(t, ok)
	assert.False(t, count.IsRoot())
	assert.True(t, count.IsTerminal())
}

func TestValidateDefaultsOutputExt(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "solo", InputExt: ".txt", Library: "echo"},
		},
	}
	g, err := taskgraph.Validate(cfg)
	require.NoError(t, err)
	task, _ := g.ByName("solo")
	assert.Equal(t, taskgraph.DefaultOutputExt, task.OutputExt)
}

func TestValidateRejectsEmptyTaskList(t *testing.T) {
	_, err := taskgraph.Validate(taskgraph.RawConfig{})
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "dup", InputExt: ".txt", Library: "echo"},
			{Name: "dup", InputExt: ".txt", Library: "echo"},
		},
	}
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateRejectsUnknownParent(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "child", Parent: "ghost", InputExt: ".txt", Library: "echo"},
		},
	}
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateRejectsExtensionMismatch(t *testing.T) {
	cfg := validTwoStage()
	cfg.Tasks[1].InputExt = ".csv"
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateRejectsMultipleRootsWithDifferentExt(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", Library: "echo"},
			{Name: "b", InputExt: ".csv", Library: "echo"},
		},
	}
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateRejectsReservedErrExtension(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", OutputExt: ".err", Library: "echo"},
		},
	}
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateRequiresExactlyOneOfModuleOrLibrary(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", Library: "echo", Module: "/bin/echo"},
		},
	}
	_, err := taskgraph.Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tferrors.ErrInvalidGraph))
}

func TestValidateRejectsMissingModuleScript(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", Module: "/no/such/script.sh"},
		},
	}
	_, err := taskgraph.Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tferrors.ErrInvalidGraph))
}

func TestValidateAcceptsExistingModuleScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", Module: script},
		},
	}
	_, err := taskgraph.Validate(cfg)
	require.NoError(t, err)
}

func TestValidateRejectsModulePathThatIsADirectory(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", Module: t.TempDir()},
		},
	}
	_, err := taskgraph.Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tferrors.ErrInvalidGraph))
}

func TestValidateClusterTaskRequiresResources(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "a", InputExt: ".txt", Library: "echo", Variant: taskgraph.VariantCluster},
		},
	}
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}

func TestValidateDisjointForestRejected(t *testing.T) {
	cfg := taskgraph.RawConfig{
		Tasks: []taskgraph.RawTask{
			{Name: "r1", InputExt: ".txt", Library: "echo"},
			{Name: "r2", InputExt: ".txt", Library: "echo"},
		},
	}
	// Two disjoint single-node roots sharing an ext are still two
	// connected components, which is rejected as a forest rather than
	// one rooted tree.
	_, err := taskgraph.Validate(cfg)
	assert.ErrorIs(t, err, tferrors.ErrInvalidGraph)
}
