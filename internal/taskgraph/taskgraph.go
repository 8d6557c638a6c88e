// Package taskgraph parses and validates tigerflow's task configuration:
// a YAML document describing a rooted in-tree of tasks plus an optional
// staging chain, validated into a Graph with a precomputed topological
// order.
package taskgraph

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tigerflow/internal/tferrors"
)

// Variant identifies which task runtime drives a task.
type Variant string

const (
	VariantSequential Variant = "sequential"
	VariantConcurrent Variant = "concurrent"
	VariantCluster    Variant = "cluster"
)

// DefaultOutputExt is applied when a task config omits output_ext, per
// original_source/src/tigerflow/models.py's BaseTaskConfig.output_ext.
const DefaultOutputExt = ".out"

var extPattern = regexp.MustCompile(`^(\.[A-Za-z0-9_]+)+$`)

// ClusterResources describes the resource request for a cluster-variant
// task, mirroring original_source's SlurmResourceConfig.
type ClusterResources struct {
	CPUs           int      `yaml:"cpus"`
	Memory         string   `yaml:"memory"`
	WallTime       string   `yaml:"walltime"`
	GPUs           int      `yaml:"gpus"`
	MaxWorkers     int      `yaml:"max_workers"`
	SbatchOptions  []string `yaml:"sbatch_options"`
	ScaleInterval  string   `yaml:"scale_interval"`
	IdleThreshold  int      `yaml:"idle_threshold"`
}

// RawTask is the YAML shape of one task entry, before validation.
type RawTask struct {
	Name          string           `yaml:"name"`
	Parent        string           `yaml:"parent"`
	InputExt      string           `yaml:"input_ext"`
	OutputExt     string           `yaml:"output_ext"`
	KeepOutput    bool             `yaml:"keep_output"`
	Module        string           `yaml:"module"`
	Library       string           `yaml:"library"`
	Variant       Variant          `yaml:"variant"`
	Workers       int              `yaml:"workers"`
	PollInterval  string           `yaml:"poll_interval"`
	SetupCommands []string         `yaml:"setup_commands"`
	Params        map[string]any   `yaml:"params"`
	Cluster       ClusterResources `yaml:"cluster"`
}

// RawStagingStep is one entry in the staging chain configuration.
type RawStagingStep struct {
	Kind string         `yaml:"kind"`
	With map[string]any `yaml:",inline"`
}

// RawConfig is the top-level YAML document shape.
type RawConfig struct {
	Tasks   []RawTask `yaml:"tasks"`
	Staging struct {
		Steps []RawStagingStep `yaml:"steps"`
	} `yaml:"staging"`
}

// Task is a validated, graph-resolved task node.
type Task struct {
	Name          string
	Parent        *Task
	Children      []*Task
	InputExt      string
	OutputExt     string
	KeepOutput    bool
	Module        string
	Library       string
	Variant       Variant
	Workers       int
	PollInterval  string
	SetupCommands []string
	Params        map[string]any
	Cluster       ClusterResources
}

// IsRoot reports whether t has no parent.
func (t *Task) IsRoot() bool { return t.Parent == nil }

// IsTerminal reports whether t has no children (a leaf of the tree).
func (t *Task) IsTerminal() bool { return len(t.Children) == 0 }

// OutputDirName is the on-disk directory name for this task's outputs,
// relative to the workspace root.
func (t *Task) OutputDirName() string { return t.Name }

// Graph is a validated task tree with a precomputed topological order.
type Graph struct {
	order   []*Task
	byName  map[string]*Task
	rootExt string
	Staging []RawStagingStep
}

// Order returns tasks in the topological order computed at load time:
// every parent appears before its children.
func (g *Graph) Order() []*Task { return g.order }

// ByName looks up a task by name.
func (g *Graph) ByName(name string) (*Task, bool) {
	t, ok := g.byName[name]
	return t, ok
}

// RootExt is the shared input extension of every root task — the
// pipeline's input type.
func (g *Graph) RootExt() string { return g.rootExt }

// Roots returns every task with no parent.
func (g *Graph) Roots() []*Task {
	var roots []*Task
	for _, t := range g.order {
		if t.IsRoot() {
			roots = append(roots, t)
		}
	}
	return roots
}

// Terminals returns every task with no children.
func (g *Graph) Terminals() []*Task {
	var terms []*Task
	for _, t := range g.order {
		if t.IsTerminal() {
			terms = append(terms, t)
		}
	}
	return terms
}

// Load reads and validates a task-graph configuration file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taskgraph: reading %s: %w", path, err)
	}

	var raw RawConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("taskgraph: parsing %s: %w", path, err)
	}

	return Validate(raw)
}

// Validate turns a RawConfig into a validated Graph, applying every
// per-task check and graph invariant, in order, and
// failing on the first violation.
func Validate(raw RawConfig) (*Graph, error) {
	if len(raw.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks defined", tferrors.ErrInvalidGraph)
	}

	byName := make(map[string]*Task, len(raw.Tasks))
	order := make([]*Task, 0, len(raw.Tasks))

	for _, rt := range raw.Tasks {
		if rt.Name == "" {
			return nil, fmt.Errorf("%w: task name must not be empty", tferrors.ErrInvalidGraph)
		}
		if _, dup := byName[rt.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task name %q", tferrors.ErrInvalidGraph, rt.Name)
		}

		if err := validateExt("input_ext", rt.InputExt); err != nil {
			return nil, err
		}
		outputExt := rt.OutputExt
		if outputExt == "" {
			outputExt = DefaultOutputExt
		}
		if err := validateExt("output_ext", outputExt); err != nil {
			return nil, err
		}

		if (rt.Module == "") == (rt.Library == "") {
			return nil, fmt.Errorf("%w: task %q must set exactly one of module or library",
				tferrors.ErrInvalidGraph, rt.Name)
		}
		if rt.Module != "" {
			if err := validateModulePath(rt.Name, rt.Module); err != nil {
				return nil, err
			}
		}

		variant := rt.Variant
		if variant == "" {
			variant = VariantSequential
		}
		if variant == VariantCluster {
			if rt.Cluster.CPUs <= 0 || rt.Cluster.Memory == "" || rt.Cluster.WallTime == "" {
				return nil, fmt.Errorf("%w: cluster task %q requires cpus, memory, and walltime",
					tferrors.ErrInvalidGraph, rt.Name)
			}
			if rt.Cluster.MaxWorkers <= 0 {
				return nil, fmt.Errorf("%w: cluster task %q requires max_workers > 0",
					tferrors.ErrInvalidGraph, rt.Name)
			}
		}

		workers := rt.Workers
		if workers <= 0 {
			workers = 1
		}

		t := &Task{
			Name:          rt.Name,
			InputExt:      rt.InputExt,
			OutputExt:     outputExt,
			KeepOutput:    rt.KeepOutput,
			Module:        rt.Module,
			Library:       rt.Library,
			Variant:       variant,
			Workers:       workers,
			PollInterval:  rt.PollInterval,
			SetupCommands: rt.SetupCommands,
			Params:        rt.Params,
			Cluster:       rt.Cluster,
		}
		byName[rt.Name] = t
		order = append(order, t)
	}

	// Resolve parent references and build the children adjacency.
	for i, rt := range raw.Tasks {
		t := order[i]
		if rt.Parent == "" {
			continue
		}
		parent, ok := byName[rt.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: task %q references unknown parent %q",
				tferrors.ErrInvalidGraph, rt.Name, rt.Parent)
		}
		if parent.OutputExt != t.InputExt {
			return nil, fmt.Errorf(
				"%w: task %q input_ext %q does not match parent %q output_ext %q",
				tferrors.ErrInvalidGraph, t.Name, t.InputExt, parent.Name, parent.OutputExt)
		}
		t.Parent = parent
		parent.Children = append(parent.Children, t)
	}

	roots := make([]*Task, 0)
	for _, t := range order {
		if t.IsRoot() {
			roots = append(roots, t)
		}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no root task (every task has a parent, implying a cycle)",
			tferrors.ErrInvalidGraph)
	}
	rootExt := roots[0].InputExt
	for _, r := range roots[1:] {
		if r.InputExt != rootExt {
			return nil, fmt.Errorf(
				"%w: root tasks must share one input_ext, found %q and %q",
				tferrors.ErrInvalidGraph, rootExt, r.InputExt)
		}
	}

	if err := checkSingleComponent(order, roots); err != nil {
		return nil, err
	}

	sorted, err := topoSort(order)
	if err != nil {
		return nil, err
	}

	return &Graph{
		order:   sorted,
		byName:  byName,
		rootExt: rootExt,
		Staging: raw.Staging.Steps,
	}, nil
}

// validateModulePath confirms a module task's launch script exists and is
// not a directory (the executable bit is not checked), so a nonexistent script is caught as a configuration
// error at startup rather than as a per-file dispatch failure once the
// pipeline is already running.
func validateModulePath(taskName, modulePath string) error {
	info, err := os.Stat(modulePath)
	if err != nil {
		return fmt.Errorf("%w: task %q module %q: %v",
			tferrors.ErrInvalidGraph, taskName, modulePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: task %q module %q is a directory, not a script",
			tferrors.ErrInvalidGraph, taskName, modulePath)
	}
	return nil
}

func validateExt(field, ext string) error {
	if !extPattern.MatchString(ext) {
		return fmt.Errorf("%w: %s %q must match (\\.[A-Za-z0-9_]+)+",
			tferrors.ErrInvalidGraph, field, ext)
	}
	if strings.HasSuffix(ext, ".err") {
		return fmt.Errorf("%w: %s %q must not end in the reserved .err suffix",
			tferrors.ErrInvalidGraph, field, ext)
	}
	return nil
}

// checkSingleComponent verifies the graph (ignoring direction) is one
// connected component: every task is reachable from the first root by
// following parent and child links, so a forest of disjoint trees or a
// cycle left dangling off to the side is rejected.
func checkSingleComponent(all []*Task, roots []*Task) error {
	seen := make(map[*Task]bool, len(all))
	var visit func(*Task)
	visit = func(t *Task) {
		if t == nil || seen[t] {
			return
		}
		seen[t] = true
		visit(t.Parent)
		for _, c := range t.Children {
			visit(c)
		}
	}
	visit(roots[0])
	if len(seen) != len(all) {
		return fmt.Errorf("%w: task graph has more than one connected component",
			tferrors.ErrInvalidGraph)
	}
	return nil
}

// topoSort returns tasks ordered so that every parent precedes its
// children. Because each node has at most one parent (already enforced by
// Validate), this is a depth-first walk up each task's parent chain that
// emits ancestors before the task itself, and
// also detects the one remaining cycle shape the rooted-in-tree checks
// above cannot: a task naming itself as an ancestor deeper in the chain.
func topoSort(all []*Task) ([]*Task, error) {
	visited := make(map[*Task]int, len(all)) // 0=unvisited,1=visiting,2=done
	var order []*Task

	var visit func(*Task) error
	visit = func(t *Task) error {
		switch visited[t] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: cycle detected at task %q", tferrors.ErrInvalidGraph, t.Name)
		}
		visited[t] = 1
		if t.Parent != nil {
			if err := visit(t.Parent); err != nil {
				return err
			}
		}
		visited[t] = 2
		order = append(order, t)
		return nil
	}

	for _, t := range all {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return order, nil
}
