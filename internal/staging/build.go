package staging

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jmylchreest/tigerflow/internal/taskgraph"
	"github.com/jmylchreest/tigerflow/pkg/bytesize"
)

// Build compiles a validated task-graph's staging step configuration into
// a runnable Chain. callables resolves "callable" step function
// references (e.g. "mymodule:filter") to an actual CallableFunc; steps
// referencing a name absent from callables fail to build.
func Build(steps []taskgraph.RawStagingStep, log *slog.Logger, callables map[string]CallableFunc) (*Chain, error) {
	chain := &Chain{Steps: make([]Step, 0, len(steps))}

	for _, raw := range steps {
		step, err := buildStep(raw, log, callables)
		if err != nil {
			return nil, fmt.Errorf("staging: step %q: %w", raw.Kind, err)
		}
		chain.Steps = append(chain.Steps, step)
	}
	return chain, nil
}

func buildStep(raw taskgraph.RawStagingStep, log *slog.Logger, callables map[string]CallableFunc) (Step, error) {
	switch raw.Kind {
	case "min_size":
		sz, err := requireSize(raw, "bytes")
		if err != nil {
			return nil, err
		}
		return MinSize{Bytes: sz}, nil

	case "max_size":
		sz, err := requireSize(raw, "bytes")
		if err != nil {
			return nil, err
		}
		return MaxSize{Bytes: sz}, nil

	case "min_age":
		d, err := requireDuration(raw, "seconds")
		if err != nil {
			return nil, err
		}
		return MinAge{Threshold: d}, nil

	case "filename_match":
		pattern, ok := raw.With["pattern"].(string)
		if !ok || pattern == "" {
			return nil, fmt.Errorf("requires a non-empty pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		return FilenameMatch{Pattern: re}, nil

	case "companion_file":
		ext, ok := raw.With["ext"].(string)
		if !ok || ext == "" {
			return nil, fmt.Errorf("requires a non-empty ext")
		}
		return CompanionFile{Ext: ext}, nil

	case "max_staged":
		n, err := requireInt(raw, "count")
		if err != nil {
			return nil, err
		}
		return MaxStaged{Count: n}, nil

	case "max_batch":
		n, err := requireInt(raw, "count")
		if err != nil {
			return nil, err
		}
		return MaxBatch{Count: n}, nil

	case "sort_by":
		key := SortByName
		if v, ok := raw.With["key"].(string); ok && v != "" {
			key = SortKey(v)
		}
		reverse, _ := raw.With["reverse"].(bool)
		return SortBy{Key: key, Reverse: reverse}, nil

	case "callable":
		name, ok := raw.With["function"].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("requires a non-empty function reference")
		}
		fn, ok := callables[name]
		if !ok {
			return nil, fmt.Errorf("unresolved callable reference %q", name)
		}
		return Callable{Name: name, Fn: fn, Log: log}, nil

	default:
		return nil, fmt.Errorf("unrecognized staging step kind %q", raw.Kind)
	}
}

func requireSize(raw taskgraph.RawStagingStep, key string) (bytesize.Size, error) {
	v, ok := raw.With[key]
	if !ok {
		return 0, fmt.Errorf("requires %q", key)
	}
	n, ok := toInt64(v)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("%q must be a positive integer", key)
	}
	return bytesize.Size(n), nil
}

func requireDuration(raw taskgraph.RawStagingStep, key string) (time.Duration, error) {
	v, ok := raw.With[key]
	if !ok {
		return 0, fmt.Errorf("requires %q", key)
	}
	n, ok := toInt64(v)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("%q must be a positive number of seconds", key)
	}
	return time.Duration(n) * time.Second, nil
}

func requireInt(raw taskgraph.RawStagingStep, key string) (int, error) {
	v, ok := raw.With[key]
	if !ok {
		return 0, fmt.Errorf("requires %q", key)
	}
	n, ok := toInt64(v)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("%q must be a positive integer", key)
	}
	return int(n), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
