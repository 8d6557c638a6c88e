// Package registry holds tigerflow's built-in task implementations and the
// lookup tables backing the "tasks list"/"tasks info" CLI commands.
// Grounded on original_source's library/echo.py (the one shipped example
// task, demonstrating the Params pattern) and on the reflect-over-struct-tags
// idiom used for "config dump" — reused here to introspect a task's Params
// struct.
package registry

import (
	"reflect"
	"sort"

	"github.com/jmylchreest/tigerflow/internal/taskrun"
)

// Param describes one field of a built-in task's parameter struct, as
// shown by "tasks info <name>".
type Param struct {
	Name     string
	Type     string
	Default  string
	Required bool
	Help     string
}

// Task is a registered built-in, pairing its metadata with a factory that
// builds a taskrun.Config from decoded parameters.
type Task struct {
	Name             string
	ShortDescription string
	LongDescription  string
	Params           any // pointer to a zero-value Params struct, for reflection
	New              func(params map[string]any) (taskrun.RunFunc, error)
}

var registry = map[string]*Task{}

// Register adds a task to the registry. Called from each built-in's
// init(), matching a familiar driver-registration pattern of registering
// implementations at package init.
func Register(t *Task) {
	registry[t.Name] = t
}

// Lookup returns a registered task by name.
func Lookup(name string) (*Task, bool) {
	t, ok := registry[name]
	return t, ok
}

// List returns every registered task name, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamsOf reflects over a task's Params struct and returns one Param per
// exported field, using the "help" and "default" struct tags when present
// and treating a field as required when it has no "default" tag.
func ParamsOf(t *Task) []Param {
	if t.Params == nil {
		return nil
	}
	v := reflect.ValueOf(t.Params)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	typ := v.Type()

	params := make([]Param, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		def, hasDefault := f.Tag.Lookup("default")
		params = append(params, Param{
			Name:     fieldName(f),
			Type:     f.Type.String(),
			Default:  def,
			Required: !hasDefault,
			Help:     f.Tag.Get("help"),
		})
	}
	return params
}

func fieldName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("param"); ok && tag != "" {
		return tag
	}
	return f.Name
}

// requireString pulls a string parameter out of a decoded params map,
// defaulting to def when absent.
func requireString(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func requireBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
