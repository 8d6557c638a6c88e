package taskrun

import "fmt"

// UserContext is the "set during setup, read thereafter" key-value bag
// passed to every per-file task callback. It has two lifetime phases: a
// mutable builder phase (during the task's setup callback) and a frozen,
// read-only phase (during every subsequent dispatch). Attempts to mutate
// it after Freeze fail with an error rather than panicking, since a
// long-running task runtime must survive a setup bug rather than die to
// one.
type UserContext struct {
	values map[string]any
	frozen bool
}

// NewUserContext returns an empty, mutable UserContext.
func NewUserContext() *UserContext {
	return &UserContext{values: make(map[string]any)}
}

// Set stores a value under key. It returns an error if the context has
// already been frozen.
func (c *UserContext) Set(key string, value any) error {
	if c.frozen {
		return fmt.Errorf("taskrun: cannot set %q: user context is frozen", key)
	}
	c.values[key] = value
	return nil
}

// Freeze transitions the context into its read-only phase. Freeze is
// idempotent.
func (c *UserContext) Freeze() {
	c.frozen = true
}

// Frozen reports whether Freeze has been called.
func (c *UserContext) Frozen() bool { return c.frozen }

// Get retrieves a value by key. ok is false if the key was never set.
func (c *UserContext) Get(key string) (value any, ok bool) {
	value, ok = c.values[key]
	return value, ok
}

// GetString retrieves a string value, returning "" if absent or not a
// string.
func (c *UserContext) GetString(key string) string {
	v, ok := c.values[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
