package sim

// TickCache memoises values derived from the state of one subject during a
// single tick. The pre-tick hook clears it.
//
// Thread-safety: NOT thread-safe. Owned by one subject within one run.
type TickCache struct {
	values map[string]any
}

// Clear drops every cached value.
func (c *TickCache) Clear() {
	clear(c.values)
}

// Len is the number of cached values.
func (c *TickCache) Len() int { return len(c.values) }

// Cached returns the value stored under key, computing and storing it first
// if absent. A stored value of another type is recomputed and overwritten.
func Cached[T any](c *TickCache, key string, compute func() T) T {
	if v, ok := c.values[key]; ok {
		if t, ok := v.(T); ok {
			return t
		}
	}
	if c.values == nil {
		c.values = make(map[string]any)
	}
	t := compute()
	c.values[key] = t
	return t
}
