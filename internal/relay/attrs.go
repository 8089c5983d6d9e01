package relay

import (
	"sort"

	"github.com/pkg/errors"
)

// Attrs holds operator or function attributes.
// Values are int, []int, float64 or string.
type Attrs map[string]any

// Clone returns a shallow copy with slices duplicated.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		if ints, ok := v.([]int); ok {
			v = append([]int(nil), ints...)
		}
		out[k] = v
	}
	return out
}

// Keys returns attribute names in sorted order.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int returns an integer attribute or defaultVal.
func (a Attrs) Int(name string, defaultVal int) int {
	if v, ok := a[name].(int); ok {
		return v
	}
	return defaultVal
}

// Ints returns an integer array attribute, or nil when absent.
func (a Attrs) Ints(name string) []int {
	if v, ok := a[name].([]int); ok {
		return v
	}
	return nil
}

// String returns a string attribute or defaultVal.
func (a Attrs) String(name, defaultVal string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return defaultVal
}

// validate rejects attribute values outside the supported set.
func (a Attrs) validate() error {
	for k, v := range a {
		switch v.(type) {
		case int, []int, float64, string:
		default:
			return errors.Errorf("attribute %q has unsupported type %T", k, v)
		}
	}
	return nil
}
