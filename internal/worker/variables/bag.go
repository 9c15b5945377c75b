package variables

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Bag is an immutable snapshot of process variables keyed by name.
// Handlers never modify the bag they receive; output variables are
// collected with a Builder into a new Bag.
type Bag struct {
	vars map[string]Value
}

// NewBag creates a bag from the given values. The map is copied.
func NewBag(vars map[string]Value) Bag {
	cp := make(map[string]Value, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return Bag{vars: cp}
}

// FromMap converts a decoded JSON object into a bag
func FromMap(m map[string]any) (Bag, error) {
	vars := make(map[string]Value, len(m))
	for k, raw := range m {
		v, err := FromInterface(raw)
		if err != nil {
			return Bag{}, fmt.Errorf("variable %q: %w", k, err)
		}
		vars[k] = v
	}
	return Bag{vars: vars}, nil
}

// Get returns the value stored under key. A key that is present with a
// null value reports (Null(), true).
func (b Bag) Get(key string) (Value, bool) {
	v, ok := b.vars[key]
	return v, ok
}

// Has reports whether key is present, regardless of its value
func (b Bag) Has(key string) bool {
	_, ok := b.vars[key]
	return ok
}

// Len returns the number of variables
func (b Bag) Len() int { return len(b.vars) }

// Keys returns the variable names in sorted order
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b.vars))
	for k := range b.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying variables
func (b Bag) Map() map[string]Value {
	cp := make(map[string]Value, len(b.vars))
	for k, v := range b.vars {
		cp[k] = v
	}
	return cp
}

// Interface returns the variables as plain Go values
func (b Bag) Interface() map[string]any {
	out := make(map[string]any, len(b.vars))
	for k, v := range b.vars {
		out[k] = v.Interface()
	}
	return out
}

// Merge returns a new bag holding b overlaid with other
func (b Bag) Merge(other Bag) Bag {
	out := make(map[string]Value, len(b.vars)+len(other.vars))
	for k, v := range b.vars {
		out[k] = v
	}
	for k, v := range other.vars {
		out[k] = v
	}
	return Bag{vars: out}
}

// MarshalJSON implements json.Marshaler
func (b Bag) MarshalJSON() ([]byte, error) {
	return Map(b.vars).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Bag) UnmarshalJSON(data []byte) error {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.Kind() {
	case KindNull:
		*b = Bag{vars: map[string]Value{}}
		return nil
	case KindMap:
		*b = Bag{vars: v.m}
		return nil
	default:
		return fmt.Errorf("variables must be a JSON object, got %s", v.Kind())
	}
}

// Builder accumulates output variables
type Builder struct {
	vars map[string]Value
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{vars: make(map[string]Value)}
}

// Set stores v under key, replacing any earlier value
func (bl *Builder) Set(key string, v Value) *Builder {
	bl.vars[key] = v
	return bl
}

// SetString stores a string value
func (bl *Builder) SetString(key, s string) *Builder { return bl.Set(key, String(s)) }

// SetNumber stores a numeric value
func (bl *Builder) SetNumber(key string, n float64) *Builder { return bl.Set(key, Number(n)) }

// SetBool stores a boolean value
func (bl *Builder) SetBool(key string, b bool) *Builder { return bl.Set(key, Bool(b)) }

// SetIfPresent copies key from src when src carries it
func (bl *Builder) SetIfPresent(src Bag, key string) *Builder {
	if v, ok := src.Get(key); ok {
		bl.vars[key] = v
	}
	return bl
}

// Has reports whether key was already set
func (bl *Builder) Has(key string) bool {
	_, ok := bl.vars[key]
	return ok
}

// Build returns the accumulated variables as a Bag. The builder may keep
// being used; later changes do not affect the returned bag.
func (bl *Builder) Build() Bag {
	return NewBag(bl.vars)
}
