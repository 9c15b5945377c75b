package variables

// AliasSpec is an ordered list of candidate keys for one logical field,
// with an optional default returned when no candidate matches.
//
// Two construction modes exist:
//   - Keys: every argument is a key; a miss without WithDefault yields the
//     zero value of the requested type.
//   - KeysWithTrailingDefault: every argument is probed as a key, and the
//     last argument doubles as the literal default string on a miss.
type AliasSpec struct {
	candidates []string
	def        Value
	hasDefault bool
}

// Keys builds a spec that probes the given keys in order. It panics when
// called without keys.
func Keys(candidates ...string) AliasSpec {
	if len(candidates) == 0 {
		panic("variables: alias spec needs at least one candidate key")
	}
	cp := make([]string, len(candidates))
	copy(cp, candidates)
	return AliasSpec{candidates: cp}
}

// KeysWithTrailingDefault builds a spec in which the last argument is both
// the final candidate key and the literal default on a miss.
func KeysWithTrailingDefault(candidates ...string) AliasSpec {
	spec := Keys(candidates...)
	return spec.WithDefault(String(candidates[len(candidates)-1]))
}

// WithDefault returns a copy of a that falls back to def on a miss
func (a AliasSpec) WithDefault(def Value) AliasSpec {
	a.def = def
	a.hasDefault = true
	return a
}

// Candidates returns the candidate keys in probe order
func (a AliasSpec) Candidates() []string {
	cp := make([]string, len(a.candidates))
	copy(cp, a.candidates)
	return cp
}

// Default returns the default value and whether one was configured
func (a AliasSpec) Default() (Value, bool) {
	return a.def, a.hasDefault
}

// LookupString returns the first candidate present with a non-null value,
// stringified. On a miss the default is returned if configured; found is
// false only when neither a candidate nor a default produced a value.
func LookupString(b Bag, spec AliasSpec) (string, bool) {
	for _, key := range spec.candidates {
		v, ok := b.Get(key)
		if !ok || v.IsNull() {
			continue
		}
		if s, ok := v.Text(); ok {
			return s, true
		}
	}
	if spec.hasDefault {
		return spec.def.Text()
	}
	return "", false
}

// LookupNumber returns the first candidate that is a number or a string
// that parses as one. Malformed strings are skipped, not treated as errors.
func LookupNumber(b Bag, spec AliasSpec) (float64, bool) {
	for _, key := range spec.candidates {
		v, ok := b.Get(key)
		if !ok || v.IsNull() {
			continue
		}
		if n, ok := v.Float(); ok {
			return n, true
		}
	}
	if spec.hasDefault {
		return spec.def.Float()
	}
	return 0, false
}

// LookupBool returns the first candidate that is a boolean or a string
// that parses as one.
func LookupBool(b Bag, spec AliasSpec) (bool, bool) {
	for _, key := range spec.candidates {
		v, ok := b.Get(key)
		if !ok || v.IsNull() {
			continue
		}
		if t, ok := v.Truth(); ok {
			return t, true
		}
	}
	if spec.hasDefault {
		return spec.def.Truth()
	}
	return false, false
}

// LookupValue returns the raw value of the first non-null candidate
func LookupValue(b Bag, spec AliasSpec) (Value, bool) {
	for _, key := range spec.candidates {
		v, ok := b.Get(key)
		if ok && !v.IsNull() {
			return v, true
		}
	}
	if spec.hasDefault {
		return spec.def, true
	}
	return Null(), false
}

// ResolveString is LookupString with the zero-value policy applied: a miss
// without a default yields "".
func ResolveString(b Bag, spec AliasSpec) string {
	s, _ := LookupString(b, spec)
	return s
}

// ResolveNumber is LookupNumber with the zero-value policy applied
func ResolveNumber(b Bag, spec AliasSpec) float64 {
	n, _ := LookupNumber(b, spec)
	return n
}

// ResolveBool is LookupBool with the zero-value policy applied
func ResolveBool(b Bag, spec AliasSpec) bool {
	t, _ := LookupBool(b, spec)
	return t
}

// AnyTrue reports whether any of the keys holds a boolean true. Strings are
// not coerced; the membership flags set by forms are real booleans.
func AnyTrue(b Bag, keys ...string) bool {
	for _, key := range keys {
		v, ok := b.Get(key)
		if ok && v.Kind() == KindBool && v.b {
			return true
		}
	}
	return false
}
