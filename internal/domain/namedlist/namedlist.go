// Package namedlist provides an ordered list of (name, value) entries.
//
// Unlike a map, a NamedList keeps insertion order, allows repeated names and
// allows an entry without a name. Facet payloads rely on all three: term
// order carries the shard's ranking, and the "missing" bucket has no name.
package namedlist

import (
	"bytes"
	"encoding/json"
)

type entry struct {
	name  string
	null  bool
	value any
}

// NamedList is an ordered, duplicate-permitting sequence of named values.
// The zero value is an empty list ready to use.
type NamedList struct {
	entries []entry
}

// New creates an empty list with room for n entries.
func New(n int) *NamedList {
	return &NamedList{entries: make([]entry, 0, n)}
}

// Of builds a list from alternating name/value arguments.
func Of(pairs ...any) *NamedList {
	nl := New(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		nl.Add(pairs[i].(string), pairs[i+1])
	}
	return nl
}

// Len returns the number of entries.
func (nl *NamedList) Len() int {
	if nl == nil {
		return 0
	}
	return len(nl.entries)
}

// Add appends a named entry.
func (nl *NamedList) Add(name string, value any) {
	nl.entries = append(nl.entries, entry{name: name, value: value})
}

// AddNull appends an entry without a name.
func (nl *NamedList) AddNull(value any) {
	nl.entries = append(nl.entries, entry{null: true, value: value})
}

// Name returns the name at index i ("" for a null name).
func (nl *NamedList) Name(i int) string { return nl.entries[i].name }

// IsNull reports whether the entry at index i has no name.
func (nl *NamedList) IsNull(i int) bool { return nl.entries[i].null }

// Value returns the value at index i.
func (nl *NamedList) Value(i int) any { return nl.entries[i].value }

// SetAt replaces the value at index i in place.
func (nl *NamedList) SetAt(i int, value any) { nl.entries[i].value = value }

// IndexOf returns the index of the first named entry called name at or
// after start, or -1.
func (nl *NamedList) IndexOf(name string, start int) int {
	if nl == nil {
		return -1
	}
	for i := start; i < len(nl.entries); i++ {
		e := nl.entries[i]
		if !e.null && e.name == name {
			return i
		}
	}
	return -1
}

// Get returns the value of the first entry called name, or nil.
func (nl *NamedList) Get(name string) any {
	i := nl.IndexOf(name, 0)
	if i < 0 {
		return nil
	}
	return nl.entries[i].value
}

// GetList returns the first entry called name when it is itself a list.
func (nl *NamedList) GetList(name string) *NamedList {
	v, _ := nl.Get(name).(*NamedList)
	return v
}

// GetAll returns the values of every entry called name.
func (nl *NamedList) GetAll(name string) []any {
	var out []any
	for i := nl.IndexOf(name, 0); i >= 0; i = nl.IndexOf(name, i+1) {
		out = append(out, nl.entries[i].value)
	}
	return out
}

// Set replaces the first entry called name, appending when absent.
func (nl *NamedList) Set(name string, value any) {
	if i := nl.IndexOf(name, 0); i >= 0 {
		nl.entries[i].value = value
		return
	}
	nl.Add(name, value)
}

// Remove deletes every entry called name and returns the first removed value.
func (nl *NamedList) Remove(name string) any {
	var first any
	found := false
	kept := nl.entries[:0]
	for _, e := range nl.entries {
		if !e.null && e.name == name {
			if !found {
				first, found = e.value, true
			}
			continue
		}
		kept = append(kept, e)
	}
	nl.entries = kept
	return first
}

// Each calls fn for every entry in order. A null name is reported as "" with
// null set to true.
func (nl *NamedList) Each(fn func(name string, null bool, value any)) {
	if nl == nil {
		return
	}
	for _, e := range nl.entries {
		fn(e.name, e.null, e.value)
	}
}

// Clone returns a deep copy. Nested lists are cloned, other values are shared.
func (nl *NamedList) Clone() *NamedList {
	if nl == nil {
		return nil
	}
	out := New(len(nl.entries))
	for _, e := range nl.entries {
		if sub, ok := e.value.(*NamedList); ok {
			e.value = sub.Clone()
		}
		out.entries = append(out.entries, e)
	}
	return out
}

// MarshalJSON renders the list as a JSON object in entry order. A null name
// is rendered as the empty key.
func (nl *NamedList) MarshalJSON() ([]byte, error) {
	if nl == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range nl.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Int64 converts a numeric payload value to int64.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
