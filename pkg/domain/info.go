package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Info is an open JSON object bag (the `*_info` columns and record_info).
// Top-level keys keep their insertion order through JSON round trips; nested
// values decode into plain maps and slices.
type Info struct {
	keys   []string
	values map[string]any
}

// NewInfo returns an empty bag.
func NewInfo() *Info {
	return &Info{values: make(map[string]any)}
}

// InfoFromMap copies m into a new bag with keys in sorted order.
func InfoFromMap(m map[string]any) *Info {
	info := NewInfo()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		info.Set(k, m[k])
	}
	return info
}

// ParseInfo decodes a JSON object. Empty input and JSON null yield an empty bag.
func ParseInfo(data []byte) (*Info, error) {
	info := NewInfo()
	if len(bytes.TrimSpace(data)) == 0 {
		return info, nil
	}
	if err := info.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return info, nil
}

// Len reports the number of keys.
func (i *Info) Len() int {
	if i == nil {
		return 0
	}
	return len(i.keys)
}

// Keys returns the keys in order.
func (i *Info) Keys() []string {
	if i == nil {
		return nil
	}
	return append([]string(nil), i.keys...)
}

// Get returns the value stored under key.
func (i *Info) Get(key string) (any, bool) {
	if i == nil {
		return nil, false
	}
	v, ok := i.values[key]
	return v, ok
}

// String returns the value under key when it is a string.
func (i *Info) String(key string) (string, bool) {
	v, ok := i.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the value under key when it is numeric.
func (i *Info) Float(key string) (float64, bool) {
	v, ok := i.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Set stores value under key. New keys are appended; existing keys keep
// their position.
func (i *Info) Set(key string, value any) *Info {
	if i.values == nil {
		i.values = make(map[string]any)
	}
	if _, ok := i.values[key]; !ok {
		i.keys = append(i.keys, key)
	}
	i.values[key] = value
	return i
}

// Delete removes key and reports whether it was present.
func (i *Info) Delete(key string) bool {
	if i == nil {
		return false
	}
	if _, ok := i.values[key]; !ok {
		return false
	}
	delete(i.values, key)
	for idx, k := range i.keys {
		if k == key {
			i.keys = append(i.keys[:idx], i.keys[idx+1:]...)
			break
		}
	}
	return true
}

// Merge copies every key of other into i; other wins on collisions.
func (i *Info) Merge(other *Info) *Info {
	if other == nil {
		return i
	}
	for _, k := range other.keys {
		i.Set(k, other.values[k])
	}
	return i
}

// Compact removes keys whose value is nil.
func (i *Info) Compact() *Info {
	if i == nil {
		return i
	}
	for _, k := range i.Keys() {
		if i.values[k] == nil {
			i.Delete(k)
		}
	}
	return i
}

// Clone returns a shallow copy.
func (i *Info) Clone() *Info {
	out := NewInfo()
	if i == nil {
		return out
	}
	return out.Merge(i)
}

// Map returns the bag as a plain map.
func (i *Info) Map() map[string]any {
	out := make(map[string]any, i.Len())
	if i == nil {
		return out
	}
	for k, v := range i.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the keys in order.
func (i *Info) MarshalJSON() ([]byte, error) {
	if i == nil || len(i.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, k := range i.keys {
		if idx > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(i.values[k])
		if err != nil {
			return nil, fmt.Errorf("info key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. It replaces any
// existing content.
func (i *Info) UnmarshalJSON(data []byte) error {
	i.keys = nil
	i.values = make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode info: %w", err)
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode info: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode info: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode info: unexpected key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode info key %q: %w", key, err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode info key %q: %w", key, err)
		}
		i.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode info: %w", err)
	}
	return nil
}
