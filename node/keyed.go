package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Entry is one item of a polled view together with the key the node gave it.
type Entry[T any] struct {
	Key   string
	Value T
}

// Keyed is an ordered view decoded from either a JSON object or a JSON array.
//
// Arrays keep their order and use the decimal index as key. Objects are
// ordered by key: numeric keys ascending first, then the rest
// lexicographically. null decodes to an empty view.
type Keyed[T any] []Entry[T]

func (k *Keyed[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*k = nil
		return nil
	}

	switch data[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode list: %w", err)
		}
		out := make(Keyed[T], 0, len(items))
		for i, v := range items {
			out = append(out, Entry[T]{Key: strconv.Itoa(i), Value: v})
		}
		*k = out

	case '{':
		var m map[string]T
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode mapping: %w", err)
		}
		keys := slices.SortedFunc(maps.Keys(m), CompareKeys)
		out := make(Keyed[T], 0, len(keys))
		for _, key := range keys {
			out = append(out, Entry[T]{Key: key, Value: m[key]})
		}
		*k = out

	default:
		return fmt.Errorf("decode view: expected object or array, got %q", data[:1])
	}

	return nil
}

// MarshalJSON encodes the view as a JSON object.
func (k Keyed[T]) MarshalJSON() ([]byte, error) {
	m := make(map[string]T, len(k))
	for _, e := range k {
		m[e.Key] = e.Value
	}
	return json.Marshal(m)
}

func (k Keyed[T]) Keys() []string {
	keys := make([]string, 0, len(k))
	for _, e := range k {
		keys = append(keys, e.Key)
	}
	return keys
}

func (k Keyed[T]) Values() []T {
	values := make([]T, 0, len(k))
	for _, e := range k {
		values = append(values, e.Value)
	}
	return values
}

func (k Keyed[T]) Lookup(key string) (T, bool) {
	for _, e := range k {
		if e.Key == key {
			return e.Value, true
		}
	}
	var zero T
	return zero, false
}

// CompareKeys orders numeric keys by value before any non-numeric key.
func CompareKeys(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
