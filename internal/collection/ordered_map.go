package collection

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderedMap is a string-keyed map with stable insertion-order iteration.
// Overwriting an existing key keeps its original position. The JSON form is
// an array of [key, value] pairs, which is also the persisted snapshot
// encoding for the analysis cache.
type OrderedMap[V any] struct {
	keys  []string
	items map[string]V
}

// NewOrderedMap creates an empty ordered map
func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{items: make(map[string]V)}
}

// Set inserts or replaces the value for key.
func (m *OrderedMap[V]) Set(key string, value V) {
	if m.items == nil {
		m.items = make(map[string]V)
	}
	if _, exists := m.items[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.items[key] = value
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	value, ok := m.items[key]
	return value, ok
}

// Has reports whether key is present.
func (m *OrderedMap[V]) Has(key string) bool {
	_, ok := m.items[key]
	return ok
}

// Delete removes key if present.
func (m *OrderedMap[V]) Delete(key string) {
	if _, ok := m.items[key]; !ok {
		return
	}
	delete(m.items, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in insertion order.
func (m *OrderedMap[V]) Values() []V {
	if m == nil {
		return nil
	}
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.items[k])
	}
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *OrderedMap[V]) Range(fn func(key string, value V) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.items[k]) {
			return
		}
	}
}

// Clone returns a structural copy sharing the value references.
func (m *OrderedMap[V]) Clone() *OrderedMap[V] {
	out := NewOrderedMap[V]()
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out.Set(k, m.items[k])
	}
	return out
}

// MarshalJSON encodes the map as [[key, value], ...].
func (m *OrderedMap[V]) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, 0, m.Len())
	if m != nil {
		for _, k := range m.keys {
			pairs = append(pairs, [2]any{k, m.items[k]})
		}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON rebuilds the map from its array-of-pairs form. A JSON null
// yields an empty map.
func (m *OrderedMap[V]) UnmarshalJSON(data []byte) error {
	m.keys = nil
	m.items = make(map[string]V)

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var pairs [][]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("ordered map expects an array of pairs: %w", err)
	}
	for i, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("ordered map pair %d has %d elements, want 2", i, len(pair))
		}
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("ordered map pair %d key: %w", i, err)
		}
		var value V
		if err := json.Unmarshal(pair[1], &value); err != nil {
			return fmt.Errorf("ordered map pair %d value: %w", i, err)
		}
		m.Set(key, value)
	}
	return nil
}
