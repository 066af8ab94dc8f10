// Package models defines core data structures for memory entries and search results.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Vector is a TF-IDF (or remote) feature vector. Its length is the vocabulary
// size at the time it was produced; shorter vectors compare as zero-padded.
type Vector []float64

// Entry is the atomic unit of storage.
type Entry struct {
	ID       string   `json:"id"`
	Vector   Vector   `json:"-"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// SearchResult is a single ranked hit resolved back to its stored record.
type SearchResult struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Rank     int      `json:"rank"`
}

const (
	keyGroupID   = "groupId"
	keyCreatedAt = "createdAt"
)

// Metadata is the closed, typed metadata record attached to every entry.
// On disk it is a flat JSON object: groupId, createdAt and the extra keys.
type Metadata struct {
	GroupID   string
	CreatedAt time.Time
	Extra     map[string]Value
}

// Get returns the extra value stored under key.
func (m Metadata) Get(key string) (Value, bool) {
	v, ok := m.Extra[key]
	return v, ok
}

// Set stores an extra value. Reserved keys are ignored and a null value
// removes the key.
func (m *Metadata) Set(key string, v Value) {
	if key == keyGroupID || key == keyCreatedAt {
		return
	}
	if v.Kind() == KindNull {
		delete(m.Extra, key)
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]Value)
	}
	m.Extra[key] = v
}

// Keys returns the extra keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON flattens the record into a single JSON object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[keyGroupID] = m.GroupID
	if !m.CreatedAt.IsZero() {
		out[keyCreatedAt] = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat JSON object. createdAt may be an RFC3339 string or
// Unix milliseconds. Null extras are dropped; nested objects and arrays are rejected.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	for k, msg := range raw {
		switch k {
		case keyGroupID:
			if err := json.Unmarshal(msg, &m.GroupID); err != nil {
				return fmt.Errorf("metadata %s: %w", k, err)
			}
		case keyCreatedAt:
			t, err := parseCreatedAt(msg)
			if err != nil {
				return err
			}
			m.CreatedAt = t
		default:
			var v Value
			if err := json.Unmarshal(msg, &v); err != nil {
				return fmt.Errorf("metadata %s: %w", k, err)
			}
			if v.Kind() == KindNull {
				continue
			}
			m.Set(k, v)
		}
	}
	return nil
}

func parseCreatedAt(msg json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("metadata createdAt: %w", err)
		}
		return t, nil
	}
	var ms float64
	if err := json.Unmarshal(msg, &ms); err != nil {
		return time.Time{}, fmt.Errorf("metadata createdAt: unsupported value %s", string(msg))
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, fmt.Errorf("metadata createdAt: invalid number")
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
