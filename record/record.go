// Package record defines the unit of data flowing through a Flowline
// pipeline: an insertion-ordered bag of named fields.
//
// A Record is created by a Source, enriched by each Stage in sequence, and
// consumed by each Sink. Stages augment records - they add fields but never
// delete fields set by earlier stages. Stages that need to rewrite a value
// in place should Clone first so upstream holders are unaffected.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is an ordered mapping of field name to value. The zero value is
// not usable; construct records with New or FromMap.
type Record struct {
	id        string
	createdAt time.Time
	keys      []string
	fields    map[string]any
}

// New creates an empty record with a unique identity.
func New() *Record {
	return &Record{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		fields:    make(map[string]any),
	}
}

// FromMap creates a record seeded with the given fields.
// Field order follows the order of the keys slice when provided via Set,
// so callers needing deterministic order should Set fields explicitly.
func FromMap(fields map[string]any) *Record {
	r := New()
	for k, v := range fields {
		r.Set(k, v)
	}
	return r
}

// ID returns the record's unique identifier.
func (r *Record) ID() string {
	return r.id
}

// CreatedAt returns when the record entered the pipeline.
func (r *Record) CreatedAt() time.Time {
	return r.createdAt
}

// Get retrieves a field value. Returns the value and true if present.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// GetString retrieves a field as a string. Returns "" and false if the
// field is absent or not a string.
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat retrieves a numeric field as float64. JSON numbers, ints and
// floats are all accepted. Returns 0 and false otherwise.
func (r *Record) GetFloat(key string) (float64, bool) {
	v, ok := r.fields[key]
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
	default:
		return 0, false
	}
}

// Set stores a field value, preserving first-insertion order for iteration.
// Setting an existing field overwrites its value without changing its
// position.
func (r *Record) Set(key string, value any) {
	if _, exists := r.fields[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.fields[key] = value
}

// Delete removes a field. Returns true if the field was present.
func (r *Record) Delete(key string) bool {
	if _, exists := r.fields[key]; !exists {
		return false
	}
	delete(r.fields, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves a field's value to a new name, keeping its position in
// the field order. Returns false if the field is absent. Renaming onto
// an existing field overwrites that field's value and removes the old
// name.
func (r *Record) Rename(oldKey, newKey string) bool {
	v, ok := r.fields[oldKey]
	if !ok || oldKey == newKey {
		return ok
	}

	if _, exists := r.fields[newKey]; exists {
		r.fields[newKey] = v
		r.Delete(oldKey)
		return true
	}

	delete(r.fields, oldKey)
	r.fields[newKey] = v
	for i, k := range r.keys {
		if k == oldKey {
			r.keys[i] = newKey
			break
		}
	}
	return true
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.keys)
}

// Clone returns a shallow copy sharing the same identity. Field values are
// copied by reference; nested mutable values must not be mutated downstream.
func (r *Record) Clone() *Record {
	cp := &Record{
		id:        r.id,
		createdAt: r.createdAt,
		keys:      make([]string, len(r.keys)),
		fields:    make(map[string]any, len(r.fields)),
	}
	copy(cp.keys, r.keys)
	for k, v := range r.fields {
		cp.fields[k] = v
	}
	return cp
}

// MarshalJSON serializes the record as a JSON object with fields in
// insertion order, prefixed by the record identity.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	idBytes, err := json.Marshal(r.id)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"_id":`)
	buf.Write(idBytes)

	for _, k := range r.keys {
		buf.WriteByte(',')
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.fields[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON deserializes a record from a JSON object. The "_id" field,
// when present, restores record identity; otherwise a new one is assigned.
// Field order follows the map iteration of encoding/json and is therefore
// not stable across round trips.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = *New()
	if id, ok := raw["_id"].(string); ok {
		r.id = id
		delete(raw, "_id")
	}
	for k, v := range raw {
		r.Set(k, v)
	}
	return nil
}
