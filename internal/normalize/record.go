package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one CRM entity as returned by the API. Field order follows the
// upstream payload so that tables built from records keep the same column order.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord creates an empty record.
func NewRecord() Record {
	return Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating key/value pairs.
func RecordOf(pairs ...any) Record {
	rec := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		rec.Set(key, pairs[i+1])
	}
	return rec
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	if r.values == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present, even when its value is null.
func (r Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Set stores value under key, appending key when it is new.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Delete removes key from the record.
func (r *Record) Delete(key string) {
	if _, exists := r.values[key]; !exists {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Record) Len() int {
	return len(r.keys)
}

// Clone returns a copy whose top-level fields can be changed without
// affecting the original. Nested values are shared.
func (r Record) Clone() Record {
	out := Record{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// UnmarshalJSON decodes a JSON object, keeping key order. Numbers are kept as
// json.Number and nested objects become Records.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	rec, ok := v.(Record)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*r = rec
	return nil
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeRecords decodes a JSON array of objects. A null or empty payload
// yields no records.
func DecodeRecords(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON array, got %T", v)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, ok := item.(Record)
		if !ok {
			return nil, fmt.Errorf("item %d: expected JSON object, got %T", i, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		return decodeArray(dec)
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

func decodeObject(dec *json.Decoder) (Record, error) {
	rec := NewRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Record{}, err
		}
		rec.Set(key, val)
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	items := []any{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		items = append(items, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return items, nil
}
