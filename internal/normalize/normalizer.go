package normalize

import (
	"fmt"
	"sort"
)

// DataShapeError describes a field whose value could not be coerced into the
// expected shape. The value is replaced by null and processing continues.
type DataShapeError struct {
	Field  string
	Index  int
	Value  any
	Reason string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("record %d field %q: %s (value %s)", e.Index, e.Field, e.Reason, Stringify(e.Value))
}

// Normalizer coerces record fields on copies of its input and collects
// shape issues along the way. The zero value is ready to use.
type Normalizer struct {
	issues []*DataShapeError
}

// Issues returns the shape problems seen so far.
func (n *Normalizer) Issues() []*DataShapeError {
	return n.issues
}

func (n *Normalizer) report(field string, index int, value any, reason string) {
	n.issues = append(n.issues, &DataShapeError{Field: field, Index: index, Value: value, Reason: reason})
}

// Identifier rewrites field to a canonical identifier on every record.
// An embedded object contributes its "id" (or "value") member, a flattened
// "<field>.id" column is used when the field itself is absent, and anything
// else becomes null. The input records are not modified.
func (n *Normalizer) Identifier(records []Record, field string) []Record {
	out := make([]Record, len(records))
	flatKey := field + ".id"

	for i := range records {
		rec := records[i].Clone()

		raw, present := rec.Get(field)
		if !present || raw == nil {
			if flat, ok := rec.Get(flatKey); ok {
				raw, present = flat, true
			}
		}

		var id ID
		switch v := raw.(type) {
		case nil:
		case Record:
			id = n.objectID(field, i, v.values, v)
		case map[string]any:
			id = n.objectID(field, i, v, v)
		default:
			var ok bool
			if id, ok = ToID(v); !ok {
				n.report(field, i, v, "not an identifier")
			}
		}

		if id.Valid {
			rec.Set(field, id.Value)
		} else {
			rec.Set(field, nil)
		}
		out[i] = rec
	}
	return out
}

func (n *Normalizer) objectID(field string, index int, members map[string]any, original any) ID {
	for _, key := range []string{"id", "value"} {
		v, ok := members[key]
		if !ok || v == nil {
			continue
		}
		if id, ok := ToID(v); ok {
			return id
		}
	}
	n.report(field, index, original, "embedded object without id")
	return NullID
}

// Timestamps rewrites each field to a time.Time, or null when the value is
// missing or unparsable.
func (n *Normalizer) Timestamps(records []Record, fields ...string) []Record {
	out := make([]Record, len(records))
	for i := range records {
		rec := records[i].Clone()
		for _, field := range fields {
			raw, ok := rec.Get(field)
			if !ok {
				continue
			}
			if t, ok := ParseTimestamp(raw); ok {
				rec.Set(field, t)
				continue
			}
			if s, isString := raw.(string); raw != nil && !(isString && s == "") {
				n.report(field, i, raw, "not a timestamp")
			}
			rec.Set(field, nil)
		}
		out[i] = rec
	}
	return out
}

// NormalizeIdentifier is Normalizer.Identifier without issue collection.
func NormalizeIdentifier(records []Record, field string) []Record {
	var n Normalizer
	return n.Identifier(records, field)
}

// NormalizeTimestamps is Normalizer.Timestamps without issue collection.
func NormalizeTimestamps(records []Record, fields ...string) []Record {
	var n Normalizer
	return n.Timestamps(records, fields...)
}

// Flatten expands nested objects into "<parent><sep><child>" fields. Arrays
// are left as they are.
func Flatten(rec Record, sep string) Record {
	out := NewRecord()
	flattenInto(&out, "", rec.keys, func(k string) any { return rec.values[k] }, sep)
	return out
}

func flattenInto(out *Record, prefix string, keys []string, get func(string) any, sep string) {
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + sep + k
		}
		switch v := get(k).(type) {
		case Record:
			if v.Len() == 0 {
				out.Set(name, nil)
				continue
			}
			flattenInto(out, name, v.keys, func(k string) any { return v.values[k] }, sep)
		case map[string]any:
			if len(v) == 0 {
				out.Set(name, nil)
				continue
			}
			nested := make([]string, 0, len(v))
			for nk := range v {
				nested = append(nested, nk)
			}
			sort.Strings(nested)
			flattenInto(out, name, nested, func(k string) any { return v[k] }, sep)
		default:
			out.Set(name, v)
		}
	}
}
