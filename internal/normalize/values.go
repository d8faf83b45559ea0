package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ID is a nullable canonical identifier. Numeric ids are rendered without a
// fractional part so that 12, 12.0 and "12" compare equal.
type ID struct {
	Value string
	Valid bool
}

// NullID is the missing identifier.
var NullID = ID{}

// SomeID returns a valid identifier.
func SomeID(v string) ID {
	return ID{Value: v, Valid: true}
}

func (id ID) String() string {
	if !id.Valid {
		return ""
	}
	return id.Value
}

// CompareIDs orders identifiers numerically when both are integers and
// lexically otherwise. Null sorts after every valid id.
func CompareIDs(a, b ID) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return 1
	case !b.Valid:
		return -1
	}

	if isInteger(a.Value) && isInteger(b.Value) {
		an, bn := strings.HasPrefix(a.Value, "-"), strings.HasPrefix(b.Value, "-")
		if an != bn {
			if an {
				return -1
			}
			return 1
		}
		c := compareDigits(strings.TrimPrefix(a.Value, "-"), strings.TrimPrefix(b.Value, "-"))
		if an {
			return -c
		}
		return c
	}
	return strings.Compare(a.Value, b.Value)
}

func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isInteger(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ToID coerces a scalar into a canonical identifier. Objects, booleans and
// blank strings are not identifiers.
func ToID(v any) (ID, bool) {
	switch x := v.(type) {
	case nil:
		return NullID, false
	case json.Number:
		return numberID(x.String())
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return NullID, false
		}
		if id, ok := numberID(s); ok {
			return id, true
		}
		return SomeID(s), true
	case float64:
		return floatID(x)
	case float32:
		return floatID(float64(x))
	case int:
		return SomeID(strconv.Itoa(x)), true
	case int64:
		return SomeID(strconv.FormatInt(x, 10)), true
	case int32:
		return SomeID(strconv.FormatInt(int64(x), 10)), true
	case uint64:
		return SomeID(strconv.FormatUint(x, 10)), true
	default:
		return NullID, false
	}
}

func numberID(s string) (ID, bool) {
	if isInteger(s) {
		return SomeID(strings.TrimLeft(s, "+")), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NullID, false
	}
	return floatID(f)
}

func floatID(f float64) (ID, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NullID, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e18 {
		return SomeID(strconv.FormatInt(int64(f), 10)), true
	}
	return SomeID(strconv.FormatFloat(f, 'f', -1, 64)), true
}

// ToBool interprets common truthy encodings. Anything else is false.
func ToBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "y", "t":
			return true
		}
	}
	return false
}

// ToString returns the text of a scalar value. Null and nested values are
// not strings.
func ToString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool, float64, float32, int, int64, int32, uint64:
		return Stringify(x), true
	default:
		return "", false
	}
}

// Stringify renders a value as spreadsheet cell text. Null becomes the empty
// string and nested values are written as compact JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(DateTimeLayout)
	case ID:
		return x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
