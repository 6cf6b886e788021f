// Package record models a domain row as a map of column name to scalar.
//
// Cells are a closed sum type: [Null], [String], [Int], [Float], [Bool] and
// [Time]. Code that inspects a cell switches on the concrete variant.
package record

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a single cell. The unexported marker keeps the set of variants closed.
type Value interface {
	isValue()
	// String returns the canonical lexical form used for keys, diffs and comparisons.
	String() string
}

// Null is the absent value.
type Null struct{}

// String is a text cell.
type String string

// Int is an integral numeric cell.
type Int int64

// Float is a non-integral numeric cell.
type Float float64

// Bool is a boolean cell.
type Bool bool

// Time is a temporal cell.
type Time time.Time

func (Null) isValue()   {}
func (String) isValue() {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (Bool) isValue()   {}
func (Time) isValue()   {}

func (Null) String() string     { return "" }
func (s String) String() string { return string(s) }
func (i Int) String() string    { return strconv.FormatInt(int64(i), 10) }

// String renders the shortest decimal that round-trips, never using exponents.
func (f Float) String() string {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (t Time) String() string { return time.Time(t).UTC().Format(time.RFC3339Nano) }

// Stringify returns the canonical form of v, treating a nil interface as null.
func Stringify(v Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// IsNull reports whether v is null or a nil interface.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// IsEmpty reports whether v is null or a string that is blank after trimming.
func IsEmpty(v Value) bool {
	switch x := v.(type) {
	case nil, Null:
		return true
	case String:
		return strings.TrimSpace(string(x)) == ""
	default:
		return false
	}
}

// Number returns v as a float64 when it is numeric or a string that parses as one.
func Number(v Value) (float64, bool) {
	switch x := v.(type) {
	case Int:
		return float64(x), true
	case Float:
		return float64(x), true
	case String:
		return ParseNumber(string(x))
	default:
		return 0, false
	}
}

// ParseNumber parses a trimmed decimal literal.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FromFloat returns Int for integral values within int64 range, Float otherwise.
// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func FromFloat(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !math.IsInf(f, 0) {
		return Int(int64(f))
	}
	return Float(f)
}

// FromAny converts a decoded JSON or YAML scalar into a Value.
// Unsupported types fall back to their fmt-free string form when possible.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return FromFloat(float64(x))
	case float64:
		return FromFloat(x)
	case time.Time:
		return Time(x)
	case interface{ Int64() (int64, error) }:
		// json.Number
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		if f, ok := x.(interface{ Float64() (float64, error) }); ok {
			if fv, err := f.Float64(); err == nil {
				return Float(fv)
			}
		}
		return Null{}
	case interface{ String() string }:
		return String(x.String())
	default:
		return Null{}
	}
}

// ToAny converts a Value into a plain Go value suitable for encoding/json.
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case Bool:
		return bool(x)
	case Time:
		return time.Time(x).UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// Equal compares two values by canonical string form.
func Equal(a, b Value) bool {
	return Stringify(a) == Stringify(b)
}
