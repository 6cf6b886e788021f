// Package rules defines rule descriptors and compiles them into executable programs.
//
// A [Definition] is the JSON document stored on a rule: ordered transforms,
// checks, and free-form meta with an optional dedup policy. Transforms and
// checks are tagged variants keyed by their "name" field; each variant is a
// concrete type implementing [TransformOp] or [CheckOp].
package rules

import (
	"encoding/json"
	"fmt"
)

// Definition is a rule's descriptor.
type Definition struct {
	Transforms Transforms `json:"transforms"`
	Checks     Checks     `json:"checks"`
	Meta       Meta       `json:"meta"`
}

// DedupPolicy removes rows sharing the same values for Keys.
type DedupPolicy struct {
	Keys []string `json:"keys"`
	Keep string   `json:"keep,omitempty"` // "first" (default) or "last"
}

const (
	KeepFirst = "first"
	KeepLast  = "last"
)

// KeepsLast reports whether the last occurrence wins.
func (d DedupPolicy) KeepsLast() bool { return d.Keep == KeepLast }

// Meta carries descriptor metadata. Unknown keys round-trip through Extra.
type Meta struct {
	Dedup *DedupPolicy
	Note  string
	Extra map[string]any
}

func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Dedup != nil {
		out["dedup"] = m.Dedup
	}
	if m.Note != "" {
		out["note"] = m.Note
	}
	return json.Marshal(out)
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Meta{}
	for k, v := range raw {
		switch k {
		case "dedup":
			if string(v) == "null" {
				continue
			}
			var d DedupPolicy
			if err := json.Unmarshal(v, &d); err != nil {
				return &ValidationError{Path: "meta.dedup", Reason: err.Error()}
			}
			m.Dedup = &d
		case "note":
			if err := json.Unmarshal(v, &m.Note); err != nil {
				return &ValidationError{Path: "meta.note", Reason: "must be a string"}
			}
		default:
			var anyVal any
			if err := json.Unmarshal(v, &anyVal); err != nil {
				return err
			}
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = anyVal
		}
	}
	return nil
}

// Set stores a free-form meta value.
func (m *Meta) Set(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

// TransformOp is one transform variant.
type TransformOp interface {
	Op() string
	isTransform()
}

// CheckOp is one check variant.
type CheckOp interface {
	Op() string
	isCheck()
}

// Transforms is an ordered transform list with tagged JSON encoding.
type Transforms []TransformOp

// Checks is an ordered check list with tagged JSON encoding.
type Checks []CheckOp

func (ts Transforms) MarshalJSON() ([]byte, error) {
	if ts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]TransformOp(ts))
}

func (cs Checks) MarshalJSON() ([]byte, error) {
	if cs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]CheckOp(cs))
}

func (ts *Transforms) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return &ValidationError{Path: "transforms", Reason: "must be an array"}
	}
	out := make(Transforms, 0, len(raws))
	for i, raw := range raws {
		op, err := decodeTransform(raw)
		if err != nil {
			return withPath(err, fmt.Sprintf("transforms[%d]", i))
		}
		out = append(out, op)
	}
	*ts = out
	return nil
}

func (cs *Checks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return &ValidationError{Path: "checks", Reason: "must be an array"}
	}
	out := make(Checks, 0, len(raws))
	for i, raw := range raws {
		op, err := decodeCheck(raw)
		if err != nil {
			return withPath(err, fmt.Sprintf("checks[%d]", i))
		}
		out = append(out, op)
	}
	*cs = out
	return nil
}

func opName(raw json.RawMessage) (string, error) {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", &ValidationError{Reason: "must be an object"}
	}
	if head.Name == "" {
		return "", &ValidationError{Reason: `missing "name"`}
	}
	return head.Name, nil
}

func decodeInto[T any](raw json.RawMessage) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	return v, nil
}

func decodeTransform(raw json.RawMessage) (TransformOp, error) {
	name, err := opName(raw)
	if err != nil {
		return nil, err
	}
	switch name {
	case OpTrim:
		return deref(decodeInto[Trim](raw))
	case OpLowercase:
		return deref(decodeInto[Lowercase](raw))
	case OpUppercase:
		return deref(decodeInto[Uppercase](raw))
	case OpTitlecase:
		return deref(decodeInto[Titlecase](raw))
	case OpNormalizeWhitespace:
		return deref(decodeInto[NormalizeWhitespace](raw))
	case OpReplace:
		return deref(decodeInto[Replace](raw))
	case OpMap:
		return deref(decodeInto[Map](raw))
	case OpCoalesce:
		return deref(decodeInto[Coalesce](raw))
	case OpNormalizeNulls:
		return deref(decodeInto[NormalizeNulls](raw))
	case OpStandardizePhone:
		return deref(decodeInto[StandardizePhone](raw))
	case OpSplit:
		return deref(decodeInto[Split](raw))
	case OpMerge:
		return deref(decodeInto[Merge](raw))
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown transform %q", name)}
	}
}

func decodeCheck(raw json.RawMessage) (CheckOp, error) {
	name, err := opName(raw)
	if err != nil {
		return nil, err
	}
	switch name {
	case OpRegex:
		return derefCheck(decodeInto[Regex](raw))
	case OpRequireColumns:
		return derefCheck(decodeInto[RequireColumns](raw))
	case OpDropIf:
		return derefCheck(decodeInto[DropIf](raw))
	case OpDropIfMissingPctGt:
		return derefCheck(decodeInto[DropIfMissingPctGt](raw))
	case OpDropIfOutOfRange:
		return derefCheck(decodeInto[DropIfOutOfRange](raw))
	case OpDropIfPattern:
		return derefCheck(decodeInto[DropIfPattern](raw))
	case OpDropIfAll:
		return derefCheck(decodeInto[DropIfAll](raw))
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown check %q", name)}
	}
}

func deref[T TransformOp](v *T, err error) (TransformOp, error) {
	if err != nil {
		return nil, err
	}
	return *v, nil
}

func derefCheck[T CheckOp](v *T, err error) (CheckOp, error) {
	if err != nil {
		return nil, err
	}
	return *v, nil
}

// Parse decodes a JSON descriptor and validates it.
func Parse(data []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		if IsValidationError(err) {
			return Definition{}, err
		}
		return Definition{}, &ValidationError{Reason: err.Error()}
	}
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// tagged marshals body as an object and adds the "name" tag.
func tagged(name string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(name)
	fields["name"] = tag
	return json.Marshal(fields)
}
