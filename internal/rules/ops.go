package rules

// Transform names.
const (
	OpTrim                = "trim"
	OpLowercase           = "lowercase"
	OpUppercase           = "uppercase"
	OpTitlecase           = "titlecase"
	OpNormalizeWhitespace = "normalize_whitespace"
	OpReplace             = "replace"
	OpMap                 = "map"
	OpCoalesce            = "coalesce"
	OpNormalizeNulls      = "normalize_nulls"
	OpStandardizePhone    = "standardize_phone"
	OpSplit               = "split"
	OpMerge               = "merge"
)

// Check names.
const (
	OpRegex              = "regex"
	OpRequireColumns     = "require_columns"
	OpDropIf             = "drop_if"
	OpDropIfMissingPctGt = "drop_if_missing_pct_gt"
	OpDropIfOutOfRange   = "drop_if_out_of_range"
	OpDropIfPattern      = "drop_if_pattern"
	OpDropIfAll          = "drop_if_all"
)

// Require-columns actions.
const (
	ActionDrop = "drop"
	ActionFlag = "flag"
)

// DefaultNullTokens are matched by normalize_nulls when no tokens are given.
var DefaultNullTokens = []string{"", "NULL", "N/A", "-"}

// ----------------------------------------------------------------------------
// Transforms
// ----------------------------------------------------------------------------

// Columns selects target columns. Empty or ["*"] means every string cell.
type Columns []string

// All reports whether the selection covers every column.
func (c Columns) All() bool {
	if len(c) == 0 {
		return true
	}
	for _, name := range c {
		if name == "*" {
			return true
		}
	}
	return false
}

type Trim struct {
	Columns Columns `json:"columns,omitempty"`
}

type Lowercase struct {
	Columns Columns `json:"columns,omitempty"`
}

type Uppercase struct {
	Columns Columns `json:"columns,omitempty"`
}

type Titlecase struct {
	Columns Columns `json:"columns,omitempty"`
}

// NormalizeWhitespace collapses runs of whitespace to a single space.
type NormalizeWhitespace struct {
	Columns Columns `json:"columns,omitempty"`
}

// Replace substitutes regex matches of From with To ($1 expands groups).
type Replace struct {
	Columns Columns `json:"columns,omitempty"`
	From    string  `json:"from"`
	To      string  `json:"to"`
}

// Map rewrites exact values of Column through Mapping.
type Map struct {
	Column  string            `json:"column"`
	Mapping map[string]string `json:"mapping"`
}

// Coalesce fills an empty Column with the first non-empty entry of Values.
// A string entry naming an existing column reads that column.
type Coalesce struct {
	Column string `json:"column"`
	Values []any  `json:"values"`
}

// NormalizeNulls replaces null-like tokens with ToValue (null when unset).
type NormalizeNulls struct {
	Tokens  []string `json:"tokens,omitempty"`
	ToValue any      `json:"to_value"`
}

type StandardizePhone struct {
	Column string `json:"column"`
}

// Split breaks Column into Targets using a regex with capture groups,
// a literal separator, or an auto-detected separator when neither is set.
type Split struct {
	Column    string   `json:"column"`
	Targets   []string `json:"targets"`
	Separator string   `json:"separator,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// Merge joins non-empty Sources into Target. Separator defaults to a space.
type Merge struct {
	Sources   []string `json:"sources"`
	Target    string   `json:"target"`
	Separator *string  `json:"separator,omitempty"`
}

func (Trim) Op() string                { return OpTrim }
func (Lowercase) Op() string           { return OpLowercase }
func (Uppercase) Op() string           { return OpUppercase }
func (Titlecase) Op() string           { return OpTitlecase }
func (NormalizeWhitespace) Op() string { return OpNormalizeWhitespace }
func (Replace) Op() string             { return OpReplace }
func (Map) Op() string                 { return OpMap }
func (Coalesce) Op() string            { return OpCoalesce }
func (NormalizeNulls) Op() string      { return OpNormalizeNulls }
func (StandardizePhone) Op() string    { return OpStandardizePhone }
func (Split) Op() string               { return OpSplit }
func (Merge) Op() string               { return OpMerge }

func (Trim) isTransform()                {}
func (Lowercase) isTransform()           {}
func (Uppercase) isTransform()           {}
func (Titlecase) isTransform()           {}
func (NormalizeWhitespace) isTransform() {}
func (Replace) isTransform()             {}
func (Map) isTransform()                 {}
func (Coalesce) isTransform()            {}
func (NormalizeNulls) isTransform()      {}
func (StandardizePhone) isTransform()    {}
func (Split) isTransform()               {}
func (Merge) isTransform()               {}

func (t Trim) MarshalJSON() ([]byte, error) {
	type body Trim
	return tagged(OpTrim, body(t))
}

func (t Lowercase) MarshalJSON() ([]byte, error) {
	type body Lowercase
	return tagged(OpLowercase, body(t))
}

func (t Uppercase) MarshalJSON() ([]byte, error) {
	type body Uppercase
	return tagged(OpUppercase, body(t))
}

func (t Titlecase) MarshalJSON() ([]byte, error) {
	type body Titlecase
	return tagged(OpTitlecase, body(t))
}

func (t NormalizeWhitespace) MarshalJSON() ([]byte, error) {
	type body NormalizeWhitespace
	return tagged(OpNormalizeWhitespace, body(t))
}

func (t Replace) MarshalJSON() ([]byte, error) {
	type body Replace
	return tagged(OpReplace, body(t))
}

func (t Map) MarshalJSON() ([]byte, error) {
	type body Map
	return tagged(OpMap, body(t))
}

func (t Coalesce) MarshalJSON() ([]byte, error) {
	type body Coalesce
	return tagged(OpCoalesce, body(t))
}

func (t NormalizeNulls) MarshalJSON() ([]byte, error) {
	type body NormalizeNulls
	return tagged(OpNormalizeNulls, body(t))
}

func (t StandardizePhone) MarshalJSON() ([]byte, error) {
	type body StandardizePhone
	return tagged(OpStandardizePhone, body(t))
}

func (t Split) MarshalJSON() ([]byte, error) {
	type body Split
	return tagged(OpSplit, body(t))
}

func (t Merge) MarshalJSON() ([]byte, error) {
	type body Merge
	return tagged(OpMerge, body(t))
}

// ----------------------------------------------------------------------------
// Checks
// ----------------------------------------------------------------------------

// Regex counts rows whose Column does not match Pattern. It never drops.
type Regex struct {
	Column  string `json:"column"`
	Pattern string `json:"pattern"`
}

// RequireColumns drops or flags rows where any of Columns is empty.
type RequireColumns struct {
	Columns []string `json:"columns"`
	Action  string   `json:"action,omitempty"` // "drop" (default) or "flag"
}

// DropIf drops rows for which Condition holds.
type DropIf struct {
	Condition string `json:"condition"`
}

// DropIfMissingPctGt drops rows whose share of empty cells exceeds Threshold percent.
type DropIfMissingPctGt struct {
	Threshold float64 `json:"threshold"`
}

// DropIfOutOfRange drops rows whose numeric Column falls outside [Min, Max].
// Non-numeric values are kept.
type DropIfOutOfRange struct {
	Column string   `json:"column"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// DropIfPattern drops rows whose Column matches Pattern. Flags accepts i, m and s.
type DropIfPattern struct {
	Column  string `json:"column"`
	Pattern string `json:"pattern"`
	Flags   string `json:"flags,omitempty"`
}

// DropIfAll drops rows for which every condition holds.
type DropIfAll struct {
	Conditions []string `json:"conditions"`
}

func (Regex) Op() string              { return OpRegex }
func (RequireColumns) Op() string     { return OpRequireColumns }
func (DropIf) Op() string             { return OpDropIf }
func (DropIfMissingPctGt) Op() string { return OpDropIfMissingPctGt }
func (DropIfOutOfRange) Op() string   { return OpDropIfOutOfRange }
func (DropIfPattern) Op() string      { return OpDropIfPattern }
func (DropIfAll) Op() string          { return OpDropIfAll }

func (Regex) isCheck()              {}
func (RequireColumns) isCheck()     {}
func (DropIf) isCheck()             {}
func (DropIfMissingPctGt) isCheck() {}
func (DropIfOutOfRange) isCheck()   {}
func (DropIfPattern) isCheck()      {}
func (DropIfAll) isCheck()          {}

func (c Regex) MarshalJSON() ([]byte, error) {
	type body Regex
	return tagged(OpRegex, body(c))
}

func (c RequireColumns) MarshalJSON() ([]byte, error) {
	type body RequireColumns
	return tagged(OpRequireColumns, body(c))
}

func (c DropIf) MarshalJSON() ([]byte, error) {
	type body DropIf
	return tagged(OpDropIf, body(c))
}

func (c DropIfMissingPctGt) MarshalJSON() ([]byte, error) {
	type body DropIfMissingPctGt
	return tagged(OpDropIfMissingPctGt, body(c))
}

func (c DropIfOutOfRange) MarshalJSON() ([]byte, error) {
	type body DropIfOutOfRange
	return tagged(OpDropIfOutOfRange, body(c))
}

func (c DropIfPattern) MarshalJSON() ([]byte, error) {
	type body DropIfPattern
	return tagged(OpDropIfPattern, body(c))
}

func (c DropIfAll) MarshalJSON() ([]byte, error) {
	type body DropIfAll
	return tagged(OpDropIfAll, body(c))
}
