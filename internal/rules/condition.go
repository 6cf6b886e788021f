package rules

import (
	"strings"

	"github.com/JonMunkholm/domainkeeper/internal/record"
)

// Comparison operators, longest first so ">=" wins over ">".
var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

// Condition is a parsed "<column> <op> <literal>" expression.
//
// The column is matched case-insensitively and may be quoted when it contains
// spaces or operator characters. The literal is a number, a quoted string, or
// a bare word. Comparison is numeric when both sides parse as numbers and
// lexical otherwise; a missing column compares as the empty string.
type Condition struct {
	Column  string
	Op      string
	Literal string

	litNum   float64
	litIsNum bool
}

// ParseCondition parses expr.
func ParseCondition(expr string) (Condition, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Condition{}, &ValidationError{Reason: "empty condition"}
	}

	idx, op := findOperator(s)
	if idx < 0 {
		return Condition{}, invalid("", "no comparison operator in %q", expr)
	}

	col, err := unquote(strings.TrimSpace(s[:idx]))
	if err != nil {
		return Condition{}, invalid("", "column in %q: %v", expr, err)
	}
	if col == "" {
		return Condition{}, invalid("", "missing column in %q", expr)
	}

	rawLit := strings.TrimSpace(s[idx+len(op):])
	if rawLit == "" {
		return Condition{}, invalid("", "missing value in %q", expr)
	}
	lit, err := unquote(rawLit)
	if err != nil {
		return Condition{}, invalid("", "value in %q: %v", expr, err)
	}

	c := Condition{Column: col, Op: op, Literal: lit}
	c.litNum, c.litIsNum = record.ParseNumber(lit)
	return c, nil
}

// findOperator returns the position of the first operator outside quotes.
func findOperator(s string) (int, string) {
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			quote = ch
			continue
		}
		for _, op := range operators {
			if strings.HasPrefix(s[i:], op) {
				return i, op
			}
		}
	}
	return -1, ""
}

// unquote strips one pair of matching quotes. Unquoted input is returned as is.
func unquote(s string) (string, error) {
	if s == "" {
		return s, nil
	}
	q := s[0]
	if q != '"' && q != '\'' && q != '`' {
		return s, nil
	}
	if len(s) < 2 || s[len(s)-1] != q {
		return "", &ValidationError{Reason: "unterminated quote"}
	}
	inner := s[1 : len(s)-1]
	if strings.IndexByte(inner, q) >= 0 {
		return "", &ValidationError{Reason: "unexpected quote"}
	}
	return inner, nil
}

// Eval reports whether the condition holds for rec.
func (c Condition) Eval(rec record.Record) bool {
	_, v, _ := rec.Lookup(c.Column)
	left := record.Stringify(v)

	if c.litIsNum {
		if n, ok := record.ParseNumber(left); ok {
			return compareFloat(n, c.litNum, c.Op)
		}
	}
	return compareString(left, c.Literal, c.Op)
}

func (c Condition) String() string {
	return c.Column + " " + c.Op + " " + c.Literal
}

func compareFloat(a, b float64, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	}
	return false
}

func compareString(a, b, op string) bool {
	cmp := strings.Compare(a, b)
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	}
	return false
}
