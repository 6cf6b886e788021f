package rules

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JonMunkholm/domainkeeper/internal/record"
)

// Program is a compiled, validated rule set. Transforms run in order, then
// checks run against the transformed row. Dedup is cross-row and is left to
// the caller via Dedup.
//
// A Program is not safe for concurrent use.
type Program struct {
	transforms []transformStep
	checks     []checkStep
	dedup      []DedupPolicy
}

// Verdict is the outcome of running checks on one row.
type Verdict struct {
	Drop       bool
	DroppedBy  string // first check that dropped the row
	Flagged    bool
	RegexFails int
}

type transformStep interface {
	apply(rec record.Record)
}

type checkStep interface {
	check(rec record.Record, v *Verdict)
}

// Validate reports the first problem with def, or nil.
func Validate(def Definition) error {
	_, err := Compile(def)
	return err
}

// Compile validates def and builds its program.
func Compile(def Definition) (*Program, error) {
	p := &Program{}

	for i, t := range def.Transforms {
		step, err := compileTransform(t)
		if err != nil {
			return nil, withPath(err, fmt.Sprintf("transforms[%d]", i))
		}
		p.transforms = append(p.transforms, step)
	}

	for i, c := range def.Checks {
		step, err := compileCheck(c)
		if err != nil {
			return nil, withPath(err, fmt.Sprintf("checks[%d]", i))
		}
		p.checks = append(p.checks, step)
	}

	if d := def.Meta.Dedup; d != nil {
		if len(d.Keys) == 0 {
			return nil, invalid("meta.dedup.keys", "at least one key is required")
		}
		for _, k := range d.Keys {
			if strings.TrimSpace(k) == "" {
				return nil, invalid("meta.dedup.keys", "key names must not be empty")
			}
		}
		switch d.Keep {
		case "", KeepFirst, KeepLast:
		default:
			return nil, invalid("meta.dedup.keep", "must be %q or %q", KeepFirst, KeepLast)
		}
		p.dedup = append(p.dedup, *d)
	}

	return p, nil
}

// CompileAll compiles each definition and concatenates the programs in order.
func CompileAll(defs []Definition) (*Program, error) {
	out := &Program{}
	for i, def := range defs {
		p, err := Compile(def)
		if err != nil {
			return nil, withPath(err, fmt.Sprintf("rules[%d]", i))
		}
		out.transforms = append(out.transforms, p.transforms...)
		out.checks = append(out.checks, p.checks...)
		out.dedup = append(out.dedup, p.dedup...)
	}
	return out, nil
}

// Empty reports whether the program does nothing.
func (p *Program) Empty() bool {
	return len(p.transforms) == 0 && len(p.checks) == 0 && len(p.dedup) == 0
}

// Dedup returns the dedup policies in rule order.
func (p *Program) Dedup() []DedupPolicy { return p.dedup }

// Transform returns a transformed copy of rec.
func (p *Program) Transform(rec record.Record) record.Record {
	out := rec.Clone()
	for _, t := range p.transforms {
		t.apply(out)
	}
	return out
}

// Check evaluates every check against rec.
func (p *Program) Check(rec record.Record) Verdict {
	var v Verdict
	for _, c := range p.checks {
		c.check(rec, &v)
	}
	return v
}

// Apply transforms a copy of rec and checks the result.
func (p *Program) Apply(rec record.Record) (record.Record, Verdict) {
	out := p.Transform(rec)
	return out, p.Check(out)
}

// ============================================================================
// Transforms
// ============================================================================

func compileTransform(op TransformOp) (transformStep, error) {
	switch t := op.(type) {
	case Trim:
		return stringStep{cols: t.Columns, fn: strings.TrimSpace}, nil
	case Lowercase:
		c := cases.Lower(language.Und)
		return stringStep{cols: t.Columns, fn: c.String}, nil
	case Uppercase:
		c := cases.Upper(language.Und)
		return stringStep{cols: t.Columns, fn: c.String}, nil
	case Titlecase:
		c := cases.Title(language.Und)
		return stringStep{cols: t.Columns, fn: c.String}, nil
	case NormalizeWhitespace:
		return stringStep{cols: t.Columns, fn: func(s string) string {
			return strings.Join(strings.Fields(s), " ")
		}}, nil
	case Replace:
		if t.From == "" {
			return nil, invalid("from", "is required")
		}
		re, err := regexp.Compile(t.From)
		if err != nil {
			return nil, invalid("from", "bad pattern: %v", err)
		}
		to := t.To
		return stringStep{cols: t.Columns, fn: func(s string) string {
			return re.ReplaceAllString(s, to)
		}}, nil
	case Map:
		if t.Column == "" {
			return nil, invalid("column", "is required")
		}
		if len(t.Mapping) == 0 {
			return nil, invalid("mapping", "must not be empty")
		}
		return mapStep(t), nil
	case Coalesce:
		if t.Column == "" {
			return nil, invalid("column", "is required")
		}
		if len(t.Values) == 0 {
			return nil, invalid("values", "must not be empty")
		}
		return coalesceStep(t), nil
	case NormalizeNulls:
		tokens := t.Tokens
		if len(tokens) == 0 {
			tokens = DefaultNullTokens
		}
		return nullsStep{tokens: tokens, to: record.FromAny(t.ToValue)}, nil
	case StandardizePhone:
		if t.Column == "" {
			return nil, invalid("column", "is required")
		}
		return phoneStep{column: t.Column}, nil
	case Split:
		return compileSplit(t)
	case Merge:
		if len(t.Sources) == 0 {
			return nil, invalid("sources", "must not be empty")
		}
		if t.Target == "" {
			return nil, invalid("target", "is required")
		}
		sep := " "
		if t.Separator != nil {
			sep = *t.Separator
		}
		return mergeStep{sources: t.Sources, target: t.Target, sep: sep}, nil
	default:
		return nil, invalid("", "unsupported transform %T", op)
	}
}

// stringStep applies fn to string cells of the selected columns.
type stringStep struct {
	cols Columns
	fn   func(string) string
}

func (s stringStep) apply(rec record.Record) {
	if s.cols.All() {
		for k, v := range rec {
			if str, ok := v.(record.String); ok {
				rec[k] = record.String(s.fn(string(str)))
			}
		}
		return
	}
	for _, col := range s.cols {
		name, v, ok := rec.Lookup(col)
		if !ok {
			continue
		}
		if str, ok := v.(record.String); ok {
			rec[name] = record.String(s.fn(string(str)))
		}
	}
}

type mapStep Map

func (m mapStep) apply(rec record.Record) {
	name, v, ok := rec.Lookup(m.Column)
	if !ok {
		return
	}
	if to, hit := m.Mapping[record.Stringify(v)]; hit {
		rec[name] = record.String(to)
	}
}

type coalesceStep Coalesce

func (c coalesceStep) apply(rec record.Record) {
	name, v, ok := rec.Lookup(c.Column)
	if ok && !record.IsEmpty(v) {
		return
	}
	if !ok {
		name = c.Column
	}
	for _, candidate := range c.Values {
		var val record.Value
		if ref, isStr := candidate.(string); isStr {
			if other, exists := rec[ref]; exists {
				val = other
			} else {
				val = record.String(ref)
			}
		} else {
			val = record.FromAny(candidate)
		}
		if !record.IsEmpty(val) {
			rec[name] = val
			return
		}
	}
}

type nullsStep struct {
	tokens []string
	to     record.Value
}

func (n nullsStep) apply(rec record.Record) {
	for k, v := range rec {
		switch v.(type) {
		case record.String, record.Null, nil:
		default:
			continue
		}
		s := strings.TrimSpace(record.Stringify(v))
		for _, tok := range n.tokens {
			if strings.EqualFold(s, strings.TrimSpace(tok)) {
				rec[k] = n.to
				break
			}
		}
	}
}

type phoneStep struct{ column string }

func (p phoneStep) apply(rec record.Record) {
	name, v, ok := rec.Lookup(p.column)
	if !ok || record.IsNull(v) {
		return
	}
	rec[name] = record.String(digitsOnly(record.Stringify(v)))
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// autoSeparators are tried in order when a split names neither separator nor pattern.
var autoSeparators = []string{",", ";", "|", "_", "/", "-", " "}

type splitStep struct {
	column  string
	targets []string
	sep     string
	re      *regexp.Regexp
}

func compileSplit(t Split) (transformStep, error) {
	if t.Column == "" {
		return nil, invalid("column", "is required")
	}
	if len(t.Targets) == 0 {
		return nil, invalid("targets", "must not be empty")
	}
	for _, target := range t.Targets {
		if strings.TrimSpace(target) == "" {
			return nil, invalid("targets", "target names must not be empty")
		}
	}
	if t.Separator != "" && t.Pattern != "" {
		return nil, invalid("", "separator and pattern are mutually exclusive")
	}
	step := splitStep{column: t.Column, targets: t.Targets, sep: t.Separator}
	if t.Pattern != "" {
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return nil, invalid("pattern", "bad pattern: %v", err)
		}
		if re.NumSubexp() == 0 {
			return nil, invalid("pattern", "needs at least one capture group")
		}
		step.re = re
	}
	return step, nil
}

func (s splitStep) apply(rec record.Record) {
	_, v, ok := rec.Lookup(s.column)
	if !ok {
		return
	}
	src := record.Stringify(v)

	var parts []string
	switch {
	case s.re != nil:
		if m := s.re.FindStringSubmatch(src); m != nil {
			parts = m[1:]
		}
	case s.sep != "":
		parts = strings.SplitN(src, s.sep, len(s.targets))
	default:
		parts = []string{strings.TrimSpace(src)}
		for _, sep := range autoSeparators {
			if strings.Contains(src, sep) {
				parts = strings.SplitN(src, sep, len(s.targets))
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				break
			}
		}
	}

	for i, target := range s.targets {
		part := ""
		if i < len(parts) {
			part = parts[i]
		}
		rec[target] = record.String(part)
	}
}

type mergeStep struct {
	sources []string
	target  string
	sep     string
}

func (m mergeStep) apply(rec record.Record) {
	parts := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		_, v, ok := rec.Lookup(src)
		if !ok || record.IsEmpty(v) {
			continue
		}
		parts = append(parts, record.Stringify(v))
	}
	rec[m.target] = record.String(strings.Join(parts, m.sep))
}

// ============================================================================
// Checks
// ============================================================================

func compileCheck(op CheckOp) (checkStep, error) {
	switch c := op.(type) {
	case Regex:
		if c.Column == "" {
			return nil, invalid("column", "is required")
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, invalid("pattern", "bad pattern: %v", err)
		}
		return regexStep{column: c.Column, re: re}, nil
	case RequireColumns:
		if len(c.Columns) == 0 {
			return nil, invalid("columns", "must not be empty")
		}
		action := c.Action
		if action == "" {
			action = ActionDrop
		}
		if action != ActionDrop && action != ActionFlag {
			return nil, invalid("action", "must be %q or %q", ActionDrop, ActionFlag)
		}
		return requireStep{cols: c.Columns, flag: action == ActionFlag}, nil
	case DropIf:
		cond, err := ParseCondition(c.Condition)
		if err != nil {
			return nil, withPath(err, "condition")
		}
		return condStep{name: OpDropIf, conds: []Condition{cond}}, nil
	case DropIfAll:
		if len(c.Conditions) == 0 {
			return nil, invalid("conditions", "must not be empty")
		}
		conds := make([]Condition, 0, len(c.Conditions))
		for i, expr := range c.Conditions {
			cond, err := ParseCondition(expr)
			if err != nil {
				return nil, withPath(err, fmt.Sprintf("conditions[%d]", i))
			}
			conds = append(conds, cond)
		}
		return condStep{name: OpDropIfAll, conds: conds}, nil
	case DropIfMissingPctGt:
		if c.Threshold < 0 || c.Threshold > 100 {
			return nil, invalid("threshold", "must be between 0 and 100")
		}
		return missingStep{threshold: c.Threshold}, nil
	case DropIfOutOfRange:
		if c.Column == "" {
			return nil, invalid("column", "is required")
		}
		if c.Min == nil && c.Max == nil {
			return nil, invalid("", "min or max is required")
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return nil, invalid("", "min exceeds max")
		}
		return rangeStep(c), nil
	case DropIfPattern:
		if c.Column == "" {
			return nil, invalid("column", "is required")
		}
		for _, f := range c.Flags {
			if !strings.ContainsRune("ims", f) {
				return nil, invalid("flags", "unsupported flag %q", f)
			}
		}
		expr := c.Pattern
		if c.Flags != "" {
			expr = "(?" + c.Flags + ")" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, invalid("pattern", "bad pattern: %v", err)
		}
		return patternStep{column: c.Column, re: re}, nil
	default:
		return nil, invalid("", "unsupported check %T", op)
	}
}

func drop(v *Verdict, by string) {
	if !v.Drop {
		v.Drop = true
		v.DroppedBy = by
	}
}

type regexStep struct {
	column string
	re     *regexp.Regexp
}

func (s regexStep) check(rec record.Record, v *Verdict) {
	_, val, _ := rec.Lookup(s.column)
	if !s.re.MatchString(record.Stringify(val)) {
		v.RegexFails++
	}
}

type requireStep struct {
	cols []string
	flag bool
}

func (s requireStep) check(rec record.Record, v *Verdict) {
	for _, col := range s.cols {
		_, val, ok := rec.Lookup(col)
		if ok && !record.IsEmpty(val) {
			continue
		}
		if s.flag {
			v.Flagged = true
		} else {
			drop(v, OpRequireColumns)
		}
		return
	}
}

type condStep struct {
	name  string
	conds []Condition
}

func (s condStep) check(rec record.Record, v *Verdict) {
	for _, c := range s.conds {
		if !c.Eval(rec) {
			return
		}
	}
	drop(v, s.name)
}

type missingStep struct{ threshold float64 }

func (s missingStep) check(rec record.Record, v *Verdict) {
	if len(rec) == 0 {
		return
	}
	empty := 0
	for _, val := range rec {
		if record.IsEmpty(val) {
			empty++
		}
	}
	if float64(empty)*100/float64(len(rec)) > s.threshold {
		drop(v, OpDropIfMissingPctGt)
	}
}

type rangeStep DropIfOutOfRange

func (s rangeStep) check(rec record.Record, v *Verdict) {
	_, val, ok := rec.Lookup(s.Column)
	if !ok {
		return
	}
	n, isNum := record.Number(val)
	if !isNum {
		return
	}
	if (s.Min != nil && n < *s.Min) || (s.Max != nil && n > *s.Max) {
		drop(v, OpDropIfOutOfRange)
	}
}

type patternStep struct {
	column string
	re     *regexp.Regexp
}

func (s patternStep) check(rec record.Record, v *Verdict) {
	_, val, ok := rec.Lookup(s.column)
	if !ok {
		return
	}
	if s.re.MatchString(record.Stringify(val)) {
		drop(v, OpDropIfPattern)
	}
}
