package nlcompile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// fiscalYearPattern splits values like "FY24/25" into their two years.
const fiscalYearPattern = `^FY(\d{2})/(\d{2})$`

var (
	dedupRe = regexp.MustCompile(`(?i)^(?:dedup(?:e|licate)?|remove\s+duplicates)\s+(?:by|on)\s+(.+?)(?:\s*,?\s+keep(?:ing)?\s+(?:the\s+)?(first|last))?$`)

	missingRe = regexp.MustCompile(`(?i)^(drop|remove|delete|flag)\s+rows?\s+(?:missing|without|with\s+(?:no|empty|missing))\s+(.+)$`)
	filterRe  = regexp.MustCompile(`(?i)^(?:filter\s+out|drop|remove|delete|exclude)\s+(?:all\s+)?rows?\s+(?:where|when|if)\s+(.+)$`)

	caseRe       = regexp.MustCompile(`(?i)^(title\s*case|lower\s*case|upper\s*case)\s+(.+)$`)
	trimRe       = regexp.MustCompile(`(?i)^trim(?:\s+(?:all\s+)?whitespace)?(?:\s+(?:in|on|from)\s+(.+))?$`)
	whitespaceRe = regexp.MustCompile(`(?i)^(?:collapse|normali[sz]e)\s+(?:internal\s+)?(?:white\s*space|spaces)(?:\s+in\s+(.+))?$`)
	phoneRe      = regexp.MustCompile(`(?i)^standardi[sz]e\s+phone(?:\s+numbers?)?(?:\s+(?:in|on)\s+(\S+))?$`)
	splitAndRe   = regexp.MustCompile(`(?i)^split\s+(\S+)\s+into\s+(\S+)\s*(?:,|and)\s*(\S+)(?:\s+(?:using|by|on)\s+(.+))?$`)
	splitSlashRe = regexp.MustCompile(`(?i)^split\s+(\S+)\s+into\s+([^\s/]+)/([^\s/]+)$`)
	mergeRe      = regexp.MustCompile(`(?i)^(?:merge|combine|join)\s+(.+?)\s+into\s+(\S+)(?:\s+(?:using|with)\s+(.+))?$`)
	nullsRe      = regexp.MustCompile(`(?i)^normali[sz]e\s+(.+?)\s+to\s+(.+)$`)
	nullsBareRe  = regexp.MustCompile(`(?i)^normali[sz]e\s+nulls?$`)

	clauseSplitRe = regexp.MustCompile(`(?i)\s*(?:;|,?\s+then\s+)\s*`)
	listSplitRe   = regexp.MustCompile(`(?i)\s*(?:,|\band\b|\bor\b|&)\s*`)
	andSplitRe    = regexp.MustCompile(`(?i)\s+and\s+`)
	naRe          = regexp.MustCompile(`(?i)\bn/a\b`)
	tokenSplitRe  = regexp.MustCompile(`(?i)[\s,/]+|\s+(?:or|and)\s+`)
	singleEqRe    = regexp.MustCompile(`([^=!<>])=([^=])`)
	isNotRe       = regexp.MustCompile(`(?i)\s+is\s+not\s+`)
	isRe          = regexp.MustCompile(`(?i)\s+(?:is|equals)\s+`)
)

// separatorWords maps spoken separators to their characters.
var separatorWords = map[string]string{
	"underscore": "_",
	"dash":       "-",
	"hyphen":     "-",
	"comma":      ",",
	"space":      " ",
	"slash":      "/",
	"pipe":       "|",
	"dot":        ".",
	"period":     ".",
	"semicolon":  ";",
	"colon":      ":",
	"tab":        "\t",
}

// FastPath compiles command without a model when it matches a known
// phrasing. The result always validates.
func FastPath(command string) (Descriptor, bool) {
	command = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(command), "."))
	if command == "" {
		return Descriptor{}, false
	}

	d, ok := wholeCommand(command)
	if !ok {
		d, ok = transformClauses(command)
	}
	if !ok {
		return Descriptor{}, false
	}
	if rules.Validate(d.Definition) != nil {
		return Descriptor{}, false
	}
	d.Name = nameFor(command)
	d.Definition.Meta.Set("source", SourceFastPath)
	return d, true
}

// wholeCommand matches phrasings that own the entire command.
func wholeCommand(command string) (Descriptor, bool) {
	if m := dedupRe.FindStringSubmatch(command); m != nil {
		keys := columnList(m[1])
		if len(keys) == 0 {
			return Descriptor{}, false
		}
		policy := &rules.DedupPolicy{Keys: keys, Keep: rules.KeepFirst}
		if strings.EqualFold(m[2], rules.KeepLast) {
			policy.Keep = rules.KeepLast
		}
		return Descriptor{Category: "dedup", Definition: rules.Definition{Meta: rules.Meta{Dedup: policy}}}, true
	}

	if m := missingRe.FindStringSubmatch(command); m != nil {
		cols := columnList(m[2])
		if len(cols) == 0 {
			return Descriptor{}, false
		}
		action := rules.ActionDrop
		if strings.EqualFold(m[1], "flag") {
			action = rules.ActionFlag
		}
		return Descriptor{Category: "validation", Definition: rules.Definition{
			Checks: rules.Checks{rules.RequireColumns{Columns: cols, Action: action}},
		}}, true
	}

	if m := filterRe.FindStringSubmatch(command); m != nil {
		parts := andSplitRe.Split(m[1], -1)
		conds := make([]string, 0, len(parts))
		for _, p := range parts {
			c := normalizeCondition(p)
			if _, err := rules.ParseCondition(c); err != nil {
				return Descriptor{}, false
			}
			conds = append(conds, c)
		}
		var check rules.CheckOp = rules.DropIf{Condition: conds[0]}
		if len(conds) > 1 {
			check = rules.DropIfAll{Conditions: conds}
		}
		return Descriptor{Category: "filter", Definition: rules.Definition{Checks: rules.Checks{check}}}, true
	}

	return Descriptor{}, false
}

// transformClauses compiles "a; b then c" when every clause is a transform.
func transformClauses(command string) (Descriptor, bool) {
	var (
		ts       rules.Transforms
		category string
	)
	for _, clause := range clauseSplitRe.Split(command, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, cat, ok := transformClause(clause)
		if !ok {
			return Descriptor{}, false
		}
		if category == "" {
			category = cat
		}
		ts = append(ts, op)
	}
	if len(ts) == 0 {
		return Descriptor{}, false
	}
	return Descriptor{Category: category, Definition: rules.Definition{Transforms: ts}}, true
}

func transformClause(clause string) (rules.TransformOp, string, bool) {
	if m := caseRe.FindStringSubmatch(clause); m != nil {
		cols := rules.Columns(columnList(m[2]))
		switch strings.ToLower(strings.Join(strings.Fields(m[1]), "")) {
		case "titlecase":
			return rules.Titlecase{Columns: cols}, "formatting", true
		case "lowercase":
			return rules.Lowercase{Columns: cols}, "formatting", true
		default:
			return rules.Uppercase{Columns: cols}, "formatting", true
		}
	}

	if m := trimRe.FindStringSubmatch(clause); m != nil {
		return rules.Trim{Columns: rules.Columns(columnList(m[1]))}, "formatting", true
	}

	if m := whitespaceRe.FindStringSubmatch(clause); m != nil {
		return rules.NormalizeWhitespace{Columns: rules.Columns(columnList(m[1]))}, "formatting", true
	}

	if m := phoneRe.FindStringSubmatch(clause); m != nil {
		col := m[1]
		if col == "" {
			col = "phone"
		}
		return rules.StandardizePhone{Column: col}, "formatting", true
	}

	if m := splitSlashRe.FindStringSubmatch(clause); m != nil {
		split := rules.Split{Column: m[1], Targets: []string{m[2], m[3]}}
		if fiscalYear(m[1], m[2], m[3]) {
			split.Pattern = fiscalYearPattern
		} else {
			split.Separator = "/"
		}
		return split, "split", true
	}

	if m := splitAndRe.FindStringSubmatch(clause); m != nil {
		split := rules.Split{Column: m[1], Targets: []string{m[2], m[3]}}
		if m[4] != "" {
			sep, ok := separator(m[4])
			if !ok {
				return nil, "", false
			}
			split.Separator = sep
		}
		return split, "split", true
	}

	if m := mergeRe.FindStringSubmatch(clause); m != nil {
		sources := columnList(m[1])
		if len(sources) < 2 {
			return nil, "", false
		}
		merge := rules.Merge{Sources: sources, Target: m[2]}
		if m[3] != "" {
			sep, ok := separator(m[3])
			if !ok {
				return nil, "", false
			}
			merge.Separator = &sep
		}
		return merge, "merge", true
	}

	if nullsBareRe.MatchString(clause) {
		return rules.NormalizeNulls{}, "cleanup", true
	}

	if m := nullsRe.FindStringSubmatch(clause); m != nil {
		tokens := nullTokens(m[1])
		if len(tokens) == 0 {
			return nil, "", false
		}
		return rules.NormalizeNulls{Tokens: tokens, ToValue: literal(m[2])}, "cleanup", true
	}

	return nil, "", false
}

// columnList splits "a, b and c". "all", "everything" and "*" select every column.
func columnList(s string) []string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "*", "all", "all columns", "everything", "every column":
		return nil
	}
	var out []string
	for _, part := range listSplitRe.Split(s, -1) {
		part = strings.Trim(strings.TrimSpace(part), `"'`+"`")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fiscalYear(names ...string) bool {
	for _, n := range names {
		if len(n) >= 2 && strings.EqualFold(n[:2], "FY") {
			return true
		}
	}
	return false
}

// separator resolves "underscore", "'-'" or a literal character.
func separator(s string) (string, bool) {
	s = strings.TrimSpace(s)
	word := strings.ToLower(s)
	word = strings.TrimPrefix(word, "a ")
	word = strings.TrimPrefix(word, "an ")
	if sep, ok := separatorWords[strings.TrimSuffix(word, "s")]; ok {
		return sep, true
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], len(s) > 2
	}
	if s == "" || strings.ContainsAny(s, " \t") {
		return "", false
	}
	return s, true
}

// nullTokens reads "empty/NULL/N/A" into normalize_nulls tokens. Any word
// that is not a null spelling rejects the phrase.
func nullTokens(s string) []string {
	s = naRe.ReplaceAllString(s, "NA")
	var out []string
	seen := map[string]bool{}
	for _, word := range tokenSplitRe.Split(strings.TrimSpace(s), -1) {
		var tok string
		switch strings.ToLower(strings.Trim(word, `"'`)) {
		case "":
			if word == "" {
				continue
			}
			tok = ""
		case "empty", "blank", "empties", "blanks":
			tok = ""
		case "null", "nulls":
			tok = "NULL"
		case "na":
			tok = "N/A"
		case "none":
			tok = "None"
		case "nan":
			tok = "NaN"
		case "-":
			tok = "-"
		case "or", "and":
			continue
		default:
			return nil
		}
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// literal interprets a replacement value: null, a number, or a string.
func literal(s string) any {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") || strings.EqualFold(s, "nil") {
		return nil
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

// normalizeCondition rewrites "x = 1", "x is y" and "x is not y" into the
// comparator grammar.
func normalizeCondition(s string) string {
	s = strings.TrimSpace(s)
	s = isNotRe.ReplaceAllString(s, " != ")
	s = isRe.ReplaceAllString(s, " == ")
	s = singleEqRe.ReplaceAllString(s, "$1==$2")
	return s
}
