// Package nlcompile turns short English commands into rule descriptors.
//
// A closed set of phrasings is handled locally by fast paths. Anything else
// goes to a language model, whose answer is accepted only as a descriptor
// that [rules.Parse] validates. When the model is unavailable or its output
// does not validate, Compile still returns an empty, editable descriptor
// whose meta.note is [NoteUnparsed].
package nlcompile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/llm"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// NoteUnparsed marks a descriptor the compiler could not build.
const NoteUnparsed = "Unparsed AI output"

// Values of meta.source.
const (
	SourceFastPath = "fast_path"
	SourceModel    = "llm"
	SourceNone     = "none"
)

const (
	maxCommandLen = 500
	maxRawKept    = 2000
	maxNameLen    = 80
)

// Descriptor is a compiled command.
type Descriptor struct {
	Name       string           `json:"name"`
	Category   string           `json:"category,omitempty"`
	Definition rules.Definition `json:"definition"`
}

// Compiler maps commands to descriptors.
type Compiler struct {
	model       llm.Completer
	temperature float64
}

// New creates a Compiler. model may be nil, in which case unmatched
// commands yield an unparsed descriptor.
func New(model llm.Completer, temperature float64) *Compiler {
	return &Compiler{model: model, temperature: temperature}
}

// Compile maps command to a descriptor. columns, when known, are passed to
// the model as context. The only error is for an empty or oversized command.
func (c *Compiler) Compile(ctx context.Context, command string, columns []string) (Descriptor, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Descriptor{}, apperr.Invalid("command is required")
	}
	if len(command) > maxCommandLen {
		return Descriptor{}, apperr.Invalid("command exceeds %d characters", maxCommandLen)
	}

	log := logging.FromContext(ctx)

	if d, ok := FastPath(command); ok {
		log.Debug("compiled rule via fast path", "command", command, "category", d.Category)
		return d, nil
	}

	if c.model == nil || !enabled(c.model) {
		log.Info("no fast path and no model configured", "command", command)
		return unparsed(command, SourceNone, ""), nil
	}

	raw, err := c.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt(command, columns)},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		// Model failures are best-effort.
		log.Warn("rule compile model call failed", "command", command, "error", err)
		return unparsed(command, SourceModel, ""), nil
	}

	d, err := parseModelOutput(raw)
	if err != nil {
		log.Info("model output rejected", "command", command, "error", err)
		return unparsed(command, SourceModel, raw), nil
	}
	if d.Name == "" {
		d.Name = nameFor(command)
	}
	d.Definition.Meta.Set("source", SourceModel)
	d.Definition.Meta.Set("command", command)
	return d, nil
}

func enabled(m llm.Completer) bool {
	if c, ok := m.(*llm.Client); ok {
		return c.Enabled()
	}
	return true
}

// parseModelOutput accepts either {name, category, definition} or a bare
// definition object.
func parseModelOutput(raw string) (Descriptor, error) {
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		return Descriptor{}, err
	}

	var envelope struct {
		Name       string          `json:"name"`
		Category   string          `json:"category"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := json.Unmarshal([]byte(obj), &envelope); err != nil {
		return Descriptor{}, err
	}

	body := envelope.Definition
	if len(body) == 0 || string(body) == "null" {
		body = json.RawMessage(obj)
	}
	def, err := rules.Parse(body)
	if err != nil {
		return Descriptor{}, err
	}
	if len(def.Transforms) == 0 && len(def.Checks) == 0 && def.Meta.Dedup == nil {
		return Descriptor{}, fmt.Errorf("descriptor has no operations")
	}
	return Descriptor{
		Name:       truncate(strings.TrimSpace(envelope.Name), maxNameLen),
		Category:   strings.TrimSpace(envelope.Category),
		Definition: def,
	}, nil
}

func unparsed(command, source, raw string) Descriptor {
	def := rules.Definition{Meta: rules.Meta{Note: NoteUnparsed}}
	def.Meta.Set("source", source)
	def.Meta.Set("command", command)
	if raw != "" {
		def.Meta.Set("raw", truncate(raw, maxRawKept))
	}
	return Descriptor{Name: nameFor(command), Category: "custom", Definition: def}
}

// nameFor derives a display name from a command.
func nameFor(command string) string {
	name := strings.Join(strings.Fields(command), " ")
	name = truncate(name, maxNameLen)
	r := []rune(name)
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const systemPrompt = `You convert data-cleaning instructions into a JSON rule descriptor.
Respond with ONLY a JSON object of the form:
{"name": string, "category": string, "definition": {"transforms": [...], "checks": [...], "meta": {}}}

Each transform is an object with a "name" tag:
- {"name":"trim","columns":[...]}            columns optional, ["*"] for all
- {"name":"lowercase","columns":[...]}, {"name":"uppercase","columns":[...]}, {"name":"titlecase","columns":[...]}
- {"name":"normalize_whitespace","columns":[...]}
- {"name":"replace","columns":[...],"from":"<regex>","to":"<text>"}
- {"name":"map","column":"c","mapping":{"from":"to"}}
- {"name":"coalesce","column":"c","values":["other_column_or_literal"]}
- {"name":"normalize_nulls","tokens":["","NULL","N/A","-"],"to_value":null}
- {"name":"standardize_phone","column":"c"}
- {"name":"split","column":"c","separator":"_","targets":["a","b"]}  or "pattern" with capture groups
- {"name":"merge","sources":["a","b"],"target":"c","separator":" "}

Each check is an object with a "name" tag:
- {"name":"regex","column":"c","pattern":"<regex>"}
- {"name":"require_columns","columns":[...],"action":"drop"|"flag"}
- {"name":"drop_if","condition":"<column> <op> <literal>"}   op is one of == != > >= < <=
- {"name":"drop_if_all","conditions":["...","..."]}
- {"name":"drop_if_missing_pct_gt","threshold":50}
- {"name":"drop_if_out_of_range","column":"c","min":0,"max":100}
- {"name":"drop_if_pattern","column":"c","pattern":"<regex>","flags":"i"}

Deduplication goes in meta: {"dedup":{"keys":[...],"keep":"first"|"last"}}.
Use only these operations. Never include code.`

func userPrompt(command string, columns []string) string {
	var b strings.Builder
	if len(columns) > 0 {
		b.WriteString("Columns: ")
		b.WriteString(strings.Join(columns, ", "))
		b.WriteString("\n")
	}
	b.WriteString("Instruction: ")
	b.WriteString(command)
	return b.String()
}
