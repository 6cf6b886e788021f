package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/domainkeeper/internal/nlcompile"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	RuleFile   string
	SampleSize int
	Rows       int
}

// NewPreviewCommand creates the preview command, which applies a rule file
// to a local data file without storing anything.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview --rule <rule.yaml|rule.json> <data-file>",
		Short: "Preview a rule against a local data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.RuleFile, "rule", "r", "", "rule definition file, YAML or JSON (required)")
	cmd.Flags().IntVar(&opts.SampleSize, "sample", nlcompile.DefaultSampleSize, "rows to evaluate")
	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", nlcompile.DefaultPreviewRows, "rows to show")
	_ = cmd.MarkFlagRequired("rule")

	return cmd
}

func runPreview(opts *PreviewOptions, dataPath string, cmd *cobra.Command) error {
	def, err := loadRuleFile(opts.RuleFile)
	if err != nil {
		return err
	}
	table, err := decodeFile(dataPath)
	if err != nil {
		return err
	}

	res, err := nlcompile.Preview(def, table.Rows, table.Header, opts.SampleSize, opts.Rows)
	if err != nil {
		return err
	}

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	if out.JSON() {
		return out.WriteJSON(res)
	}
	m := res.Metrics
	out.Printf("processed=%d changed=%d dropped=%d deduped=%d flagged=%d",
		m.ProcessedRows, m.ChangedRows, m.DroppedRows, m.DedupedRows, m.FlaggedRows)
	return out.WriteTable(res.Columns, res.Rows)
}

// loadRuleFile reads a rule definition from YAML or JSON. The file may hold
// either a bare definition or a {name, definition} descriptor.
func loadRuleFile(path string) (rules.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rules.Definition{}, err
	}

	var raw []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raw = data
	default:
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return rules.Definition{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return rules.Definition{}, fmt.Errorf("convert %s: %w", path, err)
		}
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return rules.Definition{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if inner, ok := probe["definition"]; ok {
		raw = inner
	}
	def, err := rules.Parse(raw)
	if err != nil {
		return rules.Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
