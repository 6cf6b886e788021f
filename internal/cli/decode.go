package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/record"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	Rows int
}

// NewDecodeCommand creates the decode command, which shows how a local file
// would be read by an ingest.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a CSV, TSV, TXT, XLSX or XLS file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(opts, args[0], cmd)
		},
	}
	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", 10, "number of rows to show")

	return cmd
}

func runDecode(opts *DecodeOptions, path string, cmd *cobra.Command) error {
	table, err := decodeFile(path)
	if err != nil {
		return err
	}

	rows := table.Rows
	if opts.Rows >= 0 && len(rows) > opts.Rows {
		rows = rows[:opts.Rows]
	}

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	if out.JSON() {
		return out.WriteJSON(map[string]any{
			"format":    table.Format,
			"sheet":     table.Sheet,
			"columns":   table.Header,
			"row_count": len(table.Rows),
			"rows":      rows,
		})
	}

	out.Printf("format=%s rows=%d columns=%d", table.Format, len(table.Rows), len(table.Header))
	if table.Sheet != "" {
		out.Printf("sheet=%s", table.Sheet)
	}
	return out.WriteTable(record.Columns(table.Header, rows), rows)
}

func decodeFile(path string) (*codec.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data, filepath.Base(path))
}
