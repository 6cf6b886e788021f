package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/llm"
	"github.com/JonMunkholm/domainkeeper/internal/nlcompile"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Columns []string
	Offline bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <command>...",
		Short: "Compile an English command into a rule definition",
		Long: `Compile an English cleaning command into a rule descriptor.

Commands the fast path does not recognise are sent to the configured
language model (LLM_PROVIDERS) unless --offline is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, strings.Join(args, " "), cmd)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "known column names passed to the model")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "use the fast path only")

	return cmd
}

func runCompile(opts *CompileOptions, command string, cmd *cobra.Command) error {
	compiler, err := newCompiler(opts.Offline)
	if err != nil {
		return err
	}
	desc, err := compiler.Compile(cmd.Context(), command, opts.Columns)
	if err != nil {
		return err
	}

	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	if out.JSON() {
		return out.WriteJSON(desc)
	}
	out.Printf("name: %s", desc.Name)
	if desc.Category != "" {
		out.Printf("category: %s", desc.Category)
	}
	out.Printf("definition:")
	return out.WriteJSON(desc.Definition)
}

func newCompiler(offline bool) (*nlcompile.Compiler, error) {
	if offline {
		return nlcompile.New(nil, 0), nil
	}
	var cfg config.LLMConfig
	if err := config.LoadSection(&cfg); err != nil {
		return nil, err
	}
	model, err := llm.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return nlcompile.New(model, cfg.Temperature), nil
}
