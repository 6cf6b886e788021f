package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/database"
)

// MigrateOptions holds flags for the migrate commands.
type MigrateOptions struct {
	*RootOptions
	DatabaseURL string
	Steps       int
}

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if opts.DatabaseURL != "" {
				return nil
			}
			var db config.DatabaseConfig
			if err := config.LoadSection(&db); err != nil {
				return err
			}
			if db.URL == "" {
				return errors.New("database URL is required: set DATABASE_URL or --database-url")
			}
			opts.DatabaseURL = db.URL
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := database.Migrate(opts.DatabaseURL); err != nil {
				return err
			}
			return printVersion(opts, cmd)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			if err := database.MigrateDown(opts.DatabaseURL, opts.Steps); err != nil {
				return err
			}
			return printVersion(opts, cmd)
		},
	}
	down.Flags().IntVar(&opts.Steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(opts, cmd)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(opts *MigrateOptions, cmd *cobra.Command) error {
	v, dirty, err := database.MigrationVersion(opts.DatabaseURL)
	if err != nil {
		return err
	}
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
	if out.JSON() {
		return out.WriteJSON(map[string]any{"version": v, "dirty": dirty})
	}
	out.Printf("schema version %d (dirty=%t)", v, dirty)
	return nil
}
