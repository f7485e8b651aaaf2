// Package cli implements rankctl, a command line client that lists and
// reconciles ranked collections.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agora.org/internal/obs"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DSN     string
	Seed    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for rankctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rankctl",
		Short: "rankctl - manage ranked roles and boards",
		Long: `Inspect and reconcile the ranked role and board collections.

Without --dsn the commands run against an in-memory store loaded from --seed,
which makes it possible to rehearse a batch before applying it to PostgreSQL.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			obs.SetLogOutput(cmd.ErrOrStderr())
			if !opts.Verbose {
				return obs.SetLevel("warn")
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "PostgreSQL DSN (defaults to an in-memory store)")
	cmd.PersistentFlags().StringVar(&opts.Seed, "seed", "", "YAML seed file for the in-memory store")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
