package cli

import (
	"github.com/spf13/cobra"

	"agora.org/internal/ranked"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var kindFlag string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List a collection ordered by its ordinal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			kind, err := ranked.ParseKind(kindFlag)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			spec, err := ranked.SpecFor(kind)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			svc, closeFn, err := openService(cmd.Context(), rootOpts, f)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			defer closeFn()

			views, err := svc.List(cmd.Context(), kind)
			if err != nil {
				return f.Failure(ExitFailure, err)
			}
			return f.Views(spec, views)
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "collection to list (role|board)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
