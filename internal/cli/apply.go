package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agora.org/internal/ranked"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		kindFlag string
		file     string
	)
	cmd := &cobra.Command{
		Use:   "apply -f <batch.yaml>",
		Short: "Reconcile a collection with a YAML batch",
		Long: `Apply deletes, moves, updates and creates from a YAML batch file as a
single transaction. Nothing is written when any step is rejected.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			batch, err := LoadBatch(file)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			kind, err := batchKind(kindFlag, batch.Kind)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			spec, err := ranked.SpecFor(kind)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			req, err := batch.Request()
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			svc, closeFn, err := openService(cmd.Context(), rootOpts, f)
			if err != nil {
				return f.Failure(ExitCommandError, err)
			}
			defer closeFn()

			f.VerboseLog("applying %d delete(s), %d move(s), %d update(s), %d create(s) to %s",
				len(req.Deletes), len(req.Moves), len(req.Updates), len(req.Creates), kind)
			views, err := svc.BatchReconcile(cmd.Context(), kind, req)
			if err != nil {
				return f.Failure(ExitFailure, err)
			}
			return f.Views(spec, views)
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "collection to reconcile (role|board); defaults to the file's kind")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML batch file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func batchKind(flag, fromFile string) (ranked.Kind, error) {
	switch {
	case flag == "" && fromFile == "":
		return "", fmt.Errorf("%w: --kind is required when the batch names no kind", ranked.ErrInvalidInput)
	case flag == "":
		return ranked.ParseKind(fromFile)
	case fromFile == "":
		return ranked.ParseKind(flag)
	}
	a, err := ranked.ParseKind(flag)
	if err != nil {
		return "", err
	}
	b, err := ranked.ParseKind(fromFile)
	if err != nil {
		return "", err
	}
	if a != b {
		return "", fmt.Errorf("%w: --kind %s does not match batch kind %s", ranked.ErrInvalidInput, a, b)
	}
	return a, nil
}
