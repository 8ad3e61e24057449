package cli

import (
	"io"

	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// NewBackendCommand creates the backend command.
func NewBackendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect database backends",
	}
	cmd.AddCommand(newBackendListCommand(rootOpts))
	return cmd
}

func newBackendListCommand(opts *RootOptions) *cobra.Command {
	var name, suffix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backends, by name or suffix",
		Long: `List database backends. Without --name or --suffix every backend is
listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && suffix != "" {
				return NewExitError(ExitCommandError, "--name and --suffix are mutually exclusive")
			}
			if name == "" && suffix == "" {
				suffix = "*"
			}

			ctx := cmd.Context()
			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			backends, err := sess.Backends.List(ctx, name, suffix, nil)
			if err != nil && !ldapclient.IsNotFoundError(err) {
				return WrapExitError(ExitFailure, "failed to list backends", err)
			}
			if backends == nil {
				backends = []*ldapclient.Backend{}
			}
			return opts.printer(cmd).Print(backends, func(w io.Writer) error {
				return renderBackends(w, backends)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "backend name, e.g. userRoot")
	cmd.Flags().StringVar(&suffix, "suffix", "", "suffix served by the backend")
	return cmd
}

func renderBackends(w io.Writer, backends []*ldapclient.Backend) error {
	rows := make([][]string, 0, len(backends))
	for _, b := range backends {
		kind := "ldbm"
		if b.Chaining {
			kind = "chaining"
		}
		readOnly := "off"
		if b.ReadOnly {
			readOnly = "on"
		}
		rows = append(rows, []string{b.Name, b.Suffix, kind, readOnly})
	}
	return table(w, []string{"NAME", "SUFFIX", "TYPE", "READONLY"}, rows)
}
