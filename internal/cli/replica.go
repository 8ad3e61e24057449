package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// NewReplicaCommand creates the replica command.
func NewReplicaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Inspect replicas",
	}
	cmd.AddCommand(newReplicaListCommand(rootOpts))
	return cmd
}

func newReplicaListCommand(opts *RootOptions) *cobra.Command {
	var suffix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the replicas configured on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			replicas, err := sess.Replicas.List(ctx, suffix)
			if err != nil {
				return lookupError("failed to list replicas", err)
			}
			if replicas == nil {
				replicas = []*ldapclient.Replica{}
			}
			return opts.printer(cmd).Print(replicas, func(w io.Writer) error {
				return renderReplicas(w, replicas)
			})
		},
	}

	cmd.Flags().StringVar(&suffix, "suffix", "", "only list the replica of this suffix")
	return cmd
}

func renderReplicas(w io.Writer, replicas []*ldapclient.Replica) error {
	rows := make([][]string, 0, len(replicas))
	for _, r := range replicas {
		rows = append(rows, []string{r.Suffix, r.Role.String(), strconv.Itoa(r.ID), r.DN})
	}
	return table(w, []string{"SUFFIX", "ROLE", "RID", "DN"}, rows)
}
