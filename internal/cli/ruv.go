package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// RUVOptions holds flags for the ruv command.
type RUVOptions struct {
	*RootOptions
	CompareURL string
}

// ruvView is the rendered form of an RUV.
type ruvView struct {
	Suffix     string           `json:"suffix" yaml:"suffix"`
	Generation string           `json:"generation" yaml:"generation"`
	Replicas   []ruvElementView `json:"replicas" yaml:"replicas"`
}

type ruvElementView struct {
	RID          uint16 `json:"rid" yaml:"rid"`
	URL          string `json:"url" yaml:"url"`
	MinCSN       string `json:"min_csn,omitempty" yaml:"min_csn,omitempty"`
	MaxCSN       string `json:"max_csn,omitempty" yaml:"max_csn,omitempty"`
	LastModified string `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
}

// ruvComparison is the result of ruv --compare-url.
type ruvComparison struct {
	Suffix      string        `json:"suffix" yaml:"suffix"`
	Remote      string        `json:"remote" yaml:"remote"`
	InSync      bool          `json:"in_sync" yaml:"in_sync"`
	Generations [2]string     `json:"generations" yaml:"generations"`
	Differences []ruvDiffView `json:"differences" yaml:"differences"`
}

type ruvDiffView struct {
	RID         uint16                 `json:"rid" yaml:"rid"`
	Kind        ldapclient.RUVDiffKind `json:"kind" yaml:"kind"`
	LocalMaxCSN string                 `json:"local_max_csn,omitempty" yaml:"local_max_csn,omitempty"`
	OtherMaxCSN string                 `json:"remote_max_csn,omitempty" yaml:"remote_max_csn,omitempty"`
}

// NewRUVCommand creates the ruv command.
func NewRUVCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RUVOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ruv <suffix>",
		Short: "Show the replica update vector of a suffix",
		Long: `Show the replica update vector (RUV) of a replicated suffix.

With --compare-url the RUV of the same suffix on a second server is read
and the two are compared; the command exits with status 1 when they differ.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRUV(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.CompareURL, "compare-url", "", "LDAP URL of a server to compare against")
	return cmd
}

func runRUV(cmd *cobra.Command, opts *RUVOptions, suffix string) error {
	if err := ldapclient.ValidateDNSyntax(suffix); err != nil {
		return WrapExitError(ExitCommandError, "invalid suffix", err)
	}

	local, err := readRUV(cmd, opts.RootOptions, "", suffix)
	if err != nil {
		return err
	}

	if opts.CompareURL == "" {
		view := newRUVView(suffix, local)
		return opts.printer(cmd).Print(view, func(w io.Writer) error {
			return renderRUV(w, view)
		})
	}

	remote, err := readRUV(cmd, opts.RootOptions, opts.CompareURL, suffix)
	if err != nil {
		return err
	}

	cmp := compareRUVs(suffix, opts.CompareURL, local, remote)
	opts.logger().Debug("compared RUVs", "suffix", suffix, "remote", opts.CompareURL, "differences", len(cmp.Differences))

	if err := opts.printer(cmd).Print(cmp, func(w io.Writer) error {
		return renderRUVComparison(w, cmp)
	}); err != nil {
		return err
	}
	if !cmp.InSync {
		return NewExitError(ExitFailure, fmt.Sprintf("RUVs of %s differ", suffix))
	}
	return nil
}

func readRUV(cmd *cobra.Command, opts *RootOptions, url, suffix string) (*ldapclient.RUV, error) {
	ctx := cmd.Context()
	sess, err := opts.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer opts.closeSession(sess)

	ruv, err := sess.Replicas.RUV(ctx, suffix)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			return nil, WrapExitError(ExitCommandError, "suffix is not replicated", err)
		}
		return nil, WrapExitError(ExitFailure, "failed to read RUV", err)
	}
	return ruv, nil
}

func newRUVView(suffix string, ruv *ldapclient.RUV) ruvView {
	view := ruvView{
		Suffix:     suffix,
		Generation: ruv.Generation(),
		Replicas:   []ruvElementView{},
	}
	for _, elem := range ruv.Replicas() {
		ev := ruvElementView{
			RID:    elem.RID,
			URL:    elem.URL,
			MinCSN: csnString(elem.MinCSN),
			MaxCSN: csnString(elem.MaxCSN),
		}
		if !elem.LastModified.IsZero() {
			ev.LastModified = elem.LastModified.UTC().Format(time.RFC3339)
		}
		view.Replicas = append(view.Replicas, ev)
	}
	return view
}

func compareRUVs(suffix, remoteURL string, local, remote *ldapclient.RUV) ruvComparison {
	cmp := ruvComparison{
		Suffix:      suffix,
		Remote:      remoteURL,
		InSync:      local.InSync(remote),
		Generations: [2]string{local.Generation(), remote.Generation()},
		Differences: []ruvDiffView{},
	}
	for _, d := range local.Compare(remote) {
		cmp.Differences = append(cmp.Differences, ruvDiffView{
			RID:         d.RID,
			Kind:        d.Kind,
			LocalMaxCSN: csnString(d.SelfMaxCSN),
			OtherMaxCSN: csnString(d.OtherMaxCSN),
		})
	}
	return cmp
}

func csnString(csn *ldapclient.CSN) string {
	if csn == nil {
		return ""
	}
	return csn.String()
}

func renderRUV(w io.Writer, view ruvView) error {
	if _, err := fmt.Fprintf(w, "Replica generation: %s\n", view.Generation); err != nil {
		return err
	}
	rows := make([][]string, 0, len(view.Replicas))
	for _, r := range view.Replicas {
		rows = append(rows, []string{
			strconv.Itoa(int(r.RID)), r.URL, dash(r.MinCSN), dash(r.MaxCSN), dash(r.LastModified),
		})
	}
	return table(w, []string{"RID", "URL", "MIN CSN", "MAX CSN", "LAST MODIFIED"}, rows)
}

func renderRUVComparison(w io.Writer, cmp ruvComparison) error {
	if cmp.Generations[0] != cmp.Generations[1] {
		if _, err := fmt.Fprintf(w, "Replica generations differ: %s != %s\n", cmp.Generations[0], cmp.Generations[1]); err != nil {
			return err
		}
	}
	if len(cmp.Differences) == 0 {
		state := "in sync"
		if !cmp.InSync {
			state = "not in sync"
		}
		_, err := fmt.Fprintf(w, "%s: %s with %s\n", cmp.Suffix, state, cmp.Remote)
		return err
	}

	rows := make([][]string, 0, len(cmp.Differences))
	for _, d := range cmp.Differences {
		rows = append(rows, []string{
			strconv.Itoa(int(d.RID)), string(d.Kind), dash(d.LocalMaxCSN), dash(d.OtherMaxCSN),
		})
	}
	return table(w, []string{"RID", "STATE", "LOCAL MAX CSN", "REMOTE MAX CSN"}, rows)
}
