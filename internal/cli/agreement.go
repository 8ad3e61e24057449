package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// InitOptions holds flags for the agreement init and wait commands.
type InitOptions struct {
	*RootOptions
	PollInterval time.Duration
	Timeout      time.Duration
	MaxAttempts  int
	NoWait       bool
}

// NewAgreementCommand creates the agreement command and its subcommands.
func NewAgreementCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agreement",
		Short: "Manage replication agreements",
		Long: `Inspect and control the replication agreements of a supplier.

Agreements are given by DN or by name (the cn, e.g. meTo_ds2.example.com:389).`,
	}

	cmd.AddCommand(newAgreementListCommand(rootOpts))
	cmd.AddCommand(newAgreementStatusCommand(rootOpts))
	cmd.AddCommand(newAgreementInitCommand(rootOpts))
	cmd.AddCommand(newAgreementWaitCommand(rootOpts))
	cmd.AddCommand(newAgreementStopCommand(rootOpts))
	cmd.AddCommand(newAgreementRestartCommand(rootOpts))
	cmd.AddCommand(newAgreementChangesCommand(rootOpts))

	return cmd
}

func newAgreementListCommand(opts *RootOptions) *cobra.Command {
	var suffix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List replication agreements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			filter := ""
			if suffix != "" {
				nsuffix, err := ldapclient.NormalizeDN(suffix)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid suffix", err)
				}
				filter = fmt.Sprintf("(nsds5replicaroot=%s)", ldap.EscapeFilter(nsuffix))
			}

			agmts, err := sess.Agreements.ListAgreements(ctx, filter)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list agreements", err)
			}
			return opts.printer(cmd).Print(agmts, func(w io.Writer) error {
				return renderAgreements(w, agmts)
			})
		},
	}

	cmd.Flags().StringVar(&suffix, "suffix", "", "only list agreements of this suffix")
	return cmd
}

// agreementStatusView adds the classified init state to the raw status.
type agreementStatusView struct {
	ldapclient.AgreementStatus `yaml:",inline"`
	InitState                  string `json:"init_state,omitempty" yaml:"init_state,omitempty"`
}

func newAgreementStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <agreement>",
		Short: "Show the replication status of an agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			dn, err := agreementDN(ctx, sess, args[0])
			if err != nil {
				return err
			}
			status, err := sess.Agreements.Status(ctx, dn)
			if err != nil {
				return lookupError("failed to read agreement status", err)
			}

			view := agreementStatusView{AgreementStatus: *status}
			if status.LastInitStatus != "" || status.BeginReplicaRefresh != "" {
				view.InitState = ldapclient.ClassifyInitStatus(status.BeginReplicaRefresh, status.UpdateInProgress, status.LastInitStatus).String()
			}
			return opts.printer(cmd).Print(view, func(w io.Writer) error {
				_, err := io.WriteString(w, status.String())
				return err
			})
		},
	}
}

func newAgreementInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init <agreement>",
		Short: "Initialize the consumer of an agreement",
		Long: `Start a total update of the agreement's consumer and wait for it.

While the consumer reports "replica busy" the update is restarted with
exponential backoff, up to --max-attempts times. Any other failure, or
--timeout elapsing, ends the command with exit status 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts, args[0], true)
		},
	}

	addWaitFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.NoWait, "no-wait", false, "start the update and return immediately")
	return cmd
}

func newAgreementWaitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "wait <agreement>",
		Short: "Wait for a running initialization to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts, args[0], false)
		},
	}

	addWaitFlags(cmd, opts)
	return cmd
}

func addWaitFlags(cmd *cobra.Command, opts *InitOptions) {
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", time.Second, "delay between status checks (must be positive)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 5, "attempts while the consumer is busy (at least 1)")
}

// waitOptions fills flags left unset from the config file. Values the
// poller would otherwise replace with its defaults are rejected.
func (o *InitOptions) waitOptions(cmd *cobra.Command) (*ldapclient.InitWaitOptions, error) {
	waitOpts := ldapclient.DefaultInitWaitOptions()
	waitOpts.PollInterval = o.PollInterval
	waitOpts.Timeout = o.Timeout
	waitOpts.MaxAttempts = o.MaxAttempts

	if o.Config != nil {
		flags := cmd.Flags()
		if !flags.Changed("poll-interval") {
			waitOpts.PollInterval = o.Config.Init.PollInterval
		}
		if !flags.Changed("timeout") {
			waitOpts.Timeout = o.Config.Init.Timeout
		}
		if !flags.Changed("max-attempts") {
			waitOpts.MaxAttempts = o.Config.Init.MaxAttempts
		}
	}

	switch {
	case waitOpts.PollInterval <= 0:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("poll interval must be positive, got %s", waitOpts.PollInterval))
	case waitOpts.Timeout < 0:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("timeout cannot be negative, got %s", waitOpts.Timeout))
	case waitOpts.MaxAttempts < 1:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("max attempts must be at least 1, got %d", waitOpts.MaxAttempts))
	}
	return waitOpts, nil
}

func runInit(cmd *cobra.Command, opts *InitOptions, arg string, start bool) error {
	waitOpts, err := opts.waitOptions(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sess, err := opts.open(ctx, "")
	if err != nil {
		return err
	}
	defer opts.closeSession(sess)

	dn, err := agreementDN(ctx, sess, arg)
	if err != nil {
		return err
	}

	if start && opts.NoWait {
		if err := sess.Agreements.StartAsync(ctx, dn); err != nil {
			return lookupError("failed to start initialization", err)
		}
		opts.logger().Info("initialization started", "dn", dn)
		return opts.printer(cmd).Print(actionResult{DN: dn, Action: "init_started"}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "initialization started: %s\n", dn)
			return err
		})
	}

	opts.logger().Debug("waiting for initialization", "dn", dn,
		"poll_interval", waitOpts.PollInterval, "timeout", waitOpts.Timeout, "max_attempts", waitOpts.MaxAttempts)

	var status *ldapclient.InitStatus
	if start {
		status, err = sess.Agreements.StartAndWait(ctx, dn, waitOpts)
	} else {
		status, err = sess.Agreements.WaitInit(ctx, dn, waitOpts)
	}

	if status != nil {
		if printErr := opts.printer(cmd).Print(status, func(w io.Writer) error {
			return renderInitStatus(w, status)
		}); printErr != nil {
			return printErr
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return WrapExitError(ExitFailure, "initialization timed out", err)
	case ldapclient.IsNotFoundError(err):
		return WrapExitError(ExitCommandError, "agreement not found", err)
	default:
		return WrapExitError(ExitFailure, "initialization failed", err)
	}
}

// actionResult reports a command that changes an agreement.
type actionResult struct {
	DN       string `json:"dn" yaml:"dn"`
	Action   string `json:"action" yaml:"action"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

func newAgreementStopCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <agreement>",
		Short: "Pause replication by setting a schedule that never runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			dn, err := agreementDN(ctx, sess, args[0])
			if err != nil {
				return err
			}
			if err := sess.Agreements.Stop(ctx, dn); err != nil {
				return lookupError("failed to stop replication", err)
			}
			return opts.printer(cmd).Print(actionResult{DN: dn, Action: "stop", Schedule: ldapclient.ScheduleStop}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "replication stopped: %s\n", dn)
				return err
			})
		},
	}
}

func newAgreementRestartCommand(opts *RootOptions) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "restart <agreement>",
		Short: "Resume replication with a new schedule",
		Long: `Replace the agreement's schedule. Without --schedule the schedule is
removed and the agreement replicates continuously.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := ldapclient.ValidateSchedule(schedule); err != nil {
				return WrapExitError(ExitCommandError, "invalid schedule", err)
			}

			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			dn, err := agreementDN(ctx, sess, args[0])
			if err != nil {
				return err
			}
			if err := sess.Agreements.Restart(ctx, dn, schedule); err != nil {
				return lookupError("failed to restart replication", err)
			}
			return opts.printer(cmd).Print(actionResult{DN: dn, Action: "restart", Schedule: schedule}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "replication restarted: %s\n", dn)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", `replication window "HHMM-HHMM DAYS", e.g. "0000-2359 0123456"`)
	return cmd
}

// changesResult reports the changes an agreement has sent since startup.
type changesResult struct {
	DN          string `json:"dn" yaml:"dn"`
	ChangesSent int    `json:"changes_sent" yaml:"changes_sent"`
}

func newAgreementChangesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "changes <agreement>",
		Short: "Show the number of changes sent since startup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := opts.open(ctx, "")
			if err != nil {
				return err
			}
			defer opts.closeSession(sess)

			dn, err := agreementDN(ctx, sess, args[0])
			if err != nil {
				return err
			}
			n, err := sess.Agreements.Changes(ctx, dn)
			if err != nil {
				return lookupError("failed to read changes sent", err)
			}
			return opts.printer(cmd).Print(changesResult{DN: dn, ChangesSent: n}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, strconv.Itoa(n))
				return err
			})
		},
	}
}

// agreementDN returns arg when it is a DN, otherwise the DN of the one
// agreement whose cn is arg.
func agreementDN(ctx context.Context, sess *ldapclient.ProviderData, arg string) (string, error) {
	if ldapclient.IsDN(arg) {
		return arg, nil
	}

	dns, err := sess.Agreements.ListDNs(ctx, fmt.Sprintf("(cn=%s)", ldap.EscapeFilter(arg)))
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to look up agreement "+arg, err)
	}
	switch len(dns) {
	case 0:
		return "", NewExitError(ExitCommandError, fmt.Sprintf("no agreement named %q", arg))
	case 1:
		return dns[0], nil
	default:
		return "", NewExitError(ExitCommandError, fmt.Sprintf("agreement name %q matches %d agreements, give a DN", arg, len(dns)))
	}
}

// lookupError maps a missing entry to a command error and anything else to a failure.
func lookupError(message string, err error) error {
	if ldapclient.IsNotFoundError(err) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

func renderAgreements(w io.Writer, agmts []*ldapclient.Agreement) error {
	rows := make([][]string, 0, len(agmts))
	for _, a := range agmts {
		rows = append(rows, []string{
			a.CN,
			fmt.Sprintf("%s:%d", a.ConsumerHost, a.ConsumerPort),
			a.Suffix,
			dash(a.Schedule),
			a.DN,
		})
	}
	return table(w, []string{"NAME", "CONSUMER", "SUFFIX", "SCHEDULE", "DN"}, rows)
}

func renderInitStatus(w io.Writer, status *ldapclient.InitStatus) error {
	if _, err := fmt.Fprintf(w, "%s: %s\n", status.State, status.DN); err != nil {
		return err
	}
	if status.Raw != "" {
		if _, err := fmt.Fprintf(w, "  %s\n", status.Raw); err != nil {
			return err
		}
	}
	return nil
}
