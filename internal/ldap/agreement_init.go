package ldap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// InitState is the classified outcome of a total update (initialization).
type InitState int

const (
	InitInProgress InitState = iota
	InitSucceeded
	InitFailedBusy
	InitFailed
	InitUnknown
)

// String returns a short name for the state.
func (s InitState) String() string {
	switch s {
	case InitInProgress:
		return "in_progress"
	case InitSucceeded:
		return "succeeded"
	case InitFailedBusy:
		return "failed_busy"
	case InitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s InitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether polling should stop in this state.
func (s InitState) Terminal() bool {
	return s != InitInProgress
}

// InitStatus is one observation of an agreement's initialization.
type InitStatus struct {
	DN               string    `json:"dn" yaml:"dn"`
	State            InitState `json:"state" yaml:"state"`
	Raw              string    `json:"raw" yaml:"raw"` // nsds5ReplicaLastInitStatus as read
	Refreshing       bool      `json:"refreshing" yaml:"refreshing"`
	UpdateInProgress bool      `json:"update_in_progress" yaml:"update_in_progress"`
	LastInitStart    string    `json:"last_init_start,omitempty" yaml:"last_init_start,omitempty"`
	LastInitEnd      string    `json:"last_init_end,omitempty" yaml:"last_init_end,omitempty"`
}

// InitWaitOptions controls WaitInit and StartAndWait.
type InitWaitOptions struct {
	PollInterval   time.Duration `default:"1s"`
	Timeout        time.Duration // per WaitInit call; zero means until ctx is done
	MaxAttempts    int           `default:"5"`
	InitialBackoff time.Duration `default:"2s"`
	BackoffFactor  float64       `default:"2.0"`
	MaxBackoff     time.Duration `default:"1m"`
}

// DefaultInitWaitOptions returns the options used when nil is passed.
func DefaultInitWaitOptions() *InitWaitOptions {
	opts := &InitWaitOptions{}
	if err := defaults.Set(opts); err != nil {
		panic(err)
	}
	return opts
}

// withDefaults fills zero fields from the defaults and rejects values the
// poller cannot honor.
func (o *InitWaitOptions) withDefaults() (*InitWaitOptions, error) {
	if o == nil {
		return DefaultInitWaitOptions(), nil
	}
	filled := *o
	if err := defaults.Set(&filled); err != nil {
		return nil, err
	}

	switch {
	case filled.MaxAttempts < 1:
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidWaitOptions, filled.MaxAttempts)
	case filled.BackoffFactor < 1:
		return nil, fmt.Errorf("%w: backoff factor must be at least 1, got %g", ErrInvalidWaitOptions, filled.BackoffFactor)
	case filled.PollInterval < 0, filled.InitialBackoff < 0, filled.MaxBackoff < 0, filled.Timeout < 0:
		return nil, fmt.Errorf("%w: durations cannot be negative", ErrInvalidWaitOptions)
	}
	return &filled, nil
}

var initStatusAttributes = []string{
	"cn", AttrBeginReplicaRefresh, AttrUpdateInProgress, AttrLastInitStatus,
	AttrLastInitStart, AttrLastInitEnd,
}

var (
	initFailurePrefixes = []string{"Total update aborted", "Replication error", "Error"}
	ldapCodePrefixRegex = regexp.MustCompile(`^-?\d+ `)
)

// ClassifyInitStatus maps the refresh flag, update-in-progress flag and
// last init status text to an InitState.
func ClassifyInitStatus(refresh, inProgress, status string) InitState {
	switch {
	case refresh != "":
		return InitInProgress
	case status == "":
		return InitInProgress
	case strings.Contains(status, "replica busy"):
		return InitFailedBusy
	case strings.Contains(status, "Total update succeeded"):
		return InitSucceeded
	case strings.EqualFold(inProgress, "true"):
		return InitInProgress
	case isInitFailure(status):
		return InitFailed
	default:
		return InitUnknown
	}
}

func isInitFailure(status string) bool {
	for _, prefix := range initFailurePrefixes {
		if strings.HasPrefix(status, prefix) {
			return true
		}
	}
	return ldapCodePrefixRegex.MatchString(status)
}

// StartAsync asks the supplier to begin a total update of the consumer.
func (am *AgreementManager) StartAsync(ctx context.Context, dn string) error {
	tflog.SubsystemInfo(ctx, subsystemReplication, "Starting replica initialization", map[string]any{"dn": dn})

	err := am.client.Modify(ctx, &ModifyRequest{
		DN:            dn,
		AddAttributes: map[string][]string{AttrBeginReplicaRefresh: {"start"}},
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError("start_init", dn)
		}
		return WrapErrorWithDN("start_init", dn, err)
	}
	return nil
}

// CheckInit reads and classifies the initialization status of the agreement at dn.
func (am *AgreementManager) CheckInit(ctx context.Context, dn string) (*InitStatus, error) {
	entry, err := am.readAgreement(ctx, "check_init", dn, initStatusAttributes)
	if err != nil {
		return nil, err
	}

	get := entry.GetEqualFoldAttributeValue
	refresh := get(AttrBeginReplicaRefresh)
	inProgress := get(AttrUpdateInProgress)
	status := &InitStatus{
		DN:               dn,
		Raw:              get(AttrLastInitStatus),
		Refreshing:       refresh != "",
		UpdateInProgress: strings.EqualFold(inProgress, "true"),
		LastInitStart:    get(AttrLastInitStart),
		LastInitEnd:      get(AttrLastInitEnd),
	}
	status.State = ClassifyInitStatus(refresh, inProgress, status.Raw)

	fields := map[string]any{
		"dn":     dn,
		"state":  status.State.String(),
		"status": status.Raw,
	}
	switch status.State {
	case InitUnknown:
		tflog.SubsystemWarn(ctx, subsystemReplication, "Unrecognized replica init status", fields)
	case InitFailed, InitFailedBusy:
		tflog.SubsystemInfo(ctx, subsystemReplication, "Replica initialization failed", fields)
	default:
		tflog.SubsystemDebug(ctx, subsystemReplication, "Replica initialization status", fields)
	}

	return status, nil
}

// initError returns the error WaitInit reports for a terminal status, or nil on success.
func initError(status *InitStatus) error {
	switch status.State {
	case InitSucceeded:
		return nil
	case InitFailedBusy:
		return fmt.Errorf("%w: %s: %s", ErrReplicaBusy, status.DN, status.Raw)
	case InitFailed:
		return fmt.Errorf("%w: %s: %s", ErrInitFailed, status.DN, status.Raw)
	default:
		return fmt.Errorf("%w: %s: %q", ErrUnrecognizedInitStatus, status.DN, status.Raw)
	}
}

// WaitInit polls the agreement at dn until its initialization reaches a
// terminal state. It stops early when ctx is done or opts.Timeout elapses;
// the last observed status is returned along with the context error.
func (am *AgreementManager) WaitInit(ctx context.Context, dn string, opts *InitWaitOptions) (*InitStatus, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var last *InitStatus
	for {
		if err := am.sleep(ctx, opts.PollInterval); err != nil {
			return last, fmt.Errorf("waiting for initialization of %s: %w", dn, err)
		}

		status, err := am.CheckInit(ctx, dn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, fmt.Errorf("waiting for initialization of %s: %w", dn, ctxErr)
			}
			return last, err
		}
		last = status

		if status.State.Terminal() {
			return status, initError(status)
		}
	}
}

// StartAndWait starts a total update and waits for it, retrying with
// exponential backoff while the consumer reports "replica busy". Other
// failures are returned without retrying.
func (am *AgreementManager) StartAndWait(ctx context.Context, dn string, opts *InitWaitOptions) (*InitStatus, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	backoff := opts.InitialBackoff

	var status *InitStatus
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := am.StartAsync(ctx, dn); err != nil {
			return status, err
		}

		status, err = am.WaitInit(ctx, dn, opts)
		if !errors.Is(err, ErrReplicaBusy) {
			return status, err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		tflog.SubsystemWarn(ctx, subsystemReplication, "Consumer busy, retrying initialization", map[string]any{
			"dn":         dn,
			"attempt":    attempt,
			"backoff_ms": backoff.Milliseconds(),
		})
		if err := am.sleep(ctx, backoff); err != nil {
			return status, fmt.Errorf("retrying initialization of %s: %w", dn, err)
		}

		backoff = time.Duration(float64(backoff) * opts.BackoffFactor)
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}

	return status, fmt.Errorf("%w: %s: gave up after %d attempts", ErrReplicaBusy, dn, opts.MaxAttempts)
}

// Stop pauses replication by setting a schedule that never runs.
func (am *AgreementManager) Stop(ctx context.Context, dn string) error {
	tflog.SubsystemInfo(ctx, subsystemReplication, "Stopping replication", map[string]any{"dn": dn})
	return am.setSchedule(ctx, "stop_replication", dn, ScheduleStop)
}

// Restart replaces the agreement schedule. An empty schedule removes it,
// which makes the agreement replicate continuously.
func (am *AgreementManager) Restart(ctx context.Context, dn, schedule string) error {
	if err := ValidateSchedule(schedule); err != nil {
		return WrapError("restart_replication_validation", err)
	}
	tflog.SubsystemInfo(ctx, subsystemReplication, "Restarting replication", map[string]any{
		"dn":       dn,
		"schedule": schedule,
	})
	return am.setSchedule(ctx, "restart_replication", dn, schedule)
}

func (am *AgreementManager) setSchedule(ctx context.Context, operation, dn, schedule string) error {
	req := &ModifyRequest{DN: dn}
	if schedule == ScheduleAlways {
		req.DeleteAttributes = []string{AttrUpdateSchedule}
	} else {
		req.ReplaceAttributes = map[string][]string{AttrUpdateSchedule: {schedule}}
	}

	if err := am.modifyIgnoringMissing(ctx, req); err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError(operation, dn)
		}
		return WrapErrorWithDN(operation, dn, err)
	}
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
