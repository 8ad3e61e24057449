package ldap

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	subsystemLDAP        = "ldap"
	subsystemReplication = "replication"
	subsystemPool        = "pool"
	subsystemKerberos    = "kerberos"
)

var subsystems = []string{subsystemLDAP, subsystemReplication, subsystemPool, subsystemKerberos}

// WithSubsystems registers this package's logging subsystems on ctx. Each
// subsystem level follows TF_LOG_PROVIDER_DIRSRV_<SUBSYSTEM> unless options
// override it.
func WithSubsystems(ctx context.Context, options tflog.Options) context.Context {
	for _, name := range subsystems {
		opts := slices.Concat(tflog.Options{tflog.WithLevelFromEnv("TF_LOG_PROVIDER_DIRSRV_" + strings.ToUpper(name))}, options)
		ctx = tflog.NewSubsystem(ctx, name, opts...)
	}
	return ctx
}

type logFunc func(ctx context.Context, subsystem, msg string, fields ...map[string]any)

// eventLevels sets the level of named pool and Kerberos events. Unlisted
// events log at trace.
var eventLevels = map[string]logFunc{
	"pool_initialized":  tflog.SubsystemDebug,
	"server_failover":   tflog.SubsystemWarn,
	"connection_failed": tflog.SubsystemWarn,

	"health_check_failed":    tflog.SubsystemWarn,
	"pool_creation_failed":   tflog.SubsystemError,
	"all_connections_failed": tflog.SubsystemError,

	"keytab_loaded":             tflog.SubsystemInfo,
	"credentials_cached":        tflog.SubsystemInfo,
	"ticket_acquired":           tflog.SubsystemInfo,
	"ticket_acquisition_failed": tflog.SubsystemError,
	"authentication_failed":     tflog.SubsystemError,
}

func logEvent(ctx context.Context, subsystem, msg, event string, fields map[string]any) {
	out := make(map[string]any, len(fields)+1)
	maps.Copy(out, fields)
	out["event"] = event

	log, ok := eventLevels[event]
	if !ok {
		log = tflog.SubsystemTrace
	}
	log(ctx, subsystem, msg, out)
}

// LogPoolEvent logs a connection pool event.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	logEvent(ctx, subsystemPool, "Pool event", event, fields)
}

// LogKerberosEvent logs a Kerberos event.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	logEvent(ctx, subsystemKerberos, "Kerberos event", event, fields)
}

// LogOperation runs fn, logging its start and its outcome with timing.
// fields is updated with the operation name, duration and any error.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["operation"] = operation
	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	start := time.Now()
	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", fields)
		return err
	}
	tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	return nil
}

// LogLDAPError logs err with its result code, matched DN and the server's
// diagnostic message when it is a directory result.
func LogLDAPError(ctx context.Context, subsystem, operation string, err error, fields map[string]any) {
	out := SanitizeFields(fields)
	out["operation"] = operation
	out["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		out["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			out["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			out["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", out)
}

const redacted = "[REDACTED]"

// sensitiveKeys are lower-cased field and attribute names whose values
// never reach the logs. nsds5ReplicaCredentials holds the agreement's bind
// password in clear text.
var sensitiveKeys = map[string]bool{
	"password":                 true,
	"bind_password":            true,
	"bindpw":                   true,
	"secret":                   true,
	"token":                    true,
	"credentials":              true,
	"userpassword":             true,
	"nsds5replicacredentials":  true,
	"nsmultiplexorcredentials": true,
	"nsslapd-rootpw":           true,
}

// sensitiveText marks string values that embed a credential.
var sensitiveText = []string{"password=", "userpassword:", "credentials=", "secret="}

func isSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

func isSensitiveText(value string) bool {
	lower := strings.ToLower(value)
	return slices.ContainsFunc(sensitiveText, func(s string) bool { return strings.Contains(lower, s) })
}

// SanitizeFields returns a copy of fields with credentials redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); isSensitiveKey(k) || (ok && isSensitiveText(s)) {
			v = redacted
		}
		out[k] = v
	}
	return out
}

// SanitizeAttributes returns a copy of entry attributes with credentials redacted.
func SanitizeAttributes(attrs map[string][]string) map[string][]string {
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		if isSensitiveKey(k) {
			v = []string{redacted}
		}
		out[k] = v
	}
	return out
}

// LogResourceOperation logs the start of a Terraform resource operation
// and returns a func logging its outcome.
func LogResourceOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logLifecycle(ctx, "resource", resource, operation, fields)
}

// LogDataSourceOperation logs the start of a Terraform data source read
// and returns a func logging its outcome.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	return logLifecycle(ctx, "data_source", dataSource, operation, fields)
}

func logLifecycle(ctx context.Context, kind, name, operation string, fields map[string]any) func(error) {
	start := time.Now()
	with := func(extra map[string]any) map[string]any {
		out := SanitizeFields(fields)
		out[kind] = name
		out["operation"] = operation
		maps.Copy(out, extra)
		return out
	}

	tflog.SubsystemDebug(ctx, "provider", "Starting "+strings.ReplaceAll(kind, "_", " ")+" operation", with(nil))

	return func(err error) {
		out := with(map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"has_error":   err != nil,
		})
		if err != nil {
			out["error"] = err.Error()
			tflog.SubsystemError(ctx, "provider", "Operation failed", out)
			return
		}
		tflog.SubsystemDebug(ctx, "provider", "Operation completed", out)
	}
}
