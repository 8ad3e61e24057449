package ldap

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	// pagedSearchPageSize stays below the default nsslapd-sizelimit of 2000.
	pagedSearchPageSize = 1000

	pagedSearchMaxDuration = 30 * time.Minute
	pagedSearchMaxPages    = 1000
)

// rootDSEAttributes are read from the root DSE by RootDSE.
var rootDSEAttributes = []string{
	"namingContexts",
	"defaultNamingContext",
	"vendorName",
	"vendorVersion",
	"supportedLDAPVersion",
	"supportedSASLMechanisms",
	"supportedExtension",
}

// retryableErrorText matches errors without a result code, mostly from the
// transport, that are worth retrying on a fresh attempt.
var retryableErrorText = []string{
	"connection",
	"timeout",
	"network",
	"broken pipe",
	"bind must be completed",
}

// client is the pooled Client.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
}

// NewClient returns a Client backed by a connection pool. No connection is
// made until the first operation.
func NewClient(ctx context.Context, config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	fields := map[string]any{
		"domain":          config.Domain,
		"ldap_urls":       config.LDAPURLs,
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	}

	var pool ConnectionPool
	err := LogOperation(ctx, subsystemLDAP, "create_client", fields, func() (err error) {
		pool, err = NewConnectionPool(ctx, config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return newClientWithPool(pool, config), nil
}

func newClientWithPool(pool ConnectionPool, config *ConnectionConfig) *client {
	return &client{pool: pool, config: config}
}

// exec checks out a connection and runs fn on it under the retry policy.
func (c *client) exec(ctx context.Context, fn func(pc *PooledConnection) error) error {
	pc, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer pc.Close()

	return c.withRetry(ctx, func() error { return fn(pc) })
}

// Connect proves a connection can be made by reading the root DSE.
func (c *client) Connect(ctx context.Context) error {
	fields := map[string]any{"ldap_urls": c.config.LDAPURLs, "domain": c.config.Domain}
	return LogOperation(ctx, subsystemLDAP, "connection_test", fields, func() error {
		pc, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer pc.Close()
		return ping(pc.Conn())
	})
}

func (c *client) Close() error {
	return c.pool.Close()
}

// Bind authenticates a pooled connection as bindDN.
func (c *client) Bind(ctx context.Context, bindDN, password string) error {
	return c.exec(ctx, func(pc *PooledConnection) error {
		return pc.Conn().Bind(bindDN, password)
	})
}

// BindWithConfig authenticates a pooled connection with the configured
// method.
func (c *client) BindWithConfig(ctx context.Context) error {
	if !c.config.HasAuthentication() {
		return errors.New("no authentication configuration available")
	}

	fields := map[string]any{
		"auth_method": c.config.GetAuthMethod().String(),
		"bind_dn":     c.config.BindDN,
	}
	return LogOperation(ctx, subsystemLDAP, "authentication", fields, func() error {
		return c.exec(ctx, func(pc *PooledConnection) error {
			return authenticate(ctx, pc.Conn(), c.config, pc.ServerInfo())
		})
	})
}

// authenticate binds conn with the configured method. The pool uses it for
// every new connection.
func authenticate(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	method := cfg.GetAuthMethod()
	if method == AuthMethodAnonymous {
		return nil
	}

	start := time.Now()
	var err error
	switch method {
	case AuthMethodSimpleBind:
		if cfg.Password == "" {
			err = conn.UnauthenticatedBind(cfg.BindDN)
		} else {
			err = conn.Bind(cfg.BindDN, cfg.Password)
		}
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, conn, cfg, server)
	case AuthMethodExternal:
		// ldapi:// autobind maps the process owner to a DN; over TLS the
		// client certificate is mapped by the certmap.
		err = conn.ExternalBind()
	default:
		err = fmt.Errorf("unsupported authentication method: %s", method)
	}

	fields := map[string]any{
		"auth_method": method.String(),
		"bind_dn":     cfg.BindDN,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		LogLDAPError(ctx, subsystemLDAP, "bind", err, fields)
		return err
	}
	tflog.SubsystemDebug(ctx, subsystemLDAP, "Authentication successful", fields)
	return nil
}

// toLDAP builds the wire request. A non-nil paging control clears the
// size limit, which the server applies per page otherwise.
func (r *SearchRequest) toLDAP(paging *ldap.ControlPaging) *ldap.SearchRequest {
	sizeLimit := r.SizeLimit
	var controls []ldap.Control
	if paging != nil {
		sizeLimit = 0
		controls = []ldap.Control{paging}
	}
	return ldap.NewSearchRequest(
		r.BaseDN,
		int(r.Scope),
		int(r.DerefAliases),
		sizeLimit,
		int(r.TimeLimit.Seconds()),
		false,
		r.Filter,
		r.Attributes,
		controls,
	)
}

func (r *SearchRequest) logFields() map[string]any {
	return map[string]any{
		"base_dn":    r.BaseDN,
		"scope":      r.Scope.String(),
		"filter":     r.Filter,
		"attributes": r.Attributes,
		"size_limit": r.SizeLimit,
	}
}

// Search runs a single search. A missing base entry is logged at debug
// level since callers use it to test for existence.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	start := time.Now()
	var result *ldap.SearchResult
	err := c.exec(ctx, func(pc *PooledConnection) (err error) {
		result, err = pc.Conn().Search(req.toLDAP(nil))
		return err
	})

	fields := req.logFields()
	fields["duration_ms"] = time.Since(start).Milliseconds()
	switch {
	case IsNoSuchObjectError(err):
		tflog.SubsystemDebug(ctx, subsystemLDAP, "Search base does not exist", fields)
		return nil, fmt.Errorf("search failed: %w", err)
	case err != nil:
		LogLDAPError(ctx, subsystemLDAP, "search", err, fields)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	fields["entries_found"] = len(result.Entries)
	tflog.SubsystemTrace(ctx, subsystemLDAP, "Search completed", fields)

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
		HasMore: req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit,
	}, nil
}

// SearchWithPaging runs a search with the simple paged results control
// (RFC 2696) on one connection, since the cookie is bound to it. When the
// page or time budget runs out the entries so far are returned with
// HasMore set.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	start := time.Now()
	fields := map[string]any{"base_dn": req.BaseDN, "filter": req.Filter, "scope": req.Scope.String()}

	pc, err := c.pool.Get(ctx)
	if err != nil {
		LogLDAPError(ctx, subsystemLDAP, "get_connection", err, fields)
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer pc.Close()

	paging := ldap.NewControlPaging(pagedSearchPageSize)
	out := &SearchResult{}

	for page := 1; ; page++ {
		if page > pagedSearchMaxPages || time.Since(start) > pagedSearchMaxDuration {
			fields["pages_completed"] = page - 1
			fields["entries_found"] = len(out.Entries)
			tflog.SubsystemError(ctx, subsystemLDAP, "Paged search exceeded limits, terminating", fields)
			out.HasMore = true
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			tflog.SubsystemWarn(ctx, subsystemLDAP, "Paged search cancelled", fields)
			out.HasMore = true
			return out, err
		}

		var result *ldap.SearchResult
		err := c.withRetry(ctx, func() (err error) {
			result, err = pc.Conn().Search(req.toLDAP(paging))
			return err
		})
		if err != nil {
			fields["page_number"] = page
			LogLDAPError(ctx, subsystemLDAP, "paged_search", err, fields)
			return nil, fmt.Errorf("paged search failed: %w", err)
		}

		out.Entries = append(out.Entries, result.Entries...)
		out.Total = len(out.Entries)
		tflog.SubsystemTrace(ctx, subsystemLDAP, "Completed search page", map[string]any{
			"page_number":     page,
			"entries_in_page": len(result.Entries),
			"total_entries":   out.Total,
		})

		next, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(next.Cookie) == 0 {
			fields["total_entries"] = out.Total
			fields["pages_processed"] = page
			fields["duration_ms"] = time.Since(start).Milliseconds()
			tflog.SubsystemDebug(ctx, subsystemLDAP, "Paged search completed", fields)
			return out, nil
		}
		paging.SetCookie(next.Cookie)
	}
}

// sortedKeys orders attribute names so requests and logs are deterministic.
func sortedKeys(attrs map[string][]string) []string {
	return slices.Sorted(maps.Keys(attrs))
}

// Add creates an entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return errors.New("add request cannot be nil")
	}

	add := ldap.NewAddRequest(req.DN, nil)
	for _, name := range sortedKeys(req.Attributes) {
		add.Attribute(name, req.Attributes[name])
	}

	tflog.SubsystemTrace(ctx, subsystemLDAP, "Adding entry", map[string]any{
		"dn":         req.DN,
		"attributes": SanitizeAttributes(req.Attributes),
	})
	return c.exec(ctx, func(pc *PooledConnection) error { return pc.Conn().Add(add) })
}

// Modify applies adds, then replaces, then deletes to an entry in one
// operation.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return errors.New("modify request cannot be nil")
	}

	mod := ldap.NewModifyRequest(req.DN, nil)
	for _, name := range sortedKeys(req.AddAttributes) {
		mod.Add(name, req.AddAttributes[name])
	}
	for _, name := range sortedKeys(req.ReplaceAttributes) {
		mod.Replace(name, req.ReplaceAttributes[name])
	}
	for _, name := range req.DeleteAttributes {
		mod.Delete(name, []string{})
	}

	tflog.SubsystemTrace(ctx, subsystemLDAP, "Modifying entry", map[string]any{
		"dn":      req.DN,
		"add":     SanitizeAttributes(req.AddAttributes),
		"replace": SanitizeAttributes(req.ReplaceAttributes),
		"delete":  req.DeleteAttributes,
	})
	return c.exec(ctx, func(pc *PooledConnection) error { return pc.Conn().Modify(mod) })
}

// ModifyDN renames or moves an entry.
func (c *client) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	switch {
	case req == nil:
		return errors.New("modify DN request cannot be nil")
	case req.DN == "":
		return errors.New("DN cannot be empty")
	case req.NewRDN == "":
		return errors.New("new RDN cannot be empty")
	}

	modDN := ldap.NewModifyDNRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior)
	return c.exec(ctx, func(pc *PooledConnection) error { return pc.Conn().ModifyDN(modDN) })
}

// Delete removes a leaf entry.
func (c *client) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return errors.New("DN cannot be empty")
	}
	return c.exec(ctx, func(pc *PooledConnection) error {
		return pc.Conn().Del(ldap.NewDelRequest(dn, nil))
	})
}

// Ping reads the root DSE on a pooled connection.
func (c *client) Ping(ctx context.Context) error {
	pc, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer pc.Close()
	return ping(pc.Conn())
}

func ping(conn *ldap.Conn) error {
	_, err := conn.Search(rootDSESearchRequest("namingContexts"))
	return err
}

func rootDSESearchRequest(attrs ...string) *ldap.SearchRequest {
	return ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 5, false, "(objectClass=*)", attrs, nil)
}

func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withRetry runs operation until it succeeds, fails permanently, or
// MaxRetries retries have been spent, backing off between attempts.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	backoff := c.config.InitialBackoff

	var err error
	for attempt := 0; ; attempt++ {
		if err = operation(); err == nil || !isRetryableLDAPError(err) {
			return err
		}
		if attempt == c.config.MaxRetries {
			break
		}

		tflog.SubsystemDebug(ctx, subsystemLDAP, "Retrying operation", map[string]any{
			"attempt":    attempt + 1,
			"max_retry":  c.config.MaxRetries,
			"backoff_ms": backoff.Milliseconds(),
			"last_error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
	}

	tflog.SubsystemError(ctx, subsystemLDAP, "Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    err.Error(),
	})
	return NewConnectionError("operation failed after retries", false, err)
}

// isRetryableLDAPError reports whether a raw operation error is worth
// retrying. Result codes follow resultClasses, so codes describing the
// request itself (noSuchObject, unwillingToPerform, alreadyExists) are
// never retried.
func isRetryableLDAPError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) && resultErr.ResultCode != ldap.ErrorNetwork {
		return resultClasses[resultErr.ResultCode].retryable
	}

	text := strings.ToLower(err.Error())
	return slices.ContainsFunc(retryableErrorText, func(s string) bool {
		return strings.Contains(text, s)
	})
}

// WhoAmI runs the "Who Am I?" extended operation (RFC 4532).
func (c *client) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	var result *ldap.WhoAmIResult
	err := c.exec(ctx, func(pc *PooledConnection) (err error) {
		result, err = pc.Conn().WhoAmI(nil)
		return err
	})
	switch {
	case err != nil:
		return nil, fmt.Errorf("WhoAmI operation failed: %w", err)
	case result == nil:
		return nil, errors.New("WhoAmI operation returned nil result")
	}
	return ParseAuthzID(result.AuthzID), nil
}

// ParseAuthzID splits an RFC 4513 authorization identity into its form.
// 389 Directory Server answers "dn:<bound dn>", or "" for anonymous.
func ParseAuthzID(authzID string) *WhoAmIResult {
	result := &WhoAmIResult{AuthzID: authzID, Format: "unknown"}
	if authzID == "" {
		result.Format = "empty"
		return result
	}

	kind, value, ok := strings.Cut(authzID, ":")
	if !ok {
		return result
	}
	switch strings.ToLower(kind) {
	case "dn":
		result.Format, result.DN = "dn", strings.TrimSpace(value)
	case "u":
		result.Format, result.User = "u", strings.TrimSpace(value)
	}
	return result
}

// RootDSE reads the root DSE.
func (c *client) RootDSE(ctx context.Context) (*RootDSE, error) {
	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: rootDSEAttributes,
		SizeLimit:  1,
		TimeLimit:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read root DSE: %w", err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError("root_dse", "")
	}
	return rootDSEFromEntry(result.Entries[0]), nil
}

func rootDSEFromEntry(entry *ldap.Entry) *RootDSE {
	one := entry.GetEqualFoldAttributeValue
	many := entry.GetEqualFoldAttributeValues
	return &RootDSE{
		NamingContexts:          many("namingContexts"),
		DefaultNamingContext:    one("defaultNamingContext"),
		VendorName:              one("vendorName"),
		VendorVersion:           one("vendorVersion"),
		SupportedLDAPVersion:    many("supportedLDAPVersion"),
		SupportedSASLMechanisms: many("supportedSASLMechanisms"),
		SupportedExtensions:     many("supportedExtension"),
	}
}
