package ldap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Transport values of nsds5replicatransportinfo.
const (
	TransportLDAP = "LDAP"
	TransportSSL  = "SSL"
	TransportTLS  = "TLS"
)

// AgreementRequest describes a replication agreement from this server to a consumer.
type AgreementRequest struct {
	Suffix            string
	ConsumerHost      string
	ConsumerPort      int `default:"389"`
	ConsumerSSLPort   int
	BindDN            string
	BindPassword      string
	CNFormat          string `default:"meTo_$host:$port"`
	DescriptionFormat string `default:"me to $host:$port"`
	Timeout           int    `default:"120"`
	BindMethod        string `default:"simple"`
	StartTLS          bool
	Schedule          string
	AutoInit          bool
	Fractional        []string
	StripAttrs        []string
}

// AgreementUpdate changes an existing agreement. Nil fields are left untouched.
// An empty Schedule removes the schedule; empty slices remove the attribute.
type AgreementUpdate struct {
	BindDN       *string
	BindPassword *string
	Timeout      *int
	Schedule     *string
	Fractional   []string
	StripAttrs   []string
}

// Agreement is an nsds5ReplicationAgreement entry.
type Agreement struct {
	DN           string   `json:"dn" yaml:"dn"`
	CN           string   `json:"cn" yaml:"cn"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Suffix       string   `json:"suffix" yaml:"suffix"`
	ConsumerHost string   `json:"consumer_host" yaml:"consumer_host"`
	ConsumerPort int      `json:"consumer_port" yaml:"consumer_port"`
	Transport    string   `json:"transport" yaml:"transport"`
	BindDN       string   `json:"bind_dn" yaml:"bind_dn"`
	BindMethod   string   `json:"bind_method" yaml:"bind_method"`
	Timeout      int      `json:"timeout" yaml:"timeout"`
	Schedule     string   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Fractional   []string `json:"fractional,omitempty" yaml:"fractional,omitempty"`
	StripAttrs   []string `json:"strip_attrs,omitempty" yaml:"strip_attrs,omitempty"`
}

var agreementAttributes = []string{
	"cn", "description", "nsds5replicaroot", "nsds5replicahost", "nsds5replicaport",
	"nsds5replicatransportinfo", "nsds5replicabinddn", "nsds5replicabindmethod",
	"nsds5replicatimeout", AttrUpdateSchedule, "nsDS5ReplicatedAttributeList", "nsds5ReplicaStripAttrs",
}

// statusAttributes are read by Status, in report order after cn.
var statusAttributes = []string{
	"cn", AttrBeginReplicaRefresh, AttrUpdateInProgress, AttrLastInitStatus,
	AttrLastInitStart, AttrLastInitEnd, AttrReapActive, AttrLastUpdateStart,
	AttrLastUpdateEnd, AttrChangesSent, AttrLastUpdateStatus, AttrChangesSkipped,
	AttrReplicaHost, AttrReplicaPort,
}

// AgreementManager handles replication agreements and their initialization.
type AgreementManager struct {
	client   Client
	replicas *ReplicaManager
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewAgreementManager creates an agreement manager. replicas resolves the
// replica entry agreements are created under.
func NewAgreementManager(client Client, replicas *ReplicaManager) *AgreementManager {
	if replicas == nil {
		replicas = NewReplicaManager(client, nil)
	}
	return &AgreementManager{
		client:   client,
		replicas: replicas,
		timeout:  30 * time.Second,
		sleep:    sleepContext,
	}
}

// SetTimeout sets the LDAP operation timeout.
func (am *AgreementManager) SetTimeout(timeout time.Duration) {
	am.timeout = timeout
}

// DefaultAgreementCNFormat names agreements after their consumer.
const DefaultAgreementCNFormat = "meTo_$host:$port"

// AgreementName renders the cn an agreement created with format would get.
// An empty format uses DefaultAgreementCNFormat.
func AgreementName(format, host string, port int) string {
	if format == "" {
		format = DefaultAgreementCNFormat
	}
	return expandAgreementTemplate(format, host, port)
}

// expandAgreementTemplate substitutes $host and $port (or ${host}, ${port}).
func expandAgreementTemplate(format, host string, port int) string {
	return strings.NewReplacer(
		"${host}", host,
		"${port}", strconv.Itoa(port),
		"$host", host,
		"$port", strconv.Itoa(port),
	).Replace(format)
}

// ValidateAgreementRequest fills defaults and checks required fields.
func (am *AgreementManager) ValidateAgreementRequest(req *AgreementRequest) error {
	if req == nil {
		return fmt.Errorf("agreement request cannot be nil")
	}
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("failed to apply agreement defaults: %w", err)
	}

	switch {
	case req.Suffix == "":
		return fmt.Errorf("suffix is required")
	case req.ConsumerHost == "":
		return fmt.Errorf("consumer host is required")
	case req.BindDN == "" || req.BindPassword == "":
		return fmt.Errorf("replication bind DN and password are required")
	}

	if req.Schedule != "" {
		if err := ValidateSchedule(req.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Add creates an agreement under the replica of req.Suffix.
func (am *AgreementManager) Add(ctx context.Context, req *AgreementRequest) (*Agreement, error) {
	if err := am.ValidateAgreementRequest(req); err != nil {
		return nil, WrapError("add_agreement_validation", err)
	}

	nsuffix, err := NormalizeDN(req.Suffix)
	if err != nil {
		return nil, WrapErrorWithDN("add_agreement_validation", req.Suffix, err)
	}

	replicas, err := am.replicas.List(ctx, nsuffix)
	if err != nil {
		return nil, err
	}
	if len(replicas) == 0 {
		return nil, NewLDAPError("add_agreement", fmt.Errorf("%w: %s", ErrNoReplica, req.Suffix))
	}
	replica := replicas[0]

	port := req.ConsumerPort
	if req.ConsumerSSLPort != 0 {
		port = req.ConsumerSSLPort
	}
	cn := expandAgreementTemplate(req.CNFormat, req.ConsumerHost, port)
	dn := fmt.Sprintf("cn=%s,%s", EscapeDNValue(cn), replica.DN)

	if _, err := am.Get(ctx, dn); err == nil {
		tflog.SubsystemWarn(ctx, subsystemReplication, "Agreement exists", map[string]any{"dn": dn})
		return nil, WrapErrorWithDN("add_agreement", dn,
			ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("agreement %s already exists", dn)))
	} else if !IsNotFoundError(err) {
		return nil, err
	}

	agmt := &Agreement{
		DN:           dn,
		CN:           cn,
		Description:  expandAgreementTemplate(req.DescriptionFormat, req.ConsumerHost, port),
		Suffix:       nsuffix,
		ConsumerHost: req.ConsumerHost,
		BindDN:       req.BindDN,
		BindMethod:   req.BindMethod,
		Timeout:      req.Timeout,
		Schedule:     req.Schedule,
		Fractional:   req.Fractional,
		StripAttrs:   req.StripAttrs,
	}

	switch {
	case req.StartTLS:
		agmt.Transport, agmt.ConsumerPort = TransportTLS, req.ConsumerPort
	case req.ConsumerSSLPort != 0:
		agmt.Transport, agmt.ConsumerPort = TransportSSL, req.ConsumerSSLPort
	default:
		agmt.Transport, agmt.ConsumerPort = TransportLDAP, req.ConsumerPort
	}

	attributes := map[string][]string{
		"objectclass":               {"top", "nsds5replicationagreement"},
		"cn":                        {cn},
		"description":               {agmt.Description},
		"nsds5replicahost":          {req.ConsumerHost},
		"nsds5replicaport":          {strconv.Itoa(agmt.ConsumerPort)},
		"nsds5replicatransportinfo": {agmt.Transport},
		"nsds5replicatimeout":       {strconv.Itoa(req.Timeout)},
		"nsds5replicabinddn":        {req.BindDN},
		"nsds5replicacredentials":   {req.BindPassword},
		"nsds5replicabindmethod":    {req.BindMethod},
		"nsds5replicaroot":          {nsuffix},
	}
	if req.Schedule != "" {
		attributes[AttrUpdateSchedule] = []string{req.Schedule}
	}
	if req.AutoInit {
		attributes[AttrBeginReplicaRefresh] = []string{"start"}
	}
	if len(req.Fractional) > 0 {
		attributes["nsDS5ReplicatedAttributeList"] = req.Fractional
	}
	if len(req.StripAttrs) > 0 {
		attributes["nsds5ReplicaStripAttrs"] = req.StripAttrs
	}

	err = LogOperation(ctx, subsystemReplication, "add_agreement", map[string]any{
		"dn":        dn,
		"consumer":  fmt.Sprintf("%s:%d", req.ConsumerHost, agmt.ConsumerPort),
		"transport": agmt.Transport,
		"auto_init": req.AutoInit,
	}, func() error {
		return am.client.Add(ctx, &AddRequest{DN: dn, Attributes: attributes})
	})
	if err != nil {
		return nil, WrapErrorWithDN("add_agreement", dn, err)
	}

	return agmt, nil
}

// List returns the agreements matching filter (ANDed with the agreement
// objectclass). attrs defaults to cn.
func (am *AgreementManager) List(ctx context.Context, filter string, attrs []string) ([]*ldap.Entry, error) {
	if len(attrs) == 0 {
		attrs = []string{"cn"}
	}
	realFilter := "(objectclass=nsds5ReplicationAgreement)"
	if filter != "" {
		realFilter = fmt.Sprintf("(&%s%s)", realFilter, filter)
	}

	result, err := am.client.Search(ctx, &SearchRequest{
		BaseDN:     DNMappingTree,
		Scope:      ScopeWholeSubtree,
		Filter:     realFilter,
		Attributes: attrs,
		TimeLimit:  am.timeout,
	})
	if err != nil {
		return nil, WrapError("list_agreements", err)
	}
	return result.Entries, nil
}

// ListDNs returns the DNs of the agreements matching filter.
func (am *AgreementManager) ListDNs(ctx context.Context, filter string) ([]string, error) {
	found, err := am.List(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	dns := make([]string, 0, len(found))
	for _, e := range found {
		dns = append(dns, e.DN)
	}
	return dns, nil
}

// ListAgreements returns parsed agreements matching filter.
func (am *AgreementManager) ListAgreements(ctx context.Context, filter string) ([]*Agreement, error) {
	found, err := am.List(ctx, filter, agreementAttributes)
	if err != nil {
		return nil, err
	}
	agmts := make([]*Agreement, 0, len(found))
	for _, e := range found {
		agmts = append(agmts, agreementFromEntry(e))
	}
	return agmts, nil
}

// readAgreement reads dn with attrs, mapping a missing entry to ErrNoSuchEntry.
func (am *AgreementManager) readAgreement(ctx context.Context, operation, dn string, attrs []string) (*ldap.Entry, error) {
	if dn == "" {
		return nil, fmt.Errorf("agreement DN cannot be empty")
	}

	result, err := am.client.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: attrs,
		TimeLimit:  am.timeout,
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return nil, NewNoSuchEntryError(operation, dn)
		}
		return nil, WrapErrorWithDN(operation, dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError(operation, dn)
	}
	return result.Entries[0], nil
}

// Get reads the agreement at dn.
func (am *AgreementManager) Get(ctx context.Context, dn string) (*Agreement, error) {
	entry, err := am.readAgreement(ctx, "get_agreement", dn, agreementAttributes)
	if err != nil {
		return nil, err
	}
	return agreementFromEntry(entry), nil
}

// Update applies changes to the agreement at dn and returns the new state.
func (am *AgreementManager) Update(ctx context.Context, dn string, upd *AgreementUpdate) (*Agreement, error) {
	if upd == nil {
		return nil, fmt.Errorf("agreement update cannot be nil")
	}
	if upd.Schedule != nil && *upd.Schedule != "" {
		if err := ValidateSchedule(*upd.Schedule); err != nil {
			return nil, WrapError("update_agreement_validation", err)
		}
	}

	req := &ModifyRequest{DN: dn, ReplaceAttributes: make(map[string][]string)}
	if upd.BindDN != nil {
		req.ReplaceAttributes["nsds5replicabinddn"] = []string{*upd.BindDN}
	}
	if upd.BindPassword != nil {
		req.ReplaceAttributes["nsds5replicacredentials"] = []string{*upd.BindPassword}
	}
	if upd.Timeout != nil {
		req.ReplaceAttributes["nsds5replicatimeout"] = []string{strconv.Itoa(*upd.Timeout)}
	}
	setOrDelete(req, AttrUpdateSchedule, upd.Schedule)
	setOrDeleteList(req, "nsDS5ReplicatedAttributeList", upd.Fractional)
	setOrDeleteList(req, "nsds5ReplicaStripAttrs", upd.StripAttrs)

	if len(req.ReplaceAttributes) > 0 || len(req.DeleteAttributes) > 0 {
		if err := am.modifyIgnoringMissing(ctx, req); err != nil {
			return nil, WrapErrorWithDN("update_agreement", dn, err)
		}
	}

	return am.Get(ctx, dn)
}

func setOrDeleteList(req *ModifyRequest, attr string, values []string) {
	switch {
	case values == nil:
	case len(values) == 0:
		req.DeleteAttributes = append(req.DeleteAttributes, attr)
	default:
		req.ReplaceAttributes[attr] = values
	}
}

// modifyIgnoringMissing treats noSuchAttribute as success when the request
// only deletes attributes.
func (am *AgreementManager) modifyIgnoringMissing(ctx context.Context, req *ModifyRequest) error {
	err := am.client.Modify(ctx, req)
	if err != nil && len(req.ReplaceAttributes) == 0 && len(req.AddAttributes) == 0 &&
		ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchAttribute) {
		return nil
	}
	return err
}

// Delete removes the agreement at dn.
func (am *AgreementManager) Delete(ctx context.Context, dn string) error {
	if err := am.client.Delete(ctx, dn); err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError("delete_agreement", dn)
		}
		return WrapErrorWithDN("delete_agreement", dn, err)
	}
	return nil
}

// AgreementStatus holds the monitoring attributes of an agreement.
type AgreementStatus struct {
	DN                  string `json:"dn" yaml:"dn"`
	CN                  string `json:"cn" yaml:"cn"`
	ReplicaHost         string `json:"replica_host" yaml:"replica_host"`
	ReplicaPort         string `json:"replica_port" yaml:"replica_port"`
	UpdateInProgress    string `json:"update_in_progress" yaml:"update_in_progress"`
	LastUpdateStart     string `json:"last_update_start" yaml:"last_update_start"`
	LastUpdateEnd       string `json:"last_update_end" yaml:"last_update_end"`
	ChangesSent         string `json:"changes_sent" yaml:"changes_sent"`
	ChangesSkipped      string `json:"changes_skipped" yaml:"changes_skipped"`
	LastUpdateStatus    string `json:"last_update_status" yaml:"last_update_status"`
	BeginReplicaRefresh string `json:"init_in_progress" yaml:"init_in_progress"`
	LastInitStart       string `json:"last_init_start" yaml:"last_init_start"`
	LastInitEnd         string `json:"last_init_end" yaml:"last_init_end"`
	LastInitStatus      string `json:"last_init_status" yaml:"last_init_status"`
	ReapActive          string `json:"reap_active" yaml:"reap_active"`
}

// String renders the multi-line status report. Missing values are blank.
func (s *AgreementStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status for %s agmt %s:%s\n", s.CN, s.ReplicaHost, s.ReplicaPort)
	fmt.Fprintf(&b, "Update in progress: %s\n", s.UpdateInProgress)
	fmt.Fprintf(&b, "Last Update Start: %s\n", s.LastUpdateStart)
	fmt.Fprintf(&b, "Last Update End: %s\n", s.LastUpdateEnd)
	fmt.Fprintf(&b, "Num. Changes Sent: %s\n", s.ChangesSent)
	fmt.Fprintf(&b, "Num. changes Skipped: %s\n", s.ChangesSkipped)
	fmt.Fprintf(&b, "Last update Status: %s\n", s.LastUpdateStatus)
	fmt.Fprintf(&b, "Init in progress: %s\n", s.BeginReplicaRefresh)
	fmt.Fprintf(&b, "Last Init Start: %s\n", s.LastInitStart)
	fmt.Fprintf(&b, "Last Init End: %s\n", s.LastInitEnd)
	fmt.Fprintf(&b, "Last Init Status: %s\n", s.LastInitStatus)
	fmt.Fprintf(&b, "Reap Active: %s\n", s.ReapActive)
	return b.String()
}

// Status reads the monitoring attributes of the agreement at dn.
func (am *AgreementManager) Status(ctx context.Context, dn string) (*AgreementStatus, error) {
	entry, err := am.readAgreement(ctx, "agreement_status", dn, statusAttributes)
	if err != nil {
		return nil, err
	}

	get := entry.GetEqualFoldAttributeValue
	return &AgreementStatus{
		DN:                  entry.DN,
		CN:                  get("cn"),
		ReplicaHost:         get(AttrReplicaHost),
		ReplicaPort:         get(AttrReplicaPort),
		UpdateInProgress:    get(AttrUpdateInProgress),
		LastUpdateStart:     get(AttrLastUpdateStart),
		LastUpdateEnd:       get(AttrLastUpdateEnd),
		ChangesSent:         get(AttrChangesSent),
		ChangesSkipped:      get(AttrChangesSkipped),
		LastUpdateStatus:    get(AttrLastUpdateStatus),
		BeginReplicaRefresh: get(AttrBeginReplicaRefresh),
		LastInitStart:       get(AttrLastInitStart),
		LastInitEnd:         get(AttrLastInitEnd),
		LastInitStatus:      get(AttrLastInitStatus),
		ReapActive:          get(AttrReapActive),
	}, nil
}

// Changes returns the number of changes the agreement has sent since startup.
func (am *AgreementManager) Changes(ctx context.Context, dn string) (int, error) {
	entry, err := am.readAgreement(ctx, "agreement_changes", dn, []string{AttrChangesSent})
	if err != nil {
		return 0, err
	}
	n, err := ParseChangesSent(entry.GetEqualFoldAttributeValue(AttrChangesSent))
	if err != nil {
		return 0, WrapErrorWithDN("agreement_changes", dn, err)
	}
	return n, nil
}

// ParseChangesSent sums nsds5replicaChangesSentSinceStartup. The value is
// either a bare count or space separated "rid:sent/skipped" tokens.
func ParseChangesSent(value string) (int, error) {
	items := strings.Fields(value)
	switch len(items) {
	case 0:
		return 0, nil
	case 1:
		if n, err := strconv.Atoi(items[0]); err == nil {
			return n, nil
		}
	}

	total := 0
	for _, item := range items {
		_, counts, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		sent, _, _ := strings.Cut(counts, "/")
		n, err := strconv.Atoi(sent)
		if err != nil {
			return 0, fmt.Errorf("invalid changes sent token %q: %w", item, err)
		}
		total += n
	}
	return total, nil
}

func agreementFromEntry(entry *ldap.Entry) *Agreement {
	get := entry.GetEqualFoldAttributeValue
	a := &Agreement{
		DN:           entry.DN,
		CN:           get("cn"),
		Description:  get("description"),
		Suffix:       get("nsds5replicaroot"),
		ConsumerHost: get("nsds5replicahost"),
		Transport:    get("nsds5replicatransportinfo"),
		BindDN:       get("nsds5replicabinddn"),
		BindMethod:   get("nsds5replicabindmethod"),
		Schedule:     get(AttrUpdateSchedule),
		Fractional:   entry.GetEqualFoldAttributeValues("nsDS5ReplicatedAttributeList"),
		StripAttrs:   entry.GetEqualFoldAttributeValues("nsds5ReplicaStripAttrs"),
	}
	a.ConsumerPort, _ = strconv.Atoi(get("nsds5replicaport"))
	a.Timeout, _ = strconv.Atoi(get("nsds5replicatimeout"))
	return a
}
