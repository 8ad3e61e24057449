package ldap

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// DefaultChangelogName is the changelog directory name used when none is given.
const DefaultChangelogName = "changelogdb"

// Replica is a cn=replica entry below a suffix's mapping tree entry.
type Replica struct {
	DN                     string      `json:"dn" yaml:"dn"`
	Suffix                 string      `json:"suffix" yaml:"suffix"`
	ID                     int         `json:"id" yaml:"id"`
	Type                   int         `json:"type" yaml:"type"`
	Role                   ReplicaRole `json:"role" yaml:"role"`
	BindDNs                []string    `json:"bind_dns" yaml:"bind_dns"`
	Flags                  int         `json:"flags" yaml:"flags"`
	LegacyConsumer         bool        `json:"legacy_consumer" yaml:"legacy_consumer"`
	TombstonePurgeInterval string      `json:"tombstone_purge_interval,omitempty" yaml:"tombstone_purge_interval,omitempty"`
	PurgeDelay             string      `json:"purge_delay,omitempty" yaml:"purge_delay,omitempty"`
	Referrals              []string    `json:"referrals,omitempty" yaml:"referrals,omitempty"`
	CachedAt               time.Time   `json:"-" yaml:"-"`
}

// ReplicaRequest describes a replica to set up on an existing suffix.
type ReplicaRequest struct {
	Suffix                 string
	BindDNs                []string `default:"[\"cn=replication manager,cn=config\"]"`
	Role                   ReplicaRole
	ReplicaID              int
	TombstonePurgeInterval string
	PurgeDelay             string
	Referrals              []string
	Legacy                 bool
}

// ReplicaUpdate changes an existing replica. Nil fields are left untouched;
// an empty Referrals slice removes all referrals.
type ReplicaUpdate struct {
	BindDNs                []string
	Referrals              []string
	TombstonePurgeInterval *string
	PurgeDelay             *string
}

// Changelog is the cn=changelog5,cn=config entry.
type Changelog struct {
	DN  string `json:"dn" yaml:"dn"`
	Dir string `json:"dir" yaml:"dir"`
}

var replicaAttributes = []string{
	"cn", "nsds5replicaroot", "nsds5replicaid", "nsds5replicatype", "nsds5flags",
	"nsds5replicabinddn", "nsds5replicalegacyconsumer", "nsds5replicatombstonepurgeinterval",
	"nsds5replicapurgedelay", "nsds5replicareferral",
}

// ReplicaManager handles replica, changelog and RUV operations.
type ReplicaManager struct {
	client      Client
	mappingTree *MappingTreeManager
	cache       *ReplicaCache
	timeout     time.Duration
}

// NewReplicaManager creates a replica manager. cache may be nil.
func NewReplicaManager(client Client, cache *ReplicaCache) *ReplicaManager {
	if cache == nil {
		cache = NewReplicaCache()
	}
	return &ReplicaManager{
		client:      client,
		mappingTree: NewMappingTreeManager(client),
		cache:       cache,
		timeout:     30 * time.Second,
	}
}

// SetTimeout sets the LDAP operation timeout.
func (rm *ReplicaManager) SetTimeout(timeout time.Duration) {
	rm.timeout = timeout
	rm.mappingTree.SetTimeout(timeout)
}

// Cache returns the replica cache shared by this manager.
func (rm *ReplicaManager) Cache() *ReplicaCache {
	return rm.cache
}

// List returns the replicas of suffix, or every replica when suffix is empty.
func (rm *ReplicaManager) List(ctx context.Context, suffix string) ([]*Replica, error) {
	filter := "(objectclass=nsds5Replica)"
	if suffix != "" {
		nsuffix, err := NormalizeDN(suffix)
		if err != nil {
			return nil, WrapErrorWithDN("list_replicas_validation", suffix, err)
		}
		filter = fmt.Sprintf("(&(objectclass=nsds5Replica)(nsds5replicaroot=%s))", ldap.EscapeFilter(nsuffix))
	}

	result, err := rm.client.Search(ctx, &SearchRequest{
		BaseDN:     DNMappingTree,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: replicaAttributes,
		TimeLimit:  rm.timeout,
	})
	if err != nil {
		return nil, WrapError("list_replicas", err)
	}

	replicas := make([]*Replica, 0, len(result.Entries))
	for _, entry := range result.Entries {
		replicas = append(replicas, replicaFromEntry(entry))
	}
	return replicas, nil
}

// ReplicaDN returns the DN of the replica entry for suffix.
func (rm *ReplicaManager) ReplicaDN(ctx context.Context, suffix string) (string, error) {
	mt, err := rm.mappingTree.Get(ctx, suffix)
	if err != nil {
		return "", err
	}
	return "cn=replica," + mt.DN, nil
}

// Get reads the replica configured for suffix.
func (rm *ReplicaManager) Get(ctx context.Context, suffix string) (*Replica, error) {
	dn, err := rm.ReplicaDN(ctx, suffix)
	if err != nil {
		return nil, err
	}

	replica, err := rm.read(ctx, dn)
	if err != nil {
		return nil, err
	}
	_ = rm.cache.Put(replica)
	return replica, nil
}

func (rm *ReplicaManager) read(ctx context.Context, dn string) (*Replica, error) {
	result, err := rm.client.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=nsds5Replica)",
		Attributes: replicaAttributes,
		TimeLimit:  rm.timeout,
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return nil, NewNoSuchEntryError("get_replica", dn)
		}
		return nil, WrapErrorWithDN("get_replica", dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError("get_replica", dn)
	}
	return replicaFromEntry(result.Entries[0]), nil
}

// ValidateReplicaRequest fills defaults and checks the role and replica ID.
func (rm *ReplicaManager) ValidateReplicaRequest(req *ReplicaRequest) error {
	if req == nil {
		return fmt.Errorf("replica request cannot be nil")
	}
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("failed to apply replica defaults: %w", err)
	}
	if req.Suffix == "" {
		return fmt.Errorf("suffix is required")
	}
	if len(req.BindDNs) == 0 {
		return fmt.Errorf("at least one replication bind DN is required")
	}

	switch req.Role {
	case RoleMaster:
		if req.ReplicaID < MinReplicaID || req.ReplicaID > MaxMasterReplicaID {
			return fmt.Errorf("master replica ID must be between %d and %d, got %d",
				MinReplicaID, MaxMasterReplicaID, req.ReplicaID)
		}
	case RoleHub, RoleLeaf:
		if req.ReplicaID == 0 {
			req.ReplicaID = ReadOnlyReplicaID
		}
		if req.ReplicaID != ReadOnlyReplicaID {
			return fmt.Errorf("%s replicas must use replica ID %d, got %d", req.Role, ReadOnlyReplicaID, req.ReplicaID)
		}
	default:
		return fmt.Errorf("unknown replica role %d", req.Role)
	}
	return nil
}

// Add sets up a replica on an existing suffix. If the suffix already has a
// replica it is returned unchanged.
func (rm *ReplicaManager) Add(ctx context.Context, req *ReplicaRequest) (*Replica, error) {
	if err := rm.ValidateReplicaRequest(req); err != nil {
		return nil, WrapError("add_replica_validation", err)
	}

	nsuffix, err := NormalizeDN(req.Suffix)
	if err != nil {
		return nil, WrapErrorWithDN("add_replica_validation", req.Suffix, err)
	}

	dn, err := rm.ReplicaDN(ctx, nsuffix)
	if err != nil {
		return nil, err
	}

	existing, err := rm.read(ctx, dn)
	switch {
	case err == nil:
		tflog.SubsystemWarn(ctx, subsystemReplication, "Replica already set up for suffix", map[string]any{
			"suffix": nsuffix,
			"dn":     dn,
			"type":   existing.Type,
		})
		_ = rm.cache.Put(existing)
		return existing, nil
	case !IsNotFoundError(err):
		return nil, err
	}

	replica := &Replica{
		DN:                     dn,
		Suffix:                 nsuffix,
		ID:                     req.ReplicaID,
		Type:                   req.Role.ReplicaType(),
		Role:                   req.Role,
		BindDNs:                req.BindDNs,
		LegacyConsumer:         req.Legacy,
		TombstonePurgeInterval: req.TombstonePurgeInterval,
		PurgeDelay:             req.PurgeDelay,
		Referrals:              req.Referrals,
	}

	attributes := map[string][]string{
		"objectclass":                {"top", "nsds5replica", "extensibleobject"},
		"cn":                         {"replica"},
		"nsds5replicaroot":           {nsuffix},
		"nsds5replicaid":             {strconv.Itoa(replica.ID)},
		"nsds5replicatype":           {strconv.Itoa(replica.Type)},
		"nsds5replicalegacyconsumer": {onOff(req.Legacy)},
		"nsds5replicabinddn":         req.BindDNs,
	}
	// Suppliers and hubs keep a changelog and feed other replicas.
	if req.Role != RoleLeaf {
		attributes["nsds5flags"] = []string{"1"}
		replica.Flags = 1
	}
	if req.TombstonePurgeInterval != "" {
		attributes["nsds5replicatombstonepurgeinterval"] = []string{req.TombstonePurgeInterval}
	}
	if req.PurgeDelay != "" {
		attributes["nsds5ReplicaPurgeDelay"] = []string{req.PurgeDelay}
	}
	if len(req.Referrals) > 0 {
		attributes["nsds5ReplicaReferral"] = req.Referrals
	}

	err = LogOperation(ctx, subsystemReplication, "add_replica", map[string]any{
		"dn":   dn,
		"role": req.Role.String(),
		"rid":  replica.ID,
	}, func() error {
		return rm.client.Add(ctx, &AddRequest{DN: dn, Attributes: attributes})
	})
	if err != nil {
		return nil, WrapErrorWithDN("add_replica", dn, err)
	}

	_ = rm.cache.Put(replica)
	return replica, nil
}

// Update applies changes to the replica of suffix and returns the new state.
func (rm *ReplicaManager) Update(ctx context.Context, suffix string, upd *ReplicaUpdate) (*Replica, error) {
	if upd == nil {
		return nil, fmt.Errorf("replica update cannot be nil")
	}

	dn, err := rm.ReplicaDN(ctx, suffix)
	if err != nil {
		return nil, err
	}

	req := &ModifyRequest{DN: dn, ReplaceAttributes: make(map[string][]string)}
	if upd.BindDNs != nil {
		if len(upd.BindDNs) == 0 {
			return nil, fmt.Errorf("at least one replication bind DN is required")
		}
		req.ReplaceAttributes["nsds5replicabinddn"] = upd.BindDNs
	}
	if upd.Referrals != nil {
		if len(upd.Referrals) == 0 {
			req.DeleteAttributes = append(req.DeleteAttributes, "nsds5ReplicaReferral")
		} else {
			req.ReplaceAttributes["nsds5ReplicaReferral"] = upd.Referrals
		}
	}
	setOrDelete(req, "nsds5replicatombstonepurgeinterval", upd.TombstonePurgeInterval)
	setOrDelete(req, "nsds5ReplicaPurgeDelay", upd.PurgeDelay)

	if len(req.ReplaceAttributes) > 0 || len(req.DeleteAttributes) > 0 {
		if err := rm.client.Modify(ctx, req); err != nil {
			return nil, WrapErrorWithDN("update_replica", dn, err)
		}
	}

	replica, err := rm.read(ctx, dn)
	if err != nil {
		return nil, err
	}
	_ = rm.cache.Put(replica)
	return replica, nil
}

// setOrDelete replaces attr with *v, deletes it when *v is empty, and leaves it alone when v is nil.
func setOrDelete(req *ModifyRequest, attr string, v *string) {
	switch {
	case v == nil:
	case *v == "":
		req.DeleteAttributes = append(req.DeleteAttributes, attr)
	default:
		req.ReplaceAttributes[attr] = []string{*v}
	}
}

// Delete removes the replica of suffix.
func (rm *ReplicaManager) Delete(ctx context.Context, suffix string) error {
	dn, err := rm.ReplicaDN(ctx, suffix)
	if err != nil {
		return err
	}

	if err := rm.client.Delete(ctx, dn); err != nil {
		return WrapErrorWithDN("delete_replica", dn, err)
	}
	rm.cache.Delete(MustNormalizeDN(suffix))
	return nil
}

// RUV returns the replica update vector of suffix, read from the RUV
// tombstone entry, or from the replica entry when the tombstone is missing.
func (rm *ReplicaManager) RUV(ctx context.Context, suffix string) (*RUV, error) {
	nsuffix, err := NormalizeDN(suffix)
	if err != nil {
		return nil, WrapErrorWithDN("ruv_validation", suffix, err)
	}
	attrs := []string{AttrRUV, AttrRUVReplicaLastModified}

	result, err := rm.client.Search(ctx, &SearchRequest{
		BaseDN:     suffix,
		Scope:      ScopeWholeSubtree,
		Filter:     fmt.Sprintf("(&(nsUniqueID=%s)(objectclass=nsTombstone))", RUVTombstoneUniqueID),
		Attributes: attrs,
		TimeLimit:  rm.timeout,
	})
	if err != nil && !IsNoSuchObjectError(err) {
		return nil, WrapErrorWithDN("ruv", suffix, err)
	}
	if err == nil {
		for _, entry := range result.Entries {
			if values := entry.GetEqualFoldAttributeValues(AttrRUV); len(values) > 0 {
				return parseRUVEntry(entry)
			}
		}
	}

	dn := fmt.Sprintf("cn=replica,cn=%s,%s", EscapeMappingTreeValue(nsuffix), DNMappingTree)
	tflog.SubsystemWarn(ctx, subsystemReplication, "RUV tombstone not found, trying replica entry", map[string]any{
		"suffix": suffix,
		"dn":     dn,
	})

	result, err = rm.client.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: attrs,
		TimeLimit:  rm.timeout,
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return nil, NewNoSuchEntryError("ruv", suffix)
		}
		return nil, WrapErrorWithDN("ruv", dn, err)
	}
	for _, entry := range result.Entries {
		if values := entry.GetEqualFoldAttributeValues(AttrRUV); len(values) > 0 {
			return parseRUVEntry(entry)
		}
	}

	return nil, NewNoSuchEntryError("ruv", suffix)
}

func parseRUVEntry(entry *ldap.Entry) (*RUV, error) {
	ruv, err := ParseRUV(
		entry.GetEqualFoldAttributeValues(AttrRUV),
		entry.GetEqualFoldAttributeValues(AttrRUVReplicaLastModified),
	)
	if err != nil {
		return nil, WrapErrorWithDN("parse_ruv", entry.DN, err)
	}
	return ruv, nil
}

// Changelog creates the replication changelog. An absolute dbname is used as
// the directory; otherwise it is joined to dbdir. An existing changelog is
// returned as is.
func (rm *ReplicaManager) Changelog(ctx context.Context, dbdir, dbname string) (*Changelog, error) {
	if dbname == "" {
		dbname = DefaultChangelogName
	}
	dir := dbname
	if !filepath.IsAbs(dbname) {
		if dbdir == "" {
			return nil, fmt.Errorf("database directory is required for relative changelog name %q", dbname)
		}
		dir = filepath.Join(dbdir, dbname)
	}

	err := rm.client.Add(ctx, &AddRequest{
		DN: DNChangelog,
		Attributes: map[string][]string{
			"objectclass":          {"top", "extensibleobject"},
			"cn":                   {"changelog5"},
			"nsslapd-changelogdir": {dir},
		},
	})
	switch {
	case err == nil:
		return &Changelog{DN: DNChangelog, Dir: dir}, nil
	case IsAlreadyExistsError(err):
		tflog.SubsystemWarn(ctx, subsystemReplication, "Changelog already exists", map[string]any{
			"dn":            DNChangelog,
			"requested_dir": dir,
		})
		return rm.GetChangelog(ctx)
	default:
		return nil, WrapErrorWithDN("add_changelog", DNChangelog, err)
	}
}

// GetChangelog reads the replication changelog entry.
func (rm *ReplicaManager) GetChangelog(ctx context.Context) (*Changelog, error) {
	result, err := rm.client.Search(ctx, &SearchRequest{
		BaseDN:     DNChangelog,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: []string{"nsslapd-changelogdir"},
		TimeLimit:  rm.timeout,
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return nil, NewNoSuchEntryError("get_changelog", DNChangelog)
		}
		return nil, WrapErrorWithDN("get_changelog", DNChangelog, err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError("get_changelog", DNChangelog)
	}
	return &Changelog{
		DN:  result.Entries[0].DN,
		Dir: result.Entries[0].GetEqualFoldAttributeValue("nsslapd-changelogdir"),
	}, nil
}

// DeleteChangelog removes the replication changelog entry.
func (rm *ReplicaManager) DeleteChangelog(ctx context.Context) error {
	if err := rm.client.Delete(ctx, DNChangelog); err != nil {
		return WrapErrorWithDN("delete_changelog", DNChangelog, err)
	}
	return nil
}

func replicaFromEntry(entry *ldap.Entry) *Replica {
	r := &Replica{
		DN:                     entry.DN,
		Suffix:                 entry.GetEqualFoldAttributeValue("nsds5replicaroot"),
		BindDNs:                entry.GetEqualFoldAttributeValues("nsds5replicabinddn"),
		LegacyConsumer:         strings.EqualFold(entry.GetEqualFoldAttributeValue("nsds5replicalegacyconsumer"), "on"),
		TombstonePurgeInterval: entry.GetEqualFoldAttributeValue("nsds5replicatombstonepurgeinterval"),
		PurgeDelay:             entry.GetEqualFoldAttributeValue("nsds5replicapurgedelay"),
		Referrals:              entry.GetEqualFoldAttributeValues("nsds5replicareferral"),
	}
	r.ID, _ = strconv.Atoi(entry.GetEqualFoldAttributeValue("nsds5replicaid"))
	r.Type, _ = strconv.Atoi(entry.GetEqualFoldAttributeValue("nsds5replicatype"))
	r.Flags, _ = strconv.Atoi(entry.GetEqualFoldAttributeValue("nsds5flags"))

	switch {
	case r.Type == ReplicaTypeReadWrite:
		r.Role = RoleMaster
	case r.Flags&1 == 1:
		r.Role = RoleHub
	default:
		r.Role = RoleLeaf
	}
	return r
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
