package ldap

import (
	"context"
	"fmt"
	"time"
)

// DefaultReplicationManagerDN is the bind DN suppliers use unless told otherwise.
const DefaultReplicationManagerDN = "cn=replication manager,cn=config"

// BindDNEntry is a replication manager account.
type BindDNEntry struct {
	DN      string
	CN      string
	UID     string
	Created bool
}

// BindDNManager creates the accounts suppliers bind as.
type BindDNManager struct {
	client  Client
	timeout time.Duration
}

// NewBindDNManager creates a new bind DN manager.
func NewBindDNManager(client Client) *BindDNManager {
	return &BindDNManager{client: client, timeout: 30 * time.Second}
}

// SetupBindDN creates a person entry at dn with userPassword set to password.
// The cn (and uid, for uid= RDNs) is taken from the RDN. An existing entry
// is returned unchanged.
func (bm *BindDNManager) SetupBindDN(ctx context.Context, dn, password string) (*BindDNEntry, error) {
	if dn == "" {
		dn = DefaultReplicationManagerDN
	}
	if password == "" {
		return nil, NewLDAPError("setup_bind_dn_validation", fmt.Errorf("password is required"))
	}

	rdnType, rdnValue, err := FirstRDN(dn)
	if err != nil {
		return nil, WrapErrorWithDN("setup_bind_dn_validation", dn, err)
	}

	if existing, err := bm.Get(ctx, dn); err == nil {
		return existing, nil
	} else if !IsNotFoundError(err) {
		return nil, err
	}

	attributes := map[string][]string{
		"objectclass":  {"top", "person"},
		"cn":           {rdnValue},
		"sn":           {"bind dn pseudo user"},
		"userPassword": {password},
	}
	entry := &BindDNEntry{DN: dn, CN: rdnValue, Created: true}
	if rdnType == "uid" {
		attributes["objectclass"] = append(attributes["objectclass"], "inetOrgPerson")
		attributes["uid"] = []string{rdnValue}
		entry.UID = rdnValue
	}

	err = LogOperation(ctx, subsystemReplication, "setup_bind_dn", map[string]any{"dn": dn}, func() error {
		return bm.client.Add(ctx, &AddRequest{DN: dn, Attributes: attributes})
	})
	if err != nil {
		return nil, WrapErrorWithDN("setup_bind_dn", dn, err)
	}
	return entry, nil
}

// Get reads the bind DN entry.
func (bm *BindDNManager) Get(ctx context.Context, dn string) (*BindDNEntry, error) {
	result, err := bm.client.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: []string{"cn", "uid"},
		TimeLimit:  bm.timeout,
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return nil, NewNoSuchEntryError("get_bind_dn", dn)
		}
		return nil, WrapErrorWithDN("get_bind_dn", dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError("get_bind_dn", dn)
	}
	e := result.Entries[0]
	return &BindDNEntry{
		DN:  e.DN,
		CN:  e.GetEqualFoldAttributeValue("cn"),
		UID: e.GetEqualFoldAttributeValue("uid"),
	}, nil
}

// SetPassword replaces the userPassword of dn.
func (bm *BindDNManager) SetPassword(ctx context.Context, dn, password string) error {
	err := bm.client.Modify(ctx, &ModifyRequest{
		DN:                dn,
		ReplaceAttributes: map[string][]string{"userPassword": {password}},
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError("set_bind_dn_password", dn)
		}
		return WrapErrorWithDN("set_bind_dn_password", dn, err)
	}
	return nil
}

// Delete removes the bind DN entry.
func (bm *BindDNManager) Delete(ctx context.Context, dn string) error {
	if err := bm.client.Delete(ctx, dn); err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError("delete_bind_dn", dn)
		}
		return WrapErrorWithDN("delete_bind_dn", dn, err)
	}
	return nil
}
