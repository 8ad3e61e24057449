package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MappingTree is a suffix entry under cn=mapping tree,cn=config.
type MappingTree struct {
	DN           string
	Suffix       string
	State        string
	Backends     []string
	ParentSuffix string
}

var mappingTreeAttributes = []string{"cn", "nsslapd-state", "nsslapd-backend", "nsslapd-parent-suffix"}

// MappingTreeManager handles suffix (mapping tree) entries.
type MappingTreeManager struct {
	client  Client
	timeout time.Duration
}

// NewMappingTreeManager creates a new mapping tree manager.
func NewMappingTreeManager(client Client) *MappingTreeManager {
	return &MappingTreeManager{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// SetTimeout sets the LDAP operation timeout.
func (m *MappingTreeManager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// Get finds the mapping tree entry for suffix whichever way its cn was written.
func (m *MappingTreeManager) Get(ctx context.Context, suffix string) (*MappingTree, error) {
	if suffix == "" {
		return nil, fmt.Errorf("suffix cannot be empty")
	}

	result, err := m.client.Search(ctx, &SearchRequest{
		BaseDN:     DNMappingTree,
		Scope:      ScopeSingleLevel,
		Filter:     SuffixFilter(suffix),
		Attributes: mappingTreeAttributes,
		TimeLimit:  m.timeout,
	})
	if err != nil {
		return nil, WrapErrorWithDN("get_mapping_tree", suffix, err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError("get_mapping_tree", suffix)
	}
	if len(result.Entries) > 1 {
		tflog.SubsystemWarn(ctx, subsystemLDAP, "Multiple mapping tree entries match suffix", map[string]any{
			"suffix":  suffix,
			"matches": len(result.Entries),
		})
	}

	entry := result.Entries[0]
	return &MappingTree{
		DN:           entry.DN,
		Suffix:       entry.GetEqualFoldAttributeValue("cn"),
		State:        entry.GetEqualFoldAttributeValue("nsslapd-state"),
		Backends:     entry.GetEqualFoldAttributeValues("nsslapd-backend"),
		ParentSuffix: entry.GetEqualFoldAttributeValue("nsslapd-parent-suffix"),
	}, nil
}

// Add creates the mapping tree entry routing suffix to backend. parent is
// set for sub-suffixes.
func (m *MappingTreeManager) Add(ctx context.Context, suffix, backend, parent string) (*MappingTree, error) {
	if backend == "" {
		return nil, fmt.Errorf("backend name cannot be empty")
	}

	nsuffix, err := NormalizeDN(suffix)
	if err != nil {
		return nil, WrapErrorWithDN("add_mapping_tree_validation", suffix, err)
	}
	if nsuffix == "" {
		return nil, fmt.Errorf("suffix cannot be empty")
	}

	mt := &MappingTree{
		DN:       fmt.Sprintf(`cn="%s",%s`, nsuffix, DNMappingTree),
		Suffix:   nsuffix,
		State:    "backend",
		Backends: []string{backend},
	}

	attributes := map[string][]string{
		"objectClass":     {"top", "extensibleObject", "nsMappingTree"},
		"cn":              {nsuffix},
		"nsslapd-state":   {mt.State},
		"nsslapd-backend": {backend},
	}
	if parent != "" {
		nparent, err := NormalizeDN(parent)
		if err != nil {
			return nil, WrapErrorWithDN("add_mapping_tree_validation", parent, err)
		}
		attributes["nsslapd-parent-suffix"] = []string{nparent}
		mt.ParentSuffix = nparent
	}

	tflog.SubsystemDebug(ctx, subsystemLDAP, "Adding mapping tree entry", map[string]any{
		"dn":      mt.DN,
		"backend": backend,
		"parent":  mt.ParentSuffix,
	})

	if err := m.client.Add(ctx, &AddRequest{DN: mt.DN, Attributes: attributes}); err != nil {
		return nil, WrapErrorWithDN("add_mapping_tree", mt.DN, err)
	}

	return mt, nil
}

// Delete removes the mapping tree entry of suffix.
func (m *MappingTreeManager) Delete(ctx context.Context, suffix string) error {
	mt, err := m.Get(ctx, suffix)
	if err != nil {
		return err
	}

	if err := m.client.Delete(ctx, mt.DN); err != nil {
		return WrapErrorWithDN("delete_mapping_tree", mt.DN, err)
	}
	return nil
}

// NamingContexts returns the suffixes published in the root DSE.
func (m *MappingTreeManager) NamingContexts(ctx context.Context) ([]string, error) {
	rootDSE, err := m.client.RootDSE(ctx)
	if err != nil {
		return nil, WrapError("naming_contexts", err)
	}
	return rootDSE.NamingContexts, nil
}
