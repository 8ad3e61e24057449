package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Backend is an ldbm or chaining database instance.
type Backend struct {
	DN         string              `json:"dn" yaml:"dn"`
	Name       string              `json:"name" yaml:"name"`
	Suffix     string              `json:"suffix" yaml:"suffix"`
	Chaining   bool                `json:"chaining" yaml:"chaining"`
	ReadOnly   bool                `json:"readonly" yaml:"readonly"`
	FarmURLs   []string            `json:"farm_urls,omitempty" yaml:"farm_urls,omitempty"`
	BindDN     string              `json:"bind_dn,omitempty" yaml:"bind_dn,omitempty"`
	Attributes map[string][]string `json:"-" yaml:"-"`
}

// BackendRequest describes a backend to create. A chaining backend is
// created when BindDN, BindPassword and URLs are all set.
type BackendRequest struct {
	Suffix       string
	Name         string `default:"localdb"`
	BindDN       string
	BindPassword string
	URLs         []string
	Attributes   map[string][]string
}

// IsChaining reports whether the request describes a chaining backend.
func (r *BackendRequest) IsChaining() bool {
	return r.BindDN != "" && r.BindPassword != "" && len(r.URLs) > 0
}

var backendAttributes = []string{
	"cn", "nsslapd-suffix", "nsslapd-readonly", "nsfarmserverurl", "nsmultiplexorbinddn", "objectclass",
}

// BackendManager handles database backend instances.
type BackendManager struct {
	client  Client
	timeout time.Duration
}

// NewBackendManager creates a new backend manager.
func NewBackendManager(client Client) *BackendManager {
	return &BackendManager{client: client, timeout: 30 * time.Second}
}

// SetTimeout sets the LDAP operation timeout.
func (bm *BackendManager) SetTimeout(timeout time.Duration) {
	bm.timeout = timeout
}

// List returns backends by name or by suffix; exactly one may be given.
// The suffix "*" lists every backend. attrs are fetched in addition to the
// standard backend attributes.
func (bm *BackendManager) List(ctx context.Context, name, suffix string, attrs []string) ([]*Backend, error) {
	switch {
	case name != "" && suffix != "":
		return nil, NewLDAPError("list_backends", fmt.Errorf("can't specify both name and suffix"))
	case name == "" && suffix == "":
		return nil, NewLDAPError("list_backends", fmt.Errorf("either name or suffix is required"))
	}

	attrs = append(append([]string{}, backendAttributes...), attrs...)

	if name != "" {
		b, err := bm.Get(ctx, name, attrs...)
		if err != nil {
			return nil, err
		}
		return []*Backend{b}, nil
	}

	nsuffix := suffix
	if suffix != "*" {
		var err error
		if nsuffix, err = NormalizeDN(suffix); err != nil {
			return nil, WrapErrorWithDN("list_backends_validation", suffix, err)
		}
		suffix = ldap.EscapeFilter(suffix)
		nsuffix = ldap.EscapeFilter(nsuffix)
	}

	result, err := bm.client.Search(ctx, &SearchRequest{
		BaseDN:     DNPlugins,
		Scope:      ScopeWholeSubtree,
		Filter:     fmt.Sprintf("(&(objectclass=nsBackendInstance)(|(nsslapd-suffix=%s)(nsslapd-suffix=%s)))", suffix, nsuffix),
		Attributes: attrs,
		TimeLimit:  bm.timeout,
	})
	if err != nil {
		return nil, WrapError("list_backends", err)
	}

	backends := make([]*Backend, 0, len(result.Entries))
	for _, entry := range result.Entries {
		backends = append(backends, backendFromEntry(entry))
	}
	return backends, nil
}

// Get reads the ldbm backend called name.
func (bm *BackendManager) Get(ctx context.Context, name string, attrs ...string) (*Backend, error) {
	if len(attrs) == 0 {
		attrs = backendAttributes
	}
	dn := backendDN(name, DNLDBM)

	result, err := bm.client.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: attrs,
		TimeLimit:  bm.timeout,
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return nil, NewNoSuchEntryError("get_backend", dn)
		}
		return nil, WrapErrorWithDN("get_backend", dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, NewNoSuchEntryError("get_backend", dn)
	}
	return backendFromEntry(result.Entries[0]), nil
}

// ReadOnly switches nsslapd-readonly of the ldbm backend called name.
func (bm *BackendManager) ReadOnly(ctx context.Context, name string, on bool) error {
	if name == "" {
		return fmt.Errorf("backend name cannot be empty")
	}
	dn := backendDN(name, DNLDBM)

	err := bm.client.Modify(ctx, &ModifyRequest{
		DN:                dn,
		ReplaceAttributes: map[string][]string{"nsslapd-readonly": {onOff(on)}},
	})
	if err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError("backend_readonly", dn)
		}
		return WrapErrorWithDN("backend_readonly", dn, err)
	}
	return nil
}

// ReadOnlyBySuffix resolves the backend serving suffix and switches its read-only mode.
func (bm *BackendManager) ReadOnlyBySuffix(ctx context.Context, suffix string, on bool) error {
	backends, err := bm.List(ctx, "", suffix, nil)
	if err != nil {
		return err
	}
	if len(backends) == 0 {
		return NewNoSuchEntryError("backend_readonly", suffix)
	}
	return bm.ReadOnly(ctx, backends[0].Name, on)
}

// Add creates a backend for req.Suffix.
func (bm *BackendManager) Add(ctx context.Context, req *BackendRequest) (*Backend, error) {
	if req == nil {
		return nil, fmt.Errorf("backend request cannot be nil")
	}
	if err := defaults.Set(req); err != nil {
		return nil, fmt.Errorf("failed to apply backend defaults: %w", err)
	}

	nsuffix, err := NormalizeDN(req.Suffix)
	if err != nil {
		return nil, WrapErrorWithDN("add_backend_validation", req.Suffix, err)
	}
	if nsuffix == "" {
		return nil, NewLDAPError("add_backend_validation", fmt.Errorf("suffix is required"))
	}

	base := DNLDBM
	if req.IsChaining() {
		base = DNChain
	}
	dn := backendDN(req.Name, base)

	attributes := map[string][]string{
		"objectclass":    {"top", "extensibleObject", "nsBackendInstance"},
		"cn":             {req.Name},
		"nsslapd-suffix": {nsuffix},
	}
	if req.IsChaining() {
		attributes["nsfarmserverurl"] = req.URLs
		attributes["nsmultiplexorbinddn"] = []string{req.BindDN}
		attributes["nsmultiplexorcredentials"] = []string{req.BindPassword}
	}
	for attr, values := range req.Attributes {
		if strings.EqualFold(attr, "cn") {
			continue
		}
		attributes[attr] = values
	}

	tflog.SubsystemDebug(ctx, subsystemLDAP, "Adding backend", map[string]any{
		"dn":         dn,
		"chaining":   req.IsChaining(),
		"attributes": SanitizeAttributes(attributes),
	})

	if err := bm.client.Add(ctx, &AddRequest{DN: dn, Attributes: attributes}); err != nil {
		if IsAlreadyExistsError(err) {
			tflog.SubsystemError(ctx, subsystemLDAP, "Backend already exists", map[string]any{"dn": dn})
		}
		return nil, WrapErrorWithDN("add_backend", dn, err)
	}

	return &Backend{
		DN:         dn,
		Name:       req.Name,
		Suffix:     nsuffix,
		Chaining:   req.IsChaining(),
		FarmURLs:   req.URLs,
		BindDN:     req.BindDN,
		Attributes: req.Attributes,
	}, nil
}

// Delete removes the backend called name, ldbm or chaining.
func (bm *BackendManager) Delete(ctx context.Context, name string, chaining bool) error {
	base := DNLDBM
	if chaining {
		base = DNChain
	}
	dn := backendDN(name, base)

	if err := bm.client.Delete(ctx, dn); err != nil {
		if IsNoSuchObjectError(err) {
			return NewNoSuchEntryError("delete_backend", dn)
		}
		return WrapErrorWithDN("delete_backend", dn, err)
	}
	return nil
}

func backendDN(name, base string) string {
	return "cn=" + EscapeDNValue(name) + "," + base
}

func backendFromEntry(entry *ldap.Entry) *Backend {
	b := &Backend{
		DN:         entry.DN,
		Name:       entry.GetEqualFoldAttributeValue("cn"),
		Suffix:     entry.GetEqualFoldAttributeValue("nsslapd-suffix"),
		ReadOnly:   strings.EqualFold(entry.GetEqualFoldAttributeValue("nsslapd-readonly"), "on"),
		FarmURLs:   entry.GetEqualFoldAttributeValues("nsfarmserverurl"),
		BindDN:     entry.GetEqualFoldAttributeValue("nsmultiplexorbinddn"),
		Attributes: make(map[string][]string, len(entry.Attributes)),
	}
	for _, attr := range entry.Attributes {
		b.Attributes[attr.Name] = attr.Values
	}
	if parent, err := GetDNParent(entry.DN); err == nil {
		b.Chaining = EqualDN(parent, DNChain)
	}
	return b
}
