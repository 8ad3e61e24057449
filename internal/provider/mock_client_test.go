package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// MockLDAPClient implements ldapclient.Client for unit tests.
type MockLDAPClient struct {
	mock.Mock

	// Pool is returned by Stats.
	Pool ldapclient.PoolStats
}

var _ ldapclient.Client = &MockLDAPClient{}

func (m *MockLDAPClient) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockLDAPClient) Close() error                      { return m.Called().Error(0) }

func (m *MockLDAPClient) Bind(ctx context.Context, bindDN, password string) error {
	return m.Called(ctx, bindDN, password).Error(0)
}

func (m *MockLDAPClient) BindWithConfig(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockLDAPClient) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*ldapclient.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLDAPClient) SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	return m.Search(ctx, req)
}

func (m *MockLDAPClient) Add(ctx context.Context, req *ldapclient.AddRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockLDAPClient) Modify(ctx context.Context, req *ldapclient.ModifyRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockLDAPClient) ModifyDN(ctx context.Context, req *ldapclient.ModifyDNRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockLDAPClient) Delete(ctx context.Context, dn string) error {
	return m.Called(ctx, dn).Error(0)
}

func (m *MockLDAPClient) WhoAmI(ctx context.Context) (*ldapclient.WhoAmIResult, error) {
	args := m.Called(ctx)
	if result, ok := args.Get(0).(*ldapclient.WhoAmIResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLDAPClient) RootDSE(ctx context.Context) (*ldapclient.RootDSE, error) {
	args := m.Called(ctx)
	if result, ok := args.Get(0).(*ldapclient.RootDSE); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLDAPClient) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockLDAPClient) Stats() ldapclient.PoolStats { return m.Pool }

// searchBase matches a SearchRequest by base DN.
func searchBase(baseDN string) any {
	return mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
		return ldapclient.EqualDN(req.BaseDN, baseDN)
	})
}

func entries(e ...*ldap.Entry) *ldapclient.SearchResult {
	return &ldapclient.SearchResult{Entries: e, Total: len(e)}
}

func noSuchObject() error {
	return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
}

// configureDataSource hands ds provider data wrapping client.
func configureDataSource(t *testing.T, ds datasource.DataSource, client ldapclient.Client) {
	t.Helper()

	cfg, ok := ds.(datasource.DataSourceWithConfigure)
	require.True(t, ok)

	resp := &datasource.ConfigureResponse{}
	cfg.Configure(t.Context(), datasource.ConfigureRequest{
		ProviderData: ldapclient.NewProviderData(client, nil),
	}, resp)
	require.False(t, resp.Diagnostics.HasError(), "configure: %v", resp.Diagnostics)
}

// readDataSource runs Read with the given configuration; attributes not in values are null.
func readDataSource(t *testing.T, ds datasource.DataSource, values map[string]tftypes.Value) *datasource.ReadResponse {
	t.Helper()

	schemaResp := &datasource.SchemaResponse{}
	ds.Schema(t.Context(), datasource.SchemaRequest{}, schemaResp)
	require.False(t, schemaResp.Diagnostics.HasError())

	objType, ok := schemaResp.Schema.Type().TerraformType(t.Context()).(tftypes.Object)
	require.True(t, ok)

	attrs := make(map[string]tftypes.Value, len(objType.AttributeTypes))
	for name, typ := range objType.AttributeTypes {
		if v, ok := values[name]; ok {
			attrs[name] = v
		} else {
			attrs[name] = tftypes.NewValue(typ, nil)
		}
	}

	req := datasource.ReadRequest{
		Config: tfsdk.Config{
			Schema: schemaResp.Schema,
			Raw:    tftypes.NewValue(objType, attrs),
		},
	}
	resp := &datasource.ReadResponse{
		State: tfsdk.State{
			Schema: schemaResp.Schema,
			Raw:    tftypes.NewValue(objType, nil),
		},
	}

	ds.Read(t.Context(), req, resp)
	return resp
}
