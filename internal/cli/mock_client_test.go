package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// mockClient implements ldapclient.Client; only Search and Modify are mocked.
type mockClient struct {
	mock.Mock
}

var _ ldapclient.Client = &mockClient{}

func (m *mockClient) Connect(ctx context.Context) error                       { return nil }
func (m *mockClient) Close() error                                            { return nil }
func (m *mockClient) Bind(ctx context.Context, bindDN, password string) error { return nil }
func (m *mockClient) BindWithConfig(ctx context.Context) error                { return nil }
func (m *mockClient) Ping(ctx context.Context) error                          { return nil }
func (m *mockClient) Stats() ldapclient.PoolStats                             { return ldapclient.PoolStats{} }

func (m *mockClient) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*ldapclient.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	return m.Search(ctx, req)
}

func (m *mockClient) Add(ctx context.Context, req *ldapclient.AddRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockClient) Modify(ctx context.Context, req *ldapclient.ModifyRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockClient) ModifyDN(ctx context.Context, req *ldapclient.ModifyDNRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockClient) Delete(ctx context.Context, dn string) error {
	return m.Called(ctx, dn).Error(0)
}

func (m *mockClient) WhoAmI(ctx context.Context) (*ldapclient.WhoAmIResult, error) {
	return ldapclient.ParseAuthzID("dn: cn=directory manager"), nil
}

func (m *mockClient) RootDSE(ctx context.Context) (*ldapclient.RootDSE, error) {
	return &ldapclient.RootDSE{}, nil
}

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

// runCommand executes dsadmin with args against clients keyed by URL.
func runCommand(t *testing.T, clients map[string]ldapclient.Client, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("DIRSRV_CONFIG", "")
	t.Setenv("DIRSRV_LDAP_URL", "ldap://ds1.example.com:389")

	opts := &RootOptions{
		Dial: func(ctx context.Context, cfg *ldapclient.ConnectionConfig) (ldapclient.Client, error) {
			client, ok := clients[cfg.LDAPURLs[0]]
			if !ok {
				return nil, errors.New("connection refused")
			}
			return client, nil
		},
	}

	var out, errOut bytes.Buffer
	cmd := NewRootCommandWithOptions(opts)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "off"}, args...))
	err = cmd.ExecuteContext(t.Context())
	return out.String(), errOut.String(), err
}
