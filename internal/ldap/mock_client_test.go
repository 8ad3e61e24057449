package ldap

import (
	"context"
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify-backed Client.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

// result returns the first recorded return value as a T, or the zero T
// when the expectation returned nil.
func result[T any](args mock.Arguments) (T, error) {
	v, _ := args.Get(0).(T)
	return v, args.Error(1)
}

func (m *MockClient) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockClient) Close() error                      { return m.Called().Error(0) }
func (m *MockClient) Ping(ctx context.Context) error    { return m.Called(ctx).Error(0) }

func (m *MockClient) Bind(ctx context.Context, bindDN, password string) error {
	return m.Called(ctx, bindDN, password).Error(0)
}

func (m *MockClient) BindWithConfig(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockClient) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	return result[*SearchResult](m.Called(ctx, req))
}

func (m *MockClient) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	return result[*SearchResult](m.Called(ctx, req))
}

func (m *MockClient) Add(ctx context.Context, req *AddRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockClient) Modify(ctx context.Context, req *ModifyRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockClient) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockClient) Delete(ctx context.Context, dn string) error {
	return m.Called(ctx, dn).Error(0)
}

func (m *MockClient) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	return result[*WhoAmIResult](m.Called(ctx))
}

func (m *MockClient) RootDSE(ctx context.Context) (*RootDSE, error) {
	return result[*RootDSE](m.Called(ctx))
}

func (m *MockClient) Stats() PoolStats {
	stats, _ := m.Called().Get(0).(PoolStats)
	return stats
}

// searchBase matches a search request by base DN.
func searchBase(baseDN string) any {
	return mock.MatchedBy(func(req *SearchRequest) bool {
		return req.BaseDN == baseDN
	})
}

// searchFilter matches a search request by base DN and filter.
func searchFilter(baseDN, filter string) any {
	return mock.MatchedBy(func(req *SearchRequest) bool {
		return req.BaseDN == baseDN && req.Filter == filter
	})
}

// entries wraps ldap entries in a search result.
func entries(e ...*ldap.Entry) *SearchResult {
	return &SearchResult{Entries: e, Total: len(e)}
}

func noSuchObject() error {
	return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
}

func alreadyExists() error {
	return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("already exists"))
}

func busyError() error {
	return ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))
}
