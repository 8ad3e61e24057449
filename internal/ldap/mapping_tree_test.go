package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMappingTreeManager_Get(t *testing.T) {
	client := &MockClient{}
	expectMappingTree(client)
	client.On("Search", mock.Anything, searchFilter(DNMappingTree, SuffixFilter("o=missing"))).
		Return(entries(), nil)

	m := NewMappingTreeManager(client)

	mt, err := m.Get(t.Context(), testSuffix)
	require.NoError(t, err)
	assert.Equal(t, testMTDN, mt.DN)
	assert.Equal(t, "backend", mt.State)
	assert.Equal(t, []string{"userRoot"}, mt.Backends)

	_, err = m.Get(t.Context(), "o=missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuchEntry)

	_, err = m.Get(t.Context(), "")
	assert.Error(t, err)
}

func TestMappingTreeManager_Add(t *testing.T) {
	tests := []struct {
		name      string
		suffix    string
		parent    string
		wantDN    string
		wantAttrs map[string][]string
	}{
		{
			name:   "root suffix",
			suffix: "dc=Example, dc=com",
			wantDN: testMTDN,
			wantAttrs: map[string][]string{
				"objectClass":     {"top", "extensibleObject", "nsMappingTree"},
				"cn":              {testSuffix},
				"nsslapd-state":   {"backend"},
				"nsslapd-backend": {"userRoot"},
			},
		},
		{
			name:   "sub suffix",
			suffix: "ou=people,dc=example,dc=com",
			parent: "dc=example, dc=com",
			wantDN: `cn="ou=people,dc=example,dc=com",cn=mapping tree,cn=config`,
			wantAttrs: map[string][]string{
				"objectClass":           {"top", "extensibleObject", "nsMappingTree"},
				"cn":                    {"ou=people,dc=example,dc=com"},
				"nsslapd-state":         {"backend"},
				"nsslapd-backend":       {"userRoot"},
				"nsslapd-parent-suffix": {testSuffix},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			client.On("Add", mock.Anything, &AddRequest{DN: tt.wantDN, Attributes: tt.wantAttrs}).Return(nil)

			mt, err := NewMappingTreeManager(client).Add(t.Context(), tt.suffix, "userRoot", tt.parent)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDN, mt.DN)
			client.AssertExpectations(t)
		})
	}
}

func TestMappingTreeManager_Delete(t *testing.T) {
	client := &MockClient{}
	expectMappingTree(client)
	client.On("Delete", mock.Anything, testMTDN).Return(nil)

	require.NoError(t, NewMappingTreeManager(client).Delete(t.Context(), testSuffix))
	client.AssertExpectations(t)
}

func TestMappingTreeManager_NamingContexts(t *testing.T) {
	client := &MockClient{}
	client.On("RootDSE", mock.Anything).Return(&RootDSE{
		NamingContexts: []string{testSuffix, "o=netscaperoot"},
	}, nil)

	got, err := NewMappingTreeManager(client).NamingContexts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{testSuffix, "o=netscaperoot"}, got)
}

func TestMappingTreeManager_MultipleMatches(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(entries(
		ldap.NewEntry(testMTDN, map[string][]string{"cn": {testSuffix}}),
		ldap.NewEntry(`cn=dc\3Dexample\2Cdc\3Dcom,cn=mapping tree,cn=config`, map[string][]string{"cn": {testSuffix}}),
	), nil)

	mt, err := NewMappingTreeManager(client).Get(t.Context(), testSuffix)
	require.NoError(t, err)
	assert.Equal(t, testMTDN, mt.DN)
}
