package ldap

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSuffix     = "dc=example,dc=com"
	testMTDN       = `cn="dc=example,dc=com",cn=mapping tree,cn=config`
	testReplicaDN  = `cn=replica,cn="dc=example,dc=com",cn=mapping tree,cn=config`
	testFallbackDN = `cn=replica,cn=dc\=example\,dc\=com,cn=mapping tree,cn=config`
)

func expectMappingTree(client *MockClient) {
	client.On("Search", mock.Anything, searchFilter(DNMappingTree, SuffixFilter(testSuffix))).
		Return(entries(ldap.NewEntry(testMTDN, map[string][]string{
			"cn":              {testSuffix},
			"nsslapd-state":   {"backend"},
			"nsslapd-backend": {"userRoot"},
		})), nil)
}

func replicaEntry(rid, rtype, flags string) *ldap.Entry {
	attrs := map[string][]string{
		"cn":                         {"replica"},
		"nsDS5ReplicaRoot":           {testSuffix},
		"nsDS5ReplicaId":             {rid},
		"nsDS5ReplicaType":           {rtype},
		"nsDS5ReplicaBindDN":         {"cn=replication manager,cn=config"},
		"nsds5ReplicaLegacyConsumer": {"off"},
	}
	if flags != "" {
		attrs["nsDS5Flags"] = []string{flags}
	}
	return ldap.NewEntry(testReplicaDN, attrs)
}

func TestReplicaManager_ValidateReplicaRequest(t *testing.T) {
	rm := NewReplicaManager(&MockClient{}, nil)

	tests := []struct {
		name    string
		req     *ReplicaRequest
		wantRID int
		wantErr string
	}{
		{name: "nil", req: nil, wantErr: "cannot be nil"},
		{name: "missing suffix", req: &ReplicaRequest{ReplicaID: 1}, wantErr: "suffix is required"},
		{name: "master without rid", req: &ReplicaRequest{Suffix: testSuffix}, wantErr: "between 1 and 65534"},
		{name: "master rid too large", req: &ReplicaRequest{Suffix: testSuffix, ReplicaID: 65535}, wantErr: "between 1 and 65534"},
		{name: "master", req: &ReplicaRequest{Suffix: testSuffix, ReplicaID: 7}, wantRID: 7},
		{name: "hub defaults rid", req: &ReplicaRequest{Suffix: testSuffix, Role: RoleHub}, wantRID: ReadOnlyReplicaID},
		{name: "leaf with master rid", req: &ReplicaRequest{Suffix: testSuffix, Role: RoleLeaf, ReplicaID: 3}, wantErr: "must use replica ID 65535"},
		{name: "unknown role", req: &ReplicaRequest{Suffix: testSuffix, Role: ReplicaRole(9)}, wantErr: "unknown replica role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rm.ValidateReplicaRequest(tt.req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRID, tt.req.ReplicaID)
			assert.Equal(t, []string{"cn=replication manager,cn=config"}, tt.req.BindDNs)
		})
	}
}

func TestReplicaManager_Add(t *testing.T) {
	tests := []struct {
		name      string
		req       *ReplicaRequest
		wantType  string
		wantRID   string
		wantFlags bool
	}{
		{
			name:      "master",
			req:       &ReplicaRequest{Suffix: "dc=Example, dc=COM", ReplicaID: 1, PurgeDelay: "604800", Referrals: []string{"ldap://ds2:389"}},
			wantType:  "3",
			wantRID:   "1",
			wantFlags: true,
		},
		{
			name:      "hub",
			req:       &ReplicaRequest{Suffix: testSuffix, Role: RoleHub},
			wantType:  "2",
			wantRID:   "65535",
			wantFlags: true,
		},
		{
			name:     "leaf",
			req:      &ReplicaRequest{Suffix: testSuffix, Role: RoleLeaf, BindDNs: []string{"cn=a,cn=config", "cn=b,cn=config"}},
			wantType: "2",
			wantRID:  "65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			expectMappingTree(client)
			client.On("Search", mock.Anything, searchBase(testReplicaDN)).Return(nil, noSuchObject())

			var added *AddRequest
			client.On("Add", mock.Anything, mock.AnythingOfType("*ldap.AddRequest")).
				Run(func(args mock.Arguments) { added = args.Get(1).(*AddRequest) }).
				Return(nil)

			rm := NewReplicaManager(client, nil)
			replica, err := rm.Add(t.Context(), tt.req)
			require.NoError(t, err)
			require.NotNil(t, added)

			assert.Equal(t, testReplicaDN, added.DN)
			assert.Equal(t, []string{testSuffix}, added.Attributes["nsds5replicaroot"])
			assert.Equal(t, []string{tt.wantType}, added.Attributes["nsds5replicatype"])
			assert.Equal(t, []string{tt.wantRID}, added.Attributes["nsds5replicaid"])
			assert.Equal(t, []string{"off"}, added.Attributes["nsds5replicalegacyconsumer"])
			assert.Equal(t, tt.req.BindDNs, added.Attributes["nsds5replicabinddn"])
			if tt.wantFlags {
				assert.Equal(t, []string{"1"}, added.Attributes["nsds5flags"])
			} else {
				assert.NotContains(t, added.Attributes, "nsds5flags")
			}
			if tt.req.PurgeDelay != "" {
				assert.Equal(t, []string{tt.req.PurgeDelay}, added.Attributes["nsds5ReplicaPurgeDelay"])
				assert.Equal(t, tt.req.Referrals, added.Attributes["nsds5ReplicaReferral"])
			}

			assert.Equal(t, testReplicaDN, replica.DN)
			assert.Equal(t, tt.req.Role, replica.Role)

			cached, ok := rm.Cache().Get(testSuffix)
			require.True(t, ok)
			assert.Equal(t, replica.DN, cached.DN)
			client.AssertExpectations(t)
		})
	}
}

func TestReplicaManager_AddExisting(t *testing.T) {
	client := &MockClient{}
	expectMappingTree(client)
	client.On("Search", mock.Anything, searchBase(testReplicaDN)).
		Return(entries(replicaEntry("4", "3", "1")), nil)

	rm := NewReplicaManager(client, nil)
	replica, err := rm.Add(t.Context(), &ReplicaRequest{Suffix: testSuffix, ReplicaID: 9})
	require.NoError(t, err)

	assert.Equal(t, 4, replica.ID)
	assert.Equal(t, ReplicaTypeReadWrite, replica.Type)
	assert.Equal(t, RoleMaster, replica.Role)
	client.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestReplicaManager_AddWithoutSuffix(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, searchBase(DNMappingTree)).Return(entries(), nil)

	rm := NewReplicaManager(client, nil)
	_, err := rm.Add(t.Context(), &ReplicaRequest{Suffix: testSuffix, ReplicaID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSuchEntry))
}

func TestReplicaManager_List(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, searchFilter(DNMappingTree,
		"(&(objectclass=nsds5Replica)(nsds5replicaroot=dc=example,dc=com))")).
		Return(entries(replicaEntry("65535", "2", "1")), nil)
	client.On("Search", mock.Anything, searchFilter(DNMappingTree, "(objectclass=nsds5Replica)")).
		Return(entries(replicaEntry("1", "3", "1"), replicaEntry("65535", "2", "")), nil)

	rm := NewReplicaManager(client, nil)

	replicas, err := rm.List(t.Context(), "dc=example, dc=com")
	require.NoError(t, err)
	require.Len(t, replicas, 1)
	assert.Equal(t, RoleHub, replicas[0].Role)

	all, err := rm.List(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, RoleMaster, all[0].Role)
	assert.Equal(t, RoleLeaf, all[1].Role)
}

func TestReplicaManager_Update(t *testing.T) {
	client := &MockClient{}
	expectMappingTree(client)
	client.On("Modify", mock.Anything, mock.MatchedBy(func(req *ModifyRequest) bool {
		return req.DN == testReplicaDN &&
			assert.ObjectsAreEqual([]string{"cn=a,cn=config"}, req.ReplaceAttributes["nsds5replicabinddn"]) &&
			assert.ObjectsAreEqual([]string{"nsds5ReplicaReferral", "nsds5ReplicaPurgeDelay"}, req.DeleteAttributes)
	})).Return(nil)
	client.On("Search", mock.Anything, searchBase(testReplicaDN)).
		Return(entries(replicaEntry("1", "3", "1")), nil)

	empty := ""
	rm := NewReplicaManager(client, nil)
	_, err := rm.Update(t.Context(), testSuffix, &ReplicaUpdate{
		BindDNs:    []string{"cn=a,cn=config"},
		Referrals:  []string{},
		PurgeDelay: &empty,
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestReplicaManager_Delete(t *testing.T) {
	client := &MockClient{}
	expectMappingTree(client)
	client.On("Delete", mock.Anything, testReplicaDN).Return(nil)

	rm := NewReplicaManager(client, nil)
	require.NoError(t, rm.Cache().Put(&Replica{DN: testReplicaDN, Suffix: testSuffix}))

	require.NoError(t, rm.Delete(t.Context(), testSuffix))
	_, ok := rm.Cache().Get(testSuffix)
	assert.False(t, ok)
}

func TestReplicaManager_RUV(t *testing.T) {
	ruvValues := []string{
		"{replicageneration} 5e7a3b1c000000010000",
		"{replica 1 ldap://ds1.example.com:389} 5e7a3b1d000000010000 5e7a3c00000300010000",
	}
	tombstoneFilter := "(&(nsUniqueID=ffffffff-ffffffff-ffffffff-ffffffff)(objectclass=nsTombstone))"

	tests := []struct {
		name         string
		tombstone    *SearchResult
		tombstoneErr error
		fallback     *SearchResult
		fallbackErr  error
		wantErr      error
	}{
		{
			name: "tombstone",
			tombstone: entries(ldap.NewEntry("nsuniqueid=ffffffff-ffffffff-ffffffff-ffffffff,"+testSuffix,
				map[string][]string{AttrRUV: ruvValues})),
		},
		{
			name:      "fallback to replica entry",
			tombstone: entries(),
			fallback:  entries(ldap.NewEntry(testFallbackDN, map[string][]string{"nsds50ruv": ruvValues})),
		},
		{
			name:         "suffix missing",
			tombstoneErr: noSuchObject(),
			fallbackErr:  noSuchObject(),
			wantErr:      ErrNoSuchEntry,
		},
		{
			name:      "replica entry without ruv",
			tombstone: entries(),
			fallback:  entries(ldap.NewEntry(testFallbackDN, nil)),
			wantErr:   ErrNoSuchEntry,
		},
		{
			name: "malformed",
			tombstone: entries(ldap.NewEntry("nsuniqueid=ffffffff-ffffffff-ffffffff-ffffffff,"+testSuffix,
				map[string][]string{AttrRUV: {"garbage"}})),
			wantErr: ErrMalformedRUV,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockClient{}
			client.On("Search", mock.Anything, searchFilter(testSuffix, tombstoneFilter)).
				Return(tt.tombstone, tt.tombstoneErr)
			if tt.fallback != nil || tt.fallbackErr != nil {
				client.On("Search", mock.Anything, searchBase(testFallbackDN)).
					Return(tt.fallback, tt.fallbackErr)
			}

			rm := NewReplicaManager(client, nil)
			ruv, err := rm.RUV(t.Context(), testSuffix)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "5e7a3b1c000000010000", ruv.Generation())
			assert.Len(t, ruv.Replicas(), 1)
			client.AssertExpectations(t)
		})
	}
}

func TestReplicaManager_Changelog(t *testing.T) {
	t.Run("relative name", func(t *testing.T) {
		client := &MockClient{}
		client.On("Add", mock.Anything, mock.MatchedBy(func(req *AddRequest) bool {
			return req.DN == DNChangelog &&
				assert.ObjectsAreEqual([]string{"/var/lib/dirsrv/slapd-ds1/changelogdb"}, req.Attributes["nsslapd-changelogdir"])
		})).Return(nil)

		cl, err := NewReplicaManager(client, nil).Changelog(t.Context(), "/var/lib/dirsrv/slapd-ds1", "")
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/dirsrv/slapd-ds1/changelogdb", cl.Dir)
	})

	t.Run("absolute name", func(t *testing.T) {
		client := &MockClient{}
		client.On("Add", mock.Anything, mock.Anything).Return(nil)

		cl, err := NewReplicaManager(client, nil).Changelog(t.Context(), "", "/srv/changelog")
		require.NoError(t, err)
		assert.Equal(t, "/srv/changelog", cl.Dir)
	})

	t.Run("relative name without dbdir", func(t *testing.T) {
		_, err := NewReplicaManager(&MockClient{}, nil).Changelog(t.Context(), "", "changelogdb")
		assert.Error(t, err)
	})

	t.Run("already exists", func(t *testing.T) {
		client := &MockClient{}
		client.On("Add", mock.Anything, mock.Anything).Return(alreadyExists())
		client.On("Search", mock.Anything, searchBase(DNChangelog)).
			Return(entries(ldap.NewEntry(DNChangelog, map[string][]string{
				"nsslapd-changelogdir": {"/old/changelogdb"},
			})), nil)

		cl, err := NewReplicaManager(client, nil).Changelog(t.Context(), "/new", "changelogdb")
		require.NoError(t, err)
		assert.Equal(t, "/old/changelogdb", cl.Dir)
	})
}
