package ldap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReplicaCache_PutGet(t *testing.T) {
	rc := NewReplicaCache()

	require.Error(t, rc.Put(nil))
	require.Error(t, rc.Put(&Replica{Suffix: testSuffix}))

	require.NoError(t, rc.Put(&Replica{DN: testReplicaDN, Suffix: testSuffix, ID: 1, Role: RoleMaster}))

	tests := []struct {
		name       string
		identifier string
		wantFound  bool
	}{
		{name: "suffix", identifier: testSuffix, wantFound: true},
		{name: "suffix different form", identifier: "DC=Example, DC=Com", wantFound: true},
		{name: "replica dn", identifier: testReplicaDN, wantFound: true},
		{name: "unknown", identifier: "o=other", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := rc.Get(tt.identifier)
			assert.Equal(t, tt.wantFound, ok)
			if ok {
				assert.Equal(t, 1, r.ID)
				assert.False(t, r.CachedAt.IsZero())
			}
		})
	}

	stats := rc.GetStats()
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 75.0, stats.HitRate, 0.001)
	assert.Equal(t, "entries=1 hits=3 misses=1 hit_rate=75.0%", stats.String())
}

func TestReplicaCache_PutCopies(t *testing.T) {
	rc := NewReplicaCache()
	r := &Replica{DN: testReplicaDN, Suffix: testSuffix, ID: 1}
	require.NoError(t, rc.Put(r))
	require.NoError(t, rc.Put(r))

	r.ID = 2
	cached, ok := rc.Get(testSuffix)
	require.True(t, ok)
	assert.Equal(t, 1, cached.ID)
	assert.Equal(t, int64(1), rc.GetStats().Entries)
}

func TestReplicaCache_DeleteClear(t *testing.T) {
	rc := NewReplicaCache()
	require.NoError(t, rc.Put(&Replica{DN: testReplicaDN, Suffix: testSuffix}))
	require.NoError(t, rc.Put(&Replica{DN: "cn=replica,cn=o\\=other,cn=mapping tree,cn=config", Suffix: "o=other"}))

	rc.Delete(testSuffix)
	rc.Delete(testSuffix)
	_, ok := rc.Get(testReplicaDN)
	assert.False(t, ok)
	assert.Equal(t, []string{"o=other"}, rc.Suffixes())
	assert.Equal(t, int64(1), rc.GetStats().Entries)

	rc.Clear()
	assert.Empty(t, rc.Suffixes())
	assert.Equal(t, int64(0), rc.GetStats().Entries)
}

func TestReplicaCache_Warm(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, searchFilter(DNMappingTree, "(objectclass=nsds5Replica)")).
		Return(entries(replicaEntry("1", "3", "1")), nil)

	rc := NewReplicaCache()
	require.NoError(t, rc.Put(&Replica{DN: "cn=replica,cn=stale", Suffix: "o=stale"}))

	require.NoError(t, rc.Warm(t.Context(), NewReplicaManager(client, rc)))

	assert.Equal(t, []string{testSuffix}, rc.Suffixes())
	r, ok := rc.Get(testSuffix)
	require.True(t, ok)
	assert.Equal(t, RoleMaster, r.Role)

	stats := rc.GetStats()
	assert.Equal(t, int64(1), stats.WarmingRuns)
	assert.False(t, stats.LastWarmed.IsZero())
}

func TestReplicaCache_Concurrent(t *testing.T) {
	rc := NewReplicaCache()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rc.Put(&Replica{DN: testReplicaDN, Suffix: testSuffix, ID: i + 1})
			rc.Get(testSuffix)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), rc.GetStats().Entries)
	assert.Equal(t, int64(20), rc.GetStats().Hits)
}
