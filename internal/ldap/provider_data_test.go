package ldap

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProviderData_Wiring(t *testing.T) {
	client := &MockClient{}
	pd := NewProviderData(client, nil)

	require.NotNil(t, pd.ReplicaCache)
	assert.Same(t, pd.ReplicaCache, pd.Replicas.Cache())
	assert.Same(t, pd.Replicas, pd.Agreements.replicas)

	pd.SetTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, pd.Backends.timeout)
	assert.Equal(t, 5*time.Second, pd.Config.timeout)

	pd.SetTimeout(0)
	assert.Equal(t, 5*time.Second, pd.Backends.timeout)
}

func TestProviderData_ValidateConnection(t *testing.T) {
	client := &MockClient{}
	client.On("Ping", mock.Anything).Return(nil).Once()
	client.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()

	pd := NewProviderData(client, nil)
	require.NoError(t, pd.ValidateConnection(t.Context()))

	err := pd.ValidateConnection(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Error(t, (&ProviderData{}).ValidateConnection(t.Context()))
}

func TestProviderData_WarmCacheAndClose(t *testing.T) {
	client := &MockClient{}
	client.On("Search", mock.Anything, searchFilter(DNMappingTree, "(objectclass=nsds5Replica)")).
		Return(entries(replicaEntry("1", "3", "1")), nil)
	client.On("Stats").Return(PoolStats{Total: 2, Idle: 2, HomeServer: "ldaps://ds1.example.com:636"})
	client.On("Close").Return(nil)

	pd := NewProviderData(client, nil)
	require.NoError(t, pd.WarmCache(t.Context()))

	stats := pd.GetCombinedStats()
	assert.Equal(t, int64(1), stats["cache"].(map[string]any)["entries"])
	assert.Equal(t, 2, stats["pool"].(map[string]any)["total"])
	assert.Equal(t, "ldaps://ds1.example.com:636", stats["pool"].(map[string]any)["home_server"])

	require.NoError(t, pd.Close())
	assert.Empty(t, pd.ReplicaCache.Suffixes())
}
