package cli

import (
	"encoding/json"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

const (
	testRemoteURL  = "ldap://ds2.example.com:389"
	testGeneration = "5f1a2b3c000000010000"
	tombstoneDN    = "nsuniqueid=ffffffff-ffffffff-ffffffff-ffffffff," + testSuffix
)

func tombstone(ruv, lastModified []string) *ldapclient.SearchResult {
	return entries(ldap.NewEntry(tombstoneDN, map[string][]string{
		ldapclient.AttrRUV:                    ruv,
		ldapclient.AttrRUVReplicaLastModified: lastModified,
	}))
}

func localRUV() *ldapclient.SearchResult {
	return tombstone(
		[]string{
			"{replicageneration} " + testGeneration,
			"{replica 1 ldap://ds1.example.com:389} 5f1a2b3d000000010000 5f1a2c00000300010000",
			"{replica 2 ldap://ds2.example.com:389}",
		},
		[]string{"{replica 1 ldap://ds1.example.com:389} 5f1a2c00"},
	)
}

func TestRUV(t *testing.T) {
	client := &mockClient{}
	client.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)

	stdout, _, err := runCommand(t, map[string]ldapclient.Client{testURL: client}, "ruv", testSuffix)
	require.NoError(t, err)

	newGolden(t).Assert(t, "ruv", []byte(stdout))
}

func TestRUV_JSON(t *testing.T) {
	client := &mockClient{}
	client.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)

	stdout, _, err := runCommand(t, map[string]ldapclient.Client{testURL: client}, "ruv", testSuffix, "-o", "json")
	require.NoError(t, err)

	var got ruvView
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, testGeneration, got.Generation)
	require.Len(t, got.Replicas, 2)
	assert.Equal(t, ruvElementView{
		RID:          1,
		URL:          "ldap://ds1.example.com:389",
		MinCSN:       "5f1a2b3d000000010000",
		MaxCSN:       "5f1a2c00000300010000",
		LastModified: "2020-07-24T00:32:00Z",
	}, got.Replicas[0])
	assert.Equal(t, ruvElementView{RID: 2, URL: "ldap://ds2.example.com:389"}, got.Replicas[1])
}

func TestRUV_NotReplicated(t *testing.T) {
	client := &mockClient{}
	client.On("Search", mock.Anything, searchBase(testSuffix)).Return(entries(), nil)
	client.On("Search", mock.Anything, mock.Anything).Return(nil, noSuchObject())

	_, _, err := runCommand(t, map[string]ldapclient.Client{testURL: client}, "ruv", testSuffix)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "suffix is not replicated")
}

func TestRUV_InvalidSuffix(t *testing.T) {
	_, _, err := runCommand(t, map[string]ldapclient.Client{testURL: &mockClient{}}, "ruv", "not a dn")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRUV_Compare(t *testing.T) {
	local := &mockClient{}
	local.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)

	remote := &mockClient{}
	remote.On("Search", mock.Anything, searchBase(testSuffix)).Return(tombstone(
		[]string{
			"{replicageneration} " + testGeneration,
			"{replica 1 ldap://ds1.example.com:389} 5f1a2b3d000000010000 5f1a2b40000000010000",
			"{replica 2 ldap://ds2.example.com:389} 5f1a2c10000000020000 5f1a2c10000000020000",
			"{replica 3 ldap://ds3.example.com:389} 5f1a2c20000000030000 5f1a2c20000000030000",
		},
		nil,
	), nil)

	stdout, _, err := runCommand(t, map[string]ldapclient.Client{testURL: local, testRemoteURL: remote},
		"ruv", testSuffix, "--compare-url", testRemoteURL)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.EqualError(t, err, "RUVs of dc=example,dc=com differ")

	newGolden(t).Assert(t, "ruv_compare", []byte(stdout))
}

func TestRUV_CompareInSync(t *testing.T) {
	local := &mockClient{}
	local.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)
	remote := &mockClient{}
	remote.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)

	stdout, _, err := runCommand(t, map[string]ldapclient.Client{testURL: local, testRemoteURL: remote},
		"ruv", testSuffix, "--compare-url", testRemoteURL, "--output", "json")
	require.NoError(t, err)

	var got ruvComparison
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.True(t, got.InSync)
	assert.Empty(t, got.Differences)
	assert.Equal(t, [2]string{testGeneration, testGeneration}, got.Generations)
}

func TestRUV_CompareGenerationMismatch(t *testing.T) {
	local := &mockClient{}
	local.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)
	remote := &mockClient{}
	remote.On("Search", mock.Anything, searchBase(testSuffix)).Return(tombstone(
		[]string{
			"{replicageneration} 6a000000000000010000",
			"{replica 1 ldap://ds1.example.com:389} 5f1a2b3d000000010000 5f1a2c00000300010000",
			"{replica 2 ldap://ds2.example.com:389}",
		},
		nil,
	), nil)

	stdout, _, err := runCommand(t, map[string]ldapclient.Client{testURL: local, testRemoteURL: remote},
		"ruv", testSuffix, "--compare-url", testRemoteURL)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t,
		"Replica generations differ: "+testGeneration+" != 6a000000000000010000\n"+
			"dc=example,dc=com: not in sync with "+testRemoteURL+"\n",
		stdout)
}

func TestRUV_CompareUnreachable(t *testing.T) {
	local := &mockClient{}
	local.On("Search", mock.Anything, searchBase(testSuffix)).Return(localRUV(), nil)

	_, _, err := runCommand(t, map[string]ldapclient.Client{testURL: local},
		"ruv", testSuffix, "--compare-url", testRemoteURL)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to connect to "+testRemoteURL)
}
