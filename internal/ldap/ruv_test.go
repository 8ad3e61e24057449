package ldap

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRUVValues = []string{
	"{replicageneration} 5e7a3b1c000000010000",
	"{replica 2 ldap://ds2.example.com:389} 5e7a3b20000000020000 5e7a3c10000500020000",
	"{replica 1 ldap://ds1.example.com:389} 5e7a3b1d000000010000 5e7a3c00000300010000",
	"{replica 3 ldaps://ds3.example.com:636}",
}

var testRUVLastModified = []string{
	"{replica 1 ldap://ds1.example.com:389} 5e7a3c00",
	"{replica 2 ldap://ds2.example.com:389} 5e7a3c10",
	"{replica 3 ldaps://ds3.example.com:636} 00000000",
}

func mustParseRUV(t *testing.T, values []string) *RUV {
	t.Helper()
	ruv, err := ParseRUV(values, nil)
	require.NoError(t, err)
	return ruv
}

func TestParseRUV(t *testing.T) {
	ruv, err := ParseRUV(testRUVValues, testRUVLastModified)
	require.NoError(t, err)

	assert.Equal(t, "5e7a3b1c000000010000", ruv.Generation())

	replicas := ruv.Replicas()
	require.Len(t, replicas, 3)
	assert.Equal(t, []uint16{1, 2, 3}, []uint16{replicas[0].RID, replicas[1].RID, replicas[2].RID})

	r1 := replicas[0]
	assert.Equal(t, "ldap://ds1.example.com:389", r1.URL)
	require.NotNil(t, r1.MinCSN)
	require.NotNil(t, r1.MaxCSN)
	assert.Equal(t, "5e7a3b1d000000010000", r1.MinCSN.String())
	assert.Equal(t, "5e7a3c00000300010000", r1.MaxCSN.String())
	assert.Equal(t, time.Unix(0x5e7a3c00, 0).UTC(), r1.LastModified)

	r3, ok := ruv.Replica(3)
	require.True(t, ok)
	assert.Equal(t, "ldaps://ds3.example.com:636", r3.URL)
	assert.Nil(t, r3.MinCSN)
	assert.Nil(t, r3.MaxCSN)
	assert.True(t, r3.LastModified.IsZero())

	_, ok = ruv.Replica(4)
	assert.False(t, ok)
}

func TestParseRUV_Malformed(t *testing.T) {
	tests := []struct {
		name         string
		values       []string
		lastModified []string
	}{
		{
			name:   "missing generation",
			values: []string{"{replica 1 ldap://ds1:389}"},
		},
		{
			name:   "garbage value",
			values: []string{"{replicageneration} 5e7a3b1c000000010000", "not an ruv"},
		},
		{
			name:   "bad csn",
			values: []string{"{replicageneration} 5e7a3b1c000000010000", "{replica 1 ldap://ds1:389} xyz 5e7a3c00000300010000"},
		},
		{
			name:   "rid out of range",
			values: []string{"{replicageneration} 5e7a3b1c000000010000", "{replica 70000 ldap://ds1:389}"},
		},
		{
			name:   "rid zero",
			values: []string{"{replicageneration} 5e7a3b1c000000010000", "{replica 0 ldap://ds1:389}"},
		},
		{
			name:         "rid zero in last modified",
			values:       []string{"{replicageneration} 5e7a3b1c000000010000"},
			lastModified: []string{"{replica 0 ldap://ds1:389} 5e7a3c00"},
		},
		{
			name:         "bad last modified",
			values:       []string{"{replicageneration} 5e7a3b1c000000010000"},
			lastModified: []string{"{replica 1 ldap://ds1:389} nothex"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRUV(tt.values, tt.lastModified)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRUV))
			assert.False(t, errors.Is(err, ErrNoSuchEntry))
		})
	}
}

func TestRUV_Compare(t *testing.T) {
	self := mustParseRUV(t, []string{
		"{replicageneration} 5e7a3b1c000000010000",
		"{replica 1 ldap://ds1:389} 5e7a3b1d000000010000 5e7a3c00000300010000",
		"{replica 2 ldap://ds2:389} 5e7a3b20000000020000 5e7a3c10000500020000",
		"{replica 4 ldap://ds4:389} 5e7a3b20000000040000 5e7a3c10000000040000",
	})
	other := mustParseRUV(t, []string{
		"{replicageneration} 5e7a3b1c000000010000",
		"{replica 1 ldap://ds1:389} 5e7a3b1d000000010000 5e7a3c00000300010000",
		"{replica 2 ldap://ds2:389} 5e7a3b20000000020000 5e7a3c20000000020000",
		"{replica 3 ldap://ds3:389}",
	})

	diffs := self.Compare(other)
	require.Len(t, diffs, 3)

	assert.Equal(t, uint16(2), diffs[0].RID)
	assert.Equal(t, RUVBehind, diffs[0].Kind)
	assert.Equal(t, uint16(3), diffs[1].RID)
	assert.Equal(t, RUVMissingInSelf, diffs[1].Kind)
	assert.Nil(t, diffs[1].OtherMaxCSN)
	assert.Equal(t, uint16(4), diffs[2].RID)
	assert.Equal(t, RUVMissingInOther, diffs[2].Kind)

	reverse := other.Compare(self)
	require.Len(t, reverse, 3)
	assert.Equal(t, RUVAhead, reverse[0].Kind)
	assert.Equal(t, RUVMissingInOther, reverse[1].Kind)
	assert.Equal(t, RUVMissingInSelf, reverse[2].Kind)
}

func TestRUV_DominatesAndInSync(t *testing.T) {
	older := mustParseRUV(t, []string{
		"{replicageneration} 5e7a3b1c000000010000",
		"{replica 1 ldap://ds1:389} 5e7a3b1d000000010000 5e7a3c00000300010000",
		"{replica 2 ldap://ds2:389}",
	})
	newer := mustParseRUV(t, []string{
		"{replicageneration} 5e7a3b1c000000010000",
		"{replica 1 ldap://ds1:389} 5e7a3b1d000000010000 5e7a3c05000000010000",
		"{replica 2 ldap://ds2:389}",
	})
	regenerated := mustParseRUV(t, []string{
		"{replicageneration} 6000000000000000ffff",
		"{replica 1 ldap://ds1:389} 5e7a3b1d000000010000 5e7a3c05000000010000",
		"{replica 2 ldap://ds2:389}",
	})

	assert.True(t, newer.Dominates(older))
	assert.False(t, older.Dominates(newer))
	assert.True(t, newer.Dominates(newer))

	assert.True(t, newer.InSync(newer))
	assert.False(t, newer.InSync(older))
	assert.True(t, newer.Dominates(regenerated))
	assert.False(t, newer.InSync(regenerated))
	assert.Empty(t, newer.Compare(regenerated))
}

func TestRUV_OrderingAcrossRIDRange(t *testing.T) {
	ruv := mustParseRUV(t, []string{
		"{replicageneration} 5e7a3b1c000000010000",
		"{replica 65535 ldap://consumer:389}",
		"{replica 1 ldap://ds1:389}",
		"{replica 65534 ldap://ds2:389}",
	})
	empty := mustParseRUV(t, []string{"{replicageneration} 5e7a3b1c000000010000"})

	var rids []uint16
	for _, elem := range ruv.Replicas() {
		rids = append(rids, elem.RID)
	}
	assert.Equal(t, []uint16{1, 65534, 65535}, rids)

	rids = nil
	for _, d := range empty.Compare(ruv) {
		rids = append(rids, d.RID)
	}
	assert.Equal(t, []uint16{1, 65534, 65535}, rids)
}
