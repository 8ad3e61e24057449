package ldap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// CacheStats provides statistics about replica cache usage.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Entries     int64
	WarmingRuns int64
	LastWarmed  time.Time
	HitRate     float64
}

// ReplicaCache is a concurrent cache of replica records keyed by normalized
// suffix and by replica entry DN.
type ReplicaCache struct {
	bySuffix sync.Map // normalized suffix -> *Replica
	byDN     sync.Map // normalized DN -> normalized suffix

	statsMu sync.RWMutex
	stats   CacheStats
}

// NewReplicaCache creates an empty replica cache.
func NewReplicaCache() *ReplicaCache {
	return &ReplicaCache{}
}

func cacheKey(dn string) string {
	return MustNormalizeDN(dn)
}

// Put stores or replaces the record for replica.Suffix.
func (rc *ReplicaCache) Put(replica *Replica) error {
	if replica == nil {
		return fmt.Errorf("replica cannot be nil")
	}
	if replica.Suffix == "" || replica.DN == "" {
		return fmt.Errorf("replica must have a suffix and a DN")
	}

	suffix := cacheKey(replica.Suffix)
	cached := *replica
	cached.CachedAt = time.Now()

	if _, loaded := rc.bySuffix.Swap(suffix, &cached); !loaded {
		rc.statsMu.Lock()
		rc.stats.Entries++
		rc.statsMu.Unlock()
	}
	rc.byDN.Store(cacheKey(replica.DN), suffix)
	return nil
}

// Get looks a replica up by suffix or by replica entry DN.
func (rc *ReplicaCache) Get(identifier string) (*Replica, bool) {
	key := cacheKey(identifier)

	if v, ok := rc.bySuffix.Load(key); ok {
		rc.recordHit(true)
		return v.(*Replica), true
	}
	if suffix, ok := rc.byDN.Load(key); ok {
		if v, ok := rc.bySuffix.Load(suffix); ok {
			rc.recordHit(true)
			return v.(*Replica), true
		}
		rc.byDN.Delete(key)
	}

	rc.recordHit(false)
	return nil, false
}

// Delete drops the record for suffix.
func (rc *ReplicaCache) Delete(suffix string) {
	v, ok := rc.bySuffix.LoadAndDelete(cacheKey(suffix))
	if !ok {
		return
	}
	rc.byDN.Delete(cacheKey(v.(*Replica).DN))

	rc.statsMu.Lock()
	rc.stats.Entries--
	rc.statsMu.Unlock()
}

// Clear removes all records. Hit and miss counters are kept.
func (rc *ReplicaCache) Clear() {
	rc.bySuffix.Clear()
	rc.byDN.Clear()

	rc.statsMu.Lock()
	rc.stats.Entries = 0
	rc.statsMu.Unlock()
}

// Warm replaces the cache contents with every replica configured on the server.
func (rc *ReplicaCache) Warm(ctx context.Context, manager *ReplicaManager) error {
	start := time.Now()

	replicas, err := manager.List(ctx, "")
	if err != nil {
		return WrapError("cache_warm", err)
	}

	rc.Clear()
	for _, replica := range replicas {
		if err := rc.Put(replica); err != nil {
			tflog.SubsystemWarn(ctx, subsystemReplication, "Skipping replica during cache warming", map[string]any{
				"dn":    replica.DN,
				"error": err.Error(),
			})
		}
	}

	rc.statsMu.Lock()
	rc.stats.WarmingRuns++
	rc.stats.LastWarmed = time.Now()
	rc.statsMu.Unlock()

	tflog.SubsystemDebug(ctx, subsystemReplication, "Replica cache warmed", map[string]any{
		"replicas":    len(replicas),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// GetStats returns current cache statistics.
func (rc *ReplicaCache) GetStats() CacheStats {
	rc.statsMu.RLock()
	defer rc.statsMu.RUnlock()

	stats := rc.stats
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Suffixes returns the cached suffixes.
func (rc *ReplicaCache) Suffixes() []string {
	var out []string
	rc.bySuffix.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

func (rc *ReplicaCache) recordHit(hit bool) {
	rc.statsMu.Lock()
	defer rc.statsMu.Unlock()
	if hit {
		rc.stats.Hits++
	} else {
		rc.stats.Misses++
	}
}

// String summarizes the cache for debug logs.
func (s CacheStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entries=%d hits=%d misses=%d", s.Entries, s.Hits, s.Misses)
	if s.HitRate > 0 {
		fmt.Fprintf(&b, " hit_rate=%.1f%%", s.HitRate)
	}
	return b.String()
}
