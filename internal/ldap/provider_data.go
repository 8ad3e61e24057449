package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ProviderData bundles the LDAP client with the managers built on it. The
// Terraform provider hands one instance to every resource and data source,
// and the CLI builds one per invocation.
type ProviderData struct {
	Client       Client
	ReplicaCache *ReplicaCache

	Replicas    *ReplicaManager
	Agreements  *AgreementManager
	Backends    *BackendManager
	MappingTree *MappingTreeManager
	Config      *ConfigManager
	BindDNs     *BindDNManager
}

// NewProviderData wires managers around client. cache may be nil.
func NewProviderData(client Client, cache *ReplicaCache) *ProviderData {
	if cache == nil {
		cache = NewReplicaCache()
	}
	replicas := NewReplicaManager(client, cache)

	return &ProviderData{
		Client:       client,
		ReplicaCache: cache,
		Replicas:     replicas,
		Agreements:   NewAgreementManager(client, replicas),
		Backends:     NewBackendManager(client),
		MappingTree:  NewMappingTreeManager(client),
		Config:       NewConfigManager(client),
		BindDNs:      NewBindDNManager(client),
	}
}

// SetTimeout applies an LDAP operation timeout to every manager.
func (pd *ProviderData) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	pd.Replicas.SetTimeout(timeout)
	pd.Agreements.SetTimeout(timeout)
	pd.Backends.SetTimeout(timeout)
	pd.MappingTree.SetTimeout(timeout)
	pd.Config.timeout = timeout
	pd.BindDNs.timeout = timeout
}

// ValidateConnection pings the server.
func (pd *ProviderData) ValidateConnection(ctx context.Context) error {
	if pd.Client == nil {
		return fmt.Errorf("LDAP client is not initialized")
	}

	if err := pd.Client.Ping(ctx); err != nil {
		return fmt.Errorf("LDAP client connection failed: %w", err)
	}

	tflog.Debug(ctx, "Provider data validation successful")
	return nil
}

// WarmCache loads every replica on the server into the replica cache.
func (pd *ProviderData) WarmCache(ctx context.Context) error {
	start := time.Now()
	if err := pd.ReplicaCache.Warm(ctx, pd.Replicas); err != nil {
		tflog.Error(ctx, "Replica cache warming failed", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("cache warming failed: %w", err)
	}

	tflog.Info(ctx, "Replica cache warmed", map[string]any{
		"stats":       pd.ReplicaCache.GetStats().String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// GetCombinedStats returns replica cache and connection pool statistics.
func (pd *ProviderData) GetCombinedStats() map[string]any {
	stats := make(map[string]any)

	if pd.ReplicaCache != nil {
		cacheStats := pd.ReplicaCache.GetStats()
		stats["cache"] = map[string]any{
			"hits":         cacheStats.Hits,
			"misses":       cacheStats.Misses,
			"entries":      cacheStats.Entries,
			"hit_rate":     cacheStats.HitRate,
			"warming_runs": cacheStats.WarmingRuns,
			"last_warmed":  cacheStats.LastWarmed,
		}
	}

	if pd.Client != nil {
		poolStats := pd.Client.Stats()
		stats["pool"] = map[string]any{
			"total":          poolStats.Total,
			"active":         poolStats.Active,
			"idle":           poolStats.Idle,
			"unhealthy":      poolStats.Unhealthy,
			"created":        poolStats.Created,
			"errors":         poolStats.Errors,
			"failovers":      poolStats.Failovers,
			"home_server":    poolStats.HomeServer,
			"uptime_seconds": poolStats.Uptime.Seconds(),
		}
	}

	return stats
}

// Close clears the replica cache and closes the client.
func (pd *ProviderData) Close() error {
	if pd.ReplicaCache != nil {
		pd.ReplicaCache.Clear()
	}
	if pd.Client != nil {
		if err := pd.Client.Close(); err != nil {
			return fmt.Errorf("failed to close LDAP client: %w", err)
		}
	}
	return nil
}
