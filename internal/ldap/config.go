package ldap

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	AttrErrorLogLevel  = "nsslapd-errorlog-level"
	AttrAccessLogLevel = "nsslapd-accesslog-level"
)

// ConfigManager reads and writes attributes of cn=config.
type ConfigManager struct {
	client  Client
	timeout time.Duration
}

// NewConfigManager creates a new server configuration manager.
func NewConfigManager(client Client) *ConfigManager {
	return &ConfigManager{client: client, timeout: 30 * time.Second}
}

// SetLogLevel writes the sum of levels to nsslapd-errorlog-level and returns it.
func (cm *ConfigManager) SetLogLevel(ctx context.Context, levels ...LogLevel) (int, error) {
	return cm.setLevel(ctx, AttrErrorLogLevel, levels)
}

// SetAccessLogLevel writes the sum of levels to nsslapd-accesslog-level and returns it.
func (cm *ConfigManager) SetAccessLogLevel(ctx context.Context, levels ...LogLevel) (int, error) {
	return cm.setLevel(ctx, AttrAccessLogLevel, levels)
}

// EnableReplLogging turns on replication debugging in the error log.
func (cm *ConfigManager) EnableReplLogging(ctx context.Context) error {
	_, err := cm.SetLogLevel(ctx, LogReplica)
	return err
}

func (cm *ConfigManager) setLevel(ctx context.Context, attr string, levels []LogLevel) (int, error) {
	sum := 0
	for _, l := range levels {
		sum += int(l)
	}

	tflog.SubsystemDebug(ctx, subsystemLDAP, "Setting log level", map[string]any{
		"attribute": attr,
		"value":     sum,
	})

	err := cm.client.Modify(ctx, &ModifyRequest{
		DN:                DNConfig,
		ReplaceAttributes: map[string][]string{attr: {strconv.Itoa(sum)}},
	})
	if err != nil {
		return 0, WrapErrorWithDN("set_log_level", DNConfig, err)
	}
	return sum, nil
}

// GetAttr returns the first value of name on cn=config, or "" when unset.
func (cm *ConfigManager) GetAttr(ctx context.Context, name string) (string, error) {
	result, err := cm.client.Search(ctx, &SearchRequest{
		BaseDN:     DNConfig,
		Scope:      ScopeBaseObject,
		Filter:     "(objectclass=*)",
		Attributes: []string{name},
		TimeLimit:  cm.timeout,
	})
	if err != nil {
		return "", WrapErrorWithDN("get_config_attr", DNConfig, err)
	}
	if len(result.Entries) == 0 {
		return "", NewNoSuchEntryError("get_config_attr", DNConfig)
	}
	return result.Entries[0].GetEqualFoldAttributeValue(name), nil
}
