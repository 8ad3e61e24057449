package ldap

import "strings"

// Well-known 389 Directory Server configuration DNs.
const (
	DNConfig           = "cn=config"
	DNMappingTree      = "cn=mapping tree,cn=config"
	DNPlugins          = "cn=plugins,cn=config"
	DNLDBM             = "cn=ldbm database,cn=plugins,cn=config"
	DNChain            = "cn=chaining database,cn=plugins,cn=config"
	DNChangelog        = "cn=changelog5,cn=config"
	DNDirectoryManager = "cn=Directory Manager"

	// CfgSuffix is the configuration directory suffix of the admin server.
	CfgSuffix = "o=NetscapeRoot"
)

// ReplicaRole is the topology role requested when a replica is set up.
type ReplicaRole int

const (
	RoleMaster ReplicaRole = iota
	RoleHub
	RoleLeaf
)

// String returns the role name used in configuration and CLI output.
func (r ReplicaRole) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleHub:
		return "hub"
	case RoleLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// MarshalText renders the role name in JSON and YAML output.
func (r ReplicaRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseReplicaRole accepts master/supplier, hub and leaf/consumer.
func ParseReplicaRole(s string) (ReplicaRole, bool) {
	switch strings.ToLower(s) {
	case "master", "supplier":
		return RoleMaster, true
	case "hub":
		return RoleHub, true
	case "leaf", "consumer":
		return RoleLeaf, true
	default:
		return 0, false
	}
}

// Values stored in nsds5replicatype.
const (
	ReplicaTypeWriteOnly = 1
	ReplicaTypeReadOnly  = 2 // consumers and hubs
	ReplicaTypeReadWrite = ReplicaTypeReadOnly | ReplicaTypeWriteOnly
)

// ReplicaType maps a role to the nsds5replicatype it is stored as.
func (r ReplicaRole) ReplicaType() int {
	if r == RoleMaster {
		return ReplicaTypeReadWrite
	}
	return ReplicaTypeReadOnly
}

// Replica ID bounds.
const (
	MinReplicaID       = 1
	MaxMasterReplicaID = 65534
	ReadOnlyReplicaID  = 65535 // shared by all hubs and consumers
)

// LogLevel is a bit in nsslapd-errorlog-level.
type LogLevel int

const (
	LogTrace        LogLevel = 1
	LogTracePackets LogLevel = 2
	LogTraceHeavy   LogLevel = 4
	LogConnect      LogLevel = 8
	LogPacket       LogLevel = 16
	LogSearchFilter LogLevel = 32
	LogConfigParser LogLevel = 64
	LogACL          LogLevel = 128
	LogEntryParser  LogLevel = 2048
	LogHousekeeping LogLevel = 4096
	LogReplica      LogLevel = 8192
	LogDefault      LogLevel = 16384
	LogCache        LogLevel = 32768
	LogPlugin       LogLevel = 65536
	LogMicroseconds LogLevel = 131072
	LogACLSummary   LogLevel = 262144
)

// logLevelNames maps the names accepted by ParseLogLevel.
var logLevelNames = map[string]LogLevel{
	"trace":         LogTrace,
	"trace_packets": LogTracePackets,
	"trace_heavy":   LogTraceHeavy,
	"connect":       LogConnect,
	"packet":        LogPacket,
	"search_filter": LogSearchFilter,
	"config_parser": LogConfigParser,
	"acl":           LogACL,
	"entry_parser":  LogEntryParser,
	"housekeeping":  LogHousekeeping,
	"replica":       LogReplica,
	"default":       LogDefault,
	"cache":         LogCache,
	"plugin":        LogPlugin,
	"microseconds":  LogMicroseconds,
	"acl_summary":   LogACLSummary,
}

// ParseLogLevel resolves a level name such as "replica" or "acl_summary".
func ParseLogLevel(name string) (LogLevel, bool) {
	l, ok := logLevelNames[name]
	return l, ok
}

// LogLevelNames returns the accepted level names.
func LogLevelNames() []string {
	names := make([]string, 0, len(logLevelNames))
	for name := range logLevelNames {
		names = append(names, name)
	}
	return names
}

// Replication update schedules (nsds5replicaupdateschedule).
const (
	ScheduleStop   = "2358-2359 0"
	ScheduleStart  = "0000-2359 0123456"
	ScheduleAlways = "" // no schedule attribute: replicate continuously
)

// Replication agreement and replica attributes.
const (
	AttrBeginReplicaRefresh    = "nsds5BeginReplicaRefresh"
	AttrUpdateInProgress       = "nsds5replicaUpdateInProgress"
	AttrLastInitStatus         = "nsds5ReplicaLastInitStatus"
	AttrLastInitStart          = "nsds5ReplicaLastInitStart"
	AttrLastInitEnd            = "nsds5ReplicaLastInitEnd"
	AttrReapActive             = "nsds5replicaReapActive"
	AttrLastUpdateStart        = "nsds5replicaLastUpdateStart"
	AttrLastUpdateEnd          = "nsds5replicaLastUpdateEnd"
	AttrLastUpdateStatus       = "nsds5replicaLastUpdateStatus"
	AttrChangesSent            = "nsds5replicaChangesSentSinceStartup"
	AttrChangesSkipped         = "nsds5replicaChangesSkippedSinceStartup"
	AttrReplicaHost            = "nsds5ReplicaHost"
	AttrReplicaPort            = "nsds5ReplicaPort"
	AttrUpdateSchedule         = "nsds5replicaupdateschedule"
	AttrReplicaRoot            = "nsds5replicaroot"
	AttrRUV                    = "nsds50ruv"
	AttrRUVReplicaLastModified = "nsruvReplicaLastModified"
)
