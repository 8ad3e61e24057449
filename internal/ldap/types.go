package ldap

import (
	"context"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Client is the directory access used by the replication managers, the
// provider and the CLI.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	Bind(ctx context.Context, bindDN, password string) error
	// BindWithConfig authenticates with the method the ConnectionConfig selects.
	BindWithConfig(ctx context.Context) error

	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	ModifyDN(ctx context.Context, req *ModifyDNRequest) error
	Delete(ctx context.Context, dn string) error

	WhoAmI(ctx context.Context) (*WhoAmIResult, error)
	RootDSE(ctx context.Context) (*RootDSE, error)

	Ping(ctx context.Context) error
	Stats() PoolStats
}

// ConnectionPool hands out bound connections to one home server.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)
	Close() error
	Stats() PoolStats
	// HealthCheck probes a sample of idle connections.
	HealthCheck(ctx context.Context) error
}

// PooledConnection is a bound connection checked out of a pool. Close
// returns it.
type PooledConnection struct {
	conn          *ldap.Conn
	serverInfo    *ServerInfo
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	returnToPool  func(*PooledConnection)
}

// ServerInfo is one directory server, configured or discovered.
type ServerInfo struct {
	Host       string
	Port       int
	UseTLS     bool
	SocketPath string // ldapi:// only
	Priority   int
	Weight     int
	Source     string // "config", "srv" or "fallback"
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Total     int
	Active    int64
	Idle      int
	Unhealthy int
	Created   int64
	Errors    int64
	Uptime    time.Duration

	// HomeServer is the URL every connection is pinned to, empty before
	// the first dial. Failovers counts home server changes.
	HomeServer string
	Failovers  int64
}

type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult holds the entries found. HasMore reports that a size,
// page or time limit cut the result short.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest changes one entry. DeleteAttributes removes every value of
// the named attributes.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteAttributes  []string
}

type ModifyDNRequest struct {
	DN           string
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  string
}

// WhoAmIResult is a parsed RFC 4532 authorization identity.
type WhoAmIResult struct {
	AuthzID string
	Format  string // "dn", "u", "empty" or "unknown"
	DN      string
	User    string
}

// RootDSE holds the root DSE attributes read by RootDSE.
type RootDSE struct {
	NamingContexts          []string
	DefaultNamingContext    string
	VendorName              string
	VendorVersion           string
	SupportedLDAPVersion    []string
	SupportedSASLMechanisms []string
	SupportedExtensions     []string
}

// SearchScope mirrors the go-ldap scope values.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

var scopeNames = [...]string{"base", "one", "sub"}

// String returns the RFC 4516 name of the scope.
func (s SearchScope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return "unknown"
	}
	return scopeNames[s]
}

// DerefAliases mirrors the go-ldap alias dereferencing values.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)
