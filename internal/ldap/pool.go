package ldap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	// MaxConnectionPoolLimit caps MaxConnections. 389-DS serves requests
	// from a fixed worker pool (nsslapd-threadnumber), so more client
	// connections only queue on the server.
	MaxConnectionPoolLimit = 100

	// maxAuthAge bounds how long a pooled bind is trusted before rebinding.
	maxAuthAge = 5 * time.Minute

	// healthCheckSample is how many idle connections each health pass tests.
	healthCheckSample = 3
)

// connectionPool keeps bound connections to one home server.
//
// Replication state is per server: an agreement's init status, its
// schedule and the RUV all live in the configuration of the supplier being
// administered. The pool therefore pins every connection to the first
// server that accepts a bind and only moves to the next configured server
// when the home server cannot be reached. Servers are never load balanced.
type connectionPool struct {
	ctx    context.Context
	config *ConnectionConfig

	mu      sync.RWMutex
	servers []*ServerInfo
	home    int // index into servers; -1 until the first successful dial
	closed  bool

	idle chan *PooledConnection

	active    atomic.Int64
	created   atomic.Int64
	failures  atomic.Int64
	unhealthy atomic.Int64
	failovers atomic.Int64
	started   time.Time

	stopHealth chan struct{}
	healthDone sync.WaitGroup
}

// NewConnectionPool resolves the configured servers and returns an empty
// pool. Connections are dialed on first use.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := prepareTLSConfig(config); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	servers, err := resolveServers(ctx, config)
	if err != nil {
		LogPoolEvent(ctx, "pool_creation_failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	p := &connectionPool{
		ctx:        ctx,
		config:     config,
		servers:    servers,
		home:       -1,
		idle:       make(chan *PooledConnection, config.MaxConnections),
		started:    time.Now(),
		stopHealth: make(chan struct{}),
	}

	if config.HealthCheck > 0 {
		p.healthDone.Add(1)
		go p.healthLoop()
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"servers":         len(servers),
		"first_server":    ServerInfoToURL(servers[0]),
		"max_connections": config.MaxConnections,
	})
	return p, nil
}

// resolveServers returns the configured URLs in order, or the SRV records
// published for the domain.
func resolveServers(ctx context.Context, config *ConnectionConfig) ([]*ServerInfo, error) {
	if len(config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(config.LDAPURLs))
		for _, url := range config.LDAPURLs {
			server, err := ParseLDAPURL(url)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", url, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	if config.Domain == "" {
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	servers, err := NewSRVDiscovery().DiscoverServers(ctx, config.Domain)
	if err != nil {
		return nil, fmt.Errorf("SRV discovery failed: %w", err)
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}
	return servers, nil
}

// dialOrder lists servers with the home server first, followed by the rest
// in configured order.
func (p *connectionPool) dialOrder() []*ServerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.home <= 0 {
		return slices.Clone(p.servers)
	}
	order := make([]*ServerInfo, 0, len(p.servers))
	order = append(order, p.servers[p.home])
	order = append(order, p.servers[:p.home]...)
	return append(order, p.servers[p.home+1:]...)
}

// setHome records server as the home server, logging a failover when the
// home server changes.
func (p *connectionPool) setHome(server *ServerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := slices.Index(p.servers, server)
	if idx < 0 || idx == p.home {
		return
	}
	if p.home >= 0 {
		p.failovers.Add(1)
		LogPoolEvent(p.ctx, "server_failover", map[string]any{
			"from": ServerInfoToURL(p.servers[p.home]),
			"to":   ServerInfoToURL(server),
		})
	}
	p.home = idx
}

// Get returns an idle connection to the home server, or dials one.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, errors.New("connection pool is closed")
	}

	for {
		select {
		case conn := <-p.idle:
			if !p.usable(conn) {
				p.discard(conn)
				continue
			}
			if p.config.HasAuthentication() && p.needsReAuthentication(conn) {
				if err := p.bind(ctx, conn); err != nil {
					p.discard(conn)
					continue
				}
			}
			conn.lastUsed = time.Now()
			p.active.Add(1)
			return conn, nil
		default:
			return p.dial(ctx)
		}
	}
}

// dial tries each server in dial order, retrying the whole list with
// exponential backoff. Bind failures are returned at once since other
// servers of the same topology share the credentials.
func (p *connectionPool) dial(ctx context.Context) (*PooledConnection, error) {
	servers := p.dialOrder()
	backoff := p.config.InitialBackoff
	var lastErr error

	for attempt := 0; ; attempt++ {
		for _, server := range servers {
			conn, err := p.open(ctx, server)
			if err == nil {
				p.setHome(server)
				p.created.Add(1)
				p.active.Add(1)
				return conn, nil
			}

			lastErr = err
			p.failures.Add(1)
			LogPoolEvent(ctx, "connection_failed", map[string]any{
				"server":  ServerInfoToURL(server),
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			if IsAuthenticationError(err) {
				return nil, err
			}
		}

		if attempt >= p.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
	}

	LogPoolEvent(ctx, "all_connections_failed", map[string]any{"servers": len(servers)})
	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

// open connects to server, negotiating TLS as configured, and binds.
func (p *connectionPool) open(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	url := ServerInfoToURL(server)

	var opts []ldap.DialOpt
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(p.tlsConfigFor(server)))
	}
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	// ldapi:// is already local and ldaps:// already encrypted.
	if !server.IsLDAPI() && !server.UseTLS && p.config.UseTLS && !p.config.SkipTLS {
		if err := conn.StartTLS(p.tlsConfigFor(server)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS with %s failed: %w", url, err)
		}
	}
	conn.SetTimeout(p.config.Timeout)

	pc := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.put,
	}
	if p.config.HasAuthentication() {
		if err := p.bind(ctx, pc); err != nil {
			conn.Close()
			return nil, WrapErrorWithDN("bind", p.config.BindDN, fmt.Errorf("failed to authenticate connection to %s: %w", url, err))
		}
	}
	return pc, nil
}

func (p *connectionPool) bind(ctx context.Context, pc *PooledConnection) error {
	if pc == nil || pc.conn == nil {
		return errors.New("connection is nil")
	}
	pc.authenticated = false
	pc.authTime = time.Time{}

	if err := authenticate(ctx, pc.conn, p.config, pc.serverInfo); err != nil {
		return err
	}
	pc.authenticated = true
	pc.authTime = time.Now()
	return nil
}

func (p *connectionPool) needsReAuthentication(pc *PooledConnection) bool {
	return pc == nil || !pc.authenticated || time.Since(pc.authTime) > maxAuthAge
}

// put returns pc to the idle set. Connections to a server other than the
// current home server are closed so the pool converges after a failover.
func (p *connectionPool) put(pc *PooledConnection) {
	if pc == nil {
		return
	}
	p.active.Add(-1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.usable(pc) || (p.home >= 0 && pc.serverInfo != p.servers[p.home]) {
		p.discard(pc)
		return
	}
	select {
	case p.idle <- pc:
	default:
		p.discard(pc)
	}
}

func (p *connectionPool) usable(pc *PooledConnection) bool {
	switch {
	case pc == nil || pc.conn == nil || !pc.healthy || pc.conn.IsClosing():
		return false
	case time.Since(pc.lastUsed) > p.config.MaxIdleTime:
		return false
	case p.config.HasAuthentication() && !pc.authenticated:
		return false
	default:
		return true
	}
}

func (p *connectionPool) discard(pc *PooledConnection) {
	if pc == nil || pc.conn == nil {
		return
	}
	pc.conn.Close()
	pc.healthy = false
	pc.authenticated = false
	pc.authTime = time.Time{}
}

// Close stops the health checker and closes idle connections. Connections
// still checked out are closed when they are returned.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopHealth)
	p.healthDone.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.idle)
	for pc := range p.idle {
		p.discard(pc)
	}
	return nil
}

func (p *connectionPool) Stats() PoolStats {
	idle := len(p.idle)
	active := p.active.Load()

	var home string
	p.mu.RLock()
	if p.home >= 0 {
		home = ServerInfoToURL(p.servers[p.home])
	}
	p.mu.RUnlock()

	return PoolStats{
		Total:      idle + int(active),
		Active:     active,
		Idle:       idle,
		Unhealthy:  int(p.unhealthy.Load()),
		Created:    p.created.Load(),
		Errors:     p.failures.Load(),
		Failovers:  p.failovers.Load(),
		HomeServer: home,
		Uptime:     time.Since(p.started),
	}
}

// HealthCheck tests a sample of idle connections and drops broken ones.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return errors.New("pool is closed")
	}

	p.checkIdle(ctx)
	return nil
}

func (p *connectionPool) healthLoop() {
	defer p.healthDone.Done()

	ticker := time.NewTicker(p.config.HealthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
			p.checkIdle(ctx)
			cancel()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *connectionPool) checkIdle(ctx context.Context) {
	var batch []*PooledConnection
take:
	for range healthCheckSample {
		select {
		case pc, ok := <-p.idle:
			if !ok {
				break take
			}
			batch = append(batch, pc)
		default:
			break take
		}
	}

	for _, pc := range batch {
		if p.probe(ctx, pc) {
			// put decrements the active count.
			p.active.Add(1)
			p.put(pc)
			continue
		}
		p.unhealthy.Add(1)
		LogPoolEvent(ctx, "health_check_failed", map[string]any{
			"server": ServerInfoToURL(pc.serverInfo),
		})
		p.discard(pc)
	}
}

// probe rebinds if needed and reads the root DSE.
func (p *connectionPool) probe(ctx context.Context, pc *PooledConnection) bool {
	if pc == nil || pc.conn == nil {
		return false
	}
	if p.config.HasAuthentication() && p.needsReAuthentication(pc) {
		if err := p.bind(ctx, pc); err != nil {
			return false
		}
	}
	if _, err := pc.conn.Search(rootDSESearchRequest("vendorVersion")); err != nil {
		tflog.SubsystemDebug(ctx, subsystemPool, "Root DSE probe failed", map[string]any{"error": err.Error()})
		pc.authenticated = false
		return false
	}
	pc.lastUsed = time.Now()
	return true
}

func validateConfig(config *ConnectionConfig) error {
	switch {
	case config.MaxConnections <= 0:
		return errors.New("MaxConnections must be positive")
	case config.MaxConnections > MaxConnectionPoolLimit:
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	case config.MaxIdleTime <= 0:
		return errors.New("MaxIdleTime must be positive")
	case config.Timeout <= 0:
		return errors.New("timeout must be positive")
	case config.MaxRetries < 0:
		return errors.New("MaxRetries cannot be negative")
	case config.BackoffFactor <= 1.0:
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

func (pc *PooledConnection) Conn() *ldap.Conn { return pc.conn }

func (pc *PooledConnection) ServerInfo() *ServerInfo { return pc.serverInfo }

func (pc *PooledConnection) IsHealthy() bool { return pc.healthy }

func (pc *PooledConnection) LastUsed() time.Time { return pc.lastUsed }
