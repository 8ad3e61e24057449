package ldap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Default 389 Directory Server listener ports.
const (
	DefaultLDAPPort  = 389
	DefaultLDAPSPort = 636

	// DefaultLDAPISocket is the ldapi socket path used when an ldapi:// URL names none.
	DefaultLDAPISocket = "/var/run/slapd/ldapi"
)

// srvResolver is the part of *net.Resolver discovery uses.
type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery locates directory servers through DNS SRV records.
type SRVDiscovery struct {
	resolver srvResolver
}

func NewSRVDiscovery() *SRVDiscovery {
	return &SRVDiscovery{resolver: net.DefaultResolver}
}

// srvServices are tried in order. LDAPS records win when present.
var srvServices = []struct {
	prefix string
	useTLS bool
}{
	{"_ldaps._tcp.", true},
	{"_ldap._tcp.", false},
}

// DiscoverServers returns the servers advertised for domain in RFC 2782
// order. With no records the domain itself is tried on the default ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	start := time.Now()
	tflog.SubsystemDebug(ctx, subsystemLDAP, "Starting server discovery", map[string]any{"domain": domain})

	var servers []*ServerInfo
	for _, svc := range srvServices {
		found, err := d.lookupSRV(ctx, svc.prefix+domain, svc.useTLS)
		if err != nil {
			tflog.SubsystemDebug(ctx, subsystemLDAP, "SRV lookup failed, trying next service", map[string]any{
				"service": svc.prefix + domain,
				"error":   err.Error(),
			})
			continue
		}
		servers = append(servers, found...)
		if svc.useTLS {
			break
		}
	}

	fields := map[string]any{"domain": domain, "duration": time.Since(start).String()}
	if len(servers) == 0 {
		tflog.SubsystemDebug(ctx, subsystemLDAP, "No SRV records found, using fallback servers", fields)
		return fallbackServers(domain), nil
	}

	sortServersByPriority(servers)
	fields["server_count"] = len(servers)
	tflog.SubsystemDebug(ctx, subsystemLDAP, "Server discovery completed", fields)
	return servers, nil
}

func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	switch {
	case err != nil:
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	case len(records) == 0:
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, len(records))
	for i, srv := range records {
		servers[i] = &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		}
	}
	return servers, nil
}

func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: DefaultLDAPSPort, UseTLS: true, Weight: 100, Source: "fallback"},
		{Host: domain, Port: DefaultLDAPPort, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority orders by ascending priority, then descending weight.
func sortServersByPriority(servers []*ServerInfo) {
	slices.SortStableFunc(servers, func(a, b *ServerInfo) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(b.Weight, a.Weight))
	})
}

// ValidateServerInfo checks a server's address. ldapi sockets must be
// absolute paths.
func ValidateServerInfo(server *ServerInfo) error {
	switch {
	case server == nil:
		return errors.New("server info cannot be nil")
	case server.SocketPath != "" && !strings.HasPrefix(server.SocketPath, "/"):
		return fmt.Errorf("ldapi socket path must be absolute: %s", server.SocketPath)
	case server.SocketPath != "":
		return nil
	case server.Host == "":
		return errors.New("server host cannot be empty")
	case server.Port <= 0 || server.Port > 65535:
		return fmt.Errorf("invalid port number: %d", server.Port)
	case server.Priority < 0:
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	case server.Weight < 0:
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}
	return nil
}

// ServerInfoToURL converts ServerInfo to an LDAP URL accepted by ldap.DialURL.
func ServerInfoToURL(server *ServerInfo) string {
	if server.SocketPath != "" {
		return "ldapi://" + server.SocketPath
	}

	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

// IsLDAPI reports whether the server is reached over a local unix socket.
func (s *ServerInfo) IsLDAPI() bool {
	return s != nil && s.SocketPath != ""
}

// ParseLDAPURL parses an ldap://, ldaps:// or ldapi:// URL into ServerInfo.
// ldapi URLs carry the socket path either percent-encoded in the host part
// (ldapi://%2Fvar%2Frun%2Fslapd-x.socket) or as the path (ldapi:///var/run/slapd-x.socket).
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, errors.New("URL cannot be empty")
	}

	server := &ServerInfo{
		Priority: 0,
		Weight:   100,
		Source:   "config",
	}

	// net/url rejects percent-escapes in the host, so ldapi is split by hand.
	if len(rawURL) >= 8 && strings.EqualFold(rawURL[:8], "ldapi://") {
		socket, err := parseLDAPISocket(rawURL[8:])
		if err != nil {
			return nil, fmt.Errorf("invalid LDAP URL %q: %w", rawURL, err)
		}
		server.SocketPath = socket
		return server, ValidateServerInfo(server)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS = true
		server.Port = DefaultLDAPSPort
	case "ldap":
		server.Port = DefaultLDAPPort
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap://, ldaps:// or ldapi://", u.Scheme)
	}

	server.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		server.Port = port
	}

	return server, ValidateServerInfo(server)
}

func parseLDAPISocket(rest string) (string, error) {
	if strings.HasPrefix(rest, "/") {
		if rest == "/" {
			return DefaultLDAPISocket, nil
		}
		return rest, nil
	}

	host, _, _ := strings.Cut(rest, "/")
	if host == "" {
		return DefaultLDAPISocket, nil
	}
	return url.PathUnescape(host)
}
