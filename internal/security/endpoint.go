package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

var ErrEndpointRejected = errors.New("endpoint not allowed")

// Resolver looks up the addresses of a webhook host.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
}

// Shared address space (RFC 6598), not covered by netip's IsPrivate.
var carrierNAT = netip.MustParsePrefix("100.64.0.0/10")

// EndpointValidator decides whether the server may POST to a
// subscriber-supplied URL.
type EndpointValidator struct {
	RequireHTTPS bool
	AllowPrivate bool // development: receivers on localhost
	Resolver     Resolver
	Timeout      time.Duration
}

// ValidateEndpointURL applies the default policy: http or https to a
// public address.
func ValidateEndpointURL(rawURL string) error {
	return EndpointValidator{}.Validate(rawURL)
}

// Validate checks the URL literal and, for host names, every resolved
// address.
func (v EndpointValidator) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrEndpointRejected)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !v.RequireHTTPS:
	case v.RequireHTTPS:
		return fmt.Errorf("%w: scheme must be https", ErrEndpointRejected)
	default:
		return fmt.Errorf("%w: scheme must be http or https", ErrEndpointRejected)
	}
	if u.Host == "" || u.User != nil {
		return fmt.Errorf("%w: URL must have a host and no credentials", ErrEndpointRejected)
	}
	if v.AllowPrivate {
		return nil
	}

	host := strings.ToLower(u.Hostname())
	if blockedHosts[host] || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: host %q", ErrEndpointRejected, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: cannot resolve %s", ErrEndpointRejected, host)
	}
	for _, a := range addrs {
		if err := checkAddr(a); err != nil {
			return fmt.Errorf("%s resolves to blocked address: %w", host, err)
		}
	}
	return nil
}

func checkAddr(a netip.Addr) error {
	a = a.Unmap()
	switch {
	case a.IsLoopback():
		return fmt.Errorf("%w: loopback address", ErrEndpointRejected)
	case a.IsPrivate(), carrierNAT.Contains(a):
		return fmt.Errorf("%w: private address", ErrEndpointRejected)
	case a.IsLinkLocalUnicast(), a.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address", ErrEndpointRejected)
	case a.IsUnspecified(), a.IsMulticast():
		return fmt.Errorf("%w: non-unicast address", ErrEndpointRejected)
	}
	return nil
}
