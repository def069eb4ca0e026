// Package resolve implements the host resolution helper from spec.md
// §2.7: accept an IPv4/IPv6 literal or a DNS name and return the list of
// addresses it maps to, used during Listen (spec.md §4.5.2 step 1).
package resolve

import (
	"context"
	"net"

	"github.com/hookbus/hookbus/internal/hookerr"
)

// Addresses resolves host to a list of IP addresses. A literal IP is
// returned as a single-element list without a network round trip; a DNS
// name is resolved via the standard resolver. Returns a *hookerr.ResolveError
// if resolution fails or yields no addresses.
func Addresses(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, &hookerr.ResolveError{Host: host, Err: err}
	}
	if len(ips) == 0 {
		return nil, &hookerr.ResolveError{Host: host}
	}
	return ips, nil
}

// First resolves host and returns its first address, matching the
// "resolve the configured host to at least one address; pick the
// first" instruction in spec.md §4.5.2.
func First(ctx context.Context, host string) (net.IP, error) {
	addrs, err := Addresses(ctx, host)
	if err != nil {
		return nil, err
	}
	return addrs[0], nil
}
