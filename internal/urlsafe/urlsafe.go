// Package urlsafe decides whether a user-supplied URL may be fetched by the
// server. It is the SSRF guard for page scraping and image downloads.
//
// The check runs when a URL is submitted. Nothing re-validates the address the
// HTTP client eventually connects to, so DNS rebinding between the check and
// the fetch is not covered here.
package urlsafe

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
)

const defaultLookupTimeout = 5 * time.Second

// Resolver is the subset of net.Resolver the validator needs.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Validator classifies URLs as fetch-safe or not.
type Validator struct {
	Resolver      Resolver
	LookupTimeout time.Duration
}

// New returns a Validator backed by the system resolver.
func New() *Validator {
	return &Validator{Resolver: net.DefaultResolver, LookupTimeout: defaultLookupTimeout}
}

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"0.0.0.0":   {},
}

// IsSafe reports whether raw is an http(s) URL whose host resolves only to
// public addresses. Any parse or lookup failure is treated as unsafe.
func (v *Validator) IsSafe(ctx context.Context, raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return false
	}
	if _, blocked := blockedHosts[host]; blocked || strings.HasSuffix(host, ".localhost") {
		return false
	}

	if ip := net.ParseIP(host); ip != nil {
		return isPublic(ip)
	}

	ips, err := v.lookup(ctx, host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if !isPublic(ip) {
			return false
		}
	}
	return true
}

func (v *Validator) lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := v.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return resolver.LookupIP(ctx, "ip", host)
}

// isPublic rejects loopback (127/8, ::1), RFC 1918 private ranges
// (10/8, 172.16/12, 192.168/16, fc00::/7), link-local and unspecified addresses.
func isPublic(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsMulticast():
		return false
	}
	return true
}
