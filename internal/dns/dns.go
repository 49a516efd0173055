// Package dns resolves the relay host when the system resolver fails. This
// happens on locked-down exam machines and captive networks.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// PublicServers are tried in parallel after a local lookup fails.
var PublicServers = []string{
	"1.1.1.1", "1.0.0.1",
	"8.8.8.8", "8.8.4.4",
	"9.9.9.9", "149.112.112.112",
	"208.67.222.222",
	"[2606:4700:4700::1111]",
	"[2001:4860:4860::8888]",
}

var ErrNoAddress = errors.New("dns: no address found")

// LookupFunc resolves host. server is empty for the system resolver.
type LookupFunc func(ctx context.Context, server, host string) ([]string, error)

// Resolver tries the system resolver, then races Servers.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration
	// Lookup defaults to net.Resolver queries over port 53.
	Lookup LookupFunc
}

// Default is used by the package-level Lookup and DialContext.
var Default = &Resolver{
	Servers:      PublicServers,
	LocalTimeout: time.Second,
	RaceTimeout:  2 * time.Second,
	Lookup:       netLookup,
}

// Lookup resolves address with the Default resolver.
func Lookup(ctx context.Context, address string) (string, error) {
	return Default.Resolve(ctx, address)
}

// DialContext dials with the Default resolver. It fits
// websocket.Dialer.NetDialContext.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return Default.DialContext(ctx, network, addr)
}

// Resolve returns one IP for address, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	if ip := net.ParseIP(strings.Trim(address, "[]")); ip != nil {
		return ip.String(), nil
	}
	lookup := r.Lookup
	if lookup == nil {
		lookup = netLookup
	}

	local, cancel := context.WithTimeout(ctx, orDefault(r.LocalTimeout, time.Second))
	ips, err := lookup(local, "", address)
	cancel()
	if err == nil {
		if ip, ok := pick(ips); ok {
			return ip, nil
		}
	}
	return r.race(ctx, lookup, address)
}

func (r *Resolver) race(ctx context.Context, lookup LookupFunc, address string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", address, ErrNoAddress)
	}
	ctx, cancel := context.WithTimeout(ctx, orDefault(r.RaceTimeout, 2*time.Second))
	defer cancel()

	type answer struct {
		ip string
		ok bool
	}
	answers := make(chan answer, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ips, err := lookup(ctx, server, address)
			if err != nil {
				answers <- answer{}
				return
			}
			ip, ok := pick(ips)
			answers <- answer{ip: ip, ok: ok}
		}(server)
	}

	for range r.Servers {
		select {
		case a := <-answers:
			if a.ok {
				return a.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", address, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d servers failed: %w", address, len(r.Servers), ErrNoAddress)
}

// DialContext resolves the host of addr and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func pick(ips []string) (string, bool) {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, true
		}
	}
	if len(ips) > 0 {
		return ips[0], true
	}
	return "", false
}

func netLookup(ctx context.Context, server, host string) ([]string, error) {
	r := net.DefaultResolver
	if server != "" {
		r = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, net.JoinHostPort(strings.Trim(server, "[]"), "53"))
			},
		}
	}
	return r.LookupHost(ctx, host)
}
