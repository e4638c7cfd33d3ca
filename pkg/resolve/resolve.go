// Package resolve implements spec.md §4.B: resolving (host, service) pairs
// with address-family-agnostic, stream-socket hints, classifying DNS
// failures as transient or hard.
package resolve

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// ErrTransient wraps a resolution failure spec.md classifies as transient
// (EAI_AGAIN, EAI_FAIL and, inside the connector retry loop, "no such
// host"/"no such service" too — spec.md §4.B, §7).
type ErrTransient struct {
	Err error
}

func (e *ErrTransient) Error() string { return "resolve: transient: " + e.Err.Error() }
func (e *ErrTransient) Unwrap() error { return e.Err }

// Addr is one resolved candidate address.
type Addr struct {
	Network string // "tcp4" or "tcp6"
	IP      net.IP
	Port    int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// Resolve resolves host/service for a client (passive=false) or server
// (passive=true, spec.md §4.B "for servers, the passive flag is set").
// Every DNS/network error is classified: transient errors are wrapped in
// ErrTransient so callers (the connector's retry loop, the initializer's
// initial-persist arm-deferred-connect branch) can distinguish them from
// hard failures without inspecting error strings themselves.
func Resolve(ctx context.Context, host, service string, passive bool) ([]Addr, error) {
	if passive && host == "" {
		host = "0.0.0.0"
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "tcp", service)
	if err != nil {
		if isTransient(err) {
			return nil, &ErrTransient{Err: err}
		}
		return nil, err
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		if isTransient(err) {
			return nil, &ErrTransient{Err: err}
		}
		return nil, err
	}

	addrs := make([]Addr, 0, len(ips))
	for _, ip := range ips {
		network := "tcp6"
		if ip.IP.To4() != nil {
			network = "tcp4"
		}
		addrs = append(addrs, Addr{Network: network, IP: ip.IP, Port: port})
	}
	if len(addrs) == 0 {
		return nil, errors.New("resolve: no addresses returned")
	}
	return addrs, nil
}

// isTransient classifies a DNS error the way spec.md §4.B/§7 does: temporary
// resolver failures (EAI_AGAIN/EAI_FAIL equivalents) are transient; a
// definitive "no such host" is treated as transient too, whichever caller
// reaches it, since a host that doesn't resolve *yet* may resolve once DNS
// propagates or network configuration settles.
func isTransient(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary()
	}
	return false
}
