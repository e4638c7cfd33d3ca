//go:build !linux

package tcpinfo

import "errors"

// Info mirrors the Linux variant's shape so callers don't need a build tag
// of their own.
type Info struct {
	State        uint8
	Retransmits  uint8
	RTT          uint32
	RTTVar       uint32
	TotalRetrans uint32
}

var ErrUnsupported = errors.New("tcpinfo: TCP_INFO is only implemented on Linux")

// Get always fails outside Linux; pkg/exporter treats that as "no tcp_info
// metrics for this connection" rather than a fatal error.
func Get(fd int) (*Info, error) {
	return nil, ErrUnsupported
}
