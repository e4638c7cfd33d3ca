// Package socktune applies spec.md §4.C socket tuning to a freshly
// connected or accepted *net.TCPConn: keepalive idle/interval/count, send
// buffer, and Nagle disable. The send timeout is carried in Options but not
// applied here (see Apply). Failures to set an individual
// option are non-fatal by design (spec.md §4.C, §7 "Tuning failure").
package socktune

import (
	"net"
	"time"

	"github.com/higebu/netfd"
	"github.com/nmeabus/nmeabus/pkg/catalog"
)

// Keepalive is a tri-state: Unset leaves SO_KEEPALIVE untouched, Disabled
// clears it, Enabled sets it (spec.md §3 "keepalive (tri-state -1/0/1)").
type Keepalive int

const (
	Unset Keepalive = iota - 1
	Disabled
	Enabled
)

// Options mirrors the tuning fields carried in the TCP shared block
// (spec.md §3): keepalive tri-state plus idle/interval/count, send timeout,
// send buffer size, and Nagle disable.
type Options struct {
	Keepalive Keepalive
	KeepIdle  int // seconds; 0 means "leave at OS default"
	KeepIntvl int
	KeepCnt   int
	SendTimeout time.Duration
	SendBuffer  int
	NoDelay     bool
}

// Apply installs opts on conn, logging (not failing) any individual setting
// that could not be applied, per spec.md §4.C.
func Apply(conn *net.TCPConn, opts Options, log *catalog.Logger) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		if log != nil {
			log.Warnf("socktune: could not extract fd from connection")
		}
		return
	}

	if opts.Keepalive != Unset {
		applyKeepalive(fd, opts, log)
	}
	// SendTimeout is not applied here: conn is a runtime-managed
	// net.Conn's fd, not a blocking socket, so SO_SNDTIMEO has no effect
	// on it (it only bounds a *blocking* syscall). tcp.WriteLoop applies
	// SendTimeout itself via SetWriteDeadline before every write instead.
	if opts.SendBuffer > 0 {
		if err := setSendBuffer(fd, opts.SendBuffer); err != nil {
			if log != nil {
				log.Warnf("socktune: SO_SNDBUF failed: %v", err)
			}
		}
	}
	if opts.NoDelay {
		if err := setNoDelay(fd, true); err != nil {
			if log != nil {
				log.Warnf("socktune: TCP_NODELAY failed: %v", err)
			}
		}
	}
}

func applyKeepalive(fd int, opts Options, log *catalog.Logger) {
	enable := opts.Keepalive == Enabled
	if err := setKeepAlive(fd, enable); err != nil {
		if log != nil {
			log.Warnf("socktune: SO_KEEPALIVE failed: %v", err)
		}
		return
	}
	if !enable {
		return
	}
	if opts.KeepIdle != 0 {
		if err := setKeepIdle(fd, opts.KeepIdle); err != nil && log != nil {
			log.Warnf("socktune: keepalive idle failed: %v", err)
		}
	}
	if opts.KeepIntvl != 0 {
		if err := setKeepIntvl(fd, opts.KeepIntvl); err != nil && log != nil {
			log.Warnf("socktune: keepalive interval failed: %v", err)
		}
	}
	if opts.KeepCnt != 0 {
		if err := setKeepCnt(fd, opts.KeepCnt); err != nil && log != nil {
			log.Warnf("socktune: keepalive count failed: %v", err)
		}
	}
}
