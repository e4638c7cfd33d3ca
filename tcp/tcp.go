// Package tcp implements spec.md's TCP transport core: the connector
// (§4.D), the shared reconnect coordinator (§4.E), the reader and writer
// paths (§4.F/§4.G), the server accept loop (§4.H), and the initializer
// (§4.I). It is the only transport this module implements; spec.md §1
// explicitly scopes out serial/UDP/file/pty transports.
package tcp

import (
	"net"

	"github.com/nmeabus/nmeabus/iface"
)

// BufSize is the read buffer size (spec.md §4.F "blocking read of up to
// BUFSIZ bytes").
const BufSize = 8192

// Transport is spec.md §3's if_tcp: one connection, optionally backed by a
// Shared block. Non-persist interfaces carry Conn directly; persist
// interfaces carry it inside Shared instead, since both pair halves must
// observe the same swapped-in connection under the coordinator's mutex.
type Transport struct {
	// Conn is the active connection for a non-persist interface. Nil when
	// Shared is non-nil.
	Conn net.Conn
	// Shared is non-nil iff PERSIST is set (spec.md §3 "Shared block —
	// exists iff PERSIST is set").
	Shared *Shared
}

// conn returns the transport's current connection, reading it out of Shared
// under lock when persist is in play.
func (t *Transport) conn() net.Conn {
	if t.Shared != nil {
		return t.Shared.Conn()
	}
	return t.Conn
}

// Conn returns the shared connection under lock (nil means fd == -1).
func (s *Shared) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Dup implements spec.md §6's ifdup_tcp: it clones transport state for the
// paired direction. The descriptor is "shared by value" (both Transports
// hold the same net.Conn, safe for concurrent Read/Write from different
// goroutines) and the shared block is "shared by pointer" (spec.md §3).
func Dup(t *Transport) *Transport {
	return &Transport{Conn: t.Conn, Shared: t.Shared}
}

// Cleanup is wired as every TCP interface's Ops.Cleanup. For a non-persist
// interface it simply closes the connection. For a persist interface it
// runs spec.md §3 invariant 5's two-phase teardown: only the second pair
// half to clean up actually closes the connection and releases the shared
// block (spec.md §9's note that cleanup must release any lock
// unconditionally — BeginCleanup never leaves the mutex held on return, so
// there is nothing further to unwind here even if this goroutine were
// cancelled mid-cleanup).
func Cleanup(i *iface.Interface) {
	t, ok := i.Transport.(*Transport)
	if !ok {
		return
	}
	if t.Shared == nil {
		if t.Conn != nil {
			_ = t.Conn.Close()
		}
		return
	}
	if !t.Shared.BeginCleanup() {
		return
	}
	if c := t.Shared.Conn(); c != nil {
		_ = c.Close()
	}
}
