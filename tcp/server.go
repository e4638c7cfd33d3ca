package tcp

import (
	"net"

	"github.com/higebu/netfd"
	"github.com/rs/xid"

	"github.com/nmeabus/nmeabus/filter"
	"github.com/nmeabus/nmeabus/iface"
	"github.com/nmeabus/nmeabus/pkg/catalog"
	"github.com/nmeabus/nmeabus/pkg/socktune"
	"github.com/nmeabus/nmeabus/senblk"
	"github.com/nmeabus/nmeabus/tag"
)

// Server implements spec.md §4.H's tcp_server accept loop: it listens,
// accepts, and spawns a fresh per-connection interface (or IN/OUT pair, for
// a BOTH-mode listener) for every accepted socket.
type Server struct {
	ID          uint32
	Name        string
	Direction   iface.Direction
	QueueSize   int
	Filters     *filter.Chain
	TagFlags    tag.Flags
	NoDelay     bool
	Log         *catalog.Logger

	// InSink is the engine's shared inbound senblk sink: every accepted
	// connection's reader delivers into the same funnel, matching
	// spec.md §4.H's "the accepted interface... duplicated into a paired
	// OUT/IN pair using the engine's shared inbound queue for the IN
	// side". It is exposed as a Sink rather than a *senblk.Queue so the
	// caller can plug in whatever consumes inbound traffic (a framer, a
	// fan-out to multiple outbound queues, etc.) without this package
	// depending on that shape.
	InSink func([]byte)

	// NewOutQueue builds the per-connection outbound queue for the OUT
	// half of an accepted BOTH connection. Nil for IN-only listeners.
	NewOutQueue func() *senblk.Queue

	// spawn is overridable in tests; defaults to starting i.Run() on its
	// own goroutine.
	spawn func(*iface.Interface)

	// stopped is read under no lock: Stop is expected to be the only
	// writer, called from outside the Accept loop's goroutine, which is
	// racy by spec design (spec.md §5: "in-flight accept is not
	// interrupted — acceptable, clean termination is an external
	// concern"). We keep it an ordinary field to match that.
	stopped bool
}

// Serve runs the accept loop until Stop is called. A failed Accept is logged
// and the loop continues; Serve returns nil once it observes Stop. Callers
// run it on its own goroutine.
func (srv *Server) Serve(ln net.Listener) error {
	spawn := srv.spawn
	if spawn == nil {
		spawn = func(i *iface.Interface) { go i.Run() }
	}

	for !srv.stopped {
		conn, err := ln.Accept()
		if err != nil {
			if srv.stopped {
				return nil
			}
			if srv.Log != nil {
				srv.Log.Warnf("tcp: accept failed: %v", err)
			}
			continue
		}
		srv.handleAccepted(conn, spawn)
	}
	return nil
}

// Stop sets the server's direction to NONE, the spec.md §5 termination
// mechanism: "Server termination is driven by setting the listener's
// direction = NONE; in-flight accept is not interrupted." Since Go's
// net.Listener.Accept blocks with no portable non-blocking poll, callers
// that need Stop to actually unblock Accept should also close ln.
func (srv *Server) Stop() {
	srv.stopped = true
	srv.Direction = iface.NONE
}

func (srv *Server) handleAccepted(conn net.Conn, spawn func(*iface.Interface)) {
	fd := -1
	if tc, ok := conn.(*net.TCPConn); ok {
		fd = netfd.GetFdFromConn(tc)
		if srv.NoDelay {
			socktune.Apply(tc, socktune.Options{NoDelay: true}, srv.Log)
		}
	}

	// spec.md §4.H: "id (low bits OR'd with fd & IDMINORMASK)".
	id := srv.ID | (uint32(fd) & iface.IDMinorMask)
	corrID := xid.New() // correlation id for structured logs, alongside the id scheme above

	log := srv.Log
	if log != nil {
		log = log.With(map[string]any{
			"iface": srv.Name,
			"id":    id,
			"cid":   corrID.String(),
			"peer":  conn.RemoteAddr().String(),
		})
	}

	transport := &Transport{Conn: conn}

	if srv.Direction != iface.BOTH {
		i := iface.New(id, srv.Name, srv.Direction, 0)
		i.Transport = transport
		i.Filters = srv.Filters.Clone()
		i.TagFlags = srv.TagFlags
		i.Log = log
		i.Sink = srv.InSink
		if srv.Direction == iface.OUT && srv.NewOutQueue != nil {
			i.Queue = srv.NewOutQueue()
		}
		wireOps(i)
		spawn(i)
		return
	}

	inIface := iface.New(id, srv.Name, iface.IN, 0)
	outIface := iface.New(id, srv.Name, iface.OUT, 0)
	inIface.Transport = transport
	outIface.Transport = Dup(transport)
	inIface.Pair = outIface
	outIface.Pair = inIface
	inIface.Filters = srv.Filters.Clone()
	outIface.Filters = inIface.Filters
	outIface.TagFlags = srv.TagFlags
	inIface.Log = log
	outIface.Log = log
	inIface.Sink = srv.InSink
	if srv.NewOutQueue != nil {
		outIface.Queue = srv.NewOutQueue()
	}
	wireOps(inIface)
	wireOps(outIface)
	spawn(inIface)
	spawn(outIface)
}

// wireOps installs the TCP read/write/cleanup entry points appropriate to
// i.Direction: ReadLoop for IN, WriteLoop for OUT, Cleanup for both. It is
// used for connected clients and for every server-spawned per-connection
// interface; the listener itself is not an Interface and runs Server.Serve.
func wireOps(i *iface.Interface) {
	switch i.Direction {
	case iface.IN:
		i.Ops = iface.Ops{Read: ReadLoop, Cleanup: Cleanup}
	case iface.OUT:
		i.Ops = iface.Ops{Write: WriteLoop, Cleanup: Cleanup}
	}
}
