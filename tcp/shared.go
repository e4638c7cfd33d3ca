package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/nmeabus/nmeabus/pkg/catalog"
	"github.com/nmeabus/nmeabus/pkg/exporter"
	"github.com/nmeabus/nmeabus/pkg/socktune"
)

// RepairRole is the outcome of Shared.LeaveIOFail: spec.md §9's suggested
// replacement for a raw condition variable wait, naming what the calling
// goroutine must do next.
type RepairRole int

const (
	// RepairRoleGiveUp means the connection is permanently dead (fd == -1
	// in spec.md terms); the caller should exit its read/write loop.
	RepairRoleGiveUp RepairRole = iota
	// RepairRoleWaitForPeer means another goroutine already owns the
	// repair; it has completed (successfully or not) by the time this
	// value is returned, so the caller should simply loop and re-enter
	// the coordinator to observe the outcome.
	RepairRoleWaitForPeer
	// RepairRoleRepair means this goroutine owns the repair: it must
	// perform reconnection (or, for the reader, a non-blocking reread
	// probe first) and report the outcome via FinishRepair.
	RepairRoleRepair
)

// Shared is spec.md §3's if_tcp_shared: the heap object jointly owned by a
// BOTH-mode persist pair, carrying the reconnect coordinator (§4.E) plus the
// configuration needed to reconnect.
type Shared struct {
	mu   sync.Mutex
	cond *sync.Cond

	// conn is nil exactly when spec.md's fd == -1: the connection is
	// permanently dead and both pair halves must exit.
	conn net.Conn

	critical    int
	fixing      bool
	peerArrived bool
	repairDone  bool

	// donewith implements two-phase teardown (spec.md §3 invariant 5):
	// it starts at 1; the first Cleanup increments it and returns without
	// releasing resources, the second frees.
	donewith int

	Host     string
	Port     string
	Preamble []byte
	Retry    time.Duration
	Tune     socktune.Options

	Log *catalog.Logger

	// Metrics/MetricsKey are optional: when Metrics is non-nil the
	// coordinator reports critical-region occupancy, liveness and
	// reconnect counts to it under MetricsKey. Both are nil/empty unless
	// the caller wires a pkg/exporter collector in (see cmd/nmeabusd).
	Metrics    *exporter.InterfaceCollector
	MetricsKey string
}

func (s *Shared) reportCritical() {
	if s.Metrics != nil {
		s.Metrics.SetCriticalRegionThreads(s.MetricsKey, s.critical)
	}
}

// NewShared constructs a Shared block with donewith seeded at 1, per
// spec.md §3 invariant 5.
func NewShared(host, port string, preamble []byte, retry time.Duration, tune socktune.Options, log *catalog.Logger) *Shared {
	s := &Shared{
		Host:     host,
		Port:     port,
		Preamble: preamble,
		Retry:    retry,
		Tune:     tune,
		Log:      log,
		donewith: 1,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetConn installs the initial connection (or re-installs one found by the
// deferred connector) before any reader/writer goroutine has started, so no
// locking discipline is needed yet.
func (s *Shared) SetConn(c net.Conn) {
	s.mu.Lock()
	s.conn = c
	metrics, key, alive := s.Metrics, s.MetricsKey, c != nil
	s.mu.Unlock()
	if metrics != nil {
		metrics.SetAlive(key, alive)
	}
}

// Alive reports whether the shared connection is non-nil.
func (s *Shared) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// EnterIO implements spec.md §4.E's enter(): it returns the current
// connection and true if the thread may proceed into blocking I/O, having
// incremented critical; it returns false if fd == -1, in which case the
// caller must exit without decrementing anything.
func (s *Shared) EnterIO() (net.Conn, bool) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, false
	}
	s.critical++
	conn := s.conn
	s.reportCritical()
	s.mu.Unlock()
	return conn, true
}

// LeaveIOOk records a successful I/O operation: critical is decremented and,
// if a repair is in progress waiting on this thread, it is signalled.
func (s *Shared) LeaveIOOk() {
	s.mu.Lock()
	s.critical--
	s.reportCritical()
	if s.fixing {
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// LeaveIOFail implements the failure branch of spec.md §4.E. shutdown is
// invoked (while the caller does not hold any lock the repair itself will
// need) only when this thread must force its peer out of a concurrent
// blocking read/writev — the "critical == 2" case.
//
// Beyond spec.md's literal pseudocode, fixing is also set (without the
// kick/wait handshake) when this thread repairs alone with no peer
// concurrently in the critical region, so that a peer which fails a moment
// later sees fixing == true and joins the handshake instead of racing this
// thread's in-flight reconnect against a stale connection. This preserves
// every invariant in spec.md §3 (at most one thread ever owns fixing) while
// closing a race the literal pseudocode leaves open when critical == 1.
func (s *Shared) LeaveIOFail(shutdown func(net.Conn)) RepairRole {
	s.mu.Lock()
	if s.conn == nil {
		s.critical--
		s.reportCritical()
		s.mu.Unlock()
		return RepairRoleGiveUp
	}
	if s.fixing {
		s.peerArrived = true
		s.cond.Broadcast()
		for !s.repairDone {
			s.cond.Wait()
		}
		dead := s.conn == nil
		s.critical--
		s.reportCritical()
		s.mu.Unlock()
		if dead {
			return RepairRoleGiveUp
		}
		return RepairRoleWaitForPeer
	}

	kicking := s.critical == 2
	deadConn := s.conn
	s.fixing = true
	s.repairDone = false
	if kicking {
		s.mu.Unlock()
		shutdown(deadConn)
		s.mu.Lock()
		for !s.peerArrived {
			s.cond.Wait()
		}
	}
	s.mu.Unlock()
	return RepairRoleRepair
}

// FinishRepair is called exactly once, by the goroutine that received
// RepairRoleRepair, once it has attempted recovery. newConn is nil if
// recovery failed permanently (fd = -1 in both pair halves, per spec.md
// §4.E "result < 0").
func (s *Shared) FinishRepair(newConn net.Conn) {
	s.mu.Lock()
	s.conn = newConn
	s.fixing = false
	s.peerArrived = false
	s.repairDone = true
	s.cond.Broadcast()
	s.critical--
	s.reportCritical()
	metrics, key, alive := s.Metrics, s.MetricsKey, newConn != nil
	s.mu.Unlock()
	if metrics != nil {
		metrics.SetAlive(key, alive)
		if alive {
			metrics.RecordReconnect(key)
		}
	}
}

// BeginCleanup implements the two-phase teardown of spec.md §3 invariant 5:
// the first call increments donewith and reports that the caller must NOT
// free shared resources; the second call reports that it must.
func (s *Shared) BeginCleanup() (shouldFree bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donewith++
	// donewith starts at 1; the first call brings it to 2 (not yet time to
	// free — the other pair half may still be running), the second to 3.
	return s.donewith >= 3
}
