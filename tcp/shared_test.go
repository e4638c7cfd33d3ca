package tcp

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nmeabus/nmeabus/pkg/socktune"
)

// fakeConn is a minimal net.Conn whose Close is observable, enough for
// exercising the coordinator without a real socket.
type fakeConn struct {
	net.Conn
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestSharedEnterIOFailsWhenDead(t *testing.T) {
	s := NewShared("h", "p", nil, time.Millisecond, socktune.Options{}, nil)
	if _, ok := s.EnterIO(); ok {
		t.Fatalf("EnterIO should fail on a freshly built Shared with no connection")
	}
}

func TestSharedEnterIOLeaveIOOk(t *testing.T) {
	s := NewShared("h", "p", nil, time.Millisecond, socktune.Options{}, nil)
	c := &fakeConn{}
	s.SetConn(c)

	got, ok := s.EnterIO()
	if !ok || got != c {
		t.Fatalf("EnterIO = %v, %v; want conn, true", got, ok)
	}
	s.LeaveIOOk()
	if s.critical != 0 {
		t.Fatalf("critical = %d, want 0 after LeaveIOOk", s.critical)
	}
}

// TestSharedSoloFailureRepairs covers the common case: only one goroutine is
// in the critical region when the read/write fails. It alone must receive
// RepairRoleRepair, with no shutdown call (there is no peer to kick).
func TestSharedSoloFailureRepairs(t *testing.T) {
	s := NewShared("h", "p", nil, time.Millisecond, socktune.Options{}, nil)
	dead := &fakeConn{}
	s.SetConn(dead)

	if _, ok := s.EnterIO(); !ok {
		t.Fatal("EnterIO failed")
	}

	shutdownCalled := false
	role := s.LeaveIOFail(func(net.Conn) { shutdownCalled = true })
	if role != RepairRoleRepair {
		t.Fatalf("role = %v, want RepairRoleRepair", role)
	}
	if shutdownCalled {
		t.Fatalf("shutdown should not be invoked when no peer is in the critical region")
	}

	newConn := &fakeConn{}
	s.FinishRepair(newConn)
	if s.Conn() != newConn {
		t.Fatalf("Conn() after FinishRepair = %v, want %v", s.Conn(), newConn)
	}
	if s.critical != 0 {
		t.Fatalf("critical = %d, want 0 after solo repair completes", s.critical)
	}
}

// TestSharedPeerFailureJoinsRepair reproduces spec.md §4.E's "critical == 2"
// kick path: both pair halves are blocked in I/O on the same dead
// connection, one fails first and must shut the connection down to unblock
// its peer, which then observes fixing == true and waits instead of racing
// its own repair attempt.
func TestSharedPeerFailureJoinsRepair(t *testing.T) {
	s := NewShared("h", "p", nil, time.Millisecond, socktune.Options{}, nil)
	dead := &fakeConn{}
	s.SetConn(dead)

	if _, ok := s.EnterIO(); !ok {
		t.Fatal("EnterIO (reader) failed")
	}
	if _, ok := s.EnterIO(); !ok {
		t.Fatal("EnterIO (writer) failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)

	var shutdownCount atomic.Int32
	roleCh := make(chan RepairRole, 1)

	go func() {
		defer wg.Done()
		role := s.LeaveIOFail(func(net.Conn) {
			shutdownCount.Add(1)
		})
		if role == RepairRoleRepair {
			// The repair owner reports its outcome, which is what
			// releases the waiting peer.
			s.FinishRepair(&fakeConn{})
		}
		roleCh <- role
	}()

	// Give the first failer time to observe critical == 2 and block on
	// shutdown/peerArrived before the peer reports its own failure.
	time.Sleep(20 * time.Millisecond)

	peerRole := s.LeaveIOFail(func(net.Conn) {
		shutdownCount.Add(1)
	})

	wg.Wait()
	firstRole := <-roleCh

	roles := []RepairRole{firstRole, peerRole}
	var repairCount, waitCount int
	for _, r := range roles {
		switch r {
		case RepairRoleRepair:
			repairCount++
		case RepairRoleWaitForPeer:
			waitCount++
		default:
			t.Fatalf("unexpected role %v", r)
		}
	}
	if repairCount != 1 || waitCount != 1 {
		t.Fatalf("roles = %v, want exactly one Repair and one WaitForPeer", roles)
	}
	if got := shutdownCount.Load(); got != 1 {
		t.Fatalf("shutdown called %d times, want exactly 1 (spec.md §8: single reconnect per outage)", got)
	}
}

func TestSharedFinishRepairFailurePropagatesGiveUp(t *testing.T) {
	s := NewShared("h", "p", nil, time.Millisecond, socktune.Options{}, nil)
	s.SetConn(&fakeConn{})
	if _, ok := s.EnterIO(); !ok {
		t.Fatal("EnterIO failed")
	}
	role := s.LeaveIOFail(func(net.Conn) {})
	if role != RepairRoleRepair {
		t.Fatalf("role = %v, want RepairRoleRepair", role)
	}
	s.FinishRepair(nil) // permanent failure

	if s.Alive() {
		t.Fatalf("Shared reports Alive after a permanently failed repair")
	}
	if _, ok := s.EnterIO(); ok {
		t.Fatalf("EnterIO should fail once the shared connection is permanently dead")
	}
}

func TestSharedBeginCleanupTwoPhase(t *testing.T) {
	s := NewShared("h", "p", nil, time.Millisecond, socktune.Options{}, nil)
	if s.BeginCleanup() {
		t.Fatalf("first BeginCleanup must not free resources (peer may still be running)")
	}
	if !s.BeginCleanup() {
		t.Fatalf("second BeginCleanup must free resources")
	}
}
