package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/nmeabus/nmeabus/iface"
)

// ErrDead is returned by ReadLoop/WriteLoop when the shared block's
// connection is permanently gone (spec.md's fd == -1); the interface's
// goroutine exits without further I/O, per spec.md §3 invariant 2.
var ErrDead = errors.New("tcp: connection permanently closed")

// ReadLoop implements spec.md §4.F's read_tcp, wired as an Interface's
// Ops.Read. It delivers every successfully read chunk to i.Sink.
func ReadLoop(i *iface.Interface) error {
	t, ok := i.Transport.(*Transport)
	if !ok {
		return errors.New("tcp: ReadLoop given a non-tcp transport")
	}
	buf := make([]byte, BufSize)
	for {
		conn, ok := enterRead(t)
		if !ok {
			return ErrDead
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if t.Shared != nil {
				t.Shared.LeaveIOOk()
				if t.Shared.Metrics != nil {
					t.Shared.Metrics.AddRxBytes(t.Shared.MetricsKey, n)
				}
			}
			if i.Sink != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				i.Sink(chunk)
			}
			continue
		}

		if t.Shared == nil {
			// Non-persist: EOF or error surfaces directly (spec.md §4.F
			// step 4 "if not PERSIST, return").
			if err == nil {
				err = io.EOF
			}
			return err
		}

		role := t.Shared.LeaveIOFail(func(dead net.Conn) { shutdownConn(dead) })
		switch role {
		case RepairRoleGiveUp:
			return ErrDead
		case RepairRoleWaitForPeer:
			continue
		case RepairRoleRepair:
			newConn, probed := reread(t.Shared, conn, i)
			t.Shared.FinishRepair(newConn)
			if len(probed) > 0 && i.Sink != nil {
				i.Sink(probed)
			}
			continue
		}
	}
}

func enterRead(t *Transport) (net.Conn, bool) {
	if t.Shared != nil {
		return t.Shared.EnterIO()
	}
	if t.Conn == nil {
		return nil, false
	}
	return t.Conn, true
}

// reread implements spec.md §4.F's reread repair action: a single
// non-blocking probe on the failed connection (modelled idiomatically in Go
// as a zero-duration read deadline, the direct analogue of switching the fd
// to O_NONBLOCK for one read and restoring it), falling back to the
// connector when the probe finds no data or a real error.
//
// Per spec.md §9 Open Question 4, when the connector succeeds this returns
// the new connection with no data probed — the caller's loop re-enters the
// coordinator and performs the next real read itself, which is correct but
// relies on that re-entry; we keep that structure explicit here rather than
// trying to read from the fresh socket inline.
func reread(shared *Shared, failed net.Conn, i *iface.Interface) (net.Conn, []byte) {
	if tc, ok := failed.(*net.TCPConn); ok {
		_ = tc.SetReadDeadline(time.Now())
		buf := make([]byte, BufSize)
		n, err := tc.Read(buf)
		_ = tc.SetReadDeadline(time.Time{})
		if n > 0 {
			return failed, buf[:n]
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// EWOULDBLOCK equivalent: connection is fine, just had
			// nothing to read at this instant. Restore blocking and
			// report "still alive, no repair needed".
			return failed, nil
		}
	}

	dialer := &Dialer{
		Host:     shared.Host,
		Port:     shared.Port,
		Retry:    shared.Retry,
		Tune:     shared.Tune,
		Preamble: shared.Preamble,
		Log:      shared.Log,
	}
	newConn, err := dialer.Connect(context.Background())
	if err != nil {
		if shared.Log != nil {
			shared.Log.Errf("tcp: %s reconnect failed permanently: %v", i.Name, err)
		}
		return nil, nil
	}
	return newConn, nil
}

// shutdownConn forces a peer blocked in a read/writev on conn to return an
// error, per spec.md §4.E's shutdown(fd, RDWR). net.TCPConn doesn't expose a
// bare shutdown(2), so CloseRead+CloseWrite is used: it unblocks pending
// syscalls the same way without requiring the fd to be closed outright.
func shutdownConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
		_ = tc.CloseWrite()
		return
	}
	_ = conn.Close()
}
