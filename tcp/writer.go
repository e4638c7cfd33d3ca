package tcp

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/nmeabus/nmeabus/iface"
	"github.com/nmeabus/nmeabus/senblk"
	"github.com/nmeabus/nmeabus/tag"
)

// WriteLoop implements spec.md §4.G's write_tcp, wired as an Interface's
// Ops.Write. Go's runtime never raises SIGPIPE for socket writes the way a
// C writev to a half-closed socket would (spec.md §4.G step 5) — a failed
// write simply returns EPIPE as a regular error — so there is no signal
// mask to install here; the property spec.md asks for (EPIPE, not a
// signal) holds without any extra code.
func WriteLoop(i *iface.Interface) error {
	t, ok := i.Transport.(*Transport)
	if !ok {
		return errors.New("tcp: WriteLoop given a non-tcp transport")
	}
	if i.Queue == nil {
		return errors.New("tcp: WriteLoop given an interface with no outbound queue")
	}

	for {
		blk := i.Queue.Next()
		if blk == nil {
			return nil // queue closed
		}

		segs := buildSegments(i, blk)

		conn, ok := enterWrite(t)
		if !ok {
			i.Queue.Free(blk)
			return ErrDead
		}

		n, err := writeWithDeadline(conn, segs, sendTimeout(t))
		i.Queue.Free(blk)

		if err == nil {
			if t.Shared != nil {
				t.Shared.LeaveIOOk()
				if t.Shared.Metrics != nil {
					t.Shared.Metrics.AddTxBytes(t.Shared.MetricsKey, int(n))
				}
			}
			continue
		}

		if t.Shared == nil {
			return err
		}

		role := t.Shared.LeaveIOFail(func(dead net.Conn) { shutdownConn(dead) })
		switch role {
		case RepairRoleGiveUp:
			return ErrDead
		case RepairRoleWaitForPeer:
			continue
		case RepairRoleRepair:
			newConn := reconnectForWrite(t.Shared, err, i)
			t.Shared.FinishRepair(newConn)
			if newConn != nil {
				i.Queue.Flush() // spec.md §4.G step 4 / §8: flush on successful reconnect
			}
			continue
		}
	}
}

// buildSegments renders the optional tag (spec.md §4.G step 1) and returns
// the writev-style segment list: one or two []byte slices, handed to
// net.Buffers — Go's idiomatic writev (net.Buffers.WriteTo coalesces
// multiple slices into a single writev(2) syscall for *net.TCPConn).
func buildSegments(i *iface.Interface, blk *senblk.Senblk) [][]byte {
	if i.TagFlags == 0 {
		return [][]byte{blk.Data}
	}
	rendered, ok := tag.Render(i.TagFlags, i.Name, blk)
	if !ok {
		if i.Log != nil {
			i.Log.Warnf("tcp: %s tag rendering failed, disabling tags for this interface", i.Name)
		}
		i.TagFlags = 0
		return [][]byte{blk.Data}
	}
	blk.Tagged = true
	return [][]byte{rendered, blk.Data}
}

func enterWrite(t *Transport) (net.Conn, bool) {
	if t.Shared != nil {
		return t.Shared.EnterIO()
	}
	if t.Conn == nil {
		return nil, false
	}
	return t.Conn, true
}

// sendTimeout returns the configured send timeout for t's persist block, or
// 0 (no deadline) for a non-persist transport.
func sendTimeout(t *Transport) time.Duration {
	if t.Shared == nil {
		return 0
	}
	return t.Shared.Tune.SendTimeout
}

// writeWithDeadline performs one writev, applying timeout as a write
// deadline when set. Go's net package always runs the fd under the
// runtime-integrated poller: SO_SNDTIMEO set via raw setsockopt only bounds
// a *blocking* syscall and has no effect here, and Write/net.Buffers.WriteTo
// never surface EAGAIN to the caller — the runtime absorbs it internally
// and keeps retrying. SetWriteDeadline is the idiomatic equivalent: once it
// elapses, the write returns an error satisfying errors.Is(err,
// os.ErrDeadlineExceeded).
func writeWithDeadline(conn net.Conn, segs [][]byte, timeout time.Duration) (int64, error) {
	if tc, ok := conn.(*net.TCPConn); ok && timeout > 0 {
		_ = tc.SetWriteDeadline(time.Now().Add(timeout))
		defer tc.SetWriteDeadline(time.Time{})
	}
	return net.Buffers(segs).WriteTo(conn)
}

// reconnectForWrite implements spec.md §4.G step 4's "reconnect" repair
// action: a write-deadline timeout (peer-stall) skips the retry sleep and
// reconnects immediately (spec.md §5, §8 scenario 6); any other failure
// sleeps Retry seconds first.
func reconnectForWrite(shared *Shared, writeErr error, i *iface.Interface) net.Conn {
	if !errors.Is(writeErr, os.ErrDeadlineExceeded) {
		sleep := shared.Retry
		if sleep <= 0 {
			sleep = time.Second
		}
		time.Sleep(sleep)
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
		return nil
	}
	return newConn
}
