// Package iface defines the generic per-direction interface record spec.md
// §3 describes: the shape every transport (only TCP is implemented in this
// module; spec.md §1 explicitly excludes the others) plugs into.
package iface

import (
	"sync/atomic"
	"time"

	"github.com/nmeabus/nmeabus/filter"
	"github.com/nmeabus/nmeabus/pkg/catalog"
	"github.com/nmeabus/nmeabus/senblk"
	"github.com/nmeabus/nmeabus/tag"
)

// Direction is one of IN, OUT, BOTH, NONE.
type Direction int

const (
	// NONE means the interface carries no payload (a server listener
	// whose direction has been set to NONE to terminate its accept loop).
	NONE Direction = iota
	// IN means the interface only reads from its transport.
	IN
	// OUT means the interface only writes to its transport.
	OUT
	// BOTH means the interface reads and writes; on TCP this always
	// means it has a Pair splitting the two directions across threads.
	BOTH
)

func (d Direction) String() string {
	switch d {
	case IN:
		return "in"
	case OUT:
		return "out"
	case BOTH:
		return "both"
	default:
		return "none"
	}
}

// Flags holds interface-wide boolean options.
type Flags uint32

const (
	// PERSIST means the transport should transparently reconnect on
	// failure rather than exiting.
	PERSIST Flags = 1 << iota
	// IPERSIST (initial-persist) additionally tolerates the very first
	// connect attempt failing, arming a deferred connector.
	IPERSIST
)

// IDMinorMask masks the low bits of a file descriptor used to disambiguate
// server-spawned interface IDs (spec.md §4.H).
const IDMinorMask = 0xff

// Ops is the set of transport-supplied entry points spec.md §3 calls
// read/readbuf/write/cleanup function pointers. Read and Write are the
// blocking I/O loops started on their own goroutine; Cleanup runs when that
// goroutine exits for any reason.
type Ops struct {
	Read    func(*Interface) error
	Write   func(*Interface) error
	Cleanup func(*Interface)
}

// Interface is the generic per-direction record. Transport-specific state
// (the TCP fd/shared block) is carried in Transport as an opaque value the
// transport package type-asserts back to its own type.
type Interface struct {
	ID        uint32
	Name      string
	Direction Direction
	Flags     Flags

	// Pair points at the other half of a BOTH-mode connection sharing one
	// underlying transport. Nil for IN/OUT-only or NONE interfaces.
	Pair *Interface

	// Transport is the per-transport state (e.g. *tcp.Transport). It is
	// declared as `any` here because iface must not import tcp (tcp
	// imports iface); Ops closures capture the concrete type instead.
	Transport any

	// Queue is the outbound senblk source; nil for IN-only interfaces.
	Queue *senblk.Queue

	Filters  *filter.Chain
	TagFlags tag.Flags

	Heartbeat time.Duration

	Ops Ops

	// Sink receives raw bytes read off the transport. It stands in for
	// do_read's NMEA framing layer (spec.md §1, §6), which is out of
	// scope: this module's job ends at delivering framed-or-not bytes to
	// whatever consumes them.
	Sink func([]byte)

	Log *catalog.Logger

	// exited is set once this interface's goroutine has returned, so
	// Cleanup runs exactly once even if called from more than one place.
	exited atomic.Bool
}

// New constructs an Interface with the given id/name/direction. Callers
// (the tcp package's constructors) fill in Ops, Transport, Queue, Filters,
// TagFlags, Heartbeat and Log afterwards.
func New(id uint32, name string, dir Direction, flags Flags) *Interface {
	return &Interface{
		ID:        id,
		Name:      name,
		Direction: dir,
		Flags:     flags,
	}
}

// Persist reports whether PERSIST is set.
func (i *Interface) Persist() bool { return i.Flags&PERSIST != 0 }

// InitialPersist reports whether IPERSIST is set.
func (i *Interface) InitialPersist() bool { return i.Flags&IPERSIST != 0 }

// Run starts the interface's read and/or write loop(s) on their own
// goroutine(s) and blocks until cleanup for this direction has completed.
// A BOTH interface must have been split into an IN/OUT Pair before Run is
// called (spec.md §4.I): each half is itself IN-only or OUT-only here.
func (i *Interface) Run() {
	defer i.cleanup()
	switch i.Direction {
	case IN:
		if i.Ops.Read != nil {
			if err := i.Ops.Read(i); err != nil && i.Log != nil {
				i.Log.Debugf("read loop for %s exited: %v", i.Name, err)
			}
		}
	case OUT:
		if i.Ops.Write != nil {
			if err := i.Ops.Write(i); err != nil && i.Log != nil {
				i.Log.Debugf("write loop for %s exited: %v", i.Name, err)
			}
		}
	}
}

func (i *Interface) cleanup() {
	if !i.exited.CompareAndSwap(false, true) {
		return
	}
	if i.Ops.Cleanup != nil {
		i.Ops.Cleanup(i)
	}
	if i.Queue != nil {
		i.Queue.Close()
	}
}
