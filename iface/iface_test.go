package iface

import (
	"errors"
	"testing"

	"github.com/nmeabus/nmeabus/senblk"
)

func TestFlagsPersistInitialPersist(t *testing.T) {
	i := New(1, "test", BOTH, PERSIST|IPERSIST)
	if !i.Persist() {
		t.Error("Persist() = false, want true")
	}
	if !i.InitialPersist() {
		t.Error("InitialPersist() = false, want true")
	}

	i2 := New(1, "test", BOTH, 0)
	if i2.Persist() || i2.InitialPersist() {
		t.Error("a zero-flags interface should report neither PERSIST nor IPERSIST")
	}
}

func TestDirectionString(t *testing.T) {
	cases := map[Direction]string{IN: "in", OUT: "out", BOTH: "both", NONE: "none"}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(d), got, want)
		}
	}
}

func TestRunDispatchesReadForIN(t *testing.T) {
	called := false
	i := New(1, "in0", IN, 0)
	i.Ops = Ops{Read: func(*Interface) error {
		called = true
		return nil
	}}
	i.Run()
	if !called {
		t.Error("Run() on an IN interface did not invoke Ops.Read")
	}
}

func TestRunDispatchesWriteForOUT(t *testing.T) {
	called := false
	i := New(1, "out0", OUT, 0)
	i.Ops = Ops{Write: func(*Interface) error {
		called = true
		return nil
	}}
	i.Run()
	if !called {
		t.Error("Run() on an OUT interface did not invoke Ops.Write")
	}
}

func TestRunInvokesCleanupExactlyOnce(t *testing.T) {
	cleanups := 0
	i := New(1, "in0", IN, 0)
	i.Ops = Ops{
		Read:    func(*Interface) error { return errors.New("boom") },
		Cleanup: func(*Interface) { cleanups++ },
	}
	i.Run()
	i.Run() // a second Run (or any second trigger of cleanup) must be a no-op
	if cleanups != 1 {
		t.Errorf("Cleanup invoked %d times, want exactly 1", cleanups)
	}
}

func TestRunClosesQueueOnCleanup(t *testing.T) {
	q := senblk.New(4)
	i := New(1, "out0", OUT, 0)
	i.Queue = q
	i.Ops = Ops{Write: func(*Interface) error { return nil }}
	i.Run()
	if q.Next() != nil {
		t.Error("Queue should be closed (Next returns nil) after Run's cleanup")
	}
}
