package resolve

import (
	"errors"
	"net"
	"testing"
)

func TestIsTransientClassifiesNotFoundAsTransient(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "no.such.host", IsNotFound: true}
	if !isTransient(err) {
		t.Fatal("expected NXDOMAIN-shaped DNSError to be classified transient")
	}
}

func TestIsTransientClassifiesTimeoutAsTransient(t *testing.T) {
	err := &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}
	if !isTransient(err) {
		t.Fatal("expected timeout DNSError to be classified transient")
	}
}

func TestIsTransientRejectsUnrelatedError(t *testing.T) {
	if isTransient(errors.New("boom")) {
		t.Fatal("expected a plain error to be classified non-transient")
	}
}

func TestErrTransientUnwraps(t *testing.T) {
	inner := errors.New("inner")
	wrapped := &ErrTransient{Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Fatal("expected ErrTransient to unwrap to its inner error")
	}
}
