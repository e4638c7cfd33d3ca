//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package socktune

import (
	"golang.org/x/sys/unix"
)

func setKeepAlive(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

// setKeepIdle uses TCP_KEEPALIVE, the BSD/Darwin equivalent of Linux's
// TCP_KEEPIDLE (spec.md §4.C "TCP_KEEPIDLE (or equivalent per OS)").
func setKeepIdle(fd int, secs int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs)
}

func setKeepIntvl(fd int, secs int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
}

func setKeepCnt(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, n)
}

func setSendBuffer(fd int, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

func setNoDelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}
