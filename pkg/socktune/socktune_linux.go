//go:build linux

package socktune

import (
	"github.com/docker/docker/pkg/parsers/kernel"
	"golang.org/x/sys/unix"
)

func setKeepAlive(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

func setKeepIdle(fd int, secs int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}

func setKeepIntvl(fd int, secs int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
}

func setKeepCnt(fd int, n int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, n); err != nil {
		return err
	}
	// TCP_USER_TIMEOUT (Linux >= 2.6.37) bounds how long unacked data may
	// sit before the kernel reports ETIMEDOUT on its own, tightening the
	// keepalive-driven dead-peer detection spec.md §5 relies on. Gated on
	// kernel version the same way pkg/tcpinfo gates tcp_info struct
	// fields, since older kernels reject the option.
	if v, err := kernel.GetKernelVersion(); err == nil {
		if kernel.CompareKernelVersion(*v, kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 37}) >= 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, n*1000)
		}
	}
	return nil
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
