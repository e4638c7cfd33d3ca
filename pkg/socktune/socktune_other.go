//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package socktune

import (
	"fmt"
	"runtime"
)

// Tuning has no raw-fd implementation on this platform (notably Windows,
// which exposes keepalive/buffer tuning only through syscall.SetsockoptInt
// constants this module has no build-tagged file for yet): every setter
// reports a descriptive error, which Apply already treats as non-fatal.
func setKeepAlive(fd int, enable bool) error {
	return fmt.Errorf("socktune: SO_KEEPALIVE unsupported on %s", runtime.GOOS)
}

func setKeepIdle(fd int, secs int) error {
	return fmt.Errorf("socktune: keepalive idle unsupported on %s", runtime.GOOS)
}

func setKeepIntvl(fd int, secs int) error {
	return fmt.Errorf("socktune: keepalive interval unsupported on %s", runtime.GOOS)
}

func setKeepCnt(fd int, n int) error {
	return fmt.Errorf("socktune: keepalive count unsupported on %s", runtime.GOOS)
}

func setSendBuffer(fd int, bytes int) error {
	return fmt.Errorf("socktune: SO_SNDBUF unsupported on %s", runtime.GOOS)
}

func setNoDelay(fd int, enable bool) error {
	return fmt.Errorf("socktune: TCP_NODELAY unsupported on %s", runtime.GOOS)
}
