//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package connector

import "syscall"

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return ErrReusePortUnsupported
}
