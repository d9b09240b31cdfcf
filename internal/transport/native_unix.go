//go:build unix

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

const nativeSupported = true

func socketPair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, os.NewSyscallError("socketpair", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, os.NewSyscallError("setnonblock", err)
	}
	parent = os.NewFile(uintptr(fds[0]), "channel-parent")
	child = os.NewFile(uintptr(fds[1]), "channel-child")
	return parent, child, nil
}
