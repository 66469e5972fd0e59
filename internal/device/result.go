//go:build unix

package device

import "golang.org/x/sys/unix"

var (
	codeFault = -int(unix.EFAULT)
	codeBusy  = -int(unix.EBUSY)
	codeInval = -int(unix.EINVAL)
	codeBadF  = -int(unix.EBADF)
)
