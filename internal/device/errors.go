package device

import (
	"context"
	"errors"
)

// ERESTARTSYS is the kernel's internal "restart the call" code, returned
// when waiting for the device is interrupted.
const ERESTARTSYS = 512

// ResultCode maps a request error to the negative errno a character device
// would return for it. Success is 0. Range errors, caller copy faults, bad
// lengths and engine failures are all -EFAULT.
func ResultCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return -ERESTARTSYS
	case errors.Is(err, ErrBusy):
		return codeBusy
	case errors.Is(err, ErrNotOpen):
		return codeBadF
	case errors.Is(err, ErrUnsupportedCommand):
		return codeInval
	}
	return codeFault
}
