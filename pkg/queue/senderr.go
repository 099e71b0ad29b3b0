package queue

import (
	"errors"
	"syscall"
)

// isFatalSendError reports whether err indicates the destination socket
// path is gone for good (spec §4.5: ENETDOWN/EINVAL), as opposed to a
// transient condition (EAGAIN, a full send buffer) that the next stuff pass
// should simply retry.
func isFatalSendError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.ENETDOWN || errno == syscall.EINVAL
}
