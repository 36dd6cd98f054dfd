//go:build !windows

package registry

import "syscall"

// isProcessAlive reports whether pid names a running process, using the
// POSIX convention that signal 0 performs error checking without actually
// sending a signal.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
