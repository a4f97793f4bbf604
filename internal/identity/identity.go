// Package identity impersonates the calling process's filesystem identity
// so the kernel enforces permission checks as that caller, not as the
// privileged union filesystem process.
//
// Linux exposes two mechanisms for this: the effective uid/gid
// (seteuid/setegid), which also governs signal delivery and other
// credential-sensitive decisions, and the filesystem uid/gid
// (setfsuid/setfsgid), which governs only file permission checks. This
// package uses the latter — it is the narrower, more precise tool for a
// request that exists only to perform filesystem operations.
package identity

import "golang.org/x/sys/unix"

// setfsuid(2) and setfsgid(2) always return the *previous* fsuid/fsgid —
// there is no errno convention to check, so we call the raw syscalls
// directly rather than golang.org/x/sys/unix's error-returning wrappers,
// which discard exactly the value we need.

// Impersonate sets the process's filesystem uid and gid to the supplied
// caller identity, returning the previous values so the caller can restore
// them. The raw setfsuid/setfsgid syscalls change only the calling OS
// thread's fsuid/fsgid, so the caller must keep its goroutine locked to
// that thread (runtime.LockOSThread) until it has called Restore.
func Impersonate(uid, gid uint32) (prevUID, prevGID uint32) {
	// Order matters: group must be set while we still hold the
	// privileges needed to change it, same as the original's
	// setegid-before-seteuid ordering.
	prev, _, _ := unix.Syscall(unix.SYS_SETFSGID, uintptr(gid), 0, 0)
	prevGID = uint32(prev)
	prev, _, _ = unix.Syscall(unix.SYS_SETFSUID, uintptr(uid), 0, 0)
	prevUID = uint32(prev)
	return prevUID, prevGID
}

// Restore sets fsuid/fsgid back to previously captured values.
func Restore(uid, gid uint32) {
	_, _, _ = unix.Syscall(unix.SYS_SETFSGID, uintptr(gid), 0, 0)
	_, _, _ = unix.Syscall(unix.SYS_SETFSUID, uintptr(uid), 0, 0)
}
