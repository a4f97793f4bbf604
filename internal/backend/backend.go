// Package backend wraps a single backing directory for the union
// filesystem as a pre-opened directory descriptor, and exposes every
// filesystem operation the dispatcher needs as a syscall relative to that
// descriptor (the openat/mkdirat/unlinkat/fstatat/... family). Operating
// relative to a descriptor rather than mutating the process's working
// directory means no part of this package needs the process-wide chdir
// dance the original implementation relied on.
package backend

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Backend is an open directory descriptor for one of the two backing
// directories of a union mount. It is immutable and safe to share across
// every request for the lifetime of the process: mounting over the
// default backend's own path does not invalidate a descriptor opened
// before the mount happened.
type Backend struct {
	Name string
	Root string
	fd   int
}

// Open acquires a directory descriptor for root. It must be called before
// the filesystem is mounted over any path that might shadow root.
func Open(name, root string) (*Backend, error) {
	fd, err := unix.Open(root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open backend %s at %s: %w", name, root, err)
	}
	return &Backend{Name: name, Root: root, fd: fd}, nil
}

// Close releases the directory descriptor. Only used by tests and by
// clean shutdown paths; the long-running mount process never closes its
// backend descriptors.
func (b *Backend) Close() error {
	return unix.Close(b.fd)
}

// FD returns the raw directory descriptor, for callers that need to pass
// it to a syscall this package does not wrap directly (e.g. Renameat
// across two backends).
func (b *Backend) FD() int {
	return b.fd
}

// Lstat stats relpath without following a trailing symlink.
func (b *Backend) Lstat(relpath string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstatat(b.fd, relpath, &st, unix.AT_SYMLINK_NOFOLLOW)
	return st, err
}

// Access checks relpath against mode (the F_OK/R_OK/W_OK/X_OK bits) as the
// currently impersonated caller.
func (b *Backend) Access(relpath string, mode uint32) error {
	return unix.Faccessat(b.fd, relpath, mode, 0)
}

// Chmod changes relpath's mode. fchmodat has no symlink-non-following mode
// on Linux, so a trailing symlink's target is affected, matching the
// original's behavior.
func (b *Backend) Chmod(relpath string, mode uint32) error {
	return unix.Fchmodat(b.fd, relpath, mode, 0)
}

// Chown changes relpath's owner without following a trailing symlink.
func (b *Backend) Chown(relpath string, uid, gid int) error {
	return unix.Fchownat(b.fd, relpath, uid, gid, unix.AT_SYMLINK_NOFOLLOW)
}

// Truncate sets relpath's size, opening it relative to the backend
// descriptor since there is no truncateat syscall.
func (b *Backend) Truncate(relpath string, size int64) error {
	fd, err := unix.Openat(b.fd, relpath, unix.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Ftruncate(fd, size)
}

// Utimens sets relpath's access and modification times without following
// a trailing symlink.
func (b *Backend) Utimens(relpath string, times [2]unix.Timespec) error {
	return unix.UtimesNanoAt(b.fd, relpath, times[:], unix.AT_SYMLINK_NOFOLLOW)
}

// Readlink reads the target of the symlink at relpath.
func (b *Backend) Readlink(relpath string) (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlinkat(b.fd, relpath, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Symlink creates a symlink at relpath pointing at target. The target is
// stored verbatim and never interpreted or validated.
func (b *Backend) Symlink(target, relpath string) error {
	return unix.Symlinkat(target, b.fd, relpath)
}

// Mkdir creates a directory at relpath.
func (b *Backend) Mkdir(relpath string, mode uint32) error {
	return unix.Mkdirat(b.fd, relpath, mode)
}

// Rmdir removes the empty directory at relpath.
func (b *Backend) Rmdir(relpath string) error {
	return unix.Unlinkat(b.fd, relpath, unix.AT_REMOVEDIR)
}

// Unlink removes the file at relpath.
func (b *Backend) Unlink(relpath string) error {
	return unix.Unlinkat(b.fd, relpath, 0)
}

// Open opens relpath with the given flags and mode, returning a raw fd for
// the dispatcher to store in the request's file handle.
func (b *Backend) Open(relpath string, flags int, mode uint32) (int, error) {
	return unix.Openat(b.fd, relpath, flags, mode)
}

// Statfs reports free-space statistics for the backend, used to answer
// statfs(2) on the mount unconditionally against the default backend (see
// the design notes on why a union filesystem reports one statfs, not two).
func (b *Backend) Statfs() (unix.Statfs_t, error) {
	var st unix.Statfs_t
	err := unix.Fstatfs(b.fd, &st)
	return st, err
}

// Link creates a hard link: newBackend/newRelpath pointing at the same
// inode as oldBackend/oldRelpath. When the two backends are on different
// filesystems the kernel reports EXDEV; when they share one, the link
// succeeds even across the two descriptors.
func Link(oldBackend *Backend, oldRelpath string, newBackend *Backend, newRelpath string) error {
	return unix.Linkat(oldBackend.fd, oldRelpath, newBackend.fd, newRelpath, unix.AT_SYMLINK_FOLLOW)
}

// Rename performs a positional rename between (possibly different)
// backends. The caller is responsible for falling back to copy-then-unlink
// on EXDEV — see the unionfs package's rename implementation.
func Rename(oldBackend *Backend, oldRelpath string, newBackend *Backend, newRelpath string) error {
	return unix.Renameat(oldBackend.fd, oldRelpath, newBackend.fd, newRelpath)
}

// xattrPath resolves relpath to a procfs magic-symlink path that xattr
// syscalls can operate on without following a trailing real symlink: an
// O_PATH|O_NOFOLLOW descriptor pins the exact filesystem object named by
// relpath (symlink or not), and /proc/self/fd/<fd> resolves to precisely
// that object for every syscall that takes a path, including the
// non-"l"-prefixed xattr calls. This is the standard workaround for the
// absence of *at-style xattr syscalls on Linux.
func (b *Backend) xattrPath(relpath string) (string, func(), error) {
	fd, err := unix.Openat(b.fd, relpath, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = unix.Close(fd) }
	return fmt.Sprintf("/proc/self/fd/%d", fd), cleanup, nil
}

// Getxattr reads the named extended attribute of relpath (not following a
// trailing symlink) into dest, returning the attribute's size.
func (b *Backend) Getxattr(relpath, name string, dest []byte) (int, error) {
	path, cleanup, err := b.xattrPath(relpath)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return unix.Getxattr(path, name, dest)
}

// Setxattr sets the named extended attribute of relpath to data.
func (b *Backend) Setxattr(relpath, name string, data []byte, flags int) error {
	path, cleanup, err := b.xattrPath(relpath)
	if err != nil {
		return err
	}
	defer cleanup()
	return unix.Setxattr(path, name, data, flags)
}

// Listxattr lists the extended attribute names set on relpath.
func (b *Backend) Listxattr(relpath string, dest []byte) (int, error) {
	path, cleanup, err := b.xattrPath(relpath)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return unix.Listxattr(path, dest)
}

// Removexattr removes the named extended attribute from relpath.
func (b *Backend) Removexattr(relpath, name string) error {
	path, cleanup, err := b.xattrPath(relpath)
	if err != nil {
		return err
	}
	defer cleanup()
	return unix.Removexattr(path, name)
}

// Exists reports whether relpath can be stat'd in this backend at all —
// used by the directory-union algorithm to decide whether a directory
// exists in at least one backend.
func (b *Backend) Exists(relpath string) bool {
	_, err := b.Lstat(relpath)
	return err == nil
}

// EnsureIsDir is a small startup-time sanity check used when acquiring the
// two backend descriptors: both must already be directories.
func EnsureIsDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
