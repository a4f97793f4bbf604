package unionfs

import (
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/clientfs/unionfs/internal/backend"
)

const renameCopyBufSize = 8 * 1024

// rename moves oldRel to newRel, each resolved independently to its own
// backend, with a single positional Renameat, which is atomic. Only when
// the kernel reports EXDEV (the two backends are on different
// filesystems) does the fallback run: it stats the source for its mode,
// copies its content into a new file on the
// destination backend, and only unlinks the source once the copy has
// fully succeeded and been closed — a failure partway through leaves the
// source intact and surfaces the real I/O error, never EXDEV, to the
// caller.
func rename(f *Filesystem, oldRel, newRel string) syscall.Errno {
	oldBackend := f.resolve(oldRel)
	newBackend := f.resolve(newRel)

	err := backend.Rename(oldBackend, oldRel, newBackend, newRel)
	if err == nil {
		return 0
	}
	if err != syscall.EXDEV {
		return toErrno(err)
	}
	return toErrno(copyThenUnlink(oldBackend, oldRel, newBackend, newRel))
}

func copyThenUnlink(oldBackend *backend.Backend, oldRel string, newBackend *backend.Backend, newRel string) error {
	st, err := oldBackend.Lstat(oldRel)
	if err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return copySymlinkThenUnlink(oldBackend, oldRel, newBackend, newRel)
	}

	srcFd, err := oldBackend.Open(oldRel, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	src := os.NewFile(uintptr(srcFd), oldRel)
	defer src.Close()

	dstFd, err := newBackend.Open(newRel, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, uint32(st.Mode&0o7777))
	if err != nil {
		return err
	}
	dst := os.NewFile(uintptr(dstFd), newRel)

	// The anonymous wrappers hide *os.File's ReadFrom/WriteTo, which would
	// otherwise make io.CopyBuffer ignore buf.
	buf := make([]byte, renameCopyBufSize)
	if _, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	if err := newBackend.Chown(newRel, int(st.Uid), int(st.Gid)); err != nil {
		return err
	}

	return oldBackend.Unlink(oldRel)
}

func copySymlinkThenUnlink(oldBackend *backend.Backend, oldRel string, newBackend *backend.Backend, newRel string) error {
	target, err := oldBackend.Readlink(oldRel)
	if err != nil {
		return err
	}
	if err := newBackend.Symlink(target, newRel); err != nil {
		return err
	}
	return oldBackend.Unlink(oldRel)
}
