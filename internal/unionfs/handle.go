package unionfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/clientfs/unionfs/internal/backend"
)

// fileHandle pins the backend an Open or Create resolved to for the
// lifetime of the descriptor. Once a path's backend is chosen at open
// time, every subsequent read/write/release on that handle stays on the
// same backend even if a concurrent rename would have routed the path
// differently by the time a later operation ran — the "sticky per-handle
// backend selection" required of the union semantics.
type fileHandle struct {
	fsys    *Filesystem
	backend *backend.Backend
	fd      int
}

var (
	_ fs.FileReader    = (*fileHandle)(nil)
	_ fs.FileWriter    = (*fileHandle)(nil)
	_ fs.FileFlusher   = (*fileHandle)(nil)
	_ fs.FileReleaser  = (*fileHandle)(nil)
	_ fs.FileFsyncer   = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := unix.Pread(h.fd, dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := unix.Pwrite(h.fd, data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(n), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	// Posix close(2) is the real flush point; FUSE's FLUSH is sent once
	// per close(2) on the user's fd, possibly more than once per handle,
	// so it must not close fd itself. A duplicate-and-close matches what
	// passthrough FUSE filesystems do to get fsync-like flush semantics
	// without losing the handle.
	dup, err := unix.Dup(h.fd)
	if err != nil {
		return toErrno(err)
	}
	return toErrno(unix.Close(dup))
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	errno := toErrno(unix.Close(h.fd))
	h.fsys.incHandles(-1)
	return errno
}

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return toErrno(unix.Fsync(h.fd))
}

// dirHandle holds the directory's own sticky backend for releasedir and
// fsyncdir; it holds no listing, which Readdir computes on each call
// (there is no single fd backing a union directory listing, so
// fsyncdir is best-effort against whichever backend the directory itself
// resolves to).
type dirHandle struct {
	fsys    *Filesystem
	backend *backend.Backend
	relpath string
}

var _ fs.FileReleaser = (*dirHandle)(nil)

func (h *dirHandle) Release(ctx context.Context) syscall.Errno {
	h.fsys.incHandles(-1)
	return 0
}

func (h *dirHandle) Fsyncdir(ctx context.Context, flags uint32) syscall.Errno {
	fd, err := h.backend.Open(relOrDot(h.relpath), unix.O_RDONLY, 0)
	if err != nil {
		return toErrno(err)
	}
	defer unix.Close(fd)
	return toErrno(unix.Fsync(fd))
}
