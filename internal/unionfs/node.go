package unionfs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/clientfs/unionfs/internal/backend"
)

// Node is the single inode type for every path in the union, directory or
// not. The original C implementation (and the teacher's S3-backed
// filesystem) split directories and regular files into separate node
// kinds; a node here instead carries only its path relative to the mount
// root and asks the routing table which backend owns it on every
// operation, since a union mount's directory/file distinction is decided
// by the backend, not by the node.
type Node struct {
	fs.Inode

	fsys    *Filesystem
	relpath string
}

var (
	_ fs.NodeLookuper     = (*Node)(nil)
	_ fs.NodeGetattrer    = (*Node)(nil)
	_ fs.NodeSetattrer    = (*Node)(nil)
	_ fs.NodeMkdirer      = (*Node)(nil)
	_ fs.NodeRmdirer      = (*Node)(nil)
	_ fs.NodeUnlinker     = (*Node)(nil)
	_ fs.NodeRenamer      = (*Node)(nil)
	_ fs.NodeSymlinker    = (*Node)(nil)
	_ fs.NodeReadlinker   = (*Node)(nil)
	_ fs.NodeLinker       = (*Node)(nil)
	_ fs.NodeCreater      = (*Node)(nil)
	_ fs.NodeOpener       = (*Node)(nil)
	_ fs.NodeOpendirer       = (*Node)(nil)
	_ fs.NodeOpendirHandler  = (*Node)(nil)
	_ fs.NodeReaddirer       = (*Node)(nil)
	_ fs.NodeAccesser     = (*Node)(nil)
	_ fs.NodeGetxattrer   = (*Node)(nil)
	_ fs.NodeSetxattrer   = (*Node)(nil)
	_ fs.NodeListxattrer  = (*Node)(nil)
	_ fs.NodeRemovexattrer = (*Node)(nil)
	_ fs.NodeStatfser     = (*Node)(nil)
)

// relOrDot maps the root node's empty relpath to the "." token the *at
// syscalls expect for "the directory the descriptor already refers to".
func relOrDot(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}

func (n *Node) backend() *backend.Backend {
	return n.fsys.resolve(n.relpath)
}

func (n *Node) child(name string) string {
	return childPath(n.relpath, name)
}

// fillAttr copies a raw stat buffer into the wire attribute struct FUSE
// returns to the kernel.
func fillAttr(out *fuse.Attr, st *unix.Stat_t) {
	out.Ino = st.Ino
	out.Size = uint64(st.Size)
	out.Blocks = uint64(st.Blocks)
	out.Atime = uint64(st.Atim.Sec)
	out.Atimensec = uint32(st.Atim.Nsec)
	out.Mtime = uint64(st.Mtim.Sec)
	out.Mtimensec = uint32(st.Mtim.Nsec)
	out.Ctime = uint64(st.Ctim.Sec)
	out.Ctimensec = uint32(st.Ctim.Nsec)
	out.Mode = st.Mode
	out.Nlink = uint32(st.Nlink)
	out.Owner = fuse.Owner{Uid: st.Uid, Gid: st.Gid}
	out.Rdev = uint32(st.Rdev)
	out.Blksize = uint32(st.Blksize)
}

// newChild builds the child Node and its kernel-facing inode for rel,
// stat'd in backend b, used by every operation that creates a directory
// entry (Lookup, Mkdir, Symlink, Link, Create).
func (n *Node) newChild(ctx context.Context, b *backend.Backend, rel string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	st, err := b.Lstat(rel)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, &st)
	child := &Node{fsys: n.fsys, relpath: rel}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode, Ino: out.Attr.Ino}), 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	rel := n.child(name)
	b := n.fsys.resolve(rel)
	var errno syscall.Errno
	var inode *fs.Inode
	_ = n.fsys.withIdentity(ctx, func() syscall.Errno {
		inode, errno = n.newChild(ctx, b, rel, out)
		return errno
	})
	n.fsys.recordOp("lookup", start, errno)
	return inode, errno
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	var st unix.Stat_t
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		var err error
		st, err = b.Lstat(rel)
		return toErrno(err)
	})
	n.fsys.recordOp("getattr", start, errno)
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, &st)
	return 0
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		if mode, ok := in.GetMode(); ok {
			if err := b.Chmod(rel, mode); err != nil {
				return toErrno(err)
			}
		}
		uid, hasUID := in.GetUID()
		gid, hasGID := in.GetGID()
		if hasUID || hasGID {
			u, g := -1, -1
			if hasUID {
				u = int(uid)
			}
			if hasGID {
				g = int(gid)
			}
			if err := b.Chown(rel, u, g); err != nil {
				return toErrno(err)
			}
		}
		if size, ok := in.GetSize(); ok {
			if err := b.Truncate(rel, int64(size)); err != nil {
				return toErrno(err)
			}
		}
		mtime, hasMtime := in.GetMTime()
		atime, hasAtime := in.GetATime()
		if hasMtime || hasAtime {
			if !hasMtime {
				mtime = time.Now()
			}
			if !hasAtime {
				atime = time.Now()
			}
			times := [2]unix.Timespec{
				unix.NsecToTimespec(atime.UnixNano()),
				unix.NsecToTimespec(mtime.UnixNano()),
			}
			if err := b.Utimens(rel, times); err != nil {
				return toErrno(err)
			}
		}
		return 0
	})
	n.fsys.recordOp("setattr", start, errno)
	if errno != 0 {
		return errno
	}
	st, err := b.Lstat(rel)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, &st)
	return 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	rel := n.child(name)
	b := n.fsys.resolve(rel)
	var errno syscall.Errno
	var inode *fs.Inode
	_ = n.fsys.withIdentity(ctx, func() syscall.Errno {
		if err := b.Mkdir(rel, mode); err != nil {
			errno = toErrno(err)
			return errno
		}
		inode, errno = n.newChild(ctx, b, rel, out)
		return errno
	})
	n.fsys.recordOp("mkdir", start, errno)
	return inode, errno
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	start := time.Now()
	rel := n.child(name)
	b := n.fsys.resolve(rel)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		return toErrno(b.Rmdir(rel))
	})
	n.fsys.recordOp("rmdir", start, errno)
	return errno
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	start := time.Now()
	rel := n.child(name)
	b := n.fsys.resolve(rel)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		return toErrno(b.Unlink(rel))
	})
	n.fsys.recordOp("unlink", start, errno)
	return errno
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	start := time.Now()
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		return rename(n.fsys, n.child(name), dst.child(newName))
	})
	n.fsys.recordOp("rename", start, errno)
	return errno
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	rel := n.child(name)
	b := n.fsys.resolve(rel)
	var errno syscall.Errno
	var inode *fs.Inode
	_ = n.fsys.withIdentity(ctx, func() syscall.Errno {
		if err := b.Symlink(target, rel); err != nil {
			errno = toErrno(err)
			return errno
		}
		inode, errno = n.newChild(ctx, b, rel, out)
		return errno
	})
	n.fsys.recordOp("symlink", start, errno)
	return inode, errno
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	var target string
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		var err error
		target, err = b.Readlink(rel)
		return toErrno(err)
	})
	n.fsys.recordOp("readlink", start, errno)
	if errno != 0 {
		return nil, errno
	}
	return []byte(target), 0
}

// Link creates a hard link with Linkat across the two resolved backend
// descriptors. This code does not reject cross-backend links itself: the
// kernel reports EXDEV when the two backends are on different
// filesystems, and the link succeeds when they share one.
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	src, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	start := time.Now()
	rel := n.child(name)
	destBackend := n.fsys.resolve(rel)
	srcBackend := src.backend()
	var errno syscall.Errno
	var inode *fs.Inode
	_ = n.fsys.withIdentity(ctx, func() syscall.Errno {
		if err := backend.Link(srcBackend, relOrDot(src.relpath), destBackend, rel); err != nil {
			errno = toErrno(err)
			return errno
		}
		inode, errno = n.newChild(ctx, destBackend, rel, out)
		return errno
	})
	n.fsys.recordOp("link", start, errno)
	return inode, errno
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	rel := n.child(name)
	b := n.fsys.resolve(rel)
	var fd int
	var errno syscall.Errno
	var inode *fs.Inode
	_ = n.fsys.withIdentity(ctx, func() syscall.Errno {
		var err error
		fd, err = b.Open(rel, int(flags)|unix.O_CREAT, mode)
		if err != nil {
			errno = toErrno(err)
			return errno
		}
		inode, errno = n.newChild(ctx, b, rel, out)
		if errno != 0 {
			_ = unix.Close(fd)
		}
		return errno
	})
	n.fsys.recordOp("create", start, errno)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	n.fsys.incHandles(1)
	return inode, &fileHandle{fsys: n.fsys, backend: b, fd: fd}, 0, 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	var fd int
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		var err error
		fd, err = b.Open(rel, int(flags), 0)
		return toErrno(err)
	})
	n.fsys.recordOp("open", start, errno)
	if errno != 0 {
		return nil, 0, errno
	}
	n.fsys.incHandles(1)
	return &fileHandle{fsys: n.fsys, backend: b, fd: fd}, 0, 0
}

// Opendir reports whether the directory exists in either backend — a
// union directory "exists" if at least one backend has it, per the
// directory-merge rule applied throughout this package.
func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	start := time.Now()
	rel := relOrDot(n.relpath)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		if !n.fsys.Default.Exists(rel) && !n.fsys.Alternate.Exists(rel) {
			return syscall.ENOENT
		}
		return 0
	})
	n.fsys.recordOp("opendir", start, errno)
	return errno
}

// OpendirHandle hands back a handle whose only job is to answer
// releasedir and fsyncdir against this directory's resolved backend; the
// actual listing is produced independently by Readdir.
func (n *Node) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.fsys.incHandles(1)
	return &dirHandle{fsys: n.fsys, backend: n.backend(), relpath: n.relpath}, 0, 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	start := time.Now()
	var entries []fuse.DirEntry
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		var errno syscall.Errno
		entries, errno = mergedDirEntries(n.fsys, n.relpath)
		return errno
	})
	n.fsys.recordOp("readdir", start, errno)
	if errno != 0 {
		return nil, errno
	}
	return fs.NewListDirStream(entries), 0
}

// Access checks mask against whichever backend owns the path, as the
// currently impersonated caller; the routing decision itself never
// depends on identity.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		return toErrno(b.Access(rel, mask))
	})
	n.fsys.recordOp("access", start, errno)
	return errno
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	var size int
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		var err error
		size, err = b.Getxattr(rel, attr, dest)
		return toErrno(err)
	})
	n.fsys.recordOp("getxattr", start, errno)
	return uint32(size), errno
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		return toErrno(b.Setxattr(rel, attr, data, int(flags)))
	})
	n.fsys.recordOp("setxattr", start, errno)
	return errno
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	var size int
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		var err error
		size, err = b.Listxattr(rel, dest)
		return toErrno(err)
	})
	n.fsys.recordOp("listxattr", start, errno)
	return uint32(size), errno
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	start := time.Now()
	b := n.backend()
	rel := relOrDot(n.relpath)
	errno := n.fsys.withIdentity(ctx, func() syscall.Errno {
		return toErrno(b.Removexattr(rel, attr))
	})
	n.fsys.recordOp("removexattr", start, errno)
	return errno
}

// Statfs always reports the default backend's free space. A union of two
// filesystems has no single meaningful combined statfs, and every known
// union filesystem (including the original this is derived from) picks
// one backend's numbers rather than inventing a merged figure.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	start := time.Now()
	st, err := n.fsys.Default.Statfs()
	errno := toErrno(err)
	n.fsys.recordOp("statfs", start, errno)
	if errno != 0 {
		return errno
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Frsize)
	return 0
}
