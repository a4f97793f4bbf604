package unionfs

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/clientfs/unionfs/internal/backend"
	"github.com/clientfs/unionfs/internal/identity"
	"github.com/clientfs/unionfs/internal/metrics"
	"github.com/clientfs/unionfs/internal/routing"
)

// Filesystem holds the two backend descriptors and the routing table
// shared by every node the dispatcher creates. It carries no per-request
// state of its own — the process-wide working directory that the original
// implementation mutated per request is replaced here by explicit
// *at-style syscalls, and the caller's identity is set around each request
// by withIdentity. handleMu guards only the open-handle count reported to
// Metrics.
type Filesystem struct {
	Default   *backend.Backend
	Alternate *backend.Backend
	Routes    *routing.Table
	Metrics   *metrics.Collector

	handleMu    sync.Mutex
	openHandles int
}

// New builds a Filesystem from already-open backend descriptors and a
// routing table. Acquiring the descriptors is the caller's job (see
// cmd/unionfs), since §3's invariant requires they be opened strictly
// before the mount happens.
func New(def, alt *backend.Backend, routes *routing.Table, mc *metrics.Collector) *Filesystem {
	return &Filesystem{
		Default:   def,
		Alternate: alt,
		Routes:    routes,
		Metrics:   mc,
	}
}

// Root returns the node representing the mount point itself.
func (f *Filesystem) Root() fs.InodeEmbedder {
	return &Node{fsys: f, relpath: ""}
}

// resolve classifies relpath (already mount-root-relative, no leading
// separator — see routing.StripLeadingSeparator) and returns the backend
// it routes to.
func (f *Filesystem) resolve(relpath string) *backend.Backend {
	if f.Routes.Classify(relpath) == routing.Alternate {
		return f.Alternate
	}
	return f.Default
}

// withIdentity impersonates the caller for the duration of fn, restoring
// the prior fsuid/fsgid afterward. This is the Go-native replacement for
// the original's process-wide seteuid/setegid-per-request pattern; see
// internal/identity for why fsuid/fsgid are used instead.
//
// go-fuse's fs bridge annotates every request's ctx with the caller's
// credentials, retrievable via fuse.FromContext regardless of which
// optional Node/FileHandle method is being served. fsuid/fsgid belong to
// the OS thread, so the goroutine is locked to its thread until the prior
// identity has been restored.
func (f *Filesystem) withIdentity(ctx context.Context, fn func() syscall.Errno) syscall.Errno {
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return fn()
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	prevUID, prevGID := identity.Impersonate(caller.Uid, caller.Gid)
	defer identity.Restore(prevUID, prevGID)
	return fn()
}

func (f *Filesystem) recordOp(op string, start time.Time, errno syscall.Errno) {
	if f.Metrics == nil {
		return
	}
	f.Metrics.RecordOperation(op, time.Since(start), errno == 0)
	if errno != 0 {
		f.Metrics.RecordError(op, errnoClass(errno))
	}
}

func (f *Filesystem) incHandles(delta int) {
	f.handleMu.Lock()
	f.openHandles += delta
	n := f.openHandles
	f.handleMu.Unlock()
	if f.Metrics != nil {
		f.Metrics.SetOpenHandles(n)
	}
}

// toErrno translates a syscall-layer error into the protocol's negative
// errno convention (fuse.Errno, a syscall.Errno under go-fuse). Any
// syscall.Errno, bare or wrapped (e.g. in an *os.PathError), is forwarded
// unchanged rather than collapsed to EIO, per the propagation policy that
// the dispatcher never invents error codes; only an error that carries no
// errno at all becomes EIO.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

// errnoClass renders a syscall.Errno as its symbolic name for metrics
// labels ("ENOENT", "EACCES", ...), falling back to the numeric form for
// errno values this table does not name.
func errnoClass(errno syscall.Errno) string {
	switch errno {
	case syscall.ENOENT:
		return "ENOENT"
	case syscall.EACCES:
		return "EACCES"
	case syscall.EPERM:
		return "EPERM"
	case syscall.EEXIST:
		return "EEXIST"
	case syscall.ENOTDIR:
		return "ENOTDIR"
	case syscall.EISDIR:
		return "EISDIR"
	case syscall.ENOTEMPTY:
		return "ENOTEMPTY"
	case syscall.EXDEV:
		return "EXDEV"
	case syscall.EIO:
		return "EIO"
	case syscall.EINVAL:
		return "EINVAL"
	case syscall.ENOSPC:
		return "ENOSPC"
	case syscall.ENOSYS:
		return "ENOSYS"
	default:
		return "E" + strconv.Itoa(int(errno))
	}
}

func childPath(parent string, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
