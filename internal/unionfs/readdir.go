package unionfs

import (
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/clientfs/unionfs/internal/backend"
	"github.com/clientfs/unionfs/internal/routing"
)

// mergedDirEntries implements the union listing rule: the alternate
// backend's children that classify as alternate, plus the default
// backend's children that do not, with no duplicate names possible
// between the two sets since classification is a function of the full
// path, not of which backend happened to answer first. Either backend
// having the directory is enough for the listing to succeed; both
// missing is ENOENT.
func mergedDirEntries(f *Filesystem, relpath string) ([]fuse.DirEntry, syscall.Errno) {
	rel := relOrDot(relpath)

	altNames, altErr := readBackendDir(f.Alternate, rel)
	defNames, defErr := readBackendDir(f.Default, rel)
	if altErr != nil && defErr != nil {
		return nil, toErrno(defErr)
	}

	var entries []fuse.DirEntry
	seen := make(map[string]bool)

	for _, e := range altNames {
		child := childPath(relpath, e.Name)
		if f.Routes.Classify(child) != routing.Alternate {
			continue
		}
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		entries = append(entries, e)
	}
	for _, e := range defNames {
		child := childPath(relpath, e.Name)
		if f.Routes.Classify(child) == routing.Alternate {
			continue
		}
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		entries = append(entries, e)
	}
	return entries, 0
}

// readBackendDir lists one backend's directory entries, translating each
// child's raw mode bits into the DT_* type FUSE expects. A backend that
// does not have the directory at all returns a nil slice and its error,
// which the caller treats as "this backend contributes nothing" rather
// than a hard failure as long as the other backend has it.
func readBackendDir(b *backend.Backend, rel string) ([]fuse.DirEntry, error) {
	fd, err := b.Open(rel, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	dir := os.NewFile(uintptr(fd), rel)
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		var st unix.Stat_t
		if err := unix.Fstatat(fd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Ino:  st.Ino,
			Mode: st.Mode,
		})
	}
	return entries, nil
}
