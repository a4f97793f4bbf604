package backend

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := Open("test", dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestMkdirRmdir(t *testing.T) {
	b := openTestBackend(t)

	if err := b.Mkdir("sub", 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if !b.Exists("sub") {
		t.Error("Exists(sub) = false after Mkdir")
	}
	if err := b.Rmdir("sub"); err != nil {
		t.Fatalf("Rmdir() error = %v", err)
	}
	if b.Exists("sub") {
		t.Error("Exists(sub) = true after Rmdir")
	}
}

func TestOpenWriteReadUnlink(t *testing.T) {
	b := openTestBackend(t)

	fd, err := b.Open("file.txt", unix.O_CREAT|unix.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Open(O_CREAT) error = %v", err)
	}
	n, err := unix.Write(fd, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if err := unix.Close(fd); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	st, err := b.Lstat("file.txt")
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if st.Size != 5 {
		t.Errorf("Size = %d, want 5", st.Size)
	}

	if err := b.Unlink("file.txt"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if b.Exists("file.txt") {
		t.Error("Exists(file.txt) = true after Unlink")
	}
}

func TestSymlinkReadlink(t *testing.T) {
	b := openTestBackend(t)

	if err := b.Symlink("target-does-not-exist", "link"); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	got, err := b.Readlink("link")
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if got != "target-does-not-exist" {
		t.Errorf("Readlink() = %q, want %q", got, "target-does-not-exist")
	}

	st, err := b.Lstat("link")
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFLNK {
		t.Error("Lstat() on a symlink should not follow it")
	}
}

func TestTruncate(t *testing.T) {
	b := openTestBackend(t)

	fd, err := b.Open("trunc.txt", unix.O_CREAT|unix.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := unix.Write(fd, []byte("0123456789")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = unix.Close(fd)

	if err := b.Truncate("trunc.txt", 4); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	st, err := b.Lstat("trunc.txt")
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if st.Size != 4 {
		t.Errorf("Size after truncate = %d, want 4", st.Size)
	}
}

func TestXattrRoundTrip(t *testing.T) {
	b := openTestBackend(t)

	fd, err := b.Open("xattr.txt", unix.O_CREAT|unix.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = unix.Close(fd)

	if err := b.Setxattr("xattr.txt", "user.test", []byte("value"), 0); err != nil {
		t.Skipf("extended attributes unsupported on this filesystem: %v", err)
	}

	buf := make([]byte, 64)
	n, err := b.Getxattr("xattr.txt", "user.test", buf)
	if err != nil {
		t.Fatalf("Getxattr() error = %v", err)
	}
	if string(buf[:n]) != "value" {
		t.Errorf("Getxattr() = %q, want %q", buf[:n], "value")
	}

	listBuf := make([]byte, 256)
	ln, err := b.Listxattr("xattr.txt", listBuf)
	if err != nil {
		t.Fatalf("Listxattr() error = %v", err)
	}
	if ln == 0 {
		t.Error("Listxattr() returned no names after Setxattr")
	}

	if err := b.Removexattr("xattr.txt", "user.test"); err != nil {
		t.Fatalf("Removexattr() error = %v", err)
	}
}

func TestRenameSameBackend(t *testing.T) {
	b := openTestBackend(t)

	fd, err := b.Open("src.txt", unix.O_CREAT|unix.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = unix.Close(fd)

	if err := Rename(b, "src.txt", b, "dst.txt"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if b.Exists("src.txt") {
		t.Error("src.txt still exists after rename")
	}
	if !b.Exists("dst.txt") {
		t.Error("dst.txt does not exist after rename")
	}
}

func TestEnsureIsDir(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureIsDir(dir); err != nil {
		t.Errorf("EnsureIsDir(%s) error = %v", dir, err)
	}

	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := EnsureIsDir(file); err == nil {
		t.Error("EnsureIsDir() on a plain file expected error, got nil")
	}
}
