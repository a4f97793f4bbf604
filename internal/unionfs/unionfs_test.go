package unionfs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/clientfs/unionfs/internal/backend"
	"github.com/clientfs/unionfs/internal/routing"
)

func newTestFilesystem(t *testing.T, alternates []string) (*Filesystem, string, string) {
	t.Helper()
	defRoot := t.TempDir()
	altRoot := t.TempDir()

	def, err := backend.Open("default", defRoot)
	if err != nil {
		t.Fatalf("Open(default) error = %v", err)
	}
	alt, err := backend.Open("alternate", altRoot)
	if err != nil {
		t.Fatalf("Open(alternate) error = %v", err)
	}
	t.Cleanup(func() { _ = def.Close(); _ = alt.Close() })

	table, err := routing.NewTable(alternates)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return New(def, alt, table, nil), defRoot, altRoot
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestMergedDirEntriesUnionsBothBackends(t *testing.T) {
	f, defRoot, altRoot := newTestFilesystem(t, []string{"shared"})

	writeFile(t, defRoot, "only-default.txt", []byte("d"))
	writeFile(t, defRoot, "shared/should-be-hidden.txt", []byte("hidden"))
	writeFile(t, altRoot, "shared/only-alternate.txt", []byte("a"))

	entries, errno := mergedDirEntries(f, "")
	if errno != 0 {
		t.Fatalf("mergedDirEntries() errno = %v", errno)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)

	want := []string{"only-default.txt", "shared"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMergedDirEntriesWithinAlternateSubtree(t *testing.T) {
	f, defRoot, altRoot := newTestFilesystem(t, []string{"shared"})

	writeFile(t, defRoot, "shared/should-be-hidden.txt", []byte("hidden"))
	writeFile(t, altRoot, "shared/only-alternate.txt", []byte("a"))

	entries, errno := mergedDirEntries(f, "shared")
	if errno != 0 {
		t.Fatalf("mergedDirEntries() errno = %v", errno)
	}
	if len(entries) != 1 || entries[0].Name != "only-alternate.txt" {
		t.Errorf("entries = %v, want only-alternate.txt", entries)
	}
}

func TestRenameSameBackendIsPositional(t *testing.T) {
	f, defRoot, _ := newTestFilesystem(t, nil)
	writeFile(t, defRoot, "src.txt", []byte("hello"))

	if errno := rename(f, "src.txt", "dst.txt"); errno != 0 {
		t.Fatalf("rename() errno = %v", errno)
	}
	if _, err := os.Stat(filepath.Join(defRoot, "src.txt")); !os.IsNotExist(err) {
		t.Errorf("src.txt still exists after same-backend rename")
	}
	got, err := os.ReadFile(filepath.Join(defRoot, "dst.txt"))
	if err != nil || string(got) != "hello" {
		t.Errorf("dst.txt = %q, %v; want \"hello\"", got, err)
	}
}

func TestRenameCrossBackendMovesFile(t *testing.T) {
	f, defRoot, altRoot := newTestFilesystem(t, []string{"alt"})
	writeFile(t, defRoot, "src.txt", []byte("cross-backend payload"))

	if errno := rename(f, "src.txt", "alt/dst.txt"); errno != 0 {
		t.Fatalf("rename() errno = %v", errno)
	}
	if _, err := os.Stat(filepath.Join(defRoot, "src.txt")); !os.IsNotExist(err) {
		t.Errorf("src.txt still exists in default backend after cross-backend rename")
	}
	got, err := os.ReadFile(filepath.Join(altRoot, "alt", "dst.txt"))
	if err != nil || string(got) != "cross-backend payload" {
		t.Errorf("alt/dst.txt = %q, %v; want \"cross-backend payload\"", got, err)
	}
}

func TestRenameCrossBackendSymlink(t *testing.T) {
	f, defRoot, altRoot := newTestFilesystem(t, []string{"alt"})
	if err := os.Symlink("/some/target", filepath.Join(defRoot, "link")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	if errno := rename(f, "link", "alt/link"); errno != 0 {
		t.Fatalf("rename() errno = %v", errno)
	}
	got, err := os.Readlink(filepath.Join(altRoot, "alt", "link"))
	if err != nil || got != "/some/target" {
		t.Errorf("Readlink(alt/link) = %q, %v; want /some/target", got, err)
	}
}

func TestResolveRoutesByTable(t *testing.T) {
	f, _, _ := newTestFilesystem(t, []string{"alt"})

	if b := f.resolve("alt/file.txt"); b != f.Alternate {
		t.Error("resolve(alt/file.txt) did not route to alternate backend")
	}
	if b := f.resolve("other/file.txt"); b != f.Default {
		t.Error("resolve(other/file.txt) did not route to default backend")
	}
}
