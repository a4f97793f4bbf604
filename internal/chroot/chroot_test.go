package chroot

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// EnsureCapSysChroot, BreakOutOfChroot, and ResolveAndExec all require
// CAP_SYS_CHROOT and mutate process-wide root/cwd state — they are
// exercised by chroot-switch's own integration environment, not by an
// unprivileged unit test. This file covers the pure path/selection logic
// that does not touch chroot(2).

func TestConfigPaths(t *testing.T) {
	cfg := Config{ConfigDir: "/bedrock/etc/clients.d", ClientsDir: "/bedrock/clients"}

	if got, want := cfg.ClientPath("alpha"), "/bedrock/clients/alpha"; got != want {
		t.Errorf("ClientPath() = %q, want %q", got, want)
	}
	if got, want := cfg.ConfigPath("alpha"), "/bedrock/etc/clients.d/alpha.conf"; got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestSelectCommandUsesArgs(t *testing.T) {
	got := selectCommand([]string{"ls", "-l"})
	if len(got) != 2 || got[1] != "-l" {
		t.Errorf("selectCommand(args) = %v, want a 2-element argv ending in -l", got)
	}
}

func TestSelectCommandFallsBackToShellEnv(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}
	t.Setenv("SHELL", sh)

	got := selectCommand(nil)
	if len(got) != 1 || got[0] != sh {
		t.Errorf("selectCommand(nil) = %v, want [%q]", got, sh)
	}
}

func TestSelectCommandFallsBackToDefaultShell(t *testing.T) {
	t.Setenv("SHELL", filepath.Join(t.TempDir(), "does-not-exist"))

	got := selectCommand(nil)
	if len(got) != 1 || got[0] != defaultShell {
		t.Errorf("selectCommand(nil) = %v, want [%q]", got, defaultShell)
	}
}

func TestCurrentWorkingDirectoryReturnsGetwd(t *testing.T) {
	want, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}
	got := CurrentWorkingDirectory(func(string) {})
	if got != want {
		t.Errorf("CurrentWorkingDirectory() = %q, want %q", got, want)
	}
}
