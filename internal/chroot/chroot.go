// Package chroot implements the capability preflight, jail-escape,
// client-resolution, and exec steps of the chroot-switch helper: given a
// client name, it breaks out of any chroot jail the calling process has
// inherited, re-enters the named client's subtree (or stays at the real
// root for the privileged "pid1" alias), restores the caller's working
// directory where possible, and replaces the process image.
package chroot

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"

	"github.com/clientfs/unionfs/pkg/clientfserr"
)

// PrivilegedAlias is the reserved client name that bypasses the
// config-security check and uses the current root directly.
const PrivilegedAlias = "pid1"

// maxAscentSteps bounds the root-fixed-point ascent against pathological
// mounts (spec.md §9's "sanity bound"); 4096 comfortably exceeds any
// plausible chroot nesting depth.
const maxAscentSteps = 4096

const defaultShell = "/bin/sh"

// Config names the fixed filesystem layout chroot-switch consumes: one
// directory holding `<client>.conf` files, one holding `<client>`
// subdirectories.
type Config struct {
	ConfigDir  string
	ClientsDir string
}

// ConfigSecurityCheck verifies that the config file at path is owned by a
// trusted principal and not world-writable. It is supplied by the caller
// (cmd/chroot-switch) rather than implemented here — spec.md scopes this
// check out as an external collaborator.
type ConfigSecurityCheck func(path string) error

// EnsureCapSysChroot verifies the running process holds CAP_SYS_CHROOT in
// both its permitted and effective sets, matching brc.c's
// ensure_capsyschroot: a missing capability is reported with the exact
// setcap remediation the operator needs, not a bare permission error.
func EnsureCapSysChroot(executableName string) error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindPrivilegeMissing, "chroot", "load process capabilities", err)
	}
	if err := caps.Load(); err != nil {
		return clientfserr.Wrap(clientfserr.KindPrivilegeMissing, "chroot", "load process capabilities", err)
	}
	permitted := caps.Get(capability.PERMITTED, capability.CAP_SYS_CHROOT)
	effective := caps.Get(capability.EFFECTIVE, capability.CAP_SYS_CHROOT)
	if !permitted || !effective {
		return clientfserr.New(clientfserr.KindPrivilegeMissing, "chroot",
			fmt.Sprintf("%s is missing the cap_sys_chroot capability; run 'setcap cap_sys_chroot=ep %s' as root", executableName, executableName))
	}
	return nil
}

// statDevIno stats path (not following a trailing symlink) and returns
// its (device, inode) pair, the identity test the fixed-point ascent and
// client-resolution steps both rely on.
func statDevIno(path string) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), st.Ino, nil
}

// BreakOutOfChroot implements brc.c's break_out_of_chroot: chdir to the
// jail's own root, chroot to configDir (known to exist on the true root
// since the earlier config check, or the pid1 alias, already required
// it), which places the working directory below the new apparent root,
// then ascend via ".." until current and parent share (device, inode) —
// the root fixed point — and re-chroot there.
func BreakOutOfChroot(configDir string) error {
	if err := unix.Chdir("/"); err != nil {
		return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "chdir to jail root", err)
	}
	if err := unix.Chroot(configDir); err != nil {
		return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "chroot to config directory", err)
	}

	for steps := 0; ; steps++ {
		if steps >= maxAscentSteps {
			return clientfserr.New(clientfserr.KindSyscallFailure, "chroot",
				fmt.Sprintf("root fixed point not found after %d ascents", maxAscentSteps))
		}
		if err := unix.Chdir(".."); err != nil {
			return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "ascend to parent directory", err)
		}
		curDev, curIno, err := statDevIno(".")
		if err != nil {
			return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "stat current directory", err)
		}
		parentDev, parentIno, err := statDevIno("..")
		if err != nil {
			return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "stat parent directory", err)
		}
		if curDev == parentDev && curIno == parentIno {
			break
		}
	}

	if err := unix.Chroot("."); err != nil {
		return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "re-root to fixed point", err)
	}
	return nil
}

// ResolveAndExec implements brc.c's remaining logic after the escape: it
// compares the (now real) root to the client's path by (device, inode),
// descends into the client's subtree unless they already match (the
// pid1 case, or an already-bound client), re-roots there, restores the
// caller's original working directory (falling back to "/" with a
// warning if absent in the new view), selects the command to run, and
// execs it. warn receives non-fatal diagnostic messages; it never
// returns control here.
func ResolveAndExec(clientName, clientPath, originalCwd string, args []string, warn func(string)) error {
	realDev, realIno, err := statDevIno(".")
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "stat real root", err)
	}
	clientDev, clientIno, clientErr := statDevIno(clientPath)
	sameRoot := clientErr == nil && clientDev == realDev && clientIno == realIno

	if clientName != PrivilegedAlias && !sameRoot {
		if err := unix.Chdir(clientPath); err != nil {
			return clientfserr.New(clientfserr.KindBackendUnavailable, "chroot",
				fmt.Sprintf("could not find client %q, aborting", clientName))
		}
	}

	if err := unix.Chroot("."); err != nil {
		return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "root into client", err)
	}

	if err := unix.Chdir(originalCwd); err != nil {
		if err := unix.Chdir("/"); err != nil {
			return clientfserr.Wrap(clientfserr.KindSyscallFailure, "chroot", "chdir to fallback root", err)
		}
		warn(fmt.Sprintf("%q not present in target client, falling back to root directory", originalCwd))
	}

	cmd := selectCommand(args)
	env := os.Environ()
	if err := syscall.Exec(cmd[0], cmd, env); err != nil {
		return clientfserr.Wrap(clientfserr.KindExecFailure, "chroot", fmt.Sprintf("exec %q", cmd[0]), err)
	}
	return nil
}

// selectCommand mirrors brc.c: use argv if supplied, else $SHELL if it
// stats successfully inside the new root, else /bin/sh. The command is
// resolved against PATH the same way execvp resolved it, since
// syscall.Exec (unlike execvp) requires an absolute or relative path.
func selectCommand(args []string) []string {
	if len(args) > 0 {
		return resolveAgainstPath(args)
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		if _, err := os.Stat(shell); err == nil {
			return []string{shell}
		}
	}
	return []string{defaultShell}
}

func resolveAgainstPath(args []string) []string {
	if filepath.IsAbs(args[0]) {
		return args
	}
	if resolved, err := exec.LookPath(args[0]); err == nil {
		return append([]string{resolved}, args[1:]...)
	}
	return args
}

// CurrentWorkingDirectory captures the caller's cwd before any root
// change, falling back to "/" with a warning if it cannot be determined
// — matching brc.c's getcwd() failure handling.
func CurrentWorkingDirectory(warn func(string)) string {
	cwd, err := os.Getwd()
	if err != nil {
		warn("could not determine current working directory, falling back to /")
		return "/"
	}
	return cwd
}

// ClientPath joins the clients directory with the client name.
func (c Config) ClientPath(clientName string) string {
	return filepath.Join(c.ClientsDir, clientName)
}

// ConfigPath joins the config directory with the client's config file
// name, the fixed "<client>.conf" suffix from spec.md §6.
func (c Config) ConfigPath(clientName string) string {
	return filepath.Join(c.ConfigDir, clientName+".conf")
}
