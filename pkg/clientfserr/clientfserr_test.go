package clientfserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(KindArgumentInvalid, "unionfs", "alt paths overlap")
	assert.Equal(t, KindArgumentInvalid, err.Kind)
	assert.Equal(t, "alt paths overlap", err.Message)
	assert.Equal(t, "unionfs", err.Component)
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("ENOENT")
	err := Wrap(KindBackendUnavailable, "unionfs", "cannot open default backend", cause)

	require.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, err))
	assert.Contains(t, err.Error(), "ENOENT")
}

func TestIsMatchesOnKind(t *testing.T) {
	t.Parallel()

	a := New(KindPrivilegeMissing, "chroot-switch", "missing CAP_SYS_CHROOT")
	b := New(KindPrivilegeMissing, "chroot-switch", "a different message")
	c := New(KindExecFailure, "chroot-switch", "exec failed")

	assert.True(t, a.Is(b), "two errors with the same Kind should match Is")
	assert.False(t, a.Is(c), "errors with different Kinds should not match Is")
	assert.False(t, a.Is(errors.New("plain")), "Is should reject non-*Error targets")
}

func TestWithContext(t *testing.T) {
	t.Parallel()

	err := New(KindConfigInsecure, "chroot-switch", "config directory is world-writable").
		WithContext("path", "/bedrock/etc").
		WithContext("mode", "0777")

	assert.Equal(t, "/bedrock/etc", err.Context["path"])
	assert.Equal(t, "0777", err.Context["mode"])
}

func TestJSONIncludesKind(t *testing.T) {
	t.Parallel()

	err := New(KindSyscallFailure, "unionfs", "renameat failed")
	assert.Contains(t, err.JSON(), "SYSCALL_FAILURE")
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := map[Kind]int{
		KindArgumentInvalid:    2,
		KindPrivilegeMissing:   3,
		KindConfigInsecure:     4,
		KindBackendUnavailable: 5,
		KindSyscallFailure:     6,
		KindExecFailure:        7,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.ExitCode(), "%s.ExitCode()", kind)
	}
}
