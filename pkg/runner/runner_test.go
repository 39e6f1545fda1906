package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShellRunner(t *testing.T, mutate func(*Options)) (*Runner, string) {
	t.Helper()
	tmp := t.TempDir()
	opts := Options{
		Interpreter: "sh",
		FileSuffix:  ".sh",
		TempDir:     tmp,
		Timeout:     10 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), tmp
}

func assertCleaned(t *testing.T, tmp string) {
	t.Helper()
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "work directory should be removed")
}

func TestRun_Success(t *testing.T) {
	r, tmp := newShellRunner(t, nil)
	out := r.Run(context.Background(), "echo OK")

	assert.True(t, out.Succeeded())
	assert.Contains(t, out.Output, "OK")
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
	assert.Empty(t, out.ErrorDetail)
	assertCleaned(t, tmp)
}

func TestRun_NonZeroExit(t *testing.T) {
	r, tmp := newShellRunner(t, nil)
	out := r.Run(context.Background(), "echo boom >&2\nexit 3")

	assert.Equal(t, Failure, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 3, *out.ExitCode)
	assert.Equal(t, "Exit code: 3\nboom\n", out.ErrorDetail)
	assertCleaned(t, tmp)
}

func TestRun_LaunchFailure(t *testing.T) {
	r, tmp := newShellRunner(t, func(o *Options) {
		o.Interpreter = filepath.Join(t.TempDir(), "no-such-interpreter")
	})
	out := r.Run(context.Background(), "echo OK")

	assert.Equal(t, Failure, out.Status)
	assert.Nil(t, out.ExitCode)
	assert.NotEmpty(t, out.ErrorDetail)
	assertCleaned(t, tmp)
}

func TestRun_Timeout(t *testing.T) {
	r, tmp := newShellRunner(t, func(o *Options) { o.Timeout = 200 * time.Millisecond })
	start := time.Now()
	out := r.Run(context.Background(), "exec sleep 5")

	assert.Equal(t, Failure, out.Status)
	assert.True(t, out.TimedOut)
	assert.Nil(t, out.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
	assertCleaned(t, tmp)
}

func TestRun_Environment(t *testing.T) {
	lib := t.TempDir()
	r, _ := newShellRunner(t, func(o *Options) {
		o.LibraryPath = lib
		o.SearchPathEnv = "PYTHONPATH"
		o.Env = []string{"AGSTACK_CONFIG=/etc/agstack.yaml"}
	})
	out := r.Run(context.Background(), `echo "$PYTHONPATH"; echo "$PATH"; echo "$AGSTACK_CONFIG"; pwd`)
	require.True(t, out.Succeeded(), out.ErrorDetail)

	lines := strings.Split(strings.TrimSpace(out.Output), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], lib))
	assert.True(t, strings.HasPrefix(lines[1], lib+string(os.PathListSeparator)))
	assert.Equal(t, "/etc/agstack.yaml", lines[2])
	assert.Contains(t, lines[3], "agstack-run-")
}

func TestRun_OutputCapped(t *testing.T) {
	r, _ := newShellRunner(t, func(o *Options) { o.MaxOutputBytes = 8 })
	out := r.Run(context.Background(), "echo 0123456789abcdef")

	assert.True(t, out.Succeeded())
	assert.Equal(t, "01234567\n[output truncated]", out.Output)
}

func TestRun_IsolatedRuns(t *testing.T) {
	r, tmp := newShellRunner(t, nil)
	first := r.Run(context.Background(), "echo leftover > state.txt; echo done")
	require.True(t, first.Succeeded())

	second := r.Run(context.Background(), "test -f state.txt && echo found || echo clean")
	require.True(t, second.Succeeded())
	assert.Contains(t, second.Output, "clean")
	assertCleaned(t, tmp)
}

func TestRun_PerRunEnvironment(t *testing.T) {
	r, _ := newShellRunner(t, nil)
	out := r.Run(context.Background(), `echo "scope=$AGSTACK_ARTIFACT_SCOPE"`, "AGSTACK_ARTIFACT_SCOPE=turn-42")
	require.True(t, out.Succeeded(), out.ErrorDetail)
	assert.Equal(t, "scope=turn-42\n", out.Output)

	again := r.Run(context.Background(), `echo "scope=$AGSTACK_ARTIFACT_SCOPE"`)
	assert.Equal(t, "scope=\n", again.Output)
}

func TestRun_CallerDeadlineEarlierThanTimeout(t *testing.T) {
	r, tmp := newShellRunner(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out := r.Run(ctx, "exec sleep 5")

	assert.Equal(t, Failure, out.Status)
	assert.True(t, out.TimedOut)
	assert.True(t, strings.HasPrefix(out.ErrorDetail, "Execution timed out after "))
	assert.NotContains(t, out.ErrorDetail, "10s")
	assertCleaned(t, tmp)
}

func TestRun_CallerCancel(t *testing.T) {
	r, tmp := newShellRunner(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	out := r.Run(ctx, "exec sleep 5")

	assert.Equal(t, Failure, out.Status)
	assert.False(t, out.TimedOut)
	assert.True(t, strings.HasPrefix(out.ErrorDetail, "Execution cancelled after "))
	assertCleaned(t, tmp)
}

func TestRun_TimeoutReportsRunnerLimit(t *testing.T) {
	r, _ := newShellRunner(t, func(o *Options) { o.Timeout = 200 * time.Millisecond })
	out := r.Run(context.Background(), "exec sleep 5")

	require.True(t, out.TimedOut)
	assert.True(t, strings.HasPrefix(out.ErrorDetail, "Execution timed out after 200ms\n"))
}
