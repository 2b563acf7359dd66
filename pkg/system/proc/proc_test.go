//go:build linux

package proc

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTicksAndPageSize(t *testing.T) {
	// Defaults (no env overrides)
	t.Setenv("CLK_TCK", "")
	t.Setenv("PAGE_SIZE", "")
	ct := ClockTicks()
	ps := PageSize()
	assert.Greater(t, ct, 0, "ClockTicks must be > 0")
	assert.Greater(t, ps, 0, "PageSize must be > 0")

	// Env overrides (use weird-but-valid values)
	t.Setenv("CLK_TCK", "250")
	t.Setenv("PAGE_SIZE", "16384")
	assert.Equal(t, 250, ClockTicks())
	assert.Equal(t, 16384, PageSize())
}

func TestExists(t *testing.T) {
	me := os.Getpid()
	assert.True(t, Exists(me), "current PID should exist")
	assert.False(t, Exists(999999), "very large PID should not exist")
}

func TestReadProcStat_Self(t *testing.T) {
	me := os.Getpid()
	ut, st, mn, mj, err := ReadProcStat(me)
	require.NoError(t, err)
	// We can’t assert exact numbers, but they should be monotonic-ish and sane
	assert.True(t, ut >= 0)
	assert.True(t, st >= 0)
	assert.True(t, mn >= 0)
	assert.True(t, mj >= 0)

	// Take a second sample to ensure counters do not go backwards
	time.Sleep(5 * time.Millisecond)
	ut2, st2, mn2, mj2, err := ReadProcStat(me)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ut2, ut)
	assert.GreaterOrEqual(t, st2, st)
	assert.GreaterOrEqual(t, mn2, mn)
	assert.GreaterOrEqual(t, mj2, mj)
}

func TestReadProcStat_NoSuchPid(t *testing.T) {
	_, _, _, _, err := ReadProcStat(999999) // unlikely PID
	require.Error(t, err)
	// we can’t guarantee the exact error (ENOENT from open), so just assert error
}

func TestReadProcIO_Self(t *testing.T) {
	me := os.Getpid()
	r0, w0, err := ReadProcIO(me)
	// Some environments may not expose /proc/<pid>/io (rare), so allow skip
	if err != nil {
		t.Skipf("skipping: /proc/%d/io not available: %v", me, err)
	}
	assert.True(t, r0 >= 0)
	assert.True(t, w0 >= 0)

	time.Sleep(5 * time.Millisecond)
	r1, w1, err := ReadProcIO(me)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r1, r0)
	assert.GreaterOrEqual(t, w1, w0)
}

func TestReadProcIO_NoSuchPid(t *testing.T) {
	_, _, err := ReadProcIO(999999)
	require.Error(t, err)
}

func TestReadProcRSS_Self(t *testing.T) {
	me := os.Getpid()
	rss, err := ReadProcRSS(me)
	// On very minimal kernels without smaps_rollup and statm, this would fail,
	// but that’s extremely unlikely. If it does, mark as skip.
	if err != nil {
		t.Skipf("skipping: unable to read RSS for self: %v", err)
	}
	assert.Greater(t, rss, uint64(0))
}

func TestReadProcRSS_NoSuchPid(t *testing.T) {
	_, err := ReadProcRSS(999999)
	require.Error(t, err)
	// Neither smaps_rollup nor statm exists, so ReadProcRSS returns
	// ErrNoRSS (errs.go):
	require.True(t, errors.Is(err, ErrNoRSS))
}

func TestReadProcChildren_SelfOrInit(t *testing.T) {
	// For the current process, children may or may not exist;
	// We test two paths:
	//  1) Pick init(1): usually has children → expect either a non-empty slice OR ErrNoChildren on very minimal container.
	//  2) A clearly non-existent PID → ErrNoChildren (because no files read).
	var pid int
	if os.Geteuid() == 0 {
		pid = 1
	} else {
		// Non-root may still read /proc/1/task/*/children; if not, the
		// error branch below accepts it.
		pid = 1
	}
	children, err := ReadProcChildren(pid)
	if err != nil {
		// acceptable if no permission/empty on some CI/container
		assert.True(t, errors.Is(err, ErrNoChildren) || err != nil)
	} else {
		assert.GreaterOrEqual(t, len(children), 0) // non-panicking sanity
		for _, c := range children {
			assert.True(t, c > 0, "child PID should be > 0")
		}
	}
}

func TestReadProcChildren_NoSuchPid(t *testing.T) {
	_, err := ReadProcChildren(999999)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoChildren) || err != nil)
}

func TestExists_PIDFromGoroutineAndDummyPID(t *testing.T) {
	// No child process is spawned: the PID read inside a goroutine is this
	// process's own PID, which must exist, while a dummy PID must not.
	ch := make(chan int, 1)
	go func() {
		// Create a child via /proc/self/fd trick? Simpler: fork/exec 'sleep'
		// but we want pure Go: just getpid in this goroutine — still same PID.
		// So we’ll just validate that current PID Exists and a dummy PID does not.
		ch <- os.Getpid()
	}()
	pid := <-ch
	assert.True(t, Exists(pid))
	assert.False(t, Exists(1234567))
}

func TestReadProcStat_FieldParsingWithSpacesInComm(t *testing.T) {
	// This is a structural test: ensure our parsing logic (find ") ") works
	// for a process whose comm contains spaces. We can simulate by
	// reading /proc/self/stat and verifying that LastIndex(") ") >= 0.
	// (We can't rename 'comm' at runtime, so this is a smoke test.)
	f, err := os.Open("/proc/self/stat")
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	line := string(buf[:n])
	assert.GreaterOrEqual(t, strings.LastIndex(line, ") "), 0, "expected ') ' delimiter in /proc/self/stat")
}

func TestReadProcIO_ValuesAreNumbers(t *testing.T) {
	me := os.Getpid()
	r, w, err := ReadProcIO(me)
	if err != nil {
		t.Skipf("skipping: /proc/%d/io not available: %v", me, err)
	}
	// Assert they are parsable numeric values; strconv already enforced it.
	_, _ = strconv.FormatUint(r, 10), strconv.FormatUint(w, 10)
}
