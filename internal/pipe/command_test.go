package pipe_test

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github/procpipe/internal/pipe"
)

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("the test relies on Unix commands")
	}
}

func numberedLines(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}

func TestCommandSource(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	out, err := pipe.Pipe(pipe.DefaultCapacity, pipe.MustCommand("echo", "hello world")).Output()
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestCommandMiddle(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	for _, capacity := range []int{1, 3, 512} {
		capacity := capacity
		t.Run(strconv.Itoa(capacity), func(t *testing.T) {
			t.Parallel()

			out, err := pipe.Pipe(capacity, pipe.String("hello world")).
				Then(pipe.MustCommand("tr", "a-z", "A-Z")).
				Output()
			require.NoError(t, err)
			assert.Equal(t, "HELLO WORLD", out)
		})
	}
}

func TestCommandChain(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	// `sed` only flushes its output at EOF, so nearly every step costs
	// a poll interval; keep the input small for small capacities:
	for _, tc := range []struct {
		capacity int
		lines    int
	}{
		{capacity: 1, lines: 10},
		{capacity: 7, lines: 50},
		{capacity: 64, lines: 200},
		{capacity: 4096, lines: 200},
	} {
		tc := tc
		t.Run(strconv.Itoa(tc.capacity), func(t *testing.T) {
			t.Parallel()

			input := numberedLines(tc.lines)
			expected := strings.ReplaceAll(">"+input, "\n", "\n>")
			expected = strings.TrimSuffix(expected, ">")

			p := pipe.Pipe(
				tc.capacity,
				pipe.String(input),
				pipe.MustCommand("cat"),
				pipe.MustCommand("sed", "s/^/>/"),
				pipe.Identity(),
				pipe.MustCommand("cat"),
			)
			out, err := p.Output()
			require.NoError(t, err)
			assert.Equal(t, expected, out)

			for _, s := range p.Stats() {
				assert.NotZero(t, s.Bytes, s.Name)
			}
		})
	}
}

func TestCommandFeedsGoStages(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	var sum int
	out, err := pipe.Pipe(
		16,
		pipe.MustCommand("seq", "1", "100"),
		pipe.LinewiseFunction("sum", func(line []byte, _ *bytes.Buffer) error {
			n, err := strconv.Atoi(string(line))
			if err != nil {
				return err
			}
			sum += n
			return nil
		}),
	).Output()
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 5050, sum)
}

func TestCommandAsLast(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	p := pipe.Pipe(2, pipe.String(numberedLines(50)), pipe.MustCommand("cat"))
	require.NoError(t, p.Run())
	assert.NoError(t, p.Close())
	assert.EqualValues(t, len(numberedLines(50)), p.Stats()[1].Bytes)
}

func TestCommandExitError(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	err := pipe.Pipe(pipe.DefaultCapacity, pipe.MustCommand("false")).RunDiscard()
	require.Error(t, err)
	assert.EqualError(t, err, "false: exit status 1")
	assert.ErrorIs(t, err, pipe.ErrOS)
	assert.True(t, pipe.IsExitError(err))
}

func TestCommandStderr(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	err := pipe.Pipe(
		pipe.DefaultCapacity,
		pipe.MustCommand("sh", "-c", "echo oops >&2; exit 3"),
	).RunDiscard()
	require.Error(t, err)

	var eErr *exec.ExitError
	require.True(t, errors.As(err, &eErr))
	assert.Equal(t, 3, eErr.ExitCode())
	assert.Equal(t, "oops\n", string(eErr.Stderr))
}

func TestIgnoredExitError(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	p := pipe.New(pipe.DefaultCapacity)
	p.AddWithIgnoredError(pipe.IsExitError, pipe.MustCommand("false"))
	assert.NoError(t, p.RunDiscard())
}

func TestIgnoredExitErrorKeepsOutput(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	script := "echo hello; echo world; exit 1"

	t.Run("first", func(t *testing.T) {
		t.Parallel()

		s := pipe.IgnoreError(pipe.MustCommand("sh", "-c", script), pipe.IsExitError)
		// Let the command exit before the pipeline looks at it:
		time.Sleep(200 * time.Millisecond)

		out, err := pipe.Pipe(pipe.DefaultCapacity, s).Output()
		require.NoError(t, err)
		assert.Equal(t, "hello\nworld\n", out)
	})

	t.Run("middle", func(t *testing.T) {
		t.Parallel()

		out, err := pipe.Pipe(
			3,
			pipe.String("a\nb\nc\n"),
			pipe.IgnoreError(
				pipe.MustCommand("sh", "-c", "cat; echo done; exit 2"),
				pipe.IsExitError,
			),
		).Output()
		require.NoError(t, err)
		assert.Equal(t, "a\nb\nc\ndone\n", out)
	})

	t.Run("unfiltered", func(t *testing.T) {
		t.Parallel()

		var sb strings.Builder
		s := pipe.MustCommand("sh", "-c", script)
		time.Sleep(200 * time.Millisecond)

		err := pipe.Pipe(pipe.DefaultCapacity, s).RunInto(&sb)
		assert.ErrorIs(t, err, pipe.ErrOS)
		// The exit status is reported only after the output:
		assert.Equal(t, "hello\nworld\n", sb.String())
	})
}

func TestCommandExitsEarly(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	// More than fits in a pipe buffer, so `head` can't have consumed
	// it all before it exits:
	input := strings.Repeat("hello world\n", 20000)

	t.Run("unfiltered", func(t *testing.T) {
		t.Parallel()

		_, err := pipe.Pipe(
			pipe.DefaultCapacity, pipe.String(input), pipe.MustCommand("head", "-c", "5"),
		).Output()
		assert.ErrorIs(t, err, pipe.ErrIO)
		assert.ErrorIs(t, err, syscall.EPIPE)
	})

	t.Run("ignored", func(t *testing.T) {
		t.Parallel()

		out, err := pipe.Pipe(
			pipe.DefaultCapacity,
			pipe.String(input),
			pipe.IgnoreError(pipe.MustCommand("head", "-c", "5"), pipe.IsPipeError),
		).Output()
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})
}

func TestCommandNotFound(t *testing.T) {
	t.Parallel()

	_, err := pipe.Command("procpipe-no-such-command")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipe.ErrOS)
}

func TestEmptyCommandPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { _, _ = pipe.Command("") })
}

func TestCommandStageRejectsPresetStreams(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	path, err := pipe.LookPath("echo")
	require.NoError(t, err)

	cmd := exec.Command(path, "hi")
	cmd.Stdout = &bytes.Buffer{}
	_, err = pipe.CommandStage("echo", cmd)
	assert.ErrorIs(t, err, pipe.ErrOS)
}

func TestCommandWithDir(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	path, err := pipe.LookPath("pwd")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	s, err := pipe.CommandStage("pwd", exec.Command(path), pipe.WithDir(dir))
	require.NoError(t, err)

	out, err := pipe.Pipe(pipe.DefaultCapacity, s).Output()
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", out)
}

func TestCommandBlockingReads(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	path, err := pipe.LookPath("seq")
	require.NoError(t, err)

	s, err := pipe.CommandStage(
		"seq", exec.Command(path, "1", "5"), pipe.WithPollInterval(0),
	)
	require.NoError(t, err)

	out, err := pipe.Pipe(3, s).Output()
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n4\n5\n", out)
}

func TestCloseKillsCommand(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	p := pipe.Pipe(pipe.DefaultCapacity, pipe.MustCommand("sleep", "60"), pipe.Discard())
	require.NoError(t, p.Step())

	done, err := p.IsComplete()
	require.NoError(t, err)
	assert.False(t, done)

	start := time.Now()
	assert.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 10*time.Second)

	// Closing again is harmless:
	assert.NoError(t, p.Close())
}
