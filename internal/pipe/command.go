package pipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cli/safeexec"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how long a command stage waits for its
// command to produce output before reporting that none is available
// for the current step.
//
// Every step in which a command has nothing to read costs the full
// interval. A command that buffers its output until EOF (e.g., `sed`
// or `tr` writing to a pipe) therefore adds this much latency to
// nearly every step, so a run takes roughly `input/capacity` times
// the interval. Use a larger capacity, or a shorter interval, for big
// inputs.
const DefaultPollInterval = 10 * time.Millisecond

// commandStage is a pipeline `Stage` based on running an external
// command and pumping data through its stdin and stdout.
type commandStage struct {
	name string
	cmd  *exec.Cmd
	poll time.Duration

	// Our ends of the command's stdin and stdout pipes.
	stdin  *os.File
	stdout *os.File

	stderr bytes.Buffer
	wg     errgroup.Group

	// exited is closed once the command has exited and its stderr
	// has been collected; waitErr is valid from then on.
	exited  chan struct{}
	waitErr error

	// Whether the platform supports read deadlines on pipes. If it
	// doesn't, reads block until output or EOF arrives.
	deadlines bool

	role        Role
	ran         bool
	eof         bool
	stdinClosed bool
	closed      bool

	// drained is non-nil once the command has been run as the last
	// stage, in which case its stdout is discarded in the
	// background, and is closed when that is finished.
	drained chan struct{}
}

// CommandOption configures a command stage.
type CommandOption func(*commandStage)

// WithPollInterval sets how long each read from the command's stdout
// waits for output. Zero means wait until output or EOF arrives.
func WithPollInterval(d time.Duration) CommandOption {
	return func(s *commandStage) {
		s.poll = d
	}
}

// WithDir sets the directory in which the command runs, unless the
// `exec.Cmd` already has one.
func WithDir(dir string) CommandOption {
	return func(s *commandStage) {
		if s.cmd.Dir == "" {
			s.cmd.Dir = dir
		}
	}
}

// Command starts the specified external `command`, run with the given
// command-line `args`, and returns a pipeline `Stage` that pumps data
// through it. The executable is looked up in PATH only (never in the
// current directory). Its stderr is collected and included in any
// `*exec.ExitError` that the command might emit.
func Command(command string, args ...string) (Stage, error) {
	if len(command) == 0 {
		panic("attempt to create command with empty command")
	}

	path, err := LookPath(command)
	if err != nil {
		return nil, osError(command, "lookup", err)
	}

	return CommandStage(command, exec.Command(path, args...))
}

// MustCommand is like `Command`, but panics if the command can't be
// started.
func MustCommand(command string, args ...string) Stage {
	s, err := Command(command, args...)
	if err != nil {
		panic(err)
	}
	return s
}

// CommandStage starts `cmd` and returns a pipeline `Stage` with the
// name `name` that pumps data through it. `cmd` must not have its
// stdin, stdout, or stderr set.
func CommandStage(name string, cmd *exec.Cmd, options ...CommandOption) (Stage, error) {
	s := &commandStage{
		name:      name,
		cmd:       cmd,
		poll:      DefaultPollInterval,
		exited:    make(chan struct{}),
		deadlines: true,
	}

	for _, option := range options {
		option(s)
	}

	if err := s.start(); err != nil {
		return nil, osError(name, "start", err)
	}

	return s, nil
}

func (s *commandStage) Name() string {
	return s.name
}

func (s *commandStage) start() error {
	if s.cmd.Stdin != nil || s.cmd.Stdout != nil || s.cmd.Stderr != nil {
		return errors.New("command already has its standard streams set")
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			files = append(files, r, w)
		}
		return r, w, err
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return err
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		return err
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		return err
	}

	s.cmd.Stdin = stdinR
	s.cmd.Stdout = stdoutW
	s.cmd.Stderr = stderrW

	// Put the command in its own process group, if possible:
	s.runInOwnProcessGroup()

	if err := s.cmd.Start(); err != nil {
		closeAll()
		return err
	}

	// The child has its own copies of these now:
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()

	s.stdin = stdinW
	s.stdout = stdoutR

	s.wg.Go(func() error {
		_, err := io.Copy(&s.stderr, stderrR)
		_ = stderrR.Close()
		// We don't consider `ErrClosed` an error:
		if err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	})

	go func() {
		// Make sure that any stderr is copied before reporting the
		// exit, so that it can be attached to the error:
		wErr := s.wg.Wait()
		err := s.filterCmdError(s.cmd.Wait())
		if err == nil {
			err = wErr
		}
		s.waitErr = err
		close(s.exited)
	}()

	return nil
}

// filterCmdError interprets `err`, which was returned by `Cmd.Wait()`
// (possibly `nil`), attaching the collected stderr to exit errors.
func (s *commandStage) filterCmdError(err error) error {
	if err == nil {
		return nil
	}

	eErr, ok := err.(*exec.ExitError)
	if !ok {
		return err
	}

	eErr.Stderr = s.stderr.Bytes()
	return eErr
}

// Run writes the input (if any) to the command's stdin and then reads
// whatever output is available (unless this is the last stage).
func (s *commandStage) Run(pos Position) (int, error) {
	if !s.ran {
		s.ran = true
		s.role = pos.Role
		if pos.Role == Last {
			s.discardOutput()
		}
	}

	switch pos.Role {
	case First:
		return s.read(pos.Out)
	case Middle:
		if err := s.write(pos.In); err != nil {
			return 0, err
		}
		return s.read(pos.Out)
	case Last:
		return 0, s.write(pos.In)
	default:
		return 0, Unsupported(s.name, pos.Role)
	}
}

func (s *commandStage) write(in []byte) error {
	if len(in) == 0 {
		return nil
	}
	if s.stdinClosed {
		return ioError(s.name, "write", os.ErrClosed)
	}
	// `os.File.Write()` doesn't return until all of `in` is written
	// or an error occurs.
	if _, err := s.stdin.Write(in); err != nil {
		return ioError(s.name, "write", err)
	}
	return nil
}

func (s *commandStage) read(out []byte) (int, error) {
	if s.eof || len(out) == 0 {
		return 0, nil
	}

	if s.poll > 0 && s.deadlines {
		err := s.stdout.SetReadDeadline(time.Now().Add(s.poll))
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNoDeadline):
			s.deadlines = false
		default:
			return 0, ioError(s.name, "read", err)
		}
	}

	n, err := s.stdout.Read(out)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		s.eof = true
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return n, nil
	default:
		return n, ioError(s.name, "read", err)
	}
}

// discardOutput arranges for the command's stdout to be read and
// thrown away, so that a command at the end of a pipeline can't block
// on a full pipe.
func (s *commandStage) discardOutput() {
	s.drained = make(chan struct{})
	go func() {
		defer close(s.drained)
		_, _ = io.Copy(io.Discard, s.stdout)
	}()
}

func (s *commandStage) closeStdin() error {
	if s.stdinClosed {
		return nil
	}
	s.stdinClosed = true
	return s.stdin.Close()
}

// Done closes the command's stdin once nothing more can arrive from
// upstream, so that the command sees EOF. The stage is finished once
// the command has exited and all of its output has been read; a
// command that exited unsuccessfully is reported as an error, but
// only after its output has been passed on.
func (s *commandStage) Done(up Upstream) (bool, error) {
	if up != UpstreamRunning {
		if err := s.closeStdin(); err != nil {
			return false, ioError(s.name, "close", err)
		}
	}

	select {
	case <-s.exited:
	default:
		return false, nil
	}

	if !s.outputConsumed() {
		return false, nil
	}

	if s.waitErr != nil {
		return false, osError(s.name, "", s.waitErr)
	}
	return true, nil
}

// outputConsumed reports whether everything the command wrote to its
// stdout has been read (or, for the last stage, discarded).
func (s *commandStage) outputConsumed() bool {
	if s.ran && s.role == Last {
		select {
		case <-s.drained:
			return true
		default:
			return false
		}
	}
	return s.eof
}

// Close kills the command if it is still running, waits for it to
// exit, and releases its pipes. The exit status is not reported.
func (s *commandStage) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.closeStdin()

	select {
	case <-s.exited:
	default:
		s.kill()
		<-s.exited
	}

	if cErr := s.stdout.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if s.drained != nil {
		<-s.drained
	}
	return err
}

func (s *commandStage) String() string {
	return fmt.Sprintf("%s (pid %d)", s.name, s.cmd.Process.Pid)
}

var lookPathMemo sync.Map // map[string]string

// LookPath finds the absolute path of the executable for `command`.
// It uses `safeexec`, because on Windows, `exec.Cmd` looks not only in
// PATH, but also in the current directory, which is a risk if that
// directory holds untrusted files. Results are memoized.
func LookPath(command string) (string, error) {
	if p, ok := lookPathMemo.Load(command); ok {
		return p.(string), nil
	}

	p, err := safeexec.LookPath(command)
	if err != nil {
		return "", err
	}

	p, err = filepath.Abs(p)
	if err != nil {
		return "", err
	}

	lookPathMemo.Store(command, p)
	return p, nil
}
