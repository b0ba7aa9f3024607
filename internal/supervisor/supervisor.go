// Package supervisor implements the Subprocess Supervisor (§4.1): runs one
// argv list in its own process group, fans its stdout/stderr out to file
// sinks and an external log sink, and performs graceful
// SIGTERM-then-SIGKILL termination. Grounded on
// original_source/executer-tracker/executer_tracker/executers/subprocess_tracker.py,
// expressed in the teacher's process-lifecycle idiom.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("source", "supervisor")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const (
	// DefaultSigkillDelay is how long terminate() waits after SIGTERM
	// before escalating to SIGKILL.
	DefaultSigkillDelay = 1 * time.Second
	// DefaultCheckInterval is the poll period while waiting for exit
	// during termination.
	DefaultCheckInterval = 100 * time.Millisecond
	// DefaultSigtermTimeout bounds the whole termination sequence.
	DefaultSigtermTimeout = 5 * time.Second
)

// LineSink receives one decoded line at a time from a supervised stream.
type LineSink interface {
	WriteLine(line string) error
}

// FuncSink adapts a function to LineSink.
type FuncSink func(line string) error

func (f FuncSink) WriteLine(line string) error { return f(line) }

// Options configures one Supervisor run.
type Options struct {
	Argv       []string
	Dir        string
	Stdin      string // joined with "\n", fed to the child's stdin
	StdoutSink LineSink
	StderrSink LineSink

	SigkillDelay   time.Duration
	CheckInterval  time.Duration
	SigtermTimeout time.Duration
}

// Supervisor runs and supervises one OS process.
type Supervisor struct {
	opts Options
	cmd  *exec.Cmd

	terminated int32 // atomic flag: terminate() already ran its effect

	readerGroup *errgroup.Group
	readerCtx   context.Context
}

// New constructs a Supervisor for the given options, filling in defaults.
func New(opts Options) *Supervisor {
	if opts.SigkillDelay == 0 {
		opts.SigkillDelay = DefaultSigkillDelay
	}
	if opts.CheckInterval == 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.SigtermTimeout == 0 {
		opts.SigtermTimeout = DefaultSigtermTimeout
	}
	return &Supervisor{opts: opts}
}

// Run starts the process in its own process group and returns once the
// sink readers have begun draining. It does not block for exit.
func (s *Supervisor) Run() error {
	s.cmd = exec.Command(s.opts.Argv[0], s.opts.Argv[1:]...)
	s.cmd.Dir = s.opts.Dir
	s.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if s.opts.Stdin != "" {
		s.cmd.Stdin = newStringReader(s.opts.Stdin)
	}

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "creating stdout pipe")
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "creating stderr pipe")
	}

	if err := s.cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting command %v", s.opts.Argv)
	}

	s.readerCtx = context.Background()
	group, _ := errgroup.WithContext(s.readerCtx)
	s.readerGroup = group

	group.Go(func() error { return drain(stdout, s.opts.StdoutSink) })
	group.Go(func() error { return drain(stderr, s.opts.StderrSink) })

	log.WithField("pid", s.cmd.Process.Pid).WithField("argv", s.opts.Argv).Info("subprocess started")
	return nil
}

func drain(r io.Reader, sink LineSink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if sink == nil {
			continue
		}
		if err := sink.WriteLine(scanner.Text()); err != nil {
			return errors.Wrap(err, "sink write failed")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading subprocess output")
	}
	return nil
}

// Wait blocks until the process terminates. Every period it calls onTick;
// if a sink reader returned an error, Wait re-raises it after the process
// has exited. Returns the exit code, negative if the process was killed by
// a signal (POSIX convention, per §4.1).
func (s *Supervisor) Wait(period time.Duration, onTick func()) (int, error) {
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			if onTick != nil {
				onTick()
			}
		}
	}

	readerErr := s.readerGroup.Wait()

	exitCode := exitCodeOf(s.cmd, waitErr)

	if readerErr != nil {
		return exitCode, readerErr
	}
	return exitCode, nil
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return -int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return -1
}

// Terminate performs graceful shutdown: SIGTERM to the whole process
// group, escalating to SIGKILL after SigkillDelay if still alive, polling
// every CheckInterval up to SigtermTimeout. Idempotent: returns true only
// on the call that actually requests termination (§4.1, §8 property 5).
func (s *Supervisor) Terminate() bool {
	if !atomic.CompareAndSwapInt32(&s.terminated, 0, 1) {
		return false
	}

	pgid, err := syscall.Getpgid(s.cmd.Process.Pid)
	if err != nil {
		log.WithError(err).Warn("could not resolve process group, signaling pid directly")
		pgid = s.cmd.Process.Pid
	}

	log.WithField("pgid", pgid).Info("terminating subprocess: sending SIGTERM")
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	deadline := time.Now().Add(s.opts.SigtermTimeout)
	sigkillAt := time.Now().Add(s.opts.SigkillDelay)
	killed := false

	for time.Now().Before(deadline) {
		if !processAlive(s.cmd.Process.Pid) {
			return true
		}
		if !killed && time.Now().After(sigkillAt) {
			log.WithField("pgid", pgid).Warn("subprocess ignored SIGTERM: sending SIGKILL")
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			killed = true
		}
		time.Sleep(s.opts.CheckInterval)
	}

	return true
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func newStringReader(s string) io.Reader {
	return &stringReader{s: s}
}

type stringReader struct {
	s   string
	pos int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}

// FileSink writes lines to a file and, if set, tees them to an external
// log sink, matching subprocess_tracker.py's dual-destination streaming.
type FileSink struct {
	file      *os.File
	extraSink LineSink
}

// NewFileSink opens path for append, creating it if necessary.
func NewFileSink(path string, extra LineSink) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sink file %q", path)
	}
	return &FileSink{file: f, extraSink: extra}, nil
}

// WriteLine implements LineSink.
func (f *FileSink) WriteLine(line string) error {
	if _, err := f.file.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "writing to file sink")
	}
	if f.extraSink != nil {
		if err := f.extraSink.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (f *FileSink) Close() error {
	return f.file.Close()
}
