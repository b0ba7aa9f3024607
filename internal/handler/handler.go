// Package handler implements the Task Request Handler (§4.10): the single
// state machine that drives one task from acceptance through output
// upload. Grounded step-by-step on
// original_source/executer-tracker/executer_tracker/task_request_handler.py,
// with cleanup accumulation in the style of original_source's cleanup.py.
package handler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inductiva/task-runner/internal/cancellation"
	"github.com/inductiva/task-runner/internal/commands"
	"github.com/inductiva/task-runner/internal/events"
	"github.com/inductiva/task-runner/internal/listener"
	"github.com/inductiva/task-runner/internal/mpi"
	"github.com/inductiva/task-runner/internal/observer"
	"github.com/inductiva/task-runner/internal/supervisor"
	"github.com/inductiva/task-runner/internal/sysmonitor"
	"github.com/inductiva/task-runner/internal/tracing"
	"github.com/inductiva/task-runner/internal/types"
)

var log = logrus.WithField("source", "handler")

// containerWorkDir is the fixed path the task's working directory is bound
// to inside the container (§6), mirroring
// original_source/task-runner/task_runner/executers/base_executer.py's
// working_dir_container constant.
const containerWorkDir = "/workdir"

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// ImageResolver resolves a container image reference to a local file
// (§4.2); satisfied by *imagecache.Cache.
type ImageResolver interface {
	Get(ctx context.Context, ref string) (*types.ContainerImageEntry, error)
}

// ArtifactStore downloads task inputs and uploads task outputs (§4.3);
// satisfied by *artifactstore.Client.
type ArtifactStore interface {
	DownloadInput(ctx context.Context, taskID, destPath string) (elapsedS float64, sizeBytes int64, err error)
	UploadOutput(ctx context.Context, taskID, outputDir string) (elapsedS float64, sizeBytes int64, err error)
}

// MessageSource is the long-poll primitive the handler's Message Listener
// runs on; satisfied by *apiclient.Client.
type MessageSource = listener.Source

// MetricPoster posts one task metric, swallowing failure (§4.4);
// satisfied by *apiclient.Client via PostTaskMetricRetried.
type MetricPoster interface {
	PostTaskMetricRetried(ctx context.Context, taskID string, name types.MetricName, value float64)
}

// Unblocker releases the coordinator side of a blocked ReceiveTaskMessage
// call, so the handler's own Stop doesn't have to rely purely on local
// context cancellation when the coordinator is the one holding the
// connection open.
type Unblocker interface {
	UnblockTaskMessageListeners(ctx context.Context, taskID string) error
}

// Handler drives one task at a time through its full lifecycle (§4.10).
// A single Handler instance is reused by the Main Loop across tasks.
type Handler struct {
	workDir       string
	runnerID      string
	resolver      ImageResolver
	store         ArtifactStore
	messages      MessageSource
	unblocker     Unblocker
	metrics       MetricPoster
	publisher     *events.Logger
	registry      *commands.Registry
	mpiConfig     mpi.Config
	sigkillDelay  time.Duration
	checkInterval time.Duration
	localMode     bool
	onGPU         bool

	// skipContainer bypasses the apptainer exec wrapping in runCommands,
	// running a Command's bare argv directly. Never set outside tests;
	// mirrors original_source's test_task_request_handler.py MockExecuter,
	// which overrides run_subprocess the same way so unit tests don't
	// require an apptainer installation.
	skipContainer bool

	mu              sync.Mutex
	currentTaskID   string
	currentListener *listener.Listener
	currentCoord    *cancellation.Coordinator
}

// Options configures a new Handler.
type Options struct {
	WorkDir       string
	RunnerID      string
	Resolver      ImageResolver
	Store         ArtifactStore
	Messages      MessageSource
	Unblocker     Unblocker
	Metrics       MetricPoster
	Publisher     *events.Logger
	Registry      *commands.Registry
	MPIConfig     mpi.Config
	SigkillDelay  time.Duration
	CheckInterval time.Duration
	// LocalMode adds --writable-tmpfs (and withholds --sharens for MPI
	// commands) to the container invocation (§6).
	LocalMode bool
	// OnGPU adds --nv to the container invocation (§6).
	OnGPU bool
}

// New builds a Handler.
func New(opts Options) *Handler {
	return &Handler{
		workDir:       opts.WorkDir,
		runnerID:      opts.RunnerID,
		resolver:      opts.Resolver,
		store:         opts.Store,
		messages:      opts.Messages,
		unblocker:     opts.Unblocker,
		metrics:       opts.Metrics,
		publisher:     opts.Publisher,
		registry:      opts.Registry,
		mpiConfig:     opts.MPIConfig,
		sigkillDelay:  opts.SigkillDelay,
		checkInterval: opts.CheckInterval,
		localMode:     opts.LocalMode,
		onGPU:         opts.OnGPU,
	}
}

// composeContainerArgv builds the `apptainer exec` invocation (§6) that
// wraps a builder's raw argv inside the task's container: binds the host
// task directory into the container at containerWorkDir and sets the
// container-side cwd to processDirContainer. Grounded on
// original_source/task-runner/task_runner/executers/base_executer.py's
// run_subprocess apptainer_args assembly.
func (h *Handler) composeContainerArgv(imagePath, taskDirHost, processDirContainer string, isMPI bool) []string {
	argv := []string{
		"apptainer", "exec",
		"--no-mount", "cwd",
		"--home", "/home/apptainer",
		"--bind", taskDirHost + ":" + containerWorkDir,
		"--pwd", processDirContainer,
	}
	if h.localMode {
		argv = append(argv, "--writable-tmpfs")
	}
	if isMPI && !h.localMode {
		argv = append(argv, "--sharens")
	}
	if h.onGPU {
		argv = append(argv, "--nv")
	}
	return append(argv, imagePath)
}

// RequestKill pushes a Kill command to whichever task is currently in
// flight, if any. Kill messages from the task's Message Listener reach the
// coordinator through Handle's own forwarding goroutine, not through this
// method.
func (h *Handler) RequestKill() {
	h.mu.Lock()
	coord := h.currentCoord
	h.mu.Unlock()
	if coord != nil {
		coord.Push(cancellation.Kill)
	}
}

// RequestInterrupt pushes an Interrupt command (runner shutdown, §4.9.3)
// to whichever task is currently in flight, if any. Returns the task id
// that was interrupted, or "" if none was in flight.
func (h *Handler) RequestInterrupt() string {
	h.mu.Lock()
	coord := h.currentCoord
	taskID := h.currentTaskID
	h.mu.Unlock()
	if coord != nil {
		coord.Push(cancellation.Interrupt)
		return taskID
	}
	return ""
}

// Handle runs a task's full lifecycle (§4.10, steps 1-11) and returns once
// it is fully torn down. It is safe to call Handle for successive tasks
// sequentially on the same Handler; it is not safe to call Handle
// concurrently for two tasks on the same Handler.
func (h *Handler) Handle(ctx context.Context, req *types.TaskRequest) (result types.TaskResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "handler.Handle")
	defer endSpan()

	h.mu.Lock()
	h.currentTaskID = req.ID
	h.mu.Unlock()

	h.publisher.Publish(ctx, types.EventTaskPickedUp, req.ID, nil)

	l := listener.New(h.messages, req.ID)
	h.mu.Lock()
	h.currentListener = l
	h.mu.Unlock()
	go l.Run(ctx)

	sup := &supervisorHolder{}
	coord := cancellation.New(sup, 4)
	h.mu.Lock()
	h.currentCoord = coord
	h.mu.Unlock()

	var cleanup multierror.Error
	defer func() {
		h.teardown(ctx, req.ID, l, &cleanup)
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	cmdTracker := &commandTracker{}

	obsManager := observer.NewManager(func(observerID string) {
		h.publisher.Publish(ctx, types.EventObserverTriggered, req.ID, &types.ObserverTriggeredBody{
			ObserverID: observerID,
		})
	})
	defer obsManager.Stop()

	// The forwarding goroutine starts immediately, before resolve/download,
	// so a kill arriving during either is observed by killSeen rather than
	// lost until TaskWorkStarted. It only forwards onto the coordinator's
	// queue (acted on once Run starts, below); killSeen is consulted
	// directly by checkKilled at the two pre-work checkpoints the original
	// _check_task_killed() call sites correspond to.
	var killSeen int32
	stopForward := make(chan struct{})
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case msg := <-l.Messages:
				switch msg {
				case listener.Kill:
					atomic.StoreInt32(&killSeen, 1)
					coord.Push(cancellation.Kill)
				default:
					if reg, regErr := observer.ParseRegistration(msg); regErr == nil {
						if regErr := obsManager.Register(groupCtx, reg); regErr != nil {
							log.WithError(regErr).WithField("task_id", req.ID).Warn("failed to register observer")
						}
					}
				}
			case <-stopForward:
				return
			case <-groupCtx.Done():
				return
			}
		}
	}()
	defer func() {
		close(stopForward)
		<-forwardDone
	}()

	checkKilled := func() bool {
		if atomic.LoadInt32(&killSeen) == 0 {
			return false
		}
		h.publisher.Publish(ctx, types.EventTaskKilled, req.ID, nil)
		result.Status = types.StatusKilled
		return true
	}

	// Step 2: a kill that arrived before the image is resolved is caught
	// here; one that lands while resolving the image or downloading the
	// input is caught by the second check, after the download, so neither
	// surfaces only once computation has already started.
	if checkKilled() {
		return result, nil
	}

	entry, err := h.resolver.Get(ctx, req.ContainerImage)
	if err != nil {
		return h.fail(ctx, req.ID, &cleanup, errors.Wrap(err, "resolving container image"))
	}
	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricContainerSizeBytes, float64(entry.SizeBytes))
	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricDownloadContainerS, entry.ElapsedS)

	taskDir := filepath.Join(h.workDir, req.ID)
	simDir := filepath.Join(taskDir, "sim_dir")
	artifactsDir := filepath.Join(taskDir, "artifacts")
	for _, dir := range []string{taskDir, simDir, artifactsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return h.fail(ctx, req.ID, &cleanup, errors.Wrapf(err, "creating %s", dir))
		}
	}

	inputElapsed, inputSize, err := h.store.DownloadInput(ctx, req.ID, filepath.Join(taskDir, "input.zip"))
	if err != nil {
		return h.fail(ctx, req.ID, &cleanup, errors.Wrap(err, "downloading input"))
	}
	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricDownloadInputS, inputElapsed)
	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricInputZippedBytes, float64(inputSize))

	if checkKilled() {
		return result, nil
	}

	h.publisher.Publish(ctx, types.EventTaskWorkStarted, req.ID, nil)

	// §4.9 ordering guarantee: TaskWorkStarted precedes the coordinator
	// observing stop sources.
	cancellation.RunInGroup(groupCtx, group, coord)

	monitor := sysmonitor.New(sysmonitor.Options{
		ArtifactsDir:   artifactsDir,
		CurrentCommand: cmdTracker.current,
		OnStall: func(path string, modTime time.Time) {
			h.publisher.Publish(ctx, types.EventTaskOutputStalled, req.ID, &types.TaskOutputStalledBody{
				LastModifiedFilePath:      path,
				LastModifiedFileTimestamp: modTime,
			})
		},
	})
	group.Go(func() error {
		monitor.Run(groupCtx)
		return nil
	})

	params := commands.Params{
		WorkingDir:     taskDir,
		SimDir:         simDir,
		ContainerImage: entry.LocalPath,
		ExtraParams:    req.ExtraParams,
	}
	if req.Simulator == "arbitrary_commands" {
		specs, specErr := commands.ParseCommandSpecs(req.ExtraParams)
		if specErr != nil {
			monitor.Stop()
			coord.Push(cancellation.Done)
			_ = group.Wait()
			return h.fail(ctx, req.ID, &cleanup, errors.Wrap(specErr, "parsing arbitrary_commands"))
		}

		srcDir := simDir
		if custom := extraString(req.ExtraParams, "sim_dir"); custom != "" {
			srcDir = filepath.Join(taskDir, custom)
		}
		if err := copyTree(srcDir, artifactsDir); err != nil {
			monitor.Stop()
			coord.Push(cancellation.Done)
			_ = group.Wait()
			return h.fail(ctx, req.ID, &cleanup, errors.Wrap(err, "staging artifacts directory"))
		}

		commandsDir := artifactsDir
		if sub := extraString(req.ExtraParams, "run_subprocess_dir"); sub != "" {
			commandsDir = filepath.Join(artifactsDir, sub)
		}
		params.Commands = specs
		params.CommandsDir = commandsDir
	}

	cmds, err := h.registry.Build(req.Simulator, params)
	if err != nil {
		monitor.Stop()
		coord.Push(cancellation.Done)
		_ = group.Wait()
		return h.fail(ctx, req.ID, &cleanup, errors.Wrap(err, "building commands"))
	}

	var ttlTimer *cancellation.TTLTimer
	if req.HasTTL() {
		ttlTimer = cancellation.StartTTLTimer(req.TTL(), sup, coord.Outcome)
	}

	computationStart := time.Now()
	exitCode, runErr := h.runCommands(ctx, sup, req.ID, cmds, taskDir, artifactsDir, entry.LocalPath, cmdTracker.set)
	computationS := time.Since(computationStart).Seconds()

	if ttlTimer != nil {
		ttlTimer.Stop()
	}
	monitor.Stop()
	coord.Push(cancellation.Done)
	_ = group.Wait()

	h.publisher.Publish(ctx, types.EventTaskWorkFinished, req.ID, nil)
	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricComputationS, computationS)

	status := finalStatus(coord.Outcome, exitCode)
	result.Status = status
	result.ExitCode = exitCode

	if runErr != nil && status != types.StatusKilled && status != types.StatusTTLExceeded {
		cleanup.Errors = append(cleanup.Errors, errors.Wrap(runErr, "running commands"))
	}

	uploadElapsed, outputSize, uploadErr := h.store.UploadOutput(ctx, req.ID, artifactsDir)
	if uploadErr != nil {
		h.publisher.Publish(ctx, types.EventTaskOutputUploadFailed, req.ID, &types.TaskOutputUploadFailedBody{
			ErrorMessage: uploadErr.Error(),
		})
		cleanup.Errors = append(cleanup.Errors, errors.Wrap(uploadErr, "uploading output"))
		return result, cleanup.ErrorOrNil()
	}

	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricUploadOutputS, uploadElapsed)
	h.metrics.PostTaskMetricRetried(ctx, req.ID, types.MetricOutputZippedBytes, float64(outputSize))
	h.publisher.Publish(ctx, types.EventTaskOutputUploaded, req.ID, &types.TaskOutputUploadedBody{
		NewStatus:       status,
		OutputSizeBytes: outputSize,
	})

	return result, cleanup.ErrorOrNil()
}

// runCommands executes cmds in order via the Supervisor, publishing
// TaskCommandStarted/Finished around each one, stopping at the first
// failure (§4.10 step 7's pre_process -> execute -> post_process
// sequencing, simplified to "run every produced Command in order").
//
// Each Command's raw argv is wrapped in an `apptainer exec` invocation
// (§6) before it reaches the Supervisor: the task's working directory is
// bound into the container at containerWorkDir, and the container-side
// cwd is derived from cmd.Dir (or defaultDir, for builders that don't set
// it) relative to taskDir. Grounded on
// original_source/task-runner/task_runner/executers/base_executer.py's
// run_subprocess, which assembles the same apptainer_args/command_args
// pair: command_args (mpi prefix + cmd.args) is what TaskCommandStarted
// reports as Command, apptainer_command_args (mpi prefix + apptainer_args
// + cmd.args) is what it reports as ContainerCommand and what is actually
// run.
func (h *Handler) runCommands(ctx context.Context, sup *supervisorHolder, taskID string, cmds []commands.Command, taskDir, defaultDir, imagePath string, setCurrentCommand func(string)) (int, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "handler.runCommands")
	defer endSpan()

	configurator := mpi.New(h.mpiConfig)

	var lastExit int
	for _, cmd := range cmds {
		if setCurrentCommand != nil {
			setCurrentCommand(strings.Join(cmd.Argv, " "))
		}

		cmdDir := defaultDir
		if cmd.Dir != "" {
			cmdDir = cmd.Dir
		}
		rel, err := filepath.Rel(taskDir, cmdDir)
		if err != nil {
			return -1, errors.Wrapf(err, "resolving container path for %s", cmdDir)
		}
		processDirContainer := filepath.Join(containerWorkDir, rel)

		var mpiPrefix []string
		if cmd.IsMPI {
			opts := mpi.Options{}
			if cmd.MPIOptions != nil {
				opts.Version = cmd.MPIOptions.Version
				opts.Options = cmd.MPIOptions.Options
			}
			prefix, err := configurator.Prefix(opts)
			if err != nil {
				return -1, errors.Wrap(err, "configuring mpirun prefix")
			}
			mpiPrefix = prefix
		}

		bareArgv := append(append([]string{}, mpiPrefix...), cmd.Argv...)
		fullArgv := bareArgv
		if !h.skipContainer {
			containerArgv := h.composeContainerArgv(imagePath, taskDir, processDirContainer, cmd.IsMPI)
			fullArgv = append(append([]string{}, mpiPrefix...), append(containerArgv, cmd.Argv...)...)
		}

		bareCommand := strings.Join(bareArgv, " ")
		h.publisher.Publish(ctx, types.EventTaskCommandStarted, taskID, &types.TaskCommandStartedBody{
			Command:          bareCommand,
			ContainerCommand: strings.Join(fullArgv, " "),
		})

		s := supervisor.New(supervisor.Options{
			Argv:          fullArgv,
			Dir:           taskDir,
			Stdin:         joinPrompts(cmd.StdinPrompts),
			SigkillDelay:  h.sigkillDelay,
			CheckInterval: h.checkInterval,
		})
		sup.set(s)

		start := time.Now()
		if err := s.Run(); err != nil {
			return -1, errors.Wrap(err, "starting command")
		}
		exitCode, waitErr := s.Wait(time.Second, nil)
		elapsed := time.Since(start).Seconds()

		h.publisher.Publish(ctx, types.EventTaskCommandFinished, taskID, &types.TaskCommandFinishedBody{
			Command:        bareCommand,
			ExitCode:       exitCode,
			ExecutionTimeS: elapsed,
		})

		lastExit = exitCode
		if waitErr != nil && exitCode >= 0 {
			return exitCode, errors.Wrapf(waitErr, "command %q failed", bareCommand)
		}
		if exitCode != 0 {
			return exitCode, nil
		}
	}
	return lastExit, nil
}

// extraString reads a string value out of extra_params, defaulting to ""
// when absent or of the wrong type. Mirrors internal/commands'
// extraString, duplicated here since that helper is unexported across
// packages and the handler needs it for sim_dir/run_subprocess_dir before
// commands.Params even exists.
func extraString(extraParams map[string]any, key string) string {
	if v, ok := extraParams[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// copyTree recursively copies src onto dst, creating dst if necessary and
// overwriting any files already present at the destination, mirroring
// Python's shutil.copytree(dirs_exist_ok=True). Grounded on
// original_source/task-runner/task_runner/executers/arbitrary_commands_executer.py's
// execute(), which stages sim_dir into artifacts_dir this way before
// running any command.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// fail publishes TaskExecutionFailed and attempts a best-effort output
// upload, matching §4.10's "any unhandled exception" clause.
func (h *Handler) fail(ctx context.Context, taskID string, cleanup *multierror.Error, cause error) (types.TaskResult, error) {
	log.WithError(cause).WithField("task_id", taskID).Error("task execution failed")
	h.publisher.Publish(ctx, types.EventTaskExecutionFailed, taskID, &types.TaskExecutionFailedBody{
		ErrorMessage: cause.Error(),
		Traceback:    string(debug.Stack()),
	})
	cleanup.Errors = append(cleanup.Errors, cause)

	artifactsDir := filepath.Join(h.workDir, taskID, "artifacts")
	_, outputSize, uploadErr := h.store.UploadOutput(ctx, taskID, artifactsDir)
	if uploadErr != nil {
		h.publisher.Publish(ctx, types.EventTaskOutputUploadFailed, taskID, &types.TaskOutputUploadFailedBody{
			ErrorMessage: uploadErr.Error(),
		})
		cleanup.Errors = append(cleanup.Errors, errors.Wrap(uploadErr, "uploading output"))
	} else {
		h.publisher.Publish(ctx, types.EventTaskOutputUploaded, taskID, &types.TaskOutputUploadedBody{
			NewStatus:       types.StatusFailed,
			OutputSizeBytes: outputSize,
		})
	}
	return types.TaskResult{Status: types.StatusFailed, ExitCode: -1}, cleanup.ErrorOrNil()
}

// teardown runs step 11: unblock and join the Message Listener, remove
// the working directory, clear task_id. Errors are accumulated, not
// short-circuited, per original_source's cleanup.py.
func (h *Handler) teardown(ctx context.Context, taskID string, l *listener.Listener, cleanup *multierror.Error) {
	if h.unblocker != nil {
		if err := h.unblocker.UnblockTaskMessageListeners(ctx, taskID); err != nil {
			cleanup.Errors = append(cleanup.Errors, errors.Wrap(err, "unblocking message listener"))
		}
	}
	l.Stop()

	taskDir := filepath.Join(h.workDir, taskID)
	if err := os.RemoveAll(taskDir); err != nil {
		cleanup.Errors = append(cleanup.Errors, errors.Wrapf(err, "removing working dir %s", taskDir))
	}

	h.mu.Lock()
	h.currentTaskID = ""
	h.currentListener = nil
	h.currentCoord = nil
	h.mu.Unlock()

	if len(cleanup.Errors) > 0 {
		log.WithError(cleanup.ErrorOrNil()).WithField("task_id", taskID).Warn("cleanup reported errors")
	}
}

// finalStatus implements §4.10 step 9: kill takes priority over TTL,
// which takes priority over exit code.
func finalStatus(outcome *cancellation.Outcome, exitCode int) types.TaskStatus {
	switch {
	case outcome.TaskKilled():
		return types.StatusKilled
	case outcome.TTLExceeded():
		return types.StatusTTLExceeded
	case exitCode == 0:
		return types.StatusSuccess
	default:
		return types.StatusFailed
	}
}

func joinPrompts(prompts []string) string {
	out := ""
	for i, p := range prompts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// commandTracker records which command is presently running so the
// System Monitor's sampler can label each system_metrics.csv row (§4.12).
type commandTracker struct {
	mu  sync.Mutex
	cur string
}

func (t *commandTracker) set(cmd string) {
	t.mu.Lock()
	t.cur = cmd
	t.mu.Unlock()
}

func (t *commandTracker) current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// supervisorHolder lets the Cancellation Core hold one stable Terminator
// across a task even though a fresh *supervisor.Supervisor is created for
// each Command in the pre_process/execute/post_process sequence (§4.10
// step 7). Terminate before the first command has started is a no-op:
// there is nothing to terminate yet.
type supervisorHolder struct {
	mu  sync.Mutex
	cur *supervisor.Supervisor
}

func (h *supervisorHolder) set(s *supervisor.Supervisor) {
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
}

func (h *supervisorHolder) Terminate() bool {
	h.mu.Lock()
	cur := h.cur
	h.mu.Unlock()
	if cur == nil {
		return false
	}
	return cur.Terminate()
}
