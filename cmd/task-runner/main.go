// Package main is the task-runner process entrypoint (§4.13): load
// configuration, register with the coordinator, and drive the Main Loop
// until a terminating signal or idle timeout. Grounded on the teacher's
// cli/main.go global-flags-plus-before-hook shape, collapsed down to this
// process's single long-running command (no OCI subcommand surface
// applies here).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/inductiva/task-runner/internal/apiclient"
	"github.com/inductiva/task-runner/internal/artifactstore"
	"github.com/inductiva/task-runner/internal/commands"
	"github.com/inductiva/task-runner/internal/config"
	"github.com/inductiva/task-runner/internal/events"
	"github.com/inductiva/task-runner/internal/handler"
	"github.com/inductiva/task-runner/internal/imagecache"
	"github.com/inductiva/task-runner/internal/listener"
	"github.com/inductiva/task-runner/internal/metrics"
	"github.com/inductiva/task-runner/internal/mpi"
	"github.com/inductiva/task-runner/internal/runner"
	"github.com/inductiva/task-runner/internal/supervisor"
	"github.com/inductiva/task-runner/internal/sysmonitor"
)

const name = "task-runner"

// runnerLog is the root logger; its output and format are set by
// beforeAction once --log and --log-format are known, it is reassigned in
// runAction with the runner id, and each time it is propagated to every
// package via setExternalLoggers (mirrors the teacher's
// kataLog/setExternalLoggers split).
var runnerLog = logrus.WithFields(logrus.Fields{
	"name": name,
	"pid":  os.Getpid(),
})

var runnerFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "log",
		Value: "",
		Usage: "log file path (default: stderr)",
	},
	cli.StringFlag{
		Name:  "log-format",
		Value: "text",
		Usage: "log format, 'text' (default) or 'json'",
	},
	cli.StringFlag{
		Name:  "metrics-addr",
		Value: "",
		Usage: "address to serve this runner's own Prometheus metrics on (empty disables it)",
	},
}

// setExternalLoggers registers logger with every package that accepts one,
// mirroring cli/main.go's setExternalLoggers.
func setExternalLoggers(logger *logrus.Entry) {
	apiclient.SetLogger(logger)
	artifactstore.SetLogger(logger)
	events.SetLogger(logger)
	handler.SetLogger(logger)
	imagecache.SetLogger(logger)
	listener.SetLogger(logger)
	runner.SetLogger(logger)
	supervisor.SetLogger(logger)
	sysmonitor.SetLogger(logger)
}

func beforeAction(c *cli.Context) error {
	if path := c.GlobalString("log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o640)
		if err != nil {
			return err
		}
		runnerLog.Logger.Out = f
	}

	switch c.GlobalString("log-format") {
	case "text":
		// retain logrus's default.
	case "json":
		runnerLog.Logger.Formatter = new(logrus.JSONFormatter)
	default:
		return fmt.Errorf("unknown log-format %q", c.GlobalString("log-format"))
	}

	setExternalLoggers(runnerLog)
	return nil
}

// logrusCommandLogger adapts the runner's logger to commands.CommandLogger,
// so SwashBuilder has a non-nil exec_command_logger equivalent to build
// against (spec.md §9).
type logrusCommandLogger struct {
	entry *logrus.Entry
}

func (l logrusCommandLogger) Log(line string) {
	l.entry.Debug(line)
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()

	authName, authValue := cfg.AuthHeader()
	apiClient := apiclient.New(cfg.APIURL, authName, authValue)

	machineGroupID, err := runner.ResolveMachineGroup(ctx, apiClient, cfg.MachineGroupID, cfg.MachineGroupName, cfg.LocalMode)
	if err != nil {
		return fmt.Errorf("resolving machine group: %w", err)
	}

	regInfo, err := runner.BuildRegisterInfo(cfg.HostName, cfg.HostID, machineGroupID, cfg.MachineGroupName, cfg.LocalMode)
	if err != nil {
		return fmt.Errorf("building registration info: %w", err)
	}

	// Registration happens here, directly against apiClient, rather than
	// through Runner.Start: events.Logger and Handler both need the
	// assigned runner id at construction time, but they must exist before
	// Runner does since Runner.Options takes them as dependencies.
	reg, err := apiClient.RegisterTaskRunner(ctx, regInfo)
	if err != nil {
		return fmt.Errorf("registering task runner: %w", err)
	}
	runnerLog = runnerLog.WithField("runner_id", reg.RunnerID)
	setExternalLoggers(runnerLog)

	eventsLogger := events.New(apiClient, reg.RunnerID)

	whitelistExt, err := config.LoadWhitelistExtension(cfg.CommandBuilderConfigPath)
	if err != nil {
		return fmt.Errorf("loading command builder config: %w", err)
	}
	registry := commands.NewRegistry()
	swash, err := commands.NewSwashBuilder(logrusCommandLogger{entry: runnerLog.WithField("simulator", "swash")})
	if err != nil {
		return fmt.Errorf("building swash command builder: %w", err)
	}
	registry.Register("swash", swash)
	for simulator, extra := range whitelistExt.Simulators {
		registry.ExtendWhitelist(simulator, extra)
	}

	puller := &imagecache.ApptainerPuller{
		SocksProxyHost: cfg.SocksProxyHost,
		SocksProxyPort: cfg.SocksProxyPort,
	}
	images := imagecache.New(cfg.ExecuterImagesDir, cfg.ExecuterImagesRemote, puller)

	store := artifactstore.New(apiClient)

	mpiConfig := mpi.Config{
		DefaultVersion:    cfg.MPIDefaultVersion,
		HostfilePath:      cfg.MPIHostfilePath,
		SharePath:         cfg.MPISharePath,
		ExtraArgs:         cfg.MPIExtraArgs,
		MpirunBinTemplate: cfg.MPIRunBinTemplate,
		IsCluster:         cfg.MPICluster,
		LocalMode:         cfg.LocalMode,
	}

	h := handler.New(handler.Options{
		WorkDir:       cfg.WorkDir,
		RunnerID:      reg.RunnerID,
		Resolver:      images,
		Store:         store,
		Messages:      apiClient,
		Unblocker:     apiClient,
		Metrics:       apiClient,
		Publisher:     eventsLogger,
		Registry:      registry,
		MPIConfig:     mpiConfig,
		SigkillDelay:  defaultSigkillDelay,
		CheckInterval: defaultCheckInterval,
		LocalMode:     cfg.LocalMode,
		OnGPU:         cfg.OnGPU,
	})

	metricsRegistry := metrics.New()

	r := runner.New(runner.Options{
		API:            apiClient,
		Handler:        h,
		Publisher:      eventsLogger,
		Metrics:        metricsRegistry,
		RegisterInfo:   regInfo,
		MaxIdleTimeout: cfg.MaxIdleTimeout,
		MetricsAddr:    c.GlobalString("metrics-addr"),
	})

	// Skips Runner.Start: registration already happened above so the id
	// could be threaded into eventsLogger and h before either was built.
	return r.Run(ctx)
}

const (
	defaultSigkillDelay  = 10 * time.Second
	defaultCheckInterval = 500 * time.Millisecond
)

func main() {
	app := cli.NewApp()
	app.Name = name
	app.Usage = "fetches and executes simulation tasks from the Inductiva coordinator"
	app.Flags = runnerFlags
	app.Before = beforeAction
	app.Action = runAction

	if err := app.Run(os.Args); err != nil {
		runnerLog.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
