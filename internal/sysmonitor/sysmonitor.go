// Package sysmonitor implements the System Monitor (§4.12): per-task
// periodic CPU/memory/disk sampling and output-stall detection. Sampling
// is grounded on hashicorp/nomad's client/stats host collector (same
// shirou/gopsutil/v3 usage, there sampling VM/host stats for the
// scheduler rather than a single task's artifact directory); the
// stall-detection half has no analogue in the pack and is grounded
// directly on spec.md §4.12.
package sysmonitor

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("source", "sysmonitor")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const (
	sampleInterval = 30 * time.Second
	stallInterval  = 60 * time.Second

	systemMetricsFile = "system_metrics.csv"
	outputUpdateFile  = "output_update.csv"
)

// DefaultOutputStalledThreshold is §4.12's default staleness budget.
const DefaultOutputStalledThreshold = 30 * time.Minute

// StallFunc is invoked when the most recently modified artifact file is
// older than the configured threshold.
type StallFunc func(lastModifiedPath string, lastModifiedAt time.Time)

// CurrentCommandFunc reports the command presently executing, for the
// system_metrics.csv row; satisfied by a closure over the handler's
// command loop state.
type CurrentCommandFunc func() string

// Monitor runs the two periodic jobs of §4.12 against one task's
// artifact directory until Stop is called.
type Monitor struct {
	artifactsDir     string
	currentCommand   CurrentCommandFunc
	onStall          StallFunc
	stalledThreshold time.Duration

	// watcher supplies a fast path for checkStallOnce: rather than
	// rescanning the whole directory every tick, it tracks the most
	// recent write event directly. When watching fails to start, or
	// errors out mid-run, it is torn down and checkStallOnce falls back
	// to the plain directory scan, mirroring the teacher's
	// watch-with-fallback-retry shape.
	watcher *fsnotify.Watcher

	watchMu       sync.Mutex
	lastEventPath string
	lastEventAt   time.Time

	stop chan struct{}
	done chan struct{}
}

// Options configures a Monitor.
type Options struct {
	ArtifactsDir     string
	CurrentCommand   CurrentCommandFunc
	OnStall          StallFunc
	StalledThreshold time.Duration
}

// New builds a Monitor; call Run in its own goroutine and Stop when the
// handler begins tearing the task down.
func New(opts Options) *Monitor {
	threshold := opts.StalledThreshold
	if threshold == 0 {
		threshold = DefaultOutputStalledThreshold
	}
	m := &Monitor{
		artifactsDir:     opts.ArtifactsDir,
		currentCommand:   opts.CurrentCommand,
		onStall:          opts.OnStall,
		stalledThreshold: threshold,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("fsnotify unavailable, falling back to polling for output staleness")
		return m
	}
	if err := watcher.Add(opts.ArtifactsDir); err != nil {
		log.WithError(err).Warn("failed to watch artifacts dir, falling back to polling for output staleness")
		watcher.Close()
		return m
	}
	m.watcher = watcher
	return m
}

// Run drives both periodic jobs until Stop is called or ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	sampleTicker := time.NewTicker(sampleInterval)
	defer sampleTicker.Stop()
	stallTicker := time.NewTicker(stallInterval)
	defer stallTicker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if m.watcher != nil {
		events = m.watcher.Events
		errs = m.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-sampleTicker.C:
			if err := m.sampleOnce(); err != nil {
				log.WithError(err).Warn("system metrics sample failed")
			}
		case <-stallTicker.C:
			if err := m.checkStallOnce(); err != nil {
				log.WithError(err).Warn("output stall check failed")
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			name := filepath.Base(ev.Name)
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 && name != systemMetricsFile && name != outputUpdateFile {
				m.watchMu.Lock()
				m.lastEventPath = ev.Name
				m.lastEventAt = time.Now()
				m.watchMu.Unlock()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.WithError(err).Warn("artifacts watcher error, falling back to polling for output staleness")
			m.watcher.Close()
			m.watcher = nil
			events, errs = nil, nil
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// sampleOnce appends one row to artifacts/system_metrics.csv (§4.12).
func (m *Monitor) sampleOnce() error {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return errors.Wrap(err, "sampling cpu")
	}
	cpuPct := 0.0
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return errors.Wrap(err, "sampling memory")
	}

	ioCounters, err := disk.IOCounters()
	if err != nil {
		return errors.Wrap(err, "sampling disk io")
	}
	var readBytes, writeBytes uint64
	for _, c := range ioCounters {
		readBytes += c.ReadBytes
		writeBytes += c.WriteBytes
	}

	command := ""
	if m.currentCommand != nil {
		command = m.currentCommand()
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		command,
		fmt.Sprintf("%.2f", cpuPct),
		fmt.Sprintf("%.2f", vm.UsedPercent),
		fmt.Sprintf("%d", readBytes),
		fmt.Sprintf("%d", writeBytes),
	}
	return appendCSVRow(filepath.Join(m.artifactsDir, systemMetricsFile), row)
}

// checkStallOnce implements §4.12's second job: find the most recently
// modified artifact file excluding the two monitor CSVs, log it, and
// publish a stall if it is older than the threshold.
func (m *Monitor) checkStallOnce() error {
	if m.watcher != nil {
		m.watchMu.Lock()
		latestPath, latestModTime := m.lastEventPath, m.lastEventAt
		m.watchMu.Unlock()
		if latestPath != "" {
			return m.recordAndMaybeStall(latestPath, latestModTime)
		}
	}

	entries, err := os.ReadDir(m.artifactsDir)
	if err != nil {
		return errors.Wrap(err, "reading artifacts dir")
	}

	var latestPath string
	var latestModTime time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == systemMetricsFile || name == outputUpdateFile {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestModTime) {
			latestModTime = info.ModTime()
			latestPath = filepath.Join(m.artifactsDir, name)
		}
	}

	if latestPath == "" {
		return nil
	}
	return m.recordAndMaybeStall(latestPath, latestModTime)
}

// recordAndMaybeStall logs the observed latest-write point to
// output_update.csv and triggers onStall if it predates the threshold.
func (m *Monitor) recordAndMaybeStall(latestPath string, latestModTime time.Time) error {
	if err := appendCSVRow(filepath.Join(m.artifactsDir, outputUpdateFile), []string{
		time.Now().UTC().Format(time.RFC3339), latestPath, latestModTime.UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}

	if time.Since(latestModTime) > m.stalledThreshold && m.onStall != nil {
		m.onStall(latestPath, latestModTime)
	}
	return nil
}

func appendCSVRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
