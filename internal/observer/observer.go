// Package observer implements Observers (§4.11): optional, best-effort
// watches over files in the artifact directory that fire once and then
// deregister. Grounded on the registration JSON schema carried in
// original_source's message payloads ({observer_id, observer_type,
// file_path, regex}) and on the teacher's polling-thread idiom used
// throughout virtcontainers' periodic monitors.
package observer

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("source", "observer")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Type is the kind of condition an Observer watches for.
type Type string

const (
	TypeFileExists Type = "file_exists"
	TypeFileRegex  Type = "file_regex"
)

const pollInterval = 5 * time.Second

// Registration is the JSON payload the Message Listener receives to
// register a new Observer (§4.11).
type Registration struct {
	ObserverID string `json:"observer_id"`
	Type       Type   `json:"observer_type"`
	FilePath   string `json:"file_path"`
	Regex      string `json:"regex,omitempty"`
}

// ParseRegistration decodes a raw message body into a Registration.
func ParseRegistration(raw string) (*Registration, error) {
	var reg Registration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return nil, errors.Wrap(err, "decoding observer registration")
	}
	if reg.ObserverID == "" || reg.FilePath == "" {
		return nil, errors.New("observer registration missing observer_id or file_path")
	}
	if reg.Type != TypeFileExists && reg.Type != TypeFileRegex {
		return nil, errors.Errorf("unknown observer_type %q", reg.Type)
	}
	return &reg, nil
}

// TriggerFunc is called exactly once when an Observer's condition is
// first satisfied.
type TriggerFunc func(observerID string)

// Manager runs a poll loop per registered Observer and deregisters each
// one on its first positive check (§4.11). Observers never affect task
// success or failure.
type Manager struct {
	onTrigger TriggerFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a Manager that calls onTrigger when an Observer first
// fires.
func NewManager(onTrigger TriggerFunc) *Manager {
	return &Manager{
		onTrigger: onTrigger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Register starts polling for reg's condition until it first fires, the
// manager is stopped, or ctx is canceled.
func (m *Manager) Register(ctx context.Context, reg *Registration) error {
	matcher, err := newMatcher(reg)
	if err != nil {
		return err
	}

	childCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[reg.ObserverID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(childCtx, reg.ObserverID, matcher, cancel)
	return nil
}

func (m *Manager) run(ctx context.Context, observerID string, matcher func() (bool, error), cancel context.CancelFunc) {
	defer m.wg.Done()
	defer m.deregister(observerID)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := matcher()
			if err != nil {
				log.WithError(err).WithField("observer_id", observerID).Warn("observer check failed, will retry")
				continue
			}
			if ok {
				m.onTrigger(observerID)
				return
			}
		}
	}
}

func (m *Manager) deregister(observerID string) {
	m.mu.Lock()
	delete(m.cancels, observerID)
	m.mu.Unlock()
}

// Stop cancels every still-running Observer and waits for their poll
// loops to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// newMatcher builds the one-shot condition check for reg.
func newMatcher(reg *Registration) (func() (bool, error), error) {
	switch reg.Type {
	case TypeFileExists:
		return func() (bool, error) {
			_, err := os.Stat(reg.FilePath)
			if os.IsNotExist(err) {
				return false, nil
			}
			return err == nil, err
		}, nil
	case TypeFileRegex:
		re, err := regexp.Compile(reg.Regex)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling observer regex %q", reg.Regex)
		}
		return func() (bool, error) {
			data, err := os.ReadFile(reg.FilePath)
			if os.IsNotExist(err) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return re.Match(data), nil
		}, nil
	default:
		return nil, errors.Errorf("unknown observer_type %q", reg.Type)
	}
}
