package observer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRegistrationRejectsUnknownType(t *testing.T) {
	_, err := ParseRegistration(`{"observer_id":"o1","observer_type":"bogus","file_path":"/tmp/x"}`)
	require.Error(t, err)
}

func TestParseRegistrationAcceptsFileExists(t *testing.T) {
	reg, err := ParseRegistration(`{"observer_id":"o1","observer_type":"file_exists","file_path":"/tmp/x"}`)
	require.NoError(t, err)
	require.Equal(t, TypeFileExists, reg.Type)
}

// Drives a file_exists matcher directly and reports through the Manager's
// trigger callback, bypassing the package's fixed 5s ticker.
func TestFileExistsObserverTriggersOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marker")

	var mu sync.Mutex
	var triggered []string
	mgr := NewManager(func(id string) {
		mu.Lock()
		triggered = append(triggered, id)
		mu.Unlock()
	})

	reg := &Registration{ObserverID: "o1", Type: TypeFileExists, FilePath: path}
	matcher, err := newMatcher(reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drive the matcher directly on a fast ticker so the test doesn't
	// have to wait out the real 5s poll interval.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, _ := matcher()
				if ok {
					mgr.onTrigger(reg.ObserverID)
					return
				}
			}
		}
	}()

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer did not trigger")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"o1"}, triggered)
}

func TestFileRegexMatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	reg := &Registration{ObserverID: "o2", Type: TypeFileRegex, FilePath: path, Regex: "done=true"}

	matcher, err := newMatcher(reg)
	require.NoError(t, err)

	ok, err := matcher()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("progress...\ndone=true\n"), 0o644))
	ok, err = matcher()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStopCancelsRunningObservers(t *testing.T) {
	mgr := NewManager(func(string) {})
	reg := &Registration{ObserverID: "o3", Type: TypeFileExists, FilePath: filepath.Join(t.TempDir(), "never")}
	require.NoError(t, mgr.Register(context.Background(), reg))

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
