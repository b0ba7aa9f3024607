// Package imagecache implements the Container Image Cache (§4.2): resolve
// an image reference to a local container file, pulling or downloading on
// a miss, idempotently keyed by a deterministic normalization of the
// reference.
package imagecache

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inductiva/task-runner/internal/retry"
	"github.com/inductiva/task-runner/internal/types"
)

var log = logrus.WithField("source", "imagecache")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// ErrImageNotFound is returned when neither the remote cache nor the pull
// tool can produce the image.
var ErrImageNotFound = errors.New("image not found")

// Puller invokes the container tool (e.g. "apptainer pull") to fetch an
// image by reference into a local path.
type Puller interface {
	Pull(ctx context.Context, localPath, uri string) error
}

// Cache resolves image references to local files (§4.2). Safe for
// concurrent use at the granularity of distinct keys only — the runner
// holds at most one task at a time, so duplicate-miss races on the same
// key are accepted, not coordinated (§4.2, §5 shared-resource policy).
type Cache struct {
	dir        string
	remoteBase string // optional remote cache URL, empty if unconfigured
	puller     Puller
	httpClient *http.Client
}

// New builds a Cache rooted at dir, optionally backed by a remote cache at
// remoteBase, pulling misses through puller.
func New(dir, remoteBase string, puller Puller) *Cache {
	return &Cache{
		dir:        dir,
		remoteBase: remoteBase,
		puller:     puller,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

// LocalFileName derives a deterministic local filename from an image
// reference (§4.2 step 1): the scheme separator, colons, and slashes are
// escaped to underscores and ".sif" is appended. The mapping is not
// injective: references that differ only in which of those separators
// they use (e.g. "a:b" and "a/b") map to the same name.
func LocalFileName(ref string) string {
	escaped := strings.NewReplacer("://", "_", ":", "_", "/", "_").Replace(ref)
	return escaped + ".sif"
}

// Get resolves ref to a local file, returning its path, source, and size.
// Calling Get twice for the same ref is idempotent: the second call
// returns source=local with zero elapsed time and no network round trip
// (§8 property 4).
func (c *Cache) Get(ctx context.Context, ref string) (*types.ContainerImageEntry, error) {
	start := time.Now()
	localPath := filepath.Join(c.dir, LocalFileName(ref))

	if info, err := os.Stat(localPath); err == nil {
		return &types.ContainerImageEntry{
			LocalPath: localPath,
			SizeBytes: info.Size(),
			Source:    types.ImageSourceLocal,
			ElapsedS:  0,
		}, nil
	}

	if c.remoteBase != "" {
		if entry, err := c.tryRemote(ctx, ref, localPath, start); err == nil {
			return entry, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("ref", ref).Warn("remote image cache lookup failed, falling back to pull")
		}
	}

	if c.puller == nil {
		return nil, errors.Wrapf(ErrImageNotFound, "no puller configured for %q", ref)
	}

	err := retry.Do(func() error {
		return c.puller.Pull(ctx, localPath, ref)
	}, retry.Attempts(3), retry.Delay(2*time.Second))
	if err != nil {
		return nil, errors.Wrapf(ErrImageNotFound, "pulling %q: %s", ref, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, errors.Wrapf(ErrImageNotFound, "pull reported success but %q is missing: %s", localPath, err)
	}

	entry := &types.ContainerImageEntry{
		LocalPath: localPath,
		SizeBytes: info.Size(),
		Source:    types.ImageSourceHub,
		ElapsedS:  time.Since(start).Seconds(),
	}
	log.WithFields(logrus.Fields{
		"ref":  ref,
		"size": units.BytesSize(float64(entry.SizeBytes)),
	}).Info("pulled container image")
	return entry, nil
}

func (c *Cache) tryRemote(ctx context.Context, ref, localPath string, start time.Time) (*types.ContainerImageEntry, error) {
	remoteURL := strings.TrimRight(c.remoteBase, "/") + "/" + LocalFileName(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, os.ErrNotExist
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("remote image cache returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = os.Remove(localPath)
		return nil, err
	}

	entry := &types.ContainerImageEntry{
		LocalPath: localPath,
		SizeBytes: n,
		Source:    types.ImageSourceCache,
		ElapsedS:  time.Since(start).Seconds(),
	}
	log.WithFields(logrus.Fields{
		"ref":  ref,
		"size": units.BytesSize(float64(n)),
	}).Info("downloaded container image from remote cache")
	return entry, nil
}
