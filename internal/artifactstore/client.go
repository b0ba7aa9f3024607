package artifactstore

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inductiva/task-runner/internal/retry"
)

var log = logrus.WithField("source", "artifactstore")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// SignedURLSource is the subset of apiclient.Client this package depends on
// (via its DownloadInputURL/UploadOutputURL adapter methods).
type SignedURLSource interface {
	DownloadInputURL(ctx context.Context, taskID string) (url string, err error)
	UploadOutputURL(ctx context.Context, taskID string) (url, method string, err error)
}

// Client downloads task inputs and uploads task outputs via signed URLs.
type Client struct {
	urls       SignedURLSource
	httpClient *http.Client
	maxRetries uint
}

// New builds a Client.
func New(urls SignedURLSource) *Client {
	return &Client{
		urls:       urls,
		httpClient: &http.Client{Timeout: 0}, // streaming; bounded by TTL, not HTTP timeout (§5)
		maxRetries: 5,
	}
}

// DownloadInput fetches the signed URL for taskID and GETs the input
// archive to destPath (§4.3 download_input).
func (c *Client) DownloadInput(ctx context.Context, taskID, destPath string) (elapsedS float64, sizeBytes int64, err error) {
	start := time.Now()

	err = retry.Do(func() error {
		url, getErr := c.urls.DownloadInputURL(ctx, taskID)
		if getErr != nil {
			return errors.Wrap(getErr, "fetching download URL")
		}
		n, dlErr := downloadTo(ctx, c.httpClient, url, destPath)
		if dlErr != nil {
			return dlErr
		}
		sizeBytes = n
		return nil
	}, retry.Attempts(c.maxRetries), retry.Delay(time.Second), retry.MaxJitter(time.Second))

	elapsedS = time.Since(start).Seconds()
	if err != nil {
		return elapsedS, 0, errors.Wrapf(err, "downloading input for task %s", taskID)
	}
	return elapsedS, sizeBytes, nil
}

func downloadTo(ctx context.Context, client *http.Client, url, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("downloading input archive: unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	counter := &countingWriter{w: out}
	if _, err := io.Copy(counter, resp.Body); err != nil {
		return 0, err
	}
	return counter.total, nil
}

// UploadOutput zips outputDir and streams it to the signed upload URL for
// taskID (§4.3 upload_output). Returns the number of archive bytes sent.
func (c *Client) UploadOutput(ctx context.Context, taskID, outputDir string) (elapsedS float64, sizeBytes int64, err error) {
	start := time.Now()

	err = retry.Do(func() error {
		url, method, getErr := c.urls.UploadOutputURL(ctx, taskID)
		if getErr != nil {
			return errors.Wrap(getErr, "fetching upload URL")
		}

		body, total, zipErr := ZipDirStream(outputDir)
		if zipErr != nil {
			return zipErr
		}
		defer body.Close()

		if method == "" {
			method = http.MethodPut
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, url, body)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.Errorf("uploading output archive: unexpected status %d", resp.StatusCode)
		}

		sizeBytes = *total
		return nil
	}, retry.Attempts(c.maxRetries), retry.Delay(time.Second), retry.MaxJitter(time.Second))

	elapsedS = time.Since(start).Seconds()
	if err != nil {
		return elapsedS, 0, errors.Wrapf(err, "uploading output for task %s", taskID)
	}

	log.WithField("task_id", taskID).WithField("bytes", sizeBytes).Info("uploaded output archive")
	return elapsedS, sizeBytes, nil
}
