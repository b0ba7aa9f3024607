// Package apiclient is a thin typed layer over the coordinator's HTTP
// surface (§4.4): registration, task long-poll, event/metric publication,
// and signed-URL vending. Kept stateless apart from the cached runner id
// set at registration, matching the teacher's pattern of a shared
// read-only client wrapping *http.Client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inductiva/task-runner/internal/types"
)

var log = logrus.WithField("source", "apiclient")

// SetLogger overrides the package logger, preserving any fields already
// attached (mirrors pkg/katautils.SetLogger).
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const defaultTimeout = 300 * time.Second

// ExecuterTerminationError signals that the coordinator told this runner
// to stop permanently (an unrecoverable long-poll response).
type ExecuterTerminationError struct {
	Reason string
	Detail string
}

func (e *ExecuterTerminationError) Error() string {
	return fmt.Sprintf("executer termination requested: reason=%s detail=%s", e.Reason, e.Detail)
}

// TaskPollResult is the outcome of one GetTask long-poll.
type TaskPollResult struct {
	Task      *types.TaskRequest // non-nil iff Outcome == TaskPollSuccess
	Outcome   TaskPollOutcome
}

// TaskPollOutcome classifies a GetTask response.
type TaskPollOutcome int

const (
	TaskPollSuccess TaskPollOutcome = iota
	TaskPollNoContent
	TaskPollInternalError
)

// Client is the coordinator RPC client.
type Client struct {
	baseURL    string
	authName   string
	authValue  string
	httpClient *http.Client

	runnerID string
}

// New builds a Client against baseURL, authenticating with the given
// header name/value (exactly one of X-API-Key / X-Executer-Tracker-Token).
func New(baseURL, authHeaderName, authHeaderValue string) *Client {
	return &Client{
		baseURL:   baseURL,
		authName:  authHeaderName,
		authValue: authHeaderValue,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// RunnerID returns the id cached from RegisterTaskRunner, or "" if not yet
// registered.
func (c *Client) RunnerID() string { return c.runnerID }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set(c.authName, c.authValue)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling request body")
		}
		body = bytes.NewReader(buf)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "performing request")
	}

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, errors.Wrap(err, "decoding response body")
		}
	}
	return resp, nil
}

// RegisterTaskRunnerInfo carries the identity fields sent at registration.
type RegisterTaskRunnerInfo struct {
	HostName         string `json:"host_name"`
	HostID           string `json:"host_id"`
	MachineGroupID   string `json:"machine_group_id,omitempty"`
	MachineGroupName string `json:"machine_group_name,omitempty"`
	LocalMode        bool   `json:"local_mode"`
}

// RegisterTaskRunner registers this process with the coordinator. Must
// succeed before entering the fetch loop (§4.13).
func (c *Client) RegisterTaskRunner(ctx context.Context, info RegisterTaskRunnerInfo) (*types.RunnerRegistration, error) {
	var reg types.RunnerRegistration
	resp, err := c.doJSON(ctx, http.MethodPost, "/executer-tracker/register", info, &reg)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("register_task_runner: unexpected status %d", resp.StatusCode)
	}
	c.runnerID = reg.RunnerID
	log.WithFields(logrus.Fields{
		"runner_id":        reg.RunnerID,
		"machine_group_id": reg.MachineGroupID,
	}).Info("registered with coordinator")
	return &reg, nil
}

// KillMachine asks the coordinator to tear down this runner. Returns the
// raw HTTP status code; callers treat 422 as "refused, keep running".
func (c *Client) KillMachine(ctx context.Context) (int, error) {
	resp, err := c.doJSON(ctx, http.MethodDelete, "/executer-tracker/"+c.runnerID, nil, nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// GetTask long-polls for the next task, blocking up to blockS seconds
// server-side.
func (c *Client) GetTask(ctx context.Context, blockS float64) (*TaskPollResult, error) {
	path := fmt.Sprintf("/executer-tracker/%s/task?block_s=%g", c.runnerID, blockS)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get_task request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var task types.TaskRequest
		if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
			return nil, errors.Wrap(err, "decoding task body")
		}
		return &TaskPollResult{Task: &task, Outcome: TaskPollSuccess}, nil
	case http.StatusNoContent:
		return &TaskPollResult{Outcome: TaskPollNoContent}, nil
	case http.StatusGone, http.StatusConflict:
		var body struct {
			Reason string `json:"reason"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &ExecuterTerminationError{Reason: body.Reason, Detail: body.Detail}
	default:
		return &TaskPollResult{Outcome: TaskPollInternalError}, nil
	}
}

// LogEvent publishes one lifecycle event. Retried at-least-once by callers
// via internal/events; this method performs exactly one attempt.
func (c *Client) LogEvent(ctx context.Context, event *types.Event) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/executer-tracker/"+c.runnerID+"/event", event, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("log_event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ReceiveTaskMessage long-polls for a control message addressed to taskID.
func (c *Client) ReceiveTaskMessage(ctx context.Context, taskID string, blockS float64) (string, bool, error) {
	path := fmt.Sprintf("/executer-tracker/%s/task/%s/message?block_s=%g", c.runnerID, taskID, blockS)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, errors.Wrap(err, "receive_task_message request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, errors.Errorf("receive_task_message: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false, errors.Wrap(err, "decoding message body")
	}
	return body.Message, true, nil
}

// UnblockTaskMessageListeners releases any pending ReceiveTaskMessage calls
// for taskID.
func (c *Client) UnblockTaskMessageListeners(ctx context.Context, taskID string) error {
	path := fmt.Sprintf("/executer-tracker/%s/task/%s/message/unblock", c.runnerID, taskID)
	resp, err := c.doJSON(ctx, http.MethodPost, path, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("unblock_task_message_listeners: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SignedURL is a time-limited URL (and HTTP method, for uploads) vended by
// the coordinator for direct object-store I/O.
type SignedURL struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// GetDownloadInputURL fetches the signed URL for a task's input archive.
func (c *Client) GetDownloadInputURL(ctx context.Context, taskID string) (*SignedURL, error) {
	var su SignedURL
	resp, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/executer-tracker/%s/task/%s/input-url", c.runnerID, taskID), nil, &su)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("get_download_input_url: unexpected status %d", resp.StatusCode)
	}
	return &su, nil
}

// GetUploadOutputURL fetches the signed URL/method for a task's output archive.
func (c *Client) GetUploadOutputURL(ctx context.Context, taskID string) (*SignedURL, error) {
	var su SignedURL
	resp, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/executer-tracker/%s/task/%s/output-url", c.runnerID, taskID), nil, &su)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("get_upload_output_url: unexpected status %d", resp.StatusCode)
	}
	return &su, nil
}

// PostTaskMetric sends a single fire-and-forget metric; callers retry via
// internal/retry (PostTaskMetricRetried makes up to 5 attempts).
func (c *Client) PostTaskMetric(ctx context.Context, taskID string, name types.MetricName, value float64) error {
	body := struct {
		Name  types.MetricName `json:"name"`
		Value float64          `json:"value"`
	}{name, value}

	resp, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/executer-tracker/%s/task/%s/metric", c.runnerID, taskID), body, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("post_task_metric: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// GetStartedMachineGroupIDByName looks up a running machine group by name,
// grounded on original_source's
// task-runner/task_runner/machine_group.py:MachineGroupInfo.from_api.
// Returns "" without error when no such group is currently started.
func (c *Client) GetStartedMachineGroupIDByName(ctx context.Context, name string) (string, error) {
	var out struct {
		MachineGroupID string `json:"machine_group_id"`
	}
	resp, err := c.doJSON(ctx, http.MethodGet, "/machine-groups/started?name="+name, nil, &out)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return out.MachineGroupID, nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", errors.Errorf("get_started_machine_group_id_by_name: unexpected status %d", resp.StatusCode)
	}
}

// CreateLocalMachineGroup registers a new local-mode machine group named
// name (or an API-assigned default when name is empty), for LOCAL_MODE
// runs that have no pre-existing machine group (§9 SUPPLEMENTED FEATURES).
func (c *Client) CreateLocalMachineGroup(ctx context.Context, name string) (string, error) {
	body := struct {
		Name string `json:"name,omitempty"`
	}{name}

	var out struct {
		MachineGroupID string `json:"machine_group_id"`
	}
	resp, err := c.doJSON(ctx, http.MethodPost, "/machine-groups/local", body, &out)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Errorf("create_local_machine_group: unexpected status %d", resp.StatusCode)
	}
	return out.MachineGroupID, nil
}
