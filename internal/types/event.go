package types

import "time"

// EventType names one of the Event subtypes in the envelope's "type" field.
type EventType string

const (
	EventTaskPickedUp            EventType = "TaskPickedUp"
	EventTaskWorkStarted         EventType = "TaskWorkStarted"
	EventTaskWorkFinished        EventType = "TaskWorkFinished"
	EventTaskOutputUploaded      EventType = "TaskOutputUploaded"
	EventTaskOutputUploadFailed  EventType = "TaskOutputUploadFailed"
	EventTaskExecutionFailed     EventType = "TaskExecutionFailed"
	EventTaskKilled              EventType = "TaskKilled"
	EventTaskCommandStarted      EventType = "TaskCommandStarted"
	EventTaskCommandFinished     EventType = "TaskCommandFinished"
	EventTaskOutputStalled       EventType = "TaskOutputStalled"
	EventObserverTriggered       EventType = "ObserverTriggered"
	EventTaskRunnerTerminated    EventType = "TaskRunnerTerminated"
)

// Event is the envelope published to the coordinator for every lifecycle
// occurrence. Body carries the subtype-specific fields and is serialized
// as the envelope's "json" field.
type Event struct {
	Type              EventType `json:"type"`
	TaskID            string    `json:"task_id,omitempty"`
	RunnerID          string    `json:"runner_id"`
	OccurredAt        time.Time `json:"-"`
	ElapsedSinceFirst float64   `json:"elapsed_time_s"`
	Body              any       `json:"json"`
}

// TaskOutputUploadedBody is the payload for EventTaskOutputUploaded.
type TaskOutputUploadedBody struct {
	NewStatus       TaskStatus `json:"new_status"`
	OutputSizeBytes int64      `json:"output_size_bytes"`
}

// TaskOutputUploadFailedBody is the payload for EventTaskOutputUploadFailed.
type TaskOutputUploadFailedBody struct {
	ErrorMessage string `json:"error_message"`
	Traceback    string `json:"traceback"`
}

// TaskExecutionFailedBody is the payload for EventTaskExecutionFailed.
type TaskExecutionFailedBody struct {
	ErrorMessage string `json:"error_message"`
	Traceback    string `json:"traceback"`
}

// TaskCommandStartedBody is the payload for EventTaskCommandStarted.
type TaskCommandStartedBody struct {
	Command          string `json:"command"`
	ContainerCommand string `json:"container_command"`
}

// TaskCommandFinishedBody is the payload for EventTaskCommandFinished.
type TaskCommandFinishedBody struct {
	Command         string  `json:"command"`
	ExitCode        int     `json:"exit_code"`
	ExecutionTimeS  float64 `json:"execution_time_s"`
}

// TaskOutputStalledBody is the payload for EventTaskOutputStalled.
type TaskOutputStalledBody struct {
	LastModifiedFilePath      string    `json:"last_modified_file_path"`
	LastModifiedFileTimestamp time.Time `json:"last_modified_file_timestamp"`
}

// ObserverTriggeredBody is the payload for EventObserverTriggered.
type ObserverTriggeredBody struct {
	ObserverID string `json:"observer_id"`
}

// TaskRunnerTerminatedBody is the payload for EventTaskRunnerTerminated.
type TaskRunnerTerminatedBody struct {
	Reason       string   `json:"reason"`
	StoppedTasks []string `json:"stopped_tasks"`
	Detail       string   `json:"detail,omitempty"`
	Traceback    string   `json:"traceback,omitempty"`
}

// MetricName enumerates the recognized metric keys (§3).
type MetricName string

const (
	MetricQueueTimeS          MetricName = "queue_time_s"
	MetricComputationS        MetricName = "computation_s"
	MetricDownloadInputS      MetricName = "download_input_s"
	MetricUncompressInputS    MetricName = "uncompress_input_s"
	MetricUploadOutputS       MetricName = "upload_output_s"
	MetricCompressOutputS     MetricName = "compress_output_s"
	MetricDownloadContainerS  MetricName = "download_container_s"
	MetricContainerSizeBytes  MetricName = "container_size_bytes"
	MetricInputSizeBytes      MetricName = "input_size_bytes"
	MetricInputZippedBytes    MetricName = "input_zipped_bytes"
	MetricOutputSizeBytes     MetricName = "output_size_bytes"
	MetricOutputZippedBytes   MetricName = "output_zipped_bytes"
	MetricOutputTotalFiles    MetricName = "output_total_files"
)

// Metric is a single (task, name, value) data point posted to the API.
type Metric struct {
	TaskID string
	Name   MetricName
	Value  float64
}
