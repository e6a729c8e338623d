package models

// JobStatus is the lifecycle state of a whole batch
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// IsFinished reports whether the job reached a terminal state
func (s JobStatus) IsFinished() bool {
	switch s {
	case JobCompleted, JobCancelled, JobFailed:
		return true
	}
	return false
}

// TransferState is the lifecycle state of a single record
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferFetching  TransferState = "fetching"
	TransferStreaming TransferState = "streaming"
	TransferCompleted TransferState = "completed"
	TransferFailed    TransferState = "failed"
	TransferSkipped   TransferState = "skipped"
)

// IsFinished reports whether the transfer reached a terminal state
func (s TransferState) IsFinished() bool {
	switch s {
	case TransferCompleted, TransferFailed, TransferSkipped:
		return true
	}
	return false
}
