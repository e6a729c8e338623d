package models

// Action
const (
	StartDownloadAction = "start"
	StopDownloadAction  = "stop"
)

// DownloadCommand is the command consumed by the downloader worker
type DownloadCommand struct {
	Action string  `json:"action"`
	JobID  string  `json:"jobId,omitempty"`
	Data   JobData `json:"data,omitempty"`
}

// JobData contains the records of a batch and how to run it
type JobData struct {
	Concurrency int      `json:"concurrency"`
	Records     []Record `json:"records,omitempty"`
}
