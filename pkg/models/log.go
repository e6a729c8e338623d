package models

// ProgressSnapshot represents the state of a batch at one instant
type ProgressSnapshot struct {
	Total        int      `json:"total"`
	Processed    int      `json:"processed"`
	CurrentLabel string   `json:"current,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Failed returns the number of records that ended in an error
func (p ProgressSnapshot) Failed() int {
	return len(p.Errors)
}

// Succeeded returns the number of records written to the archive
func (p ProgressSnapshot) Succeeded() int {
	return p.Processed - len(p.Errors)
}

// Percent returns the processed share of the batch
func (p ProgressSnapshot) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Clone returns a copy that does not share the error slice
func (p ProgressSnapshot) Clone() ProgressSnapshot {
	if p.Errors != nil {
		p.Errors = append([]string(nil), p.Errors...)
	}
	return p
}

// JobLog represents a log message published by the downloader worker
type JobLog struct {
	JobID    string            `json:"jobId"`
	Status   JobStatus         `json:"status"`
	Error    string            `json:"error,omitempty"`
	Archive  string            `json:"archive,omitempty"`
	Progress *ProgressSnapshot `json:"progress,omitempty"`
}
