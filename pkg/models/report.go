package models

import (
	"time"
)

// TransferReport represents the result of a transfer command
type TransferReport struct {
	OperationID string `json:"operation_id"`
	Action      Action `json:"action"`
	Source      string `json:"source"`
	Dest        string `json:"dest"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	BytesTransferred int64 `json:"bytes_transferred"`
	FilesTransferred int   `json:"files_transferred"`
	// FilesExcluded counts entries skipped by exclude patterns
	FilesExcluded int `json:"files_excluded,omitempty"`
	// FilesSkipped counts files left in place because the destination existed
	FilesSkipped int `json:"files_skipped,omitempty"`
	// Checksum is the MD5 of the destination when verification ran
	Checksum string `json:"checksum,omitempty"`
	Verified bool   `json:"verified"`
	// Mismatches lists destination files that failed verification
	Mismatches []string `json:"mismatches,omitempty"`

	Result *RemoteObject `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Status Status        `json:"status"`
}

// Status represents the overall result
type Status string

const (
	// StatusSuccess indicates the transfer completed
	StatusSuccess Status = "success"
	// StatusFailed indicates the transfer failed
	StatusFailed Status = "failed"
	// StatusMismatch indicates the transfer completed but verification failed
	StatusMismatch Status = "mismatch"
)

// Finish stamps the end time and derives the status from err.
func (r *TransferReport) Finish(err error) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	switch {
	case err != nil:
		r.Status = StatusFailed
		r.Error = err.Error()
	case r.Status == "":
		r.Status = StatusSuccess
	}
}

// ExitCode returns the process exit code for the status
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusMismatch:
		return 1
	default:
		return 2
	}
}
