package models

import (
	"time"
)

// Action is the kind of transfer a command performs
type Action string

const (
	// ActionCopy copies source to destination
	ActionCopy Action = "copy"
	// ActionMove copies then deletes the source
	ActionMove Action = "move"
	// ActionUpload writes a local file to a profile
	ActionUpload Action = "upload"
	// ActionDownload reads a profile file to a local path
	ActionDownload Action = "download"
	// ActionAppend appends to a file
	ActionAppend Action = "append"
	// ActionDelete deletes a path
	ActionDelete Action = "delete"
)

// TransferOperation describes one transfer requested from the CLI
type TransferOperation struct {
	ID             string
	Action         Action
	SourceProfile  string
	SourcePath     string
	DestProfile    string
	DestPath       string
	Overwrite      bool
	Verify         bool
	ChunkSize      int
	BandwidthLimit int64 // bytes per second, 0 = unlimited
	CreatedAt      time.Time
}

// Validate checks if the operation is complete
func (op *TransferOperation) Validate() error {
	if op.ID == "" {
		return &ValidationError{Field: "ID", Message: "operation id is required"}
	}
	if op.SourcePath == "" {
		return &ValidationError{Field: "SourcePath", Message: "source path is required"}
	}
	if op.Action != ActionDelete && op.DestPath == "" {
		return &ValidationError{Field: "DestPath", Message: "destination path is required"}
	}
	if op.ChunkSize < 1024 {
		return &ValidationError{Field: "ChunkSize", Message: "chunk size must be at least 1024 bytes"}
	}
	if op.BandwidthLimit < 0 {
		return &ValidationError{Field: "BandwidthLimit", Message: "bandwidth limit cannot be negative"}
	}
	return nil
}
