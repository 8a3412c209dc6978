package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord records one finished execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time
	RunID      string
	TaskID     string
	Status     string
	Attempts   int
	DurationMS int64
	Error      string
}
