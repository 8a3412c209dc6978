package storage

// Package storage persists execution history across restarts.
//
// It currently supports:
//   - Run record appends (one per finished execution)
//   - Recent-run queries for diagnostics
