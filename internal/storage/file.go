package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "taskpilot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines)
//
// Recent runs are served from an in-memory ring loaded at open time, so
// RecentRuns never re-reads the file on the hot path.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsFile *os.File

	ring    []RunRecord
	ringCap int
}

type runLine struct {
	At         int64  `json:"at"`
	RunID      string `json:"run_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"

	st := &fileStore{log: log, ringCap: 1000}
	_ = st.loadRing(runsPath)

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.runsFile = f
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs file closed")
	}

	enc := json.NewEncoder(s.runsFile)
	if err := enc.Encode(toLine(r)); err != nil {
		return err
	}
	s.pushLocked(r)
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ring)
	if limit > 0 && limit < n {
		n = limit
	}
	// Newest first.
	out := make([]RunRecord, 0, n)
	for i := len(s.ring) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.ring[i])
	}
	return out, nil
}

func (s *fileStore) pushLocked(r RunRecord) {
	s.ring = append(s.ring, r)
	if len(s.ring) > s.ringCap {
		s.ring = s.ring[len(s.ring)-s.ringCap:]
	}
}

func (s *fileStore) loadRing(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l runLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			continue
		}
		if l.RunID == "" {
			continue
		}
		s.pushLocked(fromLine(l))
	}
	return sc.Err()
}

func toLine(r RunRecord) runLine {
	return runLine{
		At:         r.At.UnixMilli(),
		RunID:      r.RunID,
		TaskID:     r.TaskID,
		Status:     r.Status,
		Attempts:   r.Attempts,
		DurationMS: r.DurationMS,
		Error:      r.Error,
	}
}

func fromLine(l runLine) RunRecord {
	return RunRecord{
		At:         time.UnixMilli(l.At),
		RunID:      l.RunID,
		TaskID:     l.TaskID,
		Status:     l.Status,
		Attempts:   l.Attempts,
		DurationMS: l.DurationMS,
		Error:      l.Error,
	}
}
