// Package monitor samples system resource utilization and aggregates
// execution outcomes. The executor's admission control gates dispatch on
// Utilization(); the scheduler surfaces Snapshot() for diagnostics.
package monitor

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "taskpilot/pkg/logx"
)

// Stats is a point-in-time view of the monitor.
type Stats struct {
	CPUPercent float64       `json:"cpu_percent"`
	MemPercent float64       `json:"mem_percent"`
	Executions uint64        `json:"executions"`
	Failures   uint64        `json:"failures"`
	AvgRuntime time.Duration `json:"avg_runtime"`
}

type Monitor struct {
	log logx.Logger

	// sampler bounds how often /proc is re-read; between samples the cached
	// values are served.
	sampler *rate.Limiter

	mu       sync.Mutex
	cpu      float64
	mem      float64
	execs    uint64
	failures uint64
	totalDur time.Duration
}

func New(log logx.Logger) *Monitor {
	return &Monitor{
		log:     log,
		sampler: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Utilization returns the current system utilization percent: the higher of
// CPU and memory. Errors reading the proc filesystem degrade to 0 so
// admission control fails open rather than wedging dispatch.
func (m *Monitor) Utilization() float64 {
	m.maybeSample()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cpu > m.mem {
		return m.cpu
	}
	return m.mem
}

// RecordExecution feeds one finished execution into the rolling aggregates.
func (m *Monitor) RecordExecution(taskID string, d time.Duration, failed bool) {
	m.mu.Lock()
	m.execs++
	if failed {
		m.failures++
	}
	m.totalDur += d
	m.mu.Unlock()

	if !m.log.IsZero() {
		m.log.Trace("execution recorded", logx.String("task", taskID), logx.Duration("dur", d), logx.Bool("failed", failed))
	}
}

func (m *Monitor) Snapshot() Stats {
	m.maybeSample()
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		CPUPercent: m.cpu,
		MemPercent: m.mem,
		Executions: m.execs,
		Failures:   m.failures,
	}
	if m.execs > 0 {
		st.AvgRuntime = m.totalDur / time.Duration(m.execs)
	}
	return st
}

func (m *Monitor) maybeSample() {
	if !m.sampler.Allow() {
		return
	}
	cpu := sampleCPU()
	mem := sampleMem()
	m.mu.Lock()
	m.cpu = cpu
	m.mem = mem
	m.mu.Unlock()
}

// sampleCPU approximates CPU pressure as 1-minute load average over the
// core count.
func sampleCPU() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	n := runtime.NumCPU()
	if n <= 0 {
		n = 1
	}
	pct := load / float64(n) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// sampleMem reads MemTotal/MemAvailable from /proc/meminfo.
func sampleMem() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, avail float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			avail = parseMeminfoKB(line)
		}
		if total > 0 && avail > 0 {
			break
		}
	}
	if total <= 0 {
		return 0
	}
	pct := (1 - avail/total) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return v
}
