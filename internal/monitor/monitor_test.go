package monitor

import (
	"testing"
	"time"

	logx "taskpilot/pkg/logx"
)

func TestRecordExecutionAggregates(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())

	m.RecordExecution("a", 100*time.Millisecond, false)
	m.RecordExecution("b", 300*time.Millisecond, true)

	st := m.Snapshot()
	if st.Executions != 2 || st.Failures != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.AvgRuntime != 200*time.Millisecond {
		t.Fatalf("avg runtime = %v, want 200ms", st.AvgRuntime)
	}
}

func TestUtilizationBounded(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	u := m.Utilization()
	if u < 0 || u > 100 {
		t.Fatalf("utilization = %.1f outside [0,100]", u)
	}
}
