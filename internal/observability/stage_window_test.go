package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshotStats(t *testing.T) {
	w := newStageWindow(8)
	for _, ms := range []float64{100, 200, 300, 400} {
		w.Observe(StageFirstAudio, ms)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != StageFirstAudio {
		t.Fatalf("unexpected stage %q", st.Stage)
	}
	if st.Samples != 4 {
		t.Fatalf("expected 4 samples, got %d", st.Samples)
	}
	if st.LastMS != 400 {
		t.Fatalf("expected last 400, got %v", st.LastMS)
	}
	if st.AvgMS != 250 {
		t.Fatalf("expected avg 250, got %v", st.AvgMS)
	}
	if st.P50MS != 250 {
		t.Fatalf("expected p50 250, got %v", st.P50MS)
	}
	if st.TargetP95MS != stageTargetP95MS(StageFirstAudio) {
		t.Fatalf("target mismatch: %v", st.TargetP95MS)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageAIDial, float64(i*100))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(snap.Stages))
	}
	if got := snap.Stages[0].Samples; got != 4 {
		t.Fatalf("expected window-capped 4 samples, got %d", got)
	}
	if got := snap.Stages[0].LastMS; got != 900 {
		t.Fatalf("expected last 900, got %v", got)
	}
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 100)
	w.Observe(StageAIDial, -1)

	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap.Stages)
	}
}

func TestStageWindowIndicatorsAndReset(t *testing.T) {
	w := newStageWindow(4)
	w.ObserveIndicator("barge_in")
	w.ObserveIndicator("barge_in")
	w.ObserveIndicator("  ")
	w.Observe(StageSessionReady, 50)

	snap := w.Snapshot()
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("unexpected indicators: %+v", snap.Indicators)
	}

	w.Reset()
	snap = w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("expected empty window after reset, got %+v", snap)
	}
}

func TestMetricsStageHelpers(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveStage(StageAIDial, 120*time.Millisecond)
	m.MarkIndicator("barge_in")

	snap := m.LatencySnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 120 {
		t.Fatalf("unexpected snapshot stages: %+v", snap.Stages)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("unexpected indicators: %+v", snap.Indicators)
	}

	m.ResetLatencyWindow()
	if snap := m.LatencySnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("expected empty window after reset")
	}
}
