package observability

import (
	"fmt"
	"testing"
	"time"
)

// Unique namespaces keep promauto's default registry happy across tests.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(fmt.Sprintf("observability_test_%d", time.Now().UnixNano()))
}

func TestObserveFirstAudioLatencyFeedsWindow(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveFirstAudioLatency(800 * time.Millisecond)

	snap := m.LatencySnapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("expected 1 stage, got %+v", snap.Stages)
	}
	if got := snap.Stages[0].Stage; got != StageFirstAudio {
		t.Fatalf("unexpected stage %q", got)
	}
	if got := snap.Stages[0].LastMS; got != 800 {
		t.Fatalf("expected 800ms sample, got %v", got)
	}
}
