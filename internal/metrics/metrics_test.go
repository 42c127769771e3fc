package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestChildCountersTrackLifecycle(t *testing.T) {
	ChildSpawned("func")
	ChildSpawned("func")
	ChildSpawned("command")

	if got := testutil.ToFloat64(childrenActive.WithLabelValues("func")); got != 2 {
		t.Fatalf("expected 2 active func children, got %v", got)
	}
	if got := testutil.ToFloat64(childrenSpawned.WithLabelValues("command")); got != 1 {
		t.Fatalf("expected 1 spawned command child, got %v", got)
	}

	ChildExited("func", false, 10*time.Millisecond)
	ChildExited("func", true, 20*time.Millisecond)
	ChildExited("command", false, time.Second)

	if got := testutil.ToFloat64(childrenActive.WithLabelValues("func")); got != 0 {
		t.Fatalf("expected 0 active func children, got %v", got)
	}
	if got := testutil.ToFloat64(childrenFailed.WithLabelValues("func")); got != 1 {
		t.Fatalf("expected 1 failed func child, got %v", got)
	}
	if got := testutil.ToFloat64(childrenFailed.WithLabelValues("command")); got != 0 {
		t.Fatalf("expected 0 failed command children, got %v", got)
	}
}

func TestUnknownKindIsLabelled(t *testing.T) {
	ChildSpawned("")
	if got := testutil.ToFloat64(childrenSpawned.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected unknown kind to be counted, got %v", got)
	}
	ChildExited("", false, 0)
}

func TestEmitBuildInfoPublishesGauge(t *testing.T) {
	EmitBuildInfo()
	EmitBuildInfo()

	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "brood_build_info" {
			if len(family.GetMetric()) != 1 {
				t.Fatalf("expected a single build_info series, got %d", len(family.GetMetric()))
			}
			return
		}
	}
	t.Fatal("expected brood_build_info to be registered")
}
