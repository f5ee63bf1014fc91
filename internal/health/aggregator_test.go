package health

import (
	"context"
	"testing"
	"time"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

func TestOverallStatus(t *testing.T) {
	ctx := context.Background()

	agg := NewAggregator(staticChecker{"a", StatusHealthy}, staticChecker{"b", StatusHealthy})
	if got := agg.OverallStatus(ctx); got != StatusHealthy {
		t.Fatalf("got %s, want healthy", got)
	}

	agg.AddChecker(staticChecker{"c", StatusDegraded})
	if got := agg.OverallStatus(ctx); got != StatusDegraded {
		t.Fatalf("got %s, want degraded", got)
	}
	if !agg.Ready(ctx) {
		t.Fatalf("degraded system must stay ready")
	}

	agg.AddChecker(staticChecker{"d", StatusUnhealthy})
	if got := agg.OverallStatus(ctx); got != StatusUnhealthy {
		t.Fatalf("got %s, want unhealthy", got)
	}
	if agg.Ready(ctx) {
		t.Fatalf("unhealthy system must not be ready")
	}
}

func TestStorageChecker(t *testing.T) {
	dir := t.TempDir()
	c := NewStorageChecker(dir)
	res := c.Check(context.Background())
	if res.Status != StatusHealthy {
		t.Fatalf("writable dir should be healthy: %+v", res)
	}

	bad := NewStorageChecker(dir + "/missing/nested")
	res = bad.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("missing dir should be unhealthy: %+v", res)
	}
	if res.Latency < 0 || res.Latency > time.Second {
		t.Fatalf("latency out of range: %v", res.Latency)
	}
}
