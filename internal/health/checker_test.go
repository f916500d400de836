package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChecker_healthyUntilProbed(t *testing.T) {
	checker := New(Config{}, zap.NewNop())
	checker.Register("database", func(context.Context) error { return errors.New("down") })

	ready, statuses := checker.Ready()
	if !ready || len(statuses) != 1 || !statuses[0].Healthy {
		t.Errorf("expected healthy before first probe, got %v %+v", ready, statuses)
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	checker := New(Config{FailThreshold: 3, ProbeTimeout: time.Second}, zap.NewNop())
	checker.Register("artifacts", func(context.Context) error {
		if fail.Load() {
			return errors.New("bucket unreachable")
		}
		return nil
	})
	checker.Register("database", func(context.Context) error { return nil })

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if ready, _ := checker.Ready(); !ready {
		t.Fatal("should stay ready below the failure threshold")
	}

	checker.CheckAll(context.Background())
	ready, statuses := checker.Ready()
	if ready {
		t.Fatal("expected not ready at threshold")
	}
	if statuses[0].Name != "artifacts" || statuses[0].Healthy || statuses[0].Failures != 3 {
		t.Errorf("artifacts status = %+v", statuses[0])
	}
	if statuses[0].LastError != "bucket unreachable" {
		t.Errorf("LastError = %q", statuses[0].LastError)
	}
	if !statuses[1].Healthy {
		t.Errorf("database should stay healthy: %+v", statuses[1])
	}

	fail.Store(false)
	checker.CheckAll(context.Background())
	if ready, _ := checker.Ready(); !ready {
		t.Error("expected recovery after a successful probe")
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	checker := New(Config{FailThreshold: 1, ProbeTimeout: 10 * time.Millisecond}, zap.NewNop())
	checker.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	checker.CheckAll(context.Background())
	if ready, _ := checker.Ready(); ready {
		t.Error("a probe that exceeds its timeout should fail")
	}
}

func TestCheckAll_metricsCallback(t *testing.T) {
	checker := New(Config{}, zap.NewNop())
	checker.Register("database", func(context.Context) error { return nil })

	var calls []bool
	checker.SetMetricsRecord(func(dep string, ok bool) {
		if dep != "database" {
			t.Errorf("unexpected dependency %q", dep)
		}
		calls = append(calls, ok)
	})
	checker.CheckAll(context.Background())

	if len(calls) != 1 || !calls[0] {
		t.Errorf("expected one successful record, got %v", calls)
	}
}
