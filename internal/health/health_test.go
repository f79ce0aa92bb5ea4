package health

import (
	"context"
	"errors"
	"testing"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

func TestCheckAllHealthy(t *testing.T) {
	ok := checkerFunc(func(ctx context.Context) error { return nil })

	results, healthy := Check(t.Context(), map[string]Checker{
		"database": ok,
		"redis":    ok,
	})

	if !healthy {
		t.Error("healthy = false, want true")
	}
	if results["database"] != "ok" || results["redis"] != "ok" {
		t.Errorf("results = %v", results)
	}
}

func TestCheckReportsFailure(t *testing.T) {
	results, healthy := Check(t.Context(), map[string]Checker{
		"database": checkerFunc(func(ctx context.Context) error { return nil }),
		"redis":    checkerFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") }),
	})

	if healthy {
		t.Error("healthy = true, want false")
	}
	if results["database"] != "ok" {
		t.Errorf("database = %s, want ok", results["database"])
	}
	if results["redis"] != "dial tcp: refused" {
		t.Errorf("redis = %s", results["redis"])
	}
}

func TestCheckBoundsTimeout(t *testing.T) {
	var gotDeadline bool
	checker := checkerFunc(func(ctx context.Context) error {
		_, gotDeadline = ctx.Deadline()
		return nil
	})

	Check(t.Context(), map[string]Checker{"database": checker})

	if !gotDeadline {
		t.Error("checker context has no deadline")
	}
}

func TestCheckEmpty(t *testing.T) {
	results, healthy := Check(t.Context(), nil)

	if !healthy {
		t.Error("healthy = false for no checkers")
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}
