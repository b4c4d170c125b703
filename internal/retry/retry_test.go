package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDoReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), 10, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("attempt %d", calls)
		}
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("Do = %q after %d calls, want %q after 3", got, calls, "ok")
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	var errs []error
	var reports []int

	calls := 0
	_, err := Do(context.Background(), 10, func(context.Context) (struct{}, error) {
		calls++
		e := fmt.Errorf("failure %d", calls)
		errs = append(errs, e)
		return struct{}{}, e
	}, func(err error, remaining int) {
		reports = append(reports, remaining)
	})

	if calls != 11 {
		t.Errorf("action ran %d times, want 11", calls)
	}
	if len(reports) != 10 {
		t.Fatalf("onFailure ran %d times, want 10", len(reports))
	}
	for i, remaining := range reports {
		if want := 9 - i; remaining != want {
			t.Errorf("report %d: remaining = %d, want %d", i, remaining, want)
		}
	}
	if err != errs[10] {
		t.Errorf("Do error = %v, want the eleventh failure %v", err, errs[10])
	}
}

func TestDoZeroBudget(t *testing.T) {
	boom := errors.New("boom")
	reported := false
	calls := 0
	_, err := Do(context.Background(), 0, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, func(error, int) { reported = true })
	if err != boom || calls != 1 || reported {
		t.Errorf("Do = %v after %d calls (reported %v), want boom after 1 call unreported", err, calls, reported)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Do(context.Background(), 10, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(fatal)
	}, func(error, int) { t.Error("onFailure called for a permanent error") })
	if err != fatal {
		t.Errorf("Do error = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("action ran %d times, want 1", calls)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}

func TestDoStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, 10, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("action ran %d times, want 1", calls)
	}
}
