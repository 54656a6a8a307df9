package reporting

import (
	"context"
	"testing"

	"callguard/internal/calls"
)

func seed(t *testing.T, store *calls.MemoryStore, c calls.Call) {
	t.Helper()
	if _, err := store.Create(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func intp(n int) *int { return &n }

func TestSummary(t *testing.T) {
	store := calls.NewMemoryStore()
	seed(t, store, calls.Call{CallSid: "CA1", UserID: "u1", Status: calls.StatusCompleted,
		AmdResult: calls.ResultHuman, AmdStrategy: calls.StrategyML, DurationSeconds: intp(40)})
	seed(t, store, calls.Call{CallSid: "CA2", UserID: "u1", Status: calls.StatusCompleted,
		AmdResult: calls.ResultMachine, AmdStrategy: calls.StrategyML, DurationSeconds: intp(10)})
	seed(t, store, calls.Call{CallSid: "CA3", UserID: "u1", Status: calls.StatusNoAnswer,
		AmdStrategy: calls.StrategyNative})
	seed(t, store, calls.Call{CallSid: "CA4", UserID: "u1", Status: calls.StatusHumanDetected,
		AmdResult: calls.ResultHuman, AmdStrategy: calls.StrategyML})
	// Another user's call must not leak into the summary.
	seed(t, store, calls.Call{CallSid: "CA5", UserID: "u2", Status: calls.StatusCompleted,
		AmdStrategy: calls.StrategyML})

	got, err := NewService(store).Summary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if got.TotalCalls != 4 {
		t.Fatalf("totalCalls = %d", got.TotalCalls)
	}
	if got.CompletedCalls != 2 || got.NoAnswerCalls != 1 || got.InProgressCalls != 1 {
		t.Fatalf("status counts = %+v", got)
	}
	if got.HumanDetected != 2 || got.MachineDetected != 1 || got.Undecided != 1 {
		t.Fatalf("detection counts = %+v", got)
	}
	if got.MLStrategyCalls != 3 || got.NativeStrategyCalls != 1 {
		t.Fatalf("strategy counts = %+v", got)
	}
	if got.TotalDurationSeconds != 50 || got.AverageDurationSeconds != 12 {
		t.Fatalf("durations = %d avg %d", got.TotalDurationSeconds, got.AverageDurationSeconds)
	}
}

func TestSummary_RequiresUser(t *testing.T) {
	if _, err := NewService(calls.NewMemoryStore()).Summary(context.Background(), ""); err != ErrInvalidRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestSummary_EmptyWindow(t *testing.T) {
	got, err := NewService(calls.NewMemoryStore()).Summary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.TotalCalls != 0 || got.AverageDurationSeconds != 0 {
		t.Fatalf("got = %+v", got)
	}
}
