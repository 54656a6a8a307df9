package amd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callguard/internal/calls"
	"callguard/internal/telephony"
)

// fakeGateway records drive actions for assertions.
type fakeGateway struct {
	mu         sync.Mutex
	created    []telephony.CreateCallParams
	terminated []string
	redirected map[string]string

	createSid string
	createErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{redirected: make(map[string]string), createSid: "CA-fake"}
}

func (g *fakeGateway) CreateCall(_ context.Context, p telephony.CreateCallParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created = append(g.created, p)
	return g.createSid, nil
}

func (g *fakeGateway) TerminateCall(_ context.Context, callSid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminated = append(g.terminated, callSid)
	return nil
}

func (g *fakeGateway) RedirectCall(_ context.Context, callSid, answerURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.redirected[callSid] = answerURL
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedCall(t *testing.T, store *calls.MemoryStore, c calls.Call) calls.Call {
	t.Helper()
	if c.Status == "" {
		c.Status = calls.StatusRinging
	}
	out, err := store.Create(context.Background(), c)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return out
}

func f64(v float64) *float64 { return &v }

func TestApplyDetection_MachineTerminatesCall(t *testing.T) {
	store := calls.NewMemoryStore()
	gw := newFakeGateway()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	co := NewCoordinator(store, gw, "https://app.example.com", nil).WithClock(fixedClock(now))

	seedCall(t, store, calls.Call{CallSid: "CA1", UserID: "u1", AmdStrategy: calls.StrategyML})

	got, err := co.ApplyDetection(context.Background(), Detection{
		CallSid:    "CA1",
		Label:      "machine",
		Confidence: f64(0.92),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Status != calls.StatusMachineDetected {
		t.Fatalf("status = %s", got.Status)
	}
	if got.AmdResult != calls.ResultMachine || got.AmdConfidence == nil || *got.AmdConfidence != 0.92 {
		t.Fatalf("result = %q conf = %v", got.AmdResult, got.AmdConfidence)
	}
	if got.DetectedAt == nil || !got.DetectedAt.Equal(now) {
		t.Fatalf("detectedAt = %v", got.DetectedAt)
	}
	if len(gw.terminated) != 1 || gw.terminated[0] != "CA1" {
		t.Fatalf("expected exactly one terminate, got %v", gw.terminated)
	}
	if len(gw.redirected) != 0 {
		t.Fatalf("did not expect redirect")
	}
}

func TestApplyDetection_HumanRedirects(t *testing.T) {
	store := calls.NewMemoryStore()
	gw := newFakeGateway()
	co := NewCoordinator(store, gw, "https://app.example.com/", nil)

	seedCall(t, store, calls.Call{CallSid: "CA2", UserID: "u1", AmdStrategy: calls.StrategyML})

	got, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA2", Label: "human", Confidence: f64(0.87)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Status != calls.StatusHumanDetected {
		t.Fatalf("status = %s", got.Status)
	}
	want := "https://app.example.com/api/twiml/connect-human"
	if gw.redirected["CA2"] != want {
		t.Fatalf("redirect url = %q, want %q", gw.redirected["CA2"], want)
	}
	if len(gw.terminated) != 0 {
		t.Fatalf("did not expect terminate")
	}
}

func TestApplyDetection_UnknownLabelTakesNoAction(t *testing.T) {
	store := calls.NewMemoryStore()
	gw := newFakeGateway()
	co := NewCoordinator(store, gw, "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA3", UserID: "u1"})

	got, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA3", Label: "garbled"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.AmdResult != calls.ResultUndecided {
		t.Fatalf("expected undecided, got %q", got.AmdResult)
	}
	if len(gw.terminated) != 0 || len(gw.redirected) != 0 {
		t.Fatalf("expected no telephony drive for undecided")
	}
}

func TestApplyDetection_UnknownCallSid(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	_, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA-none", Label: "machine"})
	if !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyDetection_StickyClassification(t *testing.T) {
	store := calls.NewMemoryStore()
	gw := newFakeGateway()
	co := NewCoordinator(store, gw, "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA4", UserID: "u1"})

	if _, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA4", Label: "human", Confidence: f64(0.9)}); err != nil {
		t.Fatalf("first: %v", err)
	}
	got, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA4", Label: "undecided", Confidence: f64(0.2)})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if got.AmdResult != calls.ResultHuman {
		t.Fatalf("classification was overwritten: %q", got.AmdResult)
	}
	if got.AmdConfidence == nil || *got.AmdConfidence != 0.9 {
		t.Fatalf("confidence was overwritten: %v", got.AmdConfidence)
	}
}

func TestApplyDetection_UndecidedThenHuman(t *testing.T) {
	store := calls.NewMemoryStore()
	gw := newFakeGateway()
	co := NewCoordinator(store, gw, "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA12", UserID: "u1", AmdStrategy: calls.StrategyML})

	if _, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA12", Label: "undecided"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	got, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA12", Label: "human", Confidence: f64(0.81)})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	// The decisive label must win the status too, not just amdResult.
	if got.AmdResult != calls.ResultHuman {
		t.Fatalf("result = %q", got.AmdResult)
	}
	if got.Status != calls.StatusHumanDetected {
		t.Fatalf("status = %s with amdResult = %q", got.Status, got.AmdResult)
	}
	if gw.redirected["CA12"] != "https://app.example.com/api/twiml/connect-human" {
		t.Fatalf("redirect = %q", gw.redirected["CA12"])
	}

	// And once decisive, a later contrary label must not flip it back.
	got, err = co.ApplyDetection(context.Background(), Detection{CallSid: "CA12", Label: "machine"})
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if got.AmdResult != calls.ResultHuman || got.Status != calls.StatusHumanDetected {
		t.Fatalf("committed classification flipped: result %q status %s", got.AmdResult, got.Status)
	}
}

func TestApplyDetection_AppendsEvent(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	seeded := seedCall(t, store, calls.Call{CallSid: "CA5", UserID: "u1"})

	eventTime := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if _, err := co.ApplyDetection(context.Background(), Detection{
		CallSid:   "CA5",
		Label:     "machine",
		Timestamp: eventTime,
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	events, err := store.ListEvents(context.Background(), seeded.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v err = %v", events, err)
	}
	if events[0].Label != calls.ResultMachine || !events[0].Timestamp.Equal(eventTime) {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestApplyProviderStatus_LifecycleTimestamps(t *testing.T) {
	store := calls.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil).WithClock(fixedClock(now))

	seedCall(t, store, calls.Call{CallSid: "CA6", UserID: "u1", AmdStrategy: calls.StrategyNative})

	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA6", CallStatus: "in-progress"}); err != nil {
		t.Fatalf("in-progress: %v", err)
	}
	c, _ := store.FindByCallSid(context.Background(), "CA6")
	if c.Status != calls.StatusInProgress || c.CallStartedAt == nil {
		t.Fatalf("after in-progress: %+v", c)
	}

	d := 42
	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA6", CallStatus: "completed", DurationSeconds: &d}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	c, _ = store.FindByCallSid(context.Background(), "CA6")
	if c.Status != calls.StatusCompleted || c.CallEndedAt == nil {
		t.Fatalf("after completed: %+v", c)
	}
	if c.DurationSeconds == nil || *c.DurationSeconds != 42 {
		t.Fatalf("duration = %v", c.DurationSeconds)
	}
}

func TestApplyProviderStatus_MonotonicStatus(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA7", UserID: "u1", Status: calls.StatusMachineDetected})

	// A stale ringing event arrives late; status must not regress but the
	// payload's duration is still recorded.
	d := 17
	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA7", CallStatus: "ringing", DurationSeconds: &d}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c, _ := store.FindByCallSid(context.Background(), "CA7")
	if c.Status != calls.StatusMachineDetected {
		t.Fatalf("status regressed to %s", c.Status)
	}
	if c.DurationSeconds == nil || *c.DurationSeconds != 17 {
		t.Fatalf("duration = %v", c.DurationSeconds)
	}
}

func TestApplyProviderStatus_AnsweredByNative(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA8", UserID: "u1", AmdStrategy: calls.StrategyNative})

	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA8", CallStatus: "in-progress", AnsweredBy: "Machine"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c, _ := store.FindByCallSid(context.Background(), "CA8")
	if c.AmdResult != calls.ResultMachine || c.Status != calls.StatusMachineDetected || c.DetectedAt == nil {
		t.Fatalf("after AnsweredBy: %+v", c)
	}
}

func TestApplyProviderStatus_AnsweredByOtherStoredVerbatim(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA9", UserID: "u1", Status: calls.StatusInProgress})

	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA9", CallStatus: "in-progress", AnsweredBy: "machine_end_beep"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c, _ := store.FindByCallSid(context.Background(), "CA9")
	if c.AmdResult != "machine_end_beep" {
		t.Fatalf("result = %q", c.AmdResult)
	}
	if c.Status != calls.StatusInProgress {
		t.Fatalf("status changed to %s", c.Status)
	}
	if c.DetectedAt != nil {
		t.Fatalf("detectedAt set for non-decisive AnsweredBy")
	}
}

func TestTieBreak_MLBeforeProvider(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	seedCall(t, store, calls.Call{CallSid: "CA10", UserID: "u1", AmdStrategy: calls.StrategyML})

	if _, err := co.ApplyDetection(context.Background(), Detection{CallSid: "CA10", Label: "human", Confidence: f64(0.8)}); err != nil {
		t.Fatalf("detection: %v", err)
	}
	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA10", CallStatus: "in-progress", AnsweredBy: "machine"}); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	c, _ := store.FindByCallSid(context.Background(), "CA10")
	if c.AmdResult != calls.ResultHuman {
		t.Fatalf("ML classification lost: %q", c.AmdResult)
	}
	if c.Status != calls.StatusHumanDetected {
		t.Fatalf("status = %s", c.Status)
	}
}

func TestApplyProviderStatus_UnknownCallSidSwallowed(t *testing.T) {
	store := calls.NewMemoryStore()
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", nil)

	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA-none", CallStatus: "completed"}); err != nil {
		t.Fatalf("expected nil for unknown call sid, got %v", err)
	}
}

type countingSlots struct {
	mu       sync.Mutex
	released []string
}

func (s *countingSlots) Acquire(context.Context, string) (bool, error) { return true, nil }
func (s *countingSlots) Release(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, userID)
	return nil
}

func TestApplyProviderStatus_ReleasesSlotOnceOnTerminal(t *testing.T) {
	store := calls.NewMemoryStore()
	slots := &countingSlots{}
	co := NewCoordinator(store, newFakeGateway(), "https://app.example.com", slots)

	seedCall(t, store, calls.Call{CallSid: "CA11", UserID: "u1", Status: calls.StatusInProgress})

	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA11", CallStatus: "completed"}); err != nil {
		t.Fatalf("first completed: %v", err)
	}
	// Duplicate terminal webhook must not release twice.
	if err := co.ApplyProviderStatus(context.Background(), StatusUpdate{CallSid: "CA11", CallStatus: "completed"}); err != nil {
		t.Fatalf("second completed: %v", err)
	}

	if len(slots.released) != 1 || slots.released[0] != "u1" {
		t.Fatalf("releases = %v", slots.released)
	}
}
