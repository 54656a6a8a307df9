package amd

import (
	"context"
	"errors"
	"strings"
	"time"

	"callguard/internal/calls"
	"callguard/internal/telephony"
	"callguard/pkg/logger"
)

// Coordinator is the per-call state machine. Three asynchronous sources race
// on one row (the provider's status webhook, the ML detection callback and
// the browser's polling reads); the coordinator linearizes their writes
// through the store's per-row Mutate, applying a monotonic merge:
//
//   - status only moves forward in the lifecycle order;
//   - a human/machine classification, once committed, stays.
//
// The store row is the only call state; the coordinator holds nothing
// in memory between events.
type Coordinator struct {
	store   calls.Store
	gateway telephony.Gateway

	// appBaseURL is the public base used to build the redirect answer URL.
	appBaseURL string

	slots CallSlots
	now   func() time.Time
}

func NewCoordinator(store calls.Store, gw telephony.Gateway, appBaseURL string, slots CallSlots) *Coordinator {
	if slots == nil {
		slots = NopCallSlots{}
	}
	return &Coordinator{
		store:      store,
		gateway:    gw,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		slots:      slots,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock fixes the coordinator's clock (tests).
func (co *Coordinator) WithClock(now func() time.Time) *Coordinator {
	co.now = now
	return co
}

// StatusUpdate is one provider status webhook, already parsed and
// signature-verified.
type StatusUpdate struct {
	CallSid         string
	CallStatus      string
	DurationSeconds *int
	AnsweredBy      string
}

// Detection is one ML classification callback.
type Detection struct {
	CallSid    string
	Label      string
	Confidence *float64

	// Timestamp is the detector's event time; zero means unknown.
	Timestamp time.Time
}

// ApplyProviderStatus merges a status webhook into the call row. An unknown
// CallSid is logged and swallowed: the provider must see 2xx or it retries.
func (co *Coordinator) ApplyProviderStatus(ctx context.Context, u StatusUpdate) error {
	log := logger.From(ctx)

	var wasTerminal, isTerminal bool
	updated, err := co.store.Mutate(ctx, u.CallSid, func(c *calls.Call) error {
		now := co.now()
		wasTerminal = c.Status.Terminal()

		incoming := calls.Status(u.CallStatus)

		if incoming == calls.StatusInProgress && c.CallStartedAt == nil {
			c.CallStartedAt = &now
		}
		if incoming == calls.StatusCompleted && c.CallEndedAt == nil {
			c.CallEndedAt = &now
		}
		// A late or out-of-order event may still carry the final duration.
		if u.DurationSeconds != nil {
			c.DurationSeconds = u.DurationSeconds
		}

		if incoming.Rank() > c.Status.Rank() {
			c.Status = incoming
		}

		if u.AnsweredBy != "" {
			co.applyAnsweredBy(c, strings.ToLower(strings.TrimSpace(u.AnsweredBy)), now)
		}

		isTerminal = c.Status.Terminal()
		return nil
	})
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("status webhook for unknown call", "call_sid", u.CallSid, "call_status", u.CallStatus)
			return nil
		}
		return err
	}

	if isTerminal && !wasTerminal {
		if err := co.slots.Release(ctx, updated.UserID); err != nil {
			log.Warn("call slot release failed", "call_sid", u.CallSid, "err", err)
		}
	}
	return nil
}

// applyAnsweredBy folds the provider's native AMD verdict into the row.
// The ML classification is authoritative: the provider value is recorded
// only when no classification exists yet.
func (co *Coordinator) applyAnsweredBy(c *calls.Call, answeredBy string, now time.Time) {
	if c.AmdResult != "" {
		return
	}

	switch answeredBy {
	case calls.ResultMachine:
		c.AmdResult = calls.ResultMachine
		c.DetectedAt = &now
		if calls.StatusMachineDetected.Rank() > c.Status.Rank() {
			c.Status = calls.StatusMachineDetected
		}
	case calls.ResultHuman:
		c.AmdResult = calls.ResultHuman
		c.DetectedAt = &now
		if calls.StatusHumanDetected.Rank() > c.Status.Rank() {
			c.Status = calls.StatusHumanDetected
		}
	default:
		// Values like "machine_end_beep" or "unknown" are stored verbatim
		// without any state transition.
		c.AmdResult = answeredBy
	}
}

// ApplyDetection merges an ML classification and then drives the call:
// machine hangs up, human is redirected into the greet-and-connect branch.
// Returns calls.ErrNotFound when the CallSid is unknown.
func (co *Coordinator) ApplyDetection(ctx context.Context, d Detection) (calls.Call, error) {
	log := logger.From(ctx)
	label := calls.NormalizeLabel(d.Label)

	updated, err := co.store.Mutate(ctx, d.CallSid, func(c *calls.Call) error {
		now := co.now()

		accepted := false
		if !calls.Decisive(c.AmdResult) {
			c.AmdResult = label
			c.AmdConfidence = d.Confidence
			c.DetectedAt = &now
			accepted = true
		}
		if c.CallStartedAt == nil {
			c.CallStartedAt = &now
		}

		desired := calls.StatusMachineDetected
		if label == calls.ResultHuman {
			desired = calls.StatusHumanDetected
		}
		// A newly accepted decisive label may also move laterally between
		// the two detection states: an earlier undecided event can have
		// parked the row on the wrong one. The sticky rule above keeps a
		// committed classification from ever flipping this way.
		if desired.Rank() > c.Status.Rank() ||
			(accepted && calls.Decisive(label) && desired.Rank() == c.Status.Rank()) {
			c.Status = desired
		}
		return nil
	})
	if err != nil {
		return calls.Call{}, err
	}

	eventTime := d.Timestamp
	if eventTime.IsZero() {
		eventTime = co.now()
	}
	if _, err := co.store.AppendEvent(ctx, calls.AmdEvent{
		CallID:     updated.ID,
		Label:      label,
		Confidence: d.Confidence,
		Timestamp:  eventTime.UTC(),
	}); err != nil {
		log.Warn("amd event append failed", "call_sid", d.CallSid, "err", err)
	}

	// Drive the provider. Failures are logged, never rolled back: the
	// provider's own completion webhook still fires and settles the row.
	switch label {
	case calls.ResultMachine:
		if err := co.gateway.TerminateCall(ctx, d.CallSid); err != nil {
			log.Error("terminate after machine detection failed", "call_sid", d.CallSid, "err", err)
		}
	case calls.ResultHuman:
		if err := co.gateway.RedirectCall(ctx, d.CallSid, co.appBaseURL+"/api/twiml/connect-human"); err != nil {
			log.Error("redirect after human detection failed", "call_sid", d.CallSid, "err", err)
		}
	}

	return updated, nil
}
