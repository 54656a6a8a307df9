package calls

import (
	"strings"
	"time"
)

// Call is one outbound call attempt. Every asynchronous event (provider
// status webhook, ML detection callback, browser poll) correlates to this
// row through CallSid, the provider-issued identifier.
//
// Owner invariant: UserID is required on every row and every read path
// must filter by it.

type Call struct {
	ID      string `json:"id"`
	CallSid string `json:"callSid"`
	UserID  string `json:"userId"`

	ToNumber   string `json:"toNumber"`
	FromNumber string `json:"fromNumber"`

	// AmdStrategy is the strategy actually executed, after any health-probe
	// fallback. Not necessarily what the user requested.
	AmdStrategy Strategy `json:"amdStrategy"`

	Status Status `json:"status"`

	// AmdResult holds the classification label once known. A provider
	// AnsweredBy value outside {human, machine} is stored verbatim.
	AmdResult     string   `json:"amdResult,omitempty"`
	AmdConfidence *float64 `json:"amdConfidence,omitempty"`

	// DurationSeconds is reported by the provider on completion.
	DurationSeconds *int `json:"duration,omitempty"`

	CallStartedAt *time.Time `json:"callStartedAt,omitempty"`
	CallEndedAt   *time.Time `json:"callEndedAt,omitempty"`
	DetectedAt    *time.Time `json:"detectedAt,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AmdEvent is an append-only interim detector output attached to a call.
// Not required for lifecycle correctness; exposed read-only for the dashboard.
type AmdEvent struct {
	ID         string   `json:"id"`
	CallID     string   `json:"callId"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`

	// Timestamp is the detector's own event time when supplied, else ingest time.
	Timestamp time.Time `json:"timestamp"`
}

type Strategy string

const (
	StrategyML     Strategy = "ml"
	StrategyNative Strategy = "native"
)

// ParseStrategy maps a requested strategy string onto a known variant.
// Empty defaults to ml.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.TrimSpace(s)) {
	case "":
		return StrategyML, true
	case StrategyML:
		return StrategyML, true
	case StrategyNative:
		return StrategyNative, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusQueued          Status = "queued"
	StatusInitiated       Status = "initiated"
	StatusRinging         Status = "ringing"
	StatusInProgress      Status = "in-progress"
	StatusHumanDetected   Status = "human_detected"
	StatusMachineDetected Status = "machine_detected"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusBusy            Status = "busy"
	StatusNoAnswer        Status = "no-answer"
	StatusCanceled        Status = "canceled"
)

// Rank places a status in the lifecycle partial order:
//
//	ringing -> in-progress -> {human_detected | machine_detected} -> completed
//
// Terminal provider states (failed, busy, no-answer, canceled) share the
// final rank. Unknown statuses rank 0 and therefore never advance a row.
func (s Status) Rank() int {
	switch s {
	case StatusQueued, StatusInitiated, StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusHumanDetected, StatusMachineDetected:
		return 3
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return 4
	default:
		return 0
	}
}

// Terminal reports whether no further lifecycle progress is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// Classification labels. Free-form upstream labels are normalized through
// NormalizeLabel; human and machine are sticky once persisted.
const (
	ResultHuman     = "human"
	ResultMachine   = "machine"
	ResultUndecided = "undecided"
	ResultTimeout   = "timeout"
)

// NormalizeLabel lower-cases a detector label and folds unknown values to
// undecided.
func NormalizeLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case ResultHuman:
		return ResultHuman
	case ResultMachine:
		return ResultMachine
	case ResultTimeout:
		return ResultTimeout
	default:
		return ResultUndecided
	}
}

// Decisive reports whether a stored classification must not be overwritten.
func Decisive(result string) bool {
	return result == ResultHuman || result == ResultMachine
}
