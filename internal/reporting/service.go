package reporting

import (
	"context"
	"errors"

	"callguard/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxWindow bounds how many recent calls one summary scans. The dashboard
// shows recent activity, not all-time totals; a SQL aggregate can replace
// this if the window ever needs to grow.
const maxWindow = 100

type Service struct {
	store calls.Store
}

func NewService(store calls.Store) *Service { return &Service{store: store} }

// Summary aggregates the user's most recent calls. Rows belong to exactly
// one user, so the window needs no further filtering.
func (s *Service) Summary(ctx context.Context, userID string) (DashboardSummary, error) {
	if userID == "" {
		return DashboardSummary{}, ErrInvalidRequest
	}
	if s.store == nil {
		return DashboardSummary{}, errors.New("reporting: store not configured")
	}

	rows, err := s.store.ListForUser(ctx, userID, maxWindow)
	if err != nil {
		return DashboardSummary{}, err
	}

	out := DashboardSummary{UserID: userID}
	for _, c := range rows {
		out.TotalCalls++
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
		}

		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusCanceled:
			out.CanceledCalls++
		case calls.StatusInProgress, calls.StatusHumanDetected, calls.StatusMachineDetected:
			out.InProgressCalls++
		case calls.StatusQueued, calls.StatusInitiated, calls.StatusRinging:
			// not counted separately
		}

		switch c.AmdResult {
		case calls.ResultHuman:
			out.HumanDetected++
		case calls.ResultMachine:
			out.MachineDetected++
		default:
			out.Undecided++
		}

		switch c.AmdStrategy {
		case calls.StrategyML:
			out.MLStrategyCalls++
		case calls.StrategyNative:
			out.NativeStrategyCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
