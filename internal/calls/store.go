package calls

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("calls: not found")

// Store is the durable home of call rows and their AMD events. It is the
// only source of truth for call state; handlers hold no in-process state
// across requests.
//
// Contract:
//   - Mutate serializes concurrent writers to one row: the callback observes
//     the current row under a row lock and edits it in place. Merge policy
//     (monotonic status, sticky classification) belongs to the caller, not
//     the store.
//   - The *ForUser reads enforce owner scoping; a row owned by another user
//     is indistinguishable from a missing row (ErrNotFound).
//   - All timestamps are UTC.
type Store interface {
	Create(ctx context.Context, c Call) (Call, error)

	FindByCallSid(ctx context.Context, callSid string) (Call, error)
	FindByIDForUser(ctx context.Context, id, userID string) (Call, error)
	FindByCallSidForUser(ctx context.Context, callSid, userID string) (Call, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Call, error)

	// Mutate loads the row identified by callSid, applies fn under a
	// per-row lock, and persists the result. fn returning an error aborts
	// the write. Returns ErrNotFound when no row carries callSid.
	Mutate(ctx context.Context, callSid string, fn func(*Call) error) (Call, error)

	AppendEvent(ctx context.Context, e AmdEvent) (AmdEvent, error)
	ListEvents(ctx context.Context, callID string) ([]AmdEvent, error)
}
