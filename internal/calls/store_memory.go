package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors the SQL store's contract, including per-row write serialization.
type MemoryStore struct {
	mu     sync.Mutex
	calls  map[string]Call // keyed by id
	events []AmdEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]Call)}
}

func (s *MemoryStore) Create(_ context.Context, c Call) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.calls[c.ID] = c
	return c, nil
}

func (s *MemoryStore) FindByCallSid(_ context.Context, callSid string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(func(c Call) bool { return c.CallSid == callSid })
}

func (s *MemoryStore) FindByIDForUser(_ context.Context, id, userID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(func(c Call) bool { return c.ID == id && c.UserID == userID })
}

func (s *MemoryStore) FindByCallSidForUser(_ context.Context, callSid, userID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(func(c Call) bool { return c.CallSid == callSid && c.UserID == userID })
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Mutate(_ context.Context, callSid string, fn func(*Call) error) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.findLocked(func(c Call) bool { return c.CallSid == callSid })
	if err != nil {
		return Call{}, err
	}
	if err := fn(&c); err != nil {
		return Call{}, err
	}
	c.UpdatedAt = time.Now().UTC()
	s.calls[c.ID] = c
	return c, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e AmdEvent) (AmdEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, e)
	return e, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, callID string) ([]AmdEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AmdEvent
	for _, e := range s.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) findLocked(match func(Call) bool) (Call, error) {
	for _, c := range s.calls {
		if match(c) {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}
