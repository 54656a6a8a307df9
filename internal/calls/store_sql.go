package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callguard/pkg/utils"

	"github.com/google/uuid"
)

// SQLStore persists calls in Postgres via database/sql (pgx stdlib driver).
//
// NOTE: This store assumes the following tables exist (see db/schema.sql):
// - calls       (UNIQUE index on call_sid)
// - amd_events  (immutable append-only)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const callColumns = `
id, call_sid, user_id, to_number, from_number, amd_strategy, status,
amd_result, amd_confidence, duration, call_started_at, call_ended_at,
detected_at, error_message, created_at, updated_at
`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var (
		c         Call
		amdResult sql.NullString
		errMsg    sql.NullString
		conf      sql.NullFloat64
		duration  sql.NullInt64
		startedAt sql.NullTime
		endedAt   sql.NullTime
		detected  sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.CallSid,
		&c.UserID,
		&c.ToNumber,
		&c.FromNumber,
		&c.AmdStrategy,
		&c.Status,
		&amdResult,
		&conf,
		&duration,
		&startedAt,
		&endedAt,
		&detected,
		&errMsg,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.AmdResult = amdResult.String
	c.ErrorMessage = errMsg.String
	if conf.Valid {
		v := conf.Float64
		c.AmdConfidence = &v
	}
	if duration.Valid {
		v := int(duration.Int64)
		c.DurationSeconds = &v
	}
	if startedAt.Valid {
		v := startedAt.Time.UTC()
		c.CallStartedAt = &v
	}
	if endedAt.Valid {
		v := endedAt.Time.UTC()
		c.CallEndedAt = &v
	}
	if detected.Valid {
		v := detected.Time.UTC()
		c.DetectedAt = &v
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *SQLStore) Create(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	const q = `
INSERT INTO calls (
  id, call_sid, user_id, to_number, from_number, amd_strategy, status,
  amd_result, amd_confidence, duration, call_started_at, call_ended_at,
  detected_at, error_message, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.CallSid,
		c.UserID,
		c.ToNumber,
		c.FromNumber,
		c.AmdStrategy,
		c.Status,
		nullString(c.AmdResult),
		c.AmdConfidence,
		intPtrToNull(c.DurationSeconds),
		c.CallStartedAt,
		c.CallEndedAt,
		c.DetectedAt,
		nullString(c.ErrorMessage),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *SQLStore) FindByCallSid(ctx context.Context, callSid string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE call_sid = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, callSid))
}

func (s *SQLStore) FindByIDForUser(ctx context.Context, id, userID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 AND user_id = $2`
	return scanCall(s.db.QueryRowContext(ctx, q, id, userID))
}

func (s *SQLStore) FindByCallSidForUser(ctx context.Context, callSid, userID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE call_sid = $1 AND user_id = $2`
	return scanCall(s.db.QueryRowContext(ctx, q, callSid, userID))
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + callColumns + ` FROM calls WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0, limit)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Mutate locks the row, applies fn, and writes the merged result back.
// The FOR UPDATE lock serializes the three asynchronous ingress streams
// racing on the same call.
func (s *SQLStore) Mutate(ctx context.Context, callSid string, fn func(*Call) error) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM calls WHERE call_sid = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, sel, callSid))
		if err != nil {
			return err
		}

		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()

		const upd = `
UPDATE calls SET
  status = $2, amd_result = $3, amd_confidence = $4, duration = $5,
  call_started_at = $6, call_ended_at = $7, detected_at = $8,
  error_message = $9, updated_at = $10
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			c.ID,
			c.Status,
			nullString(c.AmdResult),
			c.AmdConfidence,
			intPtrToNull(c.DurationSeconds),
			c.CallStartedAt,
			c.CallEndedAt,
			c.DetectedAt,
			nullString(c.ErrorMessage),
			c.UpdatedAt,
		); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, e AmdEvent) (AmdEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	const q = `
INSERT INTO amd_events (id, call_id, label, confidence, timestamp)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := s.db.ExecContext(ctx, q, e.ID, e.CallID, e.Label, e.Confidence, e.Timestamp)
	if err != nil {
		return AmdEvent{}, err
	}
	return e, nil
}

func (s *SQLStore) ListEvents(ctx context.Context, callID string) ([]AmdEvent, error) {
	const q = `
SELECT id, call_id, label, confidence, timestamp
FROM amd_events
WHERE call_id = $1
ORDER BY timestamp ASC
`
	rows, err := s.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AmdEvent
	for rows.Next() {
		var (
			e    AmdEvent
			conf sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.Label, &conf, &e.Timestamp); err != nil {
			return nil, err
		}
		if conf.Valid {
			v := conf.Float64
			e.Confidence = &v
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func intPtrToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
