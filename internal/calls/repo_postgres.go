package calls

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"chattrix-calls/pkg/utils"
)

// Schema creates the calls table and the per-user history hide list. Active-call uniqueness per user is enforced by
// Create under advisory locks, not by a constraint.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
	id               TEXT PRIMARY KEY,
	channel_id       VARCHAR(64) NOT NULL UNIQUE,
	caller_id        TEXT NOT NULL,
	callee_id        TEXT NOT NULL,
	call_type        TEXT NOT NULL,
	status           TEXT NOT NULL,
	start_time       TIMESTAMPTZ NULL,
	end_time         TIMESTAMPTZ NULL,
	duration_seconds INTEGER NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	CHECK (caller_id <> callee_id)
);
CREATE INDEX IF NOT EXISTS idx_calls_caller_created ON calls (caller_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_calls_callee_created ON calls (callee_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_calls_active ON calls (status) WHERE status IN ('ringing', 'connected');

CREATE TABLE IF NOT EXISTS call_history_hidden (
	call_id   TEXT NOT NULL REFERENCES calls (id),
	user_id   TEXT NOT NULL,
	hidden_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (call_id, user_id)
);
`

const callColumns = `id, channel_id, caller_id, callee_id, call_type, status, start_time, end_time, duration_seconds, created_at, updated_at`

// PostgresRepo stores calls through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Migrate applies Schema. Safe to run on every start.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize creators touching the same users across all nodes.
		users := []string{c.CallerID, c.CalleeID}
		sort.Strings(users)
		for _, u := range users {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "calls:user:"+u); err != nil {
				return err
			}
		}

		const busyQ = `
SELECT COUNT(*)
FROM calls
WHERE status IN ('ringing', 'connected')
  AND (caller_id IN ($1, $2) OR callee_id IN ($1, $2))
`
		var n int
		if err := tx.QueryRowContext(ctx, busyQ, c.CallerID, c.CalleeID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrBusy
		}

		const insertQ = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
		_, err := tx.ExecContext(ctx, insertQ,
			c.ID,
			c.ChannelID,
			c.CallerID,
			c.CalleeID,
			string(c.Type),
			string(c.Status),
			nullTime(c.StartTime),
			nullTime(c.EndTime),
			nullInt(c.DurationSeconds),
			c.CreatedAt,
			c.UpdatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) FindByID(ctx context.Context, id string) (Call, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	return scanCall(row)
}

func (r *PostgresRepo) FindActiveByUser(ctx context.Context, userID string) (Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status IN ('ringing', 'connected')
  AND (caller_id = $1 OR callee_id = $1)
ORDER BY created_at DESC
LIMIT 1
`
	return scanCall(r.db.QueryRowContext(ctx, q, userID))
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, c Call, expected Status) error {
	const q = `
UPDATE calls
SET status = $2, start_time = $3, end_time = $4, duration_seconds = $5, updated_at = $6
WHERE id = $1 AND status = $7
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		string(c.Status),
		nullTime(c.StartTime),
		nullTime(c.EndTime),
		nullInt(c.DurationSeconds),
		c.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, c.ID); err != nil {
		return err
	}
	return ErrStaleStatus
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, q HistoryQuery) ([]Call, error) {
	q = q.withDefaults()
	const query = `
SELECT ` + callColumns + `
FROM calls
WHERE (caller_id = $1 OR callee_id = $1)
  AND ($2 = '' OR status = $2)
  AND NOT EXISTS (
    SELECT 1 FROM call_history_hidden h
    WHERE h.call_id = calls.id AND h.user_id = $1
  )
ORDER BY created_at DESC
LIMIT $3
`
	return r.query(ctx, query, userID, string(q.Status), q.Limit)
}

func (r *PostgresRepo) ListStale(ctx context.Context, ringingBefore, connectedBefore time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE (status = 'ringing' AND created_at < $1)
   OR (status = 'connected' AND start_time < $2)
ORDER BY created_at
`
	return r.query(ctx, q, ringingBefore, connectedBefore)
}

func (r *PostgresRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE (caller_id = $1 OR callee_id = $1)
  AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
`
	return r.query(ctx, q, userID, from, to)
}

func (r *PostgresRepo) HideForUser(ctx context.Context, callID, userID string) error {
	const q = `
INSERT INTO call_history_hidden (call_id, user_id)
SELECT id, $2 FROM calls WHERE id = $1
ON CONFLICT (call_id, user_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, callID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Zero rows: either already hidden or no such call.
	_, err = r.FindByID(ctx, callID)
	return err
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c        Call
		callType string
		status   string
		start    sql.NullTime
		end      sql.NullTime
		duration sql.NullInt32
	)
	if err := row.Scan(
		&c.ID,
		&c.ChannelID,
		&c.CallerID,
		&c.CalleeID,
		&callType,
		&status,
		&start,
		&end,
		&duration,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.Type = Type(callType)
	c.Status = Status(status)
	if start.Valid {
		t := start.Time
		c.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		c.EndTime = &t
	}
	if duration.Valid {
		d := int(duration.Int32)
		c.DurationSeconds = &d
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt32 {
	if n == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*n), Valid: true}
}
