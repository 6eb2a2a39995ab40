package audit

import (
	"context"
	"database/sql"
)

const Schema = `
CREATE TABLE IF NOT EXISTS call_events (
	id               TEXT PRIMARY KEY,
	call_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	actor_user_id    TEXT NOT NULL DEFAULT '',
	caller_id        TEXT NOT NULL,
	callee_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events (call_id, created_at);
`

// PostgresRepo is INSERT-only; there is deliberately no update path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, call_id, type, actor_user_id, caller_id, callee_id, status, reason, duration_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	var duration sql.NullInt32
	if e.DurationSeconds != nil {
		duration = sql.NullInt32{Int32: int32(*e.DurationSeconds), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CallID,
		string(e.Type),
		e.ActorUserID,
		e.CallerID,
		e.CalleeID,
		e.Status,
		e.Reason,
		duration,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, call_id, type, actor_user_id, caller_id, callee_id, status, reason, duration_seconds, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e        Event
			typ      string
			duration sql.NullInt32
		)
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.ActorUserID, &e.CallerID, &e.CalleeID, &e.Status, &e.Reason, &duration, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if duration.Valid {
			d := int(duration.Int32)
			e.DurationSeconds = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
