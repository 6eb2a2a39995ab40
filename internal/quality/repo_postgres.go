package quality

import (
	"context"
	"database/sql"
)

const Schema = `
CREATE TABLE IF NOT EXISTS call_quality_metrics (
	id                 TEXT PRIMARY KEY,
	call_id            TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	network_quality    TEXT NOT NULL,
	packet_loss_rate   DOUBLE PRECISION NULL,
	round_trip_time_ms INTEGER NULL,
	recorded_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quality_call_recorded ON call_quality_metrics (call_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_quality_call_user ON call_quality_metrics (call_id, user_id);
CREATE INDEX IF NOT EXISTS idx_quality_user ON call_quality_metrics (user_id);
`

// PostgresRepo is INSERT-only, like the call event log.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *PostgresRepo) Append(ctx context.Context, m Metric) error {
	const q = `
INSERT INTO call_quality_metrics (id, call_id, user_id, network_quality, packet_loss_rate, round_trip_time_ms, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	var (
		loss sql.NullFloat64
		rtt  sql.NullInt32
	)
	if m.PacketLossRate != nil {
		loss = sql.NullFloat64{Float64: *m.PacketLossRate, Valid: true}
	}
	if m.RoundTripTimeMs != nil {
		rtt = sql.NullInt32{Int32: int32(*m.RoundTripTimeMs), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q, m.ID, m.CallID, m.UserID, string(m.NetworkQuality), loss, rtt, m.RecordedAt)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Metric, error) {
	const q = `
SELECT id, call_id, user_id, network_quality, packet_loss_rate, round_trip_time_ms, recorded_at
FROM call_quality_metrics
WHERE call_id = $1
ORDER BY recorded_at
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Metric, 0)
	for rows.Next() {
		var (
			m     Metric
			level string
			loss  sql.NullFloat64
			rtt   sql.NullInt32
		)
		if err := rows.Scan(&m.ID, &m.CallID, &m.UserID, &level, &loss, &rtt, &m.RecordedAt); err != nil {
			return nil, err
		}
		m.NetworkQuality = Level(level)
		if loss.Valid {
			v := loss.Float64
			m.PacketLossRate = &v
		}
		if rtt.Valid {
			v := int(rtt.Int32)
			m.RoundTripTimeMs = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
