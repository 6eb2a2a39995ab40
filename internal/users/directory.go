// Package users resolves caller display data for call invitations.
package users

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"chattrix-calls/internal/calls"
)

var ErrNotFound = errors.New("users: user not found")

// MemoryDirectory is an in-memory profile store for tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]calls.Profile
}

func NewMemoryDirectory(profiles ...calls.Profile) *MemoryDirectory {
	d := &MemoryDirectory{profiles: map[string]calls.Profile{}}
	for _, p := range profiles {
		d.profiles[p.UserID] = p
	}
	return d
}

func (d *MemoryDirectory) Put(p calls.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.UserID] = p
}

func (d *MemoryDirectory) Profile(ctx context.Context, userID string) (calls.Profile, error) {
	if err := ctx.Err(); err != nil {
		return calls.Profile{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return calls.Profile{}, ErrNotFound
	}
	return p, nil
}

// PostgresDirectory reads profiles from the users table owned by the account service.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Profile(ctx context.Context, userID string) (calls.Profile, error) {
	const q = `
SELECT id, full_name, COALESCE(avatar_url, '')
FROM users
WHERE id = $1
`
	var p calls.Profile
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(&p.UserID, &p.DisplayName, &p.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Profile{}, ErrNotFound
		}
		return calls.Profile{}, err
	}
	return p, nil
}
