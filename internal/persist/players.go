package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// PlayerRow mirrors one row of the players table. Every user owns exactly
// one player; the unique index on user_id enforces it.
type PlayerRow struct {
	ID        int64
	UserID    int64
	Name      string
	X         float32
	Y         float32
	HP        int32
	MaxHP     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PlayerRepo struct {
	db *DB
}

func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

const playerColumns = `id, user_id, name, x, y, hp, max_hp, created_at, updated_at`

func scanPlayer(row pgx.Row) (*PlayerRow, error) {
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.X, &p.Y, &p.HP, &p.MaxHP,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByUserID returns nil without error when the user has no player yet.
func (r *PlayerRepo) GetByUserID(ctx context.Context, userID int64) (*PlayerRow, error) {
	return scanPlayer(r.db.Pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE user_id = $1`, userID))
}

// Create inserts a fresh player at the origin with full health; the
// column defaults carry the initial stats.
func (r *PlayerRepo) Create(ctx context.Context, userID int64, name string) (*PlayerRow, error) {
	return scanPlayer(r.db.Pool.QueryRow(ctx,
		`INSERT INTO players (user_id, name) VALUES ($1, $2)
		 RETURNING `+playerColumns, userID, name))
}
