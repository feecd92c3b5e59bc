package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// UserRow mirrors one row of the users table.
type UserRow struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetByUsername returns nil without error when the user does not exist.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*UserRow, error) {
	row := &UserRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at, last_login
		 FROM users WHERE username = $1`, username,
	).Scan(&row.ID, &row.Username, &row.PasswordHash, &row.CreatedAt, &row.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Create hashes the password and inserts the user. The unique constraint
// on username surfaces as an error; callers pre-check for a friendlier
// conflict response.
func (r *UserRepo) Create(ctx context.Context, username, rawPassword string) (*UserRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	row := &UserRow{Username: username, PasswordHash: string(hash)}
	err = r.db.Pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)
		 RETURNING id, created_at`,
		row.Username, row.PasswordHash,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *UserRepo) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_login = NOW() WHERE id = $1`, id,
	)
	return err
}
