package authsrv

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gommo/server/internal/persist"
)

// UserStore and PlayerStore are the persistence surface the handlers
// need. The persist repositories implement them over Postgres; the
// in-memory versions below back tests and DSN-less deployments.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*persist.UserRow, error)
	Create(ctx context.Context, username, rawPassword string) (*persist.UserRow, error)
	ValidatePassword(hash string, rawPassword string) bool
	TouchLastLogin(ctx context.Context, id int64) error
}

type PlayerStore interface {
	GetByUserID(ctx context.Context, userID int64) (*persist.PlayerRow, error)
	Create(ctx context.Context, userID int64, name string) (*persist.PlayerRow, error)
}

var (
	_ UserStore   = (*persist.UserRepo)(nil)
	_ PlayerStore = (*persist.PlayerRepo)(nil)
)

var errExists = errors.New("already exists")

// MemUserStore keeps users in a map. Same contract as the Postgres repo,
// including bcrypt hashing on create.
type MemUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*persist.UserRow
}

func NewMemUserStore() *MemUserStore {
	return &MemUserStore{users: make(map[string]*persist.UserRow)}
}

func (s *MemUserStore) GetByUsername(_ context.Context, username string) (*persist.UserRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemUserStore) Create(_ context.Context, username, rawPassword string) (*persist.UserRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return nil, errExists
	}
	s.nextID++
	u := &persist.UserRow{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	s.users[username] = u
	cp := *u
	return &cp, nil
}

func (s *MemUserStore) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

func (s *MemUserStore) TouchLastLogin(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			now := time.Now()
			u.LastLogin = &now
			return nil
		}
	}
	return nil
}

// MemPlayerStore keeps players in a map keyed by owning user.
type MemPlayerStore struct {
	mu      sync.Mutex
	nextID  int64
	players map[int64]*persist.PlayerRow
}

func NewMemPlayerStore() *MemPlayerStore {
	return &MemPlayerStore{players: make(map[int64]*persist.PlayerRow)}
}

func (s *MemPlayerStore) GetByUserID(_ context.Context, userID int64) (*persist.PlayerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemPlayerStore) Create(_ context.Context, userID int64, name string) (*persist.PlayerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[userID]; ok {
		return nil, errExists
	}
	s.nextID++
	now := time.Now()
	p := &persist.PlayerRow{
		ID:        s.nextID,
		UserID:    userID,
		Name:      name,
		HP:        100,
		MaxHP:     100,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.players[userID] = p
	cp := *p
	return &cp, nil
}
