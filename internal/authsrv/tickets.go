package authsrv

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rs/xid"
)

// TicketStore holds issued session tickets in memory. A ticket maps to
// the user it was issued for and dies after the TTL or on logout.
type TicketStore struct {
	mu      sync.RWMutex
	entries map[string]ticketEntry
	ttl     time.Duration
}

type ticketEntry struct {
	userID    int64
	expiresAt time.Time
}

func NewTicketStore(ttl time.Duration) *TicketStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TicketStore{
		entries: make(map[string]ticketEntry),
		ttl:     ttl,
	}
}

// Issue creates a fresh ticket bound to userID.
func (s *TicketStore) Issue(userID int64) string {
	ticket := xid.New().String()
	s.mu.Lock()
	s.entries[ticket] = ticketEntry{userID: userID, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return ticket
}

// Lookup resolves a ticket to its user. It does not consume the ticket;
// a game server may verify the same ticket again after a reconnect.
func (s *TicketStore) Lookup(ticket string) (int64, bool) {
	s.mu.RLock()
	e, ok := s.entries[ticket]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return 0, false
	}
	return e.userID, true
}

// Revoke deletes the ticket, reporting whether it existed.
func (s *TicketStore) Revoke(ticket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[ticket]; !ok {
		return false
	}
	delete(s.entries, ticket)
	return true
}

func (s *TicketStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Janitor evicts expired tickets until ctx is cancelled. Lookup already
// refuses expired entries; the janitor only reclaims the memory.
func (s *TicketStore) Janitor(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(time.Now()); n > 0 {
				log.Debug("expired tickets evicted", zap.Int("count", n))
			}
		}
	}
}

func (s *TicketStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ticket, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, ticket)
			n++
		}
	}
	return n
}
