package app

import (
	"sync"
	"time"

	"duel-quiz-service/internal/domain"
)

// presenceIdleTimeout matches the queue and game heartbeat windows.
const presenceIdleTimeout = 120 * time.Second

// Presence tracks who is online for the direct-challenge flow. It is keyed
// by user id so identity survives a reconnect with a new socket, and it is
// never consulted for session membership.
type Presence struct {
	now func() time.Time

	mu    sync.RWMutex
	users map[string]*domain.OnlineUser
}

func NewPresence() *Presence {
	return &Presence{
		now:   time.Now,
		users: make(map[string]*domain.OnlineUser),
	}
}

// NewPresenceWithClock is test-only for deterministic timestamps.
func NewPresenceWithClock(now func() time.Time) *Presence {
	p := NewPresence()
	p.now = now
	return p
}

// Heartbeat upserts by user id when identity is supplied, otherwise it only
// refreshes an existing entry found by socket.
func (p *Presence) Heartbeat(socketID string, user *domain.UserRef) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if user != nil {
		p.users[user.ID] = &domain.OnlineUser{
			ID:       user.ID,
			Name:     user.Name,
			Grade:    user.Grade,
			SocketID: socketID,
			LastSeen: now,
		}
		return
	}
	for _, u := range p.users {
		if u.SocketID == socketID {
			u.LastSeen = now
			return
		}
	}
}

// ListOnline returns the roster for a grade, excluding the caller.
func (p *Presence) ListOnline(grade int, excludeUserID string) []domain.RosterEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	roster := make([]domain.RosterEntry, 0)
	for _, u := range p.users {
		if u.Grade == grade && u.ID != excludeUserID {
			roster = append(roster, domain.RosterEntry{ID: u.ID, Name: u.Name, Grade: u.Grade})
		}
	}
	return roster
}

// ByUser looks up an online user by id.
func (p *Presence) ByUser(userID string) (domain.OnlineUser, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[userID]
	if !ok {
		return domain.OnlineUser{}, false
	}
	return *u, true
}

// BySocket looks up an online user by their current socket.
func (p *Presence) BySocket(socketID string) (domain.OnlineUser, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if u.SocketID == socketID {
			return *u, true
		}
	}
	return domain.OnlineUser{}, false
}

// Sweep evicts entries idle beyond the heartbeat window.
func (p *Presence) Sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, u := range p.users {
		if now.Sub(u.LastSeen) > presenceIdleTimeout {
			delete(p.users, id)
		}
	}
}
