package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"webook-bot/internal/ledger"
)

var ErrNoConversation = errors.New("no active conversation")

// Outcome reports where an answer moved the conversation. Record is set
// only when the booking was stored.
type Outcome struct {
	State  State
	Record ledger.Record
}

type session struct {
	mu   sync.Mutex
	ctx  Context
	dead bool
}

// Manager runs the booking dialogue for every user. Messages of one user
// are processed one at a time; different users never wait on each other
// beyond the map lookup.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session
	ledger   ledger.Ledger
	ttl      time.Duration
	now      func() time.Time
}

func NewManager(l ledger.Ledger, ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[int64]*session),
		ledger:   l,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// lock returns the user's session locked by the caller.
func (m *Manager) lock(userID int64) *session {
	for {
		m.mu.Lock()
		s, ok := m.sessions[userID]
		if !ok {
			s = &session{}
			m.sessions[userID] = s
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			m.expire(s)
			return s
		}
		// Swept between lookup and lock; fetch a fresh one.
		s.mu.Unlock()
	}
}

func (m *Manager) expire(s *session) {
	if s.ctx.State == StateIdle || m.ttl <= 0 {
		return
	}
	if m.now().Sub(s.ctx.UpdatedAt) > m.ttl {
		s.ctx = Context{}
	}
}

// Begin opens a booking for sel, replacing whatever the user had open.
func (m *Manager) Begin(userID int64, sel Selection) Context {
	s := m.lock(userID)
	defer s.mu.Unlock()
	s.ctx = Context{
		State:     StateAwaitingTickets,
		Selection: sel,
		UpdatedAt: m.now(),
	}
	return s.ctx
}

// Answer feeds the user's next message into the open booking. With no open
// booking it returns ErrNoConversation. The final answer is stored in the
// ledger before the context is cleared; if storing fails the user stays at
// the date step.
func (m *Manager) Answer(ctx context.Context, userID int64, userName, text string) (Outcome, error) {
	s := m.lock(userID)
	defer s.mu.Unlock()

	switch s.ctx.State {
	case StateAwaitingTickets:
		s.ctx.Tickets = text
		s.ctx.State = StateAwaitingDate
		s.ctx.UpdatedAt = m.now()
		return Outcome{State: StateAwaitingDate}, nil
	case StateAwaitingDate:
		rec := ledger.Record{
			UserName:   userName,
			EventTitle: s.ctx.Selection.Title,
			EventURL:   s.ctx.Selection.URL,
			Tickets:    s.ctx.Tickets,
			Date:       text,
			CreatedAt:  m.now(),
		}
		if err := m.ledger.Append(ctx, rec); err != nil {
			s.ctx.UpdatedAt = m.now()
			return Outcome{State: StateAwaitingDate}, fmt.Errorf("append booking: %w", err)
		}
		s.ctx = Context{}
		return Outcome{State: StateComplete, Record: rec}, nil
	default:
		return Outcome{State: StateIdle}, ErrNoConversation
	}
}

// Cancel drops the user's open booking. It reports whether one was open.
func (m *Manager) Cancel(userID int64) bool {
	s := m.lock(userID)
	defer s.mu.Unlock()
	open := s.ctx.State != StateIdle
	s.ctx = Context{}
	return open
}

func (m *Manager) State(userID int64) State {
	return m.Snapshot(userID).State
}

// Snapshot returns a copy of the user's context.
func (m *Manager) Snapshot(userID int64) Context {
	s := m.lock(userID)
	defer s.mu.Unlock()
	return s.ctx
}

// Sweep forgets idle and expired sessions and returns how many went away.
// Sessions busy with a message are left for the next sweep.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		m.expire(s)
		if s.ctx.State == StateIdle {
			s.dead = true
			delete(m.sessions, id)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
