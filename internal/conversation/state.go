package conversation

import "time"

type State int

const (
	StateIdle State = iota
	StateAwaitingTickets
	StateAwaitingDate
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTickets:
		return "awaiting_tickets"
	case StateAwaitingDate:
		return "awaiting_date"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Selection is the search result a user chose to book.
type Selection struct {
	Title string
	URL   string
}

// Context is the transient booking state of one user.
// Tickets and Date hold the raw answers.
type Context struct {
	State     State
	Selection Selection
	Tickets   string
	Date      string
	UpdatedAt time.Time
}
