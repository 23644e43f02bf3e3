package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is a single confirmed booking. Apart from CreatedAt every field is
// stored exactly as the user typed it.
type Record struct {
	UserName   string
	EventTitle string
	EventURL   string
	Tickets    string
	Date       string
	CreatedAt  time.Time
}

// Ledger is an append-only log of bookings.
// Scan must return records in append order.
// Implementations must be safe for concurrent use.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	Scan(ctx context.Context, filter string) (ScanResult, error)
}

type ScanResult struct {
	Records []Record
	// Malformed lists stored records that could not be decoded.
	Malformed []*DecodeError
	// Missing is set when the backing store does not exist yet.
	Missing bool
}

// DecodeError describes a stored record that could not be decoded.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ledger: line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var ErrFieldCount = errors.New("wrong number of fields")
