// Package ledger implements the bankroll ledger: a per-user running net
// score over dated poker-session entries. The stored net score must always
// equal the sum of the entry scores, so every mutation runs inside one
// isolated store transaction.
package ledger

import (
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const autoNamePrefix = "Session #"

var (
	ErrUnauthenticated      = errors.New("caller is not authenticated")
	ErrMissingDate          = errors.New("date is required")
	ErrMissingEntryID       = errors.New("entry id is required")
	ErrEntryNotFound        = errors.New("bankroll entry not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")

	// ErrTxConflict is returned when a transaction could not commit after
	// the retry budget is exhausted. Callers should treat it as internal.
	ErrTxConflict = errors.New("transaction conflict, retries exhausted")
)

// Entry is one dated, scored line item. Entries are never mutated in place:
// they are created by AddEntry and destroyed by DeleteEntry.
type Entry struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Date  string          `json:"date"`
	Score decimal.Decimal `json:"score"`
}

// Snapshot is a self-consistent read of one user's ledger. Initialized is
// false when the user has never added an entry; that is a valid zero state,
// not an error.
type Snapshot struct {
	Initialized bool
	NetScore    decimal.Decimal
	Entries     []Entry
}

type AddEntryInput struct {
	Owner          string
	Name           string
	Date           string
	Score          decimal.Decimal
	IdempotencyKey string
}

type AddEntryResult struct {
	NetScore decimal.Decimal
	EntryID  string
	Name     string
}

// ReconcileReport describes one consistency check of a stored net score
// against the authoritative sum of the entries.
type ReconcileReport struct {
	Owner       string
	Initialized bool
	Stored      decimal.Decimal
	Computed    decimal.Decimal
	Healed      bool
}

// newEntryID returns a fresh ULID. IDs are unique per ledger and sort
// lexicographically in creation order, so listing by id preserves
// insertion order.
func newEntryID() string {
	return ulid.Make().String()
}
