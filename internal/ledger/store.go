package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the transactional document store the ledger runs on. RunTx
// executes fn inside one isolated transaction: reads observe a consistent
// snapshot, writes become visible atomically on commit, and the transaction
// fails with ErrTxConflict when a concurrent commit invalidates anything fn
// read. The service retries conflicts; implementations must not.
type Store interface {
	RunTx(ctx context.Context, fn func(tx Tx) error) error

	// Snapshot reads one user's ledger outside a mutating transaction.
	// The result must still be self-consistent (net score and entries
	// from the same committed state).
	Snapshot(ctx context.Context, owner string) (Snapshot, error)

	// Owners lists every user with an initialized ledger, for the
	// reconciliation sweep.
	Owners(ctx context.Context) ([]string, error)
}

// Tx is the per-transaction surface. All methods observe earlier writes
// made through the same Tx.
type Tx interface {
	// NetScore returns the stored running total. ok is false when the
	// ledger has never been initialized; callers treat that as zero.
	NetScore(ctx context.Context, owner string) (score decimal.Decimal, ok bool, err error)
	SetNetScore(ctx context.Context, owner string, score decimal.Decimal) error

	// Counter returns the session-naming counter, zero if absent.
	Counter(ctx context.Context, owner string) (int64, error)
	SetCounter(ctx context.Context, owner string, counter int64) error

	InsertEntry(ctx context.Context, owner string, e Entry) error
	Entry(ctx context.Context, owner, id string) (Entry, error)
	Entries(ctx context.Context, owner string) ([]Entry, error)
	DeleteEntry(ctx context.Context, owner, id string) error

	// ClaimIdempotency records key for owner, failing with
	// ErrDuplicateIdempotency if it was already claimed.
	ClaimIdempotency(ctx context.Context, owner, key, action string) error
}
