package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore runs ledger transactions at Serializable isolation and maps
// SQLSTATE 40001 aborts to ErrTxConflict so the service's retry loop can
// handle them.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		if isSerializationError(err) {
			return ErrTxConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationError(err) {
			return ErrTxConflict
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Snapshot reads the net score and entries in one RepeatableRead transaction
// so the pair reflects a single committed state.
func (s *PostgresStore) Snapshot(ctx context.Context, owner string) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var netText string
	err = tx.QueryRow(ctx, `
		SELECT net_score::text
		FROM bankroll.ledgers
		WHERE user_id = $1
	`, owner).Scan(&netText)
	if err == pgx.ErrNoRows {
		return Snapshot{NetScore: decimal.Zero, Entries: []Entry{}}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	net, err := decimal.NewFromString(netText)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse net score: %w", err)
	}

	entries, err := scanEntries(tx.Query(ctx, `
		SELECT id, name, session_date, score::text
		FROM bankroll.entries
		WHERE user_id = $1
		ORDER BY id
	`, owner))
	if err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Initialized: true, NetScore: net, Entries: entries}, nil
}

func (s *PostgresStore) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM bankroll.ledgers ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) NetScore(ctx context.Context, owner string) (decimal.Decimal, bool, error) {
	var netText string
	err := t.tx.QueryRow(ctx, `
		SELECT net_score::text
		FROM bankroll.ledgers
		WHERE user_id = $1
	`, owner).Scan(&netText)
	if err == pgx.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	net, err := decimal.NewFromString(netText)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse net score: %w", err)
	}
	return net, true, nil
}

func (t *pgTx) SetNetScore(ctx context.Context, owner string, score decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bankroll.ledgers (user_id, net_score, updated_at)
		VALUES ($1, $2::numeric, now())
		ON CONFLICT (user_id) DO UPDATE
		SET net_score = EXCLUDED.net_score, updated_at = now()
	`, owner, score.String())
	return err
}

func (t *pgTx) Counter(ctx context.Context, owner string) (int64, error) {
	var counter int64
	err := t.tx.QueryRow(ctx, `
		SELECT session_counter
		FROM bankroll.counters
		WHERE user_id = $1
	`, owner).Scan(&counter)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return counter, err
}

func (t *pgTx) SetCounter(ctx context.Context, owner string, counter int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bankroll.counters (user_id, session_counter)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET session_counter = EXCLUDED.session_counter
	`, owner, counter)
	return err
}

func (t *pgTx) InsertEntry(ctx context.Context, owner string, e Entry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bankroll.entries (id, user_id, name, session_date, score, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, now())
	`, e.ID, owner, e.Name, e.Date, e.Score.String())
	return err
}

func (t *pgTx) Entry(ctx context.Context, owner, id string) (Entry, error) {
	var (
		e         Entry
		scoreText string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, session_date, score::text
		FROM bankroll.entries
		WHERE user_id = $1 AND id = $2
	`, owner, id).Scan(&e.ID, &e.Name, &e.Date, &scoreText)
	if err == pgx.ErrNoRows {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	e.Score, err = decimal.NewFromString(scoreText)
	if err != nil {
		return Entry{}, fmt.Errorf("parse entry score: %w", err)
	}
	return e, nil
}

func (t *pgTx) Entries(ctx context.Context, owner string) ([]Entry, error) {
	return scanEntries(t.tx.Query(ctx, `
		SELECT id, name, session_date, score::text
		FROM bankroll.entries
		WHERE user_id = $1
		ORDER BY id
	`, owner))
}

func (t *pgTx) DeleteEntry(ctx context.Context, owner, id string) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM bankroll.entries
		WHERE user_id = $1 AND id = $2
	`, owner, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (t *pgTx) ClaimIdempotency(ctx context.Context, owner, key, action string) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO bankroll.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, owner, key, action)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func scanEntries(rows pgx.Rows, err error) ([]Entry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			scoreText string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Date, &scoreText); err != nil {
			return nil, err
		}
		e.Score, err = decimal.NewFromString(scoreText)
		if err != nil {
			return nil, fmt.Errorf("parse entry score: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
