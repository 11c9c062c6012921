package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventSink receives ledger change events after a successful commit.
// Publishing is best effort: failures are logged, never surfaced.
type EventSink interface {
	Publish(ctx context.Context, key string, event any) error
}

type entryEvent struct {
	Type     string    `json:"type"`
	Owner    string    `json:"owner"`
	EntryID  string    `json:"entry_id"`
	Name     string    `json:"name,omitempty"`
	Date     string    `json:"date,omitempty"`
	Score    string    `json:"score"`
	NetScore string    `json:"net_score"`
	At       time.Time `json:"at"`
}

const maxTxAttempts = 8

// Service owns the ledger invariants. It is safe for concurrent use; the
// store's transaction boundary is the only mutual exclusion relied upon.
type Service struct {
	store     Store
	log       *slog.Logger
	events    EventSink
	retryBase time.Duration
}

func NewService(store Store, logger *slog.Logger, events EventSink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		log:       logger,
		events:    events,
		retryBase: 75 * time.Millisecond,
	}
}

// AddEntry appends one session entry and folds its score into the running
// net score, all inside one transaction. The net score is updated
// incrementally on add; Delete and Reconcile re-sum authoritatively, which
// heals any drift an incremental path could accumulate.
func (s *Service) AddEntry(ctx context.Context, in AddEntryInput) (AddEntryResult, error) {
	var out AddEntryResult
	owner := strings.TrimSpace(in.Owner)
	if owner == "" {
		return out, ErrUnauthenticated
	}
	if strings.TrimSpace(in.Date) == "" {
		return out, ErrMissingDate
	}

	err := s.withRetry(ctx, func(tx Tx) error {
		if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
			if err := tx.ClaimIdempotency(ctx, owner, key, "add_entry"); err != nil {
				return err
			}
		}

		net, _, err := tx.NetScore(ctx, owner)
		if err != nil {
			return err
		}
		counter, err := tx.Counter(ctx, owner)
		if err != nil {
			return err
		}

		// The counter only advances when it names an entry, so the next
		// auto-name is always "Session #<auto-named adds so far + 1>".
		name := strings.TrimSpace(in.Name)
		if name == "" {
			counter++
			name = fmt.Sprintf("%s%d", autoNamePrefix, counter)
			if err := tx.SetCounter(ctx, owner, counter); err != nil {
				return err
			}
		}
		entry := Entry{
			ID:    newEntryID(),
			Name:  name,
			Date:  in.Date,
			Score: in.Score,
		}

		newNet := net.Add(in.Score)
		if err := tx.SetNetScore(ctx, owner, newNet); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, owner, entry); err != nil {
			return err
		}

		out = AddEntryResult{NetScore: newNet, EntryID: entry.ID, Name: name}
		return nil
	})
	if err != nil {
		return AddEntryResult{}, err
	}

	s.publish(ctx, owner, entryEvent{
		Type:     "entry_added",
		Owner:    owner,
		EntryID:  out.EntryID,
		Name:     out.Name,
		Date:     in.Date,
		Score:    in.Score.String(),
		NetScore: out.NetScore.String(),
		At:       time.Now().UTC(),
	})
	return out, nil
}

// Entries returns the current net score and the insertion-ordered entries.
// A ledger that was never initialized yields Initialized == false with a
// zero score and empty list; that is a read result, not an error.
func (s *Service) Entries(ctx context.Context, owner string) (Snapshot, error) {
	if strings.TrimSpace(owner) == "" {
		return Snapshot{}, ErrUnauthenticated
	}
	snap, err := s.store.Snapshot(ctx, owner)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.Entries == nil {
		snap.Entries = []Entry{}
	}
	return snap, nil
}

// DeleteEntry removes one entry and recomputes the net score from the
// remaining entries. The re-sum is authoritative by design: it self-heals
// any drift between the stored total and the true sum. Retrying a delete is
// safe; a second call reports ErrEntryNotFound without further effect.
func (s *Service) DeleteEntry(ctx context.Context, owner, entryID string) (decimal.Decimal, error) {
	if strings.TrimSpace(owner) == "" {
		return decimal.Zero, ErrUnauthenticated
	}
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return decimal.Zero, ErrMissingEntryID
	}

	var (
		newNet  decimal.Decimal
		removed Entry
	)
	err := s.withRetry(ctx, func(tx Tx) error {
		entry, err := tx.Entry(ctx, owner, entryID)
		if err != nil {
			return err
		}
		removed = entry

		entries, err := tx.Entries(ctx, owner)
		if err != nil {
			return err
		}
		newNet = decimal.Zero
		for _, e := range entries {
			if e.ID == entryID {
				continue
			}
			newNet = newNet.Add(e.Score)
		}

		if err := tx.DeleteEntry(ctx, owner, entryID); err != nil {
			return err
		}
		return tx.SetNetScore(ctx, owner, newNet)
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.publish(ctx, owner, entryEvent{
		Type:     "entry_deleted",
		Owner:    owner,
		EntryID:  removed.ID,
		Score:    removed.Score.String(),
		NetScore: newNet.String(),
		At:       time.Now().UTC(),
	})
	return newNet, nil
}

// Reconcile recomputes the sum of one user's entries and compares it to the
// stored net score, healing the stored value when they diverge.
func (s *Service) Reconcile(ctx context.Context, owner string) (ReconcileReport, error) {
	report := ReconcileReport{Owner: owner}
	err := s.withRetry(ctx, func(tx Tx) error {
		stored, ok, err := tx.NetScore(ctx, owner)
		if err != nil {
			return err
		}
		report.Initialized = ok
		if !ok {
			return nil
		}
		entries, err := tx.Entries(ctx, owner)
		if err != nil {
			return err
		}
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.Score)
		}
		report.Stored = stored
		report.Computed = sum
		if stored.Equal(sum) {
			return nil
		}
		report.Healed = true
		return tx.SetNetScore(ctx, owner, sum)
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	if report.Healed {
		s.log.Warn("net score drift healed",
			"owner", owner,
			"stored", report.Stored.String(),
			"computed", report.Computed.String())
	}
	return report, nil
}

// ReconcileAll sweeps every initialized ledger. Per-owner failures are
// logged and skipped so one bad ledger cannot stall the sweep.
func (s *Service) ReconcileAll(ctx context.Context) (healed int, err error) {
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return 0, err
	}
	for _, owner := range owners {
		report, err := s.Reconcile(ctx, owner)
		if err != nil {
			s.log.Error("reconcile failed", "owner", owner, "err", err)
			continue
		}
		if report.Healed {
			healed++
		}
	}
	return healed, nil
}

// withRetry runs fn in a store transaction, retrying conflicts with
// exponential backoff until the attempt budget runs out.
func (s *Service) withRetry(ctx context.Context, fn func(tx Tx) error) error {
	delay := s.retryBase
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.store.RunTx(ctx, fn)
		if err == nil || err != ErrTxConflict {
			return err
		}
		if attempt == maxTxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < 1200*time.Millisecond {
			delay *= 2
		}
	}
	return ErrTxConflict
}

func (s *Service) publish(ctx context.Context, owner string, event entryEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, owner, event); err != nil {
		s.log.Error("publish ledger event failed", "owner", owner, "type", event.Type, "err", err)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
