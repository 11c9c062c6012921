package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemoryFirstCommitterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	firstRead := make(chan struct{})
	otherDone := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- store.RunTx(ctx, func(tx Tx) error {
			if _, _, err := tx.NetScore(ctx, "u1"); err != nil {
				return err
			}
			close(firstRead)
			<-otherDone
			return tx.SetNetScore(ctx, "u1", decimal.NewFromInt(1))
		})
	}()

	<-firstRead
	err := store.RunTx(ctx, func(tx Tx) error {
		return tx.SetNetScore(ctx, "u1", decimal.NewFromInt(2))
	})
	if err != nil {
		t.Fatalf("second tx should commit cleanly: %v", err)
	}
	close(otherDone)

	if err := <-errCh; err != ErrTxConflict {
		t.Fatalf("overlapping tx should fail with ErrTxConflict, got %v", err)
	}

	snap, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.NetScore.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("committed value lost: got %s", snap.NetScore)
	}
}

func TestMemoryReadYourWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.RunTx(ctx, func(tx Tx) error {
		if err := tx.InsertEntry(ctx, "u1", Entry{ID: "e1", Name: "n", Date: "d", Score: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		e, err := tx.Entry(ctx, "u1", "e1")
		if err != nil {
			t.Fatalf("entry written in this tx should be readable: %v", err)
		}
		if !e.Score.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("got score %s", e.Score)
		}
		if err := tx.DeleteEntry(ctx, "u1", "e1"); err != nil {
			return err
		}
		if _, err := tx.Entry(ctx, "u1", "e1"); err != ErrEntryNotFound {
			t.Fatalf("deleted entry still readable, err=%v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}
}

func TestMemoryRollbackOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	fail := ErrEntryNotFound
	err := store.RunTx(ctx, func(tx Tx) error {
		if err := tx.SetNetScore(ctx, "u1", decimal.NewFromInt(42)); err != nil {
			return err
		}
		return fail
	})
	if err != fail {
		t.Fatalf("expected fn error back, got %v", err)
	}

	snap, err := store.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Initialized {
		t.Fatalf("failed tx must not leave writes behind")
	}
}

func TestMemoryIdempotencyClaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	claim := func() error {
		return store.RunTx(ctx, func(tx Tx) error {
			return tx.ClaimIdempotency(ctx, "u1", "k1", "add_entry")
		})
	}
	if err := claim(); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := claim(); err != ErrDuplicateIdempotency {
		t.Fatalf("second claim should be rejected, got %v", err)
	}
}

func TestMemoryOwners(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, owner := range []string{"b", "a"} {
		err := store.RunTx(ctx, func(tx Tx) error {
			return tx.SetNetScore(ctx, owner, decimal.Zero)
		})
		if err != nil {
			t.Fatalf("seed %s: %v", owner, err)
		}
	}
	owners, err := store.Owners(ctx)
	if err != nil {
		t.Fatalf("owners: %v", err)
	}
	if len(owners) != 2 || owners[0] != "a" || owners[1] != "b" {
		t.Fatalf("got owners %v", owners)
	}
}
