package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []entryEvent
}

func (r *recordingSink) Publish(_ context.Context, _ string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(entryEvent))
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *recordingSink) {
	t.Helper()
	store := NewMemoryStore()
	sink := &recordingSink{}
	svc := NewService(store, nil, sink)
	svc.retryBase = time.Millisecond
	return svc, store, sink
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAddListDeleteFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.AddEntry(ctx, AddEntryInput{
		Owner: "u1",
		Name:  "Friday homegame",
		Date:  "2026-08-21",
		Score: dec("125.50"),
	})
	require.NoError(t, err)
	assert.True(t, first.NetScore.Equal(dec("125.50")))
	assert.Equal(t, "Friday homegame", first.Name)
	assert.NotEmpty(t, first.EntryID)

	second, err := svc.AddEntry(ctx, AddEntryInput{
		Owner: "u1",
		Date:  "2026-08-22",
		Score: dec("-40"),
	})
	require.NoError(t, err)
	assert.True(t, second.NetScore.Equal(dec("85.50")))
	assert.Equal(t, "Session #1", second.Name)

	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.Initialized)
	assert.True(t, snap.NetScore.Equal(dec("85.50")))
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, first.EntryID, snap.Entries[0].ID)
	assert.Equal(t, second.EntryID, snap.Entries[1].ID)

	net, err := svc.DeleteEntry(ctx, "u1", first.EntryID)
	require.NoError(t, err)
	assert.True(t, net.Equal(dec("-40")))

	snap, err = svc.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, second.EntryID, snap.Entries[0].ID)
}

func TestNetScoreMatchesEntrySum(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	scores := []string{"10", "-3.25", "0", "99.99", "-42", "7.5", "-0.01"}
	var ids []string
	for i, s := range scores {
		out, err := svc.AddEntry(ctx, AddEntryInput{
			Owner: "u1",
			Date:  fmt.Sprintf("2026-08-%02d", i+1),
			Score: dec(s),
		})
		require.NoError(t, err)
		ids = append(ids, out.EntryID)
	}
	_, err := svc.DeleteEntry(ctx, "u1", ids[2])
	require.NoError(t, err)
	_, err = svc.DeleteEntry(ctx, "u1", ids[4])
	require.NoError(t, err)

	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	sum := decimal.Zero
	for _, e := range snap.Entries {
		sum = sum.Add(e.Score)
	}
	assert.True(t, snap.NetScore.Equal(sum), "net %s != sum %s", snap.NetScore, sum)
}

func TestEntryIDsNeverReused(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		out, err := svc.AddEntry(ctx, AddEntryInput{
			Owner: "u1",
			Date:  "2026-08-28",
			Score: dec("1"),
		})
		require.NoError(t, err)
		require.False(t, seen[out.EntryID], "id %s reused", out.EntryID)
		seen[out.EntryID] = true
		if i%3 == 0 {
			_, err = svc.DeleteEntry(ctx, "u1", out.EntryID)
			require.NoError(t, err)
		}
	}
}

func TestAddEntryValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddEntry(ctx, AddEntryInput{Date: "2026-08-28", Score: dec("1")})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Score: dec("1")})
	assert.ErrorIs(t, err, ErrMissingDate)

	_, err = svc.Entries(ctx, "  ")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.DeleteEntry(ctx, "", "some-id")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestDeleteUnknownEntryFailsClosed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	out, err := svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "2026-08-28", Score: dec("50")})
	require.NoError(t, err)

	_, err = svc.DeleteEntry(ctx, "u1", "")
	assert.ErrorIs(t, err, ErrMissingEntryID)

	_, err = svc.DeleteEntry(ctx, "u1", "01JDOESNOTEXIST0000000000")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.NetScore.Equal(dec("50")))
	assert.Len(t, snap.Entries, 1)

	// Deleting twice must not double-subtract.
	_, err = svc.DeleteEntry(ctx, "u1", out.EntryID)
	require.NoError(t, err)
	_, err = svc.DeleteEntry(ctx, "u1", out.EntryID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestAutoNaming(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	out, err := svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "Session #1", out.Name)

	// Named adds leave the auto-name sequence untouched.
	_, err = svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Name: "WSOP satellite", Date: "d", Score: dec("1")})
	require.NoError(t, err)

	out, err = svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "Session #2", out.Name)

	// Deletes never roll the counter back.
	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	for _, e := range snap.Entries {
		_, err = svc.DeleteEntry(ctx, "u1", e.ID)
		require.NoError(t, err)
	}
	out, err = svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, "Session #3", out.Name)
}

func TestListNotInitialized(t *testing.T) {
	svc, _, _ := newTestService(t)

	snap, err := svc.Entries(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, snap.Initialized)
	assert.True(t, snap.NetScore.IsZero())
	assert.Empty(t, snap.Entries)
}

func TestIdempotencyKeyDeduplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in := AddEntryInput{Owner: "u1", Date: "2026-08-28", Score: dec("100"), IdempotencyKey: "replay-1"}
	_, err := svc.AddEntry(ctx, in)
	require.NoError(t, err)

	_, err = svc.AddEntry(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicateIdempotency)

	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.NetScore.Equal(dec("100")))
	assert.Len(t, snap.Entries, 1)
}

func TestConcurrentAddsLoseNothing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const workers = 6
	const addsEach = 2

	var wg sync.WaitGroup
	errs := make(chan error, workers*addsEach)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < addsEach; i++ {
				_, err := svc.AddEntry(ctx, AddEntryInput{
					Owner: "u1",
					Date:  "2026-08-28",
					Score: dec("10"),
				})
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, snap.Entries, workers*addsEach)
	assert.True(t, snap.NetScore.Equal(dec("10").Mul(decimal.NewFromInt(workers*addsEach))),
		"net %s", snap.NetScore)

	// The counter serialized too: every auto-name is distinct and the next
	// add continues where the concurrent batch left off.
	names := make(map[string]bool)
	for _, e := range snap.Entries {
		require.False(t, names[e.Name], "auto-name %s reused", e.Name)
		names[e.Name] = true
	}
	out, err := svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("0")})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Session #%d", workers*addsEach+1), out.Name)
}

type conflictStore struct{}

func (conflictStore) RunTx(context.Context, func(Tx) error) error { return ErrTxConflict }
func (conflictStore) Snapshot(context.Context, string) (Snapshot, error) {
	return Snapshot{}, nil
}
func (conflictStore) Owners(context.Context) ([]string, error) { return nil, nil }

func TestRetryBudgetExhausted(t *testing.T) {
	svc := NewService(conflictStore{}, nil, nil)
	svc.retryBase = time.Millisecond

	_, err := svc.AddEntry(context.Background(), AddEntryInput{Owner: "u1", Date: "d", Score: dec("1")})
	assert.ErrorIs(t, err, ErrTxConflict)
}

func TestDeleteHealsDriftedNetScore(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("30")})
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("70")})
	require.NoError(t, err)

	// Corrupt the stored total behind the service's back.
	err = store.RunTx(ctx, func(tx Tx) error {
		return tx.SetNetScore(ctx, "u1", dec("9999"))
	})
	require.NoError(t, err)

	net, err := svc.DeleteEntry(ctx, "u1", a.EntryID)
	require.NoError(t, err)
	assert.True(t, net.Equal(dec("70")), "delete should re-sum, got %s", net)
}

func TestReconcile(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.Reconcile(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, report.Initialized)

	_, err = svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("25")})
	require.NoError(t, err)

	report, err = svc.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Initialized)
	assert.False(t, report.Healed)

	err = store.RunTx(ctx, func(tx Tx) error {
		return tx.SetNetScore(ctx, "u1", dec("-1"))
	})
	require.NoError(t, err)

	report, err = svc.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Healed)
	assert.True(t, report.Computed.Equal(dec("25")))

	snap, err := svc.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.NetScore.Equal(dec("25")))

	healed, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, healed)
}

func TestEventsPublished(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	out, err := svc.AddEntry(ctx, AddEntryInput{Owner: "u1", Date: "d", Score: dec("5")})
	require.NoError(t, err)
	_, err = svc.DeleteEntry(ctx, "u1", out.EntryID)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	assert.Equal(t, "entry_added", sink.events[0].Type)
	assert.Equal(t, out.EntryID, sink.events[0].EntryID)
	assert.Equal(t, "entry_deleted", sink.events[1].Type)
}
