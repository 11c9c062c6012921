package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store with real transaction semantics:
// transactions work on copies and commit with first-committer-wins version
// checks, so concurrent conflicting transactions genuinely fail with
// ErrTxConflict. Used by tests and by the CLI's offline mode.
type MemoryStore struct {
	mu     sync.Mutex
	owners map[string]*ownerState
}

type ownerState struct {
	version     int64
	initialized bool
	netScore    decimal.Decimal
	counter     int64
	entries     []Entry
	idemKeys    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[string]*ownerState)}
}

func (s *MemoryStore) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, read: make(map[string]int64), local: make(map[string]*ownerState)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) Snapshot(ctx context.Context, owner string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.owners[owner]
	if !ok || !st.initialized {
		return Snapshot{NetScore: decimal.Zero, Entries: []Entry{}}, nil
	}
	entries := make([]Entry, len(st.entries))
	copy(entries, st.entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return Snapshot{Initialized: true, NetScore: st.netScore, Entries: entries}, nil
}

func (s *MemoryStore) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make([]string, 0, len(s.owners))
	for owner, st := range s.owners {
		if st.initialized {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// memTx snapshots each owner's state lazily on first touch, recording the
// version it read. All writes go to the local copy; commit re-checks every
// recorded version under the store lock before applying.
type memTx struct {
	store *MemoryStore
	read  map[string]int64
	local map[string]*ownerState
	dirty map[string]bool
}

func (t *memTx) state(owner string) *ownerState {
	if st, ok := t.local[owner]; ok {
		return st
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	src, ok := t.store.owners[owner]
	var cp *ownerState
	if ok {
		cp = &ownerState{
			version:     src.version,
			initialized: src.initialized,
			netScore:    src.netScore,
			counter:     src.counter,
			entries:     append([]Entry(nil), src.entries...),
			idemKeys:    make(map[string]string, len(src.idemKeys)),
		}
		for k, v := range src.idemKeys {
			cp.idemKeys[k] = v
		}
		t.read[owner] = src.version
	} else {
		cp = &ownerState{netScore: decimal.Zero, idemKeys: make(map[string]string)}
		t.read[owner] = 0
	}
	t.local[owner] = cp
	return cp
}

func (t *memTx) markDirty(owner string) {
	if t.dirty == nil {
		t.dirty = make(map[string]bool)
	}
	t.dirty[owner] = true
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for owner, readVersion := range t.read {
		current := int64(0)
		if st, ok := t.store.owners[owner]; ok {
			current = st.version
		}
		if current != readVersion {
			return ErrTxConflict
		}
	}
	for owner := range t.dirty {
		st := t.local[owner]
		st.version = t.read[owner] + 1
		t.store.owners[owner] = st
	}
	return nil
}

func (t *memTx) NetScore(ctx context.Context, owner string) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}
	st := t.state(owner)
	return st.netScore, st.initialized, nil
}

func (t *memTx) SetNetScore(ctx context.Context, owner string, score decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := t.state(owner)
	st.netScore = score
	st.initialized = true
	t.markDirty(owner)
	return nil
}

func (t *memTx) Counter(ctx context.Context, owner string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.state(owner).counter, nil
}

func (t *memTx) SetCounter(ctx context.Context, owner string, counter int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := t.state(owner)
	st.counter = counter
	st.initialized = true
	t.markDirty(owner)
	return nil
}

func (t *memTx) InsertEntry(ctx context.Context, owner string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := t.state(owner)
	st.entries = append(st.entries, e)
	st.initialized = true
	t.markDirty(owner)
	return nil
}

func (t *memTx) Entry(ctx context.Context, owner, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	for _, e := range t.state(owner).entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (t *memTx) Entries(ctx context.Context, owner string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := t.state(owner)
	entries := make([]Entry, len(st.entries))
	copy(entries, st.entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (t *memTx) DeleteEntry(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := t.state(owner)
	for i, e := range st.entries {
		if e.ID == id {
			st.entries = append(st.entries[:i], st.entries[i+1:]...)
			t.markDirty(owner)
			return nil
		}
	}
	return ErrEntryNotFound
}

func (t *memTx) ClaimIdempotency(ctx context.Context, owner, key, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := t.state(owner)
	if _, taken := st.idemKeys[key]; taken {
		return ErrDuplicateIdempotency
	}
	st.idemKeys[key] = action
	t.markDirty(owner)
	return nil
}
