package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// tx is one atomic scope over a Store
type tx struct {
	store *Store

	held     []uuid.UUID // account locks in acquisition order
	created  map[uuid.UUID]*domain.Account // accounts opened in this scope, by account ID
	accounts map[uuid.UUID]*domain.Account
	batches  map[uuid.UUID]*domain.DepositBatch
	entries  []*domain.LedgerEntry
}

func newTx(s *Store) *tx {
	return &tx{
		store:    s,
		created:  make(map[uuid.UUID]*domain.Account),
		accounts: make(map[uuid.UUID]*domain.Account),
		batches:  make(map[uuid.UUID]*domain.DepositBatch),
	}
}

func (t *tx) Accounts() domain.AccountRepository { return accountRepository{t} }
func (t *tx) Batches() domain.BatchRepository    { return batchRepository{t} }
func (t *tx) Ledger() domain.LedgerRepository    { return ledgerRepository{t} }

func (t *tx) holds(accountID uuid.UUID) bool {
	for _, id := range t.held {
		if id == accountID {
			return true
		}
	}
	return false
}

// lock blocks until the account lock is free or ctx is done
func (t *tx) lock(ctx context.Context, accountID uuid.UUID) error {
	if t.holds(accountID) {
		return nil
	}
	ch := t.store.lockChan(accountID)
	select {
	case ch <- struct{}{}:
		t.held = append(t.held, accountID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to lock account %s: %w", accountID, ctx.Err())
	}
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.store.lockChan(t.held[i])
	}
	t.held = nil
}

func (t *tx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.created {
		if _, ok := s.accounts[id]; !ok {
			s.accounts[id] = a
		}
		s.byUser[a.UserID] = id
		delete(s.pending, a.UserID)
	}
	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, b := range t.batches {
		s.batches[id] = b
	}
	s.entries = append(s.entries, t.entries...)
}

// account returns the scope's view of an account
// A committed account wins over the placeholder of an account opened in this scope,
// since another scope may have created and funded it in the meantime.
func (t *tx) account(accountID uuid.UUID) (*domain.Account, bool) {
	if a, ok := t.accounts[accountID]; ok {
		return a.Clone(), true
	}
	if a, ok := t.store.committedAccount(accountID); ok {
		return a, true
	}
	if a, ok := t.created[accountID]; ok {
		return a.Clone(), true
	}
	return nil, false
}

// createdFor returns the ID of the account opened for userID in this scope
func (t *tx) createdFor(userID uuid.UUID) (uuid.UUID, bool) {
	for id, a := range t.created {
		if a.UserID == userID {
			return id, true
		}
	}
	return uuid.Nil, false
}

// batchView merges committed and staged batches accepted by keep
func (t *tx) batchView(keep func(*domain.DepositBatch) bool) []*domain.DepositBatch {
	merged := t.store.committedBatches(keep)
	for id, b := range t.batches {
		if keep(b) {
			merged[id] = b.Clone()
		} else {
			delete(merged, id)
		}
	}
	out := make([]*domain.DepositBatch, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	domain.SortFIFO(out)
	return out
}

type accountRepository struct{ t *tx }

func (r accountRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("failed to get or create account: %w", domain.ErrAccountNotFound)
	}
	id, ok := r.t.createdFor(userID)
	if !ok {
		account, created := r.t.store.getOrCreateAccount(userID)
		if !created {
			if a, ok := r.t.accounts[account.ID]; ok {
				return a.Clone(), nil
			}
			return account, nil
		}
		// Published on commit only
		r.t.created[account.ID] = account
		id = account.ID
	}
	a, _ := r.t.account(id)
	return a, nil
}

func (r accountRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ok := r.t.createdFor(userID)
	if !ok {
		if id, ok = r.t.store.accountIDForUser(userID); !ok {
			return nil, fmt.Errorf("account of user %s: %w", userID, domain.ErrAccountNotFound)
		}
	}
	a, ok := r.t.account(id)
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)
	}
	return a, nil
}

func (r accountRepository) LockForUpdate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if err := r.t.lock(ctx, accountID); err != nil {
		return nil, err
	}
	a, ok := r.t.account(accountID)
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrAccountNotFound)
	}
	return a, nil
}

func (r accountRepository) Update(ctx context.Context, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.t.holds(account.ID) {
		return fmt.Errorf("failed to update account %s: not locked in this scope", account.ID)
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("failed to update account %s: %w", account.ID, err)
	}
	staged := account.Clone()
	staged.UpdatedAt = r.t.store.now().UTC()
	r.t.accounts[account.ID] = staged
	return nil
}

type batchRepository struct{ t *tx }

func (r batchRepository) Create(ctx context.Context, batch *domain.DepositBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.t.holds(batch.OwnerID) {
		return fmt.Errorf("failed to create batch: owner %s not locked in this scope", batch.OwnerID)
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	batch.Seq = r.t.store.nextBatchSeq()
	r.t.batches[batch.ID] = batch.Clone()
	return nil
}

func (r batchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DepositBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := r.t.batchView(func(b *domain.DepositBatch) bool { return b.ID == id })
	if len(found) == 0 {
		return nil, fmt.Errorf("batch %s: %w", id, domain.ErrBatchNotFound)
	}
	return found[0], nil
}

func (r batchRepository) ListConsumable(ctx context.Context, ownerID uuid.UUID) ([]*domain.DepositBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Batches are guarded by their owner's lock
	if !r.t.holds(ownerID) {
		return nil, fmt.Errorf("failed to list consumable batches: owner %s not locked in this scope", ownerID)
	}
	return r.t.batchView(func(b *domain.DepositBatch) bool {
		return b.OwnerID == ownerID && b.Consumable()
	}), nil
}

func (r batchRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.DepositBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.t.batchView(func(b *domain.DepositBatch) bool { return b.OwnerID == ownerID }), nil
}

func (r batchRepository) ListDueForMaturity(ctx context.Context, cutoff time.Time) ([]*domain.DepositBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.t.batchView(func(b *domain.DepositBatch) bool {
		return !b.Matured && !b.MaturityDeadline.After(cutoff)
	}), nil
}

func (r batchRepository) Update(ctx context.Context, batch *domain.DepositBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.t.holds(batch.OwnerID) {
		return fmt.Errorf("failed to update batch %s: owner not locked in this scope", batch.ID)
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("failed to update batch %s: %w", batch.ID, err)
	}
	if _, err := r.GetByID(ctx, batch.ID); err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	r.t.batches[batch.ID] = batch.Clone()
	return nil
}

type ledgerRepository struct{ t *tx }

func (r ledgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Seq = r.t.store.nextEntrySeq()
	r.t.entries = append(r.t.entries, entry.Clone())
	return nil
}

func (r ledgerRepository) view(accountID uuid.UUID) []*domain.LedgerEntry {
	entries := r.t.store.committedEntries(accountID)
	for _, e := range r.t.entries {
		if e.AccountID == accountID {
			entries = append(entries, e.Clone())
		}
	}
	// Newest first; Seq keeps the creation order of entries sharing a timestamp
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Seq > entries[j].Seq
	})
	return entries
}

func (r ledgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := r.view(accountID)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*domain.LedgerEntry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r ledgerRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(r.view(accountID)), nil
}
