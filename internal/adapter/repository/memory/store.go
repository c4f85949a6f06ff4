package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// Store is an in-process implementation of domain.UnitOfWork
// Each account has an exclusive lock held for the lifetime of one scope.
// Writes made in a scope are staged and published together on commit.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	accounts map[uuid.UUID]*domain.Account // by account ID
	byUser   map[uuid.UUID]uuid.UUID       // user ID -> account ID
	batches  map[uuid.UUID]*domain.DepositBatch
	entries  []*domain.LedgerEntry
	locks    map[uuid.UUID]chan struct{}
	pending  map[uuid.UUID]uuid.UUID // user ID -> account ID reserved by an uncommitted scope

	batchSeq int64
	entrySeq int64
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for account timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty in-memory store
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		accounts: make(map[uuid.UUID]*domain.Account),
		byUser:   make(map[uuid.UUID]uuid.UUID),
		batches:  make(map[uuid.UUID]*domain.DepositBatch),
		locks:    make(map[uuid.UUID]chan struct{}),
		pending:  make(map[uuid.UUID]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Within runs fn in one atomic scope
// Staged writes are published only if fn returns nil and ctx is still live.
// Locks are released on every path, including a panic in fn.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := newTx(s)
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scope cancelled before commit: %w", err)
	}

	t.commit()
	return nil
}

// lockChan returns the lock of an account, creating it on first use
func (s *Store) lockChan(accountID uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[accountID] = ch
	}
	return ch
}

// getOrCreateAccount returns the committed account of a user
// A user without one gets a new zero-balance account and created is true; the caller keeps it
// private to its scope until commit. Scopes racing on the same new user share one account ID.
func (s *Store) getOrCreateAccount(userID uuid.UUID) (account *domain.Account, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byUser[userID]; ok {
		return s.accounts[id].Clone(), false
	}
	account = domain.NewAccount(userID, s.now().UTC())
	if id, ok := s.pending[userID]; ok {
		account.ID = id
	} else {
		s.pending[userID] = account.ID
	}
	return account, true
}

func (s *Store) committedAccount(accountID uuid.UUID) (*domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (s *Store) accountIDForUser(userID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[userID]
	return id, ok
}

func (s *Store) nextBatchSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batchSeq++
	return s.batchSeq
}

func (s *Store) nextEntrySeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entrySeq++
	return s.entrySeq
}

// committedBatches returns clones of the committed batches accepted by keep
func (s *Store) committedBatches(keep func(*domain.DepositBatch) bool) map[uuid.UUID]*domain.DepositBatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]*domain.DepositBatch)
	for id, b := range s.batches {
		if keep(b) {
			out[id] = b.Clone()
		}
	}
	return out
}

// committedEntries returns clones of the committed entries of an account
func (s *Store) committedEntries(accountID uuid.UUID) []*domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e.Clone())
		}
	}
	return out
}
