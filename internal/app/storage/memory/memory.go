package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. Its mutex makes individual calls atomic, which is stronger
// than the remote document store; the conditional checks (version, key,
// claimed) behave identically.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	accounts     map[string]ledger.Account   // keyed by owner id
	postings     map[string][]ledger.Posting // keyed by account id, append order
	postingByKey map[string]ledger.Posting   // keyed by idempotency key
	collections  map[string]collection.Collection
	completions  map[string]mission.Completion
	progress     map[string]mission.Progress // keyed by missionID/userID
	transactions map[string]exchange.Transaction
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.CollectionStore = (*Store)(nil)
var _ storage.MissionStore = (*Store)(nil)
var _ storage.ExchangeStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		accounts:     make(map[string]ledger.Account),
		postings:     make(map[string][]ledger.Posting),
		postingByKey: make(map[string]ledger.Posting),
		collections:  make(map[string]collection.Collection),
		completions:  make(map[string]mission.Completion),
		progress:     make(map[string]mission.Progress),
		transactions: make(map[string]exchange.Transaction),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func progressKey(missionID, userID string) string {
	return missionID + "/" + userID
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetAccount(_ context.Context, ownerID string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[ownerID]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acct, nil
}

func (s *Store) CreateAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Version == 0 {
		acct.Version = 1
	}

	// A concurrent first read may already have created the zero account;
	// the overwrite is benign because both writes carry the same value.
	s.accounts[acct.OwnerID] = acct
	return acct, nil
}

func (s *Store) UpdateAccountBalance(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[acct.OwnerID]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if current.Version != acct.Version {
		return ledger.Account{}, ledger.ErrVersionConflict
	}

	current.Balance = acct.Balance
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	s.accounts[acct.OwnerID] = current
	return current, nil
}

func (s *Store) AppendPosting(_ context.Context, p ledger.Posting) (ledger.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IdempotencyKey != "" {
		if _, exists := s.postingByKey[p.IdempotencyKey]; exists {
			return ledger.Posting{}, ledger.ErrDuplicatePosting
		}
	}

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	s.postings[p.AccountID] = append(s.postings[p.AccountID], p)
	if p.IdempotencyKey != "" {
		s.postingByKey[p.IdempotencyKey] = p
	}
	return p, nil
}

func (s *Store) GetPostingByKey(_ context.Context, key string) (ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.postingByKey[key]
	if !ok {
		return ledger.Posting{}, ledger.ErrPostingNotFound
	}
	return p, nil
}

func (s *Store) ListPostings(_ context.Context, accountID string) ([]ledger.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.postings[accountID]
	result := make([]ledger.Posting, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CollectionStore implementation ----------------------------------------------

func (s *Store) CreateCollection(_ context.Context, col collection.Collection) (collection.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col.ID == "" {
		col.ID = s.nextIDLocked()
	} else if _, exists := s.collections[col.ID]; exists {
		return collection.Collection{}, collection.ErrCollectionExists
	}
	if col.CreatedAt.IsZero() {
		col.CreatedAt = time.Now().UTC()
	}

	s.collections[col.ID] = col
	return col, nil
}

func (s *Store) GetCollection(_ context.Context, id string) (collection.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[id]
	if !ok {
		return collection.Collection{}, collection.ErrCollectionNotFound
	}
	return col, nil
}

func (s *Store) ListCollections(_ context.Context, userID string) ([]collection.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []collection.Collection
	for _, col := range s.collections {
		if col.UserID == userID {
			result = append(result, col)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// MissionStore implementation -------------------------------------------------

func (s *Store) GetCompletionByMission(_ context.Context, missionID, userID string) (mission.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.completions {
		if c.MissionID == missionID && c.UserID == userID {
			return c, nil
		}
	}
	return mission.Completion{}, mission.ErrCompletionNotFound
}

func (s *Store) CreateCompletion(_ context.Context, c mission.Completion) (mission.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.completions {
		if existing.MissionID == c.MissionID && existing.UserID == c.UserID {
			return mission.Completion{}, mission.ErrCompletionExists
		}
	}

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.completions[c.ID] = c
	return c, nil
}

func (s *Store) MarkCompletionClaimed(_ context.Context, id string) (mission.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.completions[id]
	if !ok {
		return mission.Completion{}, mission.ErrCompletionNotFound
	}
	if c.Claimed {
		return mission.Completion{}, mission.ErrAlreadyClaimed
	}

	c.Claimed = true
	c.ClaimedAt = time.Now().UTC()
	s.completions[id] = c
	return c, nil
}

func (s *Store) ListCompletions(_ context.Context, userID string) ([]mission.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []mission.Completion
	for _, c := range s.completions {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) GetProgress(_ context.Context, missionID, userID string) (mission.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[progressKey(missionID, userID)]
	if !ok {
		return mission.Progress{}, mission.ErrProgressNotFound
	}
	return p, nil
}

func (s *Store) UpsertProgress(_ context.Context, p mission.Progress) (mission.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()
	s.progress[progressKey(p.MissionID, p.UserID)] = p
	return p, nil
}

// ExchangeStore implementation ------------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx exchange.Transaction) (exchange.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	} else if _, exists := s.transactions[tx.ID]; exists {
		return exchange.Transaction{}, exchange.ErrTransactionExists
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = exchange.StatusPending
	}

	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (exchange.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return exchange.Transaction{}, exchange.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string) ([]exchange.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []exchange.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, status exchange.Status) (exchange.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return exchange.Transaction{}, exchange.ErrTransactionNotFound
	}
	tx.Status = status
	s.transactions[id] = tx
	return tx, nil
}
