// Package testutil provides store test doubles with fault injection and
// call counting for workflow tests.
package testutil

import (
	"context"
	"sync"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
)

// LedgerStore wraps a real ledger store with per-operation fault injection
// and call counting.
type LedgerStore struct {
	Real storage.LedgerStore

	mu    sync.Mutex
	calls int

	// FailAppend makes AppendPosting fail with the given error.
	FailAppend error
	// FailUpdateTimes makes UpdateAccountBalance fail with
	// ledger.ErrVersionConflict that many times before passing through.
	FailUpdateTimes int
	// FailUpdate makes UpdateAccountBalance always fail with this error.
	FailUpdate error
	// StaleKeyReads makes GetPostingByKey miss with
	// ledger.ErrPostingNotFound that many times before passing through,
	// mimicking a read that lags behind a concurrent append.
	StaleKeyReads int
}

var _ storage.LedgerStore = (*LedgerStore)(nil)

// Calls returns the number of store operations performed.
func (s *LedgerStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *LedgerStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *LedgerStore) GetAccount(ctx context.Context, ownerID string) (ledger.Account, error) {
	s.count()
	return s.Real.GetAccount(ctx, ownerID)
}

func (s *LedgerStore) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	s.count()
	return s.Real.CreateAccount(ctx, acct)
}

func (s *LedgerStore) UpdateAccountBalance(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	s.count()
	if s.FailUpdate != nil {
		return ledger.Account{}, s.FailUpdate
	}
	s.mu.Lock()
	if s.FailUpdateTimes > 0 {
		s.FailUpdateTimes--
		s.mu.Unlock()
		return ledger.Account{}, ledger.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.Real.UpdateAccountBalance(ctx, acct)
}

func (s *LedgerStore) AppendPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	s.count()
	if s.FailAppend != nil {
		return ledger.Posting{}, s.FailAppend
	}
	return s.Real.AppendPosting(ctx, p)
}

func (s *LedgerStore) GetPostingByKey(ctx context.Context, key string) (ledger.Posting, error) {
	s.count()
	s.mu.Lock()
	if s.StaleKeyReads > 0 {
		s.StaleKeyReads--
		s.mu.Unlock()
		return ledger.Posting{}, ledger.ErrPostingNotFound
	}
	s.mu.Unlock()
	return s.Real.GetPostingByKey(ctx, key)
}

func (s *LedgerStore) ListPostings(ctx context.Context, accountID string) ([]ledger.Posting, error) {
	s.count()
	return s.Real.ListPostings(ctx, accountID)
}

// CollectionStore wraps a real collection store with call counting.
type CollectionStore struct {
	Real storage.CollectionStore

	mu    sync.Mutex
	calls int

	// FailCreate makes CreateCollection fail with the given error.
	FailCreate error
}

var _ storage.CollectionStore = (*CollectionStore)(nil)

func (s *CollectionStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *CollectionStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *CollectionStore) CreateCollection(ctx context.Context, col collection.Collection) (collection.Collection, error) {
	s.count()
	if s.FailCreate != nil {
		return collection.Collection{}, s.FailCreate
	}
	return s.Real.CreateCollection(ctx, col)
}

func (s *CollectionStore) GetCollection(ctx context.Context, id string) (collection.Collection, error) {
	s.count()
	return s.Real.GetCollection(ctx, id)
}

func (s *CollectionStore) ListCollections(ctx context.Context, userID string) ([]collection.Collection, error) {
	s.count()
	return s.Real.ListCollections(ctx, userID)
}

// MissionStore wraps a real mission store with fault injection.
type MissionStore struct {
	Real storage.MissionStore

	// FailMarkClaimed makes MarkCompletionClaimed fail with this error.
	FailMarkClaimed error
}

var _ storage.MissionStore = (*MissionStore)(nil)

func (s *MissionStore) GetCompletionByMission(ctx context.Context, missionID, userID string) (mission.Completion, error) {
	return s.Real.GetCompletionByMission(ctx, missionID, userID)
}

func (s *MissionStore) CreateCompletion(ctx context.Context, c mission.Completion) (mission.Completion, error) {
	return s.Real.CreateCompletion(ctx, c)
}

func (s *MissionStore) MarkCompletionClaimed(ctx context.Context, id string) (mission.Completion, error) {
	if s.FailMarkClaimed != nil {
		return mission.Completion{}, s.FailMarkClaimed
	}
	return s.Real.MarkCompletionClaimed(ctx, id)
}

func (s *MissionStore) ListCompletions(ctx context.Context, userID string) ([]mission.Completion, error) {
	return s.Real.ListCompletions(ctx, userID)
}

func (s *MissionStore) GetProgress(ctx context.Context, missionID, userID string) (mission.Progress, error) {
	return s.Real.GetProgress(ctx, missionID, userID)
}

func (s *MissionStore) UpsertProgress(ctx context.Context, p mission.Progress) (mission.Progress, error) {
	return s.Real.UpsertProgress(ctx, p)
}

// ExchangeStore wraps a real exchange store with call counting.
type ExchangeStore struct {
	Real storage.ExchangeStore

	mu    sync.Mutex
	calls int
}

var _ storage.ExchangeStore = (*ExchangeStore)(nil)

func (s *ExchangeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *ExchangeStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *ExchangeStore) CreateTransaction(ctx context.Context, tx exchange.Transaction) (exchange.Transaction, error) {
	s.count()
	return s.Real.CreateTransaction(ctx, tx)
}

func (s *ExchangeStore) GetTransaction(ctx context.Context, id string) (exchange.Transaction, error) {
	s.count()
	return s.Real.GetTransaction(ctx, id)
}

func (s *ExchangeStore) ListTransactions(ctx context.Context, userID string) ([]exchange.Transaction, error) {
	s.count()
	return s.Real.ListTransactions(ctx, userID)
}

func (s *ExchangeStore) UpdateTransactionStatus(ctx context.Context, id string, status exchange.Status) (exchange.Transaction, error) {
	s.count()
	return s.Real.UpdateTransactionStatus(ctx, id, status)
}
