// Package storage declares the persistence contracts of the rewards core.
//
// Every implementation is a facade over a store without multi-document
// atomicity: each call is an independent remote operation that can fail on
// its own. The conditional semantics (version checks, idempotency keys, the
// claimed transition) are the only guarantees a backend must honour.
package storage

import (
	"context"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
)

// LedgerStore persists point accounts and their posting log.
type LedgerStore interface {
	// GetAccount returns the owner's account or ledger.ErrAccountNotFound.
	GetAccount(ctx context.Context, ownerID string) (ledger.Account, error)
	// CreateAccount writes a new account document. Two concurrent first
	// readers may both create the zero account; the duplicate write is
	// benign because both carry the same initial value.
	CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	// UpdateAccountBalance writes the account balance conditionally on
	// acct.Version matching the stored version, returning the stored
	// account with its version advanced, or ledger.ErrVersionConflict.
	UpdateAccountBalance(ctx context.Context, acct ledger.Account) (ledger.Account, error)

	// AppendPosting appends an audit record. A reused idempotency key is
	// rejected with ledger.ErrDuplicatePosting.
	AppendPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error)
	// GetPostingByKey returns the posting recorded under the idempotency
	// key, or ledger.ErrPostingNotFound.
	GetPostingByKey(ctx context.Context, key string) (ledger.Posting, error)
	// ListPostings returns the account's postings, newest first.
	ListPostings(ctx context.Context, accountID string) ([]ledger.Posting, error)
}

// CollectionStore persists deposit records.
type CollectionStore interface {
	CreateCollection(ctx context.Context, col collection.Collection) (collection.Collection, error)
	GetCollection(ctx context.Context, id string) (collection.Collection, error)
	ListCollections(ctx context.Context, userID string) ([]collection.Collection, error)
}

// MissionStore persists mission progress and completion records.
type MissionStore interface {
	// GetCompletionByMission returns the user's completion for a mission,
	// or mission.ErrCompletionNotFound.
	GetCompletionByMission(ctx context.Context, missionID, userID string) (mission.Completion, error)
	CreateCompletion(ctx context.Context, c mission.Completion) (mission.Completion, error)
	// MarkCompletionClaimed transitions claimed false to true. The check is
	// durable: a completion whose claimed flag is already true fails with
	// mission.ErrAlreadyClaimed.
	MarkCompletionClaimed(ctx context.Context, id string) (mission.Completion, error)
	ListCompletions(ctx context.Context, userID string) ([]mission.Completion, error)

	GetProgress(ctx context.Context, missionID, userID string) (mission.Progress, error)
	UpsertProgress(ctx context.Context, p mission.Progress) (mission.Progress, error)
}

// ExchangeStore persists exchange transactions.
type ExchangeStore interface {
	CreateTransaction(ctx context.Context, tx exchange.Transaction) (exchange.Transaction, error)
	GetTransaction(ctx context.Context, id string) (exchange.Transaction, error)
	ListTransactions(ctx context.Context, userID string) ([]exchange.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status exchange.Status) (exchange.Transaction, error)
}
