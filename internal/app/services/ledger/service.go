package ledger

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/metrics"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

// maxBalanceAttempts bounds the read-modify-write retry loop when the
// version check rejects a balance write.
const maxBalanceAttempts = 3

// Service owns all balance and posting operations. The workflows never talk
// to the ledger store directly; they go through the retrying helpers here so
// every balance movement follows the same conditional-write discipline.
type Service struct {
	store   storage.LedgerStore
	journal *Journal
	log     *logger.Logger
}

// New constructs a ledger service.
func New(store storage.LedgerStore, journal *Journal, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if journal == nil {
		journal = NewJournal(0, nil)
	}
	return &Service{store: store, journal: journal, log: log}
}

// Journal exposes the reconciliation journal.
func (s *Service) Journal() *Journal { return s.journal }

// EnsureAccount returns the owner's account, creating a zero-balance one on
// first read. Two concurrent first reads may both create; the writes are
// identical so the race is benign.
func (s *Service) EnsureAccount(ctx context.Context, ownerID string) (domain.Account, error) {
	acct, err := s.store.GetAccount(ctx, ownerID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, err
	}

	created, err := s.store.CreateAccount(ctx, domain.Account{OwnerID: ownerID, Balance: 0})
	if err != nil {
		return domain.Account{}, fmt.Errorf("create zero account: %w", err)
	}
	s.log.WithField("owner_id", ownerID).Info("point account created")
	return created, nil
}

// Balance returns the owner's account, lazily creating it.
func (s *Service) Balance(ctx context.Context, ownerID string) (domain.Account, error) {
	return s.EnsureAccount(ctx, ownerID)
}

// Statement returns the owner's postings, newest first.
func (s *Service) Statement(ctx context.Context, ownerID string) ([]domain.Posting, error) {
	return s.store.ListPostings(ctx, ownerID)
}

// FindPosting looks a posting up by idempotency key.
func (s *Service) FindPosting(ctx context.Context, key string) (domain.Posting, error) {
	return s.store.GetPostingByKey(ctx, key)
}

// ApplyDelta moves the owner's balance by delta through a bounded
// compare-and-swap loop. A write rejected by the version check re-reads and
// retries; a delta that would take the balance negative fails with
// domain.ErrInsufficientBalance. The workflow name labels the conflict
// metric only.
func (s *Service) ApplyDelta(ctx context.Context, workflow, ownerID string, delta int64) (domain.Account, error) {
	var lastErr error
	for attempt := 0; attempt < maxBalanceAttempts; attempt++ {
		acct, err := s.EnsureAccount(ctx, ownerID)
		if err != nil {
			return domain.Account{}, err
		}

		newBalance := acct.Balance + delta
		if newBalance < 0 {
			return domain.Account{}, domain.ErrInsufficientBalance
		}

		acct.Balance = newBalance
		updated, err := s.store.UpdateAccountBalance(ctx, acct)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.Account{}, err
		}

		metrics.BalanceConflict(workflow)
		s.log.WithField("owner_id", ownerID).
			WithField("workflow", workflow).
			Warnf("balance write conflict, attempt %d", attempt+1)
		lastErr = err
	}
	return domain.Account{}, fmt.Errorf("balance write contention exhausted %d attempts: %w", maxBalanceAttempts, lastErr)
}

// Append records an audit posting. The delta must be non-zero and the ref
// type known; a reused idempotency key surfaces the store's duplicate error.
func (s *Service) Append(ctx context.Context, p domain.Posting) (domain.Posting, error) {
	if p.Delta == 0 {
		return domain.Posting{}, domain.Invalid("posting delta must be non-zero")
	}
	if !p.RefType.Valid() {
		return domain.Posting{}, domain.Invalid("unknown posting ref type %q", p.RefType)
	}
	if p.AccountID == "" {
		return domain.Posting{}, domain.Invalid("posting account id is required")
	}
	return s.store.AppendPosting(ctx, p)
}

// CheckDuplicate fails with domain.ErrDuplicateRequest when the idempotency
// key has already been recorded. Workflows call this before any state moves
// so a re-submitted request cannot double-credit or double-debit.
func (s *Service) CheckDuplicate(ctx context.Context, key string) error {
	if key == "" {
		return domain.Invalid("idempotency key is required")
	}
	_, err := s.store.GetPostingByKey(ctx, key)
	if err == nil {
		return domain.ErrDuplicateRequest
	}
	if errors.Is(err, domain.ErrPostingNotFound) {
		return nil
	}
	return domain.Remote(domain.StageDuplicateCheck, err)
}
