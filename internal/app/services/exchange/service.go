// Package exchange implements the exchange debit workflow: points leave the
// balance against a pending cash-out transaction.
package exchange

import (
	"context"
	"errors"
	"strings"

	domain "github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/metrics"
	"github.com/greencycle-id/rewards-core/internal/app/saga"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

const workflowName = "exchange"

// Request carries the caller's exchange parameters.
type Request struct {
	MethodType    string `json:"method_type"`
	Amount        int64  `json:"amount"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// Result is the outcome of a successful exchange.
type Result struct {
	Transaction    domain.Transaction `json:"transaction"`
	AmountReceived int64              `json:"amount_received"`
	NewBalance     int64              `json:"new_balance"`
}

// Service runs the exchange debit workflow.
type Service struct {
	txs     storage.ExchangeStore
	catalog domain.Catalog
	ledger  *ledgersvc.Service
	engine  *saga.Engine
	log     *logger.Logger
}

// New constructs an exchange service.
func New(txs storage.ExchangeStore, catalog domain.Catalog, ldg *ledgersvc.Service, engine *saga.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("exchange")
	}
	if engine == nil {
		engine = saga.NewEngine(log, nil)
	}
	return &Service{txs: txs, catalog: catalog, ledger: ldg, engine: engine, log: log}
}

// Exchange debits the caller's balance and records a pending cash-out.
//
// The transaction record is created pending and stays pending in this core;
// settling it is an external reconciliation concern. Like the deposit
// workflow, a posting append failure after the debit does not roll the
// debit back; it is journalled instead. A duplicate idempotency key
// surfacing at the append is the exception: another submission already
// debited for this request, so the debit is restored and the caller gets
// the duplicate error.
func (s *Service) Exchange(ctx context.Context, userID string, req Request, idempotencyKey string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, ledger.ErrUnauthenticated
	}

	method, err := s.catalog.Method(strings.TrimSpace(req.MethodType))
	if err != nil {
		return Result{}, ledger.Invalid("unknown exchange method %q", req.MethodType)
	}
	if req.Amount <= 0 {
		return Result{}, ledger.Invalid("amount must be positive")
	}
	if req.Amount < method.MinAmount || req.Amount > method.MaxAmount {
		return Result{}, ledger.Invalid("amount must be between %d and %d points", method.MinAmount, method.MaxAmount)
	}
	if strings.TrimSpace(req.AccountNumber) == "" {
		return Result{}, ledger.Invalid("destination account number is required")
	}
	if strings.TrimSpace(req.AccountName) == "" {
		return Result{}, ledger.Invalid("destination account name is required")
	}

	amountReceived := method.AmountReceived(req.Amount)
	if amountReceived < 0 {
		return Result{}, ledger.Invalid("amount does not cover the admin fee")
	}

	if err := s.ledger.CheckDuplicate(ctx, idempotencyKey); err != nil {
		metrics.WorkflowOutcome(workflowName, "duplicate")
		return Result{}, err
	}

	acct, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return Result{}, ledger.Remote(ledger.StageBalanceRead, err)
	}
	if req.Amount > acct.Balance {
		return Result{}, ledger.Invalid("amount exceeds current balance of %d points", acct.Balance)
	}

	var result Result
	steps := []saga.Step{
		{
			Name: "create_transaction",
			Run: func(ctx context.Context) error {
				created, err := s.txs.CreateTransaction(ctx, domain.Transaction{
					UserID:          userID,
					MethodType:      method.Type,
					AccountNumber:   strings.TrimSpace(req.AccountNumber),
					AccountName:     strings.TrimSpace(req.AccountName),
					PointsExchanged: req.Amount,
					AmountReceived:  amountReceived,
					AdminFee:        method.AdminFee,
					Status:          domain.StatusPending,
				})
				if err != nil {
					return ledger.Remote(ledger.StageDomainRecord, err)
				}
				result.Transaction = created
				return nil
			},
		},
		{
			Name: "debit_balance",
			Run: func(ctx context.Context) error {
				updated, err := s.ledger.ApplyDelta(ctx, workflowName, userID, -req.Amount)
				if err != nil {
					// A concurrent spend can surface here despite the
					// validation read; the transaction stays pending for
					// reconciliation.
					return ledger.Remote(ledger.StageBalanceWrite, err)
				}
				result.NewBalance = updated.Balance
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if _, err := s.ledger.ApplyDelta(ctx, workflowName, userID, req.Amount); err != nil {
					s.ledger.Journal().Record(ledgersvc.Entry{
						Workflow:  workflowName,
						AccountID: userID,
						Delta:     req.Amount,
						Key:       idempotencyKey,
						Stage:     ledger.StageCompensation,
						Reason:    err.Error(),
					})
					return err
				}
				return nil
			},
		},
		{
			Name:       "append_posting",
			BestEffort: true,
			Run: func(ctx context.Context) error {
				_, err := s.ledger.Append(ctx, ledger.Posting{
					AccountID:      userID,
					Delta:          -req.Amount,
					RefType:        ledger.RefWithdrawal,
					RefID:          result.Transaction.ID,
					IdempotencyKey: idempotencyKey,
				})
				if err == nil {
					return nil
				}
				if errors.Is(err, ledger.ErrDuplicatePosting) {
					// Another submission of this key appended first; the
					// pre-check raced past it and this debit must not
					// stand twice.
					return saga.Critical(err)
				}
				metrics.PostingAppendFailure()
				s.ledger.Journal().Record(ledgersvc.Entry{
					Workflow:  workflowName,
					AccountID: userID,
					Delta:     -req.Amount,
					Key:       idempotencyKey,
					Stage:     ledger.StagePostingAppend,
					Reason:    err.Error(),
				})
				return ledger.Remote(ledger.StagePostingAppend, err)
			},
		},
	}

	if err := s.engine.Execute(ctx, workflowName, steps); err != nil {
		outcome := "failure"
		if errors.Is(err, ledger.ErrDuplicatePosting) {
			outcome = "duplicate"
		}
		metrics.WorkflowOutcome(workflowName, outcome)
		return Result{}, err
	}

	result.AmountReceived = amountReceived
	metrics.WorkflowOutcome(workflowName, "success")
	s.log.WithField("user_id", userID).
		WithField("transaction_id", result.Transaction.ID).
		Infof("exchanged %d points via %s", req.Amount, method.Type)
	return result, nil
}

// Transactions lists the caller's exchange transactions, newest first.
func (s *Service) Transactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ledger.ErrUnauthenticated
	}
	return s.txs.ListTransactions(ctx, userID)
}

// Transaction fetches one of the caller's exchange transactions.
func (s *Service) Transaction(ctx context.Context, userID, id string) (domain.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Transaction{}, ledger.ErrUnauthenticated
	}
	tx, err := s.txs.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.UserID != userID {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return tx, nil
}

// Methods exposes the static exchange method catalog.
func (s *Service) Methods() []domain.Method {
	return s.catalog.Methods()
}
