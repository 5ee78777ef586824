// Package deposit implements the deposit credit workflow: a decoded partner
// site scan becomes a collection record, a balance credit and an audit
// posting.
package deposit

import (
	"context"
	"errors"
	"strings"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/metrics"
	"github.com/greencycle-id/rewards-core/internal/app/saga"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

const workflowName = "deposit"

// Result is the outcome of a successful deposit.
type Result struct {
	Collection collection.Collection `json:"collection"`
	NewBalance int64                 `json:"new_balance"`
}

// Service runs the deposit credit workflow.
type Service struct {
	collections storage.CollectionStore
	ledger      *ledgersvc.Service
	engine      *saga.Engine
	log         *logger.Logger
}

// New constructs a deposit service.
func New(collections storage.CollectionStore, ldg *ledgersvc.Service, engine *saga.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("deposit")
	}
	if engine == nil {
		engine = saga.NewEngine(log, nil)
	}
	return &Service{collections: collections, ledger: ldg, engine: engine, log: log}
}

// Deposit credits the caller for a decoded scan record.
//
// The credit stands even when the audit posting append fails afterwards:
// the workflow reports success, logs the gap and journals it for external
// reconciliation. This is a deliberate eventual-consistency choice, in
// contrast to the mission claim workflow which rolls the credit back. The
// one exception is a duplicate idempotency key surfacing at the append:
// that means another submission of the same request already paid out, so
// the credit is reversed and the caller gets the duplicate error.
func (s *Service) Deposit(ctx context.Context, userID string, scan collection.ScanRecord, idempotencyKey string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, ledger.ErrUnauthenticated
	}
	if scan.WeightKg <= 0 {
		return Result{}, ledger.Invalid("weight must be positive")
	}
	if scan.Points < 0 {
		return Result{}, ledger.Invalid("points must not be negative")
	}
	if strings.TrimSpace(scan.LocationID) == "" {
		return Result{}, ledger.Invalid("location id is required")
	}

	if err := s.ledger.CheckDuplicate(ctx, idempotencyKey); err != nil {
		metrics.WorkflowOutcome(workflowName, "duplicate")
		return Result{}, err
	}

	var result Result
	steps := []saga.Step{
		{
			Name: "create_collection",
			Run: func(ctx context.Context) error {
				created, err := s.collections.CreateCollection(ctx, collection.Collection{
					UserID:         userID,
					PartnerID:      scan.LocationID,
					TotalWeightKg:  scan.WeightKg,
					ReceivedPoints: scan.Points,
					Status:         collection.StatusSuccess,
				})
				if err != nil {
					return ledger.Remote(ledger.StageDomainRecord, err)
				}
				result.Collection = created
				return nil
			},
		},
		{
			Name: "credit_balance",
			Run: func(ctx context.Context) error {
				acct, err := s.ledger.ApplyDelta(ctx, workflowName, userID, scan.Points)
				if err != nil {
					return ledger.Remote(ledger.StageBalanceWrite, err)
				}
				result.NewBalance = acct.Balance
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if scan.Points == 0 {
					return nil
				}
				if _, err := s.ledger.ApplyDelta(ctx, workflowName, userID, -scan.Points); err != nil {
					s.ledger.Journal().Record(ledgersvc.Entry{
						Workflow:  workflowName,
						AccountID: userID,
						Delta:     -scan.Points,
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
				if scan.Points == 0 {
					// Nothing moved; a zero-delta posting is invalid. The
					// key is therefore not recorded and replaying a
					// zero-point scan creates a fresh collection record.
					return nil
				}
				_, err := s.ledger.Append(ctx, ledger.Posting{
					AccountID:      userID,
					Delta:          scan.Points,
					RefType:        ledger.RefDeposit,
					RefID:          result.Collection.ID,
					IdempotencyKey: idempotencyKey,
				})
				if err == nil {
					return nil
				}
				if errors.Is(err, ledger.ErrDuplicatePosting) {
					// Another submission of this key appended first; the
					// pre-check raced past it and this credit must not
					// stand twice.
					return saga.Critical(err)
				}
				metrics.PostingAppendFailure()
				s.ledger.Journal().Record(ledgersvc.Entry{
					Workflow:  workflowName,
					AccountID: userID,
					Delta:     scan.Points,
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

	metrics.WorkflowOutcome(workflowName, "success")
	s.log.WithField("user_id", userID).
		WithField("collection_id", result.Collection.ID).
		Infof("deposit credited %d points", scan.Points)
	return result, nil
}

// Collections lists the caller's deposit records, newest first.
func (s *Service) Collections(ctx context.Context, userID string) ([]collection.Collection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ledger.ErrUnauthenticated
	}
	return s.collections.ListCollections(ctx, userID)
}
