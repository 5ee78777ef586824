// Package missions implements mission progress tracking and the
// mission-reward claim workflow, the one workflow with full compensation.
package missions

import (
	"context"
	"errors"
	"strings"

	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/app/metrics"
	"github.com/greencycle-id/rewards-core/internal/app/saga"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

const claimWorkflow = "mission_claim"

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	MissionID    string `json:"mission_id"`
	RewardPoints int64  `json:"reward_points"`
	NewBalance   int64  `json:"new_balance"`
}

// Service manages mission progress and reward claims.
type Service struct {
	missions storage.MissionStore
	ledger   *ledgersvc.Service
	engine   *saga.Engine
	log      *logger.Logger
}

// New constructs a missions service.
func New(missions storage.MissionStore, ldg *ledgersvc.Service, engine *saga.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("missions")
	}
	if engine == nil {
		engine = saga.NewEngine(log, nil)
	}
	return &Service{missions: missions, ledger: ldg, engine: engine, log: log}
}

// Claim pays out the reward of a completed, unclaimed mission.
//
// The credit, the audit posting and the claimed-flag transition are three
// independent remote writes. A failure after the credit unwinds the earlier
// writes in reverse order: the posting is reversed by appending an inverse
// posting (the log is append-only) and the credit by applying the inverse
// delta, so the postings-sum-to-balance invariant holds even on the
// compensated path. The caller always receives the triggering error, never
// the compensation's.
//
// The original posting and its reversal stay in the append-only log after a
// compensated failure, so retrying the claim requires a fresh idempotency
// key; replaying the old key is rejected as a duplicate.
func (s *Service) Claim(ctx context.Context, userID, missionID, idempotencyKey string) (ClaimResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ClaimResult{}, ledger.ErrUnauthenticated
	}
	if strings.TrimSpace(missionID) == "" {
		return ClaimResult{}, ledger.Invalid("mission id is required")
	}

	if err := s.ledger.CheckDuplicate(ctx, idempotencyKey); err != nil {
		metrics.WorkflowOutcome(claimWorkflow, "duplicate")
		return ClaimResult{}, err
	}

	completion, err := s.missions.GetCompletionByMission(ctx, missionID, userID)
	if err != nil {
		if errors.Is(err, mission.ErrCompletionNotFound) {
			return ClaimResult{}, mission.ErrNotCompleted
		}
		return ClaimResult{}, ledger.Remote(ledger.StageDomainRecord, err)
	}
	if completion.Claimed {
		metrics.WorkflowOutcome(claimWorkflow, "already_claimed")
		return ClaimResult{}, mission.ErrAlreadyClaimed
	}

	reward := completion.RewardPoints
	var result ClaimResult
	steps := []saga.Step{
		{
			Name: "credit_reward",
			Run: func(ctx context.Context) error {
				acct, err := s.ledger.ApplyDelta(ctx, claimWorkflow, userID, reward)
				if err != nil {
					return ledger.Remote(ledger.StageBalanceWrite, err)
				}
				result.NewBalance = acct.Balance
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if _, err := s.ledger.ApplyDelta(ctx, claimWorkflow, userID, -reward); err != nil {
					s.ledger.Journal().Record(ledgersvc.Entry{
						Workflow:  claimWorkflow,
						AccountID: userID,
						Delta:     -reward,
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
			Name: "append_posting",
			Run: func(ctx context.Context) error {
				if reward == 0 {
					return nil
				}
				_, err := s.ledger.Append(ctx, ledger.Posting{
					AccountID:      userID,
					Delta:          reward,
					RefType:        ledger.RefMissionCompletion,
					RefID:          completion.ID,
					IdempotencyKey: idempotencyKey,
				})
				if err != nil {
					return ledger.Remote(ledger.StagePostingAppend, err)
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if reward == 0 {
					return nil
				}
				// The log is append-only; the reversal is its own posting.
				_, err := s.ledger.Append(ctx, ledger.Posting{
					AccountID:      userID,
					Delta:          -reward,
					RefType:        ledger.RefMissionCompletion,
					RefID:          completion.ID,
					IdempotencyKey: idempotencyKey + ":reversal",
				})
				return err
			},
		},
		{
			Name: "mark_claimed",
			Run: func(ctx context.Context) error {
				claimed, err := s.missions.MarkCompletionClaimed(ctx, completion.ID)
				if err != nil {
					if errors.Is(err, mission.ErrAlreadyClaimed) {
						// A concurrent claim won between our check and
						// this write; unwind our credit.
						return err
					}
					return ledger.Remote(ledger.StageClaimUpdate, err)
				}
				completion = claimed
				return nil
			},
		},
	}

	if err := s.engine.Execute(ctx, claimWorkflow, steps); err != nil {
		metrics.WorkflowOutcome(claimWorkflow, "failure")
		return ClaimResult{}, err
	}

	result.MissionID = missionID
	result.RewardPoints = reward
	metrics.WorkflowOutcome(claimWorkflow, "success")
	s.log.WithField("user_id", userID).
		WithField("mission_id", missionID).
		Infof("mission reward of %d points claimed", reward)
	return result, nil
}

// ReportProgress advances the caller's progress toward a mission target and,
// on reaching it, creates the unclaimed completion record that the claim
// workflow later pays out.
func (s *Service) ReportProgress(ctx context.Context, userID, missionID string, increment, targetValue, rewardPoints int64) (mission.Progress, error) {
	if strings.TrimSpace(userID) == "" {
		return mission.Progress{}, ledger.ErrUnauthenticated
	}
	if strings.TrimSpace(missionID) == "" {
		return mission.Progress{}, ledger.Invalid("mission id is required")
	}
	if increment <= 0 {
		return mission.Progress{}, ledger.Invalid("progress increment must be positive")
	}
	if rewardPoints < 0 {
		return mission.Progress{}, ledger.Invalid("reward points must not be negative")
	}

	progress, err := s.missions.GetProgress(ctx, missionID, userID)
	if err != nil && !errors.Is(err, mission.ErrProgressNotFound) {
		return mission.Progress{}, err
	}
	progress.MissionID = missionID
	progress.UserID = userID
	progress.ProgressValue += increment
	if targetValue > 0 {
		progress.TargetValue = targetValue
	}

	updated, err := s.missions.UpsertProgress(ctx, progress)
	if err != nil {
		return mission.Progress{}, err
	}

	if updated.Completed() {
		if _, err := s.missions.GetCompletionByMission(ctx, missionID, userID); errors.Is(err, mission.ErrCompletionNotFound) {
			if _, err := s.missions.CreateCompletion(ctx, mission.Completion{
				MissionID:    missionID,
				UserID:       userID,
				RewardPoints: rewardPoints,
			}); err != nil {
				return mission.Progress{}, err
			}
			s.log.WithField("user_id", userID).
				WithField("mission_id", missionID).
				Info("mission completed; reward available to claim")
		}
	}

	return updated, nil
}

// Completions lists the caller's completion records, newest first.
func (s *Service) Completions(ctx context.Context, userID string) ([]mission.Completion, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ledger.ErrUnauthenticated
	}
	return s.missions.ListCompletions(ctx, userID)
}
