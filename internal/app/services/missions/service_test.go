package missions

import (
	"context"
	"errors"
	"testing"

	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/storage/memory"
	"github.com/greencycle-id/rewards-core/pkg/testutil"
)

func seedCompletion(t *testing.T, store *memory.Store, userID string, reward int64) mission.Completion {
	t.Helper()
	c, err := store.CreateCompletion(context.Background(), mission.Completion{
		MissionID:    "m-1",
		UserID:       userID,
		RewardPoints: reward,
	})
	if err != nil {
		t.Fatalf("seed completion: %v", err)
	}
	return c
}

func seedBalance(t *testing.T, ldg *ledgersvc.Service, userID string, balance int64) {
	t.Helper()
	if balance == 0 {
		if _, err := ldg.EnsureAccount(context.Background(), userID); err != nil {
			t.Fatalf("seed account: %v", err)
		}
		return
	}
	if _, err := ldg.ApplyDelta(context.Background(), "seed", userID, balance); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func TestClaimSuccess(t *testing.T) {
	store := memory.New()
	ldg := ledgersvc.New(store, nil, nil)
	svc := New(store, ldg, nil, nil)
	ctx := context.Background()

	completion := seedCompletion(t, store, "user-1", 50)
	seedBalance(t, ldg, "user-1", 10)

	result, err := svc.Claim(ctx, "user-1", "m-1", "key-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.RewardPoints != 50 {
		t.Fatalf("wrong reward: %d", result.RewardPoints)
	}
	if result.NewBalance != 60 {
		t.Fatalf("wrong balance: %d", result.NewBalance)
	}

	claimed, err := store.GetCompletionByMission(ctx, "m-1", "user-1")
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}
	if !claimed.Claimed {
		t.Fatal("completion not marked claimed")
	}

	postings, err := ldg.Statement(ctx, "user-1")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(postings) != 1 {
		t.Fatalf("expected one posting, got %d", len(postings))
	}
	if postings[0].Delta != 50 || postings[0].RefType != ledger.RefMissionCompletion || postings[0].RefID != completion.ID {
		t.Fatalf("unexpected posting: %+v", postings[0])
	}
}

func TestClaimNotCompleted(t *testing.T) {
	store := memory.New()
	svc := New(store, ledgersvc.New(store, nil, nil), nil, nil)

	_, err := svc.Claim(context.Background(), "user-1", "m-unknown", "key-1")
	if !errors.Is(err, mission.ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	store := memory.New()
	ldg := ledgersvc.New(store, nil, nil)
	svc := New(store, ldg, nil, nil)
	ctx := context.Background()

	seedCompletion(t, store, "user-1", 50)
	if _, err := svc.Claim(ctx, "user-1", "m-1", "key-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err := svc.Claim(ctx, "user-1", "m-1", "key-2")
	if !errors.Is(err, mission.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	acct, err := ldg.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 50 {
		t.Fatalf("second claim must not move the balance: %d", acct.Balance)
	}
}

func TestClaimPostingFailureRestoresBalance(t *testing.T) {
	mem := memory.New()
	ledgerStore := &testutil.LedgerStore{Real: mem, FailAppend: errors.New("store unavailable")}
	ldg := ledgersvc.New(ledgerStore, nil, nil)
	svc := New(mem, ldg, nil, nil)
	ctx := context.Background()

	seedCompletion(t, mem, "user-1", 50)
	seedBalance(t, ldg, "user-1", 10)

	_, err := svc.Claim(ctx, "user-1", "m-1", "key-1")
	if err == nil {
		t.Fatal("claim must fail when the posting append fails")
	}
	if ledger.StageOf(err) != ledger.StagePostingAppend {
		t.Fatalf("caller must see the posting failure, got %v", err)
	}

	acct, err := ldg.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 10 {
		t.Fatalf("compensation must restore the balance: %d", acct.Balance)
	}

	completion, err := mem.GetCompletionByMission(ctx, "m-1", "user-1")
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}
	if completion.Claimed {
		t.Fatal("completion must remain unclaimed")
	}
}

func TestClaimMarkFailureReversesCreditAndPosting(t *testing.T) {
	mem := memory.New()
	missionStore := &testutil.MissionStore{Real: mem, FailMarkClaimed: errors.New("store unavailable")}
	ldg := ledgersvc.New(mem, nil, nil)
	svc := New(missionStore, ldg, nil, nil)
	ctx := context.Background()

	seedCompletion(t, mem, "user-1", 50)
	seedBalance(t, ldg, "user-1", 10)

	_, err := svc.Claim(ctx, "user-1", "m-1", "key-1")
	if err == nil {
		t.Fatal("claim must fail when the claimed update fails")
	}
	if ledger.StageOf(err) != ledger.StageClaimUpdate {
		t.Fatalf("caller must see the claim update failure, got %v", err)
	}

	acct, err := ldg.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if acct.Balance != 10 {
		t.Fatalf("compensation must restore the balance: %d", acct.Balance)
	}

	// The posting log is append-only: the credit and its reversal must
	// both be present and sum to zero.
	postings, err := ldg.Statement(ctx, "user-1")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected credit and reversal postings, got %d", len(postings))
	}
	var sum int64
	for _, p := range postings {
		sum += p.Delta
	}
	if sum != 0 {
		t.Fatalf("postings must sum to the net movement of zero: %d", sum)
	}
}

func TestClaimDuplicateKey(t *testing.T) {
	store := memory.New()
	ldg := ledgersvc.New(store, nil, nil)
	svc := New(store, ldg, nil, nil)
	ctx := context.Background()

	seedCompletion(t, store, "user-1", 50)
	if _, err := svc.Claim(ctx, "user-1", "m-1", "key-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	if _, err := svc.Claim(ctx, "user-1", "m-1", "key-1"); !errors.Is(err, ledger.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestReportProgressCreatesCompletionAtTarget(t *testing.T) {
	store := memory.New()
	svc := New(store, ledgersvc.New(store, nil, nil), nil, nil)
	ctx := context.Background()

	progress, err := svc.ReportProgress(ctx, "user-1", "m-1", 2, 5, 50)
	if err != nil {
		t.Fatalf("report progress: %v", err)
	}
	if progress.ProgressValue != 2 || progress.Completed() {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if _, err := store.GetCompletionByMission(ctx, "m-1", "user-1"); !errors.Is(err, mission.ErrCompletionNotFound) {
		t.Fatalf("completion must not exist before target, got %v", err)
	}

	progress, err = svc.ReportProgress(ctx, "user-1", "m-1", 3, 5, 50)
	if err != nil {
		t.Fatalf("report progress: %v", err)
	}
	if !progress.Completed() {
		t.Fatalf("progress should be complete: %+v", progress)
	}

	completion, err := store.GetCompletionByMission(ctx, "m-1", "user-1")
	if err != nil {
		t.Fatalf("completion must exist at target: %v", err)
	}
	if completion.Claimed || completion.RewardPoints != 50 {
		t.Fatalf("unexpected completion: %+v", completion)
	}

	// Reporting further progress must not create a second completion.
	if _, err := svc.ReportProgress(ctx, "user-1", "m-1", 1, 5, 50); err != nil {
		t.Fatalf("extra progress: %v", err)
	}
	completions, err := svc.Completions(ctx, "user-1")
	if err != nil {
		t.Fatalf("completions: %v", err)
	}
	if len(completions) != 1 {
		t.Fatalf("expected one completion, got %d", len(completions))
	}
}
