package ledger

import (
	"context"
	"errors"
	"testing"

	domain "github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/storage/memory"
	"github.com/greencycle-id/rewards-core/pkg/testutil"
)

func TestEnsureAccountLazilyCreatesZeroBalance(t *testing.T) {
	svc := New(memory.New(), nil, nil)

	acct, err := svc.EnsureAccount(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	if acct.Balance != 0 {
		t.Fatalf("first read must yield a zero balance, got %d", acct.Balance)
	}

	again, err := svc.EnsureAccount(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.Version != acct.Version {
		t.Fatalf("second ensure must not recreate the account: %+v", again)
	}
}

func TestApplyDeltaCreditAndDebit(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	acct, err := svc.ApplyDelta(ctx, "test", "user-1", 150)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if acct.Balance != 150 {
		t.Fatalf("credit not applied: %d", acct.Balance)
	}

	acct, err = svc.ApplyDelta(ctx, "test", "user-1", -100)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acct.Balance != 50 {
		t.Fatalf("debit not applied: %d", acct.Balance)
	}

	if _, err := svc.ApplyDelta(ctx, "test", "user-1", -51); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	final, err := svc.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if final.Balance != 50 {
		t.Fatalf("rejected debit must not change the balance: %d", final.Balance)
	}
}

func TestApplyDeltaRetriesOnVersionConflict(t *testing.T) {
	flaky := &testutil.LedgerStore{Real: memory.New(), FailUpdateTimes: 2}
	svc := New(flaky, nil, nil)

	acct, err := svc.ApplyDelta(context.Background(), "test", "user-1", 10)
	if err != nil {
		t.Fatalf("apply delta should succeed within retry budget: %v", err)
	}
	if acct.Balance != 10 {
		t.Fatalf("delta lost across retries: %d", acct.Balance)
	}
}

func TestApplyDeltaGivesUpAfterRetryBudget(t *testing.T) {
	flaky := &testutil.LedgerStore{Real: memory.New(), FailUpdateTimes: 10}
	svc := New(flaky, nil, nil)

	_, err := svc.ApplyDelta(context.Background(), "test", "user-1", 10)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected exhausted conflict error, got %v", err)
	}
}

func TestCheckDuplicate(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)
	ctx := context.Background()

	if err := svc.CheckDuplicate(ctx, ""); !domain.IsValidation(err) {
		t.Fatalf("blank key must be a validation error, got %v", err)
	}
	if err := svc.CheckDuplicate(ctx, "key-1"); err != nil {
		t.Fatalf("fresh key must pass: %v", err)
	}

	if _, err := store.AppendPosting(ctx, domain.Posting{
		AccountID:      "user-1",
		Delta:          5,
		RefType:        domain.RefDeposit,
		IdempotencyKey: "key-1",
	}); err != nil {
		t.Fatalf("append posting: %v", err)
	}

	if err := svc.CheckDuplicate(ctx, "key-1"); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestAppendValidation(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	if _, err := svc.Append(ctx, domain.Posting{AccountID: "u", Delta: 0, RefType: domain.RefDeposit}); !domain.IsValidation(err) {
		t.Fatalf("zero delta must be rejected, got %v", err)
	}
	if _, err := svc.Append(ctx, domain.Posting{AccountID: "u", Delta: 1, RefType: "bogus"}); !domain.IsValidation(err) {
		t.Fatalf("unknown ref type must be rejected, got %v", err)
	}
	if _, err := svc.Append(ctx, domain.Posting{Delta: 1, RefType: domain.RefDeposit}); !domain.IsValidation(err) {
		t.Fatalf("missing account id must be rejected, got %v", err)
	}
}

func TestJournalWindow(t *testing.T) {
	j := NewJournal(2, nil)
	j.Record(Entry{Workflow: "a"})
	j.Record(Entry{Workflow: "b"})
	j.Record(Entry{Workflow: "c"})

	entries := j.List()
	if len(entries) != 2 {
		t.Fatalf("window must cap entries: %d", len(entries))
	}
	if entries[0].Workflow != "b" || entries[1].Workflow != "c" {
		t.Fatalf("oldest entry must be evicted: %+v", entries)
	}
	if entries[0].Time.IsZero() {
		t.Fatal("entry time must be stamped")
	}
}
