package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/platform/migrations"
)

func TestUpdateAccountBalanceVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	// Zero rows matched means the stored version moved on.
	mock.ExpectExec("UPDATE reward_accounts").WillReturnResult(sqlmock.NewResult(0, 0))

	store := New(db)
	_, err = store.UpdateAccountBalance(context.Background(), ledger.Account{OwnerID: "user-1", Balance: 100, Version: 3})
	if !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestUpdateAccountBalanceAdvancesVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE reward_accounts").WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	acct, err := store.UpdateAccountBalance(context.Background(), ledger.Account{OwnerID: "user-1", Balance: 100, Version: 3})
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if acct.Version != 4 {
		t.Fatalf("version = %d, want 4", acct.Version)
	}
}

func TestMarkCompletionClaimedLosesToEarlierClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE reward_completions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM reward_completions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "mission_id", "user_id", "reward_points", "claimed", "created_at", "claimed_at"}).
			AddRow("c-1", "m-1", "user-1", 50, true, time.Now(), nil))

	store := New(db)
	_, err = store.MarkCompletionClaimed(context.Background(), "c-1")
	if !errors.Is(err, mission.ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)

	acct, err := store.CreateAccount(ctx, ledger.Account{OwnerID: "itest-user"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	acct.Balance = 150
	acct, err = store.UpdateAccountBalance(ctx, acct)
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}

	// A stale version must lose.
	stale := acct
	stale.Version--
	if _, err := store.UpdateAccountBalance(ctx, stale); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("stale write err = %v, want ErrVersionConflict", err)
	}

	p, err := store.AppendPosting(ctx, ledger.Posting{
		AccountID:      acct.OwnerID,
		Delta:          150,
		RefType:        ledger.RefDeposit,
		IdempotencyKey: "itest-key-1",
	})
	if err != nil {
		t.Fatalf("append posting: %v", err)
	}
	if _, err := store.AppendPosting(ctx, ledger.Posting{
		AccountID:      acct.OwnerID,
		Delta:          150,
		RefType:        ledger.RefDeposit,
		IdempotencyKey: p.IdempotencyKey,
	}); !errors.Is(err, ledger.ErrDuplicatePosting) {
		t.Fatalf("duplicate append err = %v, want ErrDuplicatePosting", err)
	}

	if _, err := store.CreateCollection(ctx, collection.Collection{
		UserID:         acct.OwnerID,
		PartnerID:      "loc-1",
		TotalWeightKg:  1.5,
		ReceivedPoints: 150,
		Status:         collection.StatusSuccess,
	}); err != nil {
		t.Fatalf("create collection: %v", err)
	}

	c, err := store.CreateCompletion(ctx, mission.Completion{MissionID: "itest-m1", UserID: acct.OwnerID, RewardPoints: 50})
	if err != nil {
		t.Fatalf("create completion: %v", err)
	}
	if _, err := store.MarkCompletionClaimed(ctx, c.ID); err != nil {
		t.Fatalf("mark claimed: %v", err)
	}
	if _, err := store.MarkCompletionClaimed(ctx, c.ID); !errors.Is(err, mission.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
}
