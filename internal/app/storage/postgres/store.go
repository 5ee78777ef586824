package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.CollectionStore = (*Store)(nil)
var _ storage.MissionStore = (*Store)(nil)
var _ storage.ExchangeStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, ownerID string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, balance, version, created_at, updated_at
		FROM reward_accounts
		WHERE owner_id = $1
	`, ownerID)

	var acct ledger.Account
	if err := row.Scan(&acct.OwnerID, &acct.Balance, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrAccountNotFound
		}
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	now := time.Now().UTC()
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now

	// Two concurrent first readers may race the insert; the loser adopts the
	// stored row, which carries the same zero value.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_accounts (owner_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, acct.OwnerID, acct.Balance, acct.Version, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return s.GetAccount(ctx, acct.OwnerID)
		}
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccountBalance(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE reward_accounts
		SET balance = $2, version = version + 1, updated_at = $3
		WHERE owner_id = $1 AND version = $4
	`, acct.OwnerID, acct.Balance, acct.UpdatedAt, acct.Version)
	if err != nil {
		return ledger.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.Account{}, ledger.ErrVersionConflict
	}
	acct.Version++
	return acct, nil
}

func (s *Store) AppendPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_postings (id, account_id, delta, ref_type, ref_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.AccountID, p.Delta, string(p.RefType), p.RefID, p.IdempotencyKey, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Posting{}, ledger.ErrDuplicatePosting
		}
		return ledger.Posting{}, err
	}
	return p, nil
}

func (s *Store) GetPostingByKey(ctx context.Context, key string) (ledger.Posting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, delta, ref_type, ref_id, idempotency_key, created_at
		FROM reward_postings
		WHERE idempotency_key = $1
	`, key)

	var p ledger.Posting
	if err := row.Scan(&p.ID, &p.AccountID, &p.Delta, &p.RefType, &p.RefID, &p.IdempotencyKey, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Posting{}, ledger.ErrPostingNotFound
		}
		return ledger.Posting{}, err
	}
	return p, nil
}

func (s *Store) ListPostings(ctx context.Context, accountID string) ([]ledger.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, delta, ref_type, ref_id, idempotency_key, created_at
		FROM reward_postings
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Posting
	for rows.Next() {
		var p ledger.Posting
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Delta, &p.RefType, &p.RefID, &p.IdempotencyKey, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- CollectionStore --------------------------------------------------------

func (s *Store) CreateCollection(ctx context.Context, col collection.Collection) (collection.Collection, error) {
	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	col.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_collections (id, user_id, partner_id, total_weight_kg, received_points, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, col.ID, col.UserID, col.PartnerID, col.TotalWeightKg, col.ReceivedPoints, string(col.Status), col.CreatedAt)
	if isUniqueViolation(err) {
		return collection.Collection{}, collection.ErrCollectionExists
	}
	if err != nil {
		return collection.Collection{}, err
	}
	return col, nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (collection.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, partner_id, total_weight_kg, received_points, status, created_at
		FROM reward_collections
		WHERE id = $1
	`, id)

	var col collection.Collection
	if err := row.Scan(&col.ID, &col.UserID, &col.PartnerID, &col.TotalWeightKg, &col.ReceivedPoints, &col.Status, &col.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return collection.Collection{}, collection.ErrCollectionNotFound
		}
		return collection.Collection{}, err
	}
	return col, nil
}

func (s *Store) ListCollections(ctx context.Context, userID string) ([]collection.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, partner_id, total_weight_kg, received_points, status, created_at
		FROM reward_collections
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []collection.Collection
	for rows.Next() {
		var col collection.Collection
		if err := rows.Scan(&col.ID, &col.UserID, &col.PartnerID, &col.TotalWeightKg, &col.ReceivedPoints, &col.Status, &col.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, col)
	}
	return result, rows.Err()
}

// --- MissionStore -----------------------------------------------------------

func (s *Store) GetCompletionByMission(ctx context.Context, missionID, userID string) (mission.Completion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, user_id, reward_points, claimed, created_at, claimed_at
		FROM reward_completions
		WHERE mission_id = $1 AND user_id = $2
	`, missionID, userID)

	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Completion{}, mission.ErrCompletionNotFound
	}
	return c, err
}

func (s *Store) CreateCompletion(ctx context.Context, c mission.Completion) (mission.Completion, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_completions (id, mission_id, user_id, reward_points, claimed, created_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.MissionID, c.UserID, c.RewardPoints, c.Claimed, c.CreatedAt, toNullTime(c.ClaimedAt))
	if isUniqueViolation(err) {
		return mission.Completion{}, mission.ErrCompletionExists
	}
	if err != nil {
		return mission.Completion{}, err
	}
	return c, nil
}

func (s *Store) MarkCompletionClaimed(ctx context.Context, id string) (mission.Completion, error) {
	claimedAt := time.Now().UTC()

	// The claimed check rides in the WHERE clause so a concurrent claim loses
	// durably, not just in memory.
	result, err := s.db.ExecContext(ctx, `
		UPDATE reward_completions
		SET claimed = TRUE, claimed_at = $2
		WHERE id = $1 AND claimed = FALSE
	`, id, claimedAt)
	if err != nil {
		return mission.Completion{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, mission_id, user_id, reward_points, claimed, created_at, claimed_at
			FROM reward_completions
			WHERE id = $1
		`, id)
		if _, err := scanCompletion(row); errors.Is(err, sql.ErrNoRows) {
			return mission.Completion{}, mission.ErrCompletionNotFound
		}
		return mission.Completion{}, mission.ErrAlreadyClaimed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, user_id, reward_points, claimed, created_at, claimed_at
		FROM reward_completions
		WHERE id = $1
	`, id)
	return scanCompletion(row)
}

func (s *Store) ListCompletions(ctx context.Context, userID string) ([]mission.Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, user_id, reward_points, claimed, created_at, claimed_at
		FROM reward_completions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []mission.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetProgress(ctx context.Context, missionID, userID string) (mission.Progress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mission_id, user_id, progress_value, target_value, updated_at
		FROM reward_progress
		WHERE mission_id = $1 AND user_id = $2
	`, missionID, userID)

	var p mission.Progress
	if err := row.Scan(&p.MissionID, &p.UserID, &p.ProgressValue, &p.TargetValue, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mission.Progress{}, mission.ErrProgressNotFound
		}
		return mission.Progress{}, err
	}
	return p, nil
}

func (s *Store) UpsertProgress(ctx context.Context, p mission.Progress) (mission.Progress, error) {
	p.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_progress (mission_id, user_id, progress_value, target_value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mission_id, user_id)
		DO UPDATE SET progress_value = $3, target_value = $4, updated_at = $5
	`, p.MissionID, p.UserID, p.ProgressValue, p.TargetValue, p.UpdatedAt)
	if err != nil {
		return mission.Progress{}, err
	}
	return p, nil
}

// --- ExchangeStore ----------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx exchange.Transaction) (exchange.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_transactions (id, user_id, method_type, account_number, account_name, points_exchanged, amount_received, admin_fee, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tx.ID, tx.UserID, tx.MethodType, tx.AccountNumber, tx.AccountName, tx.PointsExchanged, tx.AmountReceived, tx.AdminFee, string(tx.Status), tx.CreatedAt)
	if isUniqueViolation(err) {
		return exchange.Transaction{}, exchange.ErrTransactionExists
	}
	if err != nil {
		return exchange.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (exchange.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, method_type, account_number, account_name, points_exchanged, amount_received, admin_fee, status, created_at
		FROM reward_transactions
		WHERE id = $1
	`, id)

	var tx exchange.Transaction
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.MethodType, &tx.AccountNumber, &tx.AccountName, &tx.PointsExchanged, &tx.AmountReceived, &tx.AdminFee, &tx.Status, &tx.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exchange.Transaction{}, exchange.ErrTransactionNotFound
		}
		return exchange.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]exchange.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, method_type, account_number, account_name, points_exchanged, amount_received, admin_fee, status, created_at
		FROM reward_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []exchange.Transaction
	for rows.Next() {
		var tx exchange.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.MethodType, &tx.AccountNumber, &tx.AccountName, &tx.PointsExchanged, &tx.AmountReceived, &tx.AdminFee, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status exchange.Status) (exchange.Transaction, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reward_transactions
		SET status = $2
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return exchange.Transaction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return exchange.Transaction{}, exchange.ErrTransactionNotFound
	}
	return s.GetTransaction(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCompletion(row rowScanner) (mission.Completion, error) {
	var (
		c         mission.Completion
		claimedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.MissionID, &c.UserID, &c.RewardPoints, &c.Claimed, &c.CreatedAt, &claimedAt); err != nil {
		return mission.Completion{}, err
	}
	if claimedAt.Valid {
		c.ClaimedAt = claimedAt.Time.UTC()
	}
	return c, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
