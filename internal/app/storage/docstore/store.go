package docstore

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
)

// Store implements the storage interfaces against a PostgREST endpoint.
type Store struct {
	c *client
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.CollectionStore = (*Store)(nil)
var _ storage.MissionStore = (*Store)(nil)
var _ storage.ExchangeStore = (*Store)(nil)

// New creates a Store for the configured endpoint.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, fmt.Errorf("document store URL and service key are required")
	}
	return &Store{c: newClient(cfg)}, nil
}

// Health issues a minimal read to verify the endpoint answers.
func (s *Store) Health(ctx context.Context) error {
	var rows []ledger.Account
	return s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_accounts", "select=owner_id&limit=1"), nil, "", &rows)
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, ownerID string) (ledger.Account, error) {
	var rows []ledger.Account
	filter := eq("owner_id", ownerID) + "&limit=1"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_accounts", filter), nil, "", &rows); err != nil {
		return ledger.Account{}, err
	}
	if len(rows) == 0 {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return rows[0], nil
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	now := time.Now().UTC()
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now

	err := s.c.do(ctx, http.MethodPost, s.c.tableURL("reward_accounts", ""), acct, "return=minimal", nil)
	if err != nil {
		// A concurrent first reader won the insert; adopt the stored row.
		if statusOf(err) == http.StatusConflict {
			return s.GetAccount(ctx, acct.OwnerID)
		}
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccountBalance(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	patch := map[string]interface{}{
		"balance":    acct.Balance,
		"version":    acct.Version + 1,
		"updated_at": time.Now().UTC(),
	}

	// The version filter makes the write conditional; return=representation
	// tells us whether any row matched.
	filter := eq("owner_id", acct.OwnerID) + "&" + eq("version", strconv.FormatInt(acct.Version, 10))
	var rows []ledger.Account
	if err := s.c.do(ctx, http.MethodPatch, s.c.tableURL("reward_accounts", filter), patch, "return=representation", &rows); err != nil {
		return ledger.Account{}, err
	}
	if len(rows) == 0 {
		return ledger.Account{}, ledger.ErrVersionConflict
	}
	return rows[0], nil
}

func (s *Store) AppendPosting(ctx context.Context, p ledger.Posting) (ledger.Posting, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()

	err := s.c.do(ctx, http.MethodPost, s.c.tableURL("reward_postings", ""), p, "return=minimal", nil)
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			return ledger.Posting{}, ledger.ErrDuplicatePosting
		}
		return ledger.Posting{}, err
	}
	return p, nil
}

func (s *Store) GetPostingByKey(ctx context.Context, key string) (ledger.Posting, error) {
	var rows []ledger.Posting
	filter := eq("idempotency_key", key) + "&limit=1"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_postings", filter), nil, "", &rows); err != nil {
		return ledger.Posting{}, err
	}
	if len(rows) == 0 {
		return ledger.Posting{}, ledger.ErrPostingNotFound
	}
	return rows[0], nil
}

func (s *Store) ListPostings(ctx context.Context, accountID string) ([]ledger.Posting, error) {
	var rows []ledger.Posting
	filter := eq("account_id", accountID) + "&order=created_at.desc"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_postings", filter), nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// --- CollectionStore --------------------------------------------------------

func (s *Store) CreateCollection(ctx context.Context, col collection.Collection) (collection.Collection, error) {
	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	col.CreatedAt = time.Now().UTC()

	if err := s.c.do(ctx, http.MethodPost, s.c.tableURL("reward_collections", ""), col, "return=minimal", nil); err != nil {
		if statusOf(err) == http.StatusConflict {
			return collection.Collection{}, collection.ErrCollectionExists
		}
		return collection.Collection{}, err
	}
	return col, nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (collection.Collection, error) {
	var rows []collection.Collection
	filter := eq("id", id) + "&limit=1"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_collections", filter), nil, "", &rows); err != nil {
		return collection.Collection{}, err
	}
	if len(rows) == 0 {
		return collection.Collection{}, collection.ErrCollectionNotFound
	}
	return rows[0], nil
}

func (s *Store) ListCollections(ctx context.Context, userID string) ([]collection.Collection, error) {
	var rows []collection.Collection
	filter := eq("user_id", userID) + "&order=created_at.desc"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_collections", filter), nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// --- MissionStore -----------------------------------------------------------

func (s *Store) GetCompletionByMission(ctx context.Context, missionID, userID string) (mission.Completion, error) {
	var rows []mission.Completion
	filter := eq("mission_id", missionID) + "&" + eq("user_id", userID) + "&limit=1"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_completions", filter), nil, "", &rows); err != nil {
		return mission.Completion{}, err
	}
	if len(rows) == 0 {
		return mission.Completion{}, mission.ErrCompletionNotFound
	}
	return rows[0], nil
}

func (s *Store) CreateCompletion(ctx context.Context, c mission.Completion) (mission.Completion, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	if err := s.c.do(ctx, http.MethodPost, s.c.tableURL("reward_completions", ""), c, "return=minimal", nil); err != nil {
		if statusOf(err) == http.StatusConflict {
			return mission.Completion{}, mission.ErrCompletionExists
		}
		return mission.Completion{}, err
	}
	return c, nil
}

func (s *Store) MarkCompletionClaimed(ctx context.Context, id string) (mission.Completion, error) {
	patch := map[string]interface{}{
		"claimed":    true,
		"claimed_at": time.Now().UTC(),
	}

	// claimed=eq.false in the filter makes the transition one-shot on the
	// store side; a row that already flipped simply does not match.
	filter := eq("id", id) + "&claimed=eq.false"
	var rows []mission.Completion
	if err := s.c.do(ctx, http.MethodPatch, s.c.tableURL("reward_completions", filter), patch, "return=representation", &rows); err != nil {
		return mission.Completion{}, err
	}
	if len(rows) == 0 {
		var existing []mission.Completion
		if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_completions", eq("id", id)+"&limit=1"), nil, "", &existing); err != nil {
			return mission.Completion{}, err
		}
		if len(existing) == 0 {
			return mission.Completion{}, mission.ErrCompletionNotFound
		}
		return mission.Completion{}, mission.ErrAlreadyClaimed
	}
	return rows[0], nil
}

func (s *Store) ListCompletions(ctx context.Context, userID string) ([]mission.Completion, error) {
	var rows []mission.Completion
	filter := eq("user_id", userID) + "&order=created_at.desc"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_completions", filter), nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) GetProgress(ctx context.Context, missionID, userID string) (mission.Progress, error) {
	var rows []mission.Progress
	filter := eq("mission_id", missionID) + "&" + eq("user_id", userID) + "&limit=1"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_progress", filter), nil, "", &rows); err != nil {
		return mission.Progress{}, err
	}
	if len(rows) == 0 {
		return mission.Progress{}, mission.ErrProgressNotFound
	}
	return rows[0], nil
}

func (s *Store) UpsertProgress(ctx context.Context, p mission.Progress) (mission.Progress, error) {
	p.UpdatedAt = time.Now().UTC()

	prefer := "resolution=merge-duplicates,return=minimal"
	if err := s.c.do(ctx, http.MethodPost, s.c.tableURL("reward_progress", "on_conflict=mission_id,user_id"), p, prefer, nil); err != nil {
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

	if err := s.c.do(ctx, http.MethodPost, s.c.tableURL("reward_transactions", ""), tx, "return=minimal", nil); err != nil {
		if statusOf(err) == http.StatusConflict {
			return exchange.Transaction{}, exchange.ErrTransactionExists
		}
		return exchange.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (exchange.Transaction, error) {
	var rows []exchange.Transaction
	filter := eq("id", id) + "&limit=1"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_transactions", filter), nil, "", &rows); err != nil {
		return exchange.Transaction{}, err
	}
	if len(rows) == 0 {
		return exchange.Transaction{}, exchange.ErrTransactionNotFound
	}
	return rows[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]exchange.Transaction, error) {
	var rows []exchange.Transaction
	filter := eq("user_id", userID) + "&order=created_at.desc"
	if err := s.c.do(ctx, http.MethodGet, s.c.tableURL("reward_transactions", filter), nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status exchange.Status) (exchange.Transaction, error) {
	patch := map[string]interface{}{"status": status}

	var rows []exchange.Transaction
	if err := s.c.do(ctx, http.MethodPatch, s.c.tableURL("reward_transactions", eq("id", id)), patch, "return=representation", &rows); err != nil {
		return exchange.Transaction{}, err
	}
	if len(rows) == 0 {
		return exchange.Transaction{}, exchange.ErrTransactionNotFound
	}
	return rows[0], nil
}
