// Package ledger defines the point account and its append-only posting log.
//
// The account balance and the postings that produced it live in separate
// documents of a remote store that offers no multi-document atomicity, so
// every invariant here is upheld (or knowingly not upheld) by the workflow
// layer, not by the store.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Account holds a user's current point balance.
//
// Version is a compare-and-swap token: a balance write names the version it
// read, and the store rejects the write if the stored version has moved on.
type Account struct {
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefType names the domain event that produced a posting.
type RefType string

const (
	RefDeposit           RefType = "deposit"
	RefMissionCompletion RefType = "mission_completion"
	RefWithdrawal        RefType = "withdrawal"
)

// Valid reports whether the ref type is one of the known causes.
func (r RefType) Valid() bool {
	switch r {
	case RefDeposit, RefMissionCompletion, RefWithdrawal:
		return true
	}
	return false
}

// Posting is one append-only audit record of a single balance delta.
//
// IdempotencyKey is caller-generated and unique across the account's log; the
// store rejects a reused key so a re-submitted operation cannot double-post.
type Posting struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Delta          int64     `json:"delta"`
	RefType        RefType   `json:"ref_type"`
	RefID          string    `json:"ref_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

var (
	// ErrUnauthenticated signals a workflow invoked without a caller
	// identity. Fatal to the workflow; never retried automatically.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAccountNotFound signals that no account document exists for the owner.
	ErrAccountNotFound = errors.New("point account not found")
	// ErrVersionConflict signals a compare-and-swap miss on a balance write.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrInsufficientBalance signals a debit that would take the balance negative.
	ErrInsufficientBalance = errors.New("insufficient point balance")
	// ErrDuplicatePosting signals an append reusing an idempotency key.
	ErrDuplicatePosting = errors.New("posting idempotency key already recorded")
	// ErrDuplicateRequest signals a workflow invocation whose idempotency key
	// was already processed; no state was mutated by the duplicate.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrPostingNotFound signals a lookup miss by id or idempotency key.
	ErrPostingNotFound = errors.New("posting not found")
)

// Workflow stages, used to tag remote failures so callers can distinguish
// "nothing happened yet" from "the balance already moved".
const (
	StageDomainRecord   = "domain_record"
	StageBalanceRead    = "balance_read"
	StageBalanceWrite   = "balance_write"
	StagePostingAppend  = "posting_append"
	StageClaimUpdate    = "claim_update"
	StageCompensation   = "compensation"
	StageDuplicateCheck = "duplicate_check"
)

// RemoteError wraps a failed repository or store call with the workflow stage
// it occurred in.
type RemoteError struct {
	Stage string
	Err   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote failure at %s: %v", e.Stage, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Remote tags err with a workflow stage. A nil err returns nil.
func Remote(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Stage: stage, Err: err}
}

// StageOf extracts the stage from a remote error, or "" when err carries none.
func StageOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Stage
	}
	return ""
}

// ValidationError reports caller input that fails a workflow precondition.
// It never follows a state mutation, so it never needs compensation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Invalid builds a validation error from a reason string.
func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
