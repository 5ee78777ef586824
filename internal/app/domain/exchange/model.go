// Package exchange defines the exchange-to-cash transaction and the static
// method catalog it is validated against.
package exchange

import (
	"errors"
	"time"
)

// Status of an exchange transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Transaction records one exchange-to-cash request. The core creates it as
// pending; later status transitions belong to an external reconciliation
// process, not to the workflows here.
type Transaction struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	MethodType      string    `json:"method_type"`
	AccountNumber   string    `json:"account_number"`
	AccountName     string    `json:"account_name"`
	PointsExchanged int64     `json:"points_exchanged"`
	AmountReceived  int64     `json:"amount_received"`
	AdminFee        int64     `json:"admin_fee"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Method is one entry of the static exchange method catalog.
type Method struct {
	Type           string  `json:"type" yaml:"type"`
	Name           string  `json:"name" yaml:"name"`
	MinAmount      int64   `json:"min_amount" yaml:"min_amount"`
	MaxAmount      int64   `json:"max_amount" yaml:"max_amount"`
	ConversionRate float64 `json:"conversion_rate" yaml:"conversion_rate"`
	AdminFee       int64   `json:"admin_fee" yaml:"admin_fee"`
}

// AmountReceived computes the cash value of exchanging amount points:
// floor(amount * rate) minus the method's admin fee.
func (m Method) AmountReceived(amount int64) int64 {
	return int64(float64(amount)*m.ConversionRate) - m.AdminFee
}

var (
	// ErrMethodNotFound signals an exchange naming an unknown method type.
	ErrMethodNotFound = errors.New("exchange method not found")
	// ErrTransactionNotFound signals a lookup miss by transaction id.
	ErrTransactionNotFound = errors.New("exchange transaction not found")
	// ErrTransactionExists signals a write reusing an existing transaction id.
	ErrTransactionExists = errors.New("exchange transaction already exists")
)

// Catalog is the read-only exchange method catalog, provided by configuration.
type Catalog interface {
	// Method resolves a method by type.
	Method(methodType string) (Method, error)
	// Methods lists every configured method.
	Methods() []Method
}

// StaticCatalog is a Catalog backed by a fixed slice.
type StaticCatalog []Method

func (c StaticCatalog) Method(methodType string) (Method, error) {
	for _, m := range c {
		if m.Type == methodType {
			return m, nil
		}
	}
	return Method{}, ErrMethodNotFound
}

func (c StaticCatalog) Methods() []Method {
	out := make([]Method, len(c))
	copy(out, c)
	return out
}
