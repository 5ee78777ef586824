// Package collection defines the deposit record created when a user drops
// recyclable waste at a partner site.
package collection

import (
	"errors"
	"time"
)

var (
	// ErrCollectionNotFound signals a lookup miss by collection id.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCollectionExists signals a write reusing an existing collection id.
	ErrCollectionExists = errors.New("collection already exists")
)

// Status of a collection record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Collection records a single deposit event. It is created by the deposit
// workflow and immutable afterwards within this core.
type Collection struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	PartnerID      string    `json:"partner_id"`
	TotalWeightKg  float64   `json:"total_weight_kg"`
	ReceivedPoints int64     `json:"received_points"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScanRecord is the already-decoded QR payload handed to the deposit
// workflow. Decoding the payload itself is an external collaborator.
type ScanRecord struct {
	LocationID string  `json:"location_id"`
	WeightKg   float64 `json:"weight_kg"`
	Points     int64   `json:"points"`
}
