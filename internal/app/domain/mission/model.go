// Package mission defines mission progress and completion records.
package mission

import (
	"errors"
	"time"
)

// Completion is created once progress reaches target. Claimed transitions
// false to true exactly once; the store enforces the transition.
type Completion struct {
	ID           string    `json:"id"`
	MissionID    string    `json:"mission_id"`
	UserID       string    `json:"user_id"`
	RewardPoints int64     `json:"reward_points"`
	Claimed      bool      `json:"claimed"`
	CreatedAt    time.Time `json:"created_at"`
	ClaimedAt    time.Time `json:"claimed_at,omitempty"`
}

// Progress tracks a user's advance toward a mission target. It is written by
// progress-reporting events and read by the claim workflow.
type Progress struct {
	MissionID     string    `json:"mission_id"`
	UserID        string    `json:"user_id"`
	ProgressValue int64     `json:"progress_value"`
	TargetValue   int64     `json:"target_value"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Completed reports whether the progress has reached its target.
func (p Progress) Completed() bool {
	return p.TargetValue > 0 && p.ProgressValue >= p.TargetValue
}

var (
	// ErrNotCompleted signals a claim for a mission with no completion record.
	ErrNotCompleted = errors.New("mission not completed")
	// ErrAlreadyClaimed signals a claim for a completion already claimed.
	ErrAlreadyClaimed = errors.New("mission reward already claimed")
	// ErrCompletionNotFound signals a lookup miss by completion id.
	ErrCompletionNotFound = errors.New("mission completion not found")
	// ErrCompletionExists signals a second completion for the same
	// mission and user.
	ErrCompletionExists = errors.New("mission completion already exists")
	// ErrProgressNotFound signals that no progress record exists yet.
	ErrProgressNotFound = errors.New("mission progress not found")
)
