package types

import "time"

// ReviewKind says which path resolved a fill's review.
type ReviewKind string

const (
	// ReviewKindUser means the trader submitted a thought before the deadline.
	ReviewKindUser ReviewKind = "user"

	// ReviewKindAuto means the deadline elapsed and the review was generated
	// without user input.
	ReviewKindAuto ReviewKind = "auto"
)

// Review is the reflection attached to exactly one fill.
//
// A review row is created by the claim step with no text; Resolved reports
// whether the winning path has written the generated text yet. Once resolved
// a review is never overwritten.
type Review struct {
	FillID      int64      `json:"fill_id"`
	UserThought *string    `json:"user_thought,omitempty"`
	Text        string     `json:"text"`
	Kind        ReviewKind `json:"kind"`
	Resolved    bool       `json:"resolved"`
	ClaimedAt   time.Time  `json:"claimed_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
