package review

import (
	"fmt"
	"time"

	"reviewbot/backend/internal/models"
)

// Denial explains why the claim guard refused an action.
type Denial struct {
	HolderID  string    `json:"holder_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Message is the caller-facing denial text naming the claim holder.
func (d *Denial) Message() string {
	return fmt.Sprintf("This application is claimed by %s (since %s). Only the claim holder can act on it; ask them to release it.",
		d.HolderID, d.ClaimedAt.UTC().Format(time.RFC822))
}

// Guard decides whether actorID may act on an application holding claim.
// It returns nil when the application is unclaimed or claimed by actorID.
// A claim held by anyone else denies every action, unclaim included, and
// no role bypasses it.
func Guard(claim *models.Claim, actorID string) *Denial {
	if claim == nil || claim.ReviewerID == actorID {
		return nil
	}
	return &Denial{HolderID: claim.ReviewerID, ClaimedAt: claim.ClaimedAt}
}
