package review

import (
	"reviewbot/backend/internal/models"
)

// Outcome is the four-way result of a status transaction, plus
// OutcomeClaimed when the locked claim belongs to another reviewer.
type Outcome string

const (
	// OutcomeAlready means the application already has the requested status.
	OutcomeAlready Outcome = "already"
	// OutcomeTerminal means the application is in a different terminal status.
	OutcomeTerminal Outcome = "terminal"
	// OutcomeInvalid means the current status does not allow the transition.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeChanged means the transition and its audit row were committed.
	OutcomeChanged Outcome = "changed"
	// OutcomeClaimed means another reviewer holds the claim; nothing was written.
	OutcomeClaimed Outcome = "claimed"
)

// TxResult reports what a transaction did. Only OutcomeChanged carries an
// ActionID; the other outcomes wrote nothing.
type TxResult struct {
	Outcome  Outcome           `json:"outcome"`
	Action   models.ActionKind `json:"action"`
	Previous models.Status     `json:"previous,omitempty"`
	Status   models.Status     `json:"status,omitempty"`
	ActionID int64             `json:"action_id,omitempty"`
	Denial   *Denial           `json:"denial,omitempty"`

	// Application is the row as it stands after the transaction.
	// It is nil for an unblock that found nothing to clear.
	Application *models.Application `json:"application,omitempty"`
}

// Changed reports whether the transaction wrote anything.
func (r *TxResult) Changed() bool {
	return r != nil && r.Outcome == OutcomeChanged
}

// ClaimOutcome is the result of a claim attempt.
type ClaimOutcome string

const (
	ClaimAcquired     ClaimOutcome = "acquired"
	ClaimAlreadyYours ClaimOutcome = "already_yours"
	ClaimConflict     ClaimOutcome = "conflict"
	ClaimNotClaimable ClaimOutcome = "not_claimable"
)

// ClaimResult reports a claim attempt. Claim is the claim in force after
// the attempt, which is someone else's on ClaimConflict.
type ClaimResult struct {
	Outcome  ClaimOutcome  `json:"outcome"`
	Claim    *models.Claim `json:"claim,omitempty"`
	Status   models.Status `json:"status,omitempty"`
	ActionID int64         `json:"action_id,omitempty"`
}

// UnclaimOutcome is the result of a release attempt.
type UnclaimOutcome string

const (
	UnclaimReleased   UnclaimOutcome = "released"
	UnclaimNotClaimed UnclaimOutcome = "not_claimed"
	UnclaimConflict   UnclaimOutcome = "conflict"
)

// UnclaimResult reports a release attempt.
type UnclaimResult struct {
	Outcome  UnclaimOutcome `json:"outcome"`
	Claim    *models.Claim  `json:"claim,omitempty"`
	ActionID int64          `json:"action_id,omitempty"`
}
