package decision

import (
	"fmt"
	"strings"

	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
)

// OutcomeDenied is the reply outcome when the claim guard refused the action.
const OutcomeDenied = "denied"

// Reply is what a command surface renders back to the staff member.
type Reply struct {
	Action  models.ActionKind     `json:"action"`
	Outcome string                `json:"outcome"`
	Message string                `json:"message"`
	Denial  *review.Denial        `json:"denial,omitempty"`
	Tx      *review.TxResult      `json:"tx,omitempty"`
	Claim   *review.ClaimResult   `json:"claim,omitempty"`
	Unclaim *review.UnclaimResult `json:"unclaim,omitempty"`
	Flow    *flow.Result          `json:"flow,omitempty"`
}

// Denied reports whether the claim guard refused the action.
func (r *Reply) Denied() bool {
	return r != nil && r.Outcome == OutcomeDenied
}

func deniedReply(action models.ActionKind, denial *review.Denial) *Reply {
	if denial == nil {
		return nil
	}
	return &Reply{Action: action, Outcome: OutcomeDenied, Denial: denial, Message: denial.Message()}
}

var pastTense = map[models.ActionKind]string{
	models.ActionApprove:    "Approved",
	models.ActionReject:     "Rejected",
	models.ActionPermReject: "Permanently rejected",
	models.ActionKick:       "Kicked",
	models.ActionNeedInfo:   "Asked the applicant for more information",
	models.ActionUnblock:    "Unblocked",
}

func describeTx(tx *review.TxResult) string {
	switch tx.Outcome {
	case review.OutcomeAlready:
		return fmt.Sprintf("Nothing to do: this application is already %s.", tx.Status)
	case review.OutcomeTerminal:
		return fmt.Sprintf("This application was already resolved as %s and cannot be changed.", tx.Status)
	case review.OutcomeInvalid:
		return fmt.Sprintf("This action is not possible while the application is %s.", tx.Status)
	}
	return pastTense[tx.Action] + "."
}

// describeChanged renders a committed action, qualified by any failed
// flow steps, e.g. "Approved, but DM failed (...)".
func describeChanged(r *Reply) string {
	head := pastTense[r.Action]
	if head == "" {
		head = "Done"
	}
	if r.Flow == nil || !r.Flow.Failed() {
		return head + "."
	}
	return head + ", but " + strings.TrimSpace(r.Flow.Summary()) + "."
}
