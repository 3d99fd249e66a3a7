package review

import "reviewbot/backend/internal/models"

// Decision is a resolving action a reviewer can take on an application.
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionPermReject Decision = "perm_reject"
	DecisionKick       Decision = "kick"
)

// Target is the terminal status a decision moves an application into.
func (d Decision) Target() models.Status {
	switch d {
	case DecisionApprove:
		return models.StatusApproved
	case DecisionReject:
		return models.StatusRejected
	case DecisionPermReject:
		return models.StatusPermRejected
	case DecisionKick:
		return models.StatusKicked
	}
	return ""
}

// Action is the audit kind recorded for the decision.
func (d Decision) Action() models.ActionKind {
	switch d {
	case DecisionApprove:
		return models.ActionApprove
	case DecisionReject:
		return models.ActionReject
	case DecisionPermReject:
		return models.ActionPermReject
	case DecisionKick:
		return models.ActionKick
	}
	return ""
}

// Transition evaluates the legal-transition table for a decision taken on an
// application currently in status from.
//
//	from                 approve  reject    perm_reject  kick
//	draft                invalid  invalid   invalid      invalid
//	submitted/needs_info changed  changed   changed      changed
//	approved             already  terminal  terminal     terminal
//	rejected             terminal already   changed      terminal
//	perm_rejected        terminal terminal  already      terminal
//	kicked               terminal terminal  terminal     already
//
// rejected -> perm_rejected is the only move out of a terminal status; it
// only narrows future eligibility.
func Transition(d Decision, from models.Status) Outcome {
	switch {
	case d.Target() == "" || !from.Valid():
		return OutcomeInvalid
	case from == models.StatusDraft:
		return OutcomeInvalid
	case from.IsPending():
		return OutcomeChanged
	case from == d.Target():
		return OutcomeAlready
	case from == models.StatusRejected && d == DecisionPermReject:
		return OutcomeChanged
	default:
		return OutcomeTerminal
	}
}
