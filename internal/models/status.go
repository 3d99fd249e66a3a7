package models

// Status is the lifecycle position of an application.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusSubmitted    Status = "submitted"
	StatusNeedsInfo    Status = "needs_info"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusPermRejected Status = "perm_rejected"
	StatusKicked       Status = "kicked"
)

// IsTerminal reports whether no further status transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusPermRejected, StatusKicked:
		return true
	}
	return false
}

// IsPending reports whether the application is waiting on a reviewer decision.
func (s Status) IsPending() bool {
	return s == StatusSubmitted || s == StatusNeedsInfo
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusNeedsInfo:
		return true
	}
	return s.IsTerminal()
}

// ActionKind names a review action recorded in the audit trail.
type ActionKind string

const (
	ActionSubmit      ActionKind = "submit"
	ActionClaim       ActionKind = "claim"
	ActionUnclaim     ActionKind = "unclaim"
	ActionApprove     ActionKind = "approve"
	ActionReject      ActionKind = "reject"
	ActionPermReject  ActionKind = "perm_reject"
	ActionKick        ActionKind = "kick"
	ActionNeedInfo    ActionKind = "need_info"
	ActionUnblock     ActionKind = "unblock"
	ActionModmailOpen ActionKind = "modmail_open"
)

// SystemActorID is recorded as the actor for actions taken by the bot itself,
// such as releasing expired claims.
const SystemActorID = "system"
