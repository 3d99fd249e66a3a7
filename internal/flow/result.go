package flow

import (
	"fmt"
	"strings"

	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/platform"
)

// Step names one external call made by a flow.
type Step string

const (
	StepFetchMember Step = "fetch_member"
	StepGrantRole   Step = "grant_role"
	StepDM          Step = "dm"
	StepKick        Step = "kick"
	StepCloseThread Step = "close_thread"
)

// StepError describes why a step failed.
type StepError struct {
	Code    platform.Code `json:"code"`
	Message string        `json:"message"`
}

func (e *StepError) Error() string { return string(e.Code) + ": " + e.Message }

// Result is the structured outcome of a flow. A flow never returns an error;
// every failure is recorded here against the step that produced it.
type Result struct {
	Flow models.ActionKind `json:"flow"`

	RoleApplied   bool `json:"role_applied"`
	DMDelivered   bool `json:"dm_delivered"`
	KickSucceeded bool `json:"kick_succeeded"`
	ThreadClosed  bool `json:"thread_closed"`
	// RolePresent means the member already had the role before the flow ran.
	RolePresent bool `json:"role_present,omitempty"`

	Errors    map[Step]*StepError `json:"errors,omitempty"`
	attempted []Step
}

func newResult(flow models.ActionKind) *Result {
	return &Result{Flow: flow}
}

func (r *Result) attempt(s Step) {
	for _, a := range r.attempted {
		if a == s {
			return
		}
	}
	r.attempted = append(r.attempted, s)
}

func (r *Result) fail(s Step, err error) {
	r.attempt(s)
	if r.Errors == nil {
		r.Errors = make(map[Step]*StepError)
	}
	code := platform.CodeOf(err)
	r.Errors[s] = &StepError{Code: code, Message: describe(code, err)}
}

// forget drops every trace of step s.
func (r *Result) forget(s Step) {
	delete(r.Errors, s)
	for i, a := range r.attempted {
		if a == s {
			r.attempted = append(r.attempted[:i], r.attempted[i+1:]...)
			break
		}
	}
}

// Attempted reports whether the flow tried step s.
func (r *Result) Attempted(s Step) bool {
	for _, a := range r.attempted {
		if a == s {
			return true
		}
	}
	return false
}

// Err returns the failure recorded for step s, or nil.
func (r *Result) Err(s Step) *StepError {
	return r.Errors[s]
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// Metadata renders the result for the audit row. Only attempted steps are
// included.
func (r *Result) Metadata() models.Metadata {
	meta := models.Metadata{}
	for _, s := range r.attempted {
		switch s {
		case StepGrantRole:
			meta["role_applied"] = r.RoleApplied
		case StepDM:
			meta["dm_delivered"] = r.DMDelivered
		case StepKick:
			meta["kick_succeeded"] = r.KickSucceeded
		case StepCloseThread:
			meta["thread_closed"] = r.ThreadClosed
		}
		if e := r.Errors[s]; e != nil {
			meta[string(s)+"_error"] = string(e.Code)
		}
	}
	if r.RolePresent {
		meta["role_present"] = true
	}
	return meta
}

// Summary is a short human description of failed steps, empty when every
// attempted step succeeded.
func (r *Result) Summary() string {
	if !r.Failed() {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, s := range r.attempted {
		if e := r.Errors[s]; e != nil {
			parts = append(parts, fmt.Sprintf("%s failed (%s)", stepLabel(s), e.Message))
		}
	}
	return strings.Join(parts, "; ")
}

func stepLabel(s Step) string {
	switch s {
	case StepFetchMember:
		return "member lookup"
	case StepGrantRole:
		return "role grant"
	case StepDM:
		return "DM"
	case StepKick:
		return "kick"
	case StepCloseThread:
		return "thread close"
	}
	return string(s)
}

func describe(code platform.Code, err error) string {
	switch code {
	case platform.CodeNotFound:
		return "member is not in the guild"
	case platform.CodeMissingPermissions:
		return "the bot is missing permissions"
	case platform.CodeHierarchy:
		return "the target is at or above the bot in the role hierarchy"
	case platform.CodeCannotDM:
		return "the user does not accept direct messages"
	case platform.CodeTimeout:
		return "the platform did not respond in time"
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}
