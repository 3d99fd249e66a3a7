// Package analysis derives reviewer statistics from the review audit trail.
package analysis

import (
	"sort"
	"strings"
	"time"

	"reviewbot/backend/internal/models"
)

// ReviewerStats summarizes one reviewer's activity over a set of audit rows.
type ReviewerStats struct {
	ActorID        string `json:"actor_id"`
	Decisions      int    `json:"decisions"`
	Approvals      int    `json:"approvals"`
	Rejections     int    `json:"rejections"`
	PermRejections int    `json:"perm_rejections"`
	Kicks          int    `json:"kicks"`
	InfoRequests   int    `json:"info_requests"`
	Claims         int    `json:"claims"`
	Unblocks       int    `json:"unblocks"`

	// FlowFailures counts actions whose platform flow reported at least one failed step.
	FlowFailures int `json:"flow_failures"`

	// AvgClaimToDecision is measured from the reviewer's claim to their
	// decision on the same application. Zero when no claimed decisions exist.
	AvgClaimToDecision time.Duration `json:"avg_claim_to_decision"`

	claimedDecisions int
	claimTime        time.Duration
}

// Reviewers computes per-reviewer statistics, busiest reviewer first.
// Rows written by the system actor are ignored. Actions must be in
// insertion order.
func Reviewers(actions []models.ReviewAction) []ReviewerStats {
	byActor := map[string]*ReviewerStats{}
	openClaims := map[string]time.Time{} // app id + actor -> claimed at

	for _, a := range actions {
		if a.ActorID == models.SystemActorID {
			if a.Action == models.ActionUnclaim {
				for key := range openClaims {
					if strings.HasPrefix(key, a.ApplicationID+"/") {
						delete(openClaims, key)
					}
				}
			}
			continue
		}
		s, ok := byActor[a.ActorID]
		if !ok {
			s = &ReviewerStats{ActorID: a.ActorID}
			byActor[a.ActorID] = s
		}
		key := a.ApplicationID + "/" + a.ActorID

		switch a.Action {
		case models.ActionClaim:
			s.Claims++
			openClaims[key] = a.CreatedAt
			continue
		case models.ActionUnclaim:
			delete(openClaims, key)
			continue
		case models.ActionNeedInfo:
			s.InfoRequests++
		case models.ActionUnblock:
			s.Unblocks++
		case models.ActionApprove:
			s.Approvals++
		case models.ActionReject:
			s.Rejections++
		case models.ActionPermReject:
			s.PermRejections++
		case models.ActionKick:
			s.Kicks++
		default:
			continue
		}
		if hasFailedStep(a.Meta) {
			s.FlowFailures++
		}
		if !isDecision(a.Action) {
			continue
		}
		s.Decisions++
		if at, ok := openClaims[key]; ok {
			s.claimedDecisions++
			s.claimTime += a.CreatedAt.Sub(at)
			delete(openClaims, key)
		}
	}

	out := make([]ReviewerStats, 0, len(byActor))
	for _, s := range byActor {
		if s.claimedDecisions > 0 {
			s.AvgClaimToDecision = s.claimTime / time.Duration(s.claimedDecisions)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Decisions != out[j].Decisions {
			return out[i].Decisions > out[j].Decisions
		}
		return out[i].ActorID < out[j].ActorID
	})
	return out
}

func isDecision(k models.ActionKind) bool {
	switch k {
	case models.ActionApprove, models.ActionReject, models.ActionPermReject, models.ActionKick:
		return true
	}
	return false
}

func hasFailedStep(meta models.Metadata) bool {
	for k := range meta {
		if strings.HasSuffix(k, "_error") {
			return true
		}
	}
	return false
}
