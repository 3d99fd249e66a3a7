package review

import (
	"context"
	"time"

	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/storage"
)

// ClaimTx gives reviewerID the exclusive claim on an application. Drafts and
// resolved applications cannot be claimed.
func (e *Engine) ClaimTx(ctx context.Context, appID, reviewerID string) (*ClaimResult, error) {
	if reviewerID == "" {
		return nil, ErrMissingActor
	}

	var result *ClaimResult
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		result = &ClaimResult{Status: app.Status}
		if !app.Status.IsPending() {
			result.Outcome = ClaimNotClaimable
			return nil
		}

		current, err := repo.GetClaim(ctx, appID)
		if err != nil {
			return err
		}
		if current != nil {
			result.Claim = current
			if current.ReviewerID == reviewerID {
				result.Outcome = ClaimAlreadyYours
			} else {
				result.Outcome = ClaimConflict
			}
			return nil
		}

		claim := &models.Claim{ApplicationID: appID, ReviewerID: reviewerID, ClaimedAt: e.now()}
		if err := repo.SetClaim(ctx, claim); err != nil {
			return err
		}
		id, err := repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: appID,
			GuildID:       app.GuildID,
			ActorID:       reviewerID,
			Action:        models.ActionClaim,
			CreatedAt:     claim.ClaimedAt,
		})
		if err != nil {
			return err
		}
		result.Outcome = ClaimAcquired
		result.Claim = claim
		result.ActionID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("claim attempt", "app_id", appID, "reviewer_id", reviewerID, "outcome", result.Outcome)
	return result, nil
}

// UnclaimTx releases actorID's claim. A claim held by someone else is
// reported as UnclaimConflict and left in place.
func (e *Engine) UnclaimTx(ctx context.Context, appID, actorID, reason string) (*UnclaimResult, error) {
	if actorID == "" {
		return nil, ErrMissingActor
	}
	reason = clampReason(reason)

	var result *UnclaimResult
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		current, err := repo.GetClaim(ctx, appID)
		if err != nil {
			return err
		}
		result = &UnclaimResult{Claim: current}
		switch {
		case current == nil:
			result.Outcome = UnclaimNotClaimed
			return nil
		case current.ReviewerID != actorID:
			result.Outcome = UnclaimConflict
			return nil
		}

		if err := repo.ClearClaim(ctx, appID); err != nil {
			return err
		}
		id, err := repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: appID,
			GuildID:       app.GuildID,
			ActorID:       actorID,
			Action:        models.ActionUnclaim,
			Reason:        reason,
			Meta:          models.Metadata{"held_since": current.ClaimedAt.Format(time.RFC3339)},
			CreatedAt:     e.now(),
		})
		if err != nil {
			return err
		}
		result.Outcome = UnclaimReleased
		result.ActionID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CurrentClaim returns the claim on an application, or nil.
func (e *Engine) CurrentClaim(ctx context.Context, appID string) (*models.Claim, error) {
	return e.store.GetClaim(ctx, appID)
}

// ReleaseStaleClaims drops every claim on an open application that was taken
// more than ttl ago. Each release is audited as an unclaim by the system
// actor. It returns the number of claims released.
func (e *Engine) ReleaseStaleClaims(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	stale, err := e.store.ListStaleClaims(ctx, e.now().Add(-ttl))
	if err != nil {
		return 0, err
	}

	released := 0
	for _, c := range stale {
		ok, err := e.expireClaim(ctx, c)
		if err != nil {
			logger.Warn("failed to release stale claim", "app_id", c.ApplicationID, "reviewer_id", c.ReviewerID, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		logger.Info("released stale claims", "count", released, "ttl", ttl.String())
	}
	return released, nil
}

// ReleaseClaim drops the claim on an application regardless of holder. It
// is an operator tool and is audited as an unclaim by the system actor; the
// staff command paths go through the guard and UnclaimTx instead.
func (e *Engine) ReleaseClaim(ctx context.Context, appID, reason string) (*UnclaimResult, error) {
	reason = clampReason(reason)
	if reason == "" {
		reason = "released by operator"
	}

	var result *UnclaimResult
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		current, err := repo.GetClaim(ctx, appID)
		if err != nil {
			return err
		}
		result = &UnclaimResult{Outcome: UnclaimNotClaimed, Claim: current}
		if current == nil {
			return nil
		}
		id, err := e.releaseLocked(ctx, repo, app, *current, reason)
		if err != nil {
			return err
		}
		result.Outcome = UnclaimReleased
		result.ActionID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// releaseLocked clears c and audits the release by the system actor. The
// caller holds the application lock.
func (e *Engine) releaseLocked(ctx context.Context, repo storage.Repository, app *models.Application, c models.Claim, reason string) (int64, error) {
	if err := repo.ClearClaim(ctx, c.ApplicationID); err != nil {
		return 0, err
	}
	return repo.InsertAction(ctx, &models.ReviewAction{
		ApplicationID: c.ApplicationID,
		GuildID:       app.GuildID,
		ActorID:       models.SystemActorID,
		Action:        models.ActionUnclaim,
		Reason:        reason,
		Meta: models.Metadata{
			"released_from": c.ReviewerID,
			"held_since":    c.ClaimedAt.Format(time.RFC3339),
		},
		CreatedAt: e.now(),
	})
}

// expireClaim releases c only if it is still the claim in force; a claim
// renewed or replaced since the listing is left alone.
func (e *Engine) expireClaim(ctx context.Context, c models.Claim) (bool, error) {
	released := false
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, c.ApplicationID)
		if err != nil {
			return err
		}
		current, err := repo.GetClaim(ctx, c.ApplicationID)
		if err != nil {
			return err
		}
		if current == nil || current.ReviewerID != c.ReviewerID || !current.ClaimedAt.Equal(c.ClaimedAt) {
			return nil
		}
		if _, err := e.releaseLocked(ctx, repo, app, *current, "claim expired"); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}
