package review

import (
	"context"
	"errors"

	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/storage"
)

// UnblockTx clears the permanent-rejection flag of a user in a guild. The
// application keeps its perm_rejected status and resolution fields. When no
// flagged application exists the result is OutcomeAlready with a nil
// Application and nothing is written.
func (e *Engine) UnblockTx(ctx context.Context, guildID, userID, actorID, reason string) (*TxResult, error) {
	if actorID == "" {
		return nil, ErrMissingActor
	}
	reason = clampReason(reason)

	result := &TxResult{Action: models.ActionUnblock, Outcome: OutcomeAlready}
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := repo.FindPermRejected(ctx, guildID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		flag := false
		update := models.ApplicationUpdate{PermanentlyRejected: &flag}
		if err := repo.UpdateApplication(ctx, app.ID, update); err != nil {
			return err
		}
		id, err := repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: app.ID,
			GuildID:       guildID,
			ActorID:       actorID,
			Action:        models.ActionUnblock,
			Reason:        reason,
			Meta:          models.Metadata{"user_id": userID},
			CreatedAt:     e.now(),
		})
		if err != nil {
			return err
		}
		update.Apply(app)
		result.Outcome = OutcomeChanged
		result.Previous = app.Status
		result.Status = app.Status
		result.ActionID = id
		result.Application = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("unblock finished", "guild_id", guildID, "user_id", userID, "actor_id", actorID, "outcome", result.Outcome)
	return result, nil
}
