package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/storage"
)

// GetApplication returns an application by id.
func (e *Engine) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	app, err := e.store.FindApplication(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, appID)
	}
	return app, err
}

// ListPending returns the applications of a guild waiting on a decision,
// oldest submission first.
func (e *Engine) ListPending(ctx context.Context, guildID string) ([]models.Application, error) {
	return e.store.ListPending(ctx, guildID)
}

// History returns the audit trail of an application in insertion order.
func (e *Engine) History(ctx context.Context, appID string) ([]models.ReviewAction, error) {
	if _, err := e.GetApplication(ctx, appID); err != nil {
		return nil, err
	}
	return e.store.ListActions(ctx, appID)
}

// GuildActions returns the audit rows of a guild written within window.
func (e *Engine) GuildActions(ctx context.Context, guildID string, window time.Duration) ([]models.ReviewAction, error) {
	return e.store.ListGuildActions(ctx, guildID, e.now().Add(-window))
}
