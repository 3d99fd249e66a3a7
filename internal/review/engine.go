// Package review owns the application lifecycle: the claim guard, the
// status transactions and the audit trail they write. Every status change
// and its audit row commit together or not at all.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/storage"
)

// Engine runs review transactions against a Store.
type Engine struct {
	store storage.Store
	now   func() time.Time
}

// NewEngine creates an engine backed by store.
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ApproveTx moves a pending application to approved.
func (e *Engine) ApproveTx(ctx context.Context, appID, actorID, reason string) (*TxResult, error) {
	return e.decide(ctx, DecisionApprove, appID, actorID, reason)
}

// RejectTx moves a pending application to rejected.
func (e *Engine) RejectTx(ctx context.Context, appID, actorID, reason string) (*TxResult, error) {
	return e.decide(ctx, DecisionReject, appID, actorID, reason)
}

// PermRejectTx moves a pending or rejected application to perm_rejected and
// sets the permanent flag.
func (e *Engine) PermRejectTx(ctx context.Context, appID, actorID, reason string) (*TxResult, error) {
	return e.decide(ctx, DecisionPermReject, appID, actorID, reason)
}

// KickTx moves a pending application to kicked.
func (e *Engine) KickTx(ctx context.Context, appID, actorID, reason string) (*TxResult, error) {
	return e.decide(ctx, DecisionKick, appID, actorID, reason)
}

// Decide runs the transaction for an arbitrary decision.
func (e *Engine) Decide(ctx context.Context, d Decision, appID, actorID, reason string) (*TxResult, error) {
	return e.decide(ctx, d, appID, actorID, reason)
}

func (e *Engine) decide(ctx context.Context, d Decision, appID, actorID, reason string) (*TxResult, error) {
	if actorID == "" {
		return nil, ErrMissingActor
	}
	reason = clampReason(reason)

	var result *TxResult
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		result = &TxResult{
			Outcome:     Transition(d, app.Status),
			Action:      d.Action(),
			Previous:    app.Status,
			Status:      app.Status,
			Application: app,
		}
		// An unblocked perm_rejected application can be blocked again.
		if d == DecisionPermReject && app.Status == models.StatusPermRejected && !app.PermanentlyRejected {
			result.Outcome = OutcomeChanged
		}

		claim, err := repo.GetClaim(ctx, appID)
		if err != nil {
			return err
		}
		if denial := Guard(claim, actorID); denial != nil {
			result.Outcome = OutcomeClaimed
			result.Denial = denial
			return nil
		}
		if result.Outcome != OutcomeChanged {
			return nil
		}

		now := e.now()
		meta := models.Metadata{"from": string(app.Status)}

		// The claim ends with the application.
		if claim != nil {
			meta["claimed_by"] = claim.ReviewerID
			if err := repo.ClearClaim(ctx, appID); err != nil {
				return err
			}
		}

		target := d.Target()
		update := models.ApplicationUpdate{Status: &target}
		// Resolution fields are written by the first resolving action only.
		if app.ResolvedAt == nil {
			update.ResolvedAt = &now
			update.ResolverID = &actorID
			update.ResolutionReason = &reason
		}
		if d == DecisionPermReject {
			flag := true
			update.PermanentlyRejected = &flag
		}
		if err := repo.UpdateApplication(ctx, appID, update); err != nil {
			return err
		}

		id, err := repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: appID,
			GuildID:       app.GuildID,
			ActorID:       actorID,
			Action:        d.Action(),
			Reason:        reason,
			Meta:          meta,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}

		update.Apply(app)
		result.Status = target
		result.ActionID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("review transaction finished",
		"app_id", appID, "action", d.Action(), "actor_id", actorID,
		"outcome", result.Outcome, "status", result.Status)
	return result, nil
}

// RequestInfoTx asks the applicant for more information, moving a submitted
// application to needs_info. The claim, if any, is kept.
func (e *Engine) RequestInfoTx(ctx context.Context, appID, actorID, question string) (*TxResult, error) {
	if actorID == "" {
		return nil, ErrMissingActor
	}
	question = clampReason(question)

	var result *TxResult
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		result = &TxResult{Action: models.ActionNeedInfo, Previous: app.Status, Status: app.Status, Application: app}
		claim, err := repo.GetClaim(ctx, appID)
		if err != nil {
			return err
		}
		denial := Guard(claim, actorID)
		switch {
		case denial != nil:
			result.Outcome = OutcomeClaimed
			result.Denial = denial
			return nil
		case app.Status == models.StatusNeedsInfo:
			result.Outcome = OutcomeAlready
			return nil
		case app.Status.IsTerminal():
			result.Outcome = OutcomeTerminal
			return nil
		case app.Status != models.StatusSubmitted:
			result.Outcome = OutcomeInvalid
			return nil
		}

		next := models.StatusNeedsInfo
		update := models.ApplicationUpdate{Status: &next}
		if err := repo.UpdateApplication(ctx, appID, update); err != nil {
			return err
		}
		id, err := repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: appID,
			GuildID:       app.GuildID,
			ActorID:       actorID,
			Action:        models.ActionNeedInfo,
			Reason:        question,
			Meta:          models.Metadata{"from": string(app.Status)},
			CreatedAt:     e.now(),
		})
		if err != nil {
			return err
		}
		update.Apply(app)
		result.Outcome = OutcomeChanged
		result.Status = next
		result.ActionID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartApplication opens a draft for a user. It fails with
// ErrPermanentlyRejected when the user is blocked and with
// ErrActiveApplication when a non-terminal application already exists.
func (e *Engine) StartApplication(ctx context.Context, guildID, userID string, answers []string) (*models.Application, error) {
	var app *models.Application
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		// Serializes concurrent starts by the same user; neither row may exist yet.
		if err := repo.LockApplicant(ctx, guildID, userID); err != nil {
			return err
		}
		if _, err := repo.FindPermRejected(ctx, guildID, userID); err == nil {
			return ErrPermanentlyRejected
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		open, err := repo.FindOpenApplication(ctx, guildID, userID)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrActiveApplication, open.ID)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		app = &models.Application{GuildID: guildID, UserID: userID, Status: models.StatusDraft, Answers: answers}
		err = repo.CreateApplication(ctx, app)
		if errors.Is(err, storage.ErrOpenApplicationExists) {
			return ErrActiveApplication
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("application started", "app_id", app.ID, "guild_id", guildID, "user_id", userID)
	return app, nil
}

// SubmitTx submits a draft, or resubmits an application waiting on more
// information. Only the applicant may submit.
func (e *Engine) SubmitTx(ctx context.Context, appID, applicantID string, answers []string) (*TxResult, error) {
	var result *TxResult
	err := e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		if app.UserID != applicantID {
			return ErrNotApplicant
		}
		result = &TxResult{Action: models.ActionSubmit, Previous: app.Status, Status: app.Status, Application: app}
		switch {
		case app.Status == models.StatusSubmitted:
			result.Outcome = OutcomeAlready
			return nil
		case app.Status.IsTerminal():
			result.Outcome = OutcomeTerminal
			return nil
		case app.Status != models.StatusDraft && app.Status != models.StatusNeedsInfo:
			result.Outcome = OutcomeInvalid
			return nil
		}

		now := e.now()
		next := models.StatusSubmitted
		update := models.ApplicationUpdate{Status: &next, Answers: answers}
		meta := models.Metadata{"from": string(app.Status)}
		if app.SubmittedAt == nil {
			update.SubmittedAt = &now
		} else {
			meta["resubmission"] = true
		}
		if err := repo.UpdateApplication(ctx, appID, update); err != nil {
			return err
		}
		id, err := repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: appID,
			GuildID:       app.GuildID,
			ActorID:       applicantID,
			Action:        models.ActionSubmit,
			Meta:          meta,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		update.Apply(app)
		result.Outcome = OutcomeChanged
		result.Status = next
		result.ActionID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AnnotateAction merges meta into an existing audit row. It is how flow
// results are attached after the transaction committed.
func (e *Engine) AnnotateAction(ctx context.Context, actionID int64, meta models.Metadata) error {
	if len(meta) == 0 {
		return nil
	}
	return e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		return repo.AnnotateAction(ctx, actionID, meta)
	})
}

// SetSupportThread records the applicant-support thread of an application
// and audits it as modmail_open.
func (e *Engine) SetSupportThread(ctx context.Context, appID, actorID, threadID string) error {
	return e.store.RunAtomic(ctx, func(ctx context.Context, repo storage.Repository) error {
		app, err := loadApplication(ctx, repo, appID)
		if err != nil {
			return err
		}
		if app.SupportThreadID == threadID {
			return nil
		}
		if err := repo.UpdateApplication(ctx, appID, models.ApplicationUpdate{SupportThreadID: &threadID}); err != nil {
			return err
		}
		_, err = repo.InsertAction(ctx, &models.ReviewAction{
			ApplicationID: appID,
			GuildID:       app.GuildID,
			ActorID:       actorID,
			Action:        models.ActionModmailOpen,
			Meta:          models.Metadata{"thread_id": threadID},
			CreatedAt:     e.now(),
		})
		return err
	})
}

func loadApplication(ctx context.Context, repo storage.Repository, appID string) (*models.Application, error) {
	app, err := repo.GetApplication(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, appID)
	}
	return app, err
}

func clampReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) <= config.MaxReasonLength {
		return reason
	}
	return string([]rune(reason)[:config.MaxReasonLength])
}
