// Package decision runs staff review commands end to end: the claim guard,
// the status transaction, the platform flow, the audit annotation and the
// live event, in that order. Command surfaces (the API and the Telegram
// console) call into this package and render its Reply.
package decision

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
	"reviewbot/backend/internal/storage"
)

// Engine is the transaction layer used by the service.
type Engine interface {
	CurrentClaim(ctx context.Context, appID string) (*models.Claim, error)
	GetApplication(ctx context.Context, appID string) (*models.Application, error)
	Decide(ctx context.Context, d review.Decision, appID, actorID, reason string) (*review.TxResult, error)
	RequestInfoTx(ctx context.Context, appID, actorID, question string) (*review.TxResult, error)
	ClaimTx(ctx context.Context, appID, reviewerID string) (*review.ClaimResult, error)
	UnclaimTx(ctx context.Context, appID, actorID, reason string) (*review.UnclaimResult, error)
	UnblockTx(ctx context.Context, guildID, userID, actorID, reason string) (*review.TxResult, error)
	AnnotateAction(ctx context.Context, actionID int64, meta models.Metadata) error
}

// Flows performs platform side effects.
type Flows interface {
	Approve(ctx context.Context, s flow.Subject, roleID, note string) *flow.Result
	Reject(ctx context.Context, s flow.Subject, reason string, opts flow.RejectOptions) *flow.Result
	Kick(ctx context.Context, s flow.Subject, reason string) *flow.Result
	RequestInfo(ctx context.Context, s flow.Subject, question string) *flow.Result
	Unblock(ctx context.Context, s flow.Subject) *flow.Result
}

// Guilds resolves per-guild settings.
type Guilds interface {
	Guild(guildID string) config.GuildConfig
}

// Metrics receives command outcomes.
type Metrics interface {
	RecordTx(action models.ActionKind, outcome string)
	RecordClaim(op, outcome string)
	RecordDenial(action models.ActionKind)
}

type noopMetrics struct{}

func (noopMetrics) RecordTx(models.ActionKind, string) {}
func (noopMetrics) RecordClaim(string, string) {}
func (noopMetrics) RecordDenial(models.ActionKind) {}

// Service orchestrates review commands.
type Service struct {
	engine    Engine
	flows     Flows
	guilds    Guilds
	publisher storage.EventPublisher
	metrics   Metrics
	now       func() time.Time
}

// NewService wires a service. Publisher and metrics are optional.
func NewService(engine Engine, flows Flows, guilds Guilds) *Service {
	return &Service{
		engine:  engine,
		flows:   flows,
		guilds:  guilds,
		metrics: noopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithPublisher(p storage.EventPublisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

// guard loads the claim and applies the claim guard for actorID.
func (s *Service) guard(ctx context.Context, appID, actorID string, action models.ActionKind) (*review.Denial, error) {
	claim, err := s.engine.CurrentClaim(ctx, appID)
	if err != nil {
		return nil, err
	}
	if denial := review.Guard(claim, actorID); denial != nil {
		s.metrics.RecordDenial(action)
		logger.Info("claim guard denied action", "app_id", appID, "actor_id", actorID, "action", action, "holder_id", denial.HolderID)
		return denial, nil
	}
	return nil, nil
}

// Decide applies a resolving decision. Expected outcomes, including a guard
// denial, come back in the Reply; the error is for infrastructure failures
// and unknown applications.
func (s *Service) Decide(ctx context.Context, d review.Decision, appID, actorID, reason string) (*Reply, error) {
	if denial, err := s.guard(ctx, appID, actorID, d.Action()); err != nil || denial != nil {
		return deniedReply(d.Action(), denial), err
	}

	tx, err := s.engine.Decide(ctx, d, appID, actorID, reason)
	if err != nil {
		return nil, err
	}
	if reply := s.claimedReply(tx, appID, actorID); reply != nil {
		return reply, nil
	}
	s.metrics.RecordTx(d.Action(), string(tx.Outcome))
	reply := &Reply{Action: d.Action(), Outcome: string(tx.Outcome), Tx: tx}
	if !tx.Changed() {
		reply.Message = describeTx(tx)
		return reply, nil
	}

	// The decision is committed; side effects must not die with the request.
	ctx = context.WithoutCancel(ctx)
	app := tx.Application
	subject := s.subject(app)
	guild := s.guilds.Guild(app.GuildID)

	switch d {
	case review.DecisionApprove:
		reply.Flow = s.flows.Approve(ctx, subject, guild.ApprovedRoleID, reason)
	case review.DecisionReject, review.DecisionPermReject:
		reply.Flow = s.flows.Reject(ctx, subject, reason, flow.RejectOptions{
			Permanent: d == review.DecisionPermReject,
			ThreadID:  app.SupportThreadID,
			Kick:      guild.KickOnReject,
		})
	case review.DecisionKick:
		reply.Flow = s.flows.Kick(ctx, subject, reason)
	}

	s.finish(ctx, reply, app, actorID)
	return reply, nil
}

// RequestInfo asks the applicant a question.
func (s *Service) RequestInfo(ctx context.Context, appID, actorID, question string) (*Reply, error) {
	if denial, err := s.guard(ctx, appID, actorID, models.ActionNeedInfo); err != nil || denial != nil {
		return deniedReply(models.ActionNeedInfo, denial), err
	}

	tx, err := s.engine.RequestInfoTx(ctx, appID, actorID, question)
	if err != nil {
		return nil, err
	}
	if reply := s.claimedReply(tx, appID, actorID); reply != nil {
		return reply, nil
	}
	s.metrics.RecordTx(models.ActionNeedInfo, string(tx.Outcome))
	reply := &Reply{Action: models.ActionNeedInfo, Outcome: string(tx.Outcome), Tx: tx}
	if !tx.Changed() {
		reply.Message = describeTx(tx)
		return reply, nil
	}

	ctx = context.WithoutCancel(ctx)

	reply.Flow = s.flows.RequestInfo(ctx, s.subject(tx.Application), question)
	s.finish(ctx, reply, tx.Application, actorID)
	return reply, nil
}

// Claim takes the claim. A claim already held by someone else is reported as
// a denial naming the holder.
func (s *Service) Claim(ctx context.Context, appID, reviewerID string) (*Reply, error) {
	res, err := s.engine.ClaimTx(ctx, appID, reviewerID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordClaim("claim", string(res.Outcome))

	reply := &Reply{Action: models.ActionClaim, Outcome: string(res.Outcome), Claim: res}
	switch res.Outcome {
	case review.ClaimConflict:
		reply.Denial = review.Guard(res.Claim, reviewerID)
		reply.Outcome = OutcomeDenied
		reply.Message = reply.Denial.Message()
	case review.ClaimAlreadyYours:
		reply.Message = "You already hold the claim on this application."
	case review.ClaimNotClaimable:
		reply.Message = "This application cannot be claimed while it is " + string(res.Status) + "."
	case review.ClaimAcquired:
		reply.Message = "Claimed. Other reviewers cannot act on this application until you release it."
		s.publish(ctx, models.ReviewEvent{
			ApplicationID: appID,
			ActorID:       reviewerID,
			Action:        models.ActionClaim,
			Outcome:       string(res.Outcome),
			Status:        res.Status,
		}, appID)
	}
	return reply, nil
}

// Unclaim releases the actor's claim. Only the holder may release it.
func (s *Service) Unclaim(ctx context.Context, appID, actorID, reason string) (*Reply, error) {
	if denial, err := s.guard(ctx, appID, actorID, models.ActionUnclaim); err != nil || denial != nil {
		return deniedReply(models.ActionUnclaim, denial), err
	}

	res, err := s.engine.UnclaimTx(ctx, appID, actorID, reason)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordClaim("unclaim", string(res.Outcome))

	reply := &Reply{Action: models.ActionUnclaim, Outcome: string(res.Outcome), Unclaim: res}
	switch res.Outcome {
	case review.UnclaimNotClaimed:
		reply.Message = "This application is not claimed."
	case review.UnclaimConflict:
		// The claim moved between the guard and the transaction.
		reply.Denial = review.Guard(res.Claim, actorID)
		reply.Outcome = OutcomeDenied
		reply.Message = reply.Denial.Message()
	case review.UnclaimReleased:
		reply.Message = "Claim released."
		s.publish(ctx, models.ReviewEvent{
			ApplicationID: appID,
			ActorID:       actorID,
			Action:        models.ActionUnclaim,
			Outcome:       string(res.Outcome),
		}, appID)
	}
	return reply, nil
}

// Unblock clears a user's permanent rejection and tells them they may
// apply again.
func (s *Service) Unblock(ctx context.Context, guildID, userID, actorID, reason string) (*Reply, error) {
	tx, err := s.engine.UnblockTx(ctx, guildID, userID, actorID, reason)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTx(models.ActionUnblock, string(tx.Outcome))
	reply := &Reply{Action: models.ActionUnblock, Outcome: string(tx.Outcome), Tx: tx}
	if !tx.Changed() {
		reply.Message = "This user is not currently permanently rejected."
		return reply, nil
	}

	ctx = context.WithoutCancel(ctx)

	reply.Flow = s.flows.Unblock(ctx, s.subject(tx.Application))
	s.finish(ctx, reply, tx.Application, actorID)
	return reply, nil
}

// claimedReply turns a claim found under the row lock into a guard denial.
// This catches a claim taken after the preflight guard read.
func (s *Service) claimedReply(tx *review.TxResult, appID, actorID string) *Reply {
	if tx.Outcome != review.OutcomeClaimed {
		return nil
	}
	s.metrics.RecordDenial(tx.Action)
	logger.Info("claim guard denied action", "app_id", appID, "actor_id", actorID, "action", tx.Action, "holder_id", tx.Denial.HolderID)
	return deniedReply(tx.Action, tx.Denial)
}

// finish annotates the audit row with the flow result, publishes the event
// and renders the reply message.
func (s *Service) finish(ctx context.Context, reply *Reply, app *models.Application, actorID string) {
	meta := models.Metadata{}
	if reply.Flow != nil {
		meta = reply.Flow.Metadata()
	}
	if err := s.engine.AnnotateAction(ctx, reply.Tx.ActionID, meta); err != nil {
		logger.Error("failed to annotate review action", "action_id", reply.Tx.ActionID, "app_id", app.ID, "error", err)
	}

	s.publish(ctx, models.ReviewEvent{
		GuildID:       app.GuildID,
		ApplicationID: app.ID,
		ActorID:       actorID,
		Action:        reply.Action,
		Outcome:       reply.Outcome,
		Status:        reply.Tx.Status,
		Meta:          meta,
	}, app.ID)

	reply.Message = describeChanged(reply)
}

func (s *Service) publish(ctx context.Context, event models.ReviewEvent, appID string) {
	if s.publisher == nil {
		return
	}
	event.ID = uuid.New().String()
	event.At = s.now()
	if event.GuildID == "" {
		if app, err := s.engine.GetApplication(ctx, appID); err == nil {
			event.GuildID = app.GuildID
		}
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		logger.Warn("failed to publish review event", "app_id", appID, "action", event.Action, "error", err)
	}
}

func (s *Service) subject(app *models.Application) flow.Subject {
	g := s.guilds.Guild(app.GuildID)
	return flow.Subject{GuildID: app.GuildID, GuildName: g.Name, UserID: app.UserID, Language: g.Language}
}

// IsNotFound reports whether err means the application does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, review.ErrApplicationNotFound)
}
