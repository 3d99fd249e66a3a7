// Package flow performs the platform side effects of a committed review
// decision. Each step runs under its own timeout and a failed step never
// stops the ones after it, except where a later step depends on its output.
package flow

import (
	"context"
	"errors"
	"time"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/platform"
)

// Messages renders applicant-facing text.
type Messages interface {
	Render(lang, key string, vars map[string]string) string
}

// Recorder observes step outcomes, typically for metrics.
type Recorder interface {
	ObserveStep(flow models.ActionKind, step Step, code platform.Code, took time.Duration)
}

// Subject identifies the applicant a flow acts on.
type Subject struct {
	GuildID   string
	GuildName string
	UserID    string
	Language  string
}

func (s Subject) vars(reason string) map[string]string {
	name := s.GuildName
	if name == "" {
		name = "the server"
	}
	return map[string]string{"guild": name, "reason": reason}
}

// Runner executes flows against a platform.
type Runner struct {
	platform platform.Platform
	messages Messages
	timeout  time.Duration
	recorder Recorder
}

// NewRunner creates a runner. A non-positive timeout uses the default.
func NewRunner(p platform.Platform, messages Messages, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = config.DefaultPlatformTimeout
	}
	return &Runner{platform: p, messages: messages, timeout: timeout}
}

// WithRecorder attaches a step observer.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

// runStep performs one platform call and records its outcome on res.
func runStep[T any](ctx context.Context, r *Runner, res *Result, s Subject, step Step, fn func(ctx context.Context) (T, error)) (T, bool) {
	res.attempt(step)
	logger.ExternalCall("platform", string(step), "flow", res.Flow, "guild_id", s.GuildID, "user_id", s.UserID)

	start := time.Now()
	v, err := platform.Fetch(ctx, string(step), r.timeout, fn)
	took := time.Since(start)

	logger.ExternalResult("platform", string(step), err, "flow", res.Flow, "guild_id", s.GuildID, "user_id", s.UserID, "took", took.String())
	if r.recorder != nil {
		r.recorder.ObserveStep(res.Flow, step, platform.CodeOf(err), took)
	}
	if err != nil {
		res.fail(step, err)
		return v, false
	}
	return v, true
}

func (r *Runner) call(ctx context.Context, res *Result, s Subject, step Step, fn func(ctx context.Context) error) bool {
	_, ok := runStep(ctx, r, res, s, step, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return ok
}

func (r *Runner) dm(ctx context.Context, res *Result, s Subject, text string) {
	res.DMDelivered = r.call(ctx, res, s, StepDM, func(ctx context.Context) error {
		return r.platform.SendDirectMessage(ctx, s.UserID, text)
	})
}

// Approve grants roleID if the member lacks it and DMs the applicant. Only a
// failed member lookup aborts the flow.
func (r *Runner) Approve(ctx context.Context, s Subject, roleID, note string) *Result {
	res := newResult(models.ActionApprove)

	member, ok := runStep(ctx, r, res, s, StepFetchMember, func(ctx context.Context) (*platform.Member, error) {
		return r.platform.FetchMember(ctx, s.GuildID, s.UserID)
	})
	if !ok {
		return res
	}

	switch {
	case roleID == "":
		logger.Warn("no approved role configured, skipping role grant", "guild_id", s.GuildID)
	case member.HasRole(roleID):
		res.RolePresent = true
		res.RoleApplied = true
	default:
		res.RoleApplied = r.grantRole(ctx, res, s, roleID)
	}

	text := r.messages.Render(s.Language, "dm.approve", s.vars(""))
	if note != "" {
		text += "\n\n" + r.messages.Render(s.Language, "dm.approve_note", s.vars(note))
	}
	r.dm(ctx, res, s, text)
	return res
}

// grantRole checks that the role is manageable before granting it.
func (r *Runner) grantRole(ctx context.Context, res *Result, s Subject, roleID string) bool {
	manageable, ok := runStep(ctx, r, res, s, StepGrantRole, func(ctx context.Context) (bool, error) {
		return r.platform.CanManageRole(ctx, s.GuildID, roleID)
	})
	if !ok {
		return false
	}
	if !manageable {
		res.fail(StepGrantRole, platform.NewError(string(StepGrantRole), platform.CodeHierarchy,
			errors.New("role is above the bot's highest role")))
		return false
	}
	return r.call(ctx, res, s, StepGrantRole, func(ctx context.Context) error {
		return r.platform.GrantRole(ctx, s.GuildID, s.UserID, roleID, "application approved")
	})
}

// RejectOptions tunes the reject flow.
type RejectOptions struct {
	Permanent bool
	// ThreadID is the applicant-support thread to close, if any.
	ThreadID string
	// Kick removes the applicant when they are already a guild member.
	Kick bool
}

// Reject DMs the applicant, closes the support thread and optionally removes
// the applicant from the guild.
func (r *Runner) Reject(ctx context.Context, s Subject, reason string, opts RejectOptions) *Result {
	action := models.ActionReject
	key := "dm.reject"
	if opts.Permanent {
		action = models.ActionPermReject
		key = "dm.reject_permanent"
	}
	res := newResult(action)

	text := r.messages.Render(s.Language, key, s.vars(reason))
	if reason != "" {
		text += "\n" + r.messages.Render(s.Language, "dm.reject_reason", s.vars(reason))
	}
	r.dm(ctx, res, s, text)

	if opts.ThreadID != "" {
		res.ThreadClosed = r.call(ctx, res, s, StepCloseThread, func(ctx context.Context) error {
			return r.platform.CloseThread(ctx, opts.ThreadID, reason)
		})
	}

	if opts.Kick {
		r.kick(ctx, res, s, reason, false)
	}
	return res
}

// Kick removes the applicant from the guild. The DM is sent before the kick
// so it can still be delivered; a member the bot may not kick fails the flow
// before anything is sent.
func (r *Runner) Kick(ctx context.Context, s Subject, reason string) *Result {
	res := newResult(models.ActionKick)
	r.kick(ctx, res, s, reason, true)
	return res
}

func (r *Runner) kick(ctx context.Context, res *Result, s Subject, reason string, notify bool) {
	kickable, ok := runStep(ctx, r, res, s, StepKick, func(ctx context.Context) (bool, error) {
		return r.platform.Kickable(ctx, s.GuildID, s.UserID)
	})
	if !ok {
		// A rejected applicant who never joined has nothing to kick.
		if !notify && res.Err(StepKick).Code == platform.CodeNotFound {
			res.forget(StepKick)
		}
		return
	}
	if !kickable {
		res.fail(StepKick, platform.NewError(string(StepKick), platform.CodeHierarchy,
			errors.New("member's highest role is not below the bot's")))
		return
	}

	if notify {
		r.dm(ctx, res, s, r.messages.Render(s.Language, "dm.kick", s.vars(reason)))
	}
	if reason == "" {
		reason = "application declined"
	}
	res.KickSucceeded = r.call(ctx, res, s, StepKick, func(ctx context.Context) error {
		return r.platform.KickMember(ctx, s.GuildID, s.UserID, reason)
	})
}

// RequestInfo DMs the reviewer's question to the applicant.
func (r *Runner) RequestInfo(ctx context.Context, s Subject, question string) *Result {
	res := newResult(models.ActionNeedInfo)
	r.dm(ctx, res, s, r.messages.Render(s.Language, "dm.need_info", s.vars(question)))
	return res
}

// Unblock tells the user they may apply again.
func (r *Runner) Unblock(ctx context.Context, s Subject) *Result {
	res := newResult(models.ActionUnblock)
	r.dm(ctx, res, s, r.messages.Render(s.Language, "dm.unblock", s.vars("")))
	return res
}
