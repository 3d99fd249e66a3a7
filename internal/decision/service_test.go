package decision_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/decision"
	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/localization"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/platform"
	"reviewbot/backend/internal/review"
	"reviewbot/backend/internal/storage"
)

var guilds = staticGuilds{"g1": {Name: "Gophers", ApprovedRoleID: "role-member", KickOnReject: true}}

func app() *models.Application {
	resolver := "alice"
	return &models.Application{ID: "a1", GuildID: "g1", UserID: "u1", Status: models.StatusApproved, ResolverID: &resolver, SupportThreadID: "th-1"}
}

func TestDecide_DeniedByClaimSkipsTransaction(t *testing.T) {
	engine := new(MockEngine)
	flows := new(MockFlows)
	svc := decision.NewService(engine, flows, guilds)

	engine.On("CurrentClaim", "a1").Return(&models.Claim{ApplicationID: "a1", ReviewerID: "alice", ClaimedAt: time.Now()}, nil)

	reply, err := svc.Decide(context.Background(), review.DecisionApprove, "a1", "bob", "")
	require.NoError(t, err)
	assert.True(t, reply.Denied())
	assert.Equal(t, "alice", reply.Denial.HolderID)
	assert.Contains(t, reply.Message, "alice")

	engine.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	flows.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
}

func TestDecide_ApproveRunsFlowAndAnnotates(t *testing.T) {
	engine := new(MockEngine)
	flows := new(MockFlows)
	pub := new(MockPublisher)
	svc := decision.NewService(engine, flows, guilds).WithPublisher(pub)

	engine.On("CurrentClaim", "a1").Return(&models.Claim{ApplicationID: "a1", ReviewerID: "alice"}, nil)
	engine.On("Decide", review.DecisionApprove, "a1", "alice", "welcome").Return(&review.TxResult{
		Outcome: review.OutcomeChanged, Action: models.ActionApprove,
		Previous: models.StatusSubmitted, Status: models.StatusApproved, ActionID: 7, Application: app(),
	}, nil)
	flowResult := &flow.Result{Flow: models.ActionApprove, RoleApplied: true, DMDelivered: true}
	flows.On("Approve", flow.Subject{GuildID: "g1", GuildName: "Gophers", UserID: "u1", Language: "en"}, "role-member", "welcome").Return(flowResult)
	engine.On("AnnotateAction", int64(7), mock.AnythingOfType("models.Metadata")).Return(nil)
	pub.On("PublishEvent", mock.MatchedBy(func(e models.ReviewEvent) bool {
		return e.ApplicationID == "a1" && e.GuildID == "g1" && e.ActorID == "alice" && e.Action == models.ActionApprove && e.Outcome == "changed"
	})).Return(nil)

	reply, err := svc.Decide(context.Background(), review.DecisionApprove, "a1", "alice", "welcome")
	require.NoError(t, err)
	assert.Equal(t, "changed", reply.Outcome)
	assert.Equal(t, "Approved.", reply.Message)
	assert.Same(t, flowResult, reply.Flow)

	engine.AssertExpectations(t)
	flows.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDecide_AlreadySkipsFlow(t *testing.T) {
	engine := new(MockEngine)
	flows := new(MockFlows)
	svc := decision.NewService(engine, flows, guilds)

	engine.On("CurrentClaim", "a1").Return(nil, nil)
	engine.On("Decide", review.DecisionApprove, "a1", "alice", "").Return(&review.TxResult{
		Outcome: review.OutcomeAlready, Action: models.ActionApprove, Status: models.StatusApproved, Application: app(),
	}, nil)

	reply, err := svc.Decide(context.Background(), review.DecisionApprove, "a1", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "already", reply.Outcome)
	assert.Contains(t, reply.Message, "already approved")

	flows.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "AnnotateAction", mock.Anything, mock.Anything)
}

func TestDecide_RejectPassesThreadAndKick(t *testing.T) {
	engine := new(MockEngine)
	flows := new(MockFlows)
	svc := decision.NewService(engine, flows, guilds)

	engine.On("CurrentClaim", "a1").Return(nil, nil)
	engine.On("Decide", review.DecisionPermReject, "a1", "alice", "spam").Return(&review.TxResult{
		Outcome: review.OutcomeChanged, Action: models.ActionPermReject, Status: models.StatusPermRejected, ActionID: 3, Application: app(),
	}, nil)
	res := &flow.Result{Flow: models.ActionPermReject}
	flows.On("Reject", mock.Anything, "spam", flow.RejectOptions{Permanent: true, ThreadID: "th-1", Kick: true}).Return(res)
	engine.On("AnnotateAction", int64(3), mock.Anything).Return(errors.New("db gone"))

	reply, err := svc.Decide(context.Background(), review.DecisionPermReject, "a1", "alice", "spam")
	require.NoError(t, err, "annotation failures are logged, not returned")
	assert.Equal(t, "Permanently rejected.", reply.Message)
	flows.AssertExpectations(t)
}

func TestDecide_QualifiedSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	at := time.Now().UTC()
	store.Seed(models.Application{ID: "a1", GuildID: "g1", UserID: "u1", Status: models.StatusSubmitted, SubmittedAt: &at})
	engine := review.NewEngine(store)

	p := &failingDM{}
	runner := flow.NewRunner(p, noMessages{}, time.Second)
	svc := decision.NewService(engine, runner, guilds)

	reply, err := svc.Decide(context.Background(), review.DecisionApprove, "a1", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "changed", reply.Outcome)
	assert.Contains(t, reply.Message, "Approved, but DM failed")

	actions, err := store.ListActions(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, true, actions[0].Meta["role_applied"])
	assert.Equal(t, false, actions[0].Meta["dm_delivered"])
	assert.Equal(t, "cannot_dm", actions[0].Meta["dm_error"])
}

func TestDecide_FlowOutlivesCancelledRequest(t *testing.T) {
	store := storage.NewMemoryStore()
	at := time.Now().UTC()
	store.Seed(models.Application{ID: "a1", GuildID: "g1", UserID: "u1", Status: models.StatusSubmitted, SubmittedAt: &at})
	engine := review.NewEngine(store)

	ctx, cancel := context.WithCancel(context.Background())
	p := &disconnectingPlatform{disconnect: cancel}
	svc := decision.NewService(engine, flow.NewRunner(p, noMessages{}, time.Second), guilds)

	reply, err := svc.Decide(ctx, review.DecisionApprove, "a1", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "changed", reply.Outcome)
	assert.False(t, reply.Flow.Failed(), "steps after the disconnect must still run: %+v", reply.Flow.Errors)
	assert.True(t, reply.Flow.RoleApplied)
	assert.True(t, reply.Flow.DMDelivered)

	reply, err = svc.Decide(context.Background(), review.DecisionApprove, "a1", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "already", reply.Outcome)
	assert.Equal(t, 1, p.dms, "the applicant gets the approval DM exactly once")

	actions, err := store.ListActions(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, true, actions[0].Meta["dm_delivered"], "the annotation is written after the disconnect")
}

func TestDecide_ClaimTakenAfterPreflight(t *testing.T) {
	mem := storage.NewMemoryStore()
	at := time.Now().UTC()
	mem.Seed(models.Application{ID: "a1", GuildID: "g1", UserID: "u1", Status: models.StatusSubmitted, SubmittedAt: &at})
	engine := review.NewEngine(mem)
	_, err := engine.ClaimTx(context.Background(), "a1", "alice")
	require.NoError(t, err)

	// The preflight read sees no claim, as a stale cache would report.
	flows := new(MockFlows)
	svc := decision.NewService(staleClaims{engine}, flows, guilds)

	reply, err := svc.Decide(context.Background(), review.DecisionReject, "a1", "bob", "")
	require.NoError(t, err)
	assert.True(t, reply.Denied())
	assert.Equal(t, "alice", reply.Denial.HolderID)

	reply, err = svc.RequestInfo(context.Background(), "a1", "bob", "why?")
	require.NoError(t, err)
	assert.True(t, reply.Denied())

	app, err := mem.FindApplication(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, app.Status)
	claim, err := mem.GetClaim(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, "alice", claim.ReviewerID)
	flows.AssertNotCalled(t, "Reject", mock.Anything, mock.Anything, mock.Anything)
}

func TestClaimAndUnclaim(t *testing.T) {
	engine := new(MockEngine)
	svc := decision.NewService(engine, new(MockFlows), guilds)
	held := &models.Claim{ApplicationID: "a1", ReviewerID: "alice"}

	engine.On("ClaimTx", "a1", "bob").Return(&review.ClaimResult{Outcome: review.ClaimConflict, Claim: held}, nil)
	reply, err := svc.Claim(context.Background(), "a1", "bob")
	require.NoError(t, err)
	assert.True(t, reply.Denied())
	assert.Equal(t, "alice", reply.Denial.HolderID)

	engine.On("CurrentClaim", "a1").Return(held, nil)
	reply, err = svc.Unclaim(context.Background(), "a1", "bob", "")
	require.NoError(t, err)
	assert.True(t, reply.Denied())
	engine.AssertNotCalled(t, "UnclaimTx", mock.Anything, mock.Anything, mock.Anything)

	engine.On("UnclaimTx", "a1", "alice", "").Return(&review.UnclaimResult{Outcome: review.UnclaimReleased}, nil)
	reply, err = svc.Unclaim(context.Background(), "a1", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "released", reply.Outcome)
}

func TestUnblock(t *testing.T) {
	engine := new(MockEngine)
	flows := new(MockFlows)
	svc := decision.NewService(engine, flows, guilds)

	engine.On("UnblockTx", "g1", "u9", "alice", "").Return(&review.TxResult{Outcome: review.OutcomeAlready, Action: models.ActionUnblock}, nil).Once()
	reply, err := svc.Unblock(context.Background(), "g1", "u9", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "already", reply.Outcome)
	assert.Contains(t, reply.Message, "not currently permanently rejected")
	flows.AssertNotCalled(t, "Unblock", mock.Anything)

	blocked := &models.Application{ID: "a9", GuildID: "g1", UserID: "u9", Status: models.StatusPermRejected}
	engine.On("UnblockTx", "g1", "u9", "alice", "").Return(&review.TxResult{Outcome: review.OutcomeChanged, Action: models.ActionUnblock, ActionID: 11, Status: models.StatusPermRejected, Application: blocked}, nil).Once()
	flows.On("Unblock", mock.Anything).Return(&flow.Result{Flow: models.ActionUnblock, DMDelivered: true})
	engine.On("AnnotateAction", int64(11), mock.Anything).Return(nil)

	reply, err = svc.Unblock(context.Background(), "g1", "u9", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "Unblocked.", reply.Message)
	engine.AssertExpectations(t)
}

func TestDecide_UnknownApplication(t *testing.T) {
	engine := new(MockEngine)
	svc := decision.NewService(engine, new(MockFlows), guilds)
	engine.On("CurrentClaim", "zz").Return(nil, nil)
	engine.On("Decide", review.DecisionKick, "zz", "alice", "").Return(nil, review.ErrApplicationNotFound)

	_, err := svc.Decide(context.Background(), review.DecisionKick, "zz", "alice", "")
	assert.True(t, decision.IsNotFound(err))
}

// failingDM is a platform where every step succeeds except direct messages.
type failingDM struct{}

func (failingDM) FetchMember(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	return &platform.Member{UserID: userID}, nil
}
func (failingDM) FetchRole(ctx context.Context, guildID, roleID string) (*platform.Role, error) {
	return &platform.Role{ID: roleID}, nil
}
func (failingDM) CanManageRole(ctx context.Context, guildID, roleID string) (bool, error) {
	return true, nil
}
func (failingDM) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return nil
}
func (failingDM) SendDirectMessage(ctx context.Context, userID, content string) error {
	return platform.NewError("dm", platform.CodeCannotDM, nil)
}
func (failingDM) Kickable(ctx context.Context, guildID, userID string) (bool, error) { return true, nil }
func (failingDM) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return nil
}
func (failingDM) CloseThread(ctx context.Context, threadID, reason string) error { return nil }

// disconnectingPlatform honours its context and cancels the request context
// from inside the member lookup, as a client hanging up mid-flow would.
type disconnectingPlatform struct {
	disconnect context.CancelFunc
	dms        int
}

func (p *disconnectingPlatform) FetchMember(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	p.disconnect()
	return &platform.Member{UserID: userID}, nil
}
func (p *disconnectingPlatform) FetchRole(ctx context.Context, guildID, roleID string) (*platform.Role, error) {
	return &platform.Role{ID: roleID}, ctx.Err()
}
func (p *disconnectingPlatform) CanManageRole(ctx context.Context, guildID, roleID string) (bool, error) {
	return true, ctx.Err()
}
func (p *disconnectingPlatform) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return ctx.Err()
}
func (p *disconnectingPlatform) SendDirectMessage(ctx context.Context, userID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.dms++
	return nil
}
func (p *disconnectingPlatform) Kickable(ctx context.Context, guildID, userID string) (bool, error) {
	return true, ctx.Err()
}
func (p *disconnectingPlatform) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return ctx.Err()
}
func (p *disconnectingPlatform) CloseThread(ctx context.Context, threadID, reason string) error {
	return ctx.Err()
}

// staleClaims reports every application as unclaimed to the preflight guard.
type staleClaims struct {
	*review.Engine
}

func (staleClaims) CurrentClaim(ctx context.Context, appID string) (*models.Claim, error) {
	return nil, nil
}

type noMessages struct{}

func (noMessages) Render(lang, key string, vars map[string]string) string { return key }

var (
	_ flow.Messages   = (*localization.Localizer)(nil)
	_ decision.Guilds = (*config.Config)(nil)
)
