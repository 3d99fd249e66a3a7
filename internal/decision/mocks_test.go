package decision_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
)

// MockEngine is a mock implementation of decision.Engine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) CurrentClaim(ctx context.Context, appID string) (*models.Claim, error) {
	args := m.Called(appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Claim), args.Error(1)
}

func (m *MockEngine) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	args := m.Called(appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockEngine) Decide(ctx context.Context, d review.Decision, appID, actorID, reason string) (*review.TxResult, error) {
	args := m.Called(d, appID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.TxResult), args.Error(1)
}

func (m *MockEngine) RequestInfoTx(ctx context.Context, appID, actorID, question string) (*review.TxResult, error) {
	args := m.Called(appID, actorID, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.TxResult), args.Error(1)
}

func (m *MockEngine) ClaimTx(ctx context.Context, appID, reviewerID string) (*review.ClaimResult, error) {
	args := m.Called(appID, reviewerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.ClaimResult), args.Error(1)
}

func (m *MockEngine) UnclaimTx(ctx context.Context, appID, actorID, reason string) (*review.UnclaimResult, error) {
	args := m.Called(appID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.UnclaimResult), args.Error(1)
}

func (m *MockEngine) UnblockTx(ctx context.Context, guildID, userID, actorID, reason string) (*review.TxResult, error) {
	args := m.Called(guildID, userID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.TxResult), args.Error(1)
}

func (m *MockEngine) AnnotateAction(ctx context.Context, actionID int64, meta models.Metadata) error {
	args := m.Called(actionID, meta)
	return args.Error(0)
}

// MockFlows is a mock implementation of decision.Flows
type MockFlows struct {
	mock.Mock
}

func (m *MockFlows) Approve(ctx context.Context, s flow.Subject, roleID, note string) *flow.Result {
	return m.Called(s, roleID, note).Get(0).(*flow.Result)
}

func (m *MockFlows) Reject(ctx context.Context, s flow.Subject, reason string, opts flow.RejectOptions) *flow.Result {
	return m.Called(s, reason, opts).Get(0).(*flow.Result)
}

func (m *MockFlows) Kick(ctx context.Context, s flow.Subject, reason string) *flow.Result {
	return m.Called(s, reason).Get(0).(*flow.Result)
}

func (m *MockFlows) RequestInfo(ctx context.Context, s flow.Subject, question string) *flow.Result {
	return m.Called(s, question).Get(0).(*flow.Result)
}

func (m *MockFlows) Unblock(ctx context.Context, s flow.Subject) *flow.Result {
	return m.Called(s).Get(0).(*flow.Result)
}

// MockPublisher is a mock implementation of storage.EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, event models.ReviewEvent) error {
	return m.Called(event).Error(0)
}

type staticGuilds map[string]config.GuildConfig

func (g staticGuilds) Guild(id string) config.GuildConfig {
	c := g[id]
	if c.Language == "" {
		c.Language = config.DefaultLanguage
	}
	return c
}
