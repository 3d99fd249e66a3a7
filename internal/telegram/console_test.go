package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/decision"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
)

const staffChat = int64(-100)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

func (f *fakeSender) last() string {
	t := f.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type MockCommands struct {
	mock.Mock
}

func (m *MockCommands) reply(args mock.Arguments) (*decision.Reply, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*decision.Reply), args.Error(1)
}

func (m *MockCommands) Decide(ctx context.Context, d review.Decision, appID, actorID, reason string) (*decision.Reply, error) {
	return m.reply(m.Called(d, appID, actorID, reason))
}

func (m *MockCommands) RequestInfo(ctx context.Context, appID, actorID, question string) (*decision.Reply, error) {
	return m.reply(m.Called(appID, actorID, question))
}

func (m *MockCommands) Claim(ctx context.Context, appID, reviewerID string) (*decision.Reply, error) {
	return m.reply(m.Called(appID, reviewerID))
}

func (m *MockCommands) Unclaim(ctx context.Context, appID, actorID, reason string) (*decision.Reply, error) {
	return m.reply(m.Called(appID, actorID, reason))
}

func (m *MockCommands) Unblock(ctx context.Context, guildID, userID, actorID, reason string) (*decision.Reply, error) {
	return m.reply(m.Called(guildID, userID, actorID, reason))
}

type stubQueries struct {
	apps  map[string]*models.Application
	claim *models.Claim
}

func (q stubQueries) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	if app, ok := q.apps[appID]; ok {
		return app, nil
	}
	return nil, review.ErrApplicationNotFound
}

func (q stubQueries) CurrentClaim(ctx context.Context, appID string) (*models.Claim, error) {
	return q.claim, nil
}

func (q stubQueries) ListPending(ctx context.Context, guildID string) ([]models.Application, error) {
	var out []models.Application
	for _, app := range q.apps {
		if app.GuildID == guildID && app.Status.IsPending() {
			out = append(out, *app)
		}
	}
	return out, nil
}

func command(from, chat int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text:     text,
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
			From:     &tgbotapi.User{ID: from},
			Chat:     tgbotapi.Chat{ID: chat},
		},
	}
}

func newTestConsole(cmds *MockCommands, q stubQueries) (*Console, *fakeSender) {
	sender := &fakeSender{}
	cfg := config.TelegramConfig{StaffChatID: staffChat, Staff: map[string]string{"42": "alice", "bad": "nobody"}}
	return NewConsole(sender, cmds, q, cfg), sender
}

func TestConsole_Decisions(t *testing.T) {
	cmds := new(MockCommands)
	console, sender := newTestConsole(cmds, stubQueries{})
	ctx := context.Background()

	cmds.On("Decide", review.DecisionApprove, "a1", "alice", "welcome aboard").Return(&decision.Reply{Message: "Approved."}, nil)
	console.HandleUpdate(ctx, command(42, staffChat, "/approve a1 welcome aboard"))
	assert.Equal(t, "Approved.", sender.last())

	cmds.On("Decide", review.DecisionPermReject, "a2", "alice", "").Return(&decision.Reply{Message: "Permanently rejected, but DM failed (cannot DM)."}, nil)
	console.HandleUpdate(ctx, command(42, staffChat, "/permreject a2"))
	assert.Contains(t, sender.last(), "DM failed")

	cmds.On("RequestInfo", "a3", "alice", "who invited you?").Return(&decision.Reply{Message: "Asked the applicant for more information."}, nil)
	console.HandleUpdate(ctx, command(42, staffChat, "/needinfo a3 who invited you?"))
	assert.Equal(t, "Asked the applicant for more information.", sender.last())

	cmds.On("Unblock", "g1", "u9", "alice", "appeal accepted").Return(&decision.Reply{Message: "Unblocked."}, nil)
	console.HandleUpdate(ctx, command(42, staffChat, "/unblock g1 u9 appeal accepted"))
	assert.Equal(t, "Unblocked.", sender.last())

	cmds.AssertExpectations(t)
}

func TestConsole_ClaimAndUsage(t *testing.T) {
	cmds := new(MockCommands)
	console, sender := newTestConsole(cmds, stubQueries{})
	ctx := context.Background()

	cmds.On("Claim", "a1", "alice").Return(&decision.Reply{Message: "Claimed by bob."}, nil)
	console.HandleUpdate(ctx, command(42, staffChat, "/claim a1"))
	assert.Equal(t, "Claimed by bob.", sender.last())

	console.HandleUpdate(ctx, command(42, staffChat, "/needinfo a1"))
	assert.Equal(t, "Usage: /needinfo <app> <question>", sender.last())

	console.HandleUpdate(ctx, command(42, staffChat, "/kick"))
	assert.Equal(t, "Usage: /kick <app> [reason]", sender.last())

	console.HandleUpdate(ctx, command(42, staffChat, "/help"))
	assert.Contains(t, sender.last(), "/unblock <guild> <user>")
}

func TestConsole_AccessControl(t *testing.T) {
	cmds := new(MockCommands)
	console, sender := newTestConsole(cmds, stubQueries{})
	ctx := context.Background()

	console.HandleUpdate(ctx, command(7, staffChat, "/approve a1"))
	assert.Equal(t, "You are not registered as review staff.", sender.last())

	console.HandleUpdate(ctx, command(42, 555, "/approve a1"))
	assert.Len(t, sender.texts(), 1, "commands outside the staff chat are ignored")

	console.HandleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", From: &tgbotapi.User{ID: 42}, Chat: tgbotapi.Chat{ID: staffChat}}})
	assert.Len(t, sender.texts(), 1)

	cmds.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsole_Errors(t *testing.T) {
	cmds := new(MockCommands)
	console, sender := newTestConsole(cmds, stubQueries{})
	ctx := context.Background()

	cmds.On("Decide", review.DecisionKick, "zz", "alice", "").Return(nil, review.ErrApplicationNotFound)
	console.HandleUpdate(ctx, command(42, staffChat, "/kick zz"))
	assert.Equal(t, "Application not found.", sender.last())

	cmds.On("Decide", review.DecisionReject, "a1", "alice", "").Return(nil, errors.New("connection reset"))
	console.HandleUpdate(ctx, command(42, staffChat, "/reject a1"))
	assert.Contains(t, sender.last(), "Something went wrong")
}

func TestConsole_Queries(t *testing.T) {
	resolver := "bob"
	q := stubQueries{
		apps: map[string]*models.Application{
			"a1": {ID: "a1", GuildID: "g1", UserID: "u1", Status: models.StatusSubmitted, Answers: []string{"Found you on a forum", "Go"}},
			"a2": {ID: "a2", GuildID: "g1", UserID: "u2", Status: models.StatusRejected, ResolverID: &resolver},
		},
		claim: &models.Claim{ApplicationID: "a1", ReviewerID: "alice", ClaimedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	console, sender := newTestConsole(new(MockCommands), q)
	ctx := context.Background()

	console.HandleUpdate(ctx, command(42, staffChat, "/app a1"))
	out := sender.last()
	assert.Contains(t, out, "Status: submitted")
	assert.Contains(t, out, "Claimed by: alice since 2026-03-01T12:00:00Z")
	assert.Contains(t, out, "2. Go")

	console.HandleUpdate(ctx, command(42, staffChat, "/pending g1"))
	assert.Equal(t, "1 pending:\na1  user u1  submitted", sender.last())

	console.HandleUpdate(ctx, command(42, staffChat, "/pending g2"))
	assert.Equal(t, "No applications are waiting for review.", sender.last())

	console.HandleUpdate(ctx, command(42, staffChat, "/app nope"))
	assert.Equal(t, "Application not found.", sender.last())
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	cmds := new(MockCommands)
	console, sender := newTestConsole(cmds, stubQueries{})
	cmds.On("Claim", "a1", "alice").Return(&decision.Reply{Message: "Claimed."}, nil)

	updates := make(chan tgbotapi.Update, 1)
	updates <- command(42, staffChat, "/claim a1")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		console.Run(ctx, updates)
		close(done)
	}()

	require.Eventually(t, func() bool { return sender.last() == "Claimed." }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
