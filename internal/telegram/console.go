// Package telegram is the staff console: reviewers issue review commands in
// a Telegram staff chat and receive live review events there.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/decision"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
)

// Sender is the part of the Bot API the console writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Commands are the staff review commands.
type Commands interface {
	Decide(ctx context.Context, d review.Decision, appID, actorID, reason string) (*decision.Reply, error)
	RequestInfo(ctx context.Context, appID, actorID, question string) (*decision.Reply, error)
	Claim(ctx context.Context, appID, reviewerID string) (*decision.Reply, error)
	Unclaim(ctx context.Context, appID, actorID, reason string) (*decision.Reply, error)
	Unblock(ctx context.Context, guildID, userID, actorID, reason string) (*decision.Reply, error)
}

// Queries are the read-only lookups behind /app and /pending.
type Queries interface {
	GetApplication(ctx context.Context, appID string) (*models.Application, error)
	CurrentClaim(ctx context.Context, appID string) (*models.Claim, error)
	ListPending(ctx context.Context, guildID string) ([]models.Application, error)
}

const helpText = `Review commands:
/claim <app>
/unclaim <app> [reason]
/approve <app> [note]
/reject <app> [reason]
/permreject <app> [reason]
/kick <app> [reason]
/needinfo <app> <question>
/unblock <guild> <user> [reason]
/app <app>
/pending <guild>`

var decisions = map[string]review.Decision{
	"approve":    review.DecisionApprove,
	"reject":     review.DecisionReject,
	"permreject": review.DecisionPermReject,
	"kick":       review.DecisionKick,
}

// Console routes staff chat commands to the review service.
type Console struct {
	bot      Sender
	commands Commands
	queries  Queries
	chatID   int64
	staff    map[int64]string
}

// NewConsole creates a console. Only messages from the configured staff chat
// and from users listed in cfg.Staff are acted upon.
func NewConsole(bot Sender, commands Commands, queries Queries, cfg config.TelegramConfig) *Console {
	staff := make(map[int64]string, len(cfg.Staff))
	for tgID, reviewerID := range cfg.Staff {
		id, err := strconv.ParseInt(tgID, 10, 64)
		if err != nil {
			logger.Warn("ignoring staff entry with invalid telegram id", "telegram_id", tgID)
			continue
		}
		staff[id] = reviewerID
	}
	return &Console{bot: bot, commands: commands, queries: queries, chatID: cfg.StaffChatID, staff: staff}
}

// Run is the main loop for receiving Telegram updates.
func (c *Console) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes one update. Non-command messages are ignored.
func (c *Console) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}
	if c.chatID != 0 && msg.Chat.ID != c.chatID {
		return
	}
	reviewerID, ok := c.staff[msg.From.ID]
	if !ok {
		c.reply(msg.Chat.ID, "You are not registered as review staff.")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	text := c.dispatch(ctx, reviewerID, msg.Command(), strings.Fields(msg.CommandArguments()))
	c.reply(msg.Chat.ID, text)
}

func (c *Console) dispatch(ctx context.Context, reviewerID, command string, args []string) string {
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	var (
		reply *decision.Reply
		err   error
	)
	switch command {
	case "claim":
		if len(args) < 1 {
			return "Usage: /claim <app>"
		}
		reply, err = c.commands.Claim(ctx, args[0], reviewerID)
	case "unclaim":
		if len(args) < 1 {
			return "Usage: /unclaim <app> [reason]"
		}
		reply, err = c.commands.Unclaim(ctx, args[0], reviewerID, rest(1))
	case "approve", "reject", "permreject", "kick":
		if len(args) < 1 {
			return fmt.Sprintf("Usage: /%s <app> [reason]", command)
		}
		reply, err = c.commands.Decide(ctx, decisions[command], args[0], reviewerID, rest(1))
	case "needinfo":
		if len(args) < 2 {
			return "Usage: /needinfo <app> <question>"
		}
		reply, err = c.commands.RequestInfo(ctx, args[0], reviewerID, rest(1))
	case "unblock":
		if len(args) < 2 {
			return "Usage: /unblock <guild> <user> [reason]"
		}
		reply, err = c.commands.Unblock(ctx, args[0], args[1], reviewerID, rest(2))
	case "app":
		if len(args) < 1 {
			return "Usage: /app <app>"
		}
		return c.describeApplication(ctx, args[0])
	case "pending":
		if len(args) < 1 {
			return "Usage: /pending <guild>"
		}
		return c.describePending(ctx, args[0])
	default:
		return helpText
	}

	if err != nil {
		return c.failure(command, reviewerID, err)
	}
	return reply.Message
}

func (c *Console) failure(command, reviewerID string, err error) string {
	if decision.IsNotFound(err) {
		return "Application not found."
	}
	logger.Error("staff console command failed", "command", command, "reviewer_id", reviewerID, "error", err)
	return "Something went wrong. The action may not have been applied; check /app before retrying."
}

func (c *Console) describeApplication(ctx context.Context, appID string) string {
	app, err := c.queries.GetApplication(ctx, appID)
	if err != nil {
		return c.failure("app", "", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Application %s\nGuild: %s\nUser: %s\nStatus: %s\n", app.ID, app.GuildID, app.UserID, app.Status)
	if app.PermanentlyRejected {
		b.WriteString("Permanently rejected: yes\n")
	}
	if app.ResolverID != nil {
		fmt.Fprintf(&b, "Resolved by: %s\n", *app.ResolverID)
	}
	if claim, err := c.queries.CurrentClaim(ctx, appID); err == nil && claim != nil {
		fmt.Fprintf(&b, "Claimed by: %s since %s\n", claim.ReviewerID, claim.ClaimedAt.UTC().Format(time.RFC3339))
	}
	for i, answer := range app.Answers {
		fmt.Fprintf(&b, "%d. %s\n", i+1, answer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Console) describePending(ctx context.Context, guildID string) string {
	apps, err := c.queries.ListPending(ctx, guildID)
	if err != nil {
		return c.failure("pending", "", err)
	}
	if len(apps) == 0 {
		return "No applications are waiting for review."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending:\n", len(apps))
	for _, app := range apps {
		fmt.Fprintf(&b, "%s  user %s  %s\n", app.ID, app.UserID, app.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Console) reply(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("failed to send staff console reply", "chat_id", chatID, "error", err)
	}
}
