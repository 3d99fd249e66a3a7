package telegram

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
)

// Notifier is a review event subscriber that posts every changed outcome to
// the staff chat. It implements reviewhub.Client.
type Notifier struct {
	ChatID  int64
	GuildID string
	Send    chan models.ReviewEvent
	bot     Sender

	closeOnce sync.Once
	done      chan struct{}
}

func NewNotifier(bot Sender, chatID int64, guildID string) *Notifier {
	return &Notifier{
		ChatID:  chatID,
		GuildID: guildID,
		Send:    make(chan models.ReviewEvent, 64),
		bot:     bot,
		done:    make(chan struct{}),
	}
}

func (n *Notifier) GetSubscriberID() string                   { return fmt.Sprintf("telegram/%d", n.ChatID) }
func (n *Notifier) GetGuildID() string                        { return n.GuildID }
func (n *Notifier) GetSendChannel() chan<- models.ReviewEvent { return n.Send }

// Run starts the write pump.
func (n *Notifier) Run() {
	go n.writePump()
}

func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.Send) })
}

// Done is closed when the write pump has drained.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

func (n *Notifier) writePump() {
	defer close(n.done)
	for event := range n.Send {
		text, ok := formatEvent(event)
		if !ok {
			continue
		}
		if _, err := n.bot.Send(tgbotapi.NewMessage(n.ChatID, text)); err != nil {
			logger.Warn("failed to post review event to staff chat", "chat_id", n.ChatID, "event_id", event.ID, "error", err)
		}
	}
}

// formatEvent renders events that changed something. Everything else is
// already answered in the chat where it was issued.
func formatEvent(e models.ReviewEvent) (string, bool) {
	var verb string
	switch e.Action {
	case models.ActionApprove:
		verb = "approved"
	case models.ActionReject:
		verb = "rejected"
	case models.ActionPermReject:
		verb = "permanently rejected"
	case models.ActionKick:
		verb = "kicked"
	case models.ActionNeedInfo:
		verb = "asked for more information on"
	case models.ActionUnblock:
		verb = "unblocked the applicant of"
	case models.ActionClaim:
		verb = "claimed"
	case models.ActionUnclaim:
		verb = "released"
	default:
		return "", false
	}
	if e.Outcome != "changed" && e.Outcome != "acquired" && e.Outcome != "released" {
		return "", false
	}

	text := fmt.Sprintf("%s %s application %s", e.ActorID, verb, e.ApplicationID)
	if failed := failedSteps(e.Meta); len(failed) > 0 {
		text += " (failed: " + strings.Join(failed, ", ") + ")"
	}
	return text, true
}

func failedSteps(meta models.Metadata) []string {
	var out []string
	for k, v := range meta {
		if step, ok := strings.CutSuffix(k, "_error"); ok {
			out = append(out, fmt.Sprintf("%s %v", step, v))
		}
	}
	sort.Strings(out)
	return out
}
