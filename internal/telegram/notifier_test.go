package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewbot/backend/internal/models"
)

func TestFormatEvent(t *testing.T) {
	text, ok := formatEvent(models.ReviewEvent{
		ApplicationID: "a1", ActorID: "alice", Action: models.ActionApprove, Outcome: "changed",
		Meta: models.Metadata{"role_applied": true, "dm_delivered": false, "dm_error": "cannot_dm"},
	})
	require.True(t, ok)
	assert.Equal(t, "alice approved application a1 (failed: dm cannot_dm)", text)

	text, ok = formatEvent(models.ReviewEvent{ApplicationID: "a1", ActorID: "bob", Action: models.ActionClaim, Outcome: "acquired"})
	require.True(t, ok)
	assert.Equal(t, "bob claimed application a1", text)

	_, ok = formatEvent(models.ReviewEvent{Action: models.ActionApprove, Outcome: "already"})
	assert.False(t, ok)
	_, ok = formatEvent(models.ReviewEvent{Action: models.ActionModmailOpen, Outcome: "changed"})
	assert.False(t, ok)
}

func TestNotifier_PostsEvents(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, staffChat, "")
	assert.Equal(t, "telegram/-100", n.GetSubscriberID())

	n.Run()
	n.GetSendChannel() <- models.ReviewEvent{ApplicationID: "a1", ActorID: "alice", Action: models.ActionKick, Outcome: "changed"}
	n.GetSendChannel() <- models.ReviewEvent{ApplicationID: "a1", ActorID: "alice", Action: models.ActionKick, Outcome: "terminal"}
	n.Close()
	n.Close()

	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}
	assert.Equal(t, []string{"alice kicked application a1"}, sender.texts())
}
