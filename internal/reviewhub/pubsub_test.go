package reviewhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewbot/backend/internal/models"
)

func TestDecodeEvent(t *testing.T) {
	event, err := decodeEvent(`{"id":"e1","guild_id":"g1","application_id":"a1","actor_id":"alice","action":"approve","outcome":"changed","status":"approved","meta":{"dm_delivered":false}}`)
	require.NoError(t, err)
	assert.Equal(t, "g1", event.GuildID)
	assert.Equal(t, models.ActionApprove, event.Action)
	assert.Equal(t, models.StatusApproved, event.Status)
	assert.Equal(t, false, event.Meta["dm_delivered"])

	_, err = decodeEvent("not json")
	assert.Error(t, err)
}
