package reviewhub

import "reviewbot/backend/internal/models"

// Client is one live subscriber to review events.
type Client interface {
	GetSubscriberID() string
	// GetGuildID scopes the subscription. Empty means every guild.
	GetGuildID() string
	GetSendChannel() chan<- models.ReviewEvent
	Run()
	Close()
}

func wants(c Client, event models.ReviewEvent) bool {
	g := c.GetGuildID()
	return g == "" || g == event.GuildID
}
