package reviewhub_test

import (
	"sync"

	"reviewbot/backend/internal/models"
)

type MockClient struct {
	id          string
	guildID     string
	RecvChannel chan models.ReviewEvent

	mu     sync.Mutex
	closed bool
}

func newMockClient(id, guildID string, buffer int) *MockClient {
	return &MockClient{
		id:          id,
		guildID:     guildID,
		RecvChannel: make(chan models.ReviewEvent, buffer),
	}
}

func (c *MockClient) GetSubscriberID() string                   { return c.id }
func (c *MockClient) GetGuildID() string                        { return c.guildID }
func (c *MockClient) GetSendChannel() chan<- models.ReviewEvent { return c.RecvChannel }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *MockClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type gauge struct {
	mu   sync.Mutex
	last int
}

func (g *gauge) SetSubscribers(n int) {
	g.mu.Lock()
	g.last = n
	g.mu.Unlock()
}

func (g *gauge) Last() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
