// Package reviewhub fans review events out to live staff views. Events
// arrive on the Redis events channel, so every API instance sees commands
// issued through any surface.
package reviewhub

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
)

// EventSource subscribes to the review events channel.
type EventSource interface {
	SubscribeEvents(ctx context.Context) *redis.PubSub
}

// SubscriberGauge is notified when the number of connected clients changes.
type SubscriberGauge interface {
	SetSubscribers(n int)
}

// ManagerService owns the set of connected clients. Only Run mutates it.
type ManagerService struct {
	mu      sync.RWMutex
	clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	BroadcastCh  chan models.ReviewEvent

	source EventSource
	gauge  SubscriberGauge
	done   chan struct{}
}

func NewManagerService(source EventSource) *ManagerService {
	return &ManagerService{
		clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		BroadcastCh:  make(chan models.ReviewEvent, 64),
		source:       source,
		done:         make(chan struct{}),
	}
}

func (m *ManagerService) WithGauge(g SubscriberGauge) *ManagerService {
	m.gauge = g
	return m
}

// HasClient reports whether a subscriber is registered.
func (m *ManagerService) HasClient(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[id]
	return ok
}

// Done is closed once Run has returned.
func (m *ManagerService) Done() <-chan struct{} {
	return m.done
}

// Count returns the number of registered subscribers.
func (m *ManagerService) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Run processes registrations and broadcasts until ctx is cancelled. When an
// event source is configured the Redis listener is started first.
func (m *ManagerService) Run(ctx context.Context) {
	if m.source != nil {
		m.StartPubSubListener(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			close(m.done)
			return

		case client := <-m.RegisterCh:
			m.mu.Lock()
			if old, ok := m.clients[client.GetSubscriberID()]; ok && old != client {
				old.Close()
			}
			m.clients[client.GetSubscriberID()] = client
			m.mu.Unlock()
			logger.Info("review subscriber connected", "subscriber_id", client.GetSubscriberID(), "guild_id", client.GetGuildID())
			m.report()

		case client := <-m.UnregisterCh:
			m.remove(client)

		case event := <-m.BroadcastCh:
			m.deliver(event)
		}
	}
}

func (m *ManagerService) deliver(event models.ReviewEvent) {
	m.mu.RLock()
	var slow []Client
	for _, client := range m.clients {
		if !wants(client, event) {
			continue
		}
		select {
		case client.GetSendChannel() <- event:
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range slow {
		logger.Warn("dropping slow review subscriber", "subscriber_id", client.GetSubscriberID())
		m.remove(client)
	}
}

// remove unregisters a client once. Unregistering an unknown or replaced
// client is a no-op.
func (m *ManagerService) remove(client Client) {
	m.mu.Lock()
	current, ok := m.clients[client.GetSubscriberID()]
	if !ok || current != client {
		m.mu.Unlock()
		return
	}
	delete(m.clients, client.GetSubscriberID())
	m.mu.Unlock()

	client.Close()
	logger.Info("review subscriber disconnected", "subscriber_id", client.GetSubscriberID())
	m.report()
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]Client)
	m.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	m.report()
}

func (m *ManagerService) report() {
	if m.gauge != nil {
		m.gauge.SetSubscribers(m.Count())
	}
}
