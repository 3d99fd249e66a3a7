package reviewhub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/reviewhub"
)

func startHub(t *testing.T) (*reviewhub.ManagerService, *gauge) {
	t.Helper()
	g := &gauge{}
	hub := reviewhub.NewManagerService(nil).WithGauge(g)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub, g
}

func TestManager_RegisterUnregister(t *testing.T) {
	hub, g := startHub(t)
	clientA := newMockClient("staff_A", "", 4)

	hub.RegisterCh <- clientA
	time.Sleep(50 * time.Millisecond)
	assert.True(t, hub.HasClient("staff_A"))
	assert.Equal(t, 1, g.Last())

	hub.UnregisterCh <- clientA
	time.Sleep(50 * time.Millisecond)
	assert.False(t, hub.HasClient("staff_A"))
	assert.True(t, clientA.Closed())
	assert.Equal(t, 0, g.Last())
}

func TestManager_BroadcastFiltersByGuild(t *testing.T) {
	hub, _ := startHub(t)
	all := newMockClient("all", "", 4)
	g1 := newMockClient("g1", "g1", 4)
	g2 := newMockClient("g2", "g2", 4)
	for _, c := range []*MockClient{all, g1, g2} {
		hub.RegisterCh <- c
	}

	hub.BroadcastCh <- models.ReviewEvent{ID: "e1", GuildID: "g1", ApplicationID: "a1", Action: models.ActionApprove}
	time.Sleep(50 * time.Millisecond)

	require.Len(t, all.RecvChannel, 1)
	require.Len(t, g1.RecvChannel, 1)
	assert.Len(t, g2.RecvChannel, 0)
	assert.Equal(t, "e1", (<-g1.RecvChannel).ID)
}

func TestManager_DropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	slow := newMockClient("slow", "", 1)
	hub.RegisterCh <- slow

	hub.BroadcastCh <- models.ReviewEvent{ID: "e1"}
	hub.BroadcastCh <- models.ReviewEvent{ID: "e2"}
	time.Sleep(50 * time.Millisecond)

	assert.False(t, hub.HasClient("slow"))
	assert.True(t, slow.Closed())
	assert.Equal(t, "e1", (<-slow.RecvChannel).ID)
}

func TestManager_ReconnectReplacesClient(t *testing.T) {
	hub, _ := startHub(t)
	first := newMockClient("staff_A", "", 1)
	second := newMockClient("staff_A", "", 1)

	hub.RegisterCh <- first
	hub.RegisterCh <- second
	// The stale connection unregistering must not remove its replacement.
	hub.UnregisterCh <- first
	time.Sleep(50 * time.Millisecond)

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.True(t, hub.HasClient("staff_A"))
	assert.Equal(t, 1, hub.Count())
}

func TestManager_StopClosesClients(t *testing.T) {
	hub := reviewhub.NewManagerService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := newMockClient("staff_A", "", 1)
	hub.RegisterCh <- c
	cancel()
	<-hub.Done()

	assert.True(t, c.Closed())
	assert.Equal(t, 0, hub.Count())
}
