//go:build integration

package realtime

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/cookmart/internal/domain/chat"
)

func startRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRelay_FansOutAcrossHubs(t *testing.T) {
	const channel = "cookmart:test"
	rdb := startRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	newRelayedHub := func() (*Hub, *httptest.Server) {
		relay := NewRelay(rdb, channel)
		hub := NewHub(WithBroker(relay))
		go func() { _ = relay.Run(ctx, hub) }()
		srv := httptest.NewServer(hub)
		t.Cleanup(func() {
			hub.Close()
			srv.Close()
		})
		return hub, srv
	}

	hubA, srvA := newRelayedHub()
	hubB, srvB := newRelayedHub()

	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 2
	}, 10*time.Second, 50*time.Millisecond)

	alice := dial(t, srvA, "alice")
	bob := dial(t, srvB, "bob")
	sendEvent(t, alice, EventConversationJoin, `"c1"`)
	sendEvent(t, bob, EventConversationJoin, `"c1"`)
	require.Eventually(t, func() bool {
		return hubA.RoomSize(conversationRoom("c1")) == 1 && hubB.RoomSize(conversationRoom("c1")) == 1
	}, time.Second, 10*time.Millisecond)

	hubA.EmitNewMessage(ctx, "c1", &chat.Message{
		ID:             "m1",
		ConversationID: "c1",
		Seq:            1,
		SenderID:       "alice",
		Type:           chat.MessageText,
		Content:        "hello from A",
		Status:         chat.StatusSent,
		CreatedAt:      time.Now(),
	})

	event, data := readEvent(t, bob)
	assert.Equal(t, EventMessageNew, event)
	assert.Equal(t, "hello from A", field(t, data, "content"))

	// Alice gets the local delivery only; the relay echo from Redis is ignored.
	event, _ = readEvent(t, alice)
	assert.Equal(t, EventMessageNew, event)
	expectSilence(t, alice)
}
