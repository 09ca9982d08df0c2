// Package realtime fans chat events out to websocket clients grouped in rooms.
//
// Delivery is at-most-once: a client whose send buffer is full misses the
// event, and nothing is replayed after a reconnect. Clients catch up through
// the message history endpoint.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/cookmart/internal/domain/chat"
)

const instrumentationName = "github.com/xenking/cookmart/internal/realtime"

// broadcastRoom addresses every connected client.
const broadcastRoom = "*"

// Broker carries frames to the hubs of other instances.
type Broker interface {
	Publish(ctx context.Context, f Frame) error
}

// Frame is an encoded event addressed to a room, tagged with the hub that
// produced it.
type Frame struct {
	Origin  string
	Room    string
	Payload []byte
}

// Membership authorizes conversation room joins.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithBroker relays emitted events to other instances.
func WithBroker(b Broker) Option {
	return func(h *Hub) { h.broker = b }
}

// WithMembership restricts conversation:join to participants.
func WithMembership(m Membership) Option {
	return func(h *Hub) { h.members = m }
}

// WithOriginCheck decides which websocket origins are accepted. All origins
// are accepted by default.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.checkOrigin = fn }
}

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval sets how often clients are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithMeterProvider counts deliveries and drops.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Hub) {
		counter, err := mp.Meter(instrumentationName).Int64Counter("realtime.deliveries",
			metric.WithDescription("Realtime frames by delivery outcome"),
		)
		if err == nil {
			h.deliveries = counter
		}
	}
}

var (
	outcomeDelivered = metric.WithAttributes(attribute.String("outcome", "delivered"))
	outcomeDropped   = metric.WithAttributes(attribute.String("outcome", "dropped"))
)

// Hub tracks connected clients and their rooms.
type Hub struct {
	id      string
	broker  Broker
	members Membership

	checkOrigin  func(r *http.Request) bool
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	deliveries   metric.Int64Counter

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

var _ chat.Publisher = (*Hub)(nil)

// NewHub creates a Hub.
func NewHub(opts ...Option) *Hub {
	noopCounter, _ := metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("realtime.deliveries")
	h := &Hub{
		id:           uuid.NewString(),
		checkOrigin:  func(*http.Request) bool { return true },
		sendBuffer:   64,
		pingInterval: 25 * time.Second,
		writeTimeout: 10 * time.Second,
		deliveries:   noopCounter,
		clients:      make(map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ID identifies this hub among relayed instances.
func (h *Hub) ID() string { return h.id }

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// unregister drops c from every room and closes its queue.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.send)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// inRoom reports whether c has joined room.
func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// RoomSize returns the number of local clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// deliver queues payload on every local client in room except skip. It never
// blocks: a full queue drops the frame for that client.
func (h *Hub) deliver(ctx context.Context, room string, payload []byte, skip *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.rooms[room]
	if room == broadcastRoom {
		targets = h.clients
	}
	for c := range targets {
		if c == skip {
			continue
		}
		select {
		case c.send <- payload:
			h.deliveries.Add(ctx, 1, outcomeDelivered)
		default:
			h.deliveries.Add(ctx, 1, outcomeDropped)
			zctx.From(ctx).Debug("Dropped realtime frame",
				zap.String("room", room),
				zap.String("user_id", c.userID),
			)
		}
	}
}

// publish delivers locally and hands the frame to the broker, if any.
func (h *Hub) publish(ctx context.Context, room string, payload []byte, skip *Client) {
	h.deliver(ctx, room, payload, skip)
	if h.broker == nil {
		return
	}
	if err := h.broker.Publish(ctx, Frame{Origin: h.id, Room: room, Payload: payload}); err != nil {
		zctx.From(ctx).Error("Relay realtime frame", zap.String("room", room), zap.Error(err))
	}
}

// Receive delivers a frame relayed from another instance. Frames this hub
// produced are ignored.
func (h *Hub) Receive(ctx context.Context, f Frame) {
	if f.Origin == h.id {
		return
	}
	h.deliver(ctx, f.Room, f.Payload, nil)
}

// EmitNewMessage sends message:new to the conversation room.
func (h *Hub) EmitNewMessage(ctx context.Context, conversationID string, m *chat.Message) {
	payload := frame(EventMessageNew, func(e *jx.Encoder) { EncodeMessage(e, m) })
	h.publish(ctx, conversationRoom(conversationID), payload, nil)
}

// EmitRead sends message:read to the conversation room.
func (h *Hub) EmitRead(ctx context.Context, conversationID, userID string, at time.Time) {
	r := readReceipt{ConversationID: conversationID, UserID: userID, ReadAt: at}
	h.publish(ctx, conversationRoom(conversationID), frame(EventMessageRead, r.encode), nil)
}

// Close disconnects every local client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}
