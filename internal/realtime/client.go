package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameSize = 64 << 10

// Client is one websocket connection. Its rooms are guarded by the hub lock.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  map[string]struct{}
}

// ServeHTTP upgrades the request to a websocket and serves the client until it
// disconnects. A userId query parameter joins the personal room immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Debug("Upgrade websocket", zap.Error(err))
		return
	}

	c := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, h.sendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.register(c)

	if id := r.URL.Query().Get("userId"); id != "" {
		c.identify(id)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.readPump(ctx)
	h.unregister(c)
	<-done

	if c.userID != "" {
		h.publish(ctx, broadcastRoom, frame(EventUserStatus, func(e *jx.Encoder) {
			encodeStatus(e, c.userID, "offline")
		}), nil)
	}
}

// identify binds the socket to a user and joins the personal room.
func (c *Client) identify(userID string) {
	c.hub.mu.Lock()
	c.userID = userID
	c.hub.mu.Unlock()
	c.hub.join(c, userRoom(userID))
}

func (c *Client) readPump(ctx context.Context) {
	lg := zctx.From(ctx)
	pongWait := 2 * c.hub.pingInterval

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				lg.Debug("Websocket closed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if err := c.handle(ctx, data); err != nil {
			lg.Debug("Bad realtime frame", zap.String("user_id", c.userID), zap.Error(err))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound frame.
func (c *Client) handle(ctx context.Context, data []byte) error {
	event, raw, err := decodeFrame(data)
	if err != nil {
		return err
	}

	switch event {
	case EventUserJoin:
		id, err := decodeID(raw, "userId")
		if err != nil {
			return err
		}
		c.identify(id)

	case EventConversationJoin:
		id, err := decodeID(raw, "conversationId")
		if err != nil {
			return err
		}
		if !c.mayJoin(ctx, id) {
			zctx.From(ctx).Debug("Conversation join denied",
				zap.String("conversation_id", id),
				zap.String("user_id", c.userID),
			)
			return nil
		}
		c.hub.join(c, conversationRoom(id))

	case EventConversationLeave:
		id, err := decodeID(raw, "conversationId")
		if err != nil {
			return err
		}
		c.hub.leave(c, conversationRoom(id))

	case EventTypingStart, EventTypingStop:
		var t typing
		if err := t.decode(raw); err != nil {
			return err
		}
		room := conversationRoom(t.ConversationID)
		if !c.hub.inRoom(c, room) {
			c.dropForeign(ctx, event, t.ConversationID)
			return nil
		}
		active := event == EventTypingStart
		c.hub.publish(ctx, room, frame(EventUserTyping, func(e *jx.Encoder) {
			t.encode(e, active)
		}), c)

	case EventMessageRead:
		var r readReceipt
		if err := r.decode(raw); err != nil {
			return err
		}
		room := conversationRoom(r.ConversationID)
		if !c.hub.inRoom(c, room) {
			c.dropForeign(ctx, event, r.ConversationID)
			return nil
		}
		c.hub.publish(ctx, room, frame(EventMessageRead, r.encode), c)

	case EventUserOnline:
		id, err := decodeID(raw, "userId")
		if err != nil {
			return err
		}
		c.hub.publish(ctx, broadcastRoom, frame(EventUserStatus, func(e *jx.Encoder) {
			encodeStatus(e, id, "online")
		}), c)

	default:
		zctx.From(ctx).Debug("Unknown realtime event", zap.String("event", event))
	}
	return nil
}

// dropForeign logs a conversation event from a client outside the room.
func (c *Client) dropForeign(ctx context.Context, event, conversationID string) {
	zctx.From(ctx).Debug("Event for unjoined conversation dropped",
		zap.String("event", event),
		zap.String("conversation_id", conversationID),
		zap.String("user_id", c.userID),
	)
}

// mayJoin checks conversation membership when the hub has a Membership.
func (c *Client) mayJoin(ctx context.Context, conversationID string) bool {
	if c.hub.members == nil {
		return true
	}
	if c.userID == "" {
		return false
	}
	ok, err := c.hub.members.IsParticipant(ctx, conversationID, c.userID)
	if err != nil {
		zctx.From(ctx).Warn("Check conversation membership",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return false
	}
	return ok
}
