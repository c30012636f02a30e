package gateway

import (
	"encoding/json"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// readPump owns the inbound side of the connection and the teardown.
// Room subscriptions are released before presence is recomputed so a
// reconnecting client never observes its own stale membership.
func (g *Gateway) readPump(ws *websocket.Conn, c *registry.Conn) {
	defer func() {
		g.authorizer.ReleaseConn(c)
		g.registry.Unregister(c)
		c.Close()
		ws.Close()
		g.bus.Publish("gateway.disconnected", c.ID)
		g.logger.Info("connection closed",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.User.ID),
		)
	}()

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(g.opts.EventRate), g.opts.EventBurst)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read failed", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}

		var frame event.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.sendError(c, fault.Wrap(fault.InvalidState, err, "malformed frame"))
			continue
		}
		if !limiter.Allow() {
			// Over budget: the frame is rejected, the connection stays up.
			g.sendError(c, fault.New(fault.InvalidState, "event rate exceeded"))
			continue
		}
		g.handleFrame(c, frame)
	}
}

// writePump drains the connection's outbound buffer and keeps the
// transport alive with pings.
func (g *Gateway) writePump(ws *websocket.Conn, c *registry.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
		c.Close()
	}()

	for {
		select {
		case env := <-c.Outbound():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(env); err != nil {
				g.logger.Debug("write failed", zap.String("conn_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			return
		}
	}
}

// handleFrame routes one client frame. Failures go back to the caller
// only; nothing is broadcast.
func (g *Gateway) handleFrame(c *registry.Conn, frame event.ClientFrame) {
	var err error
	switch frame.Event {
	case event.JoinConversation:
		var d event.JoinConversationData
		if err = decode(frame.Data, &d); err == nil {
			err = g.authorizer.JoinConversation(c, d.ConversationID)
		}
	case event.LeaveConversation:
		var d event.JoinConversationData
		if err = decode(frame.Data, &d); err == nil {
			g.authorizer.LeaveConversation(c, d.ConversationID)
		}
	case event.Typing:
		var d event.TypingData
		if err = decode(frame.Data, &d); err == nil {
			err = g.authorizer.Typing(c, d.ConversationID, d.Typing)
		}
	case event.JoinGroup:
		var d event.JoinGroupData
		if err = decode(frame.Data, &d); err == nil {
			err = g.authorizer.JoinGroup(c, d.GroupID)
		}
	case event.MessageRead:
		var d event.MessageReadData
		if err = decode(frame.Data, &d); err == nil {
			err = g.engine.MarkRead(d.MessageID, c.User.ID)
		}
	case event.MessagesRead:
		var d event.MessagesReadData
		if err = decode(frame.Data, &d); err == nil {
			_, err = g.engine.MarkConversationRead(d.ConversationID, c.User.ID)
		}
	default:
		err = fault.Newf(fault.InvalidState, "unknown event %q", frame.Event)
	}
	if err != nil {
		g.sendError(c, err)
	}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Wrap(fault.InvalidState, err, "malformed frame data")
	}
	return nil
}

// sendError reports a failure to the requesting connection only.
func (g *Gateway) sendError(c *registry.Conn, err error) {
	code := "internal"
	if k := fault.KindOf(err); k != 0 {
		code = k.String()
	}
	g.dispatcher.ToConn(c, event.Error, event.ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}
