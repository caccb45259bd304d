package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/attendance"
	"github.com/dp62042/duty-platform/internal/metrics"
	"github.com/dp62042/duty-platform/internal/qr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Client is one live gateway connection. A client belongs only to the rooms of
// sessions it has successfully joined (or ended).
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
}

// enqueue hands a frame to the write pump. A full buffer means the client is
// too slow to keep up; the frame is dropped rather than blocking the room.
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Printf("gateway: dropping frame for slow client")
	}
}

// emit sends an event to this connection only.
func (c *Client) emit(event string, data any) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("gateway: marshal %s failed: %v", event, err)
		return
	}
	c.enqueue(payload)
}

// readPump processes inbound frames sequentially, so one connection's
// requests are handled in submission order.
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		close(c.send)
		c.conn.Close()
		metrics.GatewayConnections.Dec()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: read error: %v", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame. Every failure is reported back to this
// connection only; nothing escapes as a panic or dropped connection.
func (c *Client) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.emit(EventJoinError, errorPayload{Message: "Malformed event"})
		return
	}
	switch env.Event {
	case EventJoinSession:
		c.handleJoin(env.Data)
	case EventQRJoin:
		c.handleQRJoin(env.Data)
	case EventEndSession:
		c.handleEnd(env.Data)
	default:
		c.emit(EventJoinError, errorPayload{Message: "Unknown event: " + env.Event})
	}
}

func (c *Client) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.hub.opTimeout)
}

func (c *Client) handleJoin(data json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.emit(EventJoinError, errorPayload{Message: "Malformed join request"})
		return
	}
	c.mark(req.SessionCode, req.RegistrationNumber, req.StudentName, attendance.ChannelDirect)
}

func (c *Client) handleQRJoin(data json.RawMessage) {
	var req qrJoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.emit(EventQRJoinError, errorPayload{Message: "Malformed QR join request"})
		return
	}
	scan, err := qr.DecodeScan(req.QRData)
	if err != nil {
		c.emit(EventQRJoinError, errorPayload{Message: apperr.Message(err)})
		return
	}
	c.mark(scan.SessionCode, scan.RegistrationNumber, scan.StudentName, attendance.ChannelQR)
}

// mark runs the shared join flow for both channels; only event names and the
// success message differ.
func (c *Client) mark(code, regNo, name string, via attendance.Channel) {
	successEvent, errorEvent, joinedEvent := EventJoinSuccess, EventJoinError, EventStudentJoined
	successMsg := "Attendance marked successfully"
	if via == attendance.ChannelQR {
		successEvent, errorEvent, joinedEvent = EventQRJoinSuccess, EventQRJoinError, EventStudentJoinedQR
		successMsg = "Attendance marked successfully via QR code"
	}

	ctx, cancel := c.opContext()
	defer cancel()

	res, err := c.hub.recorder.Mark(ctx, code, regNo, name, via)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeInternal) || apperr.Message(err) == "Internal server error" {
			log.Printf("gateway: mark failed: %v", err)
		}
		c.emit(errorEvent, errorPayload{Message: apperr.Message(err)})
		return
	}

	if err := c.hub.sessions.Connect(ctx, res.Session.ID, res.Student.ID); err != nil {
		log.Printf("gateway: connect list update failed for session %s: %v", res.Session.ID, err)
	}

	c.hub.join(res.Session.SessionCode, c)
	c.emit(successEvent, joinSuccessPayload{Message: successMsg, Attendance: res.Record})
	c.hub.broadcast(res.Session.SessionCode, joinedEvent, studentJoinedPayload{
		Student: joinedStudent{
			Name:               res.Student.Name,
			RegistrationNumber: res.Student.RegistrationNumber,
			JoinedAt:           res.Record.MarkedAt,
		},
	}, c)
}

func (c *Client) handleEnd(data json.RawMessage) {
	var req endSessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.emit(EventEndSessionError, errorPayload{Message: "Malformed end request"})
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()

	// EndByCode notifies the room through the hub before returning.
	if _, err := c.hub.sessions.EndByCode(ctx, req.SessionCode); err != nil {
		if apperr.Message(err) == "Internal server error" {
			log.Printf("gateway: end session failed: %v", err)
		}
		c.emit(EventEndSessionError, errorPayload{Message: apperr.Message(err)})
		return
	}
	c.hub.leave(req.SessionCode, c)
	c.emit(EventEndSessionSuccess, endSuccessPayload{Message: "Session ended successfully"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the separate frontend origin; access
	// control happens at join time via the roster check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and starts the connection pumps.
func (h *Hub) ServeWS() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			log.Printf("gateway: upgrade failed: %v", err)
			return
		}
		client := newClient(h, conn)
		metrics.GatewayConnections.Inc()
		go client.writePump()
		go client.readPump()
	}
}
