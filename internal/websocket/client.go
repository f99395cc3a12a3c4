package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dailyspot/internal/rotation"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// maxDates caps how many daily boards one connection may follow.
	maxDates = maxSnapshots
)

var (
	errBadDate      = errors.New("date must be YYYY-MM-DD")
	errFutureDate   = errors.New("no board exists for that date yet")
	errTooManyDates = errors.New("too many dates subscribed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client is one browser following one or more daily boards.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// dates is only touched by the read pump.
	dates map[string]bool
	now   func() time.Time
}

// ClientMessage represents a message from the client. An empty date, or
// "today", means the current UTC day.
type ClientMessage struct {
	Type string `json:"type"`
	Date string `json:"date,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
		dates:  make(map[string]bool),
		now:    time.Now,
	}
}

// resolveDate turns a requested board date into a date key. Boards only
// exist for today and earlier.
func resolveDate(raw string, now time.Time) (string, error) {
	today := rotation.DateKey(now)
	if raw == "" || raw == "today" {
		return today, nil
	}
	if _, err := rotation.ParseDateKey(raw); err != nil {
		return "", errBadDate
	}
	if raw > today {
		return "", errFutureDate
	}
	return raw, nil
}

// follow subscribes the client to a date's board and acknowledges it.
func (c *Client) follow(raw string) {
	date, err := resolveDate(raw, c.now())
	if err != nil {
		c.reply(MessageTypeError, "", map[string]string{"error": err.Error()})
		return
	}
	if !c.dates[date] && len(c.dates) >= maxDates {
		c.reply(MessageTypeError, date, map[string]string{"error": errTooManyDates.Error()})
		return
	}
	c.dates[date] = true
	c.hub.Subscribe(c, date)
	c.reply("subscribed", date, map[string]string{"status": "ok"})
}

// unfollow drops a date the client follows. Unknown dates are ignored.
func (c *Client) unfollow(raw string) {
	date, err := resolveDate(raw, c.now())
	if err != nil || !c.dates[date] {
		return
	}
	delete(c.dates, date)
	c.hub.Unsubscribe(c, date)
	c.reply("unsubscribed", date, map[string]string{"status": "ok"})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(MessageTypeError, "", map[string]string{"error": "invalid message format"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "client_id", c.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			c.follow(msg.Date)
		case MessageTypeUnsubscribe:
			c.unfollow(msg.Date)
		case MessageTypePing:
			c.reply(MessageTypePong, "", nil)
		default:
			c.logger.Debug("unknown message type", "client_id", c.id, "type", msg.Type)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// Messages queued behind the first are sent in the same frame, one per line.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			for n := len(c.send); n > 0; n-- {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a message for this client only. It never blocks the read
// pump; a full buffer drops the reply.
func (c *Client) reply(msgType, date string, data interface{}) {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Date:      date,
		Data:      data,
		Timestamp: c.now(),
	})
	if err != nil {
		c.logger.Error("failed to marshal reply", "client_id", c.id, "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client buffer full, dropping reply", "client_id", c.id, "type", msgType)
	}
}

// ServeWs upgrades the request and registers the connection. A date query
// parameter, such as ?date=today, subscribes the connection straight away.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	if date, ok := r.URL.Query()["date"]; ok && len(date) > 0 {
		client.follow(date[0])
	}

	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id)
}
