package ws

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/text/unicode/norm"

	"github.com/muk365/whiteboard/internal/protocol"
	"github.com/muk365/whiteboard/internal/ratelimit"
	"github.com/muk365/whiteboard/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024

	maxRoomIDLength      = 128
	maxDisplayNameLength = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// One connected participant. The read loop feeds the hub; the write loop
// drains send. Nothing but the write loop writes to conn.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	room        *room.Room
	clientID    string
	displayName string
	guard       *ratelimit.Guard
	log         *slog.Logger
}

// Handles GET /ws/{room}/{name}
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if roomID == "" || len(roomID) > maxRoomIDLength {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	displayName := NormalizeDisplayName(r.PathValue("name"))
	if displayName == "" {
		http.Error(w, "display name is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("upgrade error", "error", err)
		return
	}

	client := newClient(hub, conn, roomID, displayName)
	rm, err := hub.Join(roomID, client)
	if err != nil {
		client.log.Error("join failed", "error", err)
		client.Close()
		return
	}
	client.room = rm

	hub.sessions.Add(1)
	go client.writePump()
	go client.readPump()
}

func newClient(hub *Hub, conn *websocket.Conn, roomID, displayName string) *Client {
	clientID := uuid.NewString()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.opts.SendBuffer),
		done:        make(chan struct{}),
		clientID:    clientID,
		displayName: displayName,
		guard:       ratelimit.NewGuard(hub.opts.Rate, hub.opts.Burst, hub.opts.MaxViolations),
		log:         hub.log.With("room", roomID, "client_id", clientID),
	}
}

// Trims and NFC-normalizes a user-chosen name, capping its length
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		name = string([]rune(name)[:maxDisplayNameLength])
	}
	return name
}

func (c *Client) ID() string   { return c.clientID }
func (c *Client) Name() string { return c.displayName }

// Queues a frame for the write loop. A full queue means the peer is not
// keeping up; the connection is closed rather than blocking the room.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue full, disconnecting slow client", "capacity", cap(c.send))
		c.hub.disconnected.Add(1)
		c.Close()
		return false
	}
}

// Stops both loops. Safe to call more than once and from any goroutine,
// including under a room lock: it never writes to the socket. The read loop
// then runs the leave path exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c.room, c.clientID)
		c.Close()
		c.hub.sessions.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", "error", err)
			}
			return
		}

		msg, decodeErr := c.hub.Decode(message)

		class := rateClass(msg)
		switch c.guard.Check(class) {
		case ratelimit.Drop:
			if v := c.guard.Violations(); v%100 == 1 {
				c.log.Warn("⚠️ rate limit exceeded", "violations", v)
			}
			continue
		case ratelimit.Disconnect:
			c.log.Warn("🚫 disconnecting client over rate limit", "violations", c.guard.Violations(), "edit", class == ratelimit.Lossless)
			c.hub.disconnected.Add(1)
			return
		}

		if decodeErr != nil {
			c.log.Debug("dropped invalid message", "error", decodeErr)
			continue
		}
		if err := c.hub.Apply(c.room, c, msg); err != nil {
			c.log.Debug("dropped message", "error", err)
		}
	}
}

// Edits are lossless: the sender already shows them. Cursor moves and
// invalid frames may be dropped.
func rateClass(msg protocol.Message) ratelimit.Class {
	if msg != nil && msg.Type().Mutates() {
		return ratelimit.Lossless
	}
	return ratelimit.Lossy
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
