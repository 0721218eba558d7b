package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muk365/whiteboard/internal/canvas"
	"github.com/muk365/whiteboard/internal/protocol"
	"github.com/muk365/whiteboard/internal/reconciler"
)

const writeWait = 10 * time.Second

type Options struct {
	// Called after each server frame is applied to the view
	OnMessage func(protocol.Message)
	Logger    *slog.Logger
	Dialer    *websocket.Dialer
}

// A participant connected to a room. Incoming frames are applied to View
// by Run; the edit helpers apply locally first and then send.
type Client struct {
	conn *websocket.Conn
	view *reconciler.View
	opts Options
	log  *slog.Logger

	writeMu sync.Mutex
}

// Opens a session in room as name. baseURL is the server root, such as
// ws://localhost:8080 or http://localhost:8080.
func Dial(ctx context.Context, baseURL, room, name string, opts Options) (*Client, error) {
	target, err := sessionURL(baseURL, room, name)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	return &Client{
		conn: conn,
		view: reconciler.New(),
		opts: opts,
		log:  logger.With("room", room, "display_name", name),
	}, nil
}

func sessionURL(baseURL, room, name string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if room == "" || name == "" {
		return "", errors.New("room and display name are required")
	}
	base := strings.TrimSuffix(u.EscapedPath(), "/")
	u.RawPath = base + "/ws/" + url.PathEscape(room) + "/" + url.PathEscape(name)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + room + "/" + name
	return u.String(), nil
}

func (c *Client) View() *reconciler.View {
	return c.view
}

// Reads frames until the connection closes or ctx is done. Frames the view
// rejects are logged and skipped.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		msg, err := c.view.Apply(frame)
		if err != nil {
			c.log.Warn("ignoring server frame", "error", err)
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

func (c *Client) send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Sends a frame as is, bypassing the view
func (c *Client) SendRaw(frame []byte) error {
	return c.send(frame)
}

// Creates an object, assigning an id if the payload has none
func (c *Client) Draw(payload json.RawMessage) (canvas.Object, error) {
	obj, frame, err := c.view.Create(payload)
	if err != nil {
		return canvas.Object{}, err
	}
	return obj, c.send(frame)
}

func (c *Client) Modify(obj canvas.Object) error {
	frame, err := c.view.Modify(obj)
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) Remove(id string) error {
	frame, err := c.view.Remove(id)
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) Clear() error {
	frame, err := c.view.Clear()
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) MoveCursor(x, y float64) error {
	frame, err := c.view.MoveCursor(x, y)
	if err != nil {
		return err
	}
	return c.send(frame)
}

// Sends a close frame and closes the connection
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}
