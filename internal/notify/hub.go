package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/parkspot/tracker/pkg/core"
	"github.com/parkspot/tracker/pkg/streaming"
)

const (
	sendChSize = 256
	cmdChSize  = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// HelloFunc builds the greeting sent to a client right after it connects.
type HelloFunc func() streaming.HelloPayload

// CommandFunc runs a command sent by a client and returns its result.
type CommandFunc func(ctx context.Context, command string, args json.RawMessage) (any, error)

// Hub streams notices and lifecycle events to connected UI clients and
// accepts commands from them.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
	upgrader ws.Upgrader
	hello    HelloFunc
	commands CommandFunc
	logger   *slog.Logger
}

// client is one websocket with a single write goroutine and a single
// command goroutine, so commands from one client run in order.
type client struct {
	conn   *ws.Conn
	sendCh chan []byte
	cmdCh  chan streaming.CommandPayload
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func NewHub(hello HelloFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hello:  hello,
		logger: logger,
	}
}

// SetCommandHandler routes client commands to fn. Without one, commands
// are answered with an error.
func (h *Hub) SetCommandHandler(fn CommandFunc) {
	h.mu.Lock()
	h.commands = fn
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	c := &client{
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		cmdCh:  make(chan streaming.CommandPayload, cmdChSize),
		done:   make(chan struct{}),
		logger: h.logger,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.hello != nil {
		if data, err := marshal(streaming.NewEnvelope(streaming.TypeHello, h.hello())); err == nil {
			c.send(data)
		} else {
			h.logger.Error("Failed to build hello", "error", err)
		}
	}

	go c.writeLoop()
	go h.commandLoop(c)
	go h.readLoop(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify broadcasts a notice.
func (h *Hub) Notify(_ context.Context, n core.Notice) {
	data, err := marshal(streaming.NoticeEnvelope(n))
	if err != nil {
		h.logger.Error("Failed to encode notice", "key", n.Key, "error", err)
		return
	}
	h.broadcast(data)
}

// PublishEvent broadcasts a lifecycle event.
func (h *Hub) PublishEvent(_ context.Context, e core.Event) error {
	data, err := marshal(streaming.EventEnvelope(e))
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.send(data)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	return nil
}

func marshal(env streaming.Envelope, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// readLoop queues command messages for commandLoop and ignores anything
// else. It also notices disconnects and keeps the read deadline fresh.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				h.logger.Debug("WebSocket client read error", "error", err)
			}
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != streaming.TypeCommand {
			continue
		}
		var cmd streaming.CommandPayload
		if err := json.Unmarshal(env.Payload, &cmd); err != nil || cmd.Command == "" {
			h.reply(c, streaming.ResultPayload{ID: cmd.ID, Error: "invalid command"})
			continue
		}
		select {
		case c.cmdCh <- cmd:
		default:
			h.reply(c, streaming.ResultPayload{ID: cmd.ID, Command: cmd.Command, Error: "too many pending commands"})
		}
	}
}

func (h *Hub) commandLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.cmdCh:
			h.mu.Lock()
			run := h.commands
			h.mu.Unlock()

			res := streaming.ResultPayload{ID: cmd.ID, Command: cmd.Command}
			if run == nil {
				res.Error = "commands are not accepted"
			} else if out, err := run(context.Background(), cmd.Command, cmd.Args); err != nil {
				res.Error = err.Error()
			} else {
				res.Result = out
			}
			h.reply(c, res)
		}
	}
}

func (h *Hub) reply(c *client, res streaming.ResultPayload) {
	data, err := marshal(streaming.NewEnvelope(streaming.TypeResult, res))
	if err != nil {
		h.logger.Error("Failed to encode command result", "command", res.Command, "error", err)
		return
	}
	c.send(data)
}

// send queues data for the write loop. Non-blocking; drops if the client
// is too slow.
func (c *client) send(data []byte) {
	select {
	case <-c.done:
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
	})
}
