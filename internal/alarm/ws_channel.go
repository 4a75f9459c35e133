package alarm

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketChannel runs an embedded WebSocket server; every connected
// client receives a welcome message, then every dispatched alarm.
type WebSocketChannel struct {
	log *obslog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	wg      sync.WaitGroup
}

// NewWebSocketChannel returns a channel with no connected clients yet.
func NewWebSocketChannel() *WebSocketChannel {
	return &WebSocketChannel{
		log:     obslog.New("alarm"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (c *WebSocketChannel) Method() model.AlarmMethod { return model.AlarmMethodWebSocket }

// ServeWS upgrades the connection and registers it as a broadcast target,
// sending the spec.md §6 welcome message on connect.
func (c *WebSocketChannel) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warnf("ws upgrade failed: %v", err)
		return
	}

	welcome, _ := json.Marshal(map[string]string{
		"type":      "welcome",
		"message":   "connected to aibox alarm channel",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		conn.Close()
		return
	}

	c.mu.Lock()
	c.clients[conn] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readUntilClose(conn)
}

// readUntilClose drains client reads (clients don't send anything
// meaningful) until the connection closes, so the channel notices
// disconnects and unregisters the client.
func (c *WebSocketChannel) readUntilClose(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		delete(c.clients, conn)
		c.mu.Unlock()
		conn.Close()
		c.wg.Done()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Send broadcasts payload to every connected client. Per spec.md §9's Open
// Question resolution, zero clients still counts as delivered success.
func (c *WebSocketChannel) Send(ctx context.Context, cfg model.AlarmConfig, payload model.AlarmPayload) error {
	body, err := json.Marshal(ToWire(payload))
	if err != nil {
		return err
	}

	c.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(c.clients))
	for conn := range c.clients {
		targets = append(targets, conn)
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}

	atLeastOne := false
	for _, conn := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, body); err == nil {
			atLeastOne = true
		} else {
			c.mu.Lock()
			delete(c.clients, conn)
			c.mu.Unlock()
			conn.Close()
		}
	}
	if !atLeastOne {
		return errAllClientsFailed
	}
	return nil
}

var errAllClientsFailed = websocketSendError("all clients failed to receive the broadcast")

type websocketSendError string

func (e websocketSendError) Error() string { return string(e) }

// ClientCount reports the current connected client count. It is not part of
// the TaskManager /status output, and the MQTT channel reports no subscriber
// count at all.
func (c *WebSocketChannel) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Close force-closes every connected client, which unblocks each
// readUntilClose goroutine, then waits for all of them to exit.
func (c *WebSocketChannel) Close() {
	c.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(c.clients))
	for conn := range c.clients {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	c.wg.Wait()
}
