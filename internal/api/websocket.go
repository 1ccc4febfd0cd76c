package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"skyplay/internal/notes"
	"skyplay/internal/player"
	"skyplay/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins as this is a local network tool
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager handles WebSocket connections and broadcasting
type WSManager struct {
	server     *Server
	clients    map[*WebSocketClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	shutdown   chan struct{}
	closeOnce  sync.Once
	log        *logrus.Entry
}

// WebSocketClient represents a connected observer
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager(s *Server) *WSManager {
	return &WSManager{
		server:     s,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		shutdown:   make(chan struct{}),
		log:        logrus.WithField("component", "ws"),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			n := len(m.clients)
			m.clientsMu.Unlock()
			m.log.Infof("WS: New client registered from %s. Total clients: %d", client.ip, n)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				m.log.Infof("WS: Client unregistered from %s. Total clients: %d", client.ip, len(m.clients))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			m.clientsMu.Lock()
			for client := range m.clients {
				close(client.send)
				delete(m.clients, client)
			}
			m.clientsMu.Unlock()
			return
		}
	}
}

func (m *WSManager) close() {
	m.closeOnce.Do(func() { close(m.shutdown) })
}

// ClientCount returns the number of registered clients
func (m *WSManager) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		m.log.Errorf("WS: Failed to marshal broadcast message: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			m.log.Warnf("WS: Client %s is not keeping up, dropping it", client.ip)
			close(client.send)
			delete(m.clients, client)
		}
	}
}

// finalWait bounds how long finished and state messages wait for queue space
const finalWait = 2 * time.Second

// Broadcast queues msg for every client. Touch and progress messages are
// dropped when the queue is full; finished and state messages wait up to
// finalWait for the hub to catch up.
func (m *WSManager) Broadcast(msg protocol.Message) {
	select {
	case m.broadcast <- msg:
		return
	case <-m.shutdown:
		return
	default:
	}

	if msg.Type == protocol.TypeFinished || msg.Type == protocol.TypeState {
		t := time.NewTimer(finalWait)
		defer t.Stop()
		select {
		case m.broadcast <- msg:
			return
		case <-m.shutdown:
			return
		case <-t.C:
		}
	}
	m.log.Warnf("WS: Broadcast queue full, dropping %s message", msg.Type)
}

// relay turns scheduler events into protocol messages
func (m *WSManager) relay(ev player.Event) {
	ts := ev.At.UnixMilli()

	switch ev.Kind {
	case player.EventStarted, player.EventState:
		m.Broadcast(m.stateMessage())

	case player.EventPress, player.EventRelease, player.EventSkipped:
		typ := protocol.TypePress
		if ev.Kind == player.EventRelease {
			typ = protocol.TypeRelease
		} else if ev.Kind == player.EventSkipped {
			typ = protocol.TypeSkipped
		}
		m.Broadcast(protocol.Message{
			Type: typ,
			Payload: protocol.TouchPayload{
				Note:      ev.Note,
				Name:      notes.NoteToName(ev.Note),
				X:         ev.X,
				Y:         ev.Y,
				Timestamp: ts,
			},
		})

	case player.EventProgress:
		m.Broadcast(protocol.Message{
			Type:    protocol.TypeProgress,
			Payload: protocol.ProgressPayload{Percent: ev.Percent},
		})

	case player.EventFinished:
		payload := protocol.FinishedPayload{Progress: ev.Percent}
		if res := ev.Result; res != nil {
			payload.Outcome = res.Outcome.String()
			payload.Error = res.Reason()
			payload.Played = res.Played
			payload.Skipped = res.Skipped
		}
		m.Broadcast(protocol.Message{Type: protocol.TypeFinished, Payload: payload})
		m.Broadcast(m.stateMessage())
	}
}

func (m *WSManager) stateMessage() protocol.Message {
	snap := m.server.player.Snapshot()
	return protocol.Message{
		Type: protocol.TypeState,
		Payload: protocol.StatePayload{
			State:       snap.State.String(),
			Cursor:      snap.Cursor,
			Total:       snap.Total,
			Progress:    snap.Progress,
			Pressed:     snap.Pressed,
			Calibration: m.server.store.Progress(),
		},
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warnf("WS: Failed to upgrade connection: %v", err)
		return
	}

	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	// Queue the current state before registering so it is the first message
	client.queue(m.stateMessage())

	select {
	case m.register <- client:
	case <-m.shutdown:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WebSocketClient) queue(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	defer func() {
		// send may have been closed by the hub after a disconnect
		recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.log.Warnf("WS: Read error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.manager.log.Warnf("WS: Invalid message format: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeStop:
		c.manager.log.Infof("WS: Stop requested by %s", c.ip)
		// Stop waits for an in-flight touch; keep the read pump responsive
		go c.manager.server.player.Stop()

	case protocol.TypeStatusRequest:
		c.queue(c.manager.stateMessage())

	case protocol.TypePing:
		c.queue(protocol.Message{Type: protocol.TypePing})

	default:
		c.manager.log.Debugf("WS: Ignoring %q message from %s", msg.Type, c.ip)
	}
}
