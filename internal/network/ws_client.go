// Package network provides the client side of the playback event stream.
package network

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"skyplay/internal/protocol"
)

// WSClient follows a skyplay server's event stream and reconnects when dropped
type WSClient struct {
	hostAddr string
	token    string
	send     chan protocol.Message
	done     chan struct{}
	once     sync.Once

	// RetryDelay is the pause between reconnection attempts
	RetryDelay time.Duration

	// Callbacks
	OnState    func(protocol.StatePayload)
	OnProgress func(percent int)
	OnTouch    func(kind protocol.MessageType, touch protocol.TouchPayload)
	OnFinished func(protocol.FinishedPayload)

	mu          sync.Mutex
	isConnected bool
	log         *logrus.Entry
}

// NewWSClient creates a client for the server at hostAddr ("host:port")
func NewWSClient(hostAddr, token string) *WSClient {
	return &WSClient{
		hostAddr:   hostAddr,
		token:      token,
		send:       make(chan protocol.Message, 100),
		done:       make(chan struct{}),
		RetryDelay: 5 * time.Second,
		log:        logrus.WithField("component", "ws"),
	}
}

// Start begins the client loop (connect & process)
func (c *WSClient) Start() {
	go c.loop()
}

func (c *WSClient) loop() {
	for {
		c.connect()

		// If connect returns, it means we disconnected. Wait a bit and retry.
		select {
		case <-c.done:
			return
		case <-time.After(c.RetryDelay):
			c.log.Debug("WS Client: Attempting reconnection...")
		}
	}
}

func (c *WSClient) connect() {
	u := url.URL{Scheme: "ws", Host: c.hostAddr, Path: "/ws"}
	c.log.Debugf("WS Client: Connecting to %s", u.String())

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		c.log.Warnf("WS Client: Connection failed: %v", err)
		return
	}
	defer conn.Close()

	c.setConnected(true)
	defer c.setConnected(false)
	c.log.Infof("WS Client: Connected to %s", c.hostAddr)

	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		c.writePump(conn)
	}()

	c.readPump(conn)

	// unblock the write pump if it is still running
	conn.Close()
	<-connDone
}

func (c *WSClient) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(64 << 10)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnf("WS Client: Read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("WS Client: Invalid message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second) // Ping ticker
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			jsonMsg, err := json.Marshal(msg)
			if err != nil {
				c.log.Errorf("WS Client: Marshal error: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, jsonMsg); err != nil {
				c.log.Warnf("WS Client: Write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WSClient) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeState:
		var payload protocol.StatePayload
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			c.log.Warnf("WS Client: Invalid state payload: %v", err)
			return
		}
		if c.OnState != nil {
			c.OnState(payload)
		}

	case protocol.TypeProgress:
		var payload protocol.ProgressPayload
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			c.log.Warnf("WS Client: Invalid progress payload: %v", err)
			return
		}
		if c.OnProgress != nil {
			c.OnProgress(payload.Percent)
		}

	case protocol.TypePress, protocol.TypeRelease, protocol.TypeSkipped:
		var payload protocol.TouchPayload
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			c.log.Warnf("WS Client: Invalid touch payload: %v", err)
			return
		}
		if c.OnTouch != nil {
			c.OnTouch(msg.Type, payload)
		}

	case protocol.TypeFinished:
		var payload protocol.FinishedPayload
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			c.log.Warnf("WS Client: Invalid finished payload: %v", err)
			return
		}
		c.log.Infof("WS Client: Playback %s", payload.Outcome)
		if c.OnFinished != nil {
			c.OnFinished(payload)
		}
	}
}

// SendStop asks the server to stop playback
func (c *WSClient) SendStop() {
	c.enqueue(protocol.Message{Type: protocol.TypeStop})
}

// SendStatusRequest asks the server for a state message
func (c *WSClient) SendStatusRequest() {
	c.enqueue(protocol.Message{Type: protocol.TypeStatusRequest})
}

func (c *WSClient) enqueue(msg protocol.Message) {
	select {
	case c.send <- msg:
	default:
		c.log.Warnf("WS Client: Send queue full, dropping %s", msg.Type)
	}
}

func (c *WSClient) setConnected(v bool) {
	c.mu.Lock()
	c.isConnected = v
	c.mu.Unlock()
}

// IsConnected returns true if client is connected to the server
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// Close stops the client
func (c *WSClient) Close() {
	c.once.Do(func() { close(c.done) })
}
