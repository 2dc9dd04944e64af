package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"crashloop/internal/metrics"
)

const (
	writeWait       = 10 * time.Second
	broadcastBuffer = 256
	requestBuffer   = 16
)

// Conn is the subset of a websocket connection the hub needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// RequestHandler answers the requests a client sends over its socket.
type RequestHandler interface {
	PlaceStake(ctx context.Context, participantID string, req StakeRequest) StakeResponse
	CashOut(ctx context.Context, participantID string, req CashOutRequest) CashOutResponse
	Snapshot() RoundView
}

// Client is one connected observer. Every write to the socket goes through
// send, drained by a single writer goroutine.
type Client struct {
	conn          Conn
	participantID string
	send          chan []byte
	mu            sync.Mutex
	closed        bool
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	queueSize  int
	log        *zap.Logger
	metrics    *metrics.Metrics
}

func NewHub(queueSize int, log *zap.Logger, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		queueSize:  queueSize,
		log:        log.Named("ws"),
		metrics:    m,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
				h.metrics.ClientDisconnected()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.ClientConnected()
			h.log.Info("client connected", zap.String("participant_id", client.participantID), zap.Int("total", total))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.log.Error("marshal broadcast", zap.Error(err))
				continue
			}

			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if !client.enqueue(data) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				h.log.Warn("client queue full, disconnecting", zap.String("participant_id", client.participantID))
				h.remove(client)
			}
		}
	}
}

// Broadcast never blocks; when the hub is backed up the message is dropped.
func (h *Hub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		h.metrics.BroadcastDropped()
		h.log.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeClient registers conn and serves its requests until the connection
// fails or the hub stops. Requests are handled one at a time, in order. It
// returns only after the writer has finished.
func (h *Hub) ServeClient(conn Conn, participantID string, handler RequestHandler) {
	client := &Client{
		conn:          conn,
		participantID: participantID,
		send:          make(chan []byte, h.queueSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// ctx lives as long as the connection; requests in flight are cancelled
	// once the socket stops reading or writing.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writePump(client)
	}()

	h.sendTo(client, WSMessage{Type: EventInitialState, Data: handler.Snapshot()})

	requests := make(chan []byte, requestBuffer)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for raw := range requests {
			if ctx.Err() != nil {
				continue
			}
			if reply := h.handle(ctx, raw, participantID, handler); reply != nil {
				h.sendTo(client, reply)
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		select {
		case requests <- raw:
		default:
			h.sendTo(client, WSMessage{Type: EventError, Data: map[string]string{"message": "too many requests in flight"}})
		}
	}

	cancel()
	close(requests)
	<-workerDone
	h.unregisterClient(client)
	<-writerDone
}

func (h *Hub) handle(ctx context.Context, raw []byte, participantID string, handler RequestHandler) interface{} {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return WSMessage{Type: EventError, Data: map[string]string{"message": "invalid message"}}
	}

	switch msg.Type {
	case "place_stake":
		resp := handler.PlaceStake(ctx, participantID, StakeRequest{RoundID: msg.RoundID, Amount: msg.Amount})
		return WSMessage{Type: EventStakeResult, Data: resp}
	case "cash_out":
		resp := handler.CashOut(ctx, participantID, CashOutRequest{RoundID: msg.RoundID})
		return WSMessage{Type: EventCashOutResult, Data: resp}
	case "ping":
		return WSMessage{Type: EventPong}
	default:
		return WSMessage{Type: EventError, Data: map[string]string{"message": "unknown message type: " + msg.Type}}
	}
}

func (h *Hub) sendTo(client *Client, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("marshal reply", zap.Error(err))
		return
	}
	if !client.enqueue(data) {
		h.unregisterClient(client)
	}
}

func (h *Hub) writePump(client *Client) {
	defer client.conn.Close()
	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("write failed", zap.String("participant_id", client.participantID), zap.Error(err))
			h.unregisterClient(client)
			return
		}
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	client.close()
	if ok {
		h.metrics.ClientDisconnected()
		h.log.Info("client disconnected", zap.String("participant_id", client.participantID), zap.Int("total", total))
	}
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
