package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub keeps the websocket clients grouped by queue and pushes a fresh
// snapshot of a queue to its clients after every change.
type Hub struct {
	reader Reader

	clients    map[uint]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	changes    chan queue.Change
	done       chan struct{}
}

// Client is one websocket connection watching one queue.
type Client struct {
	ID      string
	QueueID uint
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
}

func NewHub(reader Reader) *Hub {
	return &Hub{
		reader:     reader,
		clients:    make(map[uint]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		changes:    make(chan queue.Change, 256),
		done:       make(chan struct{}),
	}
}

// Publish hands a change to the hub without blocking. Changes that do not
// fit are dropped; the next change of the queue carries a full snapshot.
func (h *Hub) Publish(c queue.Change) {
	select {
	case h.changes <- c:
	default:
		log.Printf("[http] hub busy, dropped %s of queue %d", c.Kind, c.Queue.ID)
	}
}

// Run processes registrations and changes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, cs := range h.clients {
				for c := range cs {
					close(c.send)
				}
			}
			h.clients = map[uint]map[*Client]struct{}{}
			return
		case c := <-h.register:
			if h.clients[c.QueueID] == nil {
				h.clients[c.QueueID] = make(map[*Client]struct{})
			}
			h.clients[c.QueueID][c] = struct{}{}
			h.push(ctx, c.QueueID)
		case c := <-h.unregister:
			h.remove(c)
		case ch := <-h.changes:
			if _, ok := h.clients[ch.Queue.ID]; !ok {
				continue
			}
			if ch.Kind == queue.ChangeDeleted {
				h.broadcast(ch.Queue.ID, event{Type: "deleted"})
				continue
			}
			h.push(ctx, ch.Queue.ID)
		}
	}
}

func (h *Hub) push(ctx context.Context, queueID uint) {
	st, err := h.reader.Status(ctx, queueID)
	if err != nil {
		log.Printf("[http] snapshot of queue %d: %v", queueID, err)
		return
	}
	v := statusView(st, h.reader.Pending)
	h.broadcast(queueID, event{Type: "snapshot", Queue: &v})
}

func (h *Hub) broadcast(queueID uint, ev event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[http] marshal: %v", err)
		return
	}
	for c := range h.clients[queueID] {
		select {
		case c.send <- msg:
		default:
			// slow reader
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *Client) {
	cs, ok := h.clients[c.QueueID]
	if !ok {
		return
	}
	if _, ok := cs[c]; !ok {
		return
	}
	delete(cs, c)
	close(c.send)
	if len(cs) == 0 {
		delete(h.clients, c.QueueID)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serve upgrades the request and runs the client until it disconnects.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, queueID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[http] upgrade: %v", err)
		return
	}
	c := &Client{
		ID:      uuid.NewString(),
		QueueID: queueID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 16),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	log.Printf("[http] client %s watching queue %d", c.ID, queueID)
	go c.writePump()
	c.readPump()
}

// readPump only watches for the connection to go away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
