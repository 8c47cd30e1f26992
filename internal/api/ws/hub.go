package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/observability"
	"github.com/your-org/storelens/pkg/dto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	cameraID int // 0 means all cameras
}

type message struct {
	cameraID int
	data     []byte
}

// Hub fans visit events out to connected dashboards.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	log        *zap.Logger

	mu sync.RWMutex
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run starts the hub event loop until done is closed. Call this in a
// goroutine.
func (h *Hub) Run(done <-chan struct{}) {
	defer close(h.stopped)
	for {
		select {
		case <-done:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			h.log.Debug("ws client connected", zap.Int("camera_filter", client.cameraID))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			h.mu.Unlock()
			h.log.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.cameraID != 0 && client.cameraID != msg.cameraID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow consumer
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	observability.WSConnections.Dec()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastVisit sends a visit_recorded event to interested clients. It
// never blocks; events are dropped when the hub is backed up.
func (h *Hub) BroadcastVisit(v models.VisitRecord) {
	data, err := json.Marshal(dto.WSEvent{
		Type:     dto.EventVisitRecorded,
		CameraID: v.CameraID,
		Data:     dto.NewVisitResponse(v),
	})
	if err != nil {
		h.log.Error("marshal ws event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- message{cameraID: v.CameraID, data: data}:
	default:
		h.log.Warn("ws broadcast queue full, dropping event", zap.Int64("visit_id", v.ID))
	}
}

// HandleWS handles WebSocket upgrade requests. ?camera_id= limits the feed
// to one camera.
func (h *Hub) HandleWS(c *gin.Context) {
	var cameraID int
	if s := c.Query("camera_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid camera_id"})
			return
		}
		cameraID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		cameraID: cameraID,
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
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

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopped:
		}
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Incoming messages are ignored; reading detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
