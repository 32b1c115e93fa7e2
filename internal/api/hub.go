package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/middleware"
	"github.com/gel2mdt-server/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API sits behind the authenticating proxy, which enforces origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// progressClient is one websocket listener. An empty sampleType receives every run.
type progressClient struct {
	id         string
	sampleType domain.SampleType
	send       chan []byte
}

// Hub fans ingestion progress out to websocket listeners. It implements
// service.ProgressReporter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*progressClient]struct{}
	logger  *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[*progressClient]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Report broadcasts an event without blocking; slow listeners miss events
func (h *Hub) Report(event service.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to marshal progress event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.sampleType != "" && c.sampleType != event.SampleType {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected listeners
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams progress until the client goes away.
// ?sample_type= restricts the feed to one programme.
func (h *Hub) ServeWS(c *gin.Context) {
	var filter domain.SampleType
	if raw := c.Query("sample_type"); raw != "" {
		st, err := domain.ParseSampleType(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, domain.ToAppError(err, c.GetString(middleware.CorrelationIDKey)))
			return
		}
		filter = st
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &progressClient{
		id:         uuid.New().String(),
		sampleType: filter,
		send:       make(chan []byte, clientSendSize),
	}
	h.register(client)
	h.logger.WithFields(logrus.Fields{"client_id": client.id, "sample_type": filter}).Debug("Progress listener connected")

	go h.writePump(client, ws)
	h.readPump(client, ws)
}

// readPump only watches for the close; listeners send nothing we act on
func (h *Hub) readPump(client *progressClient, ws *websocket.Conn) {
	defer func() {
		h.unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *progressClient, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
