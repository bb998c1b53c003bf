package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHandlers upgrades dashboard connections and feeds them stats snapshots
type StreamHandlers struct {
	broadcaster *messaging.StatsBroadcaster
	upgrader    websocket.Upgrader
	logger      *logging.ChanneledLogger
}

// NewStreamHandlers creates stream handlers. Origins are checked against
// allowedOrigins; an empty list accepts any origin.
func NewStreamHandlers(broadcaster *messaging.StatsBroadcaster, allowedOrigins []string, logger *logging.ChanneledLogger) *StreamHandlers {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &StreamHandlers{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
		logger: logging.OrNop(logger),
	}
}

// Stats handles GET /api/v1/stats/ws
func (h *StreamHandlers) Stats(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.HTTP().Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	client := messaging.NewStatsClient(conn)
	if !h.broadcaster.Register(client) {
		conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards client messages and unregisters on disconnect.
func (h *StreamHandlers) readPump(client *messaging.StatsClient) {
	defer h.broadcaster.Unregister(client)

	client.Conn.SetReadLimit(512)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandlers) writePump(client *messaging.StatsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
