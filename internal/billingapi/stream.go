package billingapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mbd888/zecmeter/internal/metrics"
)

// streamInterval is how often a session-stream client receives a fresh snapshot.
const streamInterval = 2 * time.Second

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// sessionEvent is pushed to subscribers of GET /sessions/:code/stream.
type sessionEvent struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	TotalBilled    string    `json:"total_amount_billed"`
	LastBilledTime time.Time `json:"last_billed_time"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}

// StreamSession handles GET /sessions/:code/stream, upgrading to a WebSocket
// that pushes a session snapshot every streamInterval until the session
// reaches a terminal state or the client disconnects.
func (h *Handler) StreamSession(c *gin.Context) {
	code := c.Param("code")

	s, err := h.sessions.Store().GetSessionByCode(c.Request.Context(), code)
	if err != nil {
		status, apiCode := sessionErrorStatus(err)
		c.JSON(status, gin.H{"error": apiCode, "message": err.Error()})
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	metrics.ActiveWebSocketClients.Inc()
	defer metrics.ActiveWebSocketClients.Dec()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			// This endpoint is push-only; reading only to notice the client
			// closing the connection.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := h.sessions.Store().GetSession(ctx, s.ID)
			if err != nil {
				return
			}
			ev := sessionEvent{
				SessionID:      current.ID,
				Status:         string(current.Status),
				TotalBilled:    current.TotalAmountBilled.String(),
				LastBilledTime: current.LastBilledTime,
				ElapsedSeconds: int64(time.Since(current.StartTime).Seconds()),
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			if current.Status.IsTerminal() {
				return
			}
		}
	}
}
