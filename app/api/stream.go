package api

import (
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zp-hackthon/tickethunter/app/telemetry"
)

// Stream is the long-lived push channel for one connected client. Frames
// are either a JSON event or a heartbeat comment emitted after 30 seconds
// of silence to keep the connection alive.
func (h *Handler) Stream(c *gin.Context) {
	subscriberID, events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(subscriberID)

	telemetry.StreamClients.Inc()
	defer telemetry.StreamClients.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	slog.Debug("Stream client connected", "subscriber", subscriberID, "client", c.ClientIP())

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", event)
			return true
		case <-time.After(h.heartbeat):
			c.Writer.WriteString(": heartbeat\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	slog.Debug("Stream client disconnected", "subscriber", subscriberID)
}
