package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaycargo/relay/backend/internal/notify"
	"go.uber.org/zap"
)

const (
	realtimeEventBadge     = "badge"
	realtimeEventHeartbeat = "heartbeat"
	heartbeatInterval      = 25 * time.Second
)

// handleEvents streams badge updates over SSE. Each connection owns a
// dedicated aggregator that lives for the duration of the stream; heartbeats
// keep intermediaries from closing an idle connection.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	aggregator, err := notify.NewAggregator(notify.AggregatorConfig{
		UserID:      userID,
		Requests:    h.requests,
		RequestFeed: h.feed,
		Partners:    h.partners,
		Messages:    h.chatLog,
		Logger:      h.logger,
	})
	if err != nil {
		h.logger.Error("failed to build aggregator", zap.Error(err), zap.String("user_id", userID))
		c.Status(http.StatusInternalServerError)
		return
	}
	if err := aggregator.Start(c.Request.Context()); err != nil {
		h.logger.Error("failed to start aggregator", zap.Error(err), zap.String("user_id", userID))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer aggregator.Close()

	badges, stop := aggregator.Subscribe(c.Request.Context())
	defer stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case badge, ok := <-badges:
			if !ok {
				return false
			}
			c.SSEvent(realtimeEventBadge, badge)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"at_s": time.Now().Unix()})
			return true
		}
	})
}
