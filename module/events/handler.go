// Package events lets route handlers outside this process publish entity
// events after they commit.
package events

import (
	"net/http"
	"strings"

	mid "PPresence/middleware"
	midsec "PPresence/middleware/security"
	"PPresence/service/apiclient"
	"PPresence/service/broadcast"
	"PPresence/service/topics"
	"PPresence/tools/errs"
	jwtsec "PPresence/tools/security"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Broadcast *broadcast.Publisher
}

func (h *Handler) Register(rt mid.Routes) {
	rt.POST("/api/events", h.Publish, mid.RouteOpt{IsAuth: true})
}

// writable reports whether an external service may publish event on topic.
// Presence and status carry the sender's own identity and only move through
// their dedicated routes; user topics only take notifications.
func writable(topic, event string) bool {
	switch {
	case topic == topics.StatusUpdates, strings.HasPrefix(topic, "presence:"):
		return false
	case strings.HasPrefix(topic, "user:"):
		return event == topics.EventNotification
	}
	return true
}

// Publish POST /api/events {topic, event, data}
// 需要 events:publish scope，普通用户令牌 403
func (h *Handler) Publish(c *gin.Context) {
	if cl, ok := midsec.Claims(c); !ok || !cl.HasScope(jwtsec.ScopePublishEvents) {
		c.JSON(http.StatusForbidden, errs.ErrForbidden.WithDetail("events:publish scope required"))
		return
	}
	var req apiclient.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	if req.Event == "" {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("event required"))
		return
	}
	if err := topics.Validate(req.Topic); err != nil || !topics.Known(req.Topic) {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("unknown topic"))
		return
	}
	if !writable(req.Topic, req.Event) {
		c.JSON(http.StatusForbidden, errs.ErrForbidden.WithDetail("topic not writable here"))
		return
	}
	if err := h.Broadcast.Publish(c.Request.Context(), req.Topic, req.Event, req.Data); err != nil {
		c.JSON(http.StatusBadGateway, errs.ErrInternal.WithDetail("publish failed"))
		return
	}
	c.Status(http.StatusAccepted)
}
